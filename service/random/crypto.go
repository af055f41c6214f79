// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package random

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenLen is the length of the strings returned by NewToken.
const TokenLen = 32

// NewSecureString returns a url-safe random string of the given length.
// The resulting entropy is (6 * length) bits.
func NewSecureString(length int) (string, error) {
	if length < 0 {
		return "", fmt.Errorf("invalid length %d", length)
	}
	data := make([]byte, 1+(length*3)/4)
	if _, err := rand.Read(data); err != nil {
		return "", fmt.Errorf("failed to read random data: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data)[:length], nil
}

// NewToken returns a secure bearer token.
func NewToken() (string, error) {
	return NewSecureString(TokenLen)
}
