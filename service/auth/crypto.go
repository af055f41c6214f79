// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores anything past this length.
const maxKeyLen = 72

var ErrKeyMismatch = errors.New("key does not match")

// hashCost is lowered in tests.
var hashCost = bcrypt.DefaultCost

func hashKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("invalid empty key")
	}
	if len(key) > maxKeyLen {
		return "", fmt.Errorf("invalid key: should not be longer than %d bytes", maxKeyLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// compareKeyHash returns ErrKeyMismatch if key does not match hash.
func compareKeyHash(hash string, key string) error {
	if hash == "" {
		return fmt.Errorf("invalid empty hash")
	}
	if key == "" {
		return fmt.Errorf("invalid empty key")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrKeyMismatch
	}
	return err
}
