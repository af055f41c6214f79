// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAnonymousForbidden  = errors.New("anonymous participation is forbidden")
	ErrTooManyParticipants = errors.New("too many participants")
	ErrInvalidJoinPeer     = errors.New("invalid join peer")
	ErrCallInvalid         = errors.New("call reference is no longer valid")
	ErrChainWriteConflict  = errors.New("conference chain write conflict")
	ErrPeerNotFound        = errors.New("peer not found")
	ErrCanceled            = errors.New("request canceled")
	ErrClosed              = errors.New("context is closed")
	ErrNoChannelPeer       = errors.New("call has no channel peer")
)

// Server error codes.
const (
	CodeAnonymousForbidden      = "GROUPCALL_ANONYMOUS_FORBIDDEN"
	CodeTooManyParticipants     = "GROUPCALL_PARTICIPANTS_TOO_MUCH"
	CodeInvalidJoinPeer         = "JOIN_AS_PEER_INVALID"
	CodeCallInvalid             = "GROUPCALL_INVALID"
	codeChainWriteInvalidPrefix = "CONF_WRITE_CHAIN_INVALID"
)

// APIError is a failure reported by the server with an error code.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %s (%d)", e.Code, e.StatusCode)
}

// Unwrap maps known codes to their sentinel errors so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == CodeAnonymousForbidden:
		return ErrAnonymousForbidden
	case e.Code == CodeTooManyParticipants:
		return ErrTooManyParticipants
	case e.Code == CodeInvalidJoinPeer:
		return ErrInvalidJoinPeer
	case e.Code == CodeCallInvalid:
		return ErrCallInvalid
	case strings.HasPrefix(e.Code, codeChainWriteInvalidPrefix):
		return ErrChainWriteConflict
	default:
		return nil
	}
}
