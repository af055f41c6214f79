// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

type ServerOption func(s *Server) error

// AuthCb is called prior to performing the websocket upgrade. It returns the
// id of the authenticated client. On failure the returned code, if non-zero,
// is written back as the HTTP status.
type AuthCb func(w http.ResponseWriter, r *http.Request) (clientID string, code int, err error)

// WithAuthCb lets the caller set an optional callback to be called prior to
// performing the websocket upgrade.
func WithAuthCb(cb AuthCb) ServerOption {
	return func(s *Server) error {
		if cb == nil {
			return fmt.Errorf("invalid auth callback: should not be nil")
		}
		s.authCb = cb
		return nil
	}
}

type ClientOption func(c *Client) error

// WithDialer sets the dialer used to establish the connection.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) error {
		if d == nil {
			return fmt.Errorf("invalid dialer: should not be nil")
		}
		c.dialer = d
		return nil
	}
}
