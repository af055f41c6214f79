// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// authHandler authenticates a request either through a bearer token obtained
// from /login or through basic auth with the client credentials. Admin
// requests authenticate with the admin secret key and get an empty client id.
func (s *Service) authHandler(_ http.ResponseWriter, r *http.Request) (string, int, error) {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		clientID, err := s.auth.ValidateToken(strings.TrimSpace(authHeader[len("bearer "):]))
		if err != nil {
			return "", http.StatusUnauthorized, fmt.Errorf("authentication failed: %w", err)
		}
		return clientID, http.StatusOK, nil
	}

	clientID, authKey, ok := r.BasicAuth()
	if !ok {
		return "", http.StatusUnauthorized, fmt.Errorf("authentication failed: invalid auth header")
	}

	if s.isAdminKey(authKey) {
		return "", http.StatusOK, nil
	}

	if clientID == "" {
		return "", http.StatusUnauthorized, fmt.Errorf("authentication failed: unauthorized")
	}

	if err := s.auth.Authenticate(clientID, authKey); err != nil {
		s.log.Debug("authentication failed", mlog.Err(err), mlog.String("clientID", clientID))
		return "", http.StatusUnauthorized, fmt.Errorf("authentication failed")
	}

	return clientID, http.StatusOK, nil
}

func (s *Service) isAdminKey(key string) bool {
	if !s.cfg.API.Security.EnableAdmin || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.API.Security.AdminSecretKey)) == 1
}

func decodeClientRequest(w http.ResponseWriter, r *http.Request, data *httpData) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyMaxSizeBytes)).Decode(&data.reqData); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return false
	}
	return true
}

func (s *Service) registerClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("registerClient", data, w, r)

	if !s.cfg.API.Security.AllowSelfRegistration {
		clientID, code, err := s.authHandler(w, r)
		if err != nil {
			data.err = err.Error()
			data.code = code
			return
		}
		if clientID != "" {
			data.err = "only admins can register clients"
			data.code = http.StatusForbidden
			return
		}
	}

	if !decodeClientRequest(w, r, data) {
		return
	}

	clientID := data.reqData["clientID"]
	if err := s.auth.Register(clientID, data.reqData["authKey"]); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.code = http.StatusCreated
	data.resData["clientID"] = clientID
}

func (s *Service) unregisterClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("unregisterClient", data, w, r)

	if !s.cfg.API.Security.EnableAdmin && !s.cfg.API.Security.AllowSelfRegistration {
		data.err = "unregistering is not allowed"
		data.code = http.StatusForbidden
		return
	}

	authClientID, code, err := s.authHandler(w, r)
	if err != nil {
		data.err = err.Error()
		data.code = code
		return
	}

	if !decodeClientRequest(w, r, data) {
		return
	}

	clientID := data.reqData["clientID"]
	if clientID == "" {
		data.err = "client id should not be empty"
		data.code = http.StatusBadRequest
		return
	}

	// Clients can only unregister themselves.
	if authClientID != "" && authClientID != clientID {
		data.err = "unauthorized client"
		data.code = http.StatusForbidden
		return
	}

	if err := s.auth.Unregister(clientID); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.code = http.StatusOK
}

func (s *Service) loginClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("loginClient", data, w, r)

	if !decodeClientRequest(w, r, data) {
		return
	}

	token, err := s.auth.Login(data.reqData["clientID"], data.reqData["authKey"])
	if err != nil {
		data.err = err.Error()
		data.code = http.StatusUnauthorized
		return
	}

	data.code = http.StatusOK
	data.resData["bearerToken"] = token
}
