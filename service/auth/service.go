// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"errors"
	"fmt"

	"github.com/mattermost/rosterd/service/random"
	"github.com/mattermost/rosterd/service/store"
)

const (
	MinKeyLen       = 32
	clientKeyPrefix = "client:"
)

// Service manages registered API clients. Clients authenticate with their
// key once and are then handed a bearer token kept in the session cache.
type Service struct {
	store        store.Store
	sessionCache *SessionCache
}

func NewService(store store.Store, sessionCache *SessionCache) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("invalid store")
	}
	if sessionCache == nil {
		return nil, fmt.Errorf("invalid session cache")
	}
	return &Service{
		store:        store,
		sessionCache: sessionCache,
	}, nil
}

func clientKey(id string) string {
	return clientKeyPrefix + id
}

func (s *Service) Authenticate(id, authKey string) error {
	hash, err := s.store.Get(clientKey(id))
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := compareKeyHash(hash, authKey); err != nil {
		return fmt.Errorf("authentication failed")
	}
	return nil
}

// Login authenticates the client and returns a fresh bearer token. Any
// previous token for the same client is invalidated.
func (s *Service) Login(id, authKey string) (string, error) {
	if err := s.Authenticate(id, authKey); err != nil {
		return "", err
	}

	token, err := random.NewToken()
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}

	if err := s.sessionCache.Put(id, token); err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}

	return token, nil
}

// ValidateToken returns the id of the client owning token.
func (s *Service) ValidateToken(token string) (string, error) {
	session, err := s.sessionCache.Get(token)
	if err != nil {
		return "", err
	}
	return session.ClientID, nil
}

func (s *Service) Register(id, authKey string) error {
	if id == "" {
		return fmt.Errorf("registration failed: invalid empty id")
	}
	if len(authKey) < MinKeyLen {
		return fmt.Errorf("registration failed: key not long enough")
	}

	hash, err := hashKey(authKey)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	if err := s.store.Put(clientKey(id), hash); errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("registration failed: already registered")
	} else if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	return nil
}

func (s *Service) Unregister(id string) error {
	if _, err := s.store.Get(clientKey(id)); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	if err := s.store.Delete(clientKey(id)); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	s.sessionCache.Delete(id)

	return nil
}
