// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type CachedSession struct {
	ClientID       string
	ExpirationDate time.Time
}

type SessionCacheConfig struct {
	ExpirationMinutes int `toml:"expiration_minutes"`
}

func (c SessionCacheConfig) IsValid() error {
	if c.ExpirationMinutes <= 0 {
		return errors.New("invalid ExpirationMinutes value: should be a positive number")
	}
	return nil
}

func (c *SessionCacheConfig) SetDefaults() {
	if c.ExpirationMinutes == 0 {
		c.ExpirationMinutes = 1440
	}
}

// SessionCache maps bearer tokens to client ids. Expired sessions are
// evicted by the underlying cache.
type SessionCache struct {
	sessions *ttlcache.Cache[string, string]
	// clientID -> token, so that a client holds at most one token.
	tokens map[string]string
	mut    sync.Mutex
}

func NewSessionCache(cfg SessionCacheConfig) (*SessionCache, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	return newSessionCache(time.Duration(cfg.ExpirationMinutes) * time.Minute), nil
}

func newSessionCache(ttl time.Duration) *SessionCache {
	sessions := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go sessions.Start()

	return &SessionCache{
		sessions: sessions,
		tokens:   make(map[string]string),
	}
}

func (t *SessionCache) Get(token string) (CachedSession, error) {
	item := t.sessions.Get(token)
	if item == nil {
		return CachedSession{}, errors.New("token is invalid")
	}
	if time.Now().After(item.ExpiresAt()) {
		return CachedSession{}, errors.New("session is expired")
	}
	return CachedSession{
		ClientID:       item.Value(),
		ExpirationDate: item.ExpiresAt(),
	}, nil
}

func (t *SessionCache) Put(clientID, token string) error {
	if len(clientID) == 0 {
		return errors.New("can not cache: invalid client id")
	}
	if len(token) == 0 {
		return errors.New("can not cache: invalid token")
	}

	t.mut.Lock()
	defer t.mut.Unlock()

	if t.sessions.Has(token) {
		return errors.New("can not cache: token in use")
	}

	t.delete(clientID)
	t.sessions.Set(token, clientID, ttlcache.DefaultTTL)
	t.tokens[clientID] = token
	return nil
}

func (t *SessionCache) Delete(clientID string) {
	t.mut.Lock()
	t.delete(clientID)
	t.mut.Unlock()
}

func (t *SessionCache) delete(clientID string) {
	if token, ok := t.tokens[clientID]; ok {
		t.sessions.Delete(token)
		delete(t.tokens, clientID)
	}
}

// Len returns the number of live sessions.
func (t *SessionCache) Len() int {
	return t.sessions.Len()
}

// Close stops the expiration loop.
func (t *SessionCache) Close() {
	t.sessions.Stop()
}
