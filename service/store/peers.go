// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mattermost/rosterd/service/roster"

	"github.com/jellydator/ttlcache/v3"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	peerKeyPrefix         = "peer:"
	activeCallKeyPrefix   = "active_call:"
	subscriptionKeyPrefix = "scheduled_sub:"
	minPeerCacheTTL       = time.Second
)

// PeerStore persists peers, channel active calls and scheduled call
// subscriptions on top of a Store. Peer reads go through a TTL cache.
type PeerStore struct {
	kv    Store
	cache *ttlcache.Cache[roster.PeerID, roster.Peer]
}

func NewPeerStore(kv Store, cacheTTL time.Duration) (*PeerStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("invalid store: should not be nil")
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[roster.PeerID, roster.Peer](max(cacheTTL, minPeerCacheTTL)),
		ttlcache.WithDisableTouchOnHit[roster.PeerID, roster.Peer](),
	)
	go cache.Start()

	return &PeerStore{
		kv:    kv,
		cache: cache,
	}, nil
}

// Close stops the cache expiration loop. The underlying store is left open.
func (s *PeerStore) Close() {
	s.cache.Stop()
}

func peerKey(id roster.PeerID) string {
	return peerKeyPrefix + id.String()
}

func activeCallKey(id roster.PeerID) string {
	return activeCallKeyPrefix + id.String()
}

func subscriptionKey(callID int64) string {
	return subscriptionKeyPrefix + strconv.FormatInt(callID, 10)
}

// GetPeers returns the known peers among ids. Unknown ids are omitted.
func (s *PeerStore) GetPeers(ctx context.Context, ids []roster.PeerID) (map[roster.PeerID]roster.Peer, error) {
	peers := make(map[roster.PeerID]roster.Peer, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if item := s.cache.Get(id); item != nil {
			peers[id] = item.Value()
			continue
		}

		data, err := s.kv.Get(peerKey(id))
		if errors.Is(err, ErrNotFound) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to get peer %s: %w", id, err)
		}

		var peer roster.Peer
		if err := msgpack.Unmarshal([]byte(data), &peer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal peer %s: %w", id, err)
		}
		s.cache.Set(id, peer, ttlcache.DefaultTTL)
		peers[id] = peer
	}
	return peers, nil
}

func (s *PeerStore) PutPeers(ctx context.Context, peers []roster.Peer) error {
	for _, peer := range peers {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := msgpack.Marshal(&peer)
		if err != nil {
			return fmt.Errorf("failed to marshal peer %s: %w", peer.ID, err)
		}
		if err := s.kv.Set(peerKey(peer.ID), string(data)); err != nil {
			return fmt.Errorf("failed to store peer %s: %w", peer.ID, err)
		}
		s.cache.Set(peer.ID, peer, ttlcache.DefaultTTL)
	}
	return nil
}

// SetActiveCall records the call a channel peer is hosting. A nil ref clears
// it.
func (s *PeerStore) SetActiveCall(_ context.Context, peerID roster.PeerID, ref *roster.CallReference) error {
	if ref == nil {
		if err := s.kv.Delete(activeCallKey(peerID)); err != nil {
			return fmt.Errorf("failed to clear active call: %w", err)
		}
		return nil
	}

	data, err := msgpack.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal call reference: %w", err)
	}
	if err := s.kv.Set(activeCallKey(peerID), string(data)); err != nil {
		return fmt.Errorf("failed to store active call: %w", err)
	}
	return nil
}

// ActiveCall returns the call a channel peer is hosting, or nil.
func (s *PeerStore) ActiveCall(peerID roster.PeerID) (*roster.CallReference, error) {
	data, err := s.kv.Get(activeCallKey(peerID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get active call: %w", err)
	}

	var ref roster.CallReference
	if err := msgpack.Unmarshal([]byte(data), &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call reference: %w", err)
	}
	return &ref, nil
}

func (s *PeerStore) SetScheduledSubscription(_ context.Context, callID int64, subscribed bool) error {
	if err := s.kv.Set(subscriptionKey(callID), strconv.FormatBool(subscribed)); err != nil {
		return fmt.Errorf("failed to store scheduled subscription: %w", err)
	}
	return nil
}

func (s *PeerStore) ScheduledSubscription(callID int64) (bool, error) {
	val, err := s.kv.Get(subscriptionKey(callID))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get scheduled subscription: %w", err)
	}
	return strconv.ParseBool(val)
}

// PeerIDs returns the ids of all stored peers.
func (s *PeerStore) PeerIDs() ([]roster.PeerID, error) {
	var ids []roster.PeerID
	err := s.kv.Scan(peerKeyPrefix, func(key string) error {
		id, err := strconv.ParseInt(key[len(peerKeyPrefix):], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid peer key %q: %w", key, err)
		}
		ids = append(ids, roster.PeerID(id))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
