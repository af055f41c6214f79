// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mattermost/rosterd/service/roster"
	"github.com/mattermost/rosterd/service/vad"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

var (
	ErrCallNotWatched     = errors.New("call is not watched")
	ErrCallAlreadyWatched = errors.New("call is already watched")
)

// watchedCall is a call kept in sync by the service.
type watchedCall struct {
	cfg     CallConfig
	ref     roster.CallReference
	roster  *roster.Context
	tracker *vad.Tracker
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// WatchCall loads the roster of the call and keeps it in sync until
// UnwatchCall is called. It returns the id of the call.
func (s *Service) WatchCall(ctx context.Context, cfg CallConfig) (int64, error) {
	if err := cfg.IsValid(); err != nil {
		return 0, err
	}

	state, ref, err := roster.LoadState(ctx, s.callAPI, s.peers, cfg.Call)
	if err != nil {
		return 0, fmt.Errorf("failed to load call state: %w", err)
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	if _, ok := s.calls[ref.ID]; ok {
		return ref.ID, ErrCallAlreadyWatched
	}

	tracker, err := vad.NewTracker(s.cfg.VAD)
	if err != nil {
		return 0, fmt.Errorf("failed to create vad tracker: %w", err)
	}

	myPeerID := cfg.MyPeerID
	if myPeerID == 0 {
		myPeerID = s.cfg.Calls.AccountPeerID
	}

	params := roster.Params{
		Call:          ref,
		MyPeerID:      myPeerID,
		AccountPeerID: s.cfg.Calls.AccountPeerID,
		State:         state,
		API:           s.callAPI,
		Peers:         s.peers,
		Updates:       s.updates,
		Logger:        s.log,
	}
	if cfg.ChannelPeerID != 0 {
		channelPeerID := cfg.ChannelPeerID
		params.ChannelPeerID = &channelPeerID
	}

	rc, err := roster.New(s.cfg.Roster, params,
		roster.WithMetrics(s.metrics),
		roster.WithActivityFeed(tracker.Feed()),
	)
	if err != nil {
		tracker.Close()
		return 0, fmt.Errorf("failed to create roster: %w", err)
	}

	if cfg.ChannelPeerID != 0 {
		if err := s.peers.SetActiveCall(ctx, cfg.ChannelPeerID, &ref); err != nil {
			s.log.Warn("failed to store active call", mlog.Err(err), mlog.Int("callID", ref.ID))
		}
	}

	call := &watchedCall{
		cfg:     cfg,
		ref:     ref,
		roster:  rc,
		tracker: tracker,
		stopCh:  make(chan struct{}),
	}
	s.calls[ref.ID] = call
	s.metrics.IncRosterCalls()

	call.wg.Add(2)
	go s.statePublisher(call)
	go s.speakingReporter(call)

	s.log.Info("watching call", mlog.Int("callID", ref.ID), mlog.Int("participants", state.TotalCount))

	return ref.ID, nil
}

// UnwatchCall stops syncing the call.
func (s *Service) UnwatchCall(callID int64) error {
	s.mut.Lock()
	call, ok := s.calls[callID]
	if ok {
		delete(s.calls, callID)
	}
	s.mut.Unlock()

	if !ok {
		return ErrCallNotWatched
	}

	close(call.stopCh)
	call.tracker.Close()
	if err := call.roster.Close(); err != nil {
		s.log.Error("failed to close roster", mlog.Err(err), mlog.Int("callID", callID))
	}
	call.wg.Wait()

	s.metrics.DecRosterCalls()
	s.metrics.DeleteParticipants(callID)
	s.broadcastFeedMessage(newUnwatchedMessage(callID))

	s.log.Info("stopped watching call", mlog.Int("callID", callID))

	return nil
}

func (s *Service) getCall(callID int64) (*watchedCall, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrCallNotWatched
	}
	return call, nil
}

// watchedCallIDs returns the ids of the watched calls in ascending order.
func (s *Service) watchedCallIDs() []int64 {
	s.mut.RLock()
	ids := make([]int64, 0, len(s.calls))
	for id := range s.calls {
		ids = append(ids, id)
	}
	s.mut.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Service) statePublisher(call *watchedCall) {
	defer call.wg.Done()

	sub := call.roster.State()
	defer sub.Close()

	for {
		select {
		case state, ok := <-sub.C():
			if !ok {
				return
			}
			s.broadcastFeedMessage(newStateMessage(call.ref.ID, state))
		case <-call.stopCh:
			return
		}
	}
}

func (s *Service) speakingReporter(call *watchedCall) {
	defer call.wg.Done()

	ticker := time.NewTicker(s.cfg.Calls.SpeakingReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if speaking := call.tracker.Speaking(); len(speaking) > 0 {
				call.roster.ReportSpeakingParticipants(speaking)
			}
		case <-call.stopCh:
			return
		}
	}
}
