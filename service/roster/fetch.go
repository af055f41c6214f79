// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"fmt"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"golang.org/x/sync/errgroup"
)

// FetchSnapshot loads one page of a call's roster. Participants and call
// metadata are requested concurrently. Peers returned with the page are
// stored before participants are decoded; participants whose peer is still
// unknown are dropped.
func FetchSnapshot(ctx context.Context, api API, peers PeerStore, req FetchRequest) (State, error) {
	state, _, err := fetchSnapshot(ctx, api, peers, req)
	return state, err
}

// LoadState builds the initial roster of a call. Unlike FetchSnapshot it
// carries the call title and recording start over from the call metadata and
// returns the id-based reference of the call.
func LoadState(ctx context.Context, api API, peers PeerStore, ref CallReference) (State, CallReference, error) {
	if err := ref.IsValid(); err != nil {
		return State{}, CallReference{}, err
	}

	state, info, err := fetchSnapshot(ctx, api, peers, FetchRequest{
		Call:  ref,
		Limit: defaultFetchLimit,
	})
	if err != nil {
		return State{}, CallReference{}, err
	}

	state.Title = clonePtr(info.Title)
	state.RecordingStartTimestamp = clonePtr(info.RecordingStartTimestamp)

	return state, info.Reference(), nil
}

func fetchSnapshot(ctx context.Context, api API, peers PeerStore, req FetchRequest) (State, CallInfo, error) {
	if req.Limit <= 0 {
		req.Limit = defaultFetchLimit
	}

	var page ParticipantsPage
	var call RawCall
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = api.FetchParticipants(gctx, req)
		if err != nil {
			return fmt.Errorf("failed to fetch participants: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		call, err = api.FetchCallInfo(gctx, req.Call)
		if err != nil {
			return fmt.Errorf("failed to fetch call info: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return State{}, CallInfo{}, err
	}

	info, ok := call.Info()
	if !ok {
		return State{}, CallInfo{}, fmt.Errorf("call %s is discarded: %w", req.Call, ErrCallInvalid)
	}

	if len(page.Peers) > 0 {
		if err := peers.PutPeers(ctx, page.Peers); err != nil {
			return State{}, CallInfo{}, fmt.Errorf("failed to store peers: %w", err)
		}
	}

	ids := make([]PeerID, 0, len(page.Participants))
	for _, p := range page.Participants {
		ids = append(ids, p.PeerID)
	}
	resolved, err := peers.GetPeers(ctx, ids)
	if err != nil {
		return State{}, CallInfo{}, fmt.Errorf("failed to resolve peers: %w", err)
	}

	sortAscending := info.SortAscending
	if req.SortAscending != nil {
		sortAscending = *req.SortAscending
	}

	participants := make([]Participant, 0, len(page.Participants))
	for _, raw := range page.Participants {
		peer, ok := resolved[raw.PeerID]
		if !ok {
			continue
		}
		participants = append(participants, raw.participant(peer))
	}
	SortParticipants(participants, sortAscending)

	var nextOffset *string
	if len(page.Participants) > 0 && page.NextOffset != "" {
		nextOffset = ptr(page.NextOffset)
	}

	return State{
		Participants:                participants,
		NextParticipantsFetchOffset: nextOffset,
		AdminIDs:                    map[PeerID]struct{}{},
		IsCreator:                   info.IsCreator,
		DefaultParticipantsAreMuted: info.DefaultParticipantsAreMuted,
		SortAscending:               sortAscending,
		ScheduleTimestamp:           clonePtr(info.ScheduleTimestamp),
		SubscribedToScheduled:       info.SubscribedToScheduled,
		TotalCount:                  page.Count,
		IsVideoEnabled:              info.IsVideoEnabled,
		UnmutedVideoLimit:           info.UnmutedVideoLimit,
		IsStream:                    info.IsStream,
		Version:                     page.Version,
	}, info, nil
}

// LoadMore fetches the next page of the roster. The returned request fails
// with ErrCanceled when token is stale or a load is already in flight.
func (c *Context) LoadMore(token string) *Request {
	req := newRequest(c.ctx, requestKindLoadMore)
	if !c.run(func() {
		c.loadMore(req, token)
	}) {
		req.finish(ErrClosed)
	}
	return req
}

func (c *Context) loadMore(req *Request, token string) {
	if c.state.NextParticipantsFetchOffset == nil || *c.state.NextParticipantsFetchOffset != token {
		c.log.Debug("load more called with an invalid token",
			mlog.Int("callID", c.ref.ID),
			mlog.String("token", token),
		)
		req.finish(ErrCanceled)
		return
	}
	if c.isLoadingMore {
		req.finish(ErrCanceled)
		return
	}
	c.isLoadingMore = true
	c.trackRequest(req)

	fetchReq := FetchRequest{
		Call:          c.ref,
		Offset:        token,
		Limit:         c.cfg.FetchLimit,
		SortAscending: ptr(c.state.SortAscending),
	}

	c.goAsync(func(_ context.Context) {
		fetched, _, err := fetchSnapshot(req.ctx, c.api, c.peers, fetchReq)
		c.run(func() {
			c.untrackRequest(req)
			c.isLoadingMore = false

			switch {
			case req.canceled():
				c.metrics.IncFetches(string(requestKindLoadMore), "canceled")
			case err != nil:
				c.log.Error("failed to load more participants", mlog.Int("callID", c.ref.ID), mlog.Err(err))
				c.metrics.IncFetches(string(requestKindLoadMore), "error")
				c.handleCallError(err)
				req.finish(err)
			default:
				c.metrics.IncFetches(string(requestKindLoadMore), "ok")
				c.state.Participants = mergeAndSortParticipants(c.state.Participants, fetched.Participants, c.state.SortAscending)
				c.state.NextParticipantsFetchOffset = fetched.NextParticipantsFetchOffset
				c.state.TotalCount = max(c.state.TotalCount, fetched.TotalCount)
				c.state.Version = max(c.state.Version, fetched.Version)
				req.finish(nil)
			}

			if c.shouldResetStateFromServer {
				c.resetStateFromServer()
			} else {
				c.loadMissingSSRCs()
			}
		})
	})
}

// EnsureHaveParticipants schedules a fetch of the participants owning any of
// ssrcs that are not known yet, either as a participant ssrc or as a
// presentation audio ssrc.
func (c *Context) EnsureHaveParticipants(ssrcs []uint32) {
	c.run(func() {
		c.ensureHaveParticipants(ssrcs)
	})
}

func (c *Context) ensureHaveParticipants(ssrcs []uint32) {
	known := c.state.knownSSRCs()
	missing := false
	for _, ssrc := range ssrcs {
		if _, ok := known[ssrc]; ok {
			continue
		}
		c.missingSSRCs[ssrc] = struct{}{}
		missing = true
	}
	if missing {
		c.loadMissingSSRCs()
	}
}

func (c *Context) loadMissingSSRCs() {
	if len(c.missingSSRCs) == 0 || c.isLoadingMore {
		return
	}
	c.isLoadingMore = true

	ssrcs := make([]uint32, 0, len(c.missingSSRCs))
	for ssrc := range c.missingSSRCs {
		ssrcs = append(ssrcs, ssrc)
	}

	c.log.Debug("requesting participants for ssrcs", mlog.Int("callID", c.ref.ID), mlog.Any("ssrcs", ssrcs))

	req := newRequest(c.ctx, requestKindMissingSSRCs)
	c.trackRequest(req)
	fetchReq := FetchRequest{
		Call:          c.ref,
		SSRCs:         ssrcs,
		Limit:         c.cfg.FetchLimit,
		SortAscending: ptr(true),
	}

	c.goAsync(func(_ context.Context) {
		fetched, _, err := fetchSnapshot(req.ctx, c.api, c.peers, fetchReq)
		c.run(func() {
			c.untrackRequest(req)
			c.isLoadingMore = false

			if err != nil {
				req.finish(err)
				c.log.Error("failed to load participants for ssrcs", mlog.Int("callID", c.ref.ID), mlog.Err(err))
				c.metrics.IncFetches(string(requestKindMissingSSRCs), "error")
				c.handleCallError(err)
				if c.shouldResetStateFromServer {
					c.resetStateFromServer()
				}
				return
			}
			req.finish(nil)
			c.metrics.IncFetches(string(requestKindMissingSSRCs), "ok")

			for _, ssrc := range ssrcs {
				delete(c.missingSSRCs, ssrc)
			}

			c.state.Participants = mergeAndSortParticipants(c.state.Participants, fetched.Participants, c.state.SortAscending)
			c.state.TotalCount = max(c.state.TotalCount, fetched.TotalCount)
			c.state.Version = max(c.state.Version, fetched.Version)

			if c.shouldResetStateFromServer {
				c.resetStateFromServer()
			} else {
				c.loadMissingSSRCs()
			}
		})
	})
}
