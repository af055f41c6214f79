// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"fmt"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// EditTitle renames the call. An empty title clears it. The new title is
// shown right away and restored if the server rejects it.
func (c *Context) EditTitle(title string) *Request {
	var next, prev *string
	if title != "" {
		next = ptr(title)
	}
	return c.issue(requestKindTitle, func() bool {
		if equalPtr(c.state.Title, next) {
			return false
		}
		prev = clonePtr(c.state.Title)
		c.state.Title = clonePtr(next)
		return true
	}, func(ctx context.Context) (Envelope, error) {
		return c.api.EditTitle(ctx, EditTitleRequest{
			Call:  c.ref,
			Title: title,
		})
	}, func() {
		if equalPtr(c.state.Title, next) {
			c.state.Title = prev
		}
	})
}

// Discard ends the call for everyone. The roster is kept until the server
// reports the call as terminated.
func (c *Context) Discard() *Request {
	return c.issue(requestKindDiscard, nil, func(ctx context.Context) (Envelope, error) {
		return c.api.DiscardCall(ctx, c.ref)
	}, nil)
}

// InviteToCall invites peers to the call. Concurrent invites do not cancel
// each other.
func (c *Context) InviteToCall(peerIDs []PeerID) *Request {
	ids := append([]PeerID(nil), peerIDs...)
	return c.issue(requestKindInvite, func() bool {
		return len(ids) > 0
	}, func(ctx context.Context) (Envelope, error) {
		resolved, err := c.peers.GetPeers(ctx, ids)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to resolve peers: %w", err)
		}
		invite := InviteRequest{
			Call:  c.ref,
			Peers: make([]Peer, 0, len(ids)),
		}
		for _, id := range ids {
			peer, ok := resolved[id]
			if !ok {
				return Envelope{}, fmt.Errorf("peer %s: %w", id, ErrPeerNotFound)
			}
			invite.Peers = append(invite.Peers, peer)
		}
		return c.api.InviteToCall(ctx, invite)
	}, nil)
}

// RefreshCall reloads the call metadata and applies it as a call update.
func (c *Context) RefreshCall() *Request {
	req := newRequest(c.ctx, requestKindCallInfo)
	if !c.run(func() {
		c.takeSlot(req)
		c.goAsync(func(_ context.Context) {
			call, err := c.api.FetchCallInfo(req.ctx, c.ref)
			c.run(func() {
				c.releaseSlot(req)
				if req.canceled() {
					return
				}
				if err != nil {
					c.log.Error("failed to refresh call info", mlog.Int("callID", c.ref.ID), mlog.Err(err))
					c.metrics.IncFetches(string(requestKindCallInfo), "error")
					c.handleCallError(err)
					req.finish(err)
					return
				}
				c.metrics.IncFetches(string(requestKindCallInfo), "ok")
				c.applyCallUpdate(call.callUpdate())
				req.finish(nil)
			})
		})
	}) {
		req.finish(ErrClosed)
	}
	return req
}

// InviteLinks returns the public links to the call.
func (c *Context) InviteLinks(ctx context.Context) (InviteLinks, error) {
	links, err := c.api.ExportInviteLinks(ctx, c.ref)
	if err != nil {
		return InviteLinks{}, fmt.Errorf("failed to export invite links: %w", err)
	}
	return links, nil
}

// CheckCall asks the server which of ssrcs are still joined to the call.
// A local source missing from the result means the local participant was
// dropped and should rejoin.
func (c *Context) CheckCall(ctx context.Context, ssrcs []uint32) ([]uint32, error) {
	if len(ssrcs) == 0 {
		return nil, nil
	}
	res, err := c.api.CheckCall(ctx, CheckCallRequest{
		Call:  c.ref,
		SSRCs: ssrcs,
	})
	if err != nil {
		c.run(func() {
			c.handleCallError(err)
		})
		return nil, fmt.Errorf("failed to check call: %w", err)
	}
	return res.SSRCs, nil
}
