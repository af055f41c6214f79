// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const localVideoEndpointID = "_local"

// UpdateMuteState changes the mute state and volume of a peer. Unless
// raiseHand is set, the change is shown optimistically until the server
// confirms or rejects it.
func (c *Context) UpdateMuteState(peerID PeerID, muteState *MuteState, volume *int32, raiseHand *bool) *Request {
	kind := requestKindMute
	if raiseHand != nil {
		kind = requestKindRaiseHand
	}
	req := newRequest(c.ctx, kind)
	if !c.run(func() {
		c.updateMuteState(req, peerID, clonePtr(muteState), clonePtr(volume), clonePtr(raiseHand))
	}) {
		req.finish(ErrClosed)
	}
	return req
}

func (c *Context) RaiseHand() *Request {
	return c.UpdateMuteState(c.myPeerID, nil, nil, ptr(true))
}

func (c *Context) LowerHand() *Request {
	return c.UpdateMuteState(c.myPeerID, nil, nil, ptr(false))
}

func (c *Context) updateMuteState(req *Request, peerID PeerID, muteState *MuteState, volume *int32, raiseHand *bool) {
	if cur, ok := c.overlay.pendingMuteStateChanges[peerID]; ok {
		if equalPtr(cur.state, muteState) {
			c.follow(req, cur.req)
			return
		}
		cur.req.Cancel()
		c.untrackRequest(cur.req)
		delete(c.overlay.pendingMuteStateChanges, peerID)
	}

	id := PeerParticipantID(peerID)
	for _, p := range c.state.Participants {
		if p.ID != id {
			continue
		}
		raiseHandEqual := true
		if raiseHand != nil {
			raiseHandEqual = (p.RaiseHandRating == nil && !*raiseHand) || (p.RaiseHandRating != nil && *raiseHand)
		}
		if equalPtr(p.MuteState, muteState) && equalPtr(p.Volume, volume) && raiseHandEqual {
			req.finish(nil)
			return
		}
		break
	}

	if raiseHand == nil {
		c.overlay.pendingMuteStateChanges[peerID] = muteStateChange{
			state:  muteState,
			volume: volume,
			req:    req,
		}
	}
	c.trackRequest(req)

	edit := EditParticipantRequest{
		RaiseHand: raiseHand,
	}
	if volume != nil && *volume > 0 {
		edit.Volume = volume
	}
	if muteState != nil && (!muteState.CanUnmute || peerID == c.myPeerID || muteState.MutedByYou) {
		edit.Muted = ptr(true)
	} else if peerID == c.myPeerID {
		edit.Muted = ptr(false)
	}

	c.goAsync(func(_ context.Context) {
		env, err := c.editParticipant(req.ctx, peerID, edit)
		c.run(func() {
			c.untrackRequest(req)
			c.completeMuteState(req, peerID, env, err)
		})
	})
}

func (c *Context) completeMuteState(req *Request, peerID PeerID, env Envelope, err error) {
	cur, pending := c.overlay.pendingMuteStateChanges[peerID]
	owned := pending && cur.req == req

	if req.canceled() {
		if owned {
			delete(c.overlay.pendingMuteStateChanges, peerID)
		}
		c.metrics.IncMutations(string(req.kind), "canceled")
		return
	}

	if err != nil {
		if owned {
			delete(c.overlay.pendingMuteStateChanges, peerID)
		}
		c.log.Error("failed to update participant mute state",
			mlog.Int("callID", c.ref.ID),
			mlog.Int("peerID", peerID),
			mlog.Err(err),
		)
		c.metrics.IncMutations(string(req.kind), "error")
		c.handleCallError(err)
		req.finish(err)
		return
	}

	if !c.applyEcho(env, peerSet(peerID)) && owned {
		// Nothing will confirm the entry.
		delete(c.overlay.pendingMuteStateChanges, peerID)
	}
	c.metrics.IncMutations(string(req.kind), "ok")
	req.finish(nil)
}

// follow completes req when leader completes.
func (c *Context) follow(req, leader *Request) {
	c.goAsync(func(ctx context.Context) {
		select {
		case <-leader.Done():
			req.finish(leader.Err())
		case <-req.Done():
		case <-ctx.Done():
			req.finish(ErrClosed)
		}
	})
}

// UpdateVideoState changes the local video and presentation flags of a
// peer. Repeating the last requested values is a no-op.
func (c *Context) UpdateVideoState(peerID PeerID, videoMuted, videoPaused, presentationPaused *bool) *Request {
	req := newRequest(c.ctx, requestKindVideo)
	videoMuted, videoPaused, presentationPaused = clonePtr(videoMuted), clonePtr(videoPaused), clonePtr(presentationPaused)
	if !c.run(func() {
		c.updateVideoState(req, peerID, videoMuted, videoPaused, presentationPaused)
	}) {
		req.finish(ErrClosed)
	}
	return req
}

func (c *Context) updateVideoState(req *Request, peerID PeerID, videoMuted, videoPaused, presentationPaused *bool) {
	if equalPtr(c.localVideoMuted, videoMuted) && equalPtr(c.localVideoPaused, videoPaused) && equalPtr(c.localPresentationPaused, presentationPaused) {
		req.finish(nil)
		return
	}
	c.localVideoMuted = videoMuted
	c.localVideoPaused = videoPaused
	c.localPresentationPaused = presentationPaused

	if videoMuted != nil {
		if *videoMuted {
			c.overlay.hasLocalVideo = nil
		} else {
			c.overlay.hasLocalVideo = ptr(peerID)
		}
	}

	edit := EditParticipantRequest{
		VideoStopped:       videoMuted,
		PresentationPaused: presentationPaused,
	}
	if videoMuted != nil {
		edit.VideoPaused = videoPaused
	}

	c.trackRequest(req)
	c.goAsync(func(_ context.Context) {
		env, err := c.editParticipant(req.ctx, peerID, edit)
		c.run(func() {
			c.untrackRequest(req)
			if req.canceled() {
				return
			}
			if err != nil {
				c.log.Error("failed to update participant video state",
					mlog.Int("callID", c.ref.ID),
					mlog.Int("peerID", peerID),
					mlog.Err(err),
				)
				c.metrics.IncMutations(string(req.kind), "error")
				// Allow the same values to be requested again.
				if equalPtr(c.localVideoMuted, videoMuted) && equalPtr(c.localVideoPaused, videoPaused) && equalPtr(c.localPresentationPaused, presentationPaused) {
					c.localVideoMuted, c.localVideoPaused, c.localPresentationPaused = nil, nil, nil
				}
				c.handleCallError(err)
				req.finish(err)
				return
			}
			c.applyEcho(env, peerSet(peerID))
			c.metrics.IncMutations(string(req.kind), "ok")
			req.finish(nil)
		})
	})
}

// UpdateShouldBeRecording starts or stops the call recording.
func (c *Context) UpdateShouldBeRecording(record bool, title *string, videoPortrait *bool) *Request {
	toggle := ToggleRecordingRequest{
		Call:          c.ref,
		Start:         record,
		VideoPortrait: clonePtr(videoPortrait),
	}
	if title != nil && *title != "" {
		toggle.Title = clonePtr(title)
	}
	return c.issue(requestKindRecording, nil, func(ctx context.Context) (Envelope, error) {
		return c.api.ToggleRecording(ctx, toggle)
	}, nil)
}

// UpdateDefaultParticipantsAreMuted changes whether new participants join
// muted. The new value is applied right away and rolled back on failure.
func (c *Context) UpdateDefaultParticipantsAreMuted(isMuted bool) *Request {
	var prev bool
	return c.issue(requestKindDefaultMuted, func() bool {
		if c.state.DefaultParticipantsAreMuted.IsMuted == isMuted {
			return false
		}
		prev = c.state.DefaultParticipantsAreMuted.IsMuted
		c.state.DefaultParticipantsAreMuted.IsMuted = isMuted
		return true
	}, func(ctx context.Context) (Envelope, error) {
		return c.api.UpdateSettings(ctx, SettingsRequest{
			Call:      c.ref,
			JoinMuted: ptr(isMuted),
		})
	}, func() {
		if c.state.DefaultParticipantsAreMuted.IsMuted == isMuted {
			c.state.DefaultParticipantsAreMuted.IsMuted = prev
		}
	})
}

func (c *Context) ResetInviteLinks() *Request {
	return c.issue(requestKindInviteLinks, nil, func(ctx context.Context) (Envelope, error) {
		return c.api.UpdateSettings(ctx, SettingsRequest{
			Call:            c.ref,
			ResetInviteHash: true,
		})
	}, nil)
}

// ToggleScheduledSubscription subscribes to, or unsubscribes from, the start
// of a scheduled call. It fails with ErrNoChannelPeer for calls that are not
// hosted by a channel.
func (c *Context) ToggleScheduledSubscription(subscribe bool) *Request {
	if c.channelPeerID == nil {
		req := newRequest(c.ctx, requestKindSubscription)
		req.finish(ErrNoChannelPeer)
		return req
	}
	return c.issue(requestKindSubscription, func() bool {
		if c.state.SubscribedToScheduled == subscribe {
			return false
		}
		c.state.SubscribedToScheduled = subscribe
		return true
	}, func(ctx context.Context) (Envelope, error) {
		env, err := c.api.ToggleScheduledSubscription(ctx, ScheduledSubscriptionRequest{
			Call:      c.ref,
			Subscribe: subscribe,
		})
		if err != nil {
			return env, err
		}
		if err := c.peers.SetScheduledSubscription(ctx, c.ref.ID, subscribe); err != nil {
			c.log.Error("failed to store scheduled subscription", mlog.Int("callID", c.ref.ID), mlog.Err(err))
		}
		return env, nil
	}, func() {
		if c.state.SubscribedToScheduled == subscribe {
			c.state.SubscribedToScheduled = !subscribe
		}
	})
}

// issue runs a call mutation. For exclusive kinds a new request cancels the
// previous one of the same kind. apply runs on the executor before the request is
// sent and returns false to skip it; rollback undoes apply on failure.
func (c *Context) issue(kind requestKind, apply func() bool, send func(ctx context.Context) (Envelope, error), rollback func()) *Request {
	req := newRequest(c.ctx, kind)
	if !c.run(func() {
		if apply != nil && !apply() {
			req.finish(nil)
			return
		}
		if kind.exclusive() {
			c.takeSlot(req)
		} else {
			c.trackRequest(req)
		}

		c.goAsync(func(_ context.Context) {
			env, err := send(req.ctx)
			if err == nil {
				c.storeEnvelopePeers(req.ctx, env)
			}
			c.run(func() {
				c.releaseSlot(req)
				if req.canceled() {
					c.metrics.IncMutations(string(kind), "canceled")
					return
				}
				if err != nil {
					c.log.Error("call mutation failed",
						mlog.Int("callID", c.ref.ID),
						mlog.String("kind", string(kind)),
						mlog.Err(err),
					)
					c.metrics.IncMutations(string(kind), "error")
					if rollback != nil {
						rollback()
					}
					c.handleCallError(err)
					req.finish(err)
					return
				}
				c.applyEcho(env, nil)
				c.metrics.IncMutations(string(kind), "ok")
				req.finish(nil)
			})
		})
	}) {
		req.finish(ErrClosed)
	}
	return req
}

// editParticipant resolves the target peer and sends the edit. Peers carried
// by the response are stored before it is returned.
func (c *Context) editParticipant(ctx context.Context, peerID PeerID, edit EditParticipantRequest) (Envelope, error) {
	peers, err := c.peers.GetPeers(ctx, []PeerID{peerID})
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to resolve peer: %w", err)
	}
	peer, ok := peers[peerID]
	if !ok {
		return Envelope{}, fmt.Errorf("peer %s: %w", peerID, ErrPeerNotFound)
	}

	edit.Call = c.ref
	edit.Peer = peer
	env, err := c.api.EditParticipant(ctx, edit)
	if err != nil {
		return Envelope{}, err
	}
	c.storeEnvelopePeers(ctx, env)

	return env, nil
}

func (c *Context) storeEnvelopePeers(ctx context.Context, env Envelope) {
	if len(env.Peers) == 0 {
		return
	}
	if err := c.peers.PutPeers(ctx, env.Peers); err != nil {
		c.log.Error("failed to store peers", mlog.Int("callID", c.ref.ID), mlog.Err(err))
	}
}

// applyEcho feeds the updates of a mutation response for this call back into
// the engine. Participant deltas release the pending mute states of
// removePending. It reports whether any participant delta was found.
func (c *Context) applyEcho(env Envelope, removePending map[PeerID]struct{}) bool {
	updates, err := env.UpdatesForCall(c.ref.ID)
	if err != nil {
		c.log.Error("failed to decode mutation response", mlog.Int("callID", c.ref.ID), mlog.Err(err))
		return false
	}
	found := false
	for i, u := range updates {
		if pu, ok := u.(ParticipantsUpdate); ok {
			pu.RemovePendingMuteStates = removePending
			updates[i] = pu
			found = true
		}
	}
	c.addUpdates(updates)
	return found
}

// handleCallError clears the active call of the hosting channel once the
// server reports the call reference as invalid.
func (c *Context) handleCallError(err error) {
	if !errors.Is(err, ErrCallInvalid) || c.channelPeerID == nil {
		return
	}
	peerID := *c.channelPeerID
	c.goAsync(func(ctx context.Context) {
		if err := c.peers.SetActiveCall(ctx, peerID, nil); err != nil {
			c.log.Error("failed to clear active call", mlog.Int("callID", c.ref.ID), mlog.Err(err))
		}
	})
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
