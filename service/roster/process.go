// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// beginProcessingUpdatesIfNeeded starts processing queued participant deltas
// unless one is already in progress. Deltas that complete synchronously are
// drained in a loop rather than recursively.
func (c *Context) beginProcessingUpdatesIfNeeded() {
	if c.drainingUpdates {
		return
	}
	c.drainingUpdates = true
	defer func() {
		c.drainingUpdates = false
	}()

	for !c.isProcessingUpdate && len(c.updateQueue) > 0 {
		u := c.updateQueue[0]
		c.updateQueue[0] = ParticipantsUpdate{}
		c.updateQueue = c.updateQueue[1:]
		c.isProcessingUpdate = true
		c.processUpdate(u)
	}
}

func (c *Context) endedProcessingUpdate() {
	if !c.isProcessingUpdate {
		c.log.Warn("ended processing with no update in progress", mlog.Int("callID", c.ref.ID))
	}
	c.isProcessingUpdate = false
	c.beginProcessingUpdatesIfNeeded()
}

func (c *Context) processUpdate(u ParticipantsUpdate) {
	version := c.state.Version

	if u.Version < version {
		c.overlay.release(u.RemovePendingMuteStates)
		c.metrics.IncUpdates("stale")
		c.endedProcessingUpdate()
		return
	}

	if u.Version > version+1 {
		c.log.Debug("participants version gap, resyncing",
			mlog.Int("callID", c.ref.ID),
			mlog.Int("version", version),
			mlog.Int("updateVersion", u.Version),
		)
		c.overlay.release(u.RemovePendingMuteStates)
		c.metrics.IncUpdates("gap")
		c.resetStateFromServer()
		return
	}

	var ids []PeerID
	for _, pu := range u.Participants {
		if pu.Status != StatusLeft {
			ids = append(ids, pu.PeerID)
		}
	}

	if len(ids) == 0 {
		c.applyUpdate(u, nil)
		return
	}

	c.goAsync(func(ctx context.Context) {
		peers, err := c.peers.GetPeers(ctx, ids)
		if err != nil {
			// A delta is never applied without its peers.
			c.log.Error("failed to resolve participant peers, resyncing", mlog.Int("callID", c.ref.ID), mlog.Err(err))
			c.run(func() {
				c.overlay.release(u.RemovePendingMuteStates)
				c.metrics.IncUpdates("unresolved")
				c.resetStateFromServer()
			})
			return
		}
		c.run(func() {
			c.applyUpdate(u, peers)
		})
	})
}

// applyUpdate merges a participants delta whose peers have been resolved.
func (c *Context) applyUpdate(u ParticipantsUpdate, peers map[PeerID]Peer) {
	// A missing-ssrc load may have raised the version while peers were
	// being resolved.
	if u.Version < c.state.Version {
		c.overlay.release(u.RemovePendingMuteStates)
		c.metrics.IncUpdates("stale")
		c.endedProcessingUpdate()
		return
	}

	isVersionUpdate := u.Version != c.state.Version
	participants := append([]Participant(nil), c.state.Participants...)
	totalCount := c.state.TotalCount

	for _, pu := range u.Participants {
		id := PeerParticipantID(pu.PeerID)
		index := -1
		for i := range participants {
			if participants[i].ID == id {
				index = i
				break
			}
		}

		if pu.Status == StatusLeft {
			if index >= 0 {
				participants = append(participants[:index], participants[index+1:]...)
				totalCount = max(0, totalCount-1)
				c.memberEvents.publish(MemberEvent{PeerID: pu.PeerID})
			} else if isVersionUpdate {
				totalCount = max(0, totalCount-1)
			}
			continue
		}

		peer, ok := peers[pu.PeerID]
		if !ok {
			c.log.Debug("dropping participant with unknown peer", mlog.Int("callID", c.ref.ID), mlog.Int("peerID", pu.PeerID))
			continue
		}

		var prev *Participant
		if index >= 0 {
			p := participants[index]
			prev = &p
			participants = append(participants[:index], participants[index+1:]...)
		} else if pu.Status == StatusJoined {
			totalCount++
			c.memberEvents.publish(MemberEvent{
				PeerID:    pu.PeerID,
				CanUnmute: pu.MuteState == nil || pu.MuteState.CanUnmute,
				Joined:    true,
			})
		}

		participants = append(participants, mergeParticipant(peer, pu, prev))
	}

	totalCount = max(totalCount, len(participants))
	SortParticipants(participants, c.state.SortAscending)

	c.state.Participants = participants
	c.state.TotalCount = totalCount
	c.state.Version = u.Version
	c.overlay.release(u.RemovePendingMuteStates)

	c.metrics.IncUpdates("applied")
	c.endedProcessingUpdate()
}

// mergeParticipant builds the roster entry for pu on top of the previous
// entry for the same peer, if any.
func mergeParticipant(peer Peer, pu ParticipantUpdate, prev *Participant) Participant {
	joinTimestamp := pu.JoinTimestamp
	activityTimestamp := clonePtr(pu.ActivityTimestamp)
	var activityRank *int
	muteState := clonePtr(pu.MuteState)
	volume := clonePtr(pu.Volume)

	if prev != nil {
		joinTimestamp = prev.JoinTimestamp
		activityRank = clonePtr(prev.ActivityRank)
		if prev.ActivityTimestamp != nil {
			if activityTimestamp == nil || *prev.ActivityTimestamp > *activityTimestamp {
				activityTimestamp = clonePtr(prev.ActivityTimestamp)
			}
		}
		if pu.Omitted.Has(OmittedMuteOverride) && prev.MuteState != nil && prev.MuteState.MutedByYou {
			muteState = clonePtr(prev.MuteState)
		}
		if pu.Omitted.Has(OmittedVolume) && prev.Volume != nil {
			volume = clonePtr(prev.Volume)
		}
	}

	if pu.MuteState != nil && !pu.MuteState.CanUnmute {
		activityRank = nil
		activityTimestamp = nil
	}

	return Participant{
		ID:                      PeerParticipantID(peer.ID),
		Peer:                    &peer,
		SSRC:                    clonePtr(pu.SSRC),
		VideoDescription:        pu.VideoDescription.clone(),
		PresentationDescription: pu.PresentationDescription.clone(),
		JoinTimestamp:           joinTimestamp,
		RaiseHandRating:         clonePtr(pu.RaiseHandRating),
		HasRaiseHand:            pu.RaiseHandRating != nil,
		ActivityTimestamp:       activityTimestamp,
		ActivityRank:            activityRank,
		MuteState:               muteState,
		Volume:                  volume,
		About:                   clonePtr(pu.About),
		JoinedVideo:             pu.JoinedVideo,
	}
}

// resetStateFromServer replaces the roster with a fresh snapshot. It is
// coalesced with any load already in flight, and the update being processed
// completes once the snapshot lands.
func (c *Context) resetStateFromServer() {
	if c.isLoadingMore {
		c.shouldResetStateFromServer = true
		return
	}
	c.isLoadingMore = true
	c.updateQueue = nil
	c.metrics.IncResyncs()

	req := FetchRequest{
		Call:          c.ref,
		Limit:         c.cfg.FetchLimit,
		SortAscending: ptr(c.state.SortAscending),
	}

	c.goAsync(func(ctx context.Context) {
		fetched, _, err := fetchSnapshot(ctx, c.api, c.peers, req)
		c.run(func() {
			c.isLoadingMore = false
			c.shouldResetStateFromServer = false

			if err != nil {
				c.log.Error("failed to reset participants state", mlog.Int("callID", c.ref.ID), mlog.Err(err))
				c.metrics.IncFetches(string(requestKindReset), "error")
				c.handleCallError(err)
				c.endedProcessingUpdate()
				return
			}
			c.metrics.IncFetches(string(requestKindReset), "ok")

			fetched.AdminIDs = c.state.AdminIDs
			fetched.IsCreator = c.state.IsCreator
			fetched.DefaultParticipantsAreMuted = c.state.DefaultParticipantsAreMuted
			fetched.Title = c.state.Title
			fetched.RecordingStartTimestamp = c.state.RecordingStartTimestamp
			fetched.ScheduleTimestamp = c.state.ScheduleTimestamp
			fetched.mergeActivity(c.state, false)
			// A snapshot served by a lagging replica must not move the
			// version backwards.
			fetched.Version = max(fetched.Version, c.state.Version)
			c.state = fetched

			c.loadMissingSSRCs()
			c.endedProcessingUpdate()
		})
	})
}
