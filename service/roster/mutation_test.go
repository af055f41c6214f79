// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateMuteState(t *testing.T) {
	t.Run("echo confirms overlay", func(t *testing.T) {
		th := setupTestHelper(t, testPeer(2))
		defer th.teardown()

		release := make(chan struct{})
		th.api.editFn = func(req EditParticipantRequest) (Envelope, error) {
			<-release
			return participantsEnvelope(6, rawParticipant(2, 2, 1, participantFlagMuted)), nil
		}

		c := th.newContext(testState(5, testParticipant(2, 2, 1)))
		req := c.UpdateMuteState(2, &MuteState{CanUnmute: false}, nil, nil)

		require.Eventually(t, func() bool {
			return th.api.editCount() == 1
		}, waitFor, tickFor)
		require.Equal(t, 1, overlayCount(t, c))

		// The intent is visible before the server confirms it.
		p, ok := findParticipant(immediateState(t, c), 2)
		require.True(t, ok)
		require.Equal(t, &MuteState{CanUnmute: false}, p.MuteState)

		edit := th.api.lastEdit()
		require.Equal(t, testPeer(2), edit.Peer)
		require.Equal(t, testCallID, edit.Call.ID)
		require.True(t, *edit.Muted)
		require.Nil(t, edit.Volume)

		close(release)
		require.NoError(t, req.Wait(context.Background()))

		require.Eventually(t, func() bool {
			s, _ := c.ImmediateState()
			return s.Version == 6
		}, waitFor, tickFor)
		require.Zero(t, overlayCount(t, c))

		p, ok = findParticipant(immediateState(t, c), 2)
		require.True(t, ok)
		require.Equal(t, &MuteState{CanUnmute: false}, p.MuteState)
	})

	t.Run("duplicate intent follows pending request", func(t *testing.T) {
		th := setupTestHelper(t, testPeer(2))
		defer th.teardown()

		release := make(chan struct{})
		th.api.editFn = func(req EditParticipantRequest) (Envelope, error) {
			<-release
			return Envelope{}, nil
		}

		c := th.newContext(testState(5, testParticipant(2, 2, 1)))
		first := c.UpdateMuteState(2, &MuteState{CanUnmute: true, MutedByYou: true}, nil, nil)
		second := c.UpdateMuteState(2, &MuteState{CanUnmute: true, MutedByYou: true}, nil, nil)

		require.Eventually(t, func() bool {
			return th.api.editCount() == 1
		}, waitFor, tickFor)
		require.NoError(t, c.Sync())
		require.Equal(t, 1, th.api.editCount())
		require.Equal(t, 1, overlayCount(t, c))

		close(release)
		require.NoError(t, first.Wait(context.Background()))
		require.NoError(t, second.Wait(context.Background()))

		// No participants delta in the response, nothing left to confirm.
		require.Eventually(t, func() bool {
			return overlayCount(t, c) == 0
		}, waitFor, tickFor)
	})

	t.Run("new intent replaces pending one", func(t *testing.T) {
		th := setupTestHelper(t, testPeer(2))
		defer th.teardown()

		release := make(chan struct{})
		th.api.editFn = func(req EditParticipantRequest) (Envelope, error) {
			<-release
			return Envelope{}, nil
		}

		c := th.newContext(testState(5, testParticipant(2, 2, 1)))
		first := c.UpdateMuteState(2, &MuteState{CanUnmute: false}, nil, nil)
		require.Eventually(t, func() bool {
			return th.api.editCount() == 1
		}, waitFor, tickFor)

		second := c.UpdateMuteState(2, nil, ptr(int32(50)), nil)
		require.ErrorIs(t, first.Wait(context.Background()), ErrCanceled)

		require.Eventually(t, func() bool {
			return th.api.editCount() == 2
		}, waitFor, tickFor)
		edit := th.api.lastEdit()
		require.Equal(t, int32(50), *edit.Volume)
		require.Nil(t, edit.Muted)

		p, ok := findParticipant(immediateState(t, c), 2)
		require.True(t, ok)
		require.Nil(t, p.MuteState)
		require.Equal(t, int32(50), *p.Volume)

		close(release)
		require.NoError(t, second.Wait(context.Background()))
		require.Eventually(t, func() bool {
			return overlayCount(t, c) == 0
		}, waitFor, tickFor)
	})

	t.Run("failure rolls back", func(t *testing.T) {
		th := setupTestHelper(t, testPeer(2))
		defer th.teardown()

		th.params.ChannelPeerID = ptr(testChannelID)
		th.api.editFn = func(req EditParticipantRequest) (Envelope, error) {
			return Envelope{}, &APIError{StatusCode: 400, Code: CodeCallInvalid}
		}

		c := th.newContext(testState(5, testParticipant(2, 2, 1)))
		req := c.UpdateMuteState(2, &MuteState{CanUnmute: false}, nil, nil)

		err := req.Wait(context.Background())
		require.ErrorIs(t, err, ErrCallInvalid)
		require.Zero(t, overlayCount(t, c))

		p, ok := findParticipant(immediateState(t, c), 2)
		require.True(t, ok)
		require.Nil(t, p.MuteState)

		require.Eventually(t, func() bool {
			ref, ok := th.peers.activeCall(testChannelID)
			return ok && ref == nil
		}, waitFor, tickFor)
	})

	t.Run("unknown peer", func(t *testing.T) {
		th := setupTestHelper(t)
		defer th.teardown()

		c := th.newContext(testState(5))
		req := c.UpdateMuteState(42, &MuteState{CanUnmute: false}, nil, nil)
		require.ErrorIs(t, req.Wait(context.Background()), ErrPeerNotFound)
		require.Zero(t, th.api.editCount())
		require.Zero(t, overlayCount(t, c))
	})

	t.Run("already visible", func(t *testing.T) {
		th := setupTestHelper(t, testPeer(2))
		defer th.teardown()

		p := testParticipant(2, 2, 1)
		p.MuteState = &MuteState{CanUnmute: true}
		c := th.newContext(testState(5, p))

		req := c.UpdateMuteState(2, &MuteState{CanUnmute: true}, nil, nil)
		require.NoError(t, req.Wait(context.Background()))
		require.Zero(t, th.api.editCount())
		require.Zero(t, overlayCount(t, c))
	})
}

func TestRaiseHand(t *testing.T) {
	th := setupTestHelper(t)
	defer th.teardown()

	c := th.newContext(testState(5, testParticipant(testMyPeer, 1, 1)))

	require.NoError(t, c.RaiseHand().Wait(context.Background()))
	require.Equal(t, 1, th.api.editCount())
	edit := th.api.lastEdit()
	require.True(t, *edit.RaiseHand)
	require.False(t, *edit.Muted)
	require.Zero(t, overlayCount(t, c))

	// The hand is not raised in the roster yet, so lowering it is a no-op.
	require.NoError(t, c.LowerHand().Wait(context.Background()))
	require.Equal(t, 1, th.api.editCount())
}

func TestRaiseHandVisibility(t *testing.T) {
	th := setupTestHelper(t, testPeer(2))
	defer th.teardown()

	me := testParticipant(testMyPeer, 1, 1)
	me.MuteState = &MuteState{CanUnmute: false}
	other := testParticipant(2, 2, 1)
	other.RaiseHandRating = ptr(int64(10))
	other.HasRaiseHand = true

	c := th.newContext(testState(5, me, other))

	p, ok := findParticipant(immediateState(t, c), 2)
	require.True(t, ok)
	require.Nil(t, p.RaiseHandRating)
	require.True(t, p.HasRaiseHand)

	c.UpdateAdminIDs([]PeerID{testMyPeer})
	p, ok = findParticipant(immediateState(t, c), 2)
	require.True(t, ok)
	require.Equal(t, int64(10), *p.RaiseHandRating)
}

func TestUpdateVideoState(t *testing.T) {
	th := setupTestHelper(t)
	defer th.teardown()

	c := th.newContext(testState(5, testParticipant(testMyPeer, 1, 1)))

	req := c.UpdateVideoState(testMyPeer, ptr(false), ptr(true), nil)
	require.NoError(t, req.Wait(context.Background()))
	require.Equal(t, 1, th.api.editCount())
	edit := th.api.lastEdit()
	require.False(t, *edit.VideoStopped)
	require.True(t, *edit.VideoPaused)
	require.Nil(t, edit.PresentationPaused)

	p, ok := findParticipant(immediateState(t, c), testMyPeer)
	require.True(t, ok)
	require.Equal(t, &VideoDescription{EndpointID: localVideoEndpointID}, p.VideoDescription)

	t.Run("same values are not resent", func(t *testing.T) {
		req := c.UpdateVideoState(testMyPeer, ptr(false), ptr(true), nil)
		require.NoError(t, req.Wait(context.Background()))
		require.Equal(t, 1, th.api.editCount())
	})

	t.Run("muting removes local video", func(t *testing.T) {
		req := c.UpdateVideoState(testMyPeer, ptr(true), nil, nil)
		require.NoError(t, req.Wait(context.Background()))
		require.Equal(t, 2, th.api.editCount())

		p, ok := findParticipant(immediateState(t, c), testMyPeer)
		require.True(t, ok)
		require.Nil(t, p.VideoDescription)
	})

	t.Run("failure allows retry", func(t *testing.T) {
		th.api.mut.Lock()
		th.api.editFn = func(req EditParticipantRequest) (Envelope, error) {
			return Envelope{}, errors.New("network down")
		}
		th.api.mut.Unlock()

		req := c.UpdateVideoState(testMyPeer, nil, nil, ptr(true))
		require.Error(t, req.Wait(context.Background()))
		req = c.UpdateVideoState(testMyPeer, nil, nil, ptr(true))
		require.Error(t, req.Wait(context.Background()))
		require.Equal(t, 4, th.api.editCount())
	})

	t.Run("muted by admin hides local video", func(t *testing.T) {
		th.api.mut.Lock()
		th.api.editFn = nil
		th.api.mut.Unlock()

		req := c.UpdateVideoState(testMyPeer, ptr(false), nil, nil)
		require.NoError(t, req.Wait(context.Background()))
		p, ok := findParticipant(immediateState(t, c), testMyPeer)
		require.True(t, ok)
		require.NotNil(t, p.VideoDescription)

		c.AddUpdates([]Update{participantsUpdate(6, rawParticipant(testMyPeer, 1, 1, participantFlagMuted))})
		require.Eventually(t, func() bool {
			s, _ := c.ImmediateState()
			return s.Version == 6
		}, waitFor, tickFor)

		p, ok = findParticipant(immediateState(t, c), testMyPeer)
		require.True(t, ok)
		require.False(t, p.canUnmute())
		require.Nil(t, p.VideoDescription)
	})
}

func TestUpdateDefaultParticipantsAreMuted(t *testing.T) {
	th := setupTestHelper(t)
	defer th.teardown()

	release := make(chan struct{})
	th.api.settingsFn = func(req SettingsRequest) (Envelope, error) {
		<-release
		return Envelope{}, errors.New("network down")
	}

	c := th.newContext(testState(5))

	req := c.UpdateDefaultParticipantsAreMuted(true)
	require.True(t, immediateState(t, c).DefaultParticipantsAreMuted.IsMuted)

	close(release)
	require.Error(t, req.Wait(context.Background()))
	require.False(t, immediateState(t, c).DefaultParticipantsAreMuted.IsMuted)

	th.api.mut.Lock()
	th.api.settingsFn = nil
	th.api.mut.Unlock()

	require.NoError(t, c.UpdateDefaultParticipantsAreMuted(true).Wait(context.Background()))
	require.True(t, immediateState(t, c).DefaultParticipantsAreMuted.IsMuted)

	// Unchanged values are not sent.
	require.NoError(t, c.UpdateDefaultParticipantsAreMuted(true).Wait(context.Background()))

	settings := th.api.settingsRequests()
	require.Len(t, settings, 2)
	require.True(t, *settings[1].JoinMuted)
	require.False(t, settings[1].ResetInviteHash)
}

func TestSettingsEcho(t *testing.T) {
	th := setupTestHelper(t)
	defer th.teardown()

	th.api.settingsFn = func(req SettingsRequest) (Envelope, error) {
		return Envelope{Updates: []RawUpdate{{
			Type:   RawUpdateCall,
			CallID: testCallID,
			Call: &RawCall{
				ID:                testCallID,
				Flags:             callFlagJoinMuted | callFlagCanChangeJoinMuted,
				ParticipantsCount: 3,
			},
		}}}, nil
	}

	c := th.newContext(testState(5))
	require.NoError(t, c.ResetInviteLinks().Wait(context.Background()))

	s := immediateState(t, c)
	require.Equal(t, DefaultParticipantsAreMuted{IsMuted: true, CanChange: true}, s.DefaultParticipantsAreMuted)
	require.Equal(t, 3, s.TotalCount)

	settings := th.api.settingsRequests()
	require.Len(t, settings, 1)
	require.True(t, settings[0].ResetInviteHash)
	require.Nil(t, settings[0].JoinMuted)
}

func TestToggleScheduledSubscription(t *testing.T) {
	t.Run("no channel", func(t *testing.T) {
		th := setupTestHelper(t)
		defer th.teardown()

		c := th.newContext(testState(5))
		require.ErrorIs(t, c.ToggleScheduledSubscription(true).Err(), ErrNoChannelPeer)
	})

	t.Run("channel call", func(t *testing.T) {
		th := setupTestHelper(t)
		defer th.teardown()

		th.params.ChannelPeerID = ptr(testChannelID)
		c := th.newContext(testState(5))

		require.NoError(t, c.ToggleScheduledSubscription(true).Wait(context.Background()))
		require.True(t, immediateState(t, c).SubscribedToScheduled)
		subscribed, ok := th.peers.isSubscribed(testCallID)
		require.True(t, ok)
		require.True(t, subscribed)

		th.api.mut.Lock()
		th.api.subFn = func(req ScheduledSubscriptionRequest) (Envelope, error) {
			return Envelope{}, errors.New("network down")
		}
		th.api.mut.Unlock()

		require.Error(t, c.ToggleScheduledSubscription(false).Wait(context.Background()))
		require.True(t, immediateState(t, c).SubscribedToScheduled)
		subscribed, _ = th.peers.isSubscribed(testCallID)
		require.True(t, subscribed)
	})
}

func TestUpdateShouldBeRecording(t *testing.T) {
	th := setupTestHelper(t)
	defer th.teardown()

	c := th.newContext(testState(5))

	require.NoError(t, c.UpdateShouldBeRecording(true, ptr(""), nil).Wait(context.Background()))
	require.NoError(t, c.UpdateShouldBeRecording(true, ptr("standup"), ptr(true)).Wait(context.Background()))
	require.NoError(t, c.UpdateShouldBeRecording(false, nil, nil).Wait(context.Background()))

	recordings := th.api.recordingRequests()
	require.Len(t, recordings, 3)
	require.True(t, recordings[0].Start)
	require.Nil(t, recordings[0].Title)
	require.Equal(t, "standup", *recordings[1].Title)
	require.True(t, *recordings[1].VideoPortrait)
	require.False(t, recordings[2].Start)
}
