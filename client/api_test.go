// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/mattermost/rosterd/service/roster"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/stretchr/testify/require"
)

func TestAPIFetchParticipants(t *testing.T) {
	ts := newTestServer(t)
	c := ts.newClient()

	ts.handle(participantsPath, func(body []byte) (any, *model.AppError) {
		var req roster.FetchRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, int64(45), req.Call.ID)
		require.Equal(t, "next", req.Offset)
		require.Equal(t, []uint32{1, 2}, req.SSRCs)
		require.Equal(t, 100, req.Limit)
		require.NotNil(t, req.SortAscending)
		require.True(t, *req.SortAscending)

		return roster.ParticipantsPage{
			Participants: []roster.RawParticipant{{PeerID: 2, Source: 20, Date: 100}},
			Peers:        []roster.Peer{{ID: 2, DisplayName: "peer 2"}},
			NextOffset:   "after",
			Count:        10,
			Version:      7,
		}, nil
	})

	sortAscending := true
	page, err := c.FetchParticipants(context.Background(), roster.FetchRequest{
		Call:          roster.CallReference{ID: 45, AccessHash: 1},
		Offset:        "next",
		SSRCs:         []uint32{1, 2},
		Limit:         100,
		SortAscending: &sortAscending,
	})
	require.NoError(t, err)
	require.Len(t, page.Participants, 1)
	require.Equal(t, roster.PeerID(2), page.Participants[0].PeerID)
	require.Equal(t, uint32(20), page.Participants[0].Source)
	require.Equal(t, "peer 2", page.Peers[0].DisplayName)
	require.Equal(t, "after", page.NextOffset)
	require.Equal(t, 10, page.Count)
	require.Equal(t, int32(7), page.Version)
}

func TestAPIFetchCallInfo(t *testing.T) {
	ts := newTestServer(t)
	c := ts.newClient()

	title := "standup"
	ts.handle(callPath, func(body []byte) (any, *model.AppError) {
		var ref roster.CallReference
		require.NoError(t, json.Unmarshal(body, &ref))
		require.Equal(t, "abc", ref.Slug)
		return roster.RawCall{ID: 45, AccessHash: 1, ParticipantsCount: 3, Title: &title, Version: 4}, nil
	})

	call, err := c.FetchCallInfo(context.Background(), roster.CallReference{Slug: "abc"})
	require.NoError(t, err)
	info, ok := call.Info()
	require.True(t, ok)
	require.Equal(t, int64(45), info.ID)
	require.Equal(t, 3, info.ParticipantCount)
	require.Equal(t, title, *info.Title)
	require.Equal(t, int32(4), info.Version)
}

func TestAPIMutations(t *testing.T) {
	ts := newTestServer(t)
	c := ts.newClient()

	ref := roster.CallReference{ID: 45, AccessHash: 1}
	env := roster.Envelope{
		Updates: []roster.RawUpdate{{
			Type:         roster.RawUpdateParticipants,
			CallID:       45,
			Version:      8,
			Participants: []roster.RawParticipant{{PeerID: 2, Flags: 1}},
		}},
		Peers: []roster.Peer{{ID: 2}},
	}

	t.Run("edit participant", func(t *testing.T) {
		ts.handle(editParticipantPath, func(body []byte) (any, *model.AppError) {
			var req roster.EditParticipantRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.Equal(t, roster.PeerID(2), req.Peer.ID)
			require.NotNil(t, req.Muted)
			require.True(t, *req.Muted)
			require.Nil(t, req.RaiseHand)
			return env, nil
		})

		muted := true
		res, err := c.EditParticipant(context.Background(), roster.EditParticipantRequest{
			Call:  ref,
			Peer:  roster.Peer{ID: 2},
			Muted: &muted,
		})
		require.NoError(t, err)
		require.Equal(t, env, res)
	})

	t.Run("recording", func(t *testing.T) {
		ts.handle(recordingPath, func(body []byte) (any, *model.AppError) {
			var req roster.ToggleRecordingRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.True(t, req.Start)
			return roster.Envelope{}, nil
		})
		_, err := c.ToggleRecording(context.Background(), roster.ToggleRecordingRequest{Call: ref, Start: true})
		require.NoError(t, err)
	})

	t.Run("settings", func(t *testing.T) {
		ts.handle(settingsPath, func(body []byte) (any, *model.AppError) {
			var req roster.SettingsRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.True(t, req.ResetInviteHash)
			require.Nil(t, req.JoinMuted)
			return roster.Envelope{}, nil
		})
		_, err := c.UpdateSettings(context.Background(), roster.SettingsRequest{Call: ref, ResetInviteHash: true})
		require.NoError(t, err)
	})

	t.Run("scheduled subscription", func(t *testing.T) {
		ts.handle(scheduledSubscriptionPath, func(body []byte) (any, *model.AppError) {
			var req roster.ScheduledSubscriptionRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.True(t, req.Subscribe)
			return roster.Envelope{}, nil
		})
		_, err := c.ToggleScheduledSubscription(context.Background(), roster.ScheduledSubscriptionRequest{Call: ref, Subscribe: true})
		require.NoError(t, err)
	})

	t.Run("chain block", func(t *testing.T) {
		ts.handle(chainBlocksPath, func(body []byte) (any, *model.AppError) {
			var req roster.ChainBlockRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.Equal(t, []byte("block"), req.Block)
			return roster.Envelope{}, nil
		})
		_, err := c.SendChainBlock(context.Background(), roster.ChainBlockRequest{Call: ref, Block: []byte("block")})
		require.NoError(t, err)
	})
}

func TestAPIPollChainBlocks(t *testing.T) {
	ts := newTestServer(t)
	c := ts.newClient()

	t.Run("blocks", func(t *testing.T) {
		ts.handle(chainPollPath, func(body []byte) (any, *model.AppError) {
			var req roster.ChainPollRequest
			require.NoError(t, json.Unmarshal(body, &req))
			return roster.RawUpdate{
				Type:       roster.RawUpdateChainBlocks,
				CallID:     req.Call.ID,
				SubChainID: req.SubChainID,
				Blocks:     [][]byte{{1}, {2}},
				NextOffset: req.Offset + 2,
			}, nil
		})

		u, err := c.PollChainBlocks(context.Background(), roster.ChainPollRequest{
			Call:       roster.CallReference{ID: 45},
			SubChainID: 1,
			Offset:     10,
			Limit:      100,
		})
		require.NoError(t, err)
		require.Equal(t, 1, u.SubChainID)
		require.Equal(t, 12, u.NextOffset)
		require.Len(t, u.Blocks, 2)
	})

	t.Run("unexpected update", func(t *testing.T) {
		ts.handle(chainPollPath, func(body []byte) (any, *model.AppError) {
			return roster.RawUpdate{Type: roster.RawUpdateParticipants}, nil
		})

		_, err := c.PollChainBlocks(context.Background(), roster.ChainPollRequest{Call: roster.CallReference{ID: 45}})
		require.Error(t, err)
	})
}

func TestAPICallManagement(t *testing.T) {
	ts := newTestServer(t)
	c := ts.newClient()

	ref := roster.CallReference{ID: 45, AccessHash: 1}

	t.Run("edit title", func(t *testing.T) {
		ts.handle(titlePath, func(body []byte) (any, *model.AppError) {
			var req roster.EditTitleRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.Equal(t, ref, req.Call)
			require.Equal(t, "retro", req.Title)
			return roster.Envelope{}, nil
		})
		_, err := c.EditTitle(context.Background(), roster.EditTitleRequest{Call: ref, Title: "retro"})
		require.NoError(t, err)
	})

	t.Run("discard", func(t *testing.T) {
		ts.handle(discardPath, func(body []byte) (any, *model.AppError) {
			var req roster.CallReference
			require.NoError(t, json.Unmarshal(body, &req))
			require.Equal(t, ref, req)
			return roster.Envelope{Updates: []roster.RawUpdate{{
				Type:   roster.RawUpdateCall,
				CallID: 45,
				Call:   &roster.RawCall{ID: 45, Discarded: true},
			}}}, nil
		})
		env, err := c.DiscardCall(context.Background(), ref)
		require.NoError(t, err)
		require.Len(t, env.Updates, 1)
		require.True(t, env.Updates[0].Call.Discarded)
	})

	t.Run("invite", func(t *testing.T) {
		ts.handle(invitePath, func(body []byte) (any, *model.AppError) {
			var req roster.InviteRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.Len(t, req.Peers, 2)
			return nil, model.NewAppError("InviteToCall", roster.CodeTooManyParticipants, nil, "", http.StatusBadRequest)
		})
		_, err := c.InviteToCall(context.Background(), roster.InviteRequest{
			Call:  ref,
			Peers: []roster.Peer{{ID: 2}, {ID: 3}},
		})
		require.ErrorIs(t, err, roster.ErrTooManyParticipants)
	})

	t.Run("invite links", func(t *testing.T) {
		ts.handle(inviteLinksPath, func(body []byte) (any, *model.AppError) {
			return roster.InviteLinks{ListenerLink: "https://example.com/l"}, nil
		})
		links, err := c.ExportInviteLinks(context.Background(), ref)
		require.NoError(t, err)
		require.Equal(t, "https://example.com/l", links.ListenerLink)
		require.Empty(t, links.SpeakerLink)
	})

	t.Run("check call", func(t *testing.T) {
		ts.handle(checkCallPath, func(body []byte) (any, *model.AppError) {
			var req roster.CheckCallRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.Equal(t, []uint32{10, 20}, req.SSRCs)
			return roster.CheckCallResult{SSRCs: []uint32{20}}, nil
		})
		res, err := c.CheckCall(context.Background(), roster.CheckCallRequest{Call: ref, SSRCs: []uint32{10, 20}})
		require.NoError(t, err)
		require.Equal(t, []uint32{20}, res.SSRCs)
	})
}

func TestAPIErrors(t *testing.T) {
	ts := newTestServer(t)
	c := ts.newClient()

	t.Run("server error code", func(t *testing.T) {
		ts.handle(editParticipantPath, func(body []byte) (any, *model.AppError) {
			return nil, model.NewAppError("EditParticipant", roster.CodeCallInvalid, nil, "", http.StatusBadRequest)
		})

		_, err := c.EditParticipant(context.Background(), roster.EditParticipantRequest{Peer: roster.Peer{ID: 2}})
		require.Error(t, err)
		require.ErrorIs(t, err, roster.ErrCallInvalid)

		var apiErr *roster.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		require.Equal(t, roster.CodeCallInvalid, apiErr.Code)
	})

	t.Run("chain write conflict", func(t *testing.T) {
		ts.handle(chainBlocksPath, func(body []byte) (any, *model.AppError) {
			return nil, model.NewAppError("SendChainBlock", "CONF_WRITE_CHAIN_INVALID_HEIGHT", nil, "", http.StatusBadRequest)
		})

		_, err := c.SendChainBlock(context.Background(), roster.ChainBlockRequest{Block: []byte("block")})
		require.ErrorIs(t, err, roster.ErrChainWriteConflict)
	})

	t.Run("unauthorized", func(t *testing.T) {
		c, err := New(Config{SiteURL: ts.srv.URL, AuthToken: "invalid"})
		require.NoError(t, err)

		_, err = c.FetchCallInfo(context.Background(), roster.CallReference{ID: 45})
		var apiErr *roster.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	})

	t.Run("transport error", func(t *testing.T) {
		c, err := New(Config{SiteURL: "http://localhost:1", AuthToken: "token"})
		require.NoError(t, err)

		_, err = c.FetchCallInfo(context.Background(), roster.CallReference{ID: 45})
		require.Error(t, err)
		var apiErr *roster.APIError
		require.False(t, errors.As(err, &apiErr))
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.FetchCallInfo(ctx, roster.CallReference{ID: 45})
		require.Error(t, err)
	})
}
