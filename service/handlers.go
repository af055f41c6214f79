// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mattermost/rosterd/service/api"
	"github.com/mattermost/rosterd/service/roster"
)

const (
	requestBodyMaxSizeBytes = 1024 * 1024 // 1MB
	callRequestTimeout      = 10 * time.Second
	defaultChainPollLimit   = 100
)

type CallSummary struct {
	ID           int64 `json:"id"`
	Version      int32 `json:"version"`
	TotalCount   int   `json:"total_count"`
	Participants int   `json:"participants"`
}

type muteRequest struct {
	PeerID    roster.PeerID     `json:"peer_id"`
	MuteState *roster.MuteState `json:"mute_state"`
	Volume    *int32            `json:"volume"`
	RaiseHand *bool             `json:"raise_hand"`
}

type videoRequest struct {
	PeerID             roster.PeerID `json:"peer_id"`
	VideoMuted         *bool         `json:"video_muted"`
	VideoPaused        *bool         `json:"video_paused"`
	PresentationPaused *bool         `json:"presentation_paused"`
}

type recordingRequest struct {
	Record        bool    `json:"record"`
	Title         *string `json:"title"`
	VideoPortrait *bool   `json:"video_portrait"`
}

type audioLevel struct {
	PeerID roster.PeerID `json:"peer_id"`
	SSRC   uint32        `json:"ssrc"`
	Level  uint8         `json:"level"`
}

func (s *Service) registerCallHandlers() {
	s.apiServer.RegisterHandleFunc("GET /calls", s.handleGetCalls)
	s.apiServer.RegisterHandleFunc("POST /calls", s.handleWatchCall)
	s.apiServer.RegisterHandleFunc("GET /calls/{id}", s.callHandler("getCallState", s.handleGetCallState))
	s.apiServer.RegisterHandleFunc("DELETE /calls/{id}", s.callHandler("unwatchCall", s.handleUnwatchCall))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/mute", s.callHandler("updateMuteState", s.handleUpdateMuteState))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/video", s.callHandler("updateVideoState", s.handleUpdateVideoState))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/raise_hand", s.callHandler("raiseHand", s.handleRaiseHand))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/lower_hand", s.callHandler("lowerHand", s.handleLowerHand))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/load_more", s.callHandler("loadMore", s.handleLoadMore))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/ensure_participants", s.callHandler("ensureParticipants", s.handleEnsureParticipants))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/recording", s.callHandler("updateRecording", s.handleUpdateRecording))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/default_muted", s.callHandler("updateDefaultMuted", s.handleUpdateDefaultMuted))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/reset_invite_links", s.callHandler("resetInviteLinks", s.handleResetInviteLinks))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/scheduled_subscription", s.callHandler("toggleScheduledSubscription", s.handleScheduledSubscription))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/chain_blocks", s.callHandler("broadcastChainBlock", s.handleBroadcastChainBlock))
	s.apiServer.RegisterHandleFunc("GET /calls/{id}/chain_blocks", s.callHandler("pollChainBlocks", s.handlePollChainBlocks))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/levels", s.callHandler("pushAudioLevels", s.handlePushAudioLevels))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/title", s.callHandler("editTitle", s.handleEditTitle))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/discard", s.callHandler("discardCall", s.handleDiscardCall))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/invite", s.callHandler("inviteToCall", s.handleInviteToCall))
	s.apiServer.RegisterHandleFunc("GET /calls/{id}/invite_links", s.callHandler("getInviteLinks", s.handleGetInviteLinks))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/check", s.callHandler("checkCall", s.handleCheckCall))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/refresh", s.callHandler("refreshCall", s.handleRefreshCall))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, data *httpData) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyMaxSizeBytes)).Decode(v); err != nil {
		data.err = "failed to decode request: " + err.Error()
		data.code = http.StatusBadRequest
		return false
	}
	return true
}

// errorCode maps roster and call API errors to a response status.
func errorCode(err error) int {
	var apiErr *roster.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 600:
		return apiErr.StatusCode
	case errors.Is(err, ErrCallNotWatched), errors.Is(err, roster.ErrPeerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCallAlreadyWatched), errors.Is(err, roster.ErrCanceled):
		return http.StatusConflict
	case errors.Is(err, roster.ErrNoChannelPeer):
		return http.StatusBadRequest
	case errors.Is(err, roster.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// authenticate fills data with the outcome of a failed authentication.
func (s *Service) authenticate(w http.ResponseWriter, r *http.Request, data *httpData) bool {
	clientID, code, err := s.authHandler(w, r)
	if err != nil {
		data.err = err.Error()
		data.code = code
		return false
	}
	data.clientID = clientID
	return true
}

type callHandlerFunc func(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request)

// callHandler authenticates the request and resolves the watched call from
// the path before running fn.
func (s *Service) callHandler(name string, fn callHandlerFunc) api.HandleFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := newHTTPData()
		defer s.httpAudit(name, data, w, r)

		if !s.authenticate(w, r, data) {
			return
		}

		callID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			data.err = "invalid call id"
			data.code = http.StatusBadRequest
			return
		}
		data.callID = callID

		call, err := s.getCall(callID)
		if err != nil {
			data.err = err.Error()
			data.code = errorCode(err)
			return
		}

		fn(call, data, w, r)
	}
}

// waitRequest waits for req to complete and fills data with its outcome.
func waitRequest(r *http.Request, req *roster.Request, data *httpData) {
	ctx, cancel := context.WithTimeout(r.Context(), callRequestTimeout)
	defer cancel()

	if err := req.Wait(ctx); err != nil {
		data.err = err.Error()
		data.code = errorCode(err)
		return
	}

	data.code = http.StatusOK
}

func (s *Service) handleGetCalls(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("getCalls", data, w, r)

	if !s.authenticate(w, r, data) {
		return
	}

	calls := []CallSummary{}
	for _, callID := range s.watchedCallIDs() {
		call, err := s.getCall(callID)
		if err != nil {
			continue
		}
		summary := CallSummary{ID: callID}
		if state, ok := call.roster.ImmediateState(); ok {
			summary.Version = state.Version
			summary.TotalCount = state.TotalCount
			summary.Participants = len(state.Participants)
		}
		calls = append(calls, summary)
	}

	data.code = http.StatusOK
	data.resData["calls"] = calls
}

func (s *Service) handleWatchCall(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("watchCall", data, w, r)

	if !s.authenticate(w, r, data) {
		return
	}

	var cfg CallConfig
	if !decodeJSON(w, r, &cfg, data) {
		return
	}
	if err := cfg.IsValid(); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), callRequestTimeout)
	defer cancel()

	callID, err := s.WatchCall(ctx, cfg)
	data.callID = callID
	if err != nil {
		data.err = err.Error()
		data.code = errorCode(err)
		return
	}

	data.code = http.StatusCreated
	data.resData["id"] = callID
}

func (s *Service) handleGetCallState(call *watchedCall, data *httpData, _ http.ResponseWriter, _ *http.Request) {
	state, ok := call.roster.ImmediateState()
	if !ok {
		data.err = "call state is not available yet"
		data.code = http.StatusServiceUnavailable
		return
	}
	data.code = http.StatusOK
	data.resData["state"] = state
}

func (s *Service) handleUnwatchCall(call *watchedCall, data *httpData, _ http.ResponseWriter, _ *http.Request) {
	if err := s.UnwatchCall(call.ref.ID); err != nil {
		data.err = err.Error()
		data.code = errorCode(err)
		return
	}
	data.code = http.StatusOK
}

func (s *Service) handleUpdateMuteState(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if !decodeJSON(w, r, &req, data) {
		return
	}
	waitRequest(r, call.roster.UpdateMuteState(req.PeerID, req.MuteState, req.Volume, req.RaiseHand), data)
}

func (s *Service) handleUpdateVideoState(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req videoRequest
	if !decodeJSON(w, r, &req, data) {
		return
	}
	waitRequest(r, call.roster.UpdateVideoState(req.PeerID, req.VideoMuted, req.VideoPaused, req.PresentationPaused), data)
}

func (s *Service) handleRaiseHand(call *watchedCall, data *httpData, _ http.ResponseWriter, r *http.Request) {
	waitRequest(r, call.roster.RaiseHand(), data)
}

func (s *Service) handleLowerHand(call *watchedCall, data *httpData, _ http.ResponseWriter, r *http.Request) {
	waitRequest(r, call.roster.LowerHand(), data)
}

func (s *Service) handleLoadMore(call *watchedCall, data *httpData, _ http.ResponseWriter, r *http.Request) {
	state, ok := call.roster.ImmediateState()
	if !ok || state.NextParticipantsFetchOffset == nil {
		data.err = "no more participants to load"
		data.code = http.StatusBadRequest
		return
	}
	waitRequest(r, call.roster.LoadMore(*state.NextParticipantsFetchOffset), data)
}

func (s *Service) handleEnsureParticipants(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req struct {
		SSRCs []uint32 `json:"ssrcs"`
	}
	if !decodeJSON(w, r, &req, data) {
		return
	}
	call.roster.EnsureHaveParticipants(req.SSRCs)
	data.code = http.StatusAccepted
}

func (s *Service) handleUpdateRecording(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	if !decodeJSON(w, r, &req, data) {
		return
	}
	waitRequest(r, call.roster.UpdateShouldBeRecording(req.Record, req.Title, req.VideoPortrait), data)
}

func (s *Service) handleUpdateDefaultMuted(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if !decodeJSON(w, r, &req, data) {
		return
	}
	waitRequest(r, call.roster.UpdateDefaultParticipantsAreMuted(req.Muted), data)
}

func (s *Service) handleResetInviteLinks(call *watchedCall, data *httpData, _ http.ResponseWriter, r *http.Request) {
	waitRequest(r, call.roster.ResetInviteLinks(), data)
}

func (s *Service) handleScheduledSubscription(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subscribe bool `json:"subscribe"`
	}
	if !decodeJSON(w, r, &req, data) {
		return
	}
	waitRequest(r, call.roster.ToggleScheduledSubscription(req.Subscribe), data)
}

func (s *Service) handleBroadcastChainBlock(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Block []byte `json:"block"`
	}
	if !decodeJSON(w, r, &req, data) {
		return
	}
	if len(req.Block) == 0 {
		data.err = "block should not be empty"
		data.code = http.StatusBadRequest
		return
	}
	waitRequest(r, call.roster.BroadcastChainBlock(req.Block), data)
}

func (s *Service) handlePollChainBlocks(call *watchedCall, data *httpData, _ http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := map[string]int{
		"sub_chain_id": 0,
		"offset":       0,
		"limit":        defaultChainPollLimit,
	}
	for name := range params {
		val := query.Get(name)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			data.err = "invalid " + name + " value"
			data.code = http.StatusBadRequest
			return
		}
		params[name] = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), callRequestTimeout)
	defer cancel()

	update, err := call.roster.PollChainBlocks(ctx, params["sub_chain_id"], params["offset"], params["limit"])
	if err != nil {
		data.err = err.Error()
		data.code = errorCode(err)
		return
	}

	data.code = http.StatusOK
	data.resData["sub_chain_id"] = update.SubChainID
	data.resData["blocks"] = update.Blocks
	data.resData["next_offset"] = update.NextOffset
}

func (s *Service) handlePushAudioLevels(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Levels []audioLevel `json:"levels"`
	}
	if !decodeJSON(w, r, &req, data) {
		return
	}

	for _, l := range req.Levels {
		if err := call.tracker.PushAudioLevel(l.PeerID, l.SSRC, l.Level); err != nil {
			data.err = err.Error()
			data.code = http.StatusBadRequest
			return
		}
	}

	data.code = http.StatusOK
	data.resData["speaking"] = len(call.tracker.Speaking())
}

func (s *Service) handleEditTitle(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &req, data) {
		return
	}
	waitRequest(r, call.roster.EditTitle(req.Title), data)
}

func (s *Service) handleDiscardCall(call *watchedCall, data *httpData, _ http.ResponseWriter, r *http.Request) {
	waitRequest(r, call.roster.Discard(), data)
}

func (s *Service) handleInviteToCall(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerIDs []roster.PeerID `json:"peer_ids"`
	}
	if !decodeJSON(w, r, &req, data) {
		return
	}
	if len(req.PeerIDs) == 0 {
		data.err = "peer_ids should not be empty"
		data.code = http.StatusBadRequest
		return
	}
	waitRequest(r, call.roster.InviteToCall(req.PeerIDs), data)
}

func (s *Service) handleGetInviteLinks(call *watchedCall, data *httpData, _ http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), callRequestTimeout)
	defer cancel()

	links, err := call.roster.InviteLinks(ctx)
	if err != nil {
		data.err = err.Error()
		data.code = errorCode(err)
		return
	}

	data.code = http.StatusOK
	data.resData["listener_link"] = links.ListenerLink
	if links.SpeakerLink != "" {
		data.resData["speaker_link"] = links.SpeakerLink
	}
}

func (s *Service) handleCheckCall(call *watchedCall, data *httpData, w http.ResponseWriter, r *http.Request) {
	var req struct {
		SSRCs []uint32 `json:"ssrcs"`
	}
	if !decodeJSON(w, r, &req, data) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), callRequestTimeout)
	defer cancel()

	ssrcs, err := call.roster.CheckCall(ctx, req.SSRCs)
	if err != nil {
		data.err = err.Error()
		data.code = errorCode(err)
		return
	}
	if ssrcs == nil {
		ssrcs = []uint32{}
	}

	data.code = http.StatusOK
	data.resData["ssrcs"] = ssrcs
}

func (s *Service) handleRefreshCall(call *watchedCall, data *httpData, _ http.ResponseWriter, r *http.Request) {
	waitRequest(r, call.roster.RefreshCall(), data)
}
