// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"context"
	"time"
)

const defaultFetchLimit = 100

type FetchRequest struct {
	Call   CallReference `json:"call"`
	Offset string        `json:"offset,omitempty"`
	SSRCs  []uint32      `json:"ssrcs,omitempty"`
	Limit  int           `json:"limit"`
	// SortAscending overrides the call order when set.
	SortAscending *bool `json:"sort_ascending,omitempty"`
}

// ParticipantsPage is one page of the roster as returned by the server.
type ParticipantsPage struct {
	Participants []RawParticipant `msgpack:"participants" json:"participants"`
	Peers        []Peer           `msgpack:"peers" json:"peers"`
	NextOffset   string           `msgpack:"next_offset" json:"next_offset"`
	Count        int              `msgpack:"count" json:"count"`
	Version      int32            `msgpack:"version" json:"version"`
}

type EditParticipantRequest struct {
	Call               CallReference `json:"call"`
	Peer               Peer          `json:"peer"`
	Muted              *bool         `json:"muted,omitempty"`
	Volume             *int32        `json:"volume,omitempty"`
	RaiseHand          *bool         `json:"raise_hand,omitempty"`
	VideoStopped       *bool         `json:"video_stopped,omitempty"`
	VideoPaused        *bool         `json:"video_paused,omitempty"`
	PresentationPaused *bool         `json:"presentation_paused,omitempty"`
}

type ToggleRecordingRequest struct {
	Call          CallReference `json:"call"`
	Start         bool          `json:"start"`
	Title         *string       `json:"title,omitempty"`
	VideoPortrait *bool         `json:"video_portrait,omitempty"`
}

type SettingsRequest struct {
	Call            CallReference `json:"call"`
	JoinMuted       *bool         `json:"join_muted,omitempty"`
	ResetInviteHash bool          `json:"reset_invite_hash,omitempty"`
}

type ScheduledSubscriptionRequest struct {
	Call      CallReference `json:"call"`
	Subscribe bool          `json:"subscribe"`
}

type ChainBlockRequest struct {
	Call  CallReference `json:"call"`
	Block []byte        `json:"block"`
}

type ChainPollRequest struct {
	Call       CallReference `json:"call"`
	SubChainID int           `json:"sub_chain_id"`
	Offset     int           `json:"offset"`
	Limit      int           `json:"limit"`
}

type EditTitleRequest struct {
	Call  CallReference `json:"call"`
	Title string        `json:"title"`
}

type InviteRequest struct {
	Call  CallReference `json:"call"`
	Peers []Peer        `json:"peers"`
}

type CheckCallRequest struct {
	Call  CallReference `json:"call"`
	SSRCs []uint32      `json:"ssrcs"`
}

// CheckCallResult lists the sources the server still counts as joined.
type CheckCallResult struct {
	SSRCs []uint32 `msgpack:"ssrcs" json:"ssrcs"`
}

// InviteLinks are the public links to a call. SpeakerLink is only returned
// to accounts that can manage the call.
type InviteLinks struct {
	ListenerLink string `msgpack:"listener_link" json:"listener_link"`
	SpeakerLink  string `msgpack:"speaker_link,omitempty" json:"speaker_link,omitempty"`
}

// API is the remote call API. Mutations return the server's update envelope.
// Failures carrying a server error code are returned as *APIError.
type API interface {
	FetchParticipants(ctx context.Context, req FetchRequest) (ParticipantsPage, error)
	FetchCallInfo(ctx context.Context, ref CallReference) (RawCall, error)
	EditParticipant(ctx context.Context, req EditParticipantRequest) (Envelope, error)
	ToggleRecording(ctx context.Context, req ToggleRecordingRequest) (Envelope, error)
	UpdateSettings(ctx context.Context, req SettingsRequest) (Envelope, error)
	ToggleScheduledSubscription(ctx context.Context, req ScheduledSubscriptionRequest) (Envelope, error)
	SendChainBlock(ctx context.Context, req ChainBlockRequest) (Envelope, error)
	PollChainBlocks(ctx context.Context, req ChainPollRequest) (ChainBlocksUpdate, error)
	EditTitle(ctx context.Context, req EditTitleRequest) (Envelope, error)
	DiscardCall(ctx context.Context, ref CallReference) (Envelope, error)
	InviteToCall(ctx context.Context, req InviteRequest) (Envelope, error)
	ExportInviteLinks(ctx context.Context, ref CallReference) (InviteLinks, error)
	CheckCall(ctx context.Context, req CheckCallRequest) (CheckCallResult, error)
}

// PeerStore resolves and persists peers. It is shared with other components
// and may change between lookups.
type PeerStore interface {
	GetPeers(ctx context.Context, ids []PeerID) (map[PeerID]Peer, error)
	PutPeers(ctx context.Context, peers []Peer) error
	SetActiveCall(ctx context.Context, peerID PeerID, ref *CallReference) error
	SetScheduledSubscription(ctx context.Context, callID int64, subscribed bool) error
}

// UpdateSource is the account-wide stream of raw update envelopes.
type UpdateSource interface {
	Subscribe() (<-chan Envelope, func())
}

// E2EContext exposes the E2E encryption subsystem outputs.
type E2EContext interface {
	BlockchainParticipants() <-chan []BlockchainParticipant
	IsFailed() <-chan bool
}

// ActivitySample is a speaking report from the activity feed.
type ActivitySample struct {
	PeerID    PeerID
	Speaking  bool
	Timestamp time.Time
}

type Metrics interface {
	IncUpdates(result string)
	IncResyncs()
	IncFetches(purpose, result string)
	IncMutations(kind, result string)
	SetParticipants(callID int64, count int)
}

type noopMetrics struct{}

func (noopMetrics) IncUpdates(string)           {}
func (noopMetrics) IncResyncs()                 {}
func (noopMetrics) IncFetches(string, string)   {}
func (noopMetrics) IncMutations(string, string) {}
func (noopMetrics) SetParticipants(int64, int)  {}
