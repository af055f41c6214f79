// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Participant flag bits.
const (
	participantFlagMuted       = 1 << 0
	participantFlagLeft        = 1 << 1
	participantFlagCanUnmute   = 1 << 2
	participantFlagJustJoined  = 1 << 4
	participantFlagMin         = 1 << 8
	participantFlagMutedByYou  = 1 << 9
	participantFlagJoinedVideo = 1 << 15
)

// Call flag bits.
const (
	callFlagJoinMuted          = 1 << 1
	callFlagCanChangeJoinMuted = 1 << 2
	callFlagSortAscending      = 1 << 6
	callFlagSubscribed         = 1 << 8
	callFlagVideoEnabled       = 1 << 9
	callFlagStream             = 1 << 12
	callFlagCreator            = 1 << 15
)

const videoFlagPaused = 1 << 0

type RawSourceGroup struct {
	Semantics string   `msgpack:"semantics" json:"semantics"`
	Sources   []uint32 `msgpack:"sources" json:"sources"`
}

type RawVideo struct {
	Flags        int32            `msgpack:"flags" json:"flags"`
	Endpoint     string           `msgpack:"endpoint" json:"endpoint"`
	SourceGroups []RawSourceGroup `msgpack:"source_groups" json:"source_groups"`
	AudioSource  *uint32          `msgpack:"audio_source,omitempty" json:"audio_source,omitempty"`
}

type RawParticipant struct {
	Flags           int32     `msgpack:"flags" json:"flags"`
	PeerID          PeerID    `msgpack:"peer_id" json:"peer_id"`
	Date            int32     `msgpack:"date" json:"date"`
	ActiveDate      *int32    `msgpack:"active_date,omitempty" json:"active_date,omitempty"`
	Source          uint32    `msgpack:"source" json:"source"`
	Volume          *int32    `msgpack:"volume,omitempty" json:"volume,omitempty"`
	About           *string   `msgpack:"about,omitempty" json:"about,omitempty"`
	RaiseHandRating *int64    `msgpack:"raise_hand_rating,omitempty" json:"raise_hand_rating,omitempty"`
	Video           *RawVideo `msgpack:"video,omitempty" json:"video,omitempty"`
	Presentation    *RawVideo `msgpack:"presentation,omitempty" json:"presentation,omitempty"`
}

type RawCall struct {
	Flags             int32   `msgpack:"flags" json:"flags"`
	ID                int64   `msgpack:"id" json:"id"`
	AccessHash        int64   `msgpack:"access_hash" json:"access_hash"`
	ParticipantsCount int32   `msgpack:"participants_count" json:"participants_count"`
	Title             *string `msgpack:"title,omitempty" json:"title,omitempty"`
	RecordStartDate   *int32  `msgpack:"record_start_date,omitempty" json:"record_start_date,omitempty"`
	ScheduleDate      *int32  `msgpack:"schedule_date,omitempty" json:"schedule_date,omitempty"`
	UnmutedVideoLimit int32   `msgpack:"unmuted_video_limit" json:"unmuted_video_limit"`
	Version           int32   `msgpack:"version" json:"version"`
	Discarded         bool    `msgpack:"discarded" json:"discarded"`
}

type RawUpdateType string

const (
	RawUpdateParticipants RawUpdateType = "participants"
	RawUpdateCall         RawUpdateType = "call"
	RawUpdateChainBlocks  RawUpdateType = "chain_blocks"
)

// RawUpdate is a single call-scoped delta as sent on the account update stream.
type RawUpdate struct {
	Type         RawUpdateType    `msgpack:"type" json:"type"`
	CallID       int64            `msgpack:"call_id" json:"call_id"`
	Participants []RawParticipant `msgpack:"participants,omitempty" json:"participants,omitempty"`
	Version      int32            `msgpack:"version,omitempty" json:"version,omitempty"`
	Call         *RawCall         `msgpack:"call,omitempty" json:"call,omitempty"`
	SubChainID   int              `msgpack:"sub_chain_id,omitempty" json:"sub_chain_id,omitempty"`
	Blocks       [][]byte         `msgpack:"blocks,omitempty" json:"blocks,omitempty"`
	NextOffset   int              `msgpack:"next_offset,omitempty" json:"next_offset,omitempty"`
}

// Envelope groups updates with the peers they reference.
type Envelope struct {
	Updates []RawUpdate `msgpack:"updates" json:"updates"`
	Peers   []Peer      `msgpack:"peers,omitempty" json:"peers,omitempty"`
}

func (e Envelope) Pack() ([]byte, error) {
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

func UnpackEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return e, nil
}

// Decode converts a raw update into the update model.
func (u RawUpdate) Decode() (Update, error) {
	switch u.Type {
	case RawUpdateParticipants:
		return ParticipantsUpdate{
			Participants: decodeParticipantUpdates(u.Participants),
			Version:      u.Version,
		}, nil
	case RawUpdateCall:
		if u.Call == nil {
			return nil, fmt.Errorf("call update is missing call data")
		}
		return u.Call.callUpdate(), nil
	case RawUpdateChainBlocks:
		return ChainBlocksUpdate{
			SubChainID: u.SubChainID,
			Blocks:     u.Blocks,
			NextOffset: u.NextOffset,
		}, nil
	default:
		return nil, fmt.Errorf("unknown update type %q", u.Type)
	}
}

// UpdatesForCall decodes the updates of the envelope that target callID.
func (e Envelope) UpdatesForCall(callID int64) ([]Update, error) {
	var updates []Update
	for _, raw := range e.Updates {
		if raw.CallID != callID {
			continue
		}
		u, err := raw.Decode()
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func decodeParticipantUpdates(raw []RawParticipant) []ParticipantUpdate {
	updates := make([]ParticipantUpdate, 0, len(raw))
	for _, p := range raw {
		updates = append(updates, p.participantUpdate())
	}
	return updates
}

func (v *RawVideo) description() *VideoDescription {
	if v == nil {
		return nil
	}
	groups := make([]SSRCGroup, 0, len(v.SourceGroups))
	for _, g := range v.SourceGroups {
		groups = append(groups, SSRCGroup{
			Semantics: g.Semantics,
			SSRCs:     append([]uint32(nil), g.Sources...),
		})
	}
	return &VideoDescription{
		EndpointID: v.Endpoint,
		SSRCGroups: groups,
		AudioSSRC:  clonePtr(v.AudioSource),
		IsPaused:   v.Flags&videoFlagPaused != 0,
	}
}

func (p RawParticipant) muteState() *MuteState {
	mutedByYou := p.Flags&participantFlagMutedByYou != 0
	if p.Flags&participantFlagMuted != 0 {
		return &MuteState{
			CanUnmute:  p.Flags&participantFlagCanUnmute != 0,
			MutedByYou: mutedByYou,
		}
	} else if mutedByYou {
		return &MuteState{CanUnmute: false, MutedByYou: true}
	}
	return nil
}

func (p RawParticipant) descriptions(muteState *MuteState) (*VideoDescription, *VideoDescription) {
	if muteState != nil && !muteState.CanUnmute {
		return nil, nil
	}
	return p.Video.description(), p.Presentation.description()
}

func (p RawParticipant) activityTimestamp() *float64 {
	if p.ActiveDate == nil {
		return nil
	}
	return ptr(float64(*p.ActiveDate))
}

func (p RawParticipant) participantUpdate() ParticipantUpdate {
	muteState := p.muteState()
	video, presentation := p.descriptions(muteState)

	status := StatusNone
	if p.Flags&participantFlagLeft != 0 {
		status = StatusLeft
	} else if p.Flags&participantFlagJustJoined != 0 {
		status = StatusJoined
	}

	var omitted FieldGroup
	if p.Flags&participantFlagMin != 0 {
		omitted = OmittedMin
	}

	return ParticipantUpdate{
		PeerID:                  p.PeerID,
		SSRC:                    ptr(p.Source),
		VideoDescription:        video,
		PresentationDescription: presentation,
		JoinTimestamp:           p.Date,
		RaiseHandRating:         clonePtr(p.RaiseHandRating),
		ActivityTimestamp:       p.activityTimestamp(),
		MuteState:               muteState,
		Volume:                  clonePtr(p.Volume),
		About:                   clonePtr(p.About),
		JoinedVideo:             p.Flags&participantFlagJoinedVideo != 0,
		Status:                  status,
		Omitted:                 omitted,
	}
}

// participant builds a roster entry. The peer must already be resolved.
func (p RawParticipant) participant(peer Peer) Participant {
	muteState := p.muteState()
	video, presentation := p.descriptions(muteState)
	return Participant{
		ID:                      PeerParticipantID(peer.ID),
		Peer:                    &peer,
		SSRC:                    ptr(p.Source),
		VideoDescription:        video,
		PresentationDescription: presentation,
		JoinTimestamp:           p.Date,
		RaiseHandRating:         clonePtr(p.RaiseHandRating),
		HasRaiseHand:            p.RaiseHandRating != nil,
		ActivityTimestamp:       p.activityTimestamp(),
		MuteState:               muteState,
		Volume:                  clonePtr(p.Volume),
		About:                   clonePtr(p.About),
		JoinedVideo:             p.Flags&participantFlagJoinedVideo != 0,
	}
}

func (c RawCall) callUpdate() CallUpdate {
	return CallUpdate{
		IsTerminated:                c.Discarded,
		DefaultParticipantsAreMuted: c.defaultParticipantsAreMuted(),
		Title:                       clonePtr(c.Title),
		RecordingStartTimestamp:     clonePtr(c.RecordStartDate),
		ScheduleTimestamp:           clonePtr(c.ScheduleDate),
		IsVideoEnabled:              c.Flags&callFlagVideoEnabled != 0,
		ParticipantCount:            ptr(int(c.ParticipantsCount)),
	}
}

func (c RawCall) defaultParticipantsAreMuted() DefaultParticipantsAreMuted {
	return DefaultParticipantsAreMuted{
		IsMuted:   c.Flags&callFlagJoinMuted != 0,
		CanChange: c.Flags&callFlagCanChangeJoinMuted != 0,
	}
}

// Info decodes call metadata. It returns false for a discarded call.
func (c RawCall) Info() (CallInfo, bool) {
	if c.Discarded {
		return CallInfo{}, false
	}
	return CallInfo{
		ID:                          c.ID,
		AccessHash:                  c.AccessHash,
		ParticipantCount:            int(c.ParticipantsCount),
		Title:                       clonePtr(c.Title),
		ScheduleTimestamp:           clonePtr(c.ScheduleDate),
		SubscribedToScheduled:       c.Flags&callFlagSubscribed != 0,
		RecordingStartTimestamp:     clonePtr(c.RecordStartDate),
		SortAscending:               c.Flags&callFlagSortAscending != 0,
		DefaultParticipantsAreMuted: c.defaultParticipantsAreMuted(),
		IsVideoEnabled:              c.Flags&callFlagVideoEnabled != 0,
		UnmutedVideoLimit:           int(c.UnmutedVideoLimit),
		IsStream:                    c.Flags&callFlagStream != 0,
		IsCreator:                   c.Flags&callFlagCreator != 0,
		Version:                     c.Version,
	}, true
}
