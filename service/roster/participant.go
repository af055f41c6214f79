// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"sort"
	"strconv"
)

type PeerID int64

func (id PeerID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParticipantID identifies a call member. It is either a peer id or an opaque
// blockchain id, never both.
type ParticipantID struct {
	Peer       PeerID `msgpack:"peer,omitempty" json:"peer,omitempty"`
	Blockchain string `msgpack:"blockchain,omitempty" json:"blockchain,omitempty"`
}

func PeerParticipantID(id PeerID) ParticipantID {
	return ParticipantID{Peer: id}
}

func BlockchainParticipantID(id string) ParticipantID {
	return ParticipantID{Blockchain: id}
}

func (id ParticipantID) IsPeer() bool {
	return id.Blockchain == ""
}

// Less orders peer ids before blockchain ids. Peer ids compare numerically,
// blockchain ids lexically.
func (id ParticipantID) Less(other ParticipantID) bool {
	switch {
	case id.IsPeer() && other.IsPeer():
		return id.Peer < other.Peer
	case id.IsPeer():
		return true
	case other.IsPeer():
		return false
	default:
		return id.Blockchain < other.Blockchain
	}
}

func (id ParticipantID) String() string {
	if id.IsPeer() {
		return "peer:" + id.Peer.String()
	}
	return "blockchain:" + id.Blockchain
}

// Peer is an immutable snapshot of a peer record taken at merge time.
type Peer struct {
	ID          PeerID `msgpack:"id" json:"id"`
	AccessHash  int64  `msgpack:"access_hash" json:"access_hash"`
	DisplayName string `msgpack:"display_name" json:"display_name"`
	IsChannel   bool   `msgpack:"is_channel" json:"is_channel"`
}

type MuteState struct {
	CanUnmute  bool `msgpack:"can_unmute" json:"can_unmute"`
	MutedByYou bool `msgpack:"muted_by_you" json:"muted_by_you"`
}

type SSRCGroup struct {
	Semantics string   `msgpack:"semantics" json:"semantics"`
	SSRCs     []uint32 `msgpack:"ssrcs" json:"ssrcs"`
}

type VideoDescription struct {
	EndpointID string      `msgpack:"endpoint_id" json:"endpoint_id"`
	SSRCGroups []SSRCGroup `msgpack:"ssrc_groups" json:"ssrc_groups"`
	AudioSSRC  *uint32     `msgpack:"audio_ssrc,omitempty" json:"audio_ssrc,omitempty"`
	IsPaused   bool        `msgpack:"is_paused" json:"is_paused"`
}

// Participant is a call member, or a pending entrant known only from the
// blockchain. Optional fields are nil when unknown.
type Participant struct {
	ID                      ParticipantID     `msgpack:"id" json:"id"`
	Peer                    *Peer             `msgpack:"peer,omitempty" json:"peer,omitempty"`
	SSRC                    *uint32           `msgpack:"ssrc,omitempty" json:"ssrc,omitempty"`
	VideoDescription        *VideoDescription `msgpack:"video,omitempty" json:"video,omitempty"`
	PresentationDescription *VideoDescription `msgpack:"presentation,omitempty" json:"presentation,omitempty"`
	JoinTimestamp           int32             `msgpack:"join_timestamp" json:"join_timestamp"`
	RaiseHandRating         *int64            `msgpack:"raise_hand_rating,omitempty" json:"raise_hand_rating,omitempty"`
	HasRaiseHand            bool              `msgpack:"has_raise_hand" json:"has_raise_hand"`
	ActivityTimestamp       *float64          `msgpack:"activity_timestamp,omitempty" json:"activity_timestamp,omitempty"`
	ActivityRank            *int              `msgpack:"activity_rank,omitempty" json:"activity_rank,omitempty"`
	MuteState               *MuteState        `msgpack:"mute_state,omitempty" json:"mute_state,omitempty"`
	Volume                  *int32            `msgpack:"volume,omitempty" json:"volume,omitempty"`
	About                   *string           `msgpack:"about,omitempty" json:"about,omitempty"`
	JoinedVideo             bool              `msgpack:"joined_video" json:"joined_video"`
}

// PeerID returns the id of the resolved peer, if any.
func (p Participant) PeerID() (PeerID, bool) {
	if p.Peer == nil {
		return 0, false
	}
	return p.Peer.ID, true
}

func (p Participant) canUnmute() bool {
	return p.MuteState == nil || p.MuteState.CanUnmute
}

// clone returns a copy that shares no pointers with p.
func (p Participant) clone() Participant {
	c := p
	if p.Peer != nil {
		peer := *p.Peer
		c.Peer = &peer
	}
	c.SSRC = clonePtr(p.SSRC)
	c.VideoDescription = p.VideoDescription.clone()
	c.PresentationDescription = p.PresentationDescription.clone()
	c.RaiseHandRating = clonePtr(p.RaiseHandRating)
	c.ActivityTimestamp = clonePtr(p.ActivityTimestamp)
	c.ActivityRank = clonePtr(p.ActivityRank)
	c.MuteState = clonePtr(p.MuteState)
	c.Volume = clonePtr(p.Volume)
	c.About = clonePtr(p.About)
	return c
}

func (d *VideoDescription) clone() *VideoDescription {
	if d == nil {
		return nil
	}
	c := *d
	c.AudioSSRC = clonePtr(d.AudioSSRC)
	if d.SSRCGroups != nil {
		c.SSRCGroups = make([]SSRCGroup, len(d.SSRCGroups))
		for i, g := range d.SSRCGroups {
			c.SSRCGroups[i] = SSRCGroup{
				Semantics: g.Semantics,
				SSRCs:     append([]uint32(nil), g.SSRCs...),
			}
		}
	}
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func ptr[T any](v T) *T {
	return &v
}

// Compare reports whether a sorts before b.
func Compare(a, b Participant, sortAscending bool) bool {
	if a.canUnmute() != b.canUnmute() {
		return a.canUnmute()
	}

	switch {
	case a.ActivityRank != nil && b.ActivityRank != nil:
		if *a.ActivityRank != *b.ActivityRank {
			return *a.ActivityRank < *b.ActivityRank
		}
	case a.ActivityRank != nil:
		return true
	case b.ActivityRank != nil:
		return false
	}

	switch {
	case a.ActivityTimestamp != nil && b.ActivityTimestamp != nil:
		if *a.ActivityTimestamp != *b.ActivityTimestamp {
			return *a.ActivityTimestamp > *b.ActivityTimestamp
		}
	case a.ActivityTimestamp != nil:
		return true
	case b.ActivityTimestamp != nil:
		return false
	}

	switch {
	case a.RaiseHandRating != nil && b.RaiseHandRating != nil:
		if *a.RaiseHandRating != *b.RaiseHandRating {
			return *a.RaiseHandRating > *b.RaiseHandRating
		}
	case a.RaiseHandRating != nil:
		return true
	case b.RaiseHandRating != nil:
		return false
	}

	if a.JoinTimestamp != b.JoinTimestamp {
		if sortAscending {
			return a.JoinTimestamp < b.JoinTimestamp
		}
		return a.JoinTimestamp > b.JoinTimestamp
	}

	return a.ID.Less(b.ID)
}

// SortParticipants orders participants in place.
func SortParticipants(participants []Participant, sortAscending bool) {
	sort.Slice(participants, func(i, j int) bool {
		return Compare(participants[i], participants[j], sortAscending)
	})
}

// IsSorted reports whether no participant sorts before its predecessor.
func IsSorted(participants []Participant, sortAscending bool) bool {
	for i := 1; i < len(participants); i++ {
		if Compare(participants[i], participants[i-1], sortAscending) {
			return false
		}
	}
	return true
}
