// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

type DefaultParticipantsAreMuted struct {
	IsMuted   bool `msgpack:"is_muted" json:"is_muted"`
	CanChange bool `msgpack:"can_change" json:"can_change"`
}

// State is a roster snapshot. Participants are always kept sorted.
type State struct {
	Participants                []Participant               `msgpack:"participants" json:"participants"`
	NextParticipantsFetchOffset *string                     `msgpack:"next_offset,omitempty" json:"next_offset,omitempty"`
	AdminIDs                    map[PeerID]struct{}         `msgpack:"admin_ids" json:"-"`
	IsCreator                   bool                        `msgpack:"is_creator" json:"is_creator"`
	DefaultParticipantsAreMuted DefaultParticipantsAreMuted `msgpack:"default_muted" json:"default_muted"`
	SortAscending               bool                        `msgpack:"sort_ascending" json:"sort_ascending"`
	RecordingStartTimestamp     *int32                      `msgpack:"recording_start,omitempty" json:"recording_start,omitempty"`
	Title                       *string                     `msgpack:"title,omitempty" json:"title,omitempty"`
	ScheduleTimestamp           *int32                      `msgpack:"schedule_timestamp,omitempty" json:"schedule_timestamp,omitempty"`
	SubscribedToScheduled       bool                        `msgpack:"subscribed_to_scheduled" json:"subscribed_to_scheduled"`
	TotalCount                  int                         `msgpack:"total_count" json:"total_count"`
	IsVideoEnabled              bool                        `msgpack:"is_video_enabled" json:"is_video_enabled"`
	UnmutedVideoLimit           int                         `msgpack:"unmuted_video_limit" json:"unmuted_video_limit"`
	IsStream                    bool                        `msgpack:"is_stream" json:"is_stream"`
	Version                     int32                       `msgpack:"version" json:"version"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	c := s
	if s.Participants != nil {
		c.Participants = make([]Participant, len(s.Participants))
		for i, p := range s.Participants {
			c.Participants[i] = p.clone()
		}
	}
	c.NextParticipantsFetchOffset = clonePtr(s.NextParticipantsFetchOffset)
	if s.AdminIDs != nil {
		c.AdminIDs = make(map[PeerID]struct{}, len(s.AdminIDs))
		for id := range s.AdminIDs {
			c.AdminIDs[id] = struct{}{}
		}
	}
	c.RecordingStartTimestamp = clonePtr(s.RecordingStartTimestamp)
	c.Title = clonePtr(s.Title)
	c.ScheduleTimestamp = clonePtr(s.ScheduleTimestamp)
	return c
}

func (s *State) sortParticipants() {
	SortParticipants(s.Participants, s.SortAscending)
}

func (s State) isAdmin(id PeerID) bool {
	_, ok := s.AdminIDs[id]
	return ok
}

// indexByPeer maps peer ids to participant positions.
func (s State) indexByPeer() map[PeerID]int {
	m := make(map[PeerID]int, len(s.Participants))
	for i, p := range s.Participants {
		if id, ok := p.PeerID(); ok {
			m[id] = i
		}
	}
	return m
}

func (s State) hasParticipant(id ParticipantID) bool {
	for _, p := range s.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// knownSSRCs returns every participant audio ssrc plus presentation audio ssrcs.
func (s State) knownSSRCs() map[uint32]struct{} {
	m := make(map[uint32]struct{}, len(s.Participants))
	for _, p := range s.Participants {
		if p.SSRC != nil {
			m[*p.SSRC] = struct{}{}
		}
		if p.PresentationDescription != nil && p.PresentationDescription.AudioSSRC != nil {
			m[*p.PresentationDescription.AudioSSRC] = struct{}{}
		}
	}
	return m
}

// mergeActivity copies activity ranks from other into s, matching by peer id,
// and re-sorts. Timestamps are copied only when mergeTimestamps is set.
func (s *State) mergeActivity(other State, mergeTimestamps bool) {
	index := other.indexByPeer()
	for i := range s.Participants {
		id, ok := s.Participants[i].PeerID()
		if !ok {
			continue
		}
		j, ok := index[id]
		if !ok {
			continue
		}
		s.Participants[i].ActivityRank = clonePtr(other.Participants[j].ActivityRank)
		if mergeTimestamps {
			s.Participants[i].ActivityTimestamp = clonePtr(other.Participants[j].ActivityTimestamp)
		}
	}
	s.sortParticipants()
}

// mergeAndSortParticipants unions fetched into current by id. Existing
// entries win.
func mergeAndSortParticipants(current, fetched []Participant, sortAscending bool) []Participant {
	seen := make(map[ParticipantID]struct{}, len(current))
	result := make([]Participant, 0, len(current)+len(fetched))
	for _, p := range current {
		seen[p.ID] = struct{}{}
		result = append(result, p)
	}
	for _, p := range fetched {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		result = append(result, p)
	}
	SortParticipants(result, sortAscending)
	return result
}

type muteStateChange struct {
	state  *MuteState
	volume *int32
	req    *Request
}

// OverlayState holds local intent not yet confirmed by the server.
type OverlayState struct {
	pendingMuteStateChanges map[PeerID]muteStateChange
	hasLocalVideo           *PeerID
}

func newOverlayState() OverlayState {
	return OverlayState{
		pendingMuteStateChanges: make(map[PeerID]muteStateChange),
	}
}

// PendingMuteStateCount returns the number of unconfirmed mute intents.
func (o OverlayState) PendingMuteStateCount() int {
	return len(o.pendingMuteStateChanges)
}

func (o *OverlayState) release(ids map[PeerID]struct{}) {
	for id := range ids {
		delete(o.pendingMuteStateChanges, id)
	}
}

// BlockchainParticipant is a call member attested by the E2E consensus chain.
type BlockchainParticipant struct {
	UserID     PeerID `msgpack:"user_id"`
	InternalID string `msgpack:"internal_id"`
}

func (p BlockchainParticipant) participantID() ParticipantID {
	if p.UserID == 0 {
		return BlockchainParticipantID(p.InternalID)
	}
	return PeerParticipantID(p.UserID)
}

type ResolvedBlockchainParticipant struct {
	Participant BlockchainParticipant
	Peer        *Peer
}

type BlockchainState struct {
	Participants []ResolvedBlockchainParticipant
}
