// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"fmt"
)

// CallReference addresses a group call by id, invite slug, or invite message.
type CallReference struct {
	ID         int64  `msgpack:"id,omitempty" json:"id,omitempty" toml:"id"`
	AccessHash int64  `msgpack:"access_hash,omitempty" json:"access_hash,omitempty" toml:"access_hash"`
	Slug       string `msgpack:"slug,omitempty" json:"slug,omitempty" toml:"slug"`
	MessageID  int32  `msgpack:"message_id,omitempty" json:"message_id,omitempty" toml:"message_id"`
}

func (r CallReference) IsValid() error {
	switch {
	case r.ID != 0:
		if r.Slug != "" || r.MessageID != 0 {
			return fmt.Errorf("invalid CallReference: should set only one of ID, Slug, MessageID")
		}
	case r.Slug != "":
		if r.MessageID != 0 {
			return fmt.Errorf("invalid CallReference: should set only one of ID, Slug, MessageID")
		}
	case r.MessageID == 0:
		return fmt.Errorf("invalid CallReference: should not be empty")
	}
	return nil
}

func (r CallReference) String() string {
	switch {
	case r.ID != 0:
		return fmt.Sprintf("id:%d", r.ID)
	case r.Slug != "":
		return "slug:" + r.Slug
	default:
		return fmt.Sprintf("message:%d", r.MessageID)
	}
}

// CallInfo is the call metadata returned alongside a participants page.
type CallInfo struct {
	ID                          int64
	AccessHash                  int64
	ParticipantCount            int
	Title                       *string
	ScheduleTimestamp           *int32
	SubscribedToScheduled       bool
	RecordingStartTimestamp     *int32
	SortAscending               bool
	DefaultParticipantsAreMuted DefaultParticipantsAreMuted
	IsVideoEnabled              bool
	UnmutedVideoLimit           int
	IsStream                    bool
	IsCreator                   bool
	Version                     int32
}

// Reference returns an id-based reference to the call.
func (i CallInfo) Reference() CallReference {
	return CallReference{ID: i.ID, AccessHash: i.AccessHash}
}

// MemberEvent reports a participant joining or leaving.
type MemberEvent struct {
	PeerID    PeerID `msgpack:"peer_id" json:"peer_id"`
	CanUnmute bool   `msgpack:"can_unmute" json:"can_unmute"`
	Joined    bool   `msgpack:"joined" json:"joined"`
}
