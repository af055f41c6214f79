// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

// Update is a server delta for a single call. It is one of
// ParticipantsUpdate, CallUpdate or ChainBlocksUpdate.
type Update interface {
	isUpdate()
}

type StatusChange int

const (
	StatusNone StatusChange = iota
	StatusJoined
	StatusLeft
)

func (s StatusChange) String() string {
	switch s {
	case StatusJoined:
		return "joined"
	case StatusLeft:
		return "left"
	default:
		return "none"
	}
}

// FieldGroup marks groups of fields a partial delta intentionally omits.
// The receiver keeps its last known value for every omitted group.
type FieldGroup uint8

const (
	// OmittedMuteOverride keeps a previous mute state that carries a
	// user-initiated mutedByYou override.
	OmittedMuteOverride FieldGroup = 1 << iota
	// OmittedVolume keeps the previously known volume.
	OmittedVolume

	// OmittedMin is what a broadcast "min" delta leaves out.
	OmittedMin = OmittedMuteOverride | OmittedVolume
)

func (g FieldGroup) Has(other FieldGroup) bool {
	return g&other == other
}

type ParticipantUpdate struct {
	PeerID                  PeerID
	SSRC                    *uint32
	VideoDescription        *VideoDescription
	PresentationDescription *VideoDescription
	JoinTimestamp           int32
	RaiseHandRating         *int64
	ActivityTimestamp       *float64
	MuteState               *MuteState
	Volume                  *int32
	About                   *string
	JoinedVideo             bool
	Status                  StatusChange
	Omitted                 FieldGroup
}

// ParticipantsUpdate carries participant deltas at a given call version.
type ParticipantsUpdate struct {
	Participants            []ParticipantUpdate
	Version                 int32
	RemovePendingMuteStates map[PeerID]struct{}
}

// CallUpdate carries call attribute deltas.
type CallUpdate struct {
	IsTerminated                bool
	DefaultParticipantsAreMuted DefaultParticipantsAreMuted
	Title                       *string
	RecordingStartTimestamp     *int32
	ScheduleTimestamp           *int32
	IsVideoEnabled              bool
	ParticipantCount            *int
}

// ChainBlocksUpdate carries new blocks of a conference sub-chain.
type ChainBlocksUpdate struct {
	SubChainID int
	Blocks     [][]byte
	NextOffset int
}

func (ParticipantsUpdate) isUpdate() {}
func (CallUpdate) isUpdate()         {}
func (ChainBlocksUpdate) isUpdate()  {}

func peerSet(ids ...PeerID) map[PeerID]struct{} {
	m := make(map[PeerID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
