// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

// project derives the public state from the authoritative roster, the
// pending local intents and the blockchain attested members.
//
// Raised hands are only visible to the call creator, admins and participants
// that can speak. Hiding them here keeps the stored roster authoritative.
func (c *Context) project() State {
	pub := c.state.Clone()

	canSeeHands := pub.IsCreator || pub.isAdmin(c.accountPeerID)
	me := PeerParticipantID(c.myPeerID)
	for _, p := range pub.Participants {
		if p.ID == me {
			if p.canUnmute() {
				canSeeHands = true
			}
			break
		}
	}

	sortAgain := false
	for i := range pub.Participants {
		p := &pub.Participants[i]
		if peerID, ok := p.PeerID(); ok {
			if pending, ok := c.overlay.pendingMuteStateChanges[peerID]; ok {
				if p.canUnmute() != (pending.state == nil || pending.state.CanUnmute) {
					sortAgain = true
				}
				p.MuteState = clonePtr(pending.state)
				p.Volume = clonePtr(pending.volume)
			}
			// A participant that cannot unmute never carries video.
			if c.overlay.hasLocalVideo != nil && *c.overlay.hasLocalVideo == peerID && p.VideoDescription == nil && p.canUnmute() {
				p.VideoDescription = &VideoDescription{EndpointID: localVideoEndpointID}
			}
		}
		if !canSeeHands && p.RaiseHandRating != nil {
			p.RaiseHandRating = nil
			sortAgain = true
		}
	}
	if sortAgain {
		pub.sortParticipants()
	}

	for _, bp := range c.blockchain.Participants {
		id := bp.Participant.participantID()
		if pub.hasParticipant(id) {
			continue
		}
		pub.Participants = append(pub.Participants, Participant{
			ID:   id,
			Peer: clonePtr(bp.Peer),
		})
	}

	return pub
}
