// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

func (c *Context) blockchainReader() {
	defer c.wg.Done()
	ch := c.e2e.BlockchainParticipants()
	for {
		select {
		case participants, ok := <-ch:
			if !ok {
				return
			}
			resolved := c.resolveBlockchainParticipants(participants)
			c.run(func() {
				c.onBlockchainParticipants(resolved)
			})
		case <-c.stopCh:
			return
		}
	}
}

// resolveBlockchainParticipants looks up the peers of attested users. Users
// missing from the peer store are kept without a peer.
func (c *Context) resolveBlockchainParticipants(participants []BlockchainParticipant) []ResolvedBlockchainParticipant {
	ids := make([]PeerID, 0, len(participants))
	for _, p := range participants {
		if p.UserID != 0 {
			ids = append(ids, p.UserID)
		}
	}

	peers, err := c.peers.GetPeers(c.ctx, ids)
	if err != nil {
		c.log.Error("failed to resolve blockchain participants", mlog.Int("callID", c.ref.ID), mlog.Err(err))
	}

	resolved := make([]ResolvedBlockchainParticipant, 0, len(participants))
	for _, p := range participants {
		r := ResolvedBlockchainParticipant{Participant: p}
		if peer, ok := peers[p.UserID]; ok {
			r.Peer = &peer
		}
		resolved = append(resolved, r)
	}
	return resolved
}

func (c *Context) onBlockchainParticipants(participants []ResolvedBlockchainParticipant) {
	c.pendingBlockchain = participants
	c.hasPendingBlockchain = true
	c.stopBlockchainTimer()

	for _, p := range participants {
		if !c.state.hasParticipant(p.Participant.participantID()) {
			c.startBlockchainTimer()
			return
		}
	}
	c.applyPendingBlockchainState()
}

func (c *Context) startBlockchainTimer() {
	c.blockchainTimerSeq++
	seq := c.blockchainTimerSeq
	c.blockchainTimer = time.AfterFunc(c.cfg.BlockchainDebounce, func() {
		c.run(func() {
			if seq != c.blockchainTimerSeq {
				return
			}
			c.applyPendingBlockchainState()
		})
	})
}

func (c *Context) stopBlockchainTimer() {
	if c.blockchainTimer == nil {
		return
	}
	c.blockchainTimer.Stop()
	c.blockchainTimer = nil
	c.blockchainTimerSeq++
}

func (c *Context) applyPendingBlockchainState() {
	c.stopBlockchainTimer()
	if !c.hasPendingBlockchain {
		return
	}
	c.blockchain = BlockchainState{Participants: c.pendingBlockchain}
	c.pendingBlockchain = nil
	c.hasPendingBlockchain = false
}

// isFailedReader reports the first failure of the E2E context.
func (c *Context) isFailedReader() {
	defer c.wg.Done()
	ch := c.e2e.IsFailed()
	for {
		select {
		case failed, ok := <-ch:
			if !ok {
				return
			}
			if !failed {
				continue
			}
			c.run(func() {
				if c.failedReported {
					return
				}
				c.failedReported = true
				c.log.Warn("e2e context failed", mlog.Int("callID", c.ref.ID))
				c.isFailedEvents.publish(true)
			})
			return
		case <-c.stopCh:
			return
		}
	}
}
