// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"time"
)

// ReportSpeakingParticipants marks the given peers as speaking now. A peer
// speaking for the first time since its rank was cleared gets the next
// activity rank. Unknown ssrcs are resolved afterwards.
func (c *Context) ReportSpeakingParticipants(ssrcs map[PeerID]uint32) {
	c.run(func() {
		c.reportSpeakingParticipants(ssrcs)
	})
}

func (c *Context) reportSpeakingParticipants(ssrcs map[PeerID]uint32) {
	if len(ssrcs) > 0 {
		c.hasReceivedSpeakingReport = true
	}

	timestamp := unixSeconds(c.now())
	index := c.state.indexByPeer()
	updated := false

	// Ranks are handed out in peer id order so reports are deterministic.
	ids := make(map[PeerID]struct{}, len(ssrcs))
	for id := range ssrcs {
		ids[id] = struct{}{}
	}
	for _, id := range sortedPeerIDs(ids) {
		i, ok := index[id]
		if !ok {
			continue
		}
		p := &c.state.Participants[i]
		if p.ActivityTimestamp != nil && *p.ActivityTimestamp >= timestamp {
			continue
		}
		p.ActivityTimestamp = ptr(timestamp)
		if p.ActivityRank == nil {
			p.ActivityRank = ptr(c.takeNextActivityRank())
		}
		updated = true
	}

	if updated {
		c.state.sortParticipants()
	}

	all := make([]uint32, 0, len(ssrcs))
	for _, ssrc := range ssrcs {
		all = append(all, ssrc)
	}
	c.ensureHaveParticipants(all)
}

func (c *Context) takeNextActivityRank() int {
	rank := c.nextActivityRank
	c.nextActivityRank++
	return rank
}

func (c *Context) activityReader() {
	defer c.wg.Done()
	for {
		select {
		case sample, ok := <-c.activity:
			if !ok {
				return
			}
			c.run(func() {
				c.onActivitySample(sample)
			})
		case <-c.stopCh:
			return
		}
	}
}

func (c *Context) onActivitySample(sample ActivitySample) {
	_, speaking := c.activeSpeakers[sample.PeerID]
	if speaking != sample.Speaking {
		if sample.Speaking {
			c.activeSpeakers[sample.PeerID] = struct{}{}
		} else {
			delete(c.activeSpeakers, sample.PeerID)
		}
		c.activeSpeakersSignal.publish(sortedPeerIDs(c.activeSpeakers))
	}

	// Once the media layer reports speakers directly the feed only drives
	// the active speakers set.
	if !sample.Speaking || c.hasReceivedSpeakingReport {
		return
	}

	i, ok := c.state.indexByPeer()[sample.PeerID]
	if !ok {
		return
	}
	timestamp := unixSeconds(sample.Timestamp)
	p := &c.state.Participants[i]
	if p.ActivityTimestamp != nil && *p.ActivityTimestamp >= timestamp {
		return
	}
	p.ActivityTimestamp = ptr(timestamp)
	c.state.sortParticipants()
}

func (c *Context) activityDecayLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.ActivityDecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.run(c.decayActivity)
		case <-c.stopCh:
			return
		}
	}
}

// decayActivity clears the rank of participants that have not spoken within
// the activity timeout.
func (c *Context) decayActivity() {
	deadline := unixSeconds(c.now()) - c.cfg.ActivityTimeout.Seconds()
	updated := false
	for i := range c.state.Participants {
		p := &c.state.Participants[i]
		if p.ActivityRank == nil {
			continue
		}
		if p.ActivityTimestamp == nil || *p.ActivityTimestamp < deadline {
			p.ActivityRank = nil
			updated = true
		}
	}
	if updated {
		c.state.sortParticipants()
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
