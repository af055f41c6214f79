// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/mattermost/rosterd/service/roster"
)

const feedChSize = 64

type source struct {
	peerID  roster.PeerID
	monitor *Monitor
}

// Tracker runs a voice activity monitor per audio source of a call. Voice
// transitions are published as activity samples and the sources currently
// speaking can be reported to the roster.
type Tracker struct {
	cfg MonitorConfig
	now func() time.Time

	mut     sync.Mutex
	sources map[uint32]*source
	feedCh  chan roster.ActivitySample
	dropped int
	closed  bool
}

func NewTracker(cfg MonitorConfig) (*Tracker, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}

	return &Tracker{
		cfg:     cfg,
		now:     time.Now,
		sources: make(map[uint32]*source),
		feedCh:  make(chan roster.ActivitySample, feedChSize),
	}, nil
}

// Feed returns the channel of voice transitions. It's closed by Close.
func (t *Tracker) Feed() <-chan roster.ActivitySample {
	return t.feedCh
}

// publish must be called with the lock held.
func (t *Tracker) publish(sample roster.ActivitySample) {
	if t.closed {
		return
	}
	select {
	case t.feedCh <- sample:
	default:
		t.dropped++
	}
}

// PushAudioLevel adds an audio level measured on ssrc for peerID. A source
// reused by a different peer starts over.
func (t *Tracker) PushAudioLevel(peerID roster.PeerID, ssrc uint32, level uint8) error {
	t.mut.Lock()
	defer t.mut.Unlock()

	if t.closed {
		return fmt.Errorf("tracker is closed")
	}

	src := t.sources[ssrc]
	if src != nil && src.peerID != peerID {
		src.monitor.Reset()
		src = nil
	}

	if src == nil {
		monitor, err := NewMonitor(t.cfg, func(voice bool) {
			t.publish(roster.ActivitySample{
				PeerID:    peerID,
				Speaking:  voice,
				Timestamp: t.now(),
			})
		})
		if err != nil {
			return err
		}
		monitor.now = t.now
		src = &source{peerID: peerID, monitor: monitor}
		t.sources[ssrc] = src
	}

	src.monitor.PushAudioLevel(level)

	return nil
}

// RemoveSource stops tracking ssrc. A speaking source is reported as silent.
func (t *Tracker) RemoveSource(ssrc uint32) {
	t.mut.Lock()
	defer t.mut.Unlock()

	if src := t.sources[ssrc]; src != nil {
		src.monitor.Reset()
		delete(t.sources, ssrc)
	}
}

// Speaking returns the sources with voice currently detected, keyed by peer.
func (t *Tracker) Speaking() map[roster.PeerID]uint32 {
	t.mut.Lock()
	defer t.mut.Unlock()

	speaking := make(map[roster.PeerID]uint32)
	for ssrc, src := range t.sources {
		if src.monitor.Voice() {
			speaking[src.peerID] = ssrc
		}
	}
	return speaking
}

// Dropped returns the number of samples dropped because the feed was full.
func (t *Tracker) Dropped() int {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.dropped
}

func (t *Tracker) Close() {
	t.mut.Lock()
	defer t.mut.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.sources = make(map[uint32]*source)
	close(t.feedCh)
}
