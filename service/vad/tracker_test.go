// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vad

import (
	"testing"
	"time"

	"github.com/mattermost/rosterd/service/roster"

	"github.com/stretchr/testify/require"
)

func setupTracker(t *testing.T) (*Tracker, *testClock) {
	t.Helper()

	tr, err := NewTracker(MonitorConfig{
		VoiceLevelsSampleSize:      10,
		ActivationDuration:         250 * time.Millisecond,
		VoiceActivationThreshold:   10,
		VoiceDeactivationThreshold: 5,
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	clock := newTestClock()
	tr.now = clock.Now

	return tr, clock
}

func pushSpeech(t *testing.T, tr *Tracker, peerID roster.PeerID, ssrc uint32) {
	t.Helper()
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.PushAudioLevel(peerID, ssrc, 45))
	}
	require.NoError(t, tr.PushAudioLevel(peerID, ssrc, 100))
}

func pushSilence(t *testing.T, tr *Tracker, peerID roster.PeerID, ssrc uint32) {
	t.Helper()
	for i := 0; i < 11; i++ {
		require.NoError(t, tr.PushAudioLevel(peerID, ssrc, 40))
	}
}

func TestNewTracker(t *testing.T) {
	tr, err := NewTracker(MonitorConfig{})
	require.Error(t, err)
	require.Nil(t, tr)

	tr, err = NewTracker(MonitorConfig{}.SetDefaults())
	require.NoError(t, err)
	require.NotNil(t, tr)
	tr.Close()
	tr.Close()

	_, ok := <-tr.Feed()
	require.False(t, ok)
	require.Error(t, tr.PushAudioLevel(1, 1, 10))
}

func TestTracker(t *testing.T) {
	tr, clock := setupTracker(t)

	pushSpeech(t, tr, 2, 20)

	sample := <-tr.Feed()
	require.Equal(t, roster.ActivitySample{PeerID: 2, Speaking: true, Timestamp: clock.Now()}, sample)
	require.Equal(t, map[roster.PeerID]uint32{2: 20}, tr.Speaking())

	pushSilence(t, tr, 3, 30)
	require.Equal(t, map[roster.PeerID]uint32{2: 20}, tr.Speaking())

	clock.Advance(time.Second)
	pushSilence(t, tr, 2, 20)

	sample = <-tr.Feed()
	require.Equal(t, roster.PeerID(2), sample.PeerID)
	require.False(t, sample.Speaking)
	require.Equal(t, clock.Now(), sample.Timestamp)
	require.Empty(t, tr.Speaking())

	t.Run("source removal", func(t *testing.T) {
		pushSpeech(t, tr, 4, 40)
		require.True(t, (<-tr.Feed()).Speaking)

		tr.RemoveSource(40)
		tr.RemoveSource(40)
		sample := <-tr.Feed()
		require.Equal(t, roster.PeerID(4), sample.PeerID)
		require.False(t, sample.Speaking)
		require.Empty(t, tr.Speaking())
	})

	t.Run("source reused by another peer", func(t *testing.T) {
		pushSpeech(t, tr, 5, 50)
		require.True(t, (<-tr.Feed()).Speaking)

		require.NoError(t, tr.PushAudioLevel(6, 50, 45))
		sample := <-tr.Feed()
		require.Equal(t, roster.PeerID(5), sample.PeerID)
		require.False(t, sample.Speaking)
		require.Empty(t, tr.Speaking())
	})
}

func TestTrackerDropsWhenFull(t *testing.T) {
	tr, _ := setupTracker(t)

	for i := 0; i < feedChSize+2; i++ {
		ssrc := uint32(i + 1)
		pushSpeech(t, tr, roster.PeerID(ssrc), ssrc)
	}

	require.Equal(t, 2, tr.Dropped())
	require.Len(t, tr.Speaking(), feedChSize+2)
}
