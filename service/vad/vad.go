// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vad

import (
	"fmt"
	"math"
	"time"
)

const (
	defaultVoiceLevelsSampleSize      = 50
	defaultVoiceActivationThreshold   = 10
	defaultVoiceDeactivationThreshold = 4
	defaultActivationDuration         = 2 * time.Second
)

type VoiceCB func(voice bool)

// Monitor detects voice activity from a stream of audio levels. Voice is
// considered active while the standard deviation of the most recent levels
// stays above a threshold.
type Monitor struct {
	cfg MonitorConfig
	now func() time.Time

	levels             []uint8
	levelsPtr          int
	lastActivationTime time.Time
	voiceState         bool
	cb                 VoiceCB
}

type MonitorConfig struct {
	VoiceLevelsSampleSize      int           `toml:"voice_levels_sample_size"`
	ActivationDuration         time.Duration `toml:"activation_duration"`
	VoiceActivationThreshold   int           `toml:"voice_activation_threshold"`
	VoiceDeactivationThreshold int           `toml:"voice_deactivation_threshold"`
}

func (c MonitorConfig) SetDefaults() MonitorConfig {
	if c.VoiceLevelsSampleSize == 0 {
		c.VoiceLevelsSampleSize = defaultVoiceLevelsSampleSize
	}

	if c.ActivationDuration == 0 {
		c.ActivationDuration = defaultActivationDuration
	}

	if c.VoiceActivationThreshold == 0 {
		c.VoiceActivationThreshold = defaultVoiceActivationThreshold
	}

	if c.VoiceDeactivationThreshold == 0 {
		c.VoiceDeactivationThreshold = defaultVoiceDeactivationThreshold
	}

	return c
}

func (c MonitorConfig) IsValid() error {
	if c.VoiceLevelsSampleSize <= 1 {
		return fmt.Errorf("VoiceLevelsSampleSize should be > 1")
	}

	if c.ActivationDuration <= 0 {
		return fmt.Errorf("ActivationDuration should be > 0")
	}

	if c.VoiceActivationThreshold <= 0 {
		return fmt.Errorf("VoiceActivationThreshold should be > 0")
	}

	if c.VoiceDeactivationThreshold <= 0 {
		return fmt.Errorf("VoiceDeactivationThreshold should be > 0")
	}

	if c.VoiceDeactivationThreshold > c.VoiceActivationThreshold {
		return fmt.Errorf("VoiceDeactivationThreshold should be <= VoiceActivationThreshold")
	}

	return nil
}

func NewMonitor(cfg MonitorConfig, cb VoiceCB) (*Monitor, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}

	if cb == nil {
		return nil, fmt.Errorf("voice event callback is required")
	}

	return &Monitor{
		cfg:    cfg,
		now:    time.Now,
		levels: make([]uint8, 0, cfg.VoiceLevelsSampleSize),
		cb:     cb,
	}, nil
}

func avg(samples []uint8) uint8 {
	if len(samples) == 0 {
		return 0
	}

	var total float64
	for _, sample := range samples {
		total += float64(sample)
	}
	return uint8(math.Round(total / float64(len(samples))))
}

func stdDev(samples []uint8, avg uint8) uint8 {
	if len(samples) < 2 {
		return 0
	}

	var total float64
	for _, sample := range samples {
		total += math.Pow(float64(int(sample)-int(avg)), 2)
	}

	// Bessel's correction, samples are a window of the full signal.
	return uint8(math.Round(math.Sqrt(total / float64(len(samples)-1))))
}

// PushAudioLevel adds a level to the window. Detection starts once the window
// is full.
func (m *Monitor) PushAudioLevel(level uint8) {
	if len(m.levels) < m.cfg.VoiceLevelsSampleSize {
		m.levels = append(m.levels, level)
		return
	}

	m.levels[m.levelsPtr] = level
	m.levelsPtr = (m.levelsPtr + 1) % m.cfg.VoiceLevelsSampleSize

	dev := int(stdDev(m.levels, avg(m.levels)))

	var newState bool
	switch {
	case !m.voiceState && dev > m.cfg.VoiceActivationThreshold:
		newState = true
		m.lastActivationTime = m.now()
	case m.voiceState && dev < m.cfg.VoiceDeactivationThreshold:
		newState = false
	default:
		return
	}

	// Voice stays on for at least ActivationDuration.
	if !newState && m.now().Sub(m.lastActivationTime) < m.cfg.ActivationDuration {
		return
	}

	m.voiceState = newState
	m.cb(newState)
}

// Voice returns whether voice is currently detected.
func (m *Monitor) Voice() bool {
	return m.voiceState
}

func (m *Monitor) Reset() {
	m.levelsPtr = 0
	m.levels = m.levels[:0]
	m.lastActivationTime = time.Time{}
	wasActive := m.voiceState
	m.voiceState = false
	if wasActive {
		m.cb(false)
	}
}
