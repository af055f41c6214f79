// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"crypto/tls"
	"fmt"
	"time"
)

const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

type TLSConfig struct {
	Enable   bool   `toml:"enable"`
	CertFile string `toml:"cert_file"`
	CertKey  string `toml:"cert_key"`
}

func (c TLSConfig) IsValid() error {
	if !c.Enable {
		return nil
	}

	if c.CertFile == "" {
		return fmt.Errorf("invalid CertFile value: should not be empty")
	}

	if c.CertKey == "" {
		return fmt.Errorf("invalid CertKey value: should not be empty")
	}

	if _, err := tls.LoadX509KeyPair(c.CertFile, c.CertKey); err != nil {
		return fmt.Errorf("failed to load cert files: %w", err)
	}

	return nil
}

// Config holds the HTTP API server settings. Zero timeouts fall back to
// the package defaults.
type Config struct {
	ListenAddress   string        `toml:"listen_address"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	TLS             TLSConfig     `toml:"tls"`
}

func (c Config) IsValid() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("invalid ListenAddress value: should not be empty")
	}

	timeouts := []struct {
		name string
		val  time.Duration
	}{
		{"ReadTimeout", c.ReadTimeout},
		{"WriteTimeout", c.WriteTimeout},
		{"IdleTimeout", c.IdleTimeout},
		{"ShutdownTimeout", c.ShutdownTimeout},
	}
	for _, t := range timeouts {
		if t.val < 0 {
			return fmt.Errorf("invalid %s value: should not be negative", t.name)
		}
	}

	if err := c.TLS.IsValid(); err != nil {
		return fmt.Errorf("invalid TLS config: %w", err)
	}

	return nil
}

func orDefault(val, def time.Duration) time.Duration {
	if val == 0 {
		return def
	}
	return val
}
