// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"
	"time"

	"github.com/mattermost/rosterd/client"
	"github.com/mattermost/rosterd/logger"
	"github.com/mattermost/rosterd/service/api"
	"github.com/mattermost/rosterd/service/auth"
	"github.com/mattermost/rosterd/service/roster"
	"github.com/mattermost/rosterd/service/vad"
	"github.com/mattermost/rosterd/service/ws"
)

type SecurityConfig struct {
	// Whether or not to enable admin API access.
	EnableAdmin bool `toml:"enable_admin"`
	// The secret key used to authenticate admin requests.
	AdminSecretKey string `toml:"admin_secret_key"`
	// Whether or not to allow clients to self-register.
	AllowSelfRegistration bool                    `toml:"allow_self_registration"`
	SessionCache          auth.SessionCacheConfig `toml:"session_cache"`
}

func (c SecurityConfig) IsValid() error {
	if err := c.SessionCache.IsValid(); err != nil {
		return fmt.Errorf("invalid SessionCache config: %w", err)
	}

	if !c.EnableAdmin {
		return nil
	}

	if c.AdminSecretKey == "" {
		return fmt.Errorf("invalid AdminSecretKey value: should not be empty")
	}

	return nil
}

type APIConfig struct {
	HTTP     api.Config      `toml:"http"`
	WS       ws.ServerConfig `toml:"ws"`
	Security SecurityConfig  `toml:"security"`
}

func (c APIConfig) IsValid() error {
	if err := c.Security.IsValid(); err != nil {
		return fmt.Errorf("failed to validate security config: %w", err)
	}

	if err := c.HTTP.IsValid(); err != nil {
		return fmt.Errorf("failed to validate http config: %w", err)
	}

	if err := c.WS.IsValid(); err != nil {
		return fmt.Errorf("failed to validate ws config: %w", err)
	}

	return nil
}

type StoreConfig struct {
	DataSource string `toml:"data_source"`
	// PeerCacheTTL is how long resolved peers are served from memory.
	PeerCacheTTL time.Duration `toml:"peer_cache_ttl"`
}

func (c StoreConfig) IsValid() error {
	if c.DataSource == "" {
		return fmt.Errorf("invalid DataSource value: should not be empty")
	}
	if c.PeerCacheTTL < 0 {
		return fmt.Errorf("invalid PeerCacheTTL value: should not be negative")
	}
	return nil
}

// CallConfig describes a call to keep in sync.
type CallConfig struct {
	Call          roster.CallReference `toml:"call" json:"call"`
	ChannelPeerID roster.PeerID        `toml:"channel_peer_id" json:"channel_peer_id,omitempty"`
	// MyPeerID defaults to the account peer.
	MyPeerID roster.PeerID `toml:"my_peer_id" json:"my_peer_id,omitempty"`
}

func (c CallConfig) IsValid() error {
	if err := c.Call.IsValid(); err != nil {
		return err
	}
	if c.ChannelPeerID < 0 {
		return fmt.Errorf("invalid ChannelPeerID value: should not be negative")
	}
	return nil
}

type CallsConfig struct {
	AccountPeerID roster.PeerID `toml:"account_peer_id"`
	// SpeakingReportInterval is how often the sources detected as speaking
	// are reported to the rosters.
	SpeakingReportInterval time.Duration `toml:"speaking_report_interval"`
	// Watch lists the calls to sync on start.
	Watch []CallConfig `toml:"watch" ignored:"true"`
}

func (c CallsConfig) IsValid() error {
	if c.AccountPeerID <= 0 {
		return fmt.Errorf("invalid AccountPeerID value: should be a positive number")
	}
	if c.SpeakingReportInterval <= 0 {
		return fmt.Errorf("invalid SpeakingReportInterval value: should be greater than zero")
	}
	for i, call := range c.Watch {
		if err := call.IsValid(); err != nil {
			return fmt.Errorf("invalid Watch[%d] value: %w", i, err)
		}
	}
	return nil
}

type Config struct {
	API    APIConfig
	Client client.Config
	Roster roster.Config
	VAD    vad.MonitorConfig
	Store  StoreConfig
	Calls  CallsConfig
	Logger logger.Config
}

func (c Config) IsValid() error {
	if err := c.API.IsValid(); err != nil {
		return err
	}

	// Parse fills unexported fields so it runs on a copy.
	clientCfg := c.Client
	if err := clientCfg.Parse(); err != nil {
		return fmt.Errorf("failed to validate client config: %w", err)
	}

	if err := c.Roster.IsValid(); err != nil {
		return fmt.Errorf("failed to validate roster config: %w", err)
	}

	if err := c.VAD.IsValid(); err != nil {
		return fmt.Errorf("failed to validate vad config: %w", err)
	}

	if err := c.Store.IsValid(); err != nil {
		return err
	}

	if err := c.Calls.IsValid(); err != nil {
		return fmt.Errorf("failed to validate calls config: %w", err)
	}

	return c.Logger.IsValid()
}

func (c *Config) SetDefaults() {
	c.API.HTTP.ListenAddress = ":8055"
	c.API.WS.SetDefaults()
	c.API.Security.SessionCache.SetDefaults()
	c.Client.SetDefaults()
	c.Roster.SetDefaults()
	c.VAD = c.VAD.SetDefaults()
	c.Store.DataSource = "/tmp/rosterd_db"
	c.Store.PeerCacheTTL = 10 * time.Minute
	c.Calls.SpeakingReportInterval = time.Second
	c.Logger.SetDefaults()
	c.Logger.FileLocation = "rosterd.log"
}
