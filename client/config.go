// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultReconnectInterval = time.Second
	minReconnectInterval     = 10 * time.Millisecond
)

type Config struct {
	// SiteURL is the URL of the Mattermost installation to connect to.
	SiteURL string `toml:"site_url"`
	// AuthToken is a valid user session authentication token.
	AuthToken string `toml:"auth_token"`
	// ReconnectInterval is the minimum interval between update stream
	// reconnection attempts.
	ReconnectInterval time.Duration `toml:"reconnect_interval"`

	baseURL string
	wsURL   string
}

func (c *Config) SetDefaults() {
	c.ReconnectInterval = defaultReconnectInterval
}

// Parse validates the config and derives the API and update stream URLs.
func (c *Config) Parse() error {
	if c.SiteURL == "" {
		return fmt.Errorf("invalid SiteURL value: should not be empty")
	}
	c.SiteURL = strings.TrimRight(strings.TrimSpace(c.SiteURL), "/")
	u, err := url.Parse(c.SiteURL)
	if err != nil {
		return fmt.Errorf("failed to parse SiteURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid SiteURL scheme %q", u.Scheme)
	}

	c.baseURL = c.SiteURL + rosterAPIPath

	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else {
		u.Scheme = "wss"
	}
	u.Path += rosterAPIPath + updatesPath
	c.wsURL = u.String()

	if c.AuthToken == "" {
		return fmt.Errorf("invalid AuthToken value: should not be empty")
	}

	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = defaultReconnectInterval
	} else if c.ReconnectInterval < minReconnectInterval {
		return fmt.Errorf("invalid ReconnectInterval value: should be at least %s", minReconnectInterval)
	}

	return nil
}
