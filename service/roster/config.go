// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package roster

import (
	"fmt"
	"time"
)

type Config struct {
	// ActivityDecayInterval is how often stale speaking ranks are cleared.
	ActivityDecayInterval time.Duration `toml:"activity_decay_interval"`
	// ActivityTimeout is how long after the last speech a rank is kept.
	ActivityTimeout time.Duration `toml:"activity_timeout"`
	// BlockchainDebounce is how long blockchain participants unknown to the
	// roster are held back before being shown.
	BlockchainDebounce time.Duration `toml:"blockchain_debounce"`
	// FetchLimit is the page size of participant fetches.
	FetchLimit int `toml:"fetch_limit"`
	// EventQueueSize is the per subscriber buffer of event streams.
	EventQueueSize int `toml:"event_queue_size"`

	ChainRetries             int           `toml:"chain_retries"`
	ChainRetryDelayIncrement time.Duration `toml:"chain_retry_delay_increment"`
	ChainRetryMaxDelay       time.Duration `toml:"chain_retry_max_delay"`
}

func (c *Config) SetDefaults() {
	if c.ActivityDecayInterval == 0 {
		c.ActivityDecayInterval = 10 * time.Second
	}
	if c.ActivityTimeout == 0 {
		c.ActivityTimeout = 60 * time.Second
	}
	if c.BlockchainDebounce == 0 {
		c.BlockchainDebounce = time.Second
	}
	if c.FetchLimit == 0 {
		c.FetchLimit = defaultFetchLimit
	}
	if c.EventQueueSize == 0 {
		c.EventQueueSize = 64
	}
	if c.ChainRetries == 0 {
		c.ChainRetries = 5
	}
	if c.ChainRetryDelayIncrement == 0 {
		c.ChainRetryDelayIncrement = 100 * time.Millisecond
	}
	if c.ChainRetryMaxDelay == 0 {
		c.ChainRetryMaxDelay = time.Second
	}
}

func (c Config) IsValid() error {
	if c.ActivityDecayInterval <= 0 {
		return fmt.Errorf("invalid ActivityDecayInterval value: should be greater than zero")
	}
	if c.ActivityTimeout <= 0 {
		return fmt.Errorf("invalid ActivityTimeout value: should be greater than zero")
	}
	if c.BlockchainDebounce <= 0 {
		return fmt.Errorf("invalid BlockchainDebounce value: should be greater than zero")
	}
	if c.FetchLimit <= 0 {
		return fmt.Errorf("invalid FetchLimit value: should be greater than zero")
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("invalid EventQueueSize value: should be greater than zero")
	}
	if c.ChainRetries < 0 {
		return fmt.Errorf("invalid ChainRetries value: should not be negative")
	}
	if c.ChainRetryDelayIncrement < 0 || c.ChainRetryMaxDelay < c.ChainRetryDelayIncrement {
		return fmt.Errorf("invalid ChainRetryMaxDelay value: should be at least ChainRetryDelayIncrement")
	}
	return nil
}
