// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"fmt"

	"github.com/mattermost/rosterd/service"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// loadConfig returns the service config built from defaults, then the file
// at path (if any), then ROSTERD_* environment variables.
func loadConfig(path string) (service.Config, error) {
	var cfg service.Config
	cfg.SetDefaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("failed to decode config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("unknown config keys: %v", undecoded)
		}
	}

	if err := envconfig.Process("rosterd", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process env config: %w", err)
	}

	return cfg, nil
}
