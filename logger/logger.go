// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package logger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const targetQueueSize = 1000

// getLevels returns the standard levels up to and including level. Unknown
// levels enable everything.
func getLevels(level string) []mlog.Level {
	var levels []mlog.Level
	for _, l := range mlog.StdAll {
		levels = append(levels, l)
		if l.Name == strings.ToLower(level) {
			break
		}
	}
	return levels
}

type fileOptions struct {
	Filename   string `json:"filename"`
	MaxSize    int    `json:"max_size"`
	MaxAge     int    `json:"max_age"`
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

func newTarget(kind, level string, jsonFormat, color bool, opts any) (mlog.TargetCfg, error) {
	optsData, err := json.Marshal(opts)
	if err != nil {
		return mlog.TargetCfg{}, fmt.Errorf("failed to marshal %s target options: %w", kind, err)
	}

	format := "plain"
	formatOpts := fmt.Sprintf(`{"delim": " ", "min_level_len": 5, "min_msg_len": 45, "enable_color": %t, "enable_caller": true}`, color)
	if jsonFormat {
		format = "json"
		formatOpts = `{"enable_caller": true}`
	}

	return mlog.TargetCfg{
		Type:          kind,
		Levels:        getLevels(level),
		Options:       json.RawMessage(optsData),
		Format:        format,
		FormatOptions: json.RawMessage(formatOpts),
		MaxQueueSize:  targetQueueSize,
	}, nil
}

// New returns a logger writing to the targets enabled in config.
func New(config Config) (*mlog.Logger, error) {
	if err := config.IsValid(); err != nil {
		return nil, err
	}

	cfg := mlog.LoggerConfiguration{}
	if config.EnableConsole {
		target, err := newTarget("console", config.ConsoleLevel, config.ConsoleJSON, config.EnableColor,
			map[string]string{"out": "stdout"})
		if err != nil {
			return nil, err
		}
		cfg["_defConsole"] = target
	}

	if config.EnableFile {
		target, err := newTarget("file", config.FileLevel, config.FileJSON, false, fileOptions{
			Filename:   config.FileLocation,
			MaxSize:    config.FileMaxSizeMB,
			MaxBackups: config.FileMaxBackups,
			Compress:   true,
		})
		if err != nil {
			return nil, err
		}
		cfg["_defFile"] = target
	}

	logger, err := mlog.NewLogger()
	if err != nil {
		return nil, err
	}

	if err := logger.ConfigureTargets(cfg, nil); err != nil {
		_ = logger.Shutdown()
		return nil, fmt.Errorf("failed to configure log targets: %w", err)
	}

	return logger, nil
}
