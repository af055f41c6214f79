// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattermost/rosterd/logger"
	"github.com/mattermost/rosterd/service"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.toml", "Path to the configuration file for the rosterd service.")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("rosterd: failed to load config: %s", err.Error())
	}

	if err := cfg.IsValid(); err != nil {
		log.Fatalf("rosterd: failed to validate config: %s", err.Error())
	}

	logger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("rosterd: failed to init logger: %s", err.Error())
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("rosterd: failed to shutdown logger: %s", err.Error())
		}
	}()

	service, err := service.New(cfg, logger)
	if err != nil {
		logger.Critical("failed to create service", mlog.Err(err))
		return
	}

	if err := service.Start(); err != nil {
		logger.Critical("failed to start service", mlog.Err(err))
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := service.Stop(); err != nil {
		logger.Critical("failed to stop service", mlog.Err(err))
	}
}
