// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mattermost/rosterd/client"
	"github.com/mattermost/rosterd/service/api"
	"github.com/mattermost/rosterd/service/auth"
	"github.com/mattermost/rosterd/service/perf"
	"github.com/mattermost/rosterd/service/roster"
	"github.com/mattermost/rosterd/service/store"
	"github.com/mattermost/rosterd/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/prometheus/procfs"
)

const metricsNamespace = "rosterd"

type Service struct {
	cfg          Config
	apiServer    *api.Server
	wsServer     *ws.Server
	store        store.Store
	peers        *store.PeerStore
	sessionCache *auth.SessionCache
	auth         *auth.Service
	metrics      *perf.Metrics
	proc         procfs.FS
	log          mlog.LoggerIFace

	client  *client.Client
	callAPI roster.API
	updates roster.UpdateSource

	mut   sync.RWMutex
	calls map[int64]*watchedCall

	wsDoneCh chan struct{}
}

func New(cfg Config, log mlog.LoggerIFace, opts ...Option) (*Service, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}

	s := &Service{
		cfg:      cfg,
		log:      log,
		calls:    make(map[int64]*watchedCall),
		wsDoneCh: make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	var err error
	s.proc, err = procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to get proc fs: %w", err)
	}

	s.metrics = perf.NewMetrics(metricsNamespace, nil)

	s.store, err = store.New(cfg.Store.DataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	s.peers, err = store.NewPeerStore(s.store, cfg.Store.PeerCacheTTL)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to create peer store: %w", err)
	}

	s.sessionCache, err = auth.NewSessionCache(cfg.API.Security.SessionCache)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	s.auth, err = auth.NewService(s.store, s.sessionCache)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	if s.callAPI == nil {
		s.client, err = client.New(cfg.Client)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to create client: %w", err)
		}
		s.callAPI = s.client
		s.updates = s.client
	}

	s.apiServer, err = api.NewServer(cfg.API.HTTP, log)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to create api server: %w", err)
	}

	s.wsServer, err = ws.NewServer(cfg.API.WS, log, ws.WithAuthCb(s.authHandler))
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to create ws server: %w", err)
	}

	go s.wsReader()

	s.apiServer.RegisterHandleFunc("/version", s.getVersion)
	s.apiServer.RegisterHandleFunc("/system", s.getSystemInfo)
	s.apiServer.RegisterHandleFunc("/stats", s.getStats)
	s.apiServer.RegisterHandler("/metrics", s.metrics.Handler())
	s.apiServer.RegisterHandleFunc("/register", s.registerClient)
	s.apiServer.RegisterHandleFunc("/unregister", s.unregisterClient)
	s.apiServer.RegisterHandleFunc("/login", s.loginClient)
	s.apiServer.RegisterHandler("/ws", s.wsServer)
	s.registerCallHandlers()

	return s, nil
}

func (s *Service) closeStores() {
	if s.sessionCache != nil {
		s.sessionCache.Close()
	}
	if s.peers != nil {
		s.peers.Close()
	}
	if err := s.store.Close(); err != nil {
		s.log.Error("failed to close store", mlog.Err(err))
	}
}

func (s *Service) Start() error {
	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	if s.client != nil {
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect client: %w", err)
		}
	}

	for _, callCfg := range s.cfg.Calls.Watch {
		if _, err := s.WatchCall(context.Background(), callCfg); err != nil {
			return fmt.Errorf("failed to watch call %s: %w", callCfg.Call, err)
		}
	}

	s.log.Info("rosterd: service started", getVersionInfo().logFields()...)

	return nil
}

func (s *Service) Stop() error {
	var errs []error

	if err := s.apiServer.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop API server: %w", err))
	}

	s.mut.RLock()
	ids := make([]int64, 0, len(s.calls))
	for id := range s.calls {
		ids = append(ids, id)
	}
	s.mut.RUnlock()
	for _, id := range ids {
		if err := s.UnwatchCall(id); err != nil && !errors.Is(err, ErrCallNotWatched) {
			errs = append(errs, err)
		}
	}

	s.wsServer.Close()
	<-s.wsDoneCh

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.log.Warn("failed to close client", mlog.Err(err))
		}
	}

	s.closeStores()

	s.log.Info("rosterd: service stopped")

	return errors.Join(errs...)
}
