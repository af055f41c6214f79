// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/mattermost/rosterd/service/ws"

	"github.com/mattermost/mattermost/server/public/model"
	"golang.org/x/time/rate"
)

type EventHandler func(ctx any) error

const (
	clientStateNew int32 = iota
	clientStateInit
	clientStateClosing
	clientStateClosed
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed")
)

// Client implements the remote call API over HTTP and the account update
// stream over a reconnecting websocket.
type Client struct {
	cfg Config
	log *slog.Logger

	handlers map[EventType]EventHandler

	// HTTP API
	apiClient *model.Client4

	// WebSocket
	ws        *ws.Client
	wsCtx     context.Context
	wsCancel  context.CancelFunc
	wsDoneCh  chan struct{}
	wsLimiter *rate.Limiter

	subs   map[*subscriber]struct{}
	subsMu sync.Mutex

	state int32

	mut sync.RWMutex
}

type Option func(c *Client) error

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for API requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		if httpClient == nil {
			return fmt.Errorf("invalid http client: should not be nil")
		}
		c.apiClient.HTTPClient = httpClient
		return nil
	}
}

// New initializes and returns a new client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	apiClient := model.NewAPIv4Client(cfg.SiteURL)
	apiClient.SetToken(cfg.AuthToken)

	c := &Client{
		cfg:       cfg,
		handlers:  make(map[EventType]EventHandler),
		apiClient: apiClient,
		wsDoneCh:  make(chan struct{}),
		wsLimiter: rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		subs:      make(map[*subscriber]struct{}),
	}
	c.wsCtx, c.wsCancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.log == nil {
		c.log = slog.Default()
	}

	return c, nil
}

// Connect opens the update stream. Later disconnections are retried until the
// client is closed.
func (c *Client) Connect() error {
	c.mut.Lock()
	defer c.mut.Unlock()

	if !atomic.CompareAndSwapInt32(&c.state, clientStateNew, clientStateInit) {
		return fmt.Errorf("ws client is already initialized")
	}

	// The first attempt doesn't wait on the limiter.
	c.wsLimiter.Allow()

	wsc, err := c.wsOpen()
	if err != nil {
		atomic.StoreInt32(&c.state, clientStateNew)
		return err
	}
	c.ws = wsc

	go c.wsReader()

	return nil
}

// Close permanently disconnects the client.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.state, clientStateInit, clientStateClosing) {
		return fmt.Errorf("client is not initialized")
	}

	c.wsCancel()
	<-c.wsDoneCh

	c.mut.Lock()
	wsc := c.ws
	c.ws = nil
	c.mut.Unlock()

	var err error
	if wsc != nil {
		if closeErr := wsc.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close ws: %w", closeErr)
		}
	}

	c.closeSubscribers()
	atomic.StoreInt32(&c.state, clientStateClosed)
	c.emit(CloseEvent, nil)

	return err
}

// On registers a handler for the given event type. Only one handler per
// event type is allowed.
func (c *Client) On(eventType EventType, h EventHandler) error {
	if !eventType.IsValid() {
		return fmt.Errorf("invalid event type %q", eventType)
	}

	c.mut.Lock()
	defer c.mut.Unlock()

	if _, ok := c.handlers[eventType]; ok {
		return ErrAlreadySubscribed
	}

	c.handlers[eventType] = h

	return nil
}

func (c *Client) emit(eventType EventType, ctx any) {
	c.mut.RLock()
	handler := c.handlers[eventType]
	c.mut.RUnlock()
	if handler != nil {
		if err := handler(ctx); err != nil {
			c.log.Error("failed to handle event",
				slog.Any("type", eventType), slog.String("err", err.Error()))
		}
	}
}
