// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattermost/rosterd/service/roster"
	"github.com/mattermost/rosterd/service/ws"
)

const subscriberChSize = 64

type subscriber struct {
	ch     chan roster.Envelope
	doneCh chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() {
		close(s.doneCh)
	})
}

// Subscribe returns a channel receiving every update envelope read from the
// stream, and a function to stop receiving. The channel is closed when the
// client is closed.
func (c *Client) Subscribe() (<-chan roster.Envelope, func()) {
	sub := &subscriber{
		ch:     make(chan roster.Envelope, subscriberChSize),
		doneCh: make(chan struct{}),
	}

	c.subsMu.Lock()
	if c.subs == nil {
		c.subsMu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	c.subs[sub] = struct{}{}
	c.subsMu.Unlock()

	return sub.ch, func() {
		sub.stop()
		c.subsMu.Lock()
		delete(c.subs, sub)
		c.subsMu.Unlock()
	}
}

func (c *Client) subscribers() []*subscriber {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	subs := make([]*subscriber, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	return subs
}

// dispatch delivers env to every subscriber. Delivery blocks on slow
// subscribers so that no update is dropped.
func (c *Client) dispatch(env roster.Envelope) {
	for _, sub := range c.subscribers() {
		select {
		case sub.ch <- env:
		case <-sub.doneCh:
		case <-c.wsCtx.Done():
			return
		}
	}
}

// closeSubscribers must only be called once the reader has exited.
func (c *Client) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for sub := range c.subs {
		close(sub.ch)
	}
	c.subs = nil
}

func (c *Client) wsOpen() (*ws.Client, error) {
	wsc, err := ws.NewClient(c.wsCtx, ws.ClientConfig{
		URL:       c.cfg.wsURL,
		AuthToken: c.cfg.AuthToken,
		AuthType:  ws.BearerClientAuthType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ws client: %w", err)
	}
	return wsc, nil
}

func (c *Client) handleWSMsg(msg ws.Message) error {
	switch msg.Type {
	case ws.BinaryMessage:
		env, err := roster.UnpackEnvelope(msg.Data)
		if err != nil {
			return err
		}
		c.dispatch(env)
	case ws.TextMessage:
		c.log.Debug("ignoring text message", slog.Int("size", len(msg.Data)))
	default:
		return fmt.Errorf("invalid ws message type %d", msg.Type)
	}

	return nil
}

// wsConsume reads from wsc until it disconnects or the client is closing.
func (c *Client) wsConsume(wsc *ws.Client) {
	for {
		select {
		case msg, ok := <-wsc.ReceiveCh():
			if !ok {
				return
			}
			if err := c.handleWSMsg(msg); err != nil {
				c.log.Error("failed to handle ws message", slog.String("err", err.Error()))
				c.emit(ErrorEvent, err)
			}
		case err := <-wsc.ErrorCh():
			if err != nil {
				c.log.Debug("ws error", slog.String("err", err.Error()))
			}
		case <-c.wsCtx.Done():
			return
		}
	}
}

// wsReconnect blocks until a new connection is established or the client is
// closing.
func (c *Client) wsReconnect() error {
	c.mut.Lock()
	if c.ws != nil {
		if err := c.ws.Close(); err != nil {
			c.log.Debug("failed to close ws", slog.String("err", err.Error()))
		}
		c.ws = nil
	}
	c.mut.Unlock()

	for {
		if err := c.wsLimiter.Wait(c.wsCtx); err != nil {
			return err
		}

		wsc, err := c.wsOpen()
		if err != nil {
			c.log.Error("failed to reconnect", slog.String("err", err.Error()))
			c.emit(ErrorEvent, err)
			continue
		}

		c.mut.Lock()
		c.ws = wsc
		c.mut.Unlock()
		return nil
	}
}

func (c *Client) wsReader() {
	defer close(c.wsDoneCh)

	for {
		c.mut.RLock()
		wsc := c.ws
		c.mut.RUnlock()

		c.emit(WSConnectEvent, wsc.ConnID())
		c.wsConsume(wsc)

		if c.wsCtx.Err() != nil {
			return
		}

		c.emit(WSDisconnectEvent, nil)

		if err := c.wsReconnect(); err != nil {
			return
		}
	}
}

var _ roster.UpdateSource = (*Client)(nil)
