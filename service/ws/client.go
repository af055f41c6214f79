// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mattermost/rosterd/service/random"

	"github.com/gorilla/websocket"
)

const (
	wsConnClosed int32 = iota
	wsConnOpen
	wsConnClosing
)

type Client struct {
	cfg       ClientConfig
	dialer    *websocket.Dialer
	conn      *conn
	sendCh    chan Message
	receiveCh chan Message
	errorCh   chan error
	readerCh  chan struct{}
	wg        sync.WaitGroup
	connState int32
}

// NewClient dials the configured URL and returns a connected WebSocket
// client.
func NewClient(ctx context.Context, cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		sendCh:    make(chan Message, sendChSize),
		receiveCh: make(chan Message, receiveChSize),
		errorCh:   make(chan error, 1),
		readerCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	ws, resp, err := c.dialer.DialContext(ctx, cfg.URL, cfg.authHeader())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	ws.SetReadLimit(connMaxReadBytes)

	connID := cfg.ConnID
	if connID == "" {
		connID = random.NewID()
	}
	c.conn = newConn(connID, "", ws)

	c.setConnState(wsConnOpen)
	c.wg.Add(2)
	go c.connReader()
	go c.connWriter()

	return c, nil
}

func (c *Client) connReader() {
	defer func() {
		close(c.receiveCh)
		close(c.readerCh)
		c.wg.Done()
	}()

	for {
		mt, data, err := c.conn.ws.ReadMessage()
		if err != nil {
			c.sendError(fmt.Errorf("failed to read message: %w", err))
			return
		}

		msgType, ok := toMessageType(mt)
		if !ok {
			c.sendError(fmt.Errorf("unexpected message type: %d", mt))
			continue
		}

		select {
		case c.receiveCh <- Message{ConnID: c.conn.id, Type: msgType, Data: data}:
		case <-c.conn.closeCh:
			return
		}
	}
}

func (c *Client) connWriter() {
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.write(msg.Type, msg.Data); err != nil {
				c.sendError(fmt.Errorf("failed to write message: %w", err))
			}
		case <-c.readerCh:
			return
		case <-c.conn.closeCh:
			return
		}
	}
}

func (c *Client) sendError(err error) {
	if c.getConnState() != wsConnOpen {
		return
	}
	select {
	case c.errorCh <- err:
	default:
	}
}

// ConnID returns the id of the underlying connection.
func (c *Client) ConnID() string {
	return c.conn.id
}

// Send sends a WebSocket message with the specified type and data.
func (c *Client) Send(mt MessageType, data []byte) error {
	if c.getConnState() != wsConnOpen {
		return fmt.Errorf("failed to send message: connection is closed")
	}

	select {
	case c.sendCh <- Message{Type: mt, Data: data}:
	default:
		return fmt.Errorf("failed to send message: channel is full")
	}
	return nil
}

// ReceiveCh returns a channel that should be used to receive messages from the
// underlying ws connection. It's closed when the connection drops.
func (c *Client) ReceiveCh() <-chan Message {
	return c.receiveCh
}

// ErrorCh returns a channel that is used to receive client errors
// asynchronously.
func (c *Client) ErrorCh() <-chan error {
	return c.errorCh
}

// Done returns a channel that's closed once the connection stopped reading.
func (c *Client) Done() <-chan struct{} {
	return c.readerCh
}

// Close closes the underlying WebSocket connection and waits for the
// client goroutines to exit.
func (c *Client) Close() error {
	c.setConnState(wsConnClosing)
	err := c.conn.close()
	c.wg.Wait()
	c.setConnState(wsConnClosed)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) setConnState(st int32) {
	atomic.StoreInt32(&c.connState, st)
}

func (c *Client) getConnState() int32 {
	return atomic.LoadInt32(&c.connState)
}
