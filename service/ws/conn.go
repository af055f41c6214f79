// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	connMaxReadBytes = 1024 * 1024 // 1MB
	writeWaitTime    = 10 * time.Second
	sendChSize       = 256
	receiveChSize    = 256
)

type conn struct {
	id        string
	clientID  string
	ws        *websocket.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newConn(id, clientID string, ws *websocket.Conn) *conn {
	return &conn{
		id:       id,
		clientID: clientID,
		ws:       ws,
		closeCh:  make(chan struct{}),
	}
}

// close is safe to call multiple times. Only the first call closes the
// underlying connection.
func (c *conn) close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *conn) write(mt MessageType, data []byte) error {
	wsType := websocket.TextMessage
	if mt == BinaryMessage {
		wsType = websocket.BinaryMessage
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWaitTime)); err != nil {
		return err
	}
	return c.ws.WriteMessage(wsType, data)
}

func toMessageType(wsType int) (MessageType, bool) {
	switch wsType {
	case websocket.TextMessage:
		return TextMessage, true
	case websocket.BinaryMessage:
		return BinaryMessage, true
	default:
		return 0, false
	}
}

func (s *Server) addConn(c *conn) bool {
	if c == nil {
		return false
	}
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.conns[c.id]; ok {
		return false
	}
	s.conns[c.id] = c
	return true
}

func (s *Server) removeConn(connID string) bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	if _, ok := s.conns[connID]; !ok {
		return false
	}
	delete(s.conns, connID)
	return true
}

func (s *Server) getConn(connID string) *conn {
	s.mut.RLock()
	defer s.mut.RUnlock()
	if connID == "" {
		return nil
	}
	return s.conns[connID]
}

func (s *Server) getConns() []*conn {
	s.mut.RLock()
	defer s.mut.RUnlock()
	conns := make([]*conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	return conns
}
