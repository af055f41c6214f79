// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mattermost/rosterd/service/random"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type Server struct {
	cfg       ServerConfig
	log       mlog.LoggerIFace
	conns     map[string]*conn
	authCb    AuthCb
	mut       sync.RWMutex
	sendCh    chan Message
	receiveCh chan Message
	closeCh   chan struct{}
	writerCh  chan struct{}
	closed    bool
	wg        sync.WaitGroup
}

func NewServer(cfg ServerConfig, log mlog.LoggerIFace, opts ...ServerOption) (*Server, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if log == nil {
		return nil, fmt.Errorf("invalid logger: should not be nil")
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		conns:     make(map[string]*conn),
		sendCh:    make(chan Message, sendChSize),
		receiveCh: make(chan Message, receiveChSize),
		closeCh:   make(chan struct{}),
		writerCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	go s.connWriter()

	return s, nil
}

// Send queues a message for delivery. A message with an empty ConnID is
// delivered to all connections.
func (s *Server) Send(msg Message) error {
	s.mut.RLock()
	defer s.mut.RUnlock()

	if s.closed {
		return fmt.Errorf("server is closed")
	}

	select {
	case s.sendCh <- msg:
	default:
		return fmt.Errorf("failed to send message: channel is full")
	}

	return nil
}

// ReceiveCh returns the channel of messages read from connections, along with
// open and close notifications. It's closed once the server is closed.
func (s *Server) ReceiveCh() <-chan Message {
	return s.receiveCh
}

func (s *Server) receive(msg Message) {
	select {
	case s.receiveCh <- msg:
	case <-s.closeCh:
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		http.Error(w, "server is closed", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mut.Unlock()
	defer s.wg.Done()

	var clientID string
	if s.authCb != nil {
		var code int
		var err error
		clientID, code, err = s.authCb(w, r)
		if err != nil {
			s.log.Debug("ws auth failed", mlog.Err(err), mlog.String("remoteAddr", r.RemoteAddr))
			if code == 0 {
				code = http.StatusUnauthorized
			}
			http.Error(w, err.Error(), code)
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade connection", mlog.Err(err))
		return
	}
	ws.SetReadLimit(connMaxReadBytes)

	conn := newConn(random.NewID(), clientID, ws)
	if !s.addConn(conn) {
		_ = conn.close()
		return
	}
	defer func() {
		s.removeConn(conn.id)
		if err := conn.close(); err != nil {
			s.log.Debug("failed to close ws conn", mlog.String("connID", conn.id), mlog.Err(err))
		}
		s.receive(newCloseMessage(conn.id, conn.clientID))
	}()

	s.receive(newOpenMessage(conn.id, conn.clientID))

	pingerDoneCh := make(chan struct{})
	defer func() { <-pingerDoneCh }()
	go s.pinger(conn, pingerDoneCh)

	readDeadline := func() time.Time { return time.Now().Add(2 * s.cfg.PingInterval) }
	if err := ws.SetReadDeadline(readDeadline()); err != nil {
		s.log.Error("failed to set read deadline", mlog.Err(err))
		_ = conn.close()
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(readDeadline())
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			s.log.Debug("ws read failed", mlog.String("connID", conn.id), mlog.Err(err))
			// Stops the pinger.
			_ = conn.close()
			return
		}

		msgType, ok := toMessageType(mt)
		if !ok {
			continue
		}

		s.receive(Message{
			ConnID:   conn.id,
			ClientID: conn.clientID,
			Type:     msgType,
			Data:     data,
		})
	}
}

func (s *Server) pinger(conn *conn, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWaitTime)); err != nil {
				s.log.Debug("failed to send ping", mlog.String("connID", conn.id), mlog.Err(err))
				return
			}
		case <-conn.closeCh:
			return
		}
	}
}

func (s *Server) connWriter() {
	defer close(s.writerCh)

	for msg := range s.sendCh {
		var conns []*conn
		if msg.ConnID == "" {
			conns = s.getConns()
		} else if c := s.getConn(msg.ConnID); c != nil {
			conns = []*conn{c}
		} else {
			s.log.Debug("failed to get conn for sending", mlog.String("connID", msg.ConnID))
			continue
		}

		for _, c := range conns {
			if err := c.write(msg.Type, msg.Data); err != nil {
				s.log.Debug("failed to write message", mlog.String("connID", c.id), mlog.Err(err))
			}
		}
	}
}

// Close closes all the connections and waits for their handlers to return.
// It's safe to call multiple times.
func (s *Server) Close() {
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		return
	}
	s.closed = true
	close(s.closeCh)
	close(s.sendCh)
	s.mut.Unlock()

	<-s.writerCh

	for _, conn := range s.getConns() {
		if err := conn.close(); err != nil {
			s.log.Debug("failed to close ws conn", mlog.String("connID", conn.id), mlog.Err(err))
		}
	}

	s.wg.Wait()
	close(s.receiveCh)
}
