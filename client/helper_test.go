// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/rosterd/service/random"
	"github.com/mattermost/rosterd/service/roster"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	waitTimeout = 5 * time.Second
)

type apiHandler func(body []byte) (any, *model.AppError)

// testServer emulates the remote roster API.
type testServer struct {
	tb        testing.TB
	srv       *httptest.Server
	authToken string
	handlers  map[string]apiHandler
	conns     []*websocket.Conn
	connCh    chan *websocket.Conn
	mut       sync.Mutex
}

func newTestServer(tb testing.TB) *testServer {
	tb.Helper()

	ts := &testServer{
		tb:        tb,
		authToken: random.NewID(),
		handlers:  make(map[string]apiHandler),
		connCh:    make(chan *websocket.Conn, 8),
	}

	ts.srv = httptest.NewServer(http.HandlerFunc(ts.serveHTTP))
	tb.Cleanup(ts.close)

	return ts
}

func (ts *testServer) close() {
	ts.mut.Lock()
	for _, conn := range ts.conns {
		conn.Close()
	}
	ts.conns = nil
	ts.mut.Unlock()
	ts.srv.Close()
}

func (ts *testServer) handle(path string, h apiHandler) {
	ts.mut.Lock()
	defer ts.mut.Unlock()
	ts.handlers[rosterAPIPath+path] = h
}

func (ts *testServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Authorization"), "bearer "+ts.authToken) {
		writeAppError(w, model.NewAppError("serveHTTP", "api.context.session_expired.app_error", nil, "", http.StatusUnauthorized))
		return
	}

	if r.URL.Path == rosterAPIPath+updatesPath {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mut.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mut.Unlock()
		ts.connCh <- conn
		return
	}

	ts.mut.Lock()
	h := ts.handlers[r.URL.Path]
	ts.mut.Unlock()
	if h == nil {
		writeAppError(w, model.NewAppError("serveHTTP", "api.not_found", nil, "", http.StatusNotFound))
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAppError(w, model.NewAppError("serveHTTP", "api.bad_request", nil, err.Error(), http.StatusBadRequest))
		return
	}

	res, appErr := h(body)
	if appErr != nil {
		writeAppError(w, appErr)
		return
	}

	data, err := msgpack.Marshal(res)
	if err != nil {
		writeAppError(w, model.NewAppError("serveHTTP", "api.marshal", nil, err.Error(), http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", msgpackContentType)
	_, _ = w.Write(data)
}

func writeAppError(w http.ResponseWriter, appErr *model.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_, _ = w.Write([]byte(appErr.ToJSON()))
}

// waitConn returns the next update stream connection.
func (ts *testServer) waitConn() *websocket.Conn {
	ts.tb.Helper()
	select {
	case conn := <-ts.connCh:
		return conn
	case <-time.After(waitTimeout):
		require.Fail(ts.tb, "timed out waiting for ws connection")
	}
	return nil
}

func sendEnvelope(tb testing.TB, conn *websocket.Conn, env roster.Envelope) {
	tb.Helper()
	data, err := env.Pack()
	require.NoError(tb, err)
	require.NoError(tb, conn.WriteMessage(websocket.BinaryMessage, data))
}

func (ts *testServer) newClient(opts ...Option) *Client {
	ts.tb.Helper()
	c, err := New(Config{
		SiteURL:           ts.srv.URL,
		AuthToken:         ts.authToken,
		ReconnectInterval: 50 * time.Millisecond,
	}, opts...)
	require.NoError(ts.tb, err)
	return c
}
