// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type HandleFunc func(http.ResponseWriter, *http.Request)

// RegisterHandleFunc registers hf for the given pattern. Patterns follow
// http.ServeMux syntax so they may carry a method and path wildcards
// (e.g. "GET /calls/{id}").
func (s *Server) RegisterHandleFunc(pattern string, hf HandleFunc) {
	s.mux.HandleFunc(pattern, hf)
}

func (s *Server) RegisterHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	// Upgraded connections are reported as switching protocols.
	if r.code == 0 {
		r.code = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}

	defer func() {
		if err := recover(); err != nil {
			s.log.Error("api: handler panic", mlog.Any("err", err), mlog.String("path", r.URL.Path))
			if rec.code == 0 {
				http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	}()

	s.mux.ServeHTTP(rec, r)

	code := rec.code
	if code == 0 {
		code = http.StatusOK
	}
	s.log.Debug("api: request served",
		mlog.String("method", r.Method),
		mlog.String("path", r.URL.Path),
		mlog.Int("code", code),
		mlog.String("duration", time.Since(start).String()),
	)
}
