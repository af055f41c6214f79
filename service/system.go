// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const cpuSampleDuration = time.Second

type SystemInfo struct {
	CPULoad      float64 `json:"cpu_load"`
	Goroutines   int     `json:"goroutines"`
	WatchedCalls int     `json:"watched_calls"`
}

// cpuLoad samples the host idle time over d and returns the busy ratio
// normalized to a single core.
func (s *Service) cpuLoad(d time.Duration) (float64, error) {
	st1, err := s.proc.Stat()
	if err != nil {
		return 0, err
	}
	t0 := time.Now()
	time.Sleep(d)
	st2, err := s.proc.Stat()
	if err != nil {
		return 0, err
	}

	idleDiff := st2.CPUTotal.Idle - st1.CPUTotal.Idle
	if idleDiff <= 0 {
		return float64(runtime.NumCPU()), nil
	}
	return 1 / (idleDiff / time.Since(t0).Seconds()), nil
}

func (s *Service) getSystemInfo(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.NotFound(w, req)
		return
	}

	info := SystemInfo{
		Goroutines:   runtime.NumGoroutine(),
		WatchedCalls: len(s.watchedCallIDs()),
	}
	load, err := s.cpuLoad(cpuSampleDuration)
	if err != nil {
		s.log.Error("failed to get cpu stat", mlog.Err(err))
	}
	info.CPULoad = load

	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&info); err != nil {
		s.log.Error("failed to encode system info", mlog.Err(err))
	}
}
