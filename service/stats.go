// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
)

func gaugeValue(g prometheus.Gauge) (float64, error) {
	var m model.Metric
	if err := g.Write(&m); err != nil {
		return 0, err
	}
	return m.GetGauge().GetValue(), nil
}

func (s *Service) getStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("getStats", data, w, r)

	clientID, code, err := s.authHandler(w, r)
	if err != nil {
		data.err = err.Error()
		data.code = code
		return
	}
	data.clientID = clientID

	calls, err := gaugeValue(s.metrics.RosterCalls)
	if err != nil {
		data.err = err.Error()
		data.code = http.StatusInternalServerError
		return
	}
	data.resData["calls"] = calls

	participants := map[string]float64{}
	for _, callID := range s.watchedCallIDs() {
		id := strconv.FormatInt(callID, 10)
		gauge, err := s.metrics.RosterParticipants.GetMetricWith(prometheus.Labels{"callID": id})
		if err != nil {
			data.err = err.Error()
			data.code = http.StatusInternalServerError
			return
		}
		if participants[id], err = gaugeValue(gauge); err != nil {
			data.err = err.Error()
			data.code = http.StatusInternalServerError
			return
		}
	}
	data.resData["participants"] = participants

	if clientID == "" {
		clientID = "admin"
	}
	gauge, err := s.metrics.WSConnections.GetMetricWith(prometheus.Labels{"clientID": clientID})
	if err != nil {
		data.err = err.Error()
		data.code = http.StatusInternalServerError
		return
	}
	if data.resData["connections"], err = gaugeValue(gauge); err != nil {
		data.err = err.Error()
		data.code = http.StatusInternalServerError
		return
	}

	data.code = http.StatusOK
}
