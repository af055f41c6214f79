// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsSubSystemRoster = "roster"
	metricsSubSystemWS     = "ws"
)

type Metrics struct {
	registry *prometheus.Registry

	RosterUpdateCounters   *prometheus.CounterVec
	RosterResyncCounter    prometheus.Counter
	RosterFetchCounters    *prometheus.CounterVec
	RosterMutationCounters *prometheus.CounterVec
	RosterParticipants     *prometheus.GaugeVec
	RosterCalls            prometheus.Gauge

	WSConnections     *prometheus.GaugeVec
	WSMessageCounters *prometheus.CounterVec
}

func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	var m Metrics

	if registry != nil {
		m.registry = registry
	} else {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: namespace,
		}))
		m.registry.MustRegister(collectors.NewGoCollector())
	}

	m.RosterUpdateCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRoster,
			Name:      "updates_total",
			Help:      "Total number of processed participant updates",
		},
		[]string{"result"},
	)
	m.registry.MustRegister(m.RosterUpdateCounters)

	m.RosterResyncCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRoster,
			Name:      "resyncs_total",
			Help:      "Total number of roster resets caused by version gaps",
		},
	)
	m.registry.MustRegister(m.RosterResyncCounter)

	m.RosterFetchCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRoster,
			Name:      "fetches_total",
			Help:      "Total number of participant fetches",
		},
		[]string{"purpose", "result"},
	)
	m.registry.MustRegister(m.RosterFetchCounters)

	m.RosterMutationCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRoster,
			Name:      "mutations_total",
			Help:      "Total number of participant and call mutations",
		},
		[]string{"kind", "result"},
	)
	m.registry.MustRegister(m.RosterMutationCounters)

	m.RosterParticipants = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRoster,
			Name:      "participants",
			Help:      "Number of participants per watched call",
		},
		[]string{"callID"},
	)
	m.registry.MustRegister(m.RosterParticipants)

	m.RosterCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRoster,
			Name:      "calls_total",
			Help:      "Total number of watched calls",
		},
	)
	m.registry.MustRegister(m.RosterCalls)

	m.WSConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWS,
			Name:      "connections_total",
			Help:      "Total number of active WebSocket sessions",
		},
		[]string{"clientID"},
	)
	m.registry.MustRegister(m.WSConnections)

	m.WSMessageCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWS,
			Name:      "messages_total",
			Help:      "Total number of sent/received WebSocket messages",
		},
		[]string{"clientID", "type", "direction"},
	)
	m.registry.MustRegister(m.WSMessageCounters)

	return &m
}

func (m *Metrics) IncUpdates(result string) {
	m.RosterUpdateCounters.With(prometheus.Labels{"result": result}).Inc()
}

func (m *Metrics) IncResyncs() {
	m.RosterResyncCounter.Inc()
}

func (m *Metrics) IncFetches(purpose, result string) {
	m.RosterFetchCounters.With(prometheus.Labels{"purpose": purpose, "result": result}).Inc()
}

func (m *Metrics) IncMutations(kind, result string) {
	m.RosterMutationCounters.With(prometheus.Labels{"kind": kind, "result": result}).Inc()
}

func (m *Metrics) SetParticipants(callID int64, count int) {
	m.RosterParticipants.With(prometheus.Labels{"callID": strconv.FormatInt(callID, 10)}).Set(float64(count))
}

// DeleteParticipants drops the participants gauge of a call that's no
// longer watched.
func (m *Metrics) DeleteParticipants(callID int64) {
	m.RosterParticipants.Delete(prometheus.Labels{"callID": strconv.FormatInt(callID, 10)})
}

func (m *Metrics) IncRosterCalls() {
	m.RosterCalls.Inc()
}

func (m *Metrics) DecRosterCalls() {
	m.RosterCalls.Dec()
}

func (m *Metrics) IncWSConnections(clientID string) {
	m.WSConnections.With(prometheus.Labels{"clientID": clientID}).Inc()
}

func (m *Metrics) DecWSConnections(clientID string) {
	m.WSConnections.With(prometheus.Labels{"clientID": clientID}).Dec()
}

func (m *Metrics) IncWSMessages(clientID, msgType, direction string) {
	m.WSMessageCounters.With(prometheus.Labels{"clientID": clientID, "type": msgType, "direction": direction}).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
