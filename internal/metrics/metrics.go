// Package metrics exposes Prometheus counters for the tendon controller link
// and the playback engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply results used as the "result" label of replies_total.
const (
	ResultOK        = "ok"
	ResultFault     = "fault"
	ResultTimeout   = "timeout"
	ResultMalformed = "malformed"
	ResultError     = "error"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the batbot collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	FramesSent       *prometheus.CounterVec // labels: transport=serial|streamed
	Replies          *prometheus.CounterVec // labels: result
	PlaybackRecords  prometheus.Counter
	PlaybackCycles   prometheus.Counter
	PlaybackFailures prometheus.Counter
	PlaybackRunning  prometheus.Gauge
}

// New registers and returns the batbot collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batbot_frames_sent_total",
			Help: "Frames and records written to a transport.",
		}, []string{"transport"}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batbot_replies_total",
			Help: "Request/response exchanges by result.",
		}, []string{"result"}),
		PlaybackRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batbot_playback_records_total",
			Help: "Records streamed by the playback engine.",
		}),
		PlaybackCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batbot_playback_cycles_total",
			Help: "Completed passes over a playback sequence.",
		}),
		PlaybackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batbot_playback_failures_total",
			Help: "Playback runs ended by a transport error.",
		}),
		PlaybackRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batbot_playback_running",
			Help: "1 while a playback run is active.",
		}),
	}
	reg.MustRegister(m.FramesSent, m.Replies, m.PlaybackRecords, m.PlaybackCycles, m.PlaybackFailures, m.PlaybackRunning)
	return m
}

// FrameSent counts one outbound frame on the named transport.
func (m *Metrics) FrameSent(transport string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(transport).Inc()
}

// Reply counts one request/response exchange.
func (m *Metrics) Reply(result string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(result).Inc()
}

// RecordSent counts one record streamed by playback.
func (m *Metrics) RecordSent() {
	if m == nil {
		return
	}
	m.PlaybackRecords.Inc()
}

// CycleCompleted counts one completed sequence pass.
func (m *Metrics) CycleCompleted() {
	if m == nil {
		return
	}
	m.PlaybackCycles.Inc()
}

// PlaybackFailed counts a run that ended with an error.
func (m *Metrics) PlaybackFailed() {
	if m == nil {
		return
	}
	m.PlaybackFailures.Inc()
}

// SetRunning sets the running gauge.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.PlaybackRunning.Set(1)
	} else {
		m.PlaybackRunning.Set(0)
	}
}
