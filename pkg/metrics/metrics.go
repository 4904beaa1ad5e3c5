// Package metrics exposes the label server's Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"totelabel/pkg/label"
)

type Metrics struct {
	builds       *prometheus.CounterVec
	buildSeconds prometheus.Histogram
	syncChecks   *prometheus.CounterVec
	rawFetches   *prometheus.CounterVec
	sensor       *prometheus.CounterVec
	published    *prometheus.CounterVec
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "totelabel_builds_total",
			Help: "Label builds by outcome.",
		}, []string{"result"}),
		buildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "totelabel_build_seconds",
			Help:    "Time from upload decode to committed artifacts.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		syncChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "totelabel_sync_checks_total",
			Help: "Device update polls by whether an artifact was available.",
		}, []string{"available"}),
		rawFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "totelabel_raw_fetches_total",
			Help: "Raw bitmap downloads by HTTP status.",
		}, []string{"status"}),
		sensor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "totelabel_sensor_updates_total",
			Help: "Sensor readings accepted by status.",
		}, []string{"status"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "totelabel_commit_events_total",
			Help: "Commit events handed to the message bus by outcome.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.builds, m.buildSeconds, m.syncChecks, m.rawFetches, m.sensor, m.published)
	}
	return m
}

func buildResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, label.ErrValidation):
		return "invalid"
	case errors.Is(err, label.ErrDecode):
		return "decode_error"
	default:
		return "error"
	}
}

// ObserveBuild implements label.Observer.
func (m *Metrics) ObserveBuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(buildResult(err)).Inc()
	if err == nil {
		m.buildSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) SyncCheck(available bool) {
	if m == nil {
		return
	}
	v := "false"
	if available {
		v = "true"
	}
	m.syncChecks.WithLabelValues(v).Inc()
}

func (m *Metrics) RawFetch(status int) {
	if m == nil {
		return
	}
	m.rawFetches.WithLabelValues(statusLabel(status)).Inc()
}

func (m *Metrics) SensorUpdate(status string) {
	if m == nil {
		return
	}
	m.sensor.WithLabelValues(status).Inc()
}

func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.published.WithLabelValues("error").Inc()
		return
	}
	m.published.WithLabelValues("ok").Inc()
}

func statusLabel(code int) string {
	switch code {
	case 200:
		return "200"
	case 304:
		return "304"
	case 404:
		return "404"
	}
	if code >= 500 {
		return "5xx"
	}
	return "4xx"
}
