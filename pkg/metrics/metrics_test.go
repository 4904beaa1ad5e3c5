package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"totelabel/pkg/label"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBuild(20*time.Millisecond, nil)
	m.ObserveBuild(time.Millisecond, fmt.Errorf("%w: bad png", label.ErrDecode))
	m.ObserveBuild(time.Millisecond, fmt.Errorf("%w: tote", label.ErrValidation))
	m.ObserveBuild(time.Millisecond, errors.New("boom"))

	for result, want := range map[string]float64{"ok": 1, "decode_error": 1, "invalid": 1, "error": 1} {
		if got := testutil.ToFloat64(m.builds.WithLabelValues(result)); got != want {
			t.Fatalf("builds{result=%s} = %f want %f", result, got, want)
		}
	}
	if n := testutil.CollectAndCount(m.buildSeconds); n != 1 {
		t.Fatalf("expected histogram series, got %d", n)
	}

	m.SyncCheck(true)
	m.SyncCheck(true)
	m.SyncCheck(false)
	if got := testutil.ToFloat64(m.syncChecks.WithLabelValues("true")); got != 2 {
		t.Fatalf("sync checks available = %f", got)
	}

	m.RawFetch(200)
	m.RawFetch(404)
	m.RawFetch(503)
	if got := testutil.ToFloat64(m.rawFetches.WithLabelValues("5xx")); got != 1 {
		t.Fatalf("raw 5xx = %f", got)
	}

	m.SensorUpdate("critical")
	m.Published(nil)
	m.Published(errors.New("no servers"))
	if got := testutil.ToFloat64(m.published.WithLabelValues("error")); got != 1 {
		t.Fatalf("publish errors = %f", got)
	}

	if n, err := testutil.GatherAndCount(reg, "totelabel_sensor_updates_total"); err != nil || n != 1 {
		t.Fatalf("gather sensor: %d %v", n, err)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBuild(time.Second, nil)
	m.SyncCheck(true)
	m.RawFetch(200)
	m.SensorUpdate("normal")
	m.Published(nil)
}
