package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterCoreMetricsExposesDecayFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterCoreMetrics(reg)

	ExpirationCounter.Inc()
	PublishCounter.Inc()
	PublishErrorCounter.Inc()
	WatcherGauge.Set(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		got[mf.GetName()] = true
	}
	for _, name := range []string{
		"decay_expirations_total",
		"decay_events_published_total",
		"decay_events_publish_errors_total",
		"decay_watchers",
	} {
		if !got[name] {
			t.Fatalf("expected family %s in %v", name, got)
		}
	}
}

func TestRegisterCoreMetricsDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterCoreMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterCoreMetrics(reg)
}
