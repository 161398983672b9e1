package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ExpirationCounter tracks entries removed because their deadline passed.
	ExpirationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decay_expirations_total",
		Help: "Total number of entries expired",
	})
	// PublishCounter tracks expiration events handed to a notify sink.
	PublishCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decay_events_published_total",
		Help: "Total number of expiration events published",
	})
	// PublishErrorCounter tracks failed sink publishes.
	PublishErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decay_events_publish_errors_total",
		Help: "Total number of expiration events that failed to publish",
	})
	// WatcherGauge reports the number of active expiration watchers.
	WatcherGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "decay_watchers",
		Help: "Current number of active expiration watchers",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers decay core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ExpirationCounter, PublishCounter, PublishErrorCounter, WatcherGauge)
}
