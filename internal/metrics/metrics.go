package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics of the ingestion and symbolication
// pipelines. All methods are safe on a nil receiver so services can run
// without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	EventsAccepted *prometheus.CounterVec
	EventsSkipped  *prometheus.CounterVec
	ItemErrors     *prometheus.CounterVec
	IssuesCreated  prometheus.Counter
	BatchDuration  prometheus.Histogram

	Symbolications     *prometheus.CounterVec
	ManifestFetches    *prometheus.CounterVec
	SymbolicationTimes prometheus.Histogram
}

// NewCollector creates the collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		EventsAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_accepted_total",
				Help:      "Total number of persisted events",
			},
			[]string{"domain", "level"},
		),
		EventsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_skipped_total",
				Help:      "Total number of events skipped by the abuse guards",
			},
			[]string{"reason"},
		),
		ItemErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_item_errors_total",
				Help:      "Total number of batch items dropped with an error code",
			},
			[]string{"code"},
		),
		IssuesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "issues_created_total",
				Help:      "Total number of issues created",
			},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_batch_duration_seconds",
				Help:      "Time spent processing one ingestion batch",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Symbolications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "symbolications_total",
				Help:      "Total number of event symbolications by status",
			},
			[]string{"status", "cached"},
		),
		ManifestFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blob_fetches_total",
				Help:      "Total number of manifest and map downloads",
			},
			[]string{"kind", "result"},
		),
		SymbolicationTimes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "symbolication_duration_seconds",
				Help:      "Time spent symbolicating one event",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		c.EventsAccepted,
		c.EventsSkipped,
		c.ItemErrors,
		c.IssuesCreated,
		c.BatchDuration,
		c.Symbolications,
		c.ManifestFetches,
		c.SymbolicationTimes,
	)

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) EventAccepted(domain, level string) {
	if c == nil {
		return
	}
	c.EventsAccepted.WithLabelValues(domain, level).Inc()
}

func (c *Collector) EventSkipped(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.EventsSkipped.WithLabelValues(reason).Add(float64(n))
}

func (c *Collector) ItemError(code string) {
	if c == nil {
		return
	}
	c.ItemErrors.WithLabelValues(code).Inc()
}

func (c *Collector) IssueCreated() {
	if c == nil {
		return
	}
	c.IssuesCreated.Inc()
}

func (c *Collector) ObserveBatch(d time.Duration) {
	if c == nil {
		return
	}
	c.BatchDuration.Observe(d.Seconds())
}

func (c *Collector) Symbolicated(status string, cached bool, d time.Duration) {
	if c == nil {
		return
	}
	label := "false"
	if cached {
		label = "true"
	}
	c.Symbolications.WithLabelValues(status, label).Inc()
	if !cached {
		c.SymbolicationTimes.Observe(d.Seconds())
	}
}

// BlobFetched counts one download; kind is "manifest" or "map".
func (c *Collector) BlobFetched(kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.ManifestFetches.WithLabelValues(kind, result).Inc()
}
