// Package metrics exposes cache events as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/imagecache/internal/imagecache"
)

const namespace = "imagecache"

// Collector implements imagecache.Hooks on a private registry.
type Collector struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	inflight      prometheus.Gauge
	leases        *prometheus.CounterVec
	abandoned     prometheus.Counter
	releases      prometheus.Counter
	purges        *prometheus.CounterVec
}

var _ imagecache.Hooks = (*Collector)(nil)

// New registers every series plus the Go and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Fetches by result (ok, error).",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching and writing an image.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_fetches",
			Help:      "Fetches currently running.",
		}),
		leases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_total",
			Help:      "Granted leases by kind (created, hit, joined).",
		}, []string{"kind"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_waits_total",
			Help:      "Lease calls that gave up before the fetch resolved.",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Accepted releases.",
		}),
		purges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purges_total",
			Help:      "File deletions after the last release, by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.fetches,
		c.fetchDuration,
		c.inflight,
		c.leases,
		c.abandoned,
		c.releases,
		c.purges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing Handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FetchStarted(string) {
	c.inflight.Inc()
}

func (c *Collector) FetchFinished(_ string, elapsed time.Duration, err error) {
	c.inflight.Dec()
	c.fetchDuration.Observe(elapsed.Seconds())
	c.fetches.WithLabelValues(result(err)).Inc()
}

func (c *Collector) LeaseGranted(_ string, kind imagecache.LeaseKind) {
	c.leases.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) LeaseAbandoned(string) {
	c.abandoned.Inc()
}

func (c *Collector) Released(string, int) {
	c.releases.Inc()
}

func (c *Collector) Purged(_ string, err error) {
	c.purges.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
