// Package metrics exposes prometheus counters for the cache writer and discovery.
// All methods are safe on a nil receiver so components can run without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaycache"

// Cache holds the cache writer counters
type Cache struct {
	written      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	bytesWritten prometheus.Counter
	clears       prometheus.Counter
}

// NewCache registers the cache writer metrics on reg. depth, if set, is sampled as the
// queue depth gauge.
func NewCache(reg prometheus.Registerer, depth func() int) *Cache {
	c := &Cache{
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records appended to the cache, by queue shape.",
		}, []string{"shape"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped while writing, by queue shape and reason.",
		}, []string{"shape", "reason"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes appended to the cache.",
		}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Times the cache was truncated.",
		}),
	}
	reg.MustRegister(c.written, c.dropped, c.bytesWritten, c.clears)

	if depth != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in the write queues.",
		}, func() float64 { return float64(depth()) }))
	}
	return c
}

// Written counts one record of the given shape and size
func (c *Cache) Written(shape string, n int) {
	if c == nil {
		return
	}
	c.written.WithLabelValues(shape).Inc()
	c.bytesWritten.Add(float64(n))
}

// Dropped counts one record lost for reason
func (c *Cache) Dropped(shape, reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(shape, reason).Inc()
}

// Cleared counts one truncation
func (c *Cache) Cleared() {
	if c == nil {
		return
	}
	c.clears.Inc()
}

// Discovery holds the discovery counters
type Discovery struct {
	broadcasts       prometheus.Counter
	replies          prometheus.Counter
	connects         *prometheus.CounterVec
	listenerFailures prometheus.Counter
}

// NewDiscovery registers the discovery metrics on reg
func NewDiscovery(reg prometheus.Registerer) *Discovery {
	d := &Discovery{
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "broadcasts_total",
			Help:      "Discovery requests broadcast.",
		}),
		replies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "replies_total",
			Help:      "Discovery replies received.",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "connects_total",
			Help:      "Auto-connect attempts, by result.",
		}, []string{"result"}),
		listenerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "listener_failures_total",
			Help:      "Discovery listeners that returned an error or panicked.",
		}),
	}
	reg.MustRegister(d.broadcasts, d.replies, d.connects, d.listenerFailures)
	return d
}

// Broadcast counts one request sent
func (d *Discovery) Broadcast() {
	if d == nil {
		return
	}
	d.broadcasts.Inc()
}

// Reply counts one reply received
func (d *Discovery) Reply() {
	if d == nil {
		return
	}
	d.replies.Inc()
}

// Connect counts one connect attempt
func (d *Discovery) Connect(err error) {
	if d == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	d.connects.WithLabelValues(result).Inc()
}

// ListenerFailure counts one failed listener call
func (d *Discovery) ListenerFailure() {
	if d == nil {
		return
	}
	d.listenerFailures.Inc()
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
