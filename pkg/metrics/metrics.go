// Package metrics holds the Prometheus collectors exported by the engine.
// A nil *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vcscore"

// Collectors groups every metric the engine records.
type Collectors struct {
	objectsWritten     *prometheus.CounterVec
	objectBytesWritten prometheus.Counter
	objectCache        *prometheus.CounterVec
	checkoutFiles      *prometheus.CounterVec
	checkoutDuration   prometheus.Histogram
	merges             *prometheus.CounterVec
	mergeConflicts     prometheus.Counter
	transferredObjects *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		objectsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_written_total",
			Help:      "Objects newly written to the object store, by type.",
		}, []string{"type"}),
		objectBytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_bytes_written_total",
			Help:      "Uncompressed bytes of newly written objects.",
		}),
		objectCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_cache_lookups_total",
			Help:      "Decoded object cache lookups, by result.",
		}, []string{"result"}),
		checkoutFiles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_files_total",
			Help:      "Working tree files touched by checkout, by action.",
		}, []string{"action"}),
		checkoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Checkout duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Merge operations, by analysis outcome.",
		}, []string{"outcome"}),
		mergeConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicted_paths_total",
			Help:      "Paths left conflicted by content merges.",
		}),
		transferredObjects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_objects_total",
			Help:      "Objects moved by fetch and push, by direction.",
		}, []string{"direction"}),
	}
}

func (c *Collectors) ObjectWritten(objType string, size int) {
	if c == nil {
		return
	}
	c.objectsWritten.WithLabelValues(objType).Inc()
	c.objectBytesWritten.Add(float64(size))
}

func (c *Collectors) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.objectCache.WithLabelValues(result).Inc()
}

func (c *Collectors) CheckoutFile(action string) {
	if c == nil {
		return
	}
	c.checkoutFiles.WithLabelValues(action).Inc()
}

func (c *Collectors) CheckoutFinished(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.checkoutDuration.Observe(elapsed.Seconds())
}

func (c *Collectors) MergeFinished(outcome string, conflicts int) {
	if c == nil {
		return
	}
	c.merges.WithLabelValues(outcome).Inc()
	c.mergeConflicts.Add(float64(conflicts))
}

func (c *Collectors) ObjectsTransferred(direction string, n int) {
	if c == nil {
		return
	}
	c.transferredObjects.WithLabelValues(direction).Add(float64(n))
}
