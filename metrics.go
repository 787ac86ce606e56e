package knot

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordBuild is called once per build session after commit.
	// objects is the number of objects allocated in the session, bindings
	// the number of deferred assignments applied, duration the wall time of
	// the whole session including commit.
	RecordBuild(objects, bindings int, duration time.Duration)

	// RecordAlloc is called for each allocation batch (count objects).
	RecordAlloc(count int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordAlloc(int)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildCount        atomic.Int64
	BuildTotalNanos   atomic.Int64
	ObjectsAllocated  atomic.Int64
	BindingsCommitted atomic.Int64
}

// RecordBuild implements MetricsCollector. Objects are already counted per
// allocation by RecordAlloc.
func (b *BasicMetricsCollector) RecordBuild(_, bindings int, duration time.Duration) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	b.BindingsCommitted.Add(int64(bindings))
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(count int) {
	b.ObjectsAllocated.Add(int64(count))
}
