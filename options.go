package knot

import (
	"github.com/hupe1980/knot/internal/slab"
	"github.com/hupe1980/knot/resource"
)

type options struct {
	chunkCapacity int
	logger        *Logger
	metrics       MetricsCollector
	controller    *resource.Controller
}

// Option configures an Arena at construction time. Options are deliberately
// type-parameter free so one option slice can configure arenas of different
// element types.
type Option func(*options)

func defaultOptions() options {
	return options{
		chunkCapacity: slab.DefaultChunkCapacity,
		logger:        NoopLogger(),
		metrics:       NoopMetricsCollector{},
	}
}

// WithChunkCapacity sets the number of objects per storage chunk, rounded up
// to the next power of two. Larger chunks amortize growth; smaller chunks
// waste less memory on tiny graphs.
func WithChunkCapacity(n int) Option {
	return func(o *options) {
		o.chunkCapacity = n
	}
}

// WithLogger sets the logger used for session lifecycle events.
// Passing nil disables logging.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets a collector for build and allocation metrics.
// Passing nil disables metrics collection.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

// WithResourceController attaches a shared resource controller: storage
// growth reserves memory against its budget, chunk allocation is throttled
// by its rate limit, and each Build session takes a concurrency slot.
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}
