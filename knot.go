package knot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/knot/internal/slab"
	"github.com/hupe1980/knot/resource"
)

// Arena owns the storage for one graph of objects of type T. Objects are
// allocated inside a build session, wired together through reference cells
// (forward references and cycles included), and frozen into read-only Refs.
// Storage is bump-allocated and never moves: every Ref and bound Cell stays
// valid until the arena is freed.
//
// An arena runs at most one build session at a time; sessions are scoped,
// not reentrant.
type Arena[T any] struct {
	slab    *slab.Slab[T]
	logger  *Logger
	metrics MetricsCollector
	res     *resource.Controller

	session atomic.Pointer[Builder[T]]
	seq     atomic.Uint64
}

// Stats tracks arena storage usage.
type Stats struct {
	Objects         uint64 // total objects ever allocated
	ChunksAllocated uint64 // historical chunk count
	ActiveChunks    uint64
	BytesReserved   uint64
}

// New creates an empty arena. No objects are allocated until the first
// build session does so.
func New[T any](opts ...Option) *Arena[T] {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	var slabOpts []slab.Option[T]
	if o.controller != nil {
		slabOpts = append(slabOpts, slab.WithMemoryAcquirer[T](o.controller))
	}

	return &Arena[T]{
		slab:    slab.New[T](o.chunkCapacity, slabOpts...),
		logger:  o.logger,
		metrics: o.metrics,
		res:     o.controller,
	}
}

// Build opens a construction session, runs fn with exclusive access to the
// Builder, and commits every deferred assignment before returning, on every
// exit path. Any Ref frozen inside fn is safe to dereference as soon as
// Build returns.
//
// Use the package-level Build function when the session produces a result.
func (a *Arena[T]) Build(fn func(b *Builder[T])) {
	b := a.beginSession()
	defer a.endSession(b)
	fn(b)
}

// Build runs fn inside a construction session on a and returns fn's result.
// It exists as a free function because Go methods cannot introduce the
// result type parameter. All deferred assignments are committed before Build
// returns, so returned Refs are immediately safe to use.
func Build[T, R any](a *Arena[T], fn func(b *Builder[T]) R) R {
	b := a.beginSession()
	defer a.endSession(b)
	return fn(b)
}

func (a *Arena[T]) beginSession() *Builder[T] {
	b := &Builder[T]{
		arena:     a,
		id:        a.seq.Add(1),
		start:     time.Now(),
		allocated: roaring.New(),
		frozen:    roaring.New(),
	}

	if !a.session.CompareAndSwap(nil, b) {
		panic(ErrSessionActive)
	}

	if a.res != nil {
		if err := a.res.AcquireBuild(context.Background()); err != nil {
			a.session.Store(nil)
			panic(fmt.Errorf("knot: acquire build slot: %w", err))
		}
	}

	a.logger.Debug("build session opened", "session", b.id)
	return b
}

func (a *Arena[T]) endSession(b *Builder[T]) {
	defer func() {
		if a.res != nil {
			a.res.ReleaseBuild()
		}
		a.session.Store(nil)
	}()
	b.commit()
}

// get resolves a stable index to its element. Indices only originate from
// Alloc, so a panic here means a reference outlived Free.
func (a *Arena[T]) get(index uint32) *T {
	return a.slab.Get(index)
}

// Len returns the number of objects allocated from the arena.
func (a *Arena[T]) Len() int {
	return a.slab.Len()
}

// Stats returns the current storage statistics.
func (a *Arena[T]) Stats() Stats {
	s := a.slab.Stats()
	return Stats{
		Objects:         s.ElemsAllocated,
		ChunksAllocated: s.ChunksAllocated,
		ActiveChunks:    s.ActiveChunks,
		BytesReserved:   s.BytesReserved,
	}
}

// Free releases the arena's storage. Every Ref, Cell binding and Handle
// derived from the arena is invalid afterwards; dereferencing one panics.
// Free panics with ErrSessionActive while a build session is open, and is
// idempotent otherwise.
func (a *Arena[T]) Free() {
	if a.session.Load() != nil {
		panic(ErrSessionActive)
	}
	a.slab.Free()
	a.logger.Debug("arena freed")
}

func (a *Arena[T]) String() string {
	s := a.Stats()
	return fmt.Sprintf(
		"Arena{objects: %d, chunks: %d, reserved: %.2f KB}",
		s.Objects,
		s.ActiveChunks,
		float64(s.BytesReserved)/1024,
	)
}
