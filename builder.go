package knot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// Builder is a construction session on one arena. It is created by Build,
// lives for the duration of the session closure, and is invalid afterwards.
//
// Alloc, SetRef and Freeze may be called from multiple goroutines within the
// session; the deferred-assignment queue is lock-protected. The commit at
// session end runs exactly once, on the goroutine that opened the session,
// after which every queued cell is bound.
type Builder[T any] struct {
	arena *Arena[T]
	id    uint64
	start time.Time

	mu        sync.Mutex
	pending   []binding[T]
	allocated *roaring.Bitmap
	frozen    *roaring.Bitmap

	closed atomic.Bool
}

// binding is one deferred assignment: bind cell to the object at index.
// The index is resolved when the assignment is queued; object addresses are
// fixed from allocation, so freeze timing cannot change the outcome.
type binding[T any] struct {
	cell  *Cell[T]
	index uint32
}

// Handle is a temporary exclusive-mutation view of one allocated object,
// valid until it is frozen or the session ends. It is the only way to mutate
// an object; once frozen, the object is permanently read-only.
type Handle[T any] struct {
	builder *Builder[T]
	index   uint32
	frozen  atomic.Bool
}

// Alloc stores v in the arena and returns a mutable construction handle.
// The object's address is fixed for the arena's whole lifetime from this
// point on, so the handle is already a valid SetRef target.
//
// Allocator exhaustion is not a recoverable condition and panics.
func (b *Builder[T]) Alloc(v T) *Handle[T] {
	if b.closed.Load() {
		panic(ErrSessionClosed)
	}

	index, _, err := b.arena.slab.Alloc(context.Background(), v)
	if err != nil {
		panic(fmt.Errorf("knot: allocation failed: %w", err))
	}

	b.arena.metrics.RecordAlloc(1)

	b.mu.Lock()
	b.allocated.Add(index)
	b.mu.Unlock()

	return &Handle[T]{builder: b, index: index}
}

// SetRef queues the assignment of cell to target. Targets may be frozen Refs,
// handles still under construction (enabling forward references and cycles,
// including self-loops), or bound cells. The assignment is applied when the
// session commits; if the cell is bound by then, commit panics with
// ErrCellRebound.
func (b *Builder[T]) SetRef(cell *Cell[T], target Target[T]) {
	if b.closed.Load() {
		panic(ErrSessionClosed)
	}

	a, index := target.resolve()
	if a != b.arena {
		panic(ErrForeignTarget)
	}

	b.mu.Lock()
	b.pending = append(b.pending, binding[T]{cell: cell, index: index})
	b.mu.Unlock()
}

// Freeze consumes the handle and returns the frozen reference.
// Equivalent to h.Freeze().
func (b *Builder[T]) Freeze(h *Handle[T]) Ref[T] {
	return h.Freeze()
}

// Value returns mutable access to the object under construction. It panics
// once the handle is frozen or the session has ended.
func (h *Handle[T]) Value() *T {
	if h.builder.closed.Load() {
		panic(ErrSessionClosed)
	}
	if h.frozen.Load() {
		panic(ErrHandleFrozen)
	}
	return h.builder.arena.get(h.index)
}

// Freeze marks the object read-only and returns a Ref with the same
// underlying address. No data is copied; the transition is logical. The
// handle is consumed: further Value or Freeze calls panic.
func (h *Handle[T]) Freeze() Ref[T] {
	b := h.builder
	if b.closed.Load() {
		panic(ErrSessionClosed)
	}
	if h.frozen.Swap(true) {
		panic(ErrHandleFrozen)
	}

	b.mu.Lock()
	b.frozen.Add(h.index)
	b.mu.Unlock()

	return Ref[T]{arena: b.arena, index: h.index}
}

// resolve makes a handle usable as a SetRef target. The address is fixed at
// allocation time, so a handle may be targeted before it is frozen.
func (h *Handle[T]) resolve() (*Arena[T], uint32) {
	return h.builder.arena, h.index
}

// commit closes the session and applies every queued assignment. Build runs
// it on every exit path, so callers always observe fully wired graphs.
// Commit order across distinct cells is unspecified; cells are independent.
func (b *Builder[T]) commit() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, bd := range pending {
		bd.cell.bind(b.arena, bd.index)
	}

	if leaked := roaring.AndNot(b.allocated, b.frozen); !leaked.IsEmpty() {
		b.arena.logger.Debug("objects allocated but never frozen",
			"session", b.id,
			"count", leaked.GetCardinality(),
		)
	}

	objects := int(b.allocated.GetCardinality())
	b.arena.metrics.RecordBuild(objects, len(pending), time.Since(b.start))
	b.arena.logger.Debug("build session committed",
		"session", b.id,
		"objects", objects,
		"bindings", len(pending),
	)
}
