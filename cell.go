package knot

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Target is anything a reference cell can be bound to: a frozen Ref, a
// *Handle still under construction, or another already-bound *Cell.
// The interface is closed; the three implementations live in this package.
type Target[T any] interface {
	// resolve returns the owning arena and the stable index of the object
	// the target designates.
	resolve() (*Arena[T], uint32)
}

// anchor is the bound state of a cell: Unbound is the nil anchor pointer,
// Bound carries the arena and the stable index. Anchors are immutable once
// published; the CAS from nil is the only permitted transition.
type anchor[T any] struct {
	arena *Arena[T]
	index uint32
}

// Cell is a single-assignment reference to another object in the same arena.
//
// The zero value is an unbound cell, ready to serve as a placeholder field
// while the rest of the graph is constructed. A cell is bound exactly once,
// either through Builder.SetRef during a build session (applied at commit)
// or through Set outside one. Binding twice, or reading before the bind, is
// a contract violation and panics.
//
// A Cell is a single pointer word, so values containing cells can be passed
// to Builder.Alloc directly. Assigning a cell copies its binding state, like
// Clone; copies of a bound cell share the target, copies of an unbound cell
// bind independently. Do not copy a cell concurrently with a bind.
type Cell[T any] struct {
	bound unsafe.Pointer // *anchor[T]; nil while unbound
}

func (c *Cell[T]) load() *anchor[T] {
	return (*anchor[T])(atomic.LoadPointer(&c.bound))
}

// Set binds the cell immediately, outside any build session. The bind is an
// atomic test-and-set: exactly one Set wins even under a race, and the loser
// panics with ErrCellRebound.
//
// While a build session is open on the target's arena all assignments must
// go through Builder.SetRef instead; Set panics with ErrSessionActive then.
func (c *Cell[T]) Set(target Target[T]) {
	a, index := target.resolve()
	if a.session.Load() != nil {
		panic(fmt.Errorf("%w: use Builder.SetRef inside a build session", ErrSessionActive))
	}
	c.bind(a, index)
}

// bind performs the empty -> bound transition shared by Set and the
// deferred-queue commit.
func (c *Cell[T]) bind(a *Arena[T], index uint32) {
	next := unsafe.Pointer(&anchor[T]{arena: a, index: index})
	if !atomic.CompareAndSwapPointer(&c.bound, nil, next) {
		panic(fmt.Errorf("%w (target index %d)", ErrCellRebound, index))
	}
}

// Get returns read access to the object the cell is bound to. The pointee is
// frozen: it must not be mutated through the returned pointer. Get panics
// with ErrCellUnbound if the cell was never bound.
func (c *Cell[T]) Get() *T {
	b := c.load()
	if b == nil {
		panic(ErrCellUnbound)
	}
	return b.arena.get(b.index)
}

// Bound reports whether the cell has been bound.
func (c *Cell[T]) Bound() bool {
	return c.load() != nil
}

// Ref returns the frozen reference the cell is bound to.
// It panics with ErrCellUnbound on an unbound cell.
func (c *Cell[T]) Ref() Ref[T] {
	b := c.load()
	if b == nil {
		panic(ErrCellUnbound)
	}
	return Ref[T]{arena: b.arena, index: b.index}
}

// Clone returns a new cell with the same binding state. A clone of a bound
// cell points at the same object; clones of an unbound cell are independent
// and may later be bound to different targets.
func (c *Cell[T]) Clone() Cell[T] {
	return Cell[T]{bound: atomic.LoadPointer(&c.bound)}
}

// resolve makes a bound cell usable as a Target.
func (c *Cell[T]) resolve() (*Arena[T], uint32) {
	b := c.load()
	if b == nil {
		panic(ErrCellUnbound)
	}
	return b.arena, b.index
}

// String formats the pointee, or "<unbound>"; it never panics, so cells are
// safe to log mid-construction.
func (c *Cell[T]) String() string {
	b := c.load()
	if b == nil {
		return "Cell(<unbound>)"
	}
	return fmt.Sprintf("Cell(%v)", *b.arena.get(b.index))
}

// Ref is a frozen, read-only reference to an object in an arena. It behaves
// like a plain immutable pointer: copying a Ref copies the reference, never
// the object. The zero Ref is invalid.
//
// A Ref stays valid for the remaining lifetime of its arena.
type Ref[T any] struct {
	arena *Arena[T]
	index uint32
}

// Get returns read access to the referenced object. The pointee is frozen
// and must not be mutated. Get panics with ErrRefInvalid on the zero Ref.
func (r Ref[T]) Get() *T {
	if r.arena == nil {
		panic(ErrRefInvalid)
	}
	return r.arena.get(r.index)
}

// Valid reports whether the Ref refers to an object.
func (r Ref[T]) Valid() bool {
	return r.arena != nil
}

// Index returns the stable arena index of the referenced object. Indices are
// unique per arena and useful as identity keys or for diagnostics.
func (r Ref[T]) Index() uint32 {
	return r.index
}

func (r Ref[T]) resolve() (*Arena[T], uint32) {
	if r.arena == nil {
		panic(ErrRefInvalid)
	}
	return r.arena, r.index
}

func (r Ref[T]) String() string {
	if r.arena == nil {
		return "Ref(<invalid>)"
	}
	return fmt.Sprintf("Ref(%v)", *r.arena.get(r.index))
}
