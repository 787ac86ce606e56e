package knot

import "errors"

// Contract violations are programming errors, not runtime conditions: they
// mean the caller built an inconsistent graph. They surface as panics whose
// value wraps one of these sentinels, so tests can match them with errors.Is.
// They are deliberately not returned as inspectable errors to branch on.
var (
	// ErrCellRebound reports a second bind of a single-assignment cell,
	// whether direct or via the deferred queue.
	ErrCellRebound = errors.New("knot: cell already bound")

	// ErrCellUnbound reports a dereference of a cell that was never bound.
	ErrCellUnbound = errors.New("knot: cell is unbound")

	// ErrRefInvalid reports a dereference of the zero Ref.
	ErrRefInvalid = errors.New("knot: invalid reference")

	// ErrHandleFrozen reports use of a construction handle after Freeze
	// consumed it.
	ErrHandleFrozen = errors.New("knot: handle already frozen")

	// ErrSessionClosed reports use of a Builder or Handle after its build
	// session committed.
	ErrSessionClosed = errors.New("knot: build session has ended")

	// ErrSessionActive reports an operation that requires the arena to be
	// idle: a nested Build, a direct Cell.Set during a session, or Free
	// while a session is open.
	ErrSessionActive = errors.New("knot: build session in progress")

	// ErrForeignTarget reports an attempt to bind a cell to an object owned
	// by a different arena.
	ErrForeignTarget = errors.New("knot: target belongs to a different arena")
)
