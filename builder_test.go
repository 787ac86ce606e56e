package knot_test

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/knot"
)

func TestBuilder_HandleMutation(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	ref := knot.Build(a, func(b *knot.Builder[node]) knot.Ref[node] {
		h := b.Alloc(node{ID: 1})
		h.Value().ID = 99 // unrestricted mutation before freeze
		return h.Freeze()
	})

	assert.Equal(t, 99, ref.Get().ID)
}

func TestBuilder_FreezeConsumesHandle(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	a.Build(func(b *knot.Builder[node]) {
		h := b.Alloc(node{ID: 1})
		_ = h.Freeze()

		assertPanicsIs(t, knot.ErrHandleFrozen, func() {
			_ = h.Value()
		})
		assertPanicsIs(t, knot.ErrHandleFrozen, func() {
			_ = h.Freeze()
		})
	})
}

func TestBuilder_UseAfterSession(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	var (
		escaped *knot.Builder[node]
		handle  *knot.Handle[node]
	)
	a.Build(func(b *knot.Builder[node]) {
		escaped = b
		handle = b.Alloc(node{ID: 1})
	})

	assertPanicsIs(t, knot.ErrSessionClosed, func() {
		_ = escaped.Alloc(node{ID: 2})
	})
	var n node
	assertPanicsIs(t, knot.ErrSessionClosed, func() {
		escaped.SetRef(&n.A, handle)
	})
	assertPanicsIs(t, knot.ErrSessionClosed, func() {
		_ = handle.Value()
	})
	assertPanicsIs(t, knot.ErrSessionClosed, func() {
		_ = handle.Freeze()
	})
}

func TestBuilder_DeferredDoubleAssignment(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	// Two queued assignments against the same cell must be detected at
	// commit, which runs as Build returns.
	assertPanicsIs(t, knot.ErrCellRebound, func() {
		a.Build(func(b *knot.Builder[node]) {
			x := b.Alloc(node{ID: 0})
			y := b.Alloc(node{ID: 1})
			b.SetRef(&x.Value().A, y)
			b.SetRef(&x.Value().A, y)
			_ = x.Freeze()
			_ = y.Freeze()
		})
	})
}

func TestBuilder_ForeignTarget(t *testing.T) {
	a1 := knot.New[node]()
	defer a1.Free()
	a2 := knot.New[node]()
	defer a2.Free()

	foreign := freezeOne(t, a2, 1)

	a1.Build(func(b *knot.Builder[node]) {
		x := b.Alloc(node{ID: 0})
		assertPanicsIs(t, knot.ErrForeignTarget, func() {
			b.SetRef(&x.Value().A, foreign)
		})
	})
}

func TestBuilder_ConcurrentPopulation(t *testing.T) {
	a := knot.New[node](knot.WithChunkCapacity(64))
	defer a.Free()

	const goroutines = 32
	const perGoroutine = 50

	refs := knot.Build(a, func(b *knot.Builder[node]) []knot.Ref[node] {
		var (
			mu  sync.Mutex
			out []knot.Ref[node]
		)

		var g errgroup.Group
		for i := 0; i < goroutines; i++ {
			i := i
			g.Go(func() error {
				for j := 0; j < perGoroutine; j++ {
					h := b.Alloc(node{ID: i})
					b.SetRef(&h.Value().A, h) // self-loop
					ref := h.Freeze()

					mu.Lock()
					out = append(out, ref)
					mu.Unlock()
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		return out
	})

	require.Len(t, refs, goroutines*perGoroutine)
	for _, ref := range refs {
		assert.Same(t, ref.Get(), ref.Get().A.Get())
	}
	assert.Equal(t, goroutines*perGoroutine, a.Len())
}

func TestBuilder_LeakReport(t *testing.T) {
	var buf bytes.Buffer
	logger := knot.NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	a := knot.New[node](knot.WithLogger(logger))
	defer a.Free()

	a.Build(func(b *knot.Builder[node]) {
		_ = b.Alloc(node{ID: 0}) // never frozen
		_ = b.Alloc(node{ID: 1}).Freeze()
	})

	assert.Contains(t, buf.String(), "never frozen")
	assert.Contains(t, buf.String(), "count=1")
}

func TestBuilder_Metrics(t *testing.T) {
	metrics := &knot.BasicMetricsCollector{}

	a := knot.New[node](knot.WithMetricsCollector(metrics))
	defer a.Free()

	a.Build(func(b *knot.Builder[node]) {
		x := b.Alloc(node{ID: 0})
		y := b.Alloc(node{ID: 1})
		b.SetRef(&x.Value().A, y)
		b.SetRef(&y.Value().A, x)
		_ = x.Freeze()
		_ = y.Freeze()
	})

	assert.Equal(t, int64(1), metrics.BuildCount.Load())
	assert.Equal(t, int64(2), metrics.ObjectsAllocated.Load())
	assert.Equal(t, int64(2), metrics.BindingsCommitted.Load())
	assert.Greater(t, metrics.BuildTotalNanos.Load(), int64(0))
}

func BenchmarkBuild_SelfLoops(b *testing.B) {
	a := knot.New[node]()
	defer a.Free()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		a.Build(func(bd *knot.Builder[node]) {
			h := bd.Alloc(node{ID: i})
			bd.SetRef(&h.Value().A, h)
			_ = h.Freeze()
		})
	}
}
