package knot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knot"
	"github.com/hupe1980/knot/resource"
)

func TestArena_CycleRoundTrip(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	refs := knot.Build(a, func(b *knot.Builder[node]) [3]knot.Ref[node] {
		x := b.Alloc(node{ID: 0})
		y := b.Alloc(node{ID: 1})
		z := b.Alloc(node{ID: 2})

		b.SetRef(&x.Value().A, y)
		b.SetRef(&x.Value().B, z)
		b.SetRef(&y.Value().A, x)
		b.SetRef(&y.Value().B, z)
		b.SetRef(&z.Value().A, x)
		b.SetRef(&z.Value().B, y)

		return [3]knot.Ref[node]{x.Freeze(), y.Freeze(), z.Freeze()}
	})

	x, y, z := refs[0].Get(), refs[1].Get(), refs[2].Get()

	assert.Equal(t, 1, x.A.Get().ID)
	assert.Equal(t, 2, x.B.Get().ID)
	assert.Equal(t, 0, y.A.Get().ID)
	assert.Equal(t, 2, y.B.Get().ID)
	assert.Equal(t, 0, z.A.Get().ID)
	assert.Equal(t, 1, z.B.Get().ID)

	// x.a.b.a leads back to x itself: x -> y -> z -> x.
	assert.Same(t, x, x.A.Get().B.Get().A.Get())
}

func TestArena_SelfLoop(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	ref := knot.Build(a, func(b *knot.Builder[node]) knot.Ref[node] {
		x := b.Alloc(node{ID: 1})
		b.SetRef(&x.Value().A, x)
		return x.Freeze()
	})

	assert.Same(t, ref.Get(), ref.Get().A.Get())
}

func TestArena_DeferredVsImmediateEquivalence(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	refs := knot.Build(a, func(b *knot.Builder[node]) [3]knot.Ref[node] {
		target := b.Alloc(node{ID: 42})
		early := b.Alloc(node{ID: 0})
		late := b.Alloc(node{ID: 1})

		// Bound while the target is still a construction handle.
		b.SetRef(&early.Value().A, target)

		frozen := target.Freeze()

		// Bound after the target is already frozen.
		b.SetRef(&late.Value().A, frozen)

		return [3]knot.Ref[node]{early.Freeze(), late.Freeze(), frozen}
	})

	// Freeze timing must not affect the resolved address.
	assert.Same(t, refs[2].Get(), refs[0].Get().A.Get())
	assert.Same(t, refs[2].Get(), refs[1].Get().A.Get())
}

func TestArena_AddressStability(t *testing.T) {
	// Tiny chunks force repeated growth while handles are live.
	a := knot.New[node](knot.WithChunkCapacity(2))
	defer a.Free()

	const n = 100

	refs := knot.Build(a, func(b *knot.Builder[node]) []knot.Ref[node] {
		handles := make([]*knot.Handle[node], 0, n)
		ptrs := make([]*node, 0, n)
		for i := 0; i < n; i++ {
			h := b.Alloc(node{ID: i})
			handles = append(handles, h)
			ptrs = append(ptrs, h.Value())
		}

		out := make([]knot.Ref[node], 0, n)
		for i, h := range handles {
			// Allocating object N+1 must not have moved object N.
			require.Same(t, ptrs[i], h.Value())
			out = append(out, h.Freeze())
		}
		return out
	})

	for i, ref := range refs {
		assert.Equal(t, i, ref.Get().ID)
	}
}

func TestArena_NestedBuild(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	a.Build(func(b *knot.Builder[node]) {
		assertPanicsIs(t, knot.ErrSessionActive, func() {
			a.Build(func(*knot.Builder[node]) {})
		})
	})
}

func TestArena_FreeDuringSession(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	a.Build(func(b *knot.Builder[node]) {
		assertPanicsIs(t, knot.ErrSessionActive, func() {
			a.Free()
		})
	})
}

func TestArena_FreeInvalidatesRefs(t *testing.T) {
	a := knot.New[node]()

	ref := freezeOne(t, a, 1)
	a.Free()

	assert.Panics(t, func() {
		_ = ref.Get()
	})

	// Idempotent.
	a.Free()
}

func TestArena_SequentialSessions(t *testing.T) {
	a := knot.New[node]()
	defer a.Free()

	first := freezeOne(t, a, 1)

	// A later session may reference objects frozen by an earlier one.
	second := knot.Build(a, func(b *knot.Builder[node]) knot.Ref[node] {
		h := b.Alloc(node{ID: 2})
		b.SetRef(&h.Value().A, first)
		return h.Freeze()
	})

	assert.Same(t, first.Get(), second.Get().A.Get())
	assert.Equal(t, 2, a.Len())
}

func TestArena_Stats(t *testing.T) {
	a := knot.New[node](knot.WithChunkCapacity(2))
	defer a.Free()

	a.Build(func(b *knot.Builder[node]) {
		for i := 0; i < 5; i++ {
			_ = b.Alloc(node{ID: i}).Freeze()
		}
	})

	stats := a.Stats()
	assert.Equal(t, uint64(5), stats.Objects)
	assert.Equal(t, uint64(3), stats.ChunksAllocated)
	assert.Greater(t, stats.BytesReserved, uint64(0))
	assert.Contains(t, a.String(), "objects: 5")
}

func TestArena_ResourceController(t *testing.T) {
	ctrl := resource.NewController(resource.Config{
		MemoryLimitBytes:    1 << 20,
		MaxConcurrentBuilds: 1,
	})

	a := knot.New[node](
		knot.WithChunkCapacity(8),
		knot.WithResourceController(ctrl),
	)

	a.Build(func(b *knot.Builder[node]) {
		for i := 0; i < 20; i++ {
			_ = b.Alloc(node{ID: i}).Freeze()
		}
	})

	assert.Greater(t, ctrl.MemoryUsage(), int64(0))

	a.Free()
	assert.Equal(t, int64(0), ctrl.MemoryUsage())
}
