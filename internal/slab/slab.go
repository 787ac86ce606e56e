// Package slab provides a typed slab allocator with stable element addresses.
//
// A Slab hands out storage for values of one element type T in large chunks.
// Elements never move and are never freed individually: the pointer and the
// index returned by Alloc stay valid until the slab itself is freed. That
// stability is what allows reference cells elsewhere in the module to record
// plain indices while a graph is still under construction.
//
// # Concurrency Model
//
// Concurrent Alloc calls are safe: allocation is a lock-free CAS bump within
// the current chunk, and a mutex serializes chunk growth only. Get is
// lock-free. Free must NOT run concurrently with allocations.
//
// # Addressing
//
// Chunk capacity is rounded up to a power of two so a global element index
// packs as (chunkIdx << chunkBits) | slot. The index space is 32 bits; growth
// fails with ErrMaxChunksExceeded once it would no longer fit.
package slab

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/knot/internal/conv"
)

// MemoryAcquirer reserves backing memory before a chunk is created.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrMaxChunksExceeded is returned when the slab exceeds the maximum number of chunks.
	ErrMaxChunksExceeded = errors.New("slab: max chunks exceeded")
	// ErrClosed is returned when allocating from a freed slab.
	ErrClosed = errors.New("slab: closed")
)

const (
	// DefaultChunkCapacity is the default number of elements per chunk.
	DefaultChunkCapacity = 1024
	// MaxChunks limits the size of the chunk table. With the default chunk
	// capacity this addresses 64Mi elements.
	MaxChunks = 65536
)

// Stats tracks slab usage.
//
// ElemsAllocated and ChunksAllocated are historical counters; ActiveChunks
// and BytesReserved reflect the current state and drop to zero after Free.
type Stats struct {
	ElemsAllocated  uint64
	ChunksAllocated uint64
	ActiveChunks    uint64
	BytesReserved   uint64
}

type atomicStats struct {
	ElemsAllocated  atomic.Uint64
	ChunksAllocated atomic.Uint64
	ActiveChunks    atomic.Uint64
	BytesReserved   atomic.Uint64
}

type chunk[T any] struct {
	data  []T
	next  atomic.Int64 // next free slot - bumped concurrently via CAS
	index uint32
}

// Slab is a typed chunked allocator.
type Slab[T any] struct {
	chunkCap  int
	chunkBits int    // power of 2 exponent for chunk capacity
	chunkMask uint32 // mask for slot within chunk
	maxChunks uint32 // bounded so global indices fit in 32 bits
	elemSize  int64

	chunks     [MaxChunks]atomic.Pointer[chunk[T]] // fixed-size table so Get is lock-free
	chunkCount atomic.Uint32
	current    atomic.Pointer[chunk[T]]
	closed     atomic.Bool
	mu         sync.Mutex // serializes chunk growth and Free
	stats      atomicStats
	acquirer   MemoryAcquirer
}

// Option is a configuration option for Slab.
type Option[T any] func(*Slab[T])

// WithMemoryAcquirer sets the memory acquirer consulted on chunk growth.
func WithMemoryAcquirer[T any](acquirer MemoryAcquirer) Option[T] {
	return func(s *Slab[T]) {
		s.acquirer = acquirer
	}
}

// New creates a new Slab with the given chunk capacity (elements per chunk),
// rounded up to the next power of two. The first chunk is created lazily on
// first allocation, so New itself never fails.
func New[T any](chunkCap int, opts ...Option[T]) *Slab[T] {
	if chunkCap <= 0 {
		chunkCap = DefaultChunkCapacity
	}

	// Round up to next power of 2 so slot extraction is a mask.
	chunkBits := bits.Len(uint(chunkCap - 1))
	chunkCap = 1 << chunkBits

	maxChunks := uint32(MaxChunks)
	if chunkBits < 32 {
		if limit := uint64(math.MaxUint32)>>chunkBits + 1; limit < uint64(maxChunks) {
			maxChunks = uint32(limit)
		}
	} else {
		maxChunks = 1
	}

	var zero T
	s := &Slab[T]{
		chunkCap:  chunkCap,
		chunkBits: chunkBits,
		chunkMask: uint32(chunkCap - 1),
		maxChunks: maxChunks,
		elemSize:  int64(unsafe.Sizeof(zero)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Alloc stores v in the slab and returns its global index together with a
// stable pointer to the stored element.
func (s *Slab[T]) Alloc(ctx context.Context, v T) (uint32, *T, error) {
	for {
		curr := s.current.Load()
		if curr == nil {
			if s.closed.Load() {
				return 0, nil, ErrClosed
			}
			if err := s.grow(ctx, nil); err != nil {
				return 0, nil, err
			}
			continue
		}

		if index, p, ok := s.tryAlloc(curr, v); ok {
			return index, p, nil
		}

		// Current chunk is full. Another goroutine may already have grown.
		if s.current.Load() != curr {
			continue
		}
		if err := s.grow(ctx, curr); err != nil {
			return 0, nil, err
		}
	}
}

func (s *Slab[T]) tryAlloc(curr *chunk[T], v T) (uint32, *T, bool) {
	slot := curr.next.Load()
	if slot >= int64(len(curr.data)) {
		return 0, nil, false
	}
	if !curr.next.CompareAndSwap(slot, slot+1) {
		return 0, nil, false
	}

	curr.data[slot] = v
	s.stats.ElemsAllocated.Add(1)

	// GlobalIndex = (ChunkIndex << ChunkBits) | Slot
	index := curr.index<<s.chunkBits | uint32(slot)
	return index, &curr.data[slot], true
}

func (s *Slab[T]) grow(ctx context.Context, prev *chunk[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	// Double check under lock: someone else may have grown already.
	if s.current.Load() != prev {
		return nil
	}
	return s.growLocked(ctx)
}

func (s *Slab[T]) growLocked(ctx context.Context) error {
	idx := s.chunkCount.Load()
	if idx >= s.maxChunks {
		return ErrMaxChunksExceeded
	}

	chunkBytes := int64(s.chunkCap) * s.elemSize
	if s.acquirer != nil {
		if err := s.acquirer.AcquireMemory(ctx, chunkBytes); err != nil {
			return fmt.Errorf("slab: reserve chunk memory: %w", err)
		}
	}

	newChunk := &chunk[T]{
		data:  make([]T, s.chunkCap),
		index: idx,
	}

	// The table slot must be visible before the count, and the count before
	// current, so a lock-free Get never sees an index past the table.
	s.chunks[idx].Store(newChunk)

	s.stats.ChunksAllocated.Add(1)
	s.stats.ActiveChunks.Add(1)
	if chunkBytes > 0 {
		bytesU64, _ := conv.IntToUint64(int(chunkBytes))
		s.stats.BytesReserved.Add(bytesU64)
	}

	s.chunkCount.Add(1)
	s.current.Store(newChunk)

	return nil
}

// Get returns the pointer for an index previously returned by Alloc.
// It panics on an index that was never handed out or that outlived Free.
func (s *Slab[T]) Get(index uint32) *T {
	chunkIdx := index >> s.chunkBits
	slot := index & s.chunkMask

	if chunkIdx >= s.chunkCount.Load() {
		panic("slab: stale index")
	}

	c := s.chunks[chunkIdx].Load()
	if c == nil {
		panic("slab: stale index")
	}
	if int64(slot) >= c.next.Load() {
		panic("slab: stale index")
	}

	return &c.data[slot]
}

// Len returns the total number of elements ever allocated.
func (s *Slab[T]) Len() int {
	n, _ := conv.Uint64ToInt(s.stats.ElemsAllocated.Load())
	return n
}

// Stats returns the current slab statistics.
func (s *Slab[T]) Stats() Stats {
	return Stats{
		ElemsAllocated:  s.stats.ElemsAllocated.Load(),
		ChunksAllocated: s.stats.ChunksAllocated.Load(),
		ActiveChunks:    s.stats.ActiveChunks.Load(),
		BytesReserved:   s.stats.BytesReserved.Load(),
	}
}

// Free drops every chunk and reports the released reservation to the
// acquirer. All indices and pointers handed out become invalid.
//
// Do NOT call Free concurrently with allocations. A freed slab cannot be
// reused; create a new one instead.
func (s *Slab[T]) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return
	}

	if s.acquirer != nil {
		if reserved := s.stats.BytesReserved.Load(); reserved > 0 {
			s.acquirer.ReleaseMemory(int64(reserved)) //nolint:gosec // reserved is a sum of int64 chunk sizes
		}
	}

	count := s.chunkCount.Load()
	s.current.Store(nil)
	s.chunkCount.Store(0)
	for i := uint32(0); i < count; i++ {
		s.chunks[i].Store(nil)
	}

	s.stats.ActiveChunks.Store(0)
	s.stats.BytesReserved.Store(0)
}

func (s *Slab[T]) String() string {
	stats := s.Stats()
	return fmt.Sprintf(
		"Slab{elems: %d, chunks: %d, reserved: %.2f KB}",
		stats.ElemsAllocated,
		stats.ActiveChunks,
		float64(stats.BytesReserved)/1024,
	)
}
