// Package ring implements a lock-free single-producer single-consumer
// ring buffer, grounded line-for-line on the original
// pando/src/ring_buffer.h: a fixed array of N preallocated slots with
// write/read indices that start at a SIZE_MAX sentinel to distinguish
// "empty" from "index 0 holds data" without a separate count field.
//
// Go's atomic operations are always sequentially consistent, so the
// original's memory_order_relaxed/acquire/release annotations have no
// direct translation; the ordering comments below note which access
// the C++ version constrained, preserved for anyone cross-referencing
// the original.
package ring

import (
	"math"
	"sync/atomic"
)

// empty is the sentinel index meaning "no item has ever been written
// (or read)", mirroring the original's SIZE_MAX on a 64-bit size_t.
const empty = math.MaxUint64

// cacheLinePad separates the write and read indices onto different
// cache lines (the original pads with `64 - sizeof(size_t)` bytes) so
// the producer and consumer do not false-share a line.
type cacheLinePad [64 - 8]byte

// Ring is a lock-free SPSC ring buffer of N preallocated slots holding
// values of type T. A single goroutine may call MaybeAdvanceWrite /
// AdvanceWrite; a single (possibly different) goroutine may call
// AdvanceRead. N must be greater than 2: with N==2, a write can never
// advance again once read has consumed the first slot.
type Ring[T any] struct {
	write uint64
	_     cacheLinePad
	read  uint64
	_     cacheLinePad

	slots []T
	n     uint64
}

// New creates a Ring with n preallocated slots, each zero-valued. n
// must be greater than 2.
func New[T any](n int) *Ring[T] {
	if n <= 2 {
		panic("ring: N must be greater than 2, or the ring will deadlock")
	}
	r := &Ring[T]{
		slots: make([]T, n),
		n:     uint64(n),
	}
	r.Reset()
	return r
}

func (r *Ring[T]) next(i uint64) uint64 {
	return (i + 1) % r.n
}

// MaybeAdvanceWrite commits the previously returned write slot (if
// any) and returns a pointer to the next slot ready to be written. If
// the ring is full (the write index would catch the read index), the
// previous write is not committed and nil is returned.
func (r *Ring[T]) MaybeAdvanceWrite() *T {
	prevWrite := atomic.LoadUint64(&r.write) // original: memory_order_relaxed
	write := r.next(prevWrite)
	read := atomic.LoadUint64(&r.read) // original: memory_order_acquire

	if write == read || (prevWrite == r.n-1 && read == empty) {
		return nil
	}

	atomic.StoreUint64(&r.write, write) // original: memory_order_release
	return &r.slots[write]
}

// AdvanceWrite is MaybeAdvanceWrite but panics on overrun instead of
// returning nil, matching the original's AdvanceWrite throwing
// std::overflow_error.
func (r *Ring[T]) AdvanceWrite() *T {
	slot := r.MaybeAdvanceWrite()
	if slot == nil {
		panic("ring: overrun")
	}
	return slot
}

// AdvanceRead releases the previously returned read slot (if any) and
// returns a pointer to the next slot ready to be read. If the ring is
// empty (the read index would catch the write index, or nothing has
// ever been written), the previous read is not released and nil is
// returned.
func (r *Ring[T]) AdvanceRead() *T {
	write := atomic.LoadUint64(&r.write) // original: memory_order_acquire
	read := r.next(atomic.LoadUint64(&r.read)) // original: memory_order_relaxed

	if read == write || write == empty {
		return nil
	}

	atomic.StoreUint64(&r.read, read) // original: memory_order_release
	return &r.slots[read]
}

// Reset returns the write and read indices to the empty state. It
// does not clear the contents of any slot.
func (r *Ring[T]) Reset() {
	atomic.StoreUint64(&r.write, empty) // original: memory_order_relaxed
	atomic.StoreUint64(&r.read, empty)  // original: memory_order_release
}

// Cap returns the number of preallocated slots.
func (r *Ring[T]) Cap() int {
	return int(r.n)
}
