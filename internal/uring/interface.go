// Package uring provides a minimal io_uring-based completion-wait
// primitive used by internal/uio (the DMA engine's interrupt waits) to
// batch UIO interrupt-count reads the way the teacher batches ublk URING_CMD
// fetch/commit requests: prepare N reads without trapping into the
// kernel, then flush them with a single io_uring_enter syscall.
package uring

import "errors"

// ErrRingFull is returned when the submission queue is full.
var ErrRingFull = errors.New("submission queue full")

// Ring is the interface the DMA engine uses to wait on UIO interrupt
// file descriptors without a syscall per descriptor.
type Ring interface {
	// Close closes the ring and releases resources.
	Close() error

	// PrepareRead prepares a read of len(buf) bytes from fd without
	// submitting to the kernel yet. Returns ErrRingFull if the
	// submission queue has no free slot.
	PrepareRead(fd int32, buf []byte, userData uint64) error

	// FlushSubmissions submits all prepared reads with a single
	// io_uring_enter syscall and returns the number submitted.
	FlushSubmissions() (uint32, error)

	// WaitForCompletion blocks until at least one completion is
	// available and returns all completions currently queued. Neither
	// backend honors timeoutMs; a caller needing a deadline wraps the
	// call in its own goroutine select.
	WaitForCompletion(timeoutMs int) ([]Result, error)

	// NewBatch creates a batch for bulk read preparation.
	NewBatch() Batch
}

// Batch allows preparing multiple reads before a single Submit call.
type Batch interface {
	AddRead(fd int32, buf []byte, userData uint64) error
	Submit() ([]Result, error)
	Len() int
}

// Result represents the outcome of one completed read.
type Result interface {
	UserData() uint64
	Value() int32
	Error() error
}

// Features describes available io_uring features.
type Features struct {
	SQPOLL bool
}

// GetFeatures returns information about supported features. A full
// probe is not implemented; callers that need SQPOLL should check the
// running kernel version themselves.
func GetFeatures() (Features, error) {
	return Features{SQPOLL: false}, nil
}

// Config contains configuration for creating a ring.
type Config struct {
	Entries uint32
	FD      int32
	Flags   uint32
}

// NewRing creates a new Ring using the minimal pure-Go io_uring backend.
func NewRing(config Config) (Ring, error) {
	return NewMinimalRing(config.Entries)
}
