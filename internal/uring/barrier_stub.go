//go:build !(linux && cgo)

package uring

// Sfence is a no-op on platforms without the cgo-backed x86 SFENCE
// implementation (barrier.go). Go's memory model already orders
// sync/atomic operations against each other; this stub exists so
// callers compiled on non-Linux or cgo-disabled targets still link.
func Sfence() {}

// Mfence is the non-cgo counterpart to Mfence in barrier.go.
func Mfence() {}
