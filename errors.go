package pandocore

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind is a high-level error category, per the nine kinds enumerated in
// the acquisition pipeline's error handling design.
type Kind string

const (
	KindHardwareFault      Kind = "hardware fault"
	KindProtocol           Kind = "protocol"
	KindMonotonicity       Kind = "monotonicity"
	KindStall              Kind = "stall"
	KindOutOfRange         Kind = "out of range"
	KindConfigMismatch     Kind = "config mismatch"
	KindSchemaMismatch     Kind = "schema mismatch"
	KindSequenceGap        Kind = "sequence gap"
	KindResourceExhaustion Kind = "resource exhaustion"
)

// Error is the structured error carried across every core component.
// Op names the failing operation, Component names the owning
// component (e.g. "dma", "ring", "archive"), Kind is the high-level
// category used for errors.Is-style matching, and Errno carries the
// underlying syscall errno when the fault originated at a kernel
// boundary (UIO read, mmap, ...).
type Error struct {
	Op        string
	Component string
	Kind      Kind
	Errno     syscall.Errno
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("pandocore: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("pandocore: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison against another *Error by Kind, so
// callers can write errors.Is(err, &pandocore.Error{Kind: KindStall}).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	if te.Kind == "" {
		return false
	}
	return e.Kind == te.Kind
}

// New creates a structured error.
func New(op, component string, kind Kind, msg string) *Error {
	return &Error{Op: op, Component: component, Kind: kind, Msg: msg}
}

// NewWithErrno creates a structured error carrying a kernel errno.
func NewWithErrno(op, component string, kind Kind, errno syscall.Errno) *Error {
	return &Error{Op: op, Component: component, Kind: kind, Errno: errno, Msg: errno.Error()}
}

// Wrap wraps an existing error with pandocore context, mapping
// syscall.Errno values to a Kind the way the teacher's WrapError maps
// ublk errno into an UblkErrorCode.
func Wrap(op, component string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if pe, ok := inner.(*Error); ok {
		return &Error{Op: op, Component: component, Kind: pe.Kind, Errno: pe.Errno, Msg: pe.Msg, Inner: pe.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Component: component, Kind: mapErrnoToKind(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Component: component, Kind: KindHardwareFault, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToKind(errno syscall.Errno) Kind {
	switch errno {
	case syscall.ETIMEDOUT:
		return KindStall
	case syscall.ENOSPC, syscall.ENOMEM:
		return KindResourceExhaustion
	case syscall.EINVAL, syscall.E2BIG:
		return KindOutOfRange
	default:
		return KindHardwareFault
	}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
