// Package decode implements the tag decoder (C4): device-family-specific
// bitfield interpretations of T2/T3 timetagger records, sharing a common
// state machine, grounded on pico_harp.cpp/hydra_harp.cpp/multi_harp.cpp's
// ConsumeRecord family (themselves specializations of XHarpProcBase<Impl>,
// a CRTP template in x_harp_proc_base.h).
package decode

import "github.com/pando-labs/pandocore"

// Record is one raw 32-bit word read off a timetagger's FIFO.
type Record = uint32

// Decoder is the per-device state machine capability that internal/window's
// generic Driver is parameterized over. It replaces the CRTP
// XHarpProcBase<Impl>/Impl::ConsumeRecord split with a plain interface: any
// device family satisfying Decoder can drive the shared window-draining
// loop in internal/window.
type Decoder interface {
	// ConsumeRecord decodes one raw record, updating overflow and
	// monotonicity state, and stashes at most one pending timestamp or
	// marker event for the caller to drain before the next call.
	ConsumeRecord(tag Record) error

	StashedTimestamp() bool
	StashedMarkers() bool
	ClearStashedTimestamp()
	ClearStashedMarkers()

	LastChannel() uint8
	LastMicroTimePs() uint64
	LastTimestampMacroTimePs() uint64
	LastMarkerMacroTimePs() uint64

	// ExcessDelayFactor scales the window driver's stall budget; it is 1
	// for Device P/H and 2 for Device M, whose TTREADMAX batches are 8x
	// larger and so take longer to drain.
	ExcessDelayFactor() int

	// Reset clears all decode state between acquisitions.
	Reset()
}

// state is the shared XHarpProcBase field set, embedded by every device's
// decoder type.
type state struct {
	stashedTimestamp bool
	stashedMarkers   bool

	lastChannel              uint8
	lastMicroTimePs          uint64
	lastTimestampMacroTimePs uint64
	lastMarkerMacroTimePs    uint64

	overflowState uint64
}

func (s *state) StashedTimestamp() bool { return s.stashedTimestamp }
func (s *state) StashedMarkers() bool   { return s.stashedMarkers }
func (s *state) ClearStashedTimestamp() { s.stashedTimestamp = false }
func (s *state) ClearStashedMarkers()   { s.stashedMarkers = false }

func (s *state) LastChannel() uint8              { return s.lastChannel }
func (s *state) LastMicroTimePs() uint64         { return s.lastMicroTimePs }
func (s *state) LastTimestampMacroTimePs() uint64 { return s.lastTimestampMacroTimePs }
func (s *state) LastMarkerMacroTimePs() uint64    { return s.lastMarkerMacroTimePs }

func (s *state) ExcessDelayFactor() int { return 1 }

func (s *state) Reset() { *s = state{} }

func monotonicityFault(op, msg string) error {
	return pandocore.New(op, "decode", pandocore.KindMonotonicity, msg)
}

func protocolFault(op, msg string) error {
	return pandocore.New(op, "decode", pandocore.KindProtocol, msg)
}
