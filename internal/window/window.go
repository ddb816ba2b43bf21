// Package window implements the window driver (C5): draining raw
// timetagger records out of the C1 SPSC ring and into per-channel
// macro/micro-time vectors spanning a requested bin window, grounded on
// x_harp_proc_base.h's XHarpProcBase<Impl>::UpdateRawData.
//
// The original is a CRTP template (XHarpProcBase<Impl>) so that
// UpdateRawData can call Impl::ConsumeRecord without a vtable
// indirection. Go has no CRTP; Driver is a plain generic type
// parameterized over the decode.Decoder interface instead, per spec's
// redesign note.
package window

import (
	"time"

	"github.com/pando-labs/pandocore"
	"github.com/pando-labs/pandocore/internal/decode"
	"github.com/pando-labs/pandocore/internal/ring"
)

const (
	maxChannels = 16

	maxExcessDelayBase = 500 * time.Millisecond
	incrementalDelay   = 50 * time.Millisecond
)

// RecordBuffer is one slot of the producer/consumer ring, grounded on
// XHarpBase::RecordBuffer. Unlike the original's fixed 20M-record
// array, Data is a caller-sized slice so the capacity is a deployment
// choice rather than a compile-time constant.
type RecordBuffer struct {
	Occupancy int
	Data      []decode.Record
}

// ChannelTimestamps holds one enabled channel's macro/micro time
// vectors for the most recently requested bin window, grounded on
// RawData::ChannelTimestamps.
type ChannelTimestamps struct {
	macroTimes []uint64
	microTimes []uint64

	spanFrom  uint64
	spanUntil uint64
}

// MacroTimes returns the channel's macro-time vector for the last
// completed window, in picoseconds.
func (c *ChannelTimestamps) MacroTimes() []uint64 { return c.macroTimes }

// MicroTimes returns the channel's micro-time vector for the last
// completed window, in picoseconds.
func (c *ChannelTimestamps) MicroTimes() []uint64 { return c.microTimes }

func (c *ChannelTimestamps) clear() {
	c.macroTimes = c.macroTimes[:0]
	c.microTimes = c.microTimes[:0]
}

func (c *ChannelTimestamps) setSpan(from, until uint64) {
	c.spanFrom, c.spanUntil = from, until
}

func (c *ChannelTimestamps) pushTimestamp(macro, micro uint64) {
	c.macroTimes = append(c.macroTimes, macro)
	c.microTimes = append(c.microTimes, micro)
}

func (c *ChannelTimestamps) pushMarker(macro uint64) {
	c.macroTimes = append(c.macroTimes, macro)
}

// RawData is the per-bin output of UpdateRawData: one ChannelTimestamps
// per enabled normal channel and per marker channel, grounded on
// RawData from x_harp_proc_base.h's dest argument.
type RawData struct {
	Timestamps       map[int]*ChannelTimestamps
	MarkerTimestamps map[int]*ChannelTimestamps
}

// NewRawData allocates a RawData with an entry for each channel in
// enabledChannels (normal streams) and markerChannels (marker
// streams).
func NewRawData(enabledChannels, markerChannels []int) *RawData {
	d := &RawData{
		Timestamps:       make(map[int]*ChannelTimestamps, len(enabledChannels)),
		MarkerTimestamps: make(map[int]*ChannelTimestamps, len(markerChannels)),
	}
	for _, ch := range enabledChannels {
		d.Timestamps[ch] = &ChannelTimestamps{}
	}
	for _, ch := range markerChannels {
		d.MarkerTimestamps[ch] = &ChannelTimestamps{}
	}
	return d
}

// Driver drains decode.Record values out of a ring.Ring[RecordBuffer]
// through a Decoder D and into a RawData spanning a requested bin
// window. It is the generic replacement for XHarpProcBase<Impl>.
type Driver[D decode.Decoder] struct {
	ringBuffer *ring.Ring[RecordBuffer]
	decoder    D
	binSizePs  uint64

	procBuffer    *RecordBuffer
	procBufferIdx int
}

// NewDriver constructs a Driver reading from ringBuffer and decoding
// with decoder. binSizeNs is the session's configured bin size in
// nanoseconds (config.Config.BinSizeNs); internally all times are
// tracked in picoseconds to match decode.Decoder's macro/micro time
// units.
func NewDriver[D decode.Decoder](ringBuffer *ring.Ring[RecordBuffer], decoder D, binSizeNs uint64) *Driver[D] {
	return &Driver[D]{
		ringBuffer: ringBuffer,
		decoder:    decoder,
		binSizePs:  binSizeNs * 1000,
	}
}

// UpdateRawData drains records until every enabled channel's macro
// time vector spans [beginBinIdx, endBinIdx) of bin_size-wide bins,
// per spec §4.5. dest's channel maps determine which channels are
// tracked; channels absent from dest are decoded but discarded.
func (d *Driver[D]) UpdateRawData(beginBinIdx, endBinIdx uint64, dest *RawData) error {
	from := d.binSizePs * beginBinIdx
	until := d.binSizePs * endBinIdx

	for _, ct := range dest.Timestamps {
		ct.clear()
		ct.setSpan(from, until)
	}
	for _, ct := range dest.MarkerTimestamps {
		ct.clear()
		ct.setSpan(from, until)
	}

	windowDuration := time.Duration((until - from) / 1000) // ps -> ns, Duration's base unit
	maxDelay := windowDuration + maxExcessDelayBase*time.Duration(d.decoder.ExcessDelayFactor())
	var totalDelay time.Duration

	for {
		if d.decoder.StashedTimestamp() {
			d.decoder.ClearStashedTimestamp()

			if d.decoder.LastTimestampMacroTimePs() < from {
				return pandocore.New("UpdateRawData", "window", pandocore.KindOutOfRange,
					"first available timestamp falls before the requested window start")
			}
			if ct, ok := dest.Timestamps[int(d.decoder.LastChannel())]; ok {
				ct.pushTimestamp(d.decoder.LastTimestampMacroTimePs(), d.decoder.LastMicroTimePs())
			}
		} else if d.decoder.StashedMarkers() {
			d.decoder.ClearStashedMarkers()

			bits := d.decoder.LastChannel()
			for ch, ct := range dest.MarkerTimestamps {
				if bits&(1<<uint(ch)) != 0 {
					ct.pushMarker(d.decoder.LastMarkerMacroTimePs())
				}
			}
		}

		if d.procBuffer == nil || d.procBufferIdx == d.procBuffer.Occupancy {
			buf, err := d.awaitNextBuffer(&totalDelay, maxDelay)
			if err != nil {
				return err
			}
			d.procBuffer = buf
			d.procBufferIdx = 0
		}

		record := d.procBuffer.Data[d.procBufferIdx]
		d.procBufferIdx++
		if err := d.decoder.ConsumeRecord(record); err != nil {
			return err
		}

		if d.decoder.StashedTimestamp() && d.decoder.LastTimestampMacroTimePs() >= until {
			return nil
		}
	}
}

func (d *Driver[D]) awaitNextBuffer(totalDelay *time.Duration, maxDelay time.Duration) (*RecordBuffer, error) {
	for {
		buf := d.ringBuffer.AdvanceRead()
		if buf != nil && buf.Occupancy > 0 {
			return buf, nil
		}

		if *totalDelay > maxDelay {
			return nil, pandocore.New("UpdateRawData", "window", pandocore.KindStall,
				"blocked waiting for raw records longer than the window's excess-delay budget")
		}

		time.Sleep(incrementalDelay)
		*totalDelay += incrementalDelay
	}
}

// Reset clears the driver's decode state and detaches the in-flight
// proc buffer, matching XHarpProcBase::ResetProc.
func (d *Driver[D]) Reset() {
	d.procBuffer = nil
	d.procBufferIdx = 0
	d.decoder.Reset()
}
