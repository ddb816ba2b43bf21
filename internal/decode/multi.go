package decode

const (
	multiT2Wraparound uint64 = 33554432
	multiT3Wraparound uint64 = 1024
)

// MultiT2 decodes Device M T2-mode records: timetag:25, channel:6,
// special:1 — the same shape as Device H, but normal records accept
// channel<16 and macro time is scaled by PicosecondsPerTick, a value read
// from the device's base resolution rather than fixed at 1,
// grounded on MultiHarpT2Base::ConsumeRecord.
type MultiT2 struct {
	state
	PicosecondsPerTick uint64
}

// NewMultiT2 constructs a fresh Device M T2 decoder. picosecondsPerTick is
// read from the device's reported base resolution at configure time.
func NewMultiT2(picosecondsPerTick uint64) *MultiT2 {
	return &MultiT2{PicosecondsPerTick: picosecondsPerTick}
}

// ExcessDelayFactor is 2 for Device M: its TTREADMAX batches are 8x
// larger than Device P/H's, so the window driver must wait longer for a
// full batch to drain.
func (d *MultiT2) ExcessDelayFactor() int { return 2 }

// ConsumeRecord decodes one Device M T2 record.
func (d *MultiT2) ConsumeRecord(tag Record) error {
	timetag := tag & 0x01FFFFFF
	channel := uint8((tag >> 25) & 0x3F)
	special := tag>>31 != 0

	if !special {
		if channel >= 16 {
			return protocolFault("ConsumeRecord", "multi t2: normal record with invalid channel")
		}
		macroTime := (d.overflowState + uint64(timetag)) * d.PicosecondsPerTick
		if macroTime < d.lastTimestampMacroTimePs {
			return monotonicityFault("ConsumeRecord", "multi t2: non-monotonic macro time")
		}
		d.lastChannel = channel
		d.lastTimestampMacroTimePs = macroTime
		d.stashedTimestamp = true
		return nil
	}

	switch {
	case channel == 0:
		return nil
	case channel >= 1 && channel <= 15:
		macroTime := (d.overflowState + uint64(timetag)) * d.PicosecondsPerTick
		if macroTime < d.lastMarkerMacroTimePs {
			return monotonicityFault("ConsumeRecord", "multi t2: non-monotonic marker macro time")
		}
		d.lastChannel = channel
		d.lastMarkerMacroTimePs = macroTime
		d.stashedMarkers = true
		return nil
	case channel == 63:
		d.overflowState += multiT2Wraparound * uint64(timetag)
		return nil
	default:
		return protocolFault("ConsumeRecord", "multi t2: special record with unknown channel")
	}
}

// MultiT3 decodes Device M T3-mode records: nsync:10, dtime:15,
// channel:6, special:1 — same shape as Device H T3 but channel<16,
// grounded on MultiHarpT3Base::ConsumeRecord.
type MultiT3 struct {
	state
	LaserSyncPeriodPs  uint64
	PicosecondsPerTick uint64
}

// NewMultiT3 constructs a fresh Device M T3 decoder.
func NewMultiT3(laserSyncPeriodPs, picosecondsPerTick uint64) *MultiT3 {
	return &MultiT3{LaserSyncPeriodPs: laserSyncPeriodPs, PicosecondsPerTick: picosecondsPerTick}
}

// ExcessDelayFactor is 2, matching MultiT2's wider TTREADMAX batch.
func (d *MultiT3) ExcessDelayFactor() int { return 2 }

// ConsumeRecord decodes one Device M T3 record.
func (d *MultiT3) ConsumeRecord(tag Record) error {
	nsync := tag & 0x3FF
	dtime := (tag >> 10) & 0x7FFF
	channel := uint8((tag >> 25) & 0x3F)
	special := tag>>31 != 0

	syncsSeen := d.overflowState + uint64(nsync)

	if !special {
		if channel >= 16 {
			return protocolFault("ConsumeRecord", "multi t3: normal record with invalid channel")
		}
		microTime := d.PicosecondsPerTick * uint64(dtime)
		macroTime := syncsSeen * d.LaserSyncPeriodPs
		if macroTime < d.lastTimestampMacroTimePs {
			return monotonicityFault("ConsumeRecord", "multi t3: non-monotonic macro time")
		}
		d.lastChannel = channel
		d.lastTimestampMacroTimePs = macroTime
		d.lastMicroTimePs = microTime
		d.stashedTimestamp = true
		return nil
	}

	switch {
	case channel == 63:
		d.overflowState += multiT3Wraparound * uint64(nsync)
		return nil
	case channel >= 1 && channel <= 15:
		macroTime := syncsSeen * d.LaserSyncPeriodPs
		if macroTime < d.lastMarkerMacroTimePs {
			return monotonicityFault("ConsumeRecord", "multi t3: non-monotonic marker macro time")
		}
		d.lastChannel = channel
		d.lastMarkerMacroTimePs = macroTime
		d.stashedMarkers = true
		return nil
	default:
		return protocolFault("ConsumeRecord", "multi t3: special record with unknown channel")
	}
}
