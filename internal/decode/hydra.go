package decode

const (
	hydraT2Wraparound uint64 = 33554432
	hydraT3Wraparound uint64 = 1024
)

// HydraT2 decodes Device H T2-mode records: timetag:25, channel:6,
// special:1, grounded on HydraHarpT2Base::ConsumeRecord. HydraHarp ticks
// are 1 ps, so macro time is the raw overflow-adjusted timetag with no
// per-tick multiplier.
type HydraT2 struct {
	state
}

// NewHydraT2 constructs a fresh Device H T2 decoder.
func NewHydraT2() *HydraT2 {
	return &HydraT2{}
}

// ConsumeRecord decodes one Device H T2 record.
func (d *HydraT2) ConsumeRecord(tag Record) error {
	timetag := tag & 0x01FFFFFF
	channel := uint8((tag >> 25) & 0x3F)
	special := tag>>31 != 0

	if !special {
		if channel >= 8 {
			return protocolFault("ConsumeRecord", "hydra t2: normal record with invalid channel")
		}
		macroTime := d.overflowState + uint64(timetag)
		if macroTime < d.lastTimestampMacroTimePs {
			return monotonicityFault("ConsumeRecord", "hydra t2: non-monotonic macro time")
		}
		d.lastChannel = channel
		d.lastTimestampMacroTimePs = macroTime
		d.stashedTimestamp = true
		return nil
	}

	switch {
	case channel == 0:
		// SYNC event, not surfaced to callers.
		return nil
	case channel >= 1 && channel <= 15:
		macroTime := d.overflowState + uint64(timetag)
		if macroTime < d.lastMarkerMacroTimePs {
			return monotonicityFault("ConsumeRecord", "hydra t2: non-monotonic marker macro time")
		}
		d.lastChannel = channel
		d.lastMarkerMacroTimePs = macroTime
		d.stashedMarkers = true
		return nil
	case channel == 63:
		d.overflowState += hydraT2Wraparound * uint64(timetag)
		return nil
	default:
		return protocolFault("ConsumeRecord", "hydra t2: special record with unknown channel")
	}
}

// HydraT3 decodes Device H T3-mode records: nsync:10, dtime:15, channel:6,
// special:1, grounded on HydraHarpT3Base::ConsumeRecord.
type HydraT3 struct {
	state
	LaserSyncPeriodPs uint64
}

// NewHydraT3 constructs a fresh Device H T3 decoder.
func NewHydraT3(laserSyncPeriodPs uint64) *HydraT3 {
	return &HydraT3{LaserSyncPeriodPs: laserSyncPeriodPs}
}

// ConsumeRecord decodes one Device H T3 record.
func (d *HydraT3) ConsumeRecord(tag Record) error {
	nsync := tag & 0x3FF
	dtime := (tag >> 10) & 0x7FFF
	channel := uint8((tag >> 25) & 0x3F)
	special := tag>>31 != 0

	syncsSeen := d.overflowState + uint64(nsync)

	if !special {
		if channel >= 8 {
			return protocolFault("ConsumeRecord", "hydra t3: normal record with invalid channel")
		}
		microTime := uint64(dtime)
		macroTime := syncsSeen * d.LaserSyncPeriodPs
		if macroTime < d.lastTimestampMacroTimePs {
			return monotonicityFault("ConsumeRecord", "hydra t3: non-monotonic macro time")
		}
		d.lastChannel = channel
		d.lastTimestampMacroTimePs = macroTime
		d.lastMicroTimePs = microTime
		d.stashedTimestamp = true
		return nil
	}

	switch {
	case channel == 63:
		d.overflowState += hydraT3Wraparound * uint64(nsync)
		return nil
	case channel >= 1 && channel <= 15:
		macroTime := syncsSeen * d.LaserSyncPeriodPs
		if macroTime < d.lastMarkerMacroTimePs {
			return monotonicityFault("ConsumeRecord", "hydra t3: non-monotonic marker macro time")
		}
		d.lastChannel = channel
		d.lastMarkerMacroTimePs = macroTime
		d.stashedMarkers = true
		return nil
	default:
		return protocolFault("ConsumeRecord", "hydra t3: special record with unknown channel")
	}
}
