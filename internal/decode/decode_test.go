package decode

import (
	"testing"

	"github.com/pando-labs/pandocore"
)

func TestPicoT2NormalRecord(t *testing.T) {
	d := NewPicoT2()
	// channel=2, time=100
	tag := Record(100) | (Record(2) << 28)
	if err := d.ConsumeRecord(tag); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	if !d.StashedTimestamp() {
		t.Fatal("expected a stashed timestamp")
	}
	if d.LastChannel() != 2 {
		t.Errorf("LastChannel = %d, want 2", d.LastChannel())
	}
	if want := picoPicosecondsPerTick * 100; d.LastTimestampMacroTimePs() != want {
		t.Errorf("LastTimestampMacroTimePs = %d, want %d", d.LastTimestampMacroTimePs(), want)
	}
}

func TestPicoT2Overflow(t *testing.T) {
	d := NewPicoT2()
	overflowTag := Record(0xF) << 28 // channel=0xF, time low nibble=0
	if err := d.ConsumeRecord(overflowTag); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	if d.StashedTimestamp() || d.StashedMarkers() {
		t.Fatal("overflow record must not stash anything")
	}
	if d.overflowState != picoT2Wraparound {
		t.Errorf("overflowState = %d, want %d", d.overflowState, picoT2Wraparound)
	}

	normalTag := Record(1) | (Record(1) << 28)
	if err := d.ConsumeRecord(normalTag); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	want := picoPicosecondsPerTick * (picoT2Wraparound + 1)
	if d.LastTimestampMacroTimePs() != want {
		t.Errorf("post-overflow macro time = %d, want %d", d.LastTimestampMacroTimePs(), want)
	}
}

func TestPicoT2Marker(t *testing.T) {
	d := NewPicoT2()
	// channel=0xF, time low nibble=0b0101 (markers=5), high bits=0x100
	tag := Record(0xF)<<28 | Record(0x100<<4) | Record(0x5)
	if err := d.ConsumeRecord(tag); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	if !d.StashedMarkers() {
		t.Fatal("expected a stashed marker")
	}
	if d.LastChannel() != 0x5 {
		t.Errorf("LastChannel (marker bitfield) = %#x, want 0x5", d.LastChannel())
	}
}

func TestPicoT2NonMonotonicFault(t *testing.T) {
	d := NewPicoT2()
	hi := Record(1000) | (Record(1) << 28)
	if err := d.ConsumeRecord(hi); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	lo := Record(1) | (Record(1) << 28)
	err := d.ConsumeRecord(lo)
	if !pandocore.IsKind(err, pandocore.KindMonotonicity) {
		t.Fatalf("err = %v, want KindMonotonicity", err)
	}
}

func TestPicoT2InvalidChannelFault(t *testing.T) {
	d := NewPicoT2()
	tag := Record(1) | (Record(7) << 28) // channel=7, not 0xF, >4
	err := d.ConsumeRecord(tag)
	if !pandocore.IsKind(err, pandocore.KindProtocol) {
		t.Fatalf("err = %v, want KindProtocol", err)
	}
}

func TestPicoT3MacroTimeUsesSyncPeriod(t *testing.T) {
	d := NewPicoT3(12500) // 80 MHz laser
	tag := Record(2) | (Record(40) << 16) | (Record(1) << 28)
	if err := d.ConsumeRecord(tag); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	if want := uint64(2) * 12500; d.LastTimestampMacroTimePs() != want {
		t.Errorf("macro time = %d, want %d", d.LastTimestampMacroTimePs(), want)
	}
	if want := picoPicosecondsPerTick * 40; d.LastMicroTimePs() != want {
		t.Errorf("micro time = %d, want %d", d.LastMicroTimePs(), want)
	}
}

func TestHydraT2NormalAndOverflow(t *testing.T) {
	d := NewHydraT2()
	tag := Record(500) | (Record(3) << 25)
	if err := d.ConsumeRecord(tag); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	if d.LastTimestampMacroTimePs() != 500 {
		t.Errorf("macro time = %d, want 500", d.LastTimestampMacroTimePs())
	}

	ov := uint32(1)<<31 | uint32(63)<<25 | uint32(2)
	if err := d.ConsumeRecord(Record(ov)); err != nil {
		t.Fatalf("ConsumeRecord overflow: %v", err)
	}
	if want := hydraT2Wraparound * 2; d.overflowState != want {
		t.Errorf("overflowState = %d, want %d", d.overflowState, want)
	}
}

func TestHydraT2InvalidChannelAtEight(t *testing.T) {
	d := NewHydraT2()
	tag := Record(8) << 25 // channel=8, normal record must be <8
	err := d.ConsumeRecord(tag)
	if !pandocore.IsKind(err, pandocore.KindProtocol) {
		t.Fatalf("err = %v, want KindProtocol", err)
	}
}

func TestHydraT2SyncEventNotStashed(t *testing.T) {
	d := NewHydraT2()
	sync := uint32(1)<<31 | uint32(0)<<25 | uint32(10)
	if err := d.ConsumeRecord(Record(sync)); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	if d.StashedTimestamp() || d.StashedMarkers() {
		t.Fatal("SYNC event must not stash anything")
	}
}

func TestMultiT2AcceptsChannelFifteen(t *testing.T) {
	d := NewMultiT2(5)
	tag := Record(100) | (Record(15) << 25)
	if err := d.ConsumeRecord(tag); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	if want := uint64(100 * 5); d.LastTimestampMacroTimePs() != want {
		t.Errorf("macro time = %d, want %d", d.LastTimestampMacroTimePs(), want)
	}
	if d.ExcessDelayFactor() != 2 {
		t.Errorf("ExcessDelayFactor = %d, want 2", d.ExcessDelayFactor())
	}
}

func TestMultiT2RejectsChannelSixteen(t *testing.T) {
	d := NewMultiT2(5)
	tag := Record(100) | (Record(16) << 25)
	err := d.ConsumeRecord(tag)
	if !pandocore.IsKind(err, pandocore.KindProtocol) {
		t.Fatalf("err = %v, want KindProtocol", err)
	}
}

func TestHydraT2RejectsChannelFifteen(t *testing.T) {
	// HydraHarp's ceiling is 8, not 16 — a channel 15 normal record must
	// fault even though it's legal for MultiHarp.
	d := NewHydraT2()
	tag := Record(100) | (Record(15) << 25)
	err := d.ConsumeRecord(tag)
	if !pandocore.IsKind(err, pandocore.KindProtocol) {
		t.Fatalf("err = %v, want KindProtocol", err)
	}
}

func TestDecoderReset(t *testing.T) {
	d := NewPicoT2()
	tag := Record(100) | (Record(2) << 28)
	if err := d.ConsumeRecord(tag); err != nil {
		t.Fatalf("ConsumeRecord: %v", err)
	}
	d.Reset()
	if d.StashedTimestamp() || d.overflowState != 0 || d.LastTimestampMacroTimePs() != 0 {
		t.Fatal("Reset did not clear state")
	}
}
