// Package sbox implements the small memory-mapped register banks the
// FPGA sample box exposes per peripheral (digital input, IMU, the four
// analog channels, the traffic generator, and the two trigger
// generators), grounded on libpandobox/src/peripheral_registers.h.
// Each bank lives behind its own UIO device, named exactly as the
// original's kUioDevNameInst* constants, and shares a common
// Enable/Mock flags layout plus a bank-specific tail (sample-rate
// divisor, or trigger period/width).
package sbox

import (
	"sync/atomic"
	"unsafe"

	pandocore "github.com/pando-labs/pandocore"
	"github.com/pando-labs/pandocore/internal/uio"
)

const (
	flagsEnableBit = 0
	flagsMockBit   = 1
)

// peripheralRegs is the common CommonPeripheralFlags bank prefix
// (Enable/Mock bits in word 0) shared by every peripheral except the
// trigger generators, which only ever expose Enable.
type peripheralRegs struct {
	dev  *uio.Device
	base unsafe.Pointer
}

func openRegs(devName string) (peripheralRegs, error) {
	uioNumber, err := uio.FindByName(devName)
	if err != nil {
		return peripheralRegs{}, pandocore.Wrap("openRegs", "sbox", err)
	}
	dev, err := uio.Open(uioNumber)
	if err != nil {
		return peripheralRegs{}, pandocore.Wrap("openRegs", "sbox", err)
	}
	base, err := dev.Mmap()
	if err != nil {
		dev.Close()
		return peripheralRegs{}, pandocore.Wrap("openRegs", "sbox", err)
	}
	return peripheralRegs{dev: dev, base: base}, nil
}

func (r peripheralRegs) flags0() *uint32 { return (*uint32)(r.base) }
func (r peripheralRegs) word(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Add(r.base, offset))
}

func (r peripheralRegs) setBit(bit uint, set bool) {
	for {
		old := atomic.LoadUint32(r.flags0())
		var next uint32
		if set {
			next = old | (1 << bit)
		} else {
			next = old &^ (1 << bit)
		}
		if atomic.CompareAndSwapUint32(r.flags0(), old, next) {
			return
		}
	}
}

func (r peripheralRegs) SetEnabled(enabled bool) { r.setBit(flagsEnableBit, enabled) }
func (r peripheralRegs) SetMocked(mocked bool)    { r.setBit(flagsMockBit, mocked) }
func (r peripheralRegs) Close() error {
	if r.dev == nil {
		return nil
	}
	return r.dev.Close()
}

// AnalogBank additionally exposes the sample-rate divisor word that
// follows CommonPeripheralFlags in reg::AnalogInput/TrafficGenerator.
type AnalogBank struct {
	peripheralRegs
}

func (b AnalogBank) SetSampleRateDiv(divisor uint32) {
	atomic.StoreUint32(b.word(4), divisor)
}

// TriggerBank exposes trigger_period/trigger_width in reg::TriggerGen.
type TriggerBank struct {
	peripheralRegs
}

func (b TriggerBank) SetPeriod(period uint32) { atomic.StoreUint32(b.word(4), period) }
func (b TriggerBank) SetWidth(width uint32)    { atomic.StoreUint32(b.word(8), width) }

// SampleBox aggregates the per-peripheral register banks, the
// subset of PandoBoxInterface's Set*Enabled/Set*SampRateDiv/Set*Period
// surface C3's peripherals need to arm their hardware source.
type SampleBox struct {
	Global  peripheralRegs
	DigIn0  peripheralRegs
	Imu0    peripheralRegs
	Ain     [4]AnalogBank
	Trgen0  AnalogBank
	Trig    [2]TriggerBank
}

// Open resolves and maps every peripheral register bank by its fixed
// UIO device name.
func Open() (*SampleBox, error) {
	sb := &SampleBox{}
	var err error
	if sb.Global, err = openRegs("global_config_regs_0"); err != nil {
		return nil, err
	}
	if sb.DigIn0, err = openRegs("digital_inputs_0"); err != nil {
		return nil, err
	}
	if sb.Imu0, err = openRegs("imu_0"); err != nil {
		return nil, err
	}
	for i, name := range []string{"adc_0", "adc_1", "adc_2", "adc_3"} {
		regs, err := openRegs(name)
		if err != nil {
			return nil, err
		}
		sb.Ain[i] = AnalogBank{regs}
	}
	trgenRegs, err := openRegs("traffic_generator_0")
	if err != nil {
		return nil, err
	}
	sb.Trgen0 = AnalogBank{trgenRegs}
	for i, name := range []string{"frame_trig_gen_0", "frame_trig_gen_1"} {
		regs, err := openRegs(name)
		if err != nil {
			return nil, err
		}
		sb.Trig[i] = TriggerBank{regs}
	}
	return sb, nil
}

// SetRun toggles the global run flag (Global::flags_0::Run).
func (sb *SampleBox) SetRun(run bool) { sb.Global.setBit(0, run) }

// GetVersion reads the FPGA build version word.
func (sb *SampleBox) GetVersion() uint32 {
	return atomic.LoadUint32(sb.Global.word(8))
}

// Close unmaps and closes every peripheral's UIO device.
func (sb *SampleBox) Close() error {
	var first error
	for _, r := range append([]peripheralRegs{sb.Global, sb.DigIn0, sb.Imu0},
		sb.Ain[0].peripheralRegs, sb.Ain[1].peripheralRegs, sb.Ain[2].peripheralRegs, sb.Ain[3].peripheralRegs,
		sb.Trgen0.peripheralRegs, sb.Trig[0].peripheralRegs, sb.Trig[1].peripheralRegs) {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
