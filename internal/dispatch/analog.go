package dispatch

import (
	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/dma"
	"github.com/pando-labs/pandocore/internal/sbox"
)

// AnalogPayload mirrors the payload shape shared by PulseOx/HRM/
// RespBelt/PowerMeter (proto::Packet::Payload::{pulse_ox,hrm,...}):
// device_id plus a single raw sample value.
type AnalogPayload struct {
	DeviceID uint16
	Sample   int16
}

// AnalogPeripheral is a single Go type generalizing the four
// near-identical analog peripheral classes (pulse_ox.cpp, hrm.cpp,
// resp_belt.cpp, power_meter.cpp): same Configure/Run/Enable shape,
// differing only in topic name, ADC channel index, and sample-rate
// divisor.
type AnalogPeripheral struct {
	*Base
	channel      dma.AdcChannel
	sampleRateDiv uint32
	bank         *sbox.AnalogBank
}

// NewAnalogPeripheral constructs one of the four analog peripheral
// workers. sampleRateDiv is applied to bank (if non-nil) on Start,
// mirroring e.g. HRM::Enable()'s SetAin1SampRateDiv(1000000) for
// 100 Hz sampling.
func NewAnalogPeripheral(name, topic string, channel dma.AdcChannel, sampleRateDiv uint32, bank *sbox.AnalogBank, pub Publisher) *AnalogPeripheral {
	return &AnalogPeripheral{
		Base:          newBase(name, topic, pub),
		channel:       channel,
		sampleRateDiv: sampleRateDiv,
		bank:          bank,
	}
}

func (p *AnalogPeripheral) Configure(cfg *config.Config) error { return nil }

func (p *AnalogPeripheral) Start(experimentID int32) (SessionHandle, error) {
	if p.bank != nil {
		p.bank.SetSampleRateDiv(p.sampleRateDiv)
		p.SetEnabler(*p.bank)
	}
	return p.start(experimentID, p.run)
}

// NewPulseOx constructs the pulse-oximeter peripheral worker (100 Hz,
// AdcPulseOx), grounded on peripherals/pulse_ox.cpp.
func NewPulseOx(bank *sbox.AnalogBank, pub Publisher) *AnalogPeripheral {
	return NewAnalogPeripheral("pulse_ox", "pandoboxd.pulse_ox", dma.AdcPulseOx, 1000000, bank, pub)
}

// NewHRM constructs the heart-rate-monitor peripheral worker (100 Hz,
// AdcHeartRate), grounded on peripherals/hrm.cpp.
func NewHRM(bank *sbox.AnalogBank, pub Publisher) *AnalogPeripheral {
	return NewAnalogPeripheral("hrm", "pandoboxd.hrm", dma.AdcHeartRate, 1000000, bank, pub)
}

// NewRespBelt constructs the respiration-belt peripheral worker
// (10 Hz, AdcRespBelt), grounded on peripherals/resp_belt.cpp.
func NewRespBelt(bank *sbox.AnalogBank, pub Publisher) *AnalogPeripheral {
	return NewAnalogPeripheral("resp_belt", "pandoboxd.resp_belt", dma.AdcRespBelt, 10000000, bank, pub)
}

// NewPowerMeter constructs the power-meter peripheral worker (1 kHz,
// AdcPowerMeter), grounded on peripherals/power_meter.cpp.
func NewPowerMeter(bank *sbox.AnalogBank, pub Publisher) *AnalogPeripheral {
	return NewAnalogPeripheral("power_meter", "pandoboxd.power_meter", dma.AdcPowerMeter, 100000, bank, pub)
}

func (p *AnalogPeripheral) run() {
	for {
		sample := p.dequeue(1)
		if sample == nil {
			if p.ShouldStop() {
				return
			}
			continue
		}
		p.publish(AnalogPayload{
			DeviceID: sample.DeviceID,
			Sample:   int16(sample.Analog.Value),
		}, sample.TimestampNs())
	}
}
