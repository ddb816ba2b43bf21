package dispatch

import (
	"context"

	"github.com/pando-labs/pandocore/internal/dma"
	"github.com/pando-labs/pandocore/internal/lifecycle"
	"github.com/pando-labs/pandocore/internal/logging"
)

// SampleSource is the subset of internal/dma.AxiDma the dispatcher
// drives: consume_samples, per spec §4.2/§4.3.
type SampleSource interface {
	ConsumeSamples(consume func(samples []*dma.Sample), max int, timeoutMs int) (int, error)
}

// batchSize and waitMillis are the dispatcher's fixed ConsumeSamples
// parameters, per spec §4.3 ("small batch (e.g. 64) and a short
// timeout (e.g. 1 ms)").
const (
	batchSize  = 64
	waitMillis = 1
)

// Dispatcher runs the consumer thread that tag-dispatches every FPGA
// sample onto its peripheral's queue, grounded line-for-line on
// pandoboxd.cpp's SamplePandoBox.
type Dispatcher struct {
	source SampleSource
	logger *logging.Logger

	digitalIn  *DigitalIn
	imu        *Imu
	pulseOx    *AnalogPeripheral
	hrm        *AnalogPeripheral
	respBelt   *AnalogPeripheral
	powerMeter *AnalogPeripheral
	trafficGen *TrafficGen

	stop *lifecycle.StopSignal
}

// New constructs a Dispatcher wired to the given peripheral workers.
// Any of the peripheral arguments may be nil, in which case samples
// tag-dispatched to it are silently dropped rather than panicking — useful for harnesses exercising a subset of peripherals.
func New(source SampleSource, logger *logging.Logger, digitalIn *DigitalIn, imu *Imu, pulseOx, hrm, respBelt, powerMeter *AnalogPeripheral, trafficGen *TrafficGen) *Dispatcher {
	return &Dispatcher{
		source:     source,
		logger:     logger,
		digitalIn:  digitalIn,
		imu:        imu,
		pulseOx:    pulseOx,
		hrm:        hrm,
		respBelt:   respBelt,
		powerMeter: powerMeter,
		trafficGen: trafficGen,
		stop:       lifecycle.NewStopSignal(context.Background()),
	}
}

// Run drains samples until Stop is called and a final batch returns
// zero, matching SamplePandoBox's
// `if (stop_signal_.ShouldStop() && samples_consumed == 0) break;`.
func (d *Dispatcher) Run() error {
	for {
		n, err := d.source.ConsumeSamples(d.dispatchBatch, batchSize, waitMillis)
		if err != nil {
			return err
		}
		if d.stop.ShouldStop() && n == 0 {
			return nil
		}
	}
}

// Stop signals Run to exit; Run returns at the first batch after this
// call that consumes zero samples.
func (d *Dispatcher) Stop() {
	d.stop.Stop()
}

func (d *Dispatcher) dispatchBatch(samples []*dma.Sample) {
	for _, sample := range samples {
		d.dispatchOne(sample)
	}
}

func (d *Dispatcher) dispatchOne(sample *dma.Sample) {
	switch sample.Type {
	case dma.MagicTrafficGen:
		if d.trafficGen != nil {
			d.trafficGen.Enqueue(sample)
		}
	case dma.MagicDigitalInput:
		if d.digitalIn != nil {
			d.digitalIn.Enqueue(sample)
		}
	case dma.MagicImu:
		if d.imu != nil {
			d.imu.Enqueue(sample)
		}
	case dma.MagicAnalogInput:
		d.dispatchAnalog(sample)
	default:
		if d.logger != nil {
			d.logger.Warnf("dispatch: unsupported sample type 0x%08x", uint32(sample.Type))
		}
	}
}

func (d *Dispatcher) dispatchAnalog(sample *dma.Sample) {
	var target *AnalogPeripheral
	switch dma.AdcChannel(sample.DeviceID) {
	case dma.AdcPulseOx:
		target = d.pulseOx
	case dma.AdcHeartRate:
		target = d.hrm
	case dma.AdcRespBelt:
		target = d.respBelt
	case dma.AdcPowerMeter:
		target = d.powerMeter
	default:
		if d.logger != nil {
			d.logger.Warnf("dispatch: unknown analog device id %d", sample.DeviceID)
		}
		return
	}
	if target != nil {
		target.Enqueue(sample)
	}
}
