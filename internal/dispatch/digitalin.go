package dispatch

import (
	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/dma"
)

// DigitalEdge mirrors proto::DigitalEdgeType.
type DigitalEdge string

const (
	RisingEdge  DigitalEdge = "RISING_EDGE"
	FallingEdge DigitalEdge = "FALLING_EDGE"
)

// DigitalInPayload mirrors proto::Packet::Payload::digital_in.
type DigitalInPayload struct {
	DeviceID uint16
	Edge     DigitalEdge
}

// DigitalIn consumes digital-input edge samples, grounded on
// peripherals/digital_in.cpp.
type DigitalIn struct {
	*Base
}

// NewDigitalIn constructs the digital input peripheral worker,
// publishing on topic "pandoboxd.digital_in".
func NewDigitalIn(pub Publisher) *DigitalIn {
	return &DigitalIn{Base: newBase("digital_in", "pandoboxd.digital_in", pub)}
}

func (d *DigitalIn) Configure(cfg *config.Config) error { return nil }

func (d *DigitalIn) Start(experimentID int32) (SessionHandle, error) {
	return d.start(experimentID, d.run)
}

func (d *DigitalIn) run() {
	for {
		sample := d.dequeue(1)
		if sample == nil {
			if d.ShouldStop() {
				return
			}
			continue
		}
		edge := FallingEdge
		if sample.Digital.Direction != 0 {
			edge = RisingEdge
		}
		d.publish(DigitalInPayload{DeviceID: sample.DeviceID, Edge: edge}, sample.TimestampNs())
	}
}
