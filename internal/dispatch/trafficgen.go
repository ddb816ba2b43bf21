package dispatch

import (
	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/sbox"
)

// TrafficGenPayload mirrors proto::Packet::Payload::traffic_gen.
type TrafficGenPayload struct {
	DeviceID uint16
}

// trafficGenSampleRateDiv gives the traffic generator a fixed 10
// samples/second rate, per traffic_gen.cpp's Enable().
const trafficGenSampleRateDiv = 10000000

// TrafficGen consumes synthetic traffic-generator samples used to
// validate dispatch throughput end-to-end, grounded on
// peripherals/traffic_gen.cpp.
type TrafficGen struct {
	*Base
	bank *sbox.AnalogBank
}

// NewTrafficGen constructs the traffic generator peripheral worker,
// publishing on topic "pandoboxd.traffic_gen".
func NewTrafficGen(bank *sbox.AnalogBank, pub Publisher) *TrafficGen {
	return &TrafficGen{Base: newBase("traffic_gen", "pandoboxd.traffic_gen", pub), bank: bank}
}

func (t *TrafficGen) Configure(cfg *config.Config) error { return nil }

func (t *TrafficGen) Start(experimentID int32) (SessionHandle, error) {
	if t.bank != nil {
		t.bank.SetSampleRateDiv(trafficGenSampleRateDiv)
		t.SetEnabler(*t.bank)
	}
	return t.start(experimentID, t.run)
}

func (t *TrafficGen) run() {
	for {
		sample := t.dequeue(1)
		if sample == nil {
			if t.ShouldStop() {
				return
			}
			continue
		}
		t.publish(TrafficGenPayload{DeviceID: sample.DeviceID}, sample.TimestampNs())
	}
}
