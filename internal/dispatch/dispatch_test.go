package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/pando-labs/pandocore/internal/dma"
)

type recordingPublisher struct {
	mu      sync.Mutex
	packets map[string][]Packet
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{packets: make(map[string][]Packet)}
}

func (p *recordingPublisher) Publish(topic string, pkt Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packets[topic] = append(p.packets[topic], pkt)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.packets[topic])
}

func waitForCount(t *testing.T, pub *recordingPublisher, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pub.count(topic) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("topic %q never reached %d packets (got %d)", topic, want, pub.count(topic))
}

func TestDigitalInPublishesOnEnqueue(t *testing.T) {
	pub := newRecordingPublisher()
	d := NewDigitalIn(pub)
	if _, err := d.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	d.Enqueue(&dma.Sample{Timestamp: 5, Digital: dma.DigitalInData{Direction: 1}})
	waitForCount(t, pub, "pandoboxd.digital_in", 1)

	pkt := pub.packets["pandoboxd.digital_in"][0]
	payload := pkt.Payload.(DigitalInPayload)
	if payload.Edge != RisingEdge {
		t.Errorf("Edge = %v, want RisingEdge", payload.Edge)
	}
	if pkt.Header.TimestampNs != 50 {
		t.Errorf("TimestampNs = %d, want 50", pkt.Header.TimestampNs)
	}
}

func TestHRMPublishesAnalogSample(t *testing.T) {
	pub := newRecordingPublisher()
	hrm := NewHRM(nil, pub)
	if _, err := hrm.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer hrm.Stop()

	hrm.Enqueue(&dma.Sample{Analog: dma.AnalogData{Value: 72}})
	waitForCount(t, pub, "pandoboxd.hrm", 1)

	payload := pub.packets["pandoboxd.hrm"][0].Payload.(AnalogPayload)
	if payload.Sample != 72 {
		t.Errorf("Sample = %d, want 72", payload.Sample)
	}
}

type fakeSource struct {
	batches [][]*dma.Sample
	idx     int
}

func (f *fakeSource) ConsumeSamples(consume func(samples []*dma.Sample), max, timeoutMs int) (int, error) {
	if f.idx >= len(f.batches) {
		return 0, nil
	}
	batch := f.batches[f.idx]
	f.idx++
	if len(batch) > 0 {
		consume(batch)
	}
	return len(batch), nil
}

func TestDispatcherRoutesByMagicAndDeviceID(t *testing.T) {
	pub := newRecordingPublisher()
	digitalIn := NewDigitalIn(pub)
	imu := NewImu(pub)
	pulseOx := NewPulseOx(nil, pub)
	hrm := NewHRM(nil, pub)
	respBelt := NewRespBelt(nil, pub)
	powerMeter := NewPowerMeter(nil, pub)
	trafficGen := NewTrafficGen(nil, pub)

	for _, p := range []interface {
		Start(int32) (SessionHandle, error)
		Stop()
	}{digitalIn, imu, pulseOx, hrm, respBelt, powerMeter, trafficGen} {
		if _, err := p.Start(1); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer p.Stop()
	}

	source := &fakeSource{batches: [][]*dma.Sample{
		{
			{Type: dma.MagicDigitalInput},
			{Type: dma.MagicImu},
			{Type: dma.MagicAnalogInput, DeviceID: uint16(dma.AdcHeartRate)},
			{Type: dma.MagicTrafficGen},
		},
		{},
	}}

	disp := New(source, nil, digitalIn, imu, pulseOx, hrm, respBelt, powerMeter, trafficGen)
	disp.Stop() // stop is checked after the batch that drains it returns 0
	if err := disp.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	waitForCount(t, pub, "pandoboxd.digital_in", 1)
	waitForCount(t, pub, "pandoboxd.imu", 1)
	waitForCount(t, pub, "pandoboxd.hrm", 1)
	waitForCount(t, pub, "pandoboxd.traffic_gen", 1)
	if pub.count("pandoboxd.pulse_ox") != 0 {
		t.Errorf("pulse_ox got a packet, want 0")
	}
}

func TestMockDigitalInProducesPPSPattern(t *testing.T) {
	pub := newRecordingPublisher()
	m := NewMockDigitalIn(pub)
	if _, err := m.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitForCount(t, pub, "pandoboxd.digital_in", 1)
	payload := pub.packets["pandoboxd.digital_in"][0].Payload.(DigitalInPayload)
	if payload.Edge != RisingEdge {
		t.Errorf("first mock edge = %v, want RisingEdge", payload.Edge)
	}
}
