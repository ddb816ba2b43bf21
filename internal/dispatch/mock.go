package dispatch

import (
	"context"
	"time"

	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/lifecycle"
)

// mockPeripheral is the shared shape of every mock peripheral: it
// never consumes the sample queue, instead generating synthetic
// packets on its own ticker, matching MockDigitalIn/MockImu/MockHRM's
// independent Run loops.
type mockPeripheral struct {
	name         string
	topic        string
	publisher    Publisher
	experimentID int32
	seqNum       uint64
	stop         *lifecycle.StopSignal
}

func newMockPeripheral(name, topic string, pub Publisher) mockPeripheral {
	return mockPeripheral{name: name, topic: topic, publisher: pub}
}

func (m *mockPeripheral) Configure(cfg *config.Config) error { return nil }

func (m *mockPeripheral) Stop() {
	if m.stop != nil {
		m.stop.StopAndWait()
	}
}

func (m *mockPeripheral) publish(payload any, timestampNs int64) error {
	m.seqNum++
	return m.publisher.Publish(m.topic, Packet{
		Header: Header{ExperimentID: m.experimentID, SequenceNumber: m.seqNum, TimestampNs: timestampNs},
		Payload: payload,
	})
}

func (m *mockPeripheral) launch(experimentID int32, run func()) (SessionHandle, error) {
	m.experimentID = experimentID
	m.seqNum = 0
	m.stop = lifecycle.NewStopSignal(context.Background())
	m.stop.Add(1)
	go func() {
		defer m.stop.WorkerDone()
		run()
	}()
	return SessionHandle{Name: m.name}, nil
}

// MockDigitalIn produces a synthetic PPS signal with T_high=10ms,
// grounded on mock_digital_in.cpp exactly (same 1s period, same
// 10ms/990ms rising/falling split).
type MockDigitalIn struct {
	mockPeripheral
}

// NewMockDigitalIn constructs the mock digital input peripheral.
func NewMockDigitalIn(pub Publisher) *MockDigitalIn {
	return &MockDigitalIn{mockPeripheral: newMockPeripheral("mock_digital_in", "pandoboxd.digital_in", pub)}
}

func (m *MockDigitalIn) Start(experimentID int32) (SessionHandle, error) {
	return m.launch(experimentID, m.run)
}

func (m *MockDigitalIn) run() {
	const nsPerMs = int64(time.Millisecond)
	timestampNs := int64(0)
	for {
		if m.stop.ShouldStop() {
			return
		}
		var edge DigitalEdge
		var sleep time.Duration
		if timestampNs%int64(time.Second) == 0 {
			edge = RisingEdge
			timestampNs += 10 * nsPerMs
			sleep = 10 * time.Millisecond
		} else {
			edge = FallingEdge
			timestampNs += 990 * nsPerMs
			sleep = 990 * time.Millisecond
		}
		m.publish(DigitalInPayload{DeviceID: 0, Edge: edge}, timestampNs)
		select {
		case <-time.After(sleep):
		case <-m.stop.Done():
			return
		}
	}
}

// MockImu produces synthetic IMU samples at a fixed rate, grounded on
// mock_imu.cpp's pattern of one Publish-then-sleep loop per tick.
type MockImu struct {
	mockPeripheral
	period time.Duration
}

// NewMockImu constructs the mock IMU peripheral, ticking at 100 Hz.
func NewMockImu(pub Publisher) *MockImu {
	return &MockImu{mockPeripheral: newMockPeripheral("mock_imu", "pandoboxd.imu", pub), period: 10 * time.Millisecond}
}

func (m *MockImu) Start(experimentID int32) (SessionHandle, error) {
	return m.launch(experimentID, m.run)
}

func (m *MockImu) run() {
	timestampNs := int64(0)
	for {
		if m.stop.ShouldStop() {
			return
		}
		m.publish(ImuPayload{}, timestampNs)
		timestampNs += m.period.Nanoseconds()
		select {
		case <-time.After(m.period):
		case <-m.stop.Done():
			return
		}
	}
}

// MockHRM produces a synthetic heart-rate-monitor waveform at 100 Hz,
// grounded on mock_hrm.cpp's fixed-rate sample generation.
type MockHRM struct {
	mockPeripheral
	period time.Duration
}

// NewMockHRM constructs the mock HRM peripheral.
func NewMockHRM(pub Publisher) *MockHRM {
	return &MockHRM{mockPeripheral: newMockPeripheral("mock_hrm", "pandoboxd.hrm", pub), period: 10 * time.Millisecond}
}

func (m *MockHRM) Start(experimentID int32) (SessionHandle, error) {
	return m.launch(experimentID, m.run)
}

func (m *MockHRM) run() {
	timestampNs := int64(0)
	sample := int16(0)
	for {
		if m.stop.ShouldStop() {
			return
		}
		m.publish(AnalogPayload{DeviceID: 0, Sample: sample}, timestampNs)
		sample++
		timestampNs += m.period.Nanoseconds()
		select {
		case <-time.After(m.period):
		case <-m.stop.Done():
			return
		}
	}
}
