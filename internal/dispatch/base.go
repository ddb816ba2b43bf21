package dispatch

import (
	"context"
	"time"

	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/dma"
	"github.com/pando-labs/pandocore/internal/lifecycle"
)

// Header is the common packet header every peripheral populates
// before publishing, mirroring proto::Packet's header field.
type Header struct {
	ExperimentID   int32
	SequenceNumber uint64
	TimestampNs    int64
}

// Packet is the unit handed to a Publisher: a header plus a
// peripheral-specific payload.
type Packet struct {
	Header  Header
	Payload any
}

// Publisher hands a packet to the pub/sub transport on a named topic.
// The transport itself is an external collaborator per spec's
// Non-goals; this interface is its whole surface from pandocore's
// point of view, mirroring how PeripheralBase::Publish only ever
// called into a Proxy the class didn't own.
type Publisher interface {
	Publish(topic string, packet Packet) error
}

// SessionHandle is the opaque per-peripheral running-session marker
// returned by Start, mirroring the original's PeripheralSessionHandle
// (a RAII guard that calls Disable on destruction); here it is
// informational only, since Stop is what actually tears the session
// down.
type SessionHandle struct {
	Name string
}

// Peripheral is the capability every C3 peripheral worker implements,
// mirroring PeripheralBase's uniform Configure/Start/Enqueue surface
// that pandoboxd.cpp's construction loop and SamplePandoBox dispatch
// switch both depend on.
type Peripheral interface {
	Configure(cfg *config.Config) error
	Start(experimentID int32) (SessionHandle, error)
	Stop()
	Enqueue(sample *dma.Sample)
}

// Base is the shared machinery every concrete peripheral embeds:
// a bounded sample queue, a cooperative stop signal, sequence-number
// bookkeeping, and the dequeue-with-timeout loop shape
// PeripheralBase::Run repeats for every peripheral. Grounded on
// digital_in.cpp/hrm.cpp's identical Run bodies and on the teacher's
// queue.Runner ctx/cancel worker pattern (here via
// internal/lifecycle.StopSignal).
type Base struct {
	name      string
	topic     string
	publisher Publisher

	queue chan *dma.Sample

	experimentID int32
	seqNum       uint64
	stop         *lifecycle.StopSignal

	enable enabler
}

// enabler is the common Enable/Mock register bit pando_box_interface.h
// exposes per peripheral (Set*Enabled). Satisfied by
// internal/sbox.AnalogBank and the plain peripheral register banks;
// left nil in tests that don't wire real hardware.
type enabler interface {
	SetEnabled(bool)
}

// SetEnabler attaches the peripheral's hardware enable bit, toggled by
// start/Stop, mirroring PeripheralBase's Enable()/Disable() calls in
// Pandoboxd::Start/Stop.
func (b *Base) SetEnabler(e enabler) {
	b.enable = e
}

// queueDepth bounds the per-peripheral sample queue. Samples enqueued
// past this depth are dropped rather than blocking the dispatcher's
// consumer thread, since a stalled peripheral worker must never stall
// sample dispatch for the other peripherals.
const queueDepth = 4096

func newBase(name, topic string, pub Publisher) *Base {
	return &Base{
		name:      name,
		topic:     topic,
		publisher: pub,
		queue:     make(chan *dma.Sample, queueDepth),
	}
}

// Enqueue queues a sample for the peripheral's worker goroutine,
// dropping it if the queue is full.
func (b *Base) Enqueue(sample *dma.Sample) {
	select {
	case b.queue <- sample:
	default:
	}
}

// dequeue waits up to waitMs for a sample, returning nil on timeout —
// the Go equivalent of PeripheralBase::Dequeue(1).
func (b *Base) dequeue(waitMs int) *dma.Sample {
	timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case s := <-b.queue:
		return s
	case <-timer.C:
		return nil
	}
}

// ShouldStop reports whether the peripheral's run loop should exit:
// the stop signal has fired. Combined by callers with "last dequeue
// returned nil", matching the original's `if (!sample) { if
// (run_stop_signal_.ShouldStop()) break; }`.
func (b *Base) ShouldStop() bool {
	return b.stop != nil && b.stop.ShouldStop()
}

// start launches run in its own goroutine under a fresh stop signal
// and returns the peripheral's session handle, mirroring
// common::ThreadContainer's construction in Pandoboxd::Start.
func (b *Base) start(experimentID int32, run func()) (SessionHandle, error) {
	b.experimentID = experimentID
	b.seqNum = 0
	if b.enable != nil {
		b.enable.SetEnabled(true)
	}
	b.stop = lifecycle.NewStopSignal(context.Background())
	b.stop.Add(1)
	go func() {
		defer b.stop.WorkerDone()
		run()
	}()
	return SessionHandle{Name: b.name}, nil
}

// Stop disables the hardware enable bit (if any), signals the run
// loop to exit, and waits for it to drain.
func (b *Base) Stop() {
	if b.enable != nil {
		b.enable.SetEnabled(false)
	}
	if b.stop != nil {
		b.stop.StopAndWait()
	}
}

// publish builds the packet header for the next sequence number and
// hands the payload to the publisher on the peripheral's topic.
func (b *Base) publish(payload any, timestampNs int64) error {
	b.seqNum++
	pkt := Packet{
		Header: Header{
			ExperimentID:   b.experimentID,
			SequenceNumber: b.seqNum,
			TimestampNs:    timestampNs,
		},
		Payload: payload,
	}
	return b.publisher.Publish(b.topic, pkt)
}
