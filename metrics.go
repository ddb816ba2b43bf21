package pandocore

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing — used for archive
// append latency (RecordAppend).
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks the operational counters a running acquisition session
// accumulates across its components: DMA sample throughput and
// overruns, decoder faults, archive append volume, and frame-handler
// stalls.
type Metrics struct {
	SamplesConsumed  atomic.Uint64
	SampleBytes      atomic.Uint64
	DMAOverruns      atomic.Uint64
	RingBufferFull   atomic.Uint64 // advance_write overrun count
	RingBufferEmpty  atomic.Uint64 // advance_read underflow count
	DecoderFaults    atomic.Uint64 // monotonicity/protocol faults
	RowsAppended     atomic.Uint64
	ChunkWrites      atomic.Uint64
	FramesHandled    atomic.Uint64
	FrameStalls      atomic.Uint64 // publish/log worker blocked

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSamplesConsumed records a batch of DMA samples pulled off the
// descriptor ring.
func (m *Metrics) RecordSamplesConsumed(count, bytes uint64) {
	m.SamplesConsumed.Add(count)
	m.SampleBytes.Add(bytes)
}

// RecordDMAOverrun records a scatter-gather internal-error overrun.
func (m *Metrics) RecordDMAOverrun() {
	m.DMAOverruns.Add(1)
}

// RecordRingFull records an SPSC ring advance_write overrun.
func (m *Metrics) RecordRingFull() {
	m.RingBufferFull.Add(1)
}

// RecordRingEmpty records an SPSC ring advance_read underflow.
func (m *Metrics) RecordRingEmpty() {
	m.RingBufferEmpty.Add(1)
}

// RecordDecoderFault records a tag-decoder monotonicity or protocol fault.
func (m *Metrics) RecordDecoderFault() {
	m.DecoderFaults.Add(1)
}

// RecordAppend records rows appended to an archive table, with the
// append's wall-clock latency for the histogram.
func (m *Metrics) RecordAppend(rows uint64, latencyNs uint64, directChunkWrite bool) {
	m.RowsAppended.Add(rows)
	if directChunkWrite {
		m.ChunkWrites.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFrame records a handled camera frame, and whether either sink
// (publisher or archive logger) stalled while handling it.
func (m *Metrics) RecordFrame(stalled bool) {
	m.FramesHandled.Add(1)
	if stalled {
		m.FrameStalls.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the session as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics plus derived rates.
type MetricsSnapshot struct {
	SamplesConsumed uint64
	SampleBytes     uint64
	DMAOverruns     uint64
	RingBufferFull  uint64
	RingBufferEmpty uint64
	DecoderFaults   uint64
	RowsAppended    uint64
	ChunkWrites     uint64
	FramesHandled   uint64
	FrameStalls     uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns     uint64
	LatencyP99Ns     uint64
	LatencyP999Ns    uint64
	LatencyHistogram [numLatencyBuckets]uint64

	SampleThroughputBps float64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SamplesConsumed: m.SamplesConsumed.Load(),
		SampleBytes:     m.SampleBytes.Load(),
		DMAOverruns:     m.DMAOverruns.Load(),
		RingBufferFull:  m.RingBufferFull.Load(),
		RingBufferEmpty: m.RingBufferEmpty.Load(),
		DecoderFaults:   m.DecoderFaults.Load(),
		RowsAppended:    m.RowsAppended.Load(),
		ChunkWrites:     m.ChunkWrites.Load(),
		FramesHandled:   m.FramesHandled.Load(),
		FrameStalls:     m.FrameStalls.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SampleThroughputBps = float64(snap.SampleBytes) / uptimeSeconds
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.SamplesConsumed.Store(0)
	m.SampleBytes.Store(0)
	m.DMAOverruns.Store(0)
	m.RingBufferFull.Store(0)
	m.RingBufferEmpty.Store(0)
	m.DecoderFaults.Store(0)
	m.RowsAppended.Store(0)
	m.ChunkWrites.Store(0)
	m.FramesHandled.Store(0)
	m.FrameStalls.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection across the session,
// mirroring the teacher's Observer/MetricsObserver split so a caller
// can swap in a zap-backed or no-op observer without touching core
// component code.
type Observer interface {
	ObserveSamplesConsumed(count, bytes uint64)
	ObserveDMAOverrun()
	ObserveRingFull()
	ObserveRingEmpty()
	ObserveDecoderFault()
	ObserveAppend(rows uint64, latencyNs uint64, directChunkWrite bool)
	ObserveFrame(stalled bool)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSamplesConsumed(uint64, uint64)        {}
func (NoOpObserver) ObserveDMAOverrun()                           {}
func (NoOpObserver) ObserveRingFull()                             {}
func (NoOpObserver) ObserveRingEmpty()                            {}
func (NoOpObserver) ObserveDecoderFault()                         {}
func (NoOpObserver) ObserveAppend(uint64, uint64, bool)           {}
func (NoOpObserver) ObserveFrame(bool)                            {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSamplesConsumed(count, bytes uint64) {
	o.metrics.RecordSamplesConsumed(count, bytes)
}
func (o *MetricsObserver) ObserveDMAOverrun()  { o.metrics.RecordDMAOverrun() }
func (o *MetricsObserver) ObserveRingFull()     { o.metrics.RecordRingFull() }
func (o *MetricsObserver) ObserveRingEmpty()    { o.metrics.RecordRingEmpty() }
func (o *MetricsObserver) ObserveDecoderFault() { o.metrics.RecordDecoderFault() }
func (o *MetricsObserver) ObserveAppend(rows uint64, latencyNs uint64, directChunkWrite bool) {
	o.metrics.RecordAppend(rows, latencyNs, directChunkWrite)
}
func (o *MetricsObserver) ObserveFrame(stalled bool) { o.metrics.RecordFrame(stalled) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
