package pandocore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/pando-labs/pandocore/internal/archive"
	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/decode"
	"github.com/pando-labs/pandocore/internal/dispatch"
	"github.com/pando-labs/pandocore/internal/frame"
	"github.com/pando-labs/pandocore/internal/lifecycle"
	"github.com/pando-labs/pandocore/internal/logging"
	"github.com/pando-labs/pandocore/internal/ring"
	"github.com/pando-labs/pandocore/internal/rolling"
	"github.com/pando-labs/pandocore/internal/sbox"
	"github.com/pando-labs/pandocore/internal/transcode"
	"github.com/pando-labs/pandocore/internal/transcode/messages"
	"github.com/pando-labs/pandocore/internal/window"
)

// tagRingSlots sizes the time-tag record ring between the tag producer
// and the window driver, the C1 role in the tag path (spec §2's "Time-
// tag FIFO/mock PTU file -> device-specific producer -> C1 -> C4").
const tagRingSlots = 8

// TagSource is the time-tag producer collaborator: a device FIFO
// reader or PTU-file replayer, external per spec's device-vendor-SDK
// Non-goal. It hands the session one already-decoded-boundary
// RecordBuffer at a time; NextRecordBuffer blocks up to timeout and
// reports ok=false on a timeout with nothing to deliver.
type TagSource interface {
	NextRecordBuffer(timeout time.Duration) (buf window.RecordBuffer, ok bool, err error)
}

// MeanImagePublisher is C6's optional sink: a publisher for the
// rolling-averaged mean image, distinct from frame.Publisher's raw
// per-frame image topic.
type MeanImagePublisher interface {
	PublishMeanImage(img []rolling.PixelValue, experimentID int32, sequenceNumber int64) error
}

// tagDriver type-erases the six possible window.Driver[D] instantiations
// (one per tagger Device) behind the operations Session actually calls.
// This works because Go interface satisfaction is structural:
// *window.Driver[D]'s method set never mentions D in a signature, so
// every instantiation already implements tagDriver without an adapter.
type tagDriver interface {
	UpdateRawData(beginBinIdx, endBinIdx uint64, dest *window.RawData) error
	Reset()
}

// Collaborators bundles every externally-injected dependency a Session
// needs: transports, vendor device sources, and already-opened hardware
// resources. Opening hardware (sbox.Open, dma.Open, uio.FindByName) is
// deliberately left to the caller rather than done inside NewSession, so
// a session can be constructed against mocks without touching /dev/uio*.
type Collaborators struct {
	// Publisher is the C3 peripheral-sample transport.
	Publisher dispatch.Publisher
	// FramePublisher is the C7 raw-frame/event transport.
	FramePublisher frame.Publisher
	// MeanImagePublisher is the C6 rolling-average sink. May be nil,
	// in which case rolling averages are archived but never published.
	MeanImagePublisher MeanImagePublisher

	// FrameSource drives the camera grab loop (C7). Required iff
	// cfg.Device is DeviceCamera or DeviceMockCamera.
	FrameSource frame.FrameSource

	// TagSource drives the time-tag producer. Required iff cfg.Device
	// names a time-tagger family.
	TagSource TagSource

	// SampleSource is the DMA engine's ConsumeSamples capability (C2),
	// satisfied directly by *dma.AxiDma. The C2/C3 peripheral pipeline
	// is wired as always-on orthogonal infrastructure whenever this is
	// non-nil, independent of which primary Device is selected, since
	// spec §1's instrument runs taggers/cameras and sample-box
	// peripherals concurrently.
	SampleSource dispatch.SampleSource

	// SampleBox is the opened FPGA register-bank aggregate (C3's
	// enable/sample-rate/trigger knobs). Required alongside
	// SampleSource, and also for DeviceCamera (it owns the two trigger
	// generators C7's grab loop arms).
	SampleBox *sbox.SampleBox
}

// Session orchestrates C1-C9 for one acquisition run: it owns the
// decoder/driver/dispatcher/grab-loop wiring selected by config.Config,
// the archive tables logging each stream, and the StopSignal-guarded
// worker goroutines spec §5 names.
type Session struct {
	cfg    *config.Config
	logger *logging.Logger
	collab Collaborators

	container *archive.Container

	dispatcher  *dispatch.Dispatcher
	digitalIn   *dispatch.DigitalIn
	imu         *dispatch.Imu
	pulseOx     *dispatch.AnalogPeripheral
	hrm         *dispatch.AnalogPeripheral
	respBelt    *dispatch.AnalogPeripheral
	powerMeter  *dispatch.AnalogPeripheral
	trafficGen  *dispatch.TrafficGen
	peripherals []dispatch.Peripheral
	sampleLog   *archive.ChannellessLogger

	tagRing       *ring.Ring[window.RecordBuffer]
	driver        tagDriver
	tagLog        *archive.ChannellessLogger
	tagColEncoder *transcode.ColTranscoder
	nextBinIdx    uint64

	cameraTrigger *dispatch.CameraFrameTrigger
	grabLoop      *frame.GrabLoop
	frameHandler  *frame.Handler
	averager      *rolling.Averager
	meanImageSeq  int64

	stop    *lifecycle.StopSignal
	monitor *lifecycle.ThreadMonitor
}

// NewSession validates cfg, opens the archive container at archiveDir,
// and wires every C1-C9 component cfg.Device selects. It does not start
// any goroutine; call Start for that.
func NewSession(cfg *config.Config, archiveDir string, logger *logging.Logger, collab Collaborators) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Device == config.DeviceHistogrammer {
		return nil, New("NewSession", "session", KindConfigMismatch,
			"the histogrammer device has no C4 decoder; only the six time-tagger record devices and the two camera devices are supported")
	}

	container, err := archive.Open(archiveDir)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		logger:    logger,
		collab:    collab,
		container: container,
		monitor:   lifecycle.Get(),
	}

	if err := s.wirePeripherals(); err != nil {
		return nil, err
	}

	switch cfg.Device {
	case config.DeviceCamera, config.DeviceMockCamera:
		if err := s.wireCamera(); err != nil {
			return nil, err
		}
	default:
		if err := s.wireTagger(); err != nil {
			return nil, err
		}
	}

	attrs := map[string]any{
		"device":              string(cfg.Device),
		"bin_size_ns":         cfg.BinSizeNs,
		"enabled_channels":    cfg.EnabledChannels,
		"laser_sync_period_ps": cfg.LaserSyncPeriodPs,
	}
	if err := archive.WriteMetadata(container, attrs); err != nil {
		return nil, err
	}

	return s, nil
}

// wirePeripherals constructs the always-on C2/C3 sample-box pipeline
// (dispatcher + one worker per peripheral kind) whenever a SampleSource
// collaborator is present, per spec §2's concurrent-subsystems model.
// When cfg.Logging.LogPeripheralData is set, every peripheral publishes
// through an archivingPublisher decorating the real collaborator so
// each sample is logged before being forwarded.
func (s *Session) wirePeripherals() error {
	if s.collab.SampleSource == nil {
		return nil
	}

	pub := s.collab.Publisher
	if s.cfg.Logging.LogPeripheralData {
		rt, err := transcode.NewRowTranscoder(fullSamplePacketPrototype(), nil)
		if err != nil {
			return err
		}
		logTable, err := archive.NewChannellessLogger(s.container, s.logger, "sample_box",
			archive.DType{Name: "sample_row", Size: rt.RowBytes()},
			archive.DType{Name: "sample_header", Size: 16}, 4096)
		if err != nil {
			return err
		}
		s.sampleLog = logTable
		pub = newArchivingPublisher(pub, logTable, rt, s.logger)
	}

	s.digitalIn = dispatch.NewDigitalIn(pub)
	s.imu = dispatch.NewImu(pub)

	sb := s.collab.SampleBox
	var ain [4]*sbox.AnalogBank
	var trgen *sbox.AnalogBank
	if sb != nil {
		ain = [4]*sbox.AnalogBank{&sb.Ain[0], &sb.Ain[1], &sb.Ain[2], &sb.Ain[3]}
		trgen = &sb.Trgen0
	}
	s.pulseOx = dispatch.NewPulseOx(ain[0], pub)
	s.hrm = dispatch.NewHRM(ain[1], pub)
	s.respBelt = dispatch.NewRespBelt(ain[2], pub)
	s.powerMeter = dispatch.NewPowerMeter(ain[3], pub)
	s.trafficGen = dispatch.NewTrafficGen(trgen, pub)

	s.peripherals = []dispatch.Peripheral{s.digitalIn, s.imu, s.pulseOx, s.hrm, s.respBelt, s.powerMeter, s.trafficGen}
	for _, p := range s.peripherals {
		if err := p.Configure(s.cfg); err != nil {
			return err
		}
	}

	s.dispatcher = dispatch.New(s.collab.SampleSource, s.logger, s.digitalIn, s.imu,
		s.pulseOx, s.hrm, s.respBelt, s.powerMeter, s.trafficGen)

	return nil
}

// fullSamplePacketPrototype returns a SamplePacket with non-empty
// imu_gyro/imu_accel arrays, so RowTranscoder can learn their 3-element
// width (the zero-valued prototype from the messages package has empty
// repeated fields, which NewRowTranscoder rejects).
func fullSamplePacketPrototype() proto.Message {
	msg := messages.NewSamplePacket()
	r := msg.ProtoReflect()
	fields := r.Descriptor().Fields()
	setI32List(r, fields.ByName("imu_gyro"), 0, 0, 0)
	setI32List(r, fields.ByName("imu_accel"), 0, 0, 0)
	return msg
}

// setI32List appends each of vals to fd's repeated field on r, the
// same protoreflect List-append idiom transcode_test.go's setList
// helper uses.
func setI32List(r protoreflect.Message, fd protoreflect.FieldDescriptor, vals ...int32) {
	list := r.Mutable(fd).List()
	for _, v := range vals {
		list.Append(protoreflect.ValueOfInt32(v))
	}
}

// wireCamera constructs the C7 grab loop, its C8 frame archiver, and
// (when cfg.Camera.RollingWindowSize is nonzero) the C6 rolling
// averager decorating that archiver, per spec §4.6/§4.7.
func (s *Session) wireCamera() error {
	if s.collab.FrameSource == nil {
		return New("wireCamera", "session", KindConfigMismatch, "camera device selected but no FrameSource collaborator was provided")
	}
	if s.collab.SampleBox == nil {
		return New("wireCamera", "session", KindConfigMismatch, "camera device selected but no SampleBox collaborator was provided (needed for the frame trigger generators)")
	}

	s.cameraTrigger = dispatch.NewCameraFrameTrigger(s.collab.SampleBox.Trig)
	if err := s.cameraTrigger.Configure(s.cfg); err != nil {
		return err
	}

	var archiver frame.Archiver
	if s.cfg.Logging.LogRawData {
		fa, err := newFrameArchiver(s.container, s.logger, s.cfg)
		if err != nil {
			return err
		}
		archiver = fa
		if s.cfg.Camera.RollingWindowSize > 0 {
			nPixels := s.cfg.Camera.ROI.W * s.cfg.Camera.ROI.H
			s.averager = rolling.New(nPixels)
			archiver = &rollingArchiver{inner: fa, averager: s.averager, windowSize: s.cfg.Camera.RollingWindowSize, publish: s.publishMeanImage}
		}
	} else if s.cfg.Camera.RollingWindowSize > 0 {
		nPixels := s.cfg.Camera.ROI.W * s.cfg.Camera.ROI.H
		s.averager = rolling.New(nPixels)
		archiver = &rollingArchiver{inner: nil, averager: s.averager, windowSize: s.cfg.Camera.RollingWindowSize, publish: s.publishMeanImage}
	}

	s.frameHandler = frame.NewHandler(s.collab.FramePublisher, archiver, s.logger, 0, s.cfg.Logging.PublishRawData)

	framePeriod := time.Duration(s.cfg.Camera.FrameTriggerPeriod10ns) * 10 * time.Nanosecond
	s.grabLoop = frame.NewGrabLoop(s.collab.FrameSource, s.frameHandler, frame.DefaultGrabLoopConfig(framePeriod))
	return nil
}

// publishMeanImage forwards a rolling average to the optional
// MeanImagePublisher collaborator, numbering each image with its own
// sequence counter distinct from the raw-frame sequence.
func (s *Session) publishMeanImage(img []rolling.PixelValue, experimentID int32) error {
	if s.collab.MeanImagePublisher == nil {
		return nil
	}
	seq := s.meanImageSeq
	s.meanImageSeq++
	return s.collab.MeanImagePublisher.PublishMeanImage(img, experimentID, seq)
}

// wireTagger selects the C4 decoder and constructs the C1 ring / C5
// driver pair for cfg.Device, plus (when cfg.Logging.LogRawData) the
// C9-serialized C8 archive logger for completed windows.
func (s *Session) wireTagger() error {
	if s.collab.TagSource == nil {
		return New("wireTagger", "session", KindConfigMismatch, "a time-tagger device was selected but no TagSource collaborator was provided")
	}

	s.tagRing = ring.New[window.RecordBuffer](tagRingSlots)

	switch s.cfg.Device {
	case config.DeviceHydraT2:
		s.driver = window.NewDriver(s.tagRing, decode.NewHydraT2(), s.cfg.BinSizeNs)
	case config.DeviceHydraT3:
		s.driver = window.NewDriver(s.tagRing, decode.NewHydraT3(s.cfg.LaserSyncPeriodPs), s.cfg.BinSizeNs)
	case config.DeviceMultiT2:
		s.driver = window.NewDriver(s.tagRing, decode.NewMultiT2(s.cfg.MultiHarpPicosecondsPerTick), s.cfg.BinSizeNs)
	case config.DeviceMultiT3:
		s.driver = window.NewDriver(s.tagRing, decode.NewMultiT3(s.cfg.LaserSyncPeriodPs, s.cfg.MultiHarpPicosecondsPerTick), s.cfg.BinSizeNs)
	case config.DevicePicoT2:
		s.driver = window.NewDriver(s.tagRing, decode.NewPicoT2(), s.cfg.BinSizeNs)
	case config.DevicePicoT3:
		s.driver = window.NewDriver(s.tagRing, decode.NewPicoT3(s.cfg.LaserSyncPeriodPs), s.cfg.BinSizeNs)
	default:
		return New("wireTagger", "session", KindConfigMismatch, fmt.Sprintf("unhandled tagger device %q", s.cfg.Device))
	}

	if s.cfg.Logging.LogRawData {
		ct, err := transcode.NewColTranscoder(messages.NewTimeTagPacket(), nil)
		if err != nil {
			return err
		}
		s.tagColEncoder = ct
		logTable, err := archive.NewChannellessLogger(s.container, s.logger, "time_tags",
			archive.DType{Name: "time_tag_row", Size: ct.RowBytes()},
			archive.DType{Name: "time_tag_header", Size: 16}, 4096)
		if err != nil {
			return err
		}
		s.tagLog = logTable
	}

	return nil
}

// Start configures and arms every wired collaborator, then launches the
// worker goroutines spec §5 names, each guarded by the process-wide
// ThreadMonitor so a panic in one stream doesn't take the others down.
func (s *Session) Start(ctx context.Context, experimentID int32) error {
	s.stop = lifecycle.NewStopSignal(ctx)

	if s.collab.SampleBox != nil {
		s.collab.SampleBox.SetRun(true)
	}

	for _, p := range s.peripherals {
		// DigitalIn and Imu's own Start doesn't call SetEnabler the
		// way the analog/traffic-gen peripherals do, so their hardware
		// enable bit is armed explicitly here.
		switch typed := p.(type) {
		case *dispatch.DigitalIn:
			if s.collab.SampleBox != nil {
				typed.SetEnabler(s.collab.SampleBox.DigIn0)
			}
		case *dispatch.Imu:
			if s.collab.SampleBox != nil {
				typed.SetEnabler(s.collab.SampleBox.Imu0)
			}
		}
		if _, err := p.Start(experimentID); err != nil {
			return err
		}
	}

	if s.dispatcher != nil {
		s.stop.Add(1)
		go func() {
			defer s.stop.WorkerDone()
			s.monitor.Guard("dispatcher", func() {
				if err := s.dispatcher.Run(); err != nil && s.logger != nil {
					s.logger.Errorf("session: dispatcher exited: %v", err)
				}
			})
		}()
	}

	switch s.cfg.Device {
	case config.DeviceCamera, config.DeviceMockCamera:
		return s.startCamera(experimentID)
	default:
		return s.startTagger(experimentID)
	}
}

func (s *Session) startCamera(experimentID int32) error {
	if _, err := s.cameraTrigger.Start(experimentID); err != nil {
		return err
	}
	if err := s.grabLoop.PreArmCheck(); err != nil {
		return err
	}

	s.stop.Add(1)
	go func() {
		defer s.stop.WorkerDone()
		s.monitor.Guard("grab_loop", func() {
			if err := s.grabLoop.Run(s.stop.Context()); err != nil && s.logger != nil {
				s.logger.Errorf("session: grab loop exited: %v", err)
			}
		})
	}()
	return nil
}

func (s *Session) startTagger(experimentID int32) error {
	s.stop.Add(2)
	go func() {
		defer s.stop.WorkerDone()
		s.monitor.Guard("tag_producer", func() { s.runTagProducer() })
	}()
	go func() {
		defer s.stop.WorkerDone()
		s.monitor.Guard("tag_consumer", func() { s.runTagConsumer(experimentID) })
	}()
	return nil
}

// tagProducerPollPeriod is how long NextRecordBuffer may block before
// the producer re-checks the stop signal, matching spec §5's "suspend
// at every I/O point, re-check stop on return" shape.
const tagProducerPollPeriod = 50 * time.Millisecond

// runTagProducer pulls record buffers from the TagSource collaborator
// and hands them to the C1 ring, dropping (with a warning) on overrun
// rather than blocking the producer, the same policy dispatch.Base.
// Enqueue applies to an overfull peripheral queue.
func (s *Session) runTagProducer() {
	for {
		select {
		case <-s.stop.Done():
			return
		default:
		}

		buf, ok, err := s.collab.TagSource.NextRecordBuffer(tagProducerPollPeriod)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("session: tag source error: %v", err)
			}
			return
		}
		if !ok {
			continue
		}

		slot := s.tagRing.MaybeAdvanceWrite()
		if slot == nil {
			if s.logger != nil {
				s.logger.Warnf("session: tag ring overrun, dropping a record buffer of occupancy %d", buf.Occupancy)
			}
			continue
		}
		*slot = buf
	}
}

// runTagConsumer drains completed bin windows from the window driver
// one bin at a time and, when raw-data logging is enabled, archives
// each window as a serialized TimeTagPacket run. A KindStall error from
// UpdateRawData (the driver's own internal retry budget exhausted) is
// logged and retried rather than treated as fatal, since the tag
// producer may simply be lagging momentarily.
func (s *Session) runTagConsumer(experimentID int32) {
	rawData := window.NewRawData(s.cfg.EnabledChannels, nil)

	var seq int64
	for {
		select {
		case <-s.stop.Done():
			return
		default:
		}

		begin := s.nextBinIdx
		end := begin + 1
		err := s.driver.UpdateRawData(begin, end, rawData)
		if err != nil {
			if IsKind(err, KindStall) {
				if s.logger != nil {
					s.logger.Warnf("session: window driver stalled on bin %d, retrying: %v", begin, err)
				}
				continue
			}
			if s.logger != nil {
				s.logger.Errorf("session: window driver error: %v", err)
			}
			return
		}
		s.nextBinIdx = end

		if s.tagLog != nil {
			if err := s.archiveTagWindow(rawData, begin, end, seq); err != nil {
				if s.logger != nil {
					s.logger.Errorf("session: failed to archive time-tag window %d: %v", begin, err)
				}
			}
		}
		seq++
	}
}

// archiveTagWindow builds one TimeTagPacket from rawData's channel and
// marker vectors (channels in sorted order; markers encoded with
// micro_time_ps forced to 0, since marker streams carry no micro-time)
// and logs it via the ChannellessLogger, with a 16-byte little-endian
// (beginBinIdx, endBinIdx) header row.
func (s *Session) archiveTagWindow(rawData *window.RawData, beginBinIdx, endBinIdx uint64, sequenceNumber int64) error {
	msg := messages.NewTimeTagPacket()
	r := msg.ProtoReflect()
	fields := r.Descriptor().Fields()
	macroFd := fields.ByName("macro_time_ps")
	microFd := fields.ByName("micro_time_ps")
	channelFd := fields.ByName("channel")

	macroList := r.Mutable(macroFd).List()
	microList := r.Mutable(microFd).List()
	channelList := r.Mutable(channelFd).List()

	var channels []int
	for ch := range rawData.Timestamps {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	for _, ch := range channels {
		ct := rawData.Timestamps[ch]
		macros := ct.MacroTimes()
		micros := ct.MicroTimes()
		for i := range macros {
			macroList.Append(protoreflect.ValueOfUint64(macros[i]))
			microList.Append(protoreflect.ValueOfUint64(micros[i]))
			channelList.Append(protoreflect.ValueOfInt32(int32(ch)))
		}
	}

	var markerChannels []int
	for ch := range rawData.MarkerTimestamps {
		markerChannels = append(markerChannels, ch)
	}
	sort.Ints(markerChannels)
	for _, ch := range markerChannels {
		ct := rawData.MarkerTimestamps[ch]
		for _, macro := range ct.MacroTimes() {
			macroList.Append(protoreflect.ValueOfUint64(macro))
			microList.Append(protoreflect.ValueOfUint64(0))
			channelList.Append(protoreflect.ValueOfInt32(int32(ch)))
		}
	}

	if macroList.Len() == 0 {
		return nil
	}

	dataRow, err := s.tagColEncoder.Serialize(msg)
	if err != nil {
		return err
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint64(header[0:8], beginBinIdx)
	binary.LittleEndian.PutUint64(header[8:16], endBinIdx)

	return s.tagLog.LogPacket(header, dataRow)
}

// Stop signals every worker goroutine to exit, waits for them to drain,
// disables hardware enable bits, and closes archive resources, matching
// spec §5's stop -> drain -> join shutdown order.
func (s *Session) Stop() error {
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	for _, p := range s.peripherals {
		p.Stop()
	}
	if s.cameraTrigger != nil {
		s.cameraTrigger.Stop()
	}
	if s.stop != nil {
		s.stop.StopAndWait()
	}
	if s.frameHandler != nil {
		s.frameHandler.Close()
	}
	if s.collab.SampleBox != nil {
		s.collab.SampleBox.SetRun(false)
	}

	var firstErr error
	for _, l := range []interface{ Close() error }{s.sampleLog, s.tagLog} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Wait blocks until every worker goroutine Start launched has exited.
// Stop must have been called first, or Wait blocks forever.
func (s *Session) Wait() {
	if s.stop != nil {
		s.stop.Wait()
	}
}

// archivingPublisher decorates a dispatch.Publisher, logging every
// packet's payload as one SamplePacket row (per spec's Sample Record
// data-model entity: one fixed-width tagged-union row schema across
// every C3 peripheral type, zero-filling whichever union arm doesn't
// apply) before forwarding the packet unchanged to the wrapped
// publisher.
type archivingPublisher struct {
	inner  dispatch.Publisher
	log    *archive.ChannellessLogger
	rt     *transcode.RowTranscoder
	logger *logging.Logger
}

func newArchivingPublisher(inner dispatch.Publisher, log *archive.ChannellessLogger, rt *transcode.RowTranscoder, logger *logging.Logger) *archivingPublisher {
	return &archivingPublisher{inner: inner, log: log, rt: rt, logger: logger}
}

func (p *archivingPublisher) Publish(topic string, packet dispatch.Packet) error {
	if err := p.archive(packet); err != nil && p.logger != nil {
		p.logger.Warnf("session: failed to archive sample packet on topic %q: %v", topic, err)
	}
	if p.inner == nil {
		return nil
	}
	return p.inner.Publish(topic, packet)
}

func (p *archivingPublisher) archive(packet dispatch.Packet) error {
	msg := messages.NewSamplePacket()
	r := msg.ProtoReflect()
	fields := r.Descriptor().Fields()
	gyroFd := fields.ByName("imu_gyro")
	accelFd := fields.ByName("imu_accel")

	r.Set(fields.ByName("timestamp_ticks_10ns"), protoreflect.ValueOfUint64(uint64(packet.Header.TimestampNs/10)))

	switch payload := packet.Payload.(type) {
	case dispatch.DigitalInPayload:
		r.Set(fields.ByName("device_id"), protoreflect.ValueOfUint32(uint32(payload.DeviceID)))
		r.Set(fields.ByName("sample_type"), protoreflect.ValueOfEnum(0))
		if payload.Edge == dispatch.RisingEdge {
			r.Set(fields.ByName("digital_direction"), protoreflect.ValueOfUint32(1))
		}
		setI32List(r, gyroFd, 0, 0, 0)
		setI32List(r, accelFd, 0, 0, 0)
	case dispatch.ImuPayload:
		r.Set(fields.ByName("sample_type"), protoreflect.ValueOfEnum(1))
		setI32List(r, gyroFd, int32(payload.GyroX), int32(payload.GyroY), int32(payload.GyroZ))
		setI32List(r, accelFd, int32(payload.AccelX), int32(payload.AccelY), int32(payload.AccelZ))
	case dispatch.AnalogPayload:
		r.Set(fields.ByName("device_id"), protoreflect.ValueOfUint32(uint32(payload.DeviceID)))
		r.Set(fields.ByName("sample_type"), protoreflect.ValueOfEnum(2))
		r.Set(fields.ByName("analog_value"), protoreflect.ValueOfUint32(uint32(uint16(payload.Sample))))
		setI32List(r, gyroFd, 0, 0, 0)
		setI32List(r, accelFd, 0, 0, 0)
	case dispatch.TrafficGenPayload:
		r.Set(fields.ByName("device_id"), protoreflect.ValueOfUint32(uint32(payload.DeviceID)))
		r.Set(fields.ByName("sample_type"), protoreflect.ValueOfEnum(3))
		setI32List(r, gyroFd, 0, 0, 0)
		setI32List(r, accelFd, 0, 0, 0)
	default:
		return New("archive", "session", KindSchemaMismatch, fmt.Sprintf("unrecognized sample payload type %T", packet.Payload))
	}

	row, err := p.rt.Serialize(msg)
	if err != nil {
		return err
	}
	header := make([]byte, 16)
	binary.LittleEndian.PutUint64(header[0:8], packet.Header.SequenceNumber)
	binary.LittleEndian.PutUint64(header[8:16], uint64(int64(packet.Header.TimestampNs)))
	return p.log.LogPacket(header, row)
}

// frameArchiver is the real C8 writer for camera frames: it serializes
// a CameraFramePacket metadata row alongside the raw frame bytes via a
// single ChannellessLogger (spec §4.8.3), grounded on how C8's three
// logging shapes map onto "one row per packet in a 1D dataset".
type frameArchiver struct {
	log *archive.ChannellessLogger
	rt  *transcode.RowTranscoder
	cfg *config.Config
}

func newFrameArchiver(c *archive.Container, logger *logging.Logger, cfg *config.Config) (*frameArchiver, error) {
	prototype := messages.NewCameraFramePacket()
	r := prototype.ProtoReflect()
	setI32List(r, r.Descriptor().Fields().ByName("roi"), 0, 0, 0, 0)

	rt, err := transcode.NewRowTranscoder(prototype, nil)
	if err != nil {
		return nil, err
	}

	nPixels := cfg.Camera.ROI.W * cfg.Camera.ROI.H
	log, err := archive.NewChannellessLogger(c, logger, "camera_frames",
		archive.DType{Name: "frame_pixels", Size: nPixels},
		archive.DType{Name: "frame_header", Size: rt.RowBytes()}, 64)
	if err != nil {
		return nil, err
	}
	return &frameArchiver{log: log, rt: rt, cfg: cfg}, nil
}

// LogFrame implements frame.Archiver.
func (a *frameArchiver) LogFrame(f frame.Frame, sequenceNumber int64) error {
	msg := messages.NewCameraFramePacket()
	r := msg.ProtoReflect()
	fields := r.Descriptor().Fields()
	r.Set(fields.ByName("sequence_number"), protoreflect.ValueOfInt64(sequenceNumber))
	r.Set(fields.ByName("timestamp_ns"), protoreflect.ValueOfInt64(f.TimestampNs))
	r.Set(fields.ByName("exposure_us"), protoreflect.ValueOfInt32(int32(a.cfg.Camera.ExposureUs)))
	r.Set(fields.ByName("width"), protoreflect.ValueOfInt32(int32(a.cfg.Camera.ROI.W)))
	r.Set(fields.ByName("height"), protoreflect.ValueOfInt32(int32(a.cfg.Camera.ROI.H)))
	roi := a.cfg.Camera.ROI
	setI32List(r, fields.ByName("roi"), int32(roi.X), int32(roi.Y), int32(roi.W), int32(roi.H))

	headerRow, err := a.rt.Serialize(msg)
	if err != nil {
		return err
	}
	return a.log.LogPacket(headerRow, f.Data)
}

// rollingArchiver decorates a (possibly nil) frame.Archiver, computing
// the C6 rolling average on every frame's pixel bytes and forwarding it
// to MeanImagePublisher, since frame.GrabLoop.Run offers no per-frame
// extension point beyond the Archiver it was constructed with.
type rollingArchiver struct {
	inner      frame.Archiver
	averager   *rolling.Averager
	windowSize uint16
	publish    func(img []rolling.PixelValue, experimentID int32) error
}

// LogFrame implements frame.Archiver.
func (a *rollingArchiver) LogFrame(f frame.Frame, sequenceNumber int64) error {
	avg, err := a.averager.Update(f.Data, a.windowSize)
	if err != nil {
		return err
	}
	if err := a.publish(avg, 0); err != nil {
		return err
	}
	if a.inner != nil {
		return a.inner.LogFrame(f, sequenceNumber)
	}
	return nil
}
