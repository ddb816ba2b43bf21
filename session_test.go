package pandocore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/pando-labs/pandocore/internal/archive"
	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/dispatch"
	"github.com/pando-labs/pandocore/internal/dma"
	"github.com/pando-labs/pandocore/internal/frame"
	"github.com/pando-labs/pandocore/internal/logging"
	"github.com/pando-labs/pandocore/internal/rolling"
	"github.com/pando-labs/pandocore/internal/transcode"
	"github.com/pando-labs/pandocore/internal/transcode/messages"
	"github.com/pando-labs/pandocore/internal/window"
)

// fakeSampleSource never returns a sample; it exists only so
// Collaborators.SampleSource is non-nil and wirePeripherals builds the
// C2/C3 pipeline.
type fakeSampleSource struct{}

func (fakeSampleSource) ConsumeSamples(consume func(samples []*dma.Sample), max int, timeoutMs int) (int, error) {
	return 0, nil
}

type fakeTagSource struct{}

func (fakeTagSource) NextRecordBuffer(timeout time.Duration) (window.RecordBuffer, bool, error) {
	return window.RecordBuffer{}, false, nil
}

type fakeFrameSource struct{}

func (fakeFrameSource) NextFrame(timeout time.Duration) (frame.Frame, bool, error) {
	return frame.Frame{}, false, nil
}

func (fakeFrameSource) MissedTrigger() bool { return false }

func (fakeFrameSource) TriggerPulseCount() (uint64, error) { return 0, nil }

func taggerConfig() *config.Config {
	return &config.Config{
		Device:            config.DeviceHydraT2,
		BinSizeNs:         100,
		EnabledChannels:   []int{0, 1},
		LaserSyncPeriodPs: 12500,
	}
}

func cameraConfig() *config.Config {
	return &config.Config{
		Device: config.DeviceCamera,
		Camera: config.CameraConfig{
			ExposureUs:             1000,
			FrameTriggerPeriod10ns: 100000,
			ROI:                    config.ROI{X: 0, Y: 0, W: 4, H: 4},
		},
	}
}

func TestNewSessionRejectsInvalidDevice(t *testing.T) {
	cfg := &config.Config{Device: "not_a_device"}
	_, err := NewSession(cfg, t.TempDir(), nil, Collaborators{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigMismatch))
}

func TestNewSessionRejectsHistogrammer(t *testing.T) {
	cfg := &config.Config{Device: config.DeviceHistogrammer, BinSizeNs: 1, EnabledChannels: []int{0}}
	_, err := NewSession(cfg, t.TempDir(), nil, Collaborators{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigMismatch))
}

func TestNewSessionRequiresTagSourceForTaggerDevice(t *testing.T) {
	_, err := NewSession(taggerConfig(), t.TempDir(), nil, Collaborators{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigMismatch))
}

func TestNewSessionWiresTaggerDriverAndArchive(t *testing.T) {
	cfg := taggerConfig()
	cfg.Logging.LogRawData = true
	cfg.Logging.OutputDir = t.TempDir()

	s, err := NewSession(cfg, cfg.Logging.OutputDir, logging.NewLogger(logging.DefaultConfig()), Collaborators{TagSource: fakeTagSource{}})
	require.NoError(t, err)
	assert.NotNil(t, s.driver)
	assert.NotNil(t, s.tagLog)
	assert.NotNil(t, s.tagColEncoder)
	assert.Nil(t, s.grabLoop)
}

func TestNewSessionRequiresFrameSourceForCameraDevice(t *testing.T) {
	_, err := NewSession(cameraConfig(), t.TempDir(), nil, Collaborators{SampleBox: nil})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigMismatch))
}

func TestNewSessionRequiresSampleBoxForCameraDevice(t *testing.T) {
	_, err := NewSession(cameraConfig(), t.TempDir(), nil, Collaborators{FrameSource: fakeFrameSource{}})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigMismatch))
}

func TestNewSessionWiresSamplePipelineWhenSampleSourcePresent(t *testing.T) {
	cfg := taggerConfig()
	s, err := NewSession(cfg, t.TempDir(), nil, Collaborators{TagSource: fakeTagSource{}, SampleSource: fakeSampleSource{}})
	require.NoError(t, err)
	assert.NotNil(t, s.dispatcher)
	assert.Len(t, s.peripherals, 7)
}

func TestNewSessionSkipsSamplePipelineWhenNoSampleSource(t *testing.T) {
	cfg := taggerConfig()
	s, err := NewSession(cfg, t.TempDir(), nil, Collaborators{TagSource: fakeTagSource{}})
	require.NoError(t, err)
	assert.Nil(t, s.dispatcher)
	assert.Empty(t, s.peripherals)
}

// --- archivingPublisher ---

type recordingPublisher struct {
	topics []string
}

func (p *recordingPublisher) Publish(topic string, packet dispatch.Packet) error {
	p.topics = append(p.topics, topic)
	return nil
}

func newTestArchivingPublisher(t *testing.T) (*archivingPublisher, *recordingPublisher) {
	t.Helper()
	rt, err := transcode.NewRowTranscoder(fullSamplePacketPrototype(), nil)
	require.NoError(t, err)

	c, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	logTable, err := archive.NewChannellessLogger(c, nil, "sample_box",
		archive.DType{Name: "sample_row", Size: rt.RowBytes()},
		archive.DType{Name: "sample_header", Size: 16}, 64)
	require.NoError(t, err)

	inner := &recordingPublisher{}
	return newArchivingPublisher(inner, logTable, rt, nil), inner
}

func TestArchivingPublisherForwardsToInner(t *testing.T) {
	pub, inner := newTestArchivingPublisher(t)
	err := pub.Publish("pandoboxd.digital_in", dispatch.Packet{
		Payload: dispatch.DigitalInPayload{DeviceID: 3, Edge: dispatch.RisingEdge},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pandoboxd.digital_in"}, inner.topics)
}

func TestArchivingPublisherArchivesImuPayload(t *testing.T) {
	pub, _ := newTestArchivingPublisher(t)
	err := pub.Publish("pandoboxd.imu", dispatch.Packet{
		Payload: dispatch.ImuPayload{GyroX: 1, GyroY: 2, GyroZ: 3, AccelX: 4, AccelY: 5, AccelZ: 6},
	})
	require.NoError(t, err)
}

func TestArchivingPublisherRejectsUnrecognizedPayload(t *testing.T) {
	pub, _ := newTestArchivingPublisher(t)
	err := pub.archive(dispatch.Packet{Payload: "not a known payload"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSchemaMismatch))
}

func TestArchivingPublisherToleratesNilInner(t *testing.T) {
	rt, err := transcode.NewRowTranscoder(fullSamplePacketPrototype(), nil)
	require.NoError(t, err)
	c, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	logTable, err := archive.NewChannellessLogger(c, nil, "sample_box",
		archive.DType{Name: "sample_row", Size: rt.RowBytes()},
		archive.DType{Name: "sample_header", Size: 16}, 64)
	require.NoError(t, err)

	pub := newArchivingPublisher(nil, logTable, rt, nil)
	err = pub.Publish("pandoboxd.digital_in", dispatch.Packet{Payload: dispatch.DigitalInPayload{}})
	assert.NoError(t, err)
}

// --- frameArchiver / rollingArchiver ---

func testFrameArchiver(t *testing.T) *frameArchiver {
	t.Helper()
	c, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	cfg := cameraConfig()
	fa, err := newFrameArchiver(c, nil, cfg)
	require.NoError(t, err)
	return fa
}

func TestFrameArchiverLogsFrameRow(t *testing.T) {
	fa := testFrameArchiver(t)
	err := fa.LogFrame(frame.Frame{Data: make([]byte, 16), TimestampNs: 42}, 1)
	require.NoError(t, err)
}

type recordingArchiver struct {
	frames []frame.Frame
}

func (a *recordingArchiver) LogFrame(f frame.Frame, sequenceNumber int64) error {
	a.frames = append(a.frames, f)
	return nil
}

func TestRollingArchiverForwardsToInnerAfterAveraging(t *testing.T) {
	inner := &recordingArchiver{}
	var published [][]rolling.PixelValue
	a := &rollingArchiver{
		inner:      inner,
		averager:   rolling.New(4),
		windowSize: 2,
		publish: func(img []rolling.PixelValue, experimentID int32) error {
			published = append(published, img)
			return nil
		},
	}

	f := frame.Frame{Data: []byte{1, 2, 3, 4}}
	require.NoError(t, a.LogFrame(f, 0))
	require.NoError(t, a.LogFrame(f, 1))

	assert.Len(t, inner.frames, 2)
	assert.Len(t, published, 2)
}

func TestRollingArchiverToleratesNilInner(t *testing.T) {
	a := &rollingArchiver{
		averager:   rolling.New(4),
		windowSize: 1,
		publish:    func(img []rolling.PixelValue, experimentID int32) error { return nil },
	}
	err := a.LogFrame(frame.Frame{Data: []byte{1, 2, 3, 4}}, 0)
	require.NoError(t, err)
}

// sanity check that the messages package still names every field
// archivingPublisher.archive relies on as a string literal.
func TestSamplePacketFieldNamesMatchArchivingPublisher(t *testing.T) {
	msg := messages.NewSamplePacket()
	fields := msg.ProtoReflect().Descriptor().Fields()
	for _, name := range []string{"timestamp_ticks_10ns", "device_id", "sample_type", "digital_direction", "analog_value", "imu_gyro", "imu_accel"} {
		assert.NotNil(t, fields.ByName(protoreflect.Name(name)), "missing field %q", name)
	}
}
