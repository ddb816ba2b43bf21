// Package frame implements the frame handler (C7): fan-out of each
// captured camera frame to a publisher worker and an archive logger
// worker, grounded on camera_frame_handler.{h,cpp}.
package frame

import (
	"time"

	"github.com/pando-labs/pandocore/internal/logging"
)

// Frame is a single timestamped raw camera frame, grounded on
// camera_frame.h's CameraFrame.
type Frame struct {
	Data         []byte
	TimestampNs  int64
	ExposureTime time.Duration

	// Stamp is the hardware frame counter at capture time, used by
	// GrabLoop to detect dropped frames via non-contiguous stamps.
	Stamp uint64
}

// EventKind identifies a session-boundary event sent alongside the
// image stream, matching proto::EVENT_START/EVENT_STOP.
type EventKind int

const (
	EventStart EventKind = iota
	EventStop
)

// Publisher is the transport Handler serializes frames and events
// onto, standing in for camera_frame_handler.cpp's zmq Publisher
// member (treated as an out-of-scope collaborator, per spec's
// publish/transport Non-goals).
type Publisher interface {
	PublishEvent(kind EventKind, experimentID int32, sequenceNumber int64, timestampNs int64) error
	PublishImage(f Frame, experimentID int32, sequenceNumber int64) error
}

// Archiver is the C8 collaborator that appends raw frames to the
// session archive, standing in for camera_frame_handler.h's
// std::optional<ImageLogger>.
type Archiver interface {
	LogFrame(f Frame, sequenceNumber int64) error
}

// CompletionHandle is returned by Handle and, when Join is called,
// blocks until both the publish and log tasks dispatched for that
// frame have finished.
type CompletionHandle struct {
	publishDone <-chan struct{}
	logDone     <-chan struct{}
	logger      *logging.Logger
}

// Join blocks until both background tasks for the frame complete,
// logging a warning naming whichever side was still running when Join
// was called — matching the original's wait_for(0s)==timeout check.
func (h *CompletionHandle) Join() {
	blockedOnPublish := !closed(h.publishDone)
	blockedOnLog := !closed(h.logDone)

	if h.publishDone != nil {
		<-h.publishDone
	}
	if h.logDone != nil {
		<-h.logDone
	}

	if (blockedOnPublish || blockedOnLog) && h.logger != nil {
		h.logger.Warnf("frame: blocked_on_publish=%v blocked_on_log=%v", blockedOnPublish, blockedOnLog)
	}
}

func closed(ch <-chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Handler publishes raw frames over the configured transport, logs
// them to the session archive, and emits start/stop events, grounded
// on CameraFrameHandler.
type Handler struct {
	publisher        Publisher
	archiver         Archiver
	logger           *logging.Logger
	experimentID     int32
	publishRawFrames bool

	imageSeq         int64
	eventSeq         int64
	eventTimestampNs int64

	publishWorker *worker
	logWorker     *worker
}

// NewHandler constructs a Handler and synchronously sends the
// EVENT_START event, matching the original's publish_worker_.Async
// call in its constructor (dispatched async there; sent eagerly here
// since there is no frame yet to race against). archiver may be nil
// when raw-frame logging is disabled, matching log_raw_frames=false.
func NewHandler(publisher Publisher, archiver Archiver, logger *logging.Logger, experimentID int32, publishRawFrames bool) *Handler {
	h := &Handler{
		publisher:        publisher,
		archiver:         archiver,
		logger:           logger,
		experimentID:     experimentID,
		publishRawFrames: publishRawFrames,
		publishWorker:    newWorker(),
		logWorker:        newWorker(),
	}
	h.sendEvent(EventStart)
	return h
}

// Close sends the EVENT_STOP event and stops both worker goroutines,
// matching ~CameraFrameHandler.
func (h *Handler) Close() {
	h.sendEvent(EventStop)
	h.publishWorker.stop()
	h.logWorker.stop()
}

func (h *Handler) sendEvent(kind EventKind) {
	seq := h.eventSeq
	h.eventSeq++
	ts := h.eventTimestampNs
	<-h.publishWorker.async(func() {
		if err := h.publisher.PublishEvent(kind, h.experimentID, seq, ts); err != nil && h.logger != nil {
			h.logger.Warnf("frame: failed to publish event %d: %v", kind, err)
		}
	})
}

// Handle dispatches frame to the publish and log workers and returns a
// handle the caller can Join to wait for both, per spec §4.7.
func (h *Handler) Handle(f Frame) *CompletionHandle {
	h.eventTimestampNs = f.TimestampNs

	sequenceNumber := h.imageSeq
	h.imageSeq++

	handle := &CompletionHandle{logger: h.logger}

	if h.publishRawFrames {
		handle.publishDone = h.publishWorker.async(func() {
			if err := h.publisher.PublishImage(f, h.experimentID, sequenceNumber); err != nil && h.logger != nil {
				h.logger.Warnf("frame: failed to publish frame %d: %v", sequenceNumber, err)
			}
		})
	}

	if h.archiver != nil {
		handle.logDone = h.logWorker.async(func() {
			if err := h.archiver.LogFrame(f, sequenceNumber); err != nil && h.logger != nil {
				h.logger.Warnf("frame: failed to log frame %d: %v", sequenceNumber, err)
			}
		})
	}

	return handle
}

// worker is a single persistent goroutine draining a task queue,
// standing in for the original's Worker class (a named single-thread
// task queue used for both publish_worker_ and log_worker_).
type worker struct {
	tasks chan func()
	done  chan struct{}
}

func newWorker() *worker {
	w := &worker{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go func() {
		for task := range w.tasks {
			task()
		}
		close(w.done)
	}()
	return w
}

func (w *worker) async(task func()) <-chan struct{} {
	done := make(chan struct{})
	w.tasks <- func() {
		task()
		close(done)
	}
	return done
}

func (w *worker) stop() {
	close(w.tasks)
	<-w.done
}
