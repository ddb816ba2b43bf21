package frame

import (
	"context"
	"fmt"
	"time"

	"github.com/pando-labs/pandocore"
)

// FrameSource is the grab-loop's producer-side capability: a generic
// stand-in for a real vendor frame-grabber SDK (me5_framegrabber/
// basler_aca2000_cl in the original, out of scope per spec's vendor-
// SDK Non-goal), exposing exactly what the grab-loop invariants need.
type FrameSource interface {
	// NextFrame blocks up to timeout for the next camera frame. ok is
	// false (with a nil error) if timeout elapses with nothing to
	// report.
	NextFrame(timeout time.Duration) (f Frame, ok bool, err error)
	// MissedTrigger reports whether the external trigger generator
	// pulsed since the last frame without a corresponding frame
	// arriving.
	MissedTrigger() bool
	// TriggerPulseCount reads the external trigger generator's pulse
	// counter.
	TriggerPulseCount() (uint64, error)
}

// GrabLoopConfig holds the grab-loop's timing invariants, per spec
// §4.7.
type GrabLoopConfig struct {
	FramePeriod       time.Duration
	FirstFrameTimeout time.Duration
	SteadyStateSlack  time.Duration
	IntervalTolerance time.Duration
}

// DefaultGrabLoopConfig returns the spec's stated invariants for the
// given frame period: a ~11s first-frame timeout, frame_period+250ms
// steady-state timeout, and a ±10µs inter-frame interval tolerance.
func DefaultGrabLoopConfig(framePeriod time.Duration) GrabLoopConfig {
	return GrabLoopConfig{
		FramePeriod:       framePeriod,
		FirstFrameTimeout: 11 * time.Second,
		SteadyStateSlack:  250 * time.Millisecond,
		IntervalTolerance: 10 * time.Microsecond,
	}
}

// GrabLoop drains frames from a FrameSource, dispatches each to a
// Handler, and enforces the grab-loop invariants from spec §4.7.
type GrabLoop struct {
	source FrameSource
	handler *Handler
	cfg    GrabLoopConfig

	haveLast    bool
	lastFrameAt time.Time
	lastStamp   uint64
}

// NewGrabLoop constructs a GrabLoop.
func NewGrabLoop(source FrameSource, handler *Handler, cfg GrabLoopConfig) *GrabLoop {
	return &GrabLoop{source: source, handler: handler, cfg: cfg}
}

// PreArmCheck verifies, after the caller has enabled the trigger
// generator, that no pulses were missed before this acquisition
// started: it waits at least one frame_period+250ms, then confirms the
// trigger pulse counter is still zero, per spec §4.7's "must not
// already be pulsing" invariant. It does not arm the generator itself.
func (g *GrabLoop) PreArmCheck() error {
	time.Sleep(g.cfg.FramePeriod + g.cfg.SteadyStateSlack)

	count, err := g.source.TriggerPulseCount()
	if err != nil {
		return err
	}
	if count != 0 {
		return pandocore.New("PreArmCheck", "frame", pandocore.KindHardwareFault,
			fmt.Sprintf("trigger pulse counter is %d at arm time; prior triggers were missed", count))
	}
	return nil
}

// Run drains frames until ctx is cancelled or an invariant violation
// occurs. Each frame is dispatched to the handler and its completion
// handle is joined before the next frame is awaited, so a stalled
// publish/log worker surfaces as warnings (via Handler) rather than
// unbounded buffering.
func (g *GrabLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := g.cfg.FirstFrameTimeout
		if g.haveLast {
			timeout = g.cfg.FramePeriod + g.cfg.SteadyStateSlack
		}

		f, ok, err := g.source.NextFrame(timeout)
		if err != nil {
			return pandocore.Wrap("Run", "frame", err)
		}
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			if g.source.MissedTrigger() {
				return pandocore.New("Run", "frame", pandocore.KindHardwareFault,
					"grabber forwarded a trigger pulse but no frame arrived")
			}
			return pandocore.New("Run", "frame", pandocore.KindStall,
				"timed out waiting for the next camera frame")
		}

		now := time.Now()
		if g.haveLast {
			if err := g.checkTiming(now, f.Stamp); err != nil {
				return err
			}
		}
		g.lastFrameAt = now
		g.lastStamp = f.Stamp
		g.haveLast = true

		g.handler.Handle(f).Join()
	}
}

func (g *GrabLoop) checkTiming(now time.Time, stamp uint64) error {
	interval := now.Sub(g.lastFrameAt)
	drift := interval - g.cfg.FramePeriod
	if drift < 0 {
		drift = -drift
	}
	if drift > g.cfg.IntervalTolerance {
		return pandocore.New("Run", "frame", pandocore.KindProtocol,
			fmt.Sprintf("inter-frame interval %v drifted %v from the configured period %v", interval, drift, g.cfg.FramePeriod))
	}

	if stamp != g.lastStamp+1 {
		return pandocore.New("Run", "frame", pandocore.KindSequenceGap,
			fmt.Sprintf("frame stamp %d is not contiguous with previous stamp %d", stamp, g.lastStamp))
	}
	return nil
}
