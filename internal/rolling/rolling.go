// Package rolling implements the rolling averager (C6): a fixed-size
// sliding window of camera frames maintained as a running pixel-wise
// sum, grounded on labgraph_nodes/contrast_calcs/src/rolling_average.cpp.
package rolling

import (
	"golang.org/x/sync/errgroup"

	"github.com/pando-labs/pandocore"
)

// PixelValue and AccumValue mirror RollingAverage::PixelValue/AccumValue.
type PixelValue = uint8
type AccumValue = uint32

// chunkSize is the pixel-range granularity dispatched to each parallel
// worker, matching the original's hardcoded `increment = 131072`.
const chunkSize = 131072

// Averager maintains a rolling pixel-wise average over the most recent
// frames pushed via Update, grounded on RollingAverage.
type Averager struct {
	nPixels int

	// history holds the frame history with the newest frame at index 0,
	// mirroring std::deque's push_front/pop_back usage in the original
	// (a plain Go slice prepend stands in for the deque; window sizes
	// in this domain are small enough that the O(n) prepend cost is
	// immaterial next to the O(n_pixels) chunked accumulation work).
	history [][]PixelValue

	accum     []AccumValue
	windowAvg []PixelValue

	// initialExpansion is true until the window has filled for the
	// first time, after which the implementation permanently uses the
	// (n_frames-1) divisor branch — see Update.
	initialExpansion bool
}

// New allocates an Averager for frames of nPixels pixels.
func New(nPixels int) *Averager {
	return &Averager{
		nPixels:          nPixels,
		accum:            make([]AccumValue, nPixels),
		windowAvg:        make([]PixelValue, nPixels),
		initialExpansion: true,
	}
}

// Update pushes frame into the rolling window (shrinking it to
// windowSize+1 history entries first if needed) and returns the
// updated window average, per spec §4.6.
func (a *Averager) Update(frame []PixelValue, windowSize uint16) ([]PixelValue, error) {
	if len(frame) != a.nPixels {
		return nil, pandocore.New("Update", "rolling", pandocore.KindOutOfRange, "frame has wrong size")
	}

	for len(a.history) > int(windowSize)+1 {
		oldest := a.history[len(a.history)-1]
		for i, v := range oldest {
			a.accum[i] -= AccumValue(v)
		}
		a.history = a.history[:len(a.history)-1]
	}

	// n_frames is read before the new frame is pushed, matching the
	// original's branch selection on the pre-push history size.
	nFrames := len(a.history)

	switch {
	case nFrames == int(windowSize)+1:
		// Steady state: recycle the oldest frame's storage for the new
		// frame instead of allocating, matching the original's
		// std::move(oldest_frame) reuse.
		a.initialExpansion = false
		oldest := a.history[len(a.history)-1]
		a.history = a.history[:len(a.history)-1]
		copy(oldest, frame)
		a.history = append([][]PixelValue{oldest}, a.history...)
		a.dispatch(a.moveWindow)

	case nFrames == int(windowSize) && a.initialExpansion:
		// The window has just reached capacity for the first time.
		// Per rolling_average.cpp this still takes the MoveWindow path,
		// not ExpandWindow — resolving spec's divide-by-zero Open
		// Question for this transitional frame the same way the
		// original does.
		a.history = append([][]PixelValue{cloneFrame(frame)}, a.history...)
		a.dispatch(a.moveWindow)

	default:
		a.history = append([][]PixelValue{cloneFrame(frame)}, a.history...)
		a.dispatch(a.expandWindow)
	}

	out := make([]PixelValue, a.nPixels)
	copy(out, a.windowAvg)
	return out, nil
}

func cloneFrame(frame []PixelValue) []PixelValue {
	cloned := make([]PixelValue, len(frame))
	copy(cloned, frame)
	return cloned
}

// dispatch fans fn out across nPixels in chunkSize-pixel ranges and
// waits for all of them, matching the original's
// std::async/future::get() pattern.
func (a *Averager) dispatch(fn func(start, stop int)) {
	var g errgroup.Group
	for start := 0; start < a.nPixels; start += chunkSize {
		stop := start + chunkSize
		if stop > a.nPixels {
			stop = a.nPixels
		}
		start, stop := start, stop
		g.Go(func() error {
			fn(start, stop)
			return nil
		})
	}
	_ = g.Wait()
}

// moveWindow implements RollingAverage::MoveWindow: subtract the
// window's oldest frame and add the newest, for the [start,stop) pixel
// range.
func (a *Averager) moveWindow(start, stop int) {
	nFrames := len(a.history)
	front := a.history[0]
	back := a.history[nFrames-1]
	for i := start; i < stop; i++ {
		a.accum[i] -= AccumValue(back[i])
		a.accum[i] += AccumValue(front[i])
		a.windowAvg[i] = PixelValue(a.accum[i] / AccumValue(nFrames-1))
	}
}

// expandWindow implements RollingAverage::ExpandWindow: add the newest
// frame without dropping anything, for the [start,stop) pixel range.
func (a *Averager) expandWindow(start, stop int) {
	nFrames := len(a.history)
	front := a.history[0]
	for i := start; i < stop; i++ {
		a.accum[i] += AccumValue(front[i])
		if a.initialExpansion {
			a.windowAvg[i] = PixelValue(a.accum[i] / AccumValue(nFrames))
		} else {
			a.windowAvg[i] = PixelValue(a.accum[i] / AccumValue(nFrames-1))
		}
	}
}
