package rolling

import (
	"testing"

	"github.com/pando-labs/pandocore"
)

func TestUpdateRejectsWrongFrameSize(t *testing.T) {
	a := New(4)
	_, err := a.Update([]PixelValue{1, 2, 3}, 2)
	if !pandocore.IsKind(err, pandocore.KindOutOfRange) {
		t.Fatalf("err = %v, want KindOutOfRange", err)
	}
}

func TestFirstFrameIsItsOwnAverage(t *testing.T) {
	a := New(2)
	out, err := a.Update([]PixelValue{10, 20}, 2)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out[0] != 10 || out[1] != 20 {
		t.Errorf("first-frame average = %v, want [10 20] (divisor forced to 1)", out)
	}
}

func TestSteadyStateTransition(t *testing.T) {
	a := New(2)

	if _, err := a.Update([]PixelValue{10, 20}, 2); err != nil {
		t.Fatalf("Update 1: %v", err)
	}
	out2, err := a.Update([]PixelValue{4, 6}, 2)
	if err != nil {
		t.Fatalf("Update 2: %v", err)
	}
	if out2[0] != 7 || out2[1] != 13 {
		t.Errorf("frame 2 average = %v, want [7 13]", out2)
	}

	out3, err := a.Update([]PixelValue{8, 2}, 2)
	if err != nil {
		t.Fatalf("Update 3: %v", err)
	}
	if out3[0] != 6 || out3[1] != 4 {
		t.Errorf("frame 3 average = %v, want [6 4]", out3)
	}

	out4, err := a.Update([]PixelValue{0, 0}, 2)
	if err != nil {
		t.Fatalf("Update 4: %v", err)
	}
	if out4[0] != 4 || out4[1] != 1 {
		t.Errorf("frame 4 average = %v, want [4 1]", out4)
	}
}

func TestShrinkOnSmallerWindowSize(t *testing.T) {
	a := New(1)

	if _, err := a.Update([]PixelValue{2}, 5); err != nil {
		t.Fatalf("Update A: %v", err)
	}
	if _, err := a.Update([]PixelValue{4}, 5); err != nil {
		t.Fatalf("Update B: %v", err)
	}
	out, err := a.Update([]PixelValue{6}, 5)
	if err != nil {
		t.Fatalf("Update C: %v", err)
	}
	if out[0] != 4 {
		t.Fatalf("average after C = %v, want [4]", out[0])
	}

	// Shrinking window_size to 1 drops the oldest frame (value 2) from
	// the accumulator before this frame is processed.
	out2, err := a.Update([]PixelValue{8}, 1)
	if err != nil {
		t.Fatalf("Update D: %v", err)
	}
	if out2[0] != 12 {
		t.Errorf("average after shrink+D = %v, want [12]", out2[0])
	}
}
