package lifecycle

import (
	"testing"
	"time"
)

func TestStopSignalDoneAndShouldStop(t *testing.T) {
	s := NewStopSignal(nil)
	if s.ShouldStop() {
		t.Fatal("expected ShouldStop false before Stop")
	}

	select {
	case <-s.Done():
		t.Fatal("expected Done channel open before Stop")
	default:
	}

	s.Stop()

	if !s.ShouldStop() {
		t.Fatal("expected ShouldStop true after Stop")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("expected Done channel closed after Stop")
	}
}

func TestStopSignalWaitDrainsWorkers(t *testing.T) {
	s := NewStopSignal(nil)
	s.Add(3)

	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			<-s.Done()
			s.WorkerDone()
		}()
	}
	go func() {
		s.Wait()
		close(done)
	}()

	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop drained workers")
	}
}

func TestStopAndWait(t *testing.T) {
	s := NewStopSignal(nil)
	s.Add(1)
	go func() {
		<-s.Done()
		s.WorkerDone()
	}()
	s.StopAndWait()
}

func TestThreadMonitorRecordsCrashes(t *testing.T) {
	m := Get()
	m.Reset()

	if m.CrashedCount() != 0 {
		t.Fatalf("expected 0 crashed, got %d", m.CrashedCount())
	}

	m.HandleCrashed("window-driver")
	m.HandleCrashed("frame-grab-loop")

	if m.CrashedCount() != 2 {
		t.Fatalf("expected 2 crashed, got %d", m.CrashedCount())
	}
	names := m.CrashedNames()
	if names[0] != "window-driver" || names[1] != "frame-grab-loop" {
		t.Fatalf("unexpected crashed names: %v", names)
	}
	m.Reset()
}

func TestThreadMonitorGuardRecoversPanic(t *testing.T) {
	m := Get()
	m.Reset()

	m.Guard("decode-worker", func() {
		panic("simulated decoder fault")
	})

	if m.CrashedCount() != 1 {
		t.Fatalf("expected 1 crashed after panic, got %d", m.CrashedCount())
	}
	if m.CrashedNames()[0] != "decode-worker" {
		t.Fatalf("unexpected crashed name: %v", m.CrashedNames())
	}
	m.Reset()
}
