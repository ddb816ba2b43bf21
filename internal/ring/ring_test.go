package ring

import (
	"sync"
	"testing"
)

func TestNewPanicsOnTooFewSlots(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for N<=2")
		}
	}()
	New[int](2)
}

func TestEmptyRingReadReturnsNil(t *testing.T) {
	r := New[int](4)
	if got := r.AdvanceRead(); got != nil {
		t.Fatalf("expected nil read on empty ring, got %v", got)
	}
}

func TestWriteThenRead(t *testing.T) {
	r := New[int](4)

	slot := r.MaybeAdvanceWrite()
	if slot == nil {
		t.Fatal("expected a write slot")
	}
	*slot = 42
	// A written slot is committed only when the next write slot is
	// requested.
	if r.MaybeAdvanceWrite() == nil {
		t.Fatal("expected a second write slot")
	}

	read := r.AdvanceRead()
	if read == nil {
		t.Fatal("expected a read slot")
	}
	if *read != 42 {
		t.Errorf("read %d, want 42", *read)
	}
}

func TestOverrunReturnsNil(t *testing.T) {
	r := New[int](3)

	// N=3 allows 3 outstanding writes before the ring is full.
	for i := 0; i < 3; i++ {
		if slot := r.MaybeAdvanceWrite(); slot == nil {
			t.Fatalf("write %d: expected a slot", i)
		}
	}
	if slot := r.MaybeAdvanceWrite(); slot != nil {
		t.Fatal("expected overrun (nil) on fourth write with no reads")
	}
}

func TestAdvanceWritePanicsOnOverrun(t *testing.T) {
	r := New[int](3)
	r.MaybeAdvanceWrite()
	r.MaybeAdvanceWrite()
	r.MaybeAdvanceWrite()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overrun")
		}
	}()
	r.AdvanceWrite()
}

func TestResetReturnsToEmpty(t *testing.T) {
	r := New[int](4)
	r.MaybeAdvanceWrite()
	r.Reset()
	if got := r.AdvanceRead(); got != nil {
		t.Fatalf("expected nil read after Reset, got %v", got)
	}
}

func TestSPSCProducerConsumer(t *testing.T) {
	const n = 10000
	r := New[int](8)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		written := 0
		for written < n {
			if slot := r.MaybeAdvanceWrite(); slot != nil {
				*slot = written
				written++
			}
		}
		// Commit the last written slot.
		for r.MaybeAdvanceWrite() == nil {
		}
	}()

	go func() {
		defer wg.Done()
		expect := 0
		for expect < n {
			if slot := r.AdvanceRead(); slot != nil {
				if *slot != expect {
					t.Errorf("read %d, want %d", *slot, expect)
				}
				expect++
			}
		}
	}()

	wg.Wait()
}
