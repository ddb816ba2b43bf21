package lifecycle

import "sync"

// ThreadMonitor is a process-wide registry of crashed worker
// goroutines, grounded on the original common/include/thread_monitor.h
// singleton: any worker whose top-level recover() catches a panic (or
// whose run loop exits with an unrecoverable error) reports itself
// here by name rather than taking the whole process down, so a
// supervisor can decide whether to restart just that component.
type ThreadMonitor struct {
	mu      sync.Mutex
	crashed []string
}

var (
	monitorOnce sync.Once
	monitor     *ThreadMonitor
)

// Get returns the process-wide ThreadMonitor singleton.
func Get() *ThreadMonitor {
	monitorOnce.Do(func() {
		monitor = &ThreadMonitor{}
	})
	return monitor
}

// HandleCrashed records name as having crashed.
func (m *ThreadMonitor) HandleCrashed(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crashed = append(m.crashed, name)
}

// CrashedNames returns a snapshot of every worker name recorded as
// crashed, in the order they were recorded.
func (m *ThreadMonitor) CrashedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.crashed))
	copy(out, m.crashed)
	return out
}

// CrashedCount returns the number of crashed workers recorded.
func (m *ThreadMonitor) CrashedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.crashed)
}

// Reset clears all recorded crashes. Intended for test isolation given
// the monitor is a process-wide singleton.
func (m *ThreadMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crashed = nil
}

// Guard runs fn and, if it panics, recovers, records name as crashed
// via the monitor, and re-panics is avoided — the worker's goroutine
// exits cleanly instead of taking the process down. Callers that need
// the panic value itself (e.g. to log it) should recover in their own
// defer before calling into code that might panic, and call
// HandleCrashed directly; Guard is the common case where logging the
// name is enough.
func (m *ThreadMonitor) Guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.HandleCrashed(name)
		}
	}()
	fn()
}
