package grids

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryMonitor decides whether an allocation of n more bytes may proceed.
// It returns an error wrapping ErrLowMemory to request eviction. The
// Manager's own budget is always enforced before any monitor is asked.
type MemoryMonitor interface {
	Check(n int64) error
}

// MonitorFunc adapts a function to MemoryMonitor.
type MonitorFunc func(n int64) error

func (f MonitorFunc) Check(n int64) error { return f(n) }

// SystemMonitor signals low memory when the memory the OS reports as
// available drops under MinAvailable bytes. Querying the OS is not free,
// so only every Every-th check samples it; the others reuse the last
// reading, adjusted by the bytes charged since.
type SystemMonitor struct {
	MinAvailable uint64
	Every        int

	calls     int
	available int64
}

const defaultSampleEvery = 64

func (m *SystemMonitor) Check(n int64) error {
	every := m.Every
	if every <= 0 {
		every = defaultSampleEvery
	}
	if m.calls%every == 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			// can't tell; let the budget decide
			return nil
		}
		m.available = int64(vm.Available)
	}
	m.calls++
	m.available -= n
	if m.available < int64(m.MinAvailable) {
		m.calls = 0 // resample after eviction
		return fmt.Errorf("%w: %d bytes available, keeping %d free", ErrLowMemory, max(m.available, 0), m.MinAvailable)
	}
	return nil
}

// HeapMonitor signals low memory when the live Go heap would exceed Limit
// bytes. A reading over the limit is retried once after a forced GC, since
// evicted chunks only return memory once collected.
type HeapMonitor struct {
	Limit uint64
	Every int

	calls int
	heap  int64
}

func (m *HeapMonitor) Check(n int64) error {
	every := m.Every
	if every <= 0 {
		every = defaultSampleEvery
	}
	if m.calls%every == 0 {
		m.heap = readHeapAlloc(false)
	}
	m.calls++
	m.heap += n
	if m.heap <= int64(m.Limit) {
		return nil
	}
	m.heap = readHeapAlloc(true) + n
	if m.heap <= int64(m.Limit) {
		return nil
	}
	m.calls = 0
	return fmt.Errorf("%w: heap at %d bytes, limit %d", ErrLowMemory, m.heap, m.Limit)
}

func readHeapAlloc(gc bool) int64 {
	if gc {
		runtime.GC()
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc)
}
