package grids

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeapMonitor(t *testing.T) {
	m := &HeapMonitor{Limit: 1, Every: 1}
	assert.ErrorIs(t, m.Check(1), ErrLowMemory)

	m = &HeapMonitor{Limit: math.MaxInt64, Every: 4}
	for i := 0; i < 10; i++ {
		assert.NoError(t, m.Check(1024))
	}
}

func TestSystemMonitor(t *testing.T) {
	m := &SystemMonitor{MinAvailable: math.MaxInt64, Every: 1}
	assert.ErrorIs(t, m.Check(1), ErrLowMemory)

	m = &SystemMonitor{MinAvailable: 0}
	for i := 0; i < 3; i++ {
		assert.NoError(t, m.Check(1))
	}
}

func TestMonitorFunc(t *testing.T) {
	var got int64
	var mon MemoryMonitor = MonitorFunc(func(n int64) error {
		got = n
		return nil
	})
	assert.NoError(t, mon.Check(42))
	assert.Equal(t, int64(42), got)
}
