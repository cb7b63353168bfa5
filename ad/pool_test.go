package ad

// Testing the pool allocator (spec.md §5's per-thread free lists).

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesReleasedBuffer(t *testing.T) {
	dropPool()
	HoldMemory = true
	defer dropPool()

	buf := getTaylorBuffer(16)
	for i := range buf {
		buf[i] = 1
	}
	releaseTaylorBuffer(buf)

	reused := getTaylorBuffer(8)
	assert.Equal(t, 8, len(reused))
	for _, v := range reused {
		assert.Equal(t, 0., v)
	}
}

func TestPoolDropsWhenHoldMemoryOff(t *testing.T) {
	dropPool()
	HoldMemory = false
	defer func() { HoldMemory = true; dropPool() }()

	buf := getTaylorBuffer(16)
	releaseTaylorBuffer(buf)

	taylorPool.mu.Lock()
	n := len(taylorPool.free[goroutineID()])
	taylorPool.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestPoolCapPerThread(t *testing.T) {
	dropPool()
	HoldMemory = true
	old := PoolCapPerThread
	PoolCapPerThread = 2
	defer func() { PoolCapPerThread = old; dropPool() }()

	for i := 0; i < 5; i++ {
		releaseTaylorBuffer(getTaylorBuffer(4))
	}

	taylorPool.mu.Lock()
	n := len(taylorPool.free[goroutineID()])
	taylorPool.mu.Unlock()
	assert.LessOrEqual(t, n, PoolCapPerThread)
}

func TestFunctionCapacityOrderUsesPool(t *testing.T) {
	dropPool()
	defer dropPool()

	f := record(t, []float64{1., 2.}, func(v []Var) []Var {
		return []Var{v[0].Add(v[1])}
	})
	require.NoError(t, f.CapacityOrder(4, 2))
	require.NoError(t, f.CapacityOrder(1, 2))

	taylorPool.mu.Lock()
	n := len(taylorPool.free[goroutineID()])
	taylorPool.mu.Unlock()
	assert.Equal(t, 1, n)
}
