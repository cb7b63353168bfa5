package ad

// The pool allocator (spec.md §5's "Allocation": "caches per-thread free
// lists; released memory is kept per-thread unless hold_memory(false) is
// set"). Grounded on ad/registry.go's own shape (a map keyed by
// goroutine id, guarded by one mutex) — the same structure reused here
// for a free list of taylor-workspace buffers instead of a live tape,
// since Function.CapacityOrder's (numVar+1)*cols allocation is the one
// hot, frequently-resized buffer in this package.

import "sync"

// HoldMemory is spec.md §6's hold_memory(false): when true (default), a
// goroutine's released taylor buffers are kept for reuse by the next
// recording on that goroutine; when false, released buffers are simply
// dropped for the GC to reclaim.
var HoldMemory = true

// PoolCapPerThread bounds how many released buffers one goroutine's free
// list holds onto at once. cmd/goad raises this from the GOTAPE_THREAD_CAP
// environment variable (spec.md §6's one allowed env var); the core
// package itself reads no environment.
var PoolCapPerThread = 8

type floatPool struct {
	mu   sync.Mutex
	free map[int64][][]float64
}

var taylorPool = &floatPool{free: make(map[int64][][]float64)}

// getTaylorBuffer returns a zeroed buffer of length n, reusing a
// released one from the calling goroutine's free list when one is large
// enough, or allocating fresh otherwise.
func getTaylorBuffer(n int) []float64 {
	if n == 0 {
		return nil
	}
	g := goroutineID()
	taylorPool.mu.Lock()
	list := taylorPool.free[g]
	for i, buf := range list {
		if cap(buf) >= n {
			taylorPool.free[g] = append(list[:i:i], list[i+1:]...)
			taylorPool.mu.Unlock()
			buf = buf[:n]
			for j := range buf {
				buf[j] = 0
			}
			return buf
		}
	}
	taylorPool.mu.Unlock()
	return make([]float64, n)
}

// releaseTaylorBuffer returns buf to the calling goroutine's free list,
// subject to HoldMemory and PoolCapPerThread.
func releaseTaylorBuffer(buf []float64) {
	if !HoldMemory || cap(buf) == 0 {
		return
	}
	g := goroutineID()
	taylorPool.mu.Lock()
	defer taylorPool.mu.Unlock()
	list := taylorPool.free[g]
	if len(list) >= PoolCapPerThread {
		return
	}
	taylorPool.free[g] = append(list, buf)
}

// dropPool clears the calling goroutine's free list immediately; used by
// tests that toggle HoldMemory and want a clean slate rather than
// whatever a previous test left behind.
func dropPool() {
	g := goroutineID()
	taylorPool.mu.Lock()
	delete(taylorPool.free, g)
	taylorPool.mu.Unlock()
}
