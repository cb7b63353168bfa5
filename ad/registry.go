package ad

// Component C (lifecycle) / spec.md §5, §9: the process-wide registry of
// per-goroutine tapes. The original C++ reaches the active tape through a
// function-local static array indexed by thread number; here it is one
// map slot per goroutine id, the redesign spec.md §9 asks for ("explicit
// thread-local storage owned by a process-wide registry initialized at
// first use"). Goroutine identity comes from github.com/modern-go/gls,
// the same dependency the teacher's own example program
// (examples/mt/main.go) pulls in for exactly this purpose — the teacher's
// ad/gls.go called an undefined goid() helper that this is standing in
// for.
//
// tape_id uniqueness (spec.md's "thread_num + N_THREADS*epoch") is
// reproduced here by a single global, monotonically increasing sequence
// rather than a fixed per-thread array, because the registry is a map,
// not an array: uniqueness and the "stale id from a previous recording"
// detection are what spec.md's formula buys, and a global sequence gives
// both without fixing N_THREADS in advance.

import (
	"sync"
	"sync/atomic"

	"github.com/modern-go/gls"
)

var tapeSeq uint64 // last issued tape id; 0 is reserved for "constant"

func nextTapeID() uint64 {
	return atomic.AddUint64(&tapeSeq, 1)
}

type registry struct {
	mu         sync.Mutex
	byGoroutine map[int64]*Tape
	byID       map[uint64]*Tape
}

var reg = &registry{
	byGoroutine: make(map[int64]*Tape),
	byID:        make(map[uint64]*Tape),
}

func goroutineID() int64 {
	return gls.GoID()
}

// currentTape returns the tape live on the calling goroutine, if any.
func currentTape() *Tape {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.byGoroutine[goroutineID()]
}

// isLive reports whether id names a tape currently live on some
// goroutine (not necessarily the caller's).
func (r *registry) isLive(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	return ok
}

// beginTape installs t as the live tape for the calling goroutine. It
// panics (ErrBadUsage) if a tape is already live there: spec.md §3
// promises at most one live tape per thread.
func beginTape(t *Tape) {
	reg.mu.Lock()
	_, live := reg.byGoroutine[t.goroutine]
	if !live {
		reg.byGoroutine[t.goroutine] = t
		reg.byID[t.id] = t
	}
	reg.mu.Unlock()
	if live {
		panic(wrapf(ErrBadUsage,
			"Independent called while a tape is already live on this goroutine"))
	}
	log.WithFields(map[string]interface{}{
		"goroutine": t.goroutine,
		"tape_id":   t.id,
	}).Debug("tape pushed")
}

// endTape removes the goroutine's live tape, if it is t. Called from
// both Dependent (normal seal) and AbortRecording.
func endTape(t *Tape) {
	reg.mu.Lock()
	if reg.byGoroutine[t.goroutine] == t {
		delete(reg.byGoroutine, t.goroutine)
	}
	delete(reg.byID, t.id)
	reg.mu.Unlock()
	log.WithFields(map[string]interface{}{
		"goroutine": t.goroutine,
		"tape_id":   t.id,
	}).Debug("tape popped")
}

// MTSafeOn exists for parity with the teacher's naming of the same
// concept; in this implementation thread safety is unconditional (the
// registry is always a mutex-guarded map), so it is a documented no-op
// retained for readers translating code from the teacher's API.
func MTSafeOn() {}
