package ad

// Component D: the Function object. Immutable recording plus mutable
// per-call workspace, exactly the split spec.md §3/§4.D describes and
// the design notes (§9) call out as breaking the original's cyclic
// Function/tape reference: a Function owns a deep copy of everything it
// needs and holds no reference back to any Tape. Modelled on the
// teacher's oneGlobalTape.backward() as "the thing that walks a
// recording", generalized from one gradient pass to the full sealed
// object spec.md asks for.

import (
	"github.com/google/uuid"
)

// CheckForNaN is the ambient default for new Functions' check-for-NaN
// behavior (spec.md §7's "check_for_nan", exposed as a package variable
// per the teacher's package-level `var Fold = true` idiom). A Function
// can override its own copy via SetCheckForNaN.
var CheckForNaN = false

// Function is the sealed, replayable recording produced by Dependent.
// The first block of fields is immutable after seal; the rest is the
// mutable workspace spec.md §3 describes (taylor matrix, dynamic
// parameter values, sparsity cache, compare-change counters).
type Function struct {
	op             []opRecord
	arg            []int
	par            []float64
	dynOp          []opRecord
	dynArg         []int
	dynPar2Var     []int
	dynIndepCount  int
	vecAD          []vecADDecl
	indAddr        []int
	depAddr        []int
	depIsParameter []bool
	numVar         int
	recordingID    uuid.UUID

	// mutable workspace
	taylor       []float64 // row-major, (numVar+1) rows x cols columns; row 0 unused (address 0 reserved)
	cols         int
	orderCap     int
	orderCurrent int
	nDir         int

	dynVal []float64

	sparsity *sparsityCache // component G; populated lazily, see sparsity.go

	compareChangeCount   int
	compareChangeOpIndex int

	checkForNaN bool
	nanDetected bool

	vecStore []vecStoreState // component H: per-declared-vector current contents, see vecad.go

	owner      int64 // goroutine currently driving this Function; 0 until first Forward/Reverse
	ownerKnown bool
}

// RecordingID returns the uuid stamped on this recording at seal time,
// used only for log correlation and to_json output (SPEC_FULL's
// "Recording identity" domain-stack addition); it has no effect on
// sweep semantics.
func (f *Function) RecordingID() uuid.UUID { return f.recordingID }

// NumVar is the highest allocated variable address, spec.md §3's
// num_var.
func (f *Function) NumVar() int { return f.numVar }

// NumIndep is the domain dimension n: the independent vector's length
// at the Independent call that started this recording.
func (f *Function) NumIndep() int { return len(f.indAddr) }

// NumDep is the range dimension m: the dependent vector's length at the
// Dependent call that sealed this recording.
func (f *Function) NumDep() int { return len(f.depAddr) }

// SetCheckForNaN overrides this Function's check-for-NaN policy,
// independent of the package default CheckForNaN.
func (f *Function) SetCheckForNaN(on bool) { f.checkForNaN = on }

// NaNDetected reports whether the most recent sweep found a NaN/Inf
// while CheckForNaN was enabled (spec.md §7's numeric error kind,
// surfaced after the sweep rather than aborting it mid-flight).
func (f *Function) NaNDetected() bool { return f.nanDetected }

// CompareChangeCount reports how many recorded comparisons have flipped
// outcome across all forward sweeps since the recording was made
// (spec.md §6/§8 invariant 5).
func (f *Function) CompareChangeCount() int { return f.compareChangeCount }

// CompareChangeOpIndex is the tape index of the first comparison that
// flipped, or -1 if none has.
func (f *Function) CompareChangeOpIndex() int {
	if f.compareChangeCount == 0 {
		return -1
	}
	return f.compareChangeOpIndex
}

// checkOwner enforces spec.md §5's "two threads sharing one Function is
// a contract violation": the first Forward/Reverse call claims the
// Function for its goroutine; any later call from a different goroutine
// panics in debug builds.
func (f *Function) checkOwner() {
	g := goroutineID()
	if !f.ownerKnown {
		f.owner, f.ownerKnown = g, true
		return
	}
	assertf(f.owner == g, "Function driven concurrently by goroutine %d and %d", f.owner, g)
}

// colIndex maps a Taylor order/direction pair to a column in the
// taylor matrix, per spec.md §4.D's "col(0) = 0; col(k>=1,dir) =
// 1 + (k-1)*n_dir + dir" layout: order zero is one shared column,
// orders >= 1 are laid out in order-major, direction-minor blocks of
// width n_dir.
func (f *Function) colIndex(k, dir int) int {
	if k == 0 {
		return 0
	}
	return 1 + (k-1)*f.nDir + dir
}

func colsFor(orderCap, nDir int) int {
	if orderCap <= 0 {
		return 0
	}
	if nDir < 1 {
		nDir = 1
	}
	return 1 + (orderCap-1)*nDir
}

func (f *Function) taylorAt(addr, k, dir int) float64 {
	return f.taylor[addr*f.cols+f.colIndex(k, dir)]
}

func (f *Function) setTaylor(addr, k, dir int, v float64) {
	f.taylor[addr*f.cols+f.colIndex(k, dir)] = v
}

// CapacityOrder reshapes the taylor workspace to hold orders 0..c-1 in r
// directions (spec.md §4.D F3 / §6 capacity_order). c == 0 frees the
// buffer. Existing coefficients survive a resize only when the
// direction count is unchanged (the common case: growing order capacity
// mid-sweep); a direction-count change re-zeros the workspace, since the
// column layout for every order beyond 0 is different and there is
// nothing sound to copy element-for-element.
func (f *Function) CapacityOrder(c, r int) error {
	if c < 0 || r < 1 {
		return wrapf(ErrBadUsage, "capacity_order: order cap %d and directions %d must be >=0, >=1", c, r)
	}
	f.ensureVecStore()
	newCols := colsFor(c, r)
	newTaylor := getTaylorBuffer((f.numVar + 1) * newCols)
	if f.taylor != nil && newCols > 0 && r == f.nDir {
		oldOrderCap := f.orderCap
		minOrders := oldOrderCap
		if c < minOrders {
			minOrders = c
		}
		for addr := 0; addr <= f.numVar; addr++ {
			for k := 0; k < minOrders; k++ {
				dirN := 1
				if k >= 1 {
					dirN = f.nDir
				}
				for dir := 0; dir < dirN; dir++ {
					col := f.colIndex(k, dir)
					if col < newCols {
						newTaylor[addr*newCols+col] = f.taylor[addr*f.cols+col]
					}
				}
			}
		}
	}
	releaseTaylorBuffer(f.taylor)
	f.taylor = newTaylor
	f.cols = newCols
	f.orderCap = c
	f.nDir = r
	if f.orderCurrent >= c {
		f.orderCurrent = c - 1
	}
	return nil
}

func (f *Function) capacityOrder(c, r int) { _ = f.CapacityOrder(c, r) }

// evalDynamic recomputes every dynamic parameter's value from a new set
// of independent-dynamic inputs p, in declaration order, and mirrors the
// result into order-zero of the taylor workspace at each dynamic
// parameter's reserved address: spec.md §9's "dynamic parameters can be
// rebound without re-recording" (new_dynamic).
func (f *Function) evalDynamic(p []float64) {
	vals := make([]float64, len(f.dynPar2Var))
	pi := 0
	for idx, op := range f.dynOp {
		switch {
		case op.nArg == 0:
			vals[idx] = p[pi]
			pi++
		case op.code == OpDynPar:
			vals[idx] = f.par[f.dynArg[op.argStart]]
		default:
			if fn, ok := unaryFn[op.code]; ok {
				vals[idx] = fn(vals[f.dynArg[op.argStart]])
			} else if fn, ok := binaryFn[baseBinaryOp(op.code)]; ok {
				x := vals[f.dynArg[op.argStart]]
				y := vals[f.dynArg[op.argStart+1]]
				vals[idx] = fn(x, y)
			} else {
				panic(wrapf(ErrBadUsage, "unsupported dynamic-parameter opcode %s", op.code))
			}
		}
	}
	f.dynVal = vals
	if f.taylor != nil {
		for idx, addr := range f.dynPar2Var {
			if addr >= 1 && addr <= f.numVar {
				f.setTaylor(addr, 0, 0, vals[idx])
			}
		}
	}
}

// NewDynamic rebinds the independent dynamic parameters to p and
// recomputes every dynamic parameter's value, without touching the
// recording itself (spec.md §6's new_dynamic).
func (f *Function) NewDynamic(p []float64) error {
	if len(p) != f.dynIndepCount {
		return wrapf(ErrBadUsage, "new_dynamic: expected %d values, got %d", f.dynIndepCount, len(p))
	}
	f.evalDynamic(p)
	return nil
}

// indepConfig collects Independent's optional knobs (spec.md §6:
// `Independent(x [, abort_op_index, record_compare, dynamic])`).
type indepConfig struct {
	abortOpIndex  int
	recordCompare bool
}

// IndepOption configures one Independent/IndependentDynamic call.
type IndepOption func(*indepConfig)

// AbortOpIndex aborts recording (panicking with ErrBadUsage) as soon as
// the op at this tape index would be recorded through the tape's
// ordinary op path; an AtomicCall op, which CallAtomic appends
// directly, is not checked. 0 disables the check.
func AbortOpIndex(i int) IndepOption {
	return func(c *indepConfig) { c.abortOpIndex = i }
}

// RecordCompare turns on recording of Compare ops for every plain
// comparison performed while this tape is live (spec.md §4.K).
func RecordCompare(on bool) IndepOption {
	return func(c *indepConfig) { c.recordCompare = on }
}

func newIndepConfig(opts []IndepOption) *indepConfig {
	c := &indepConfig{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Independent begins a recording on the calling goroutine and returns
// the active scalars for x (spec.md §3's "a tape is born on the first
// Independent(x) call in a thread"). Panics (ErrBadUsage) if a tape is
// already live on this goroutine.
func Independent(x []float64, opts ...IndepOption) []Var {
	indep, _ := independent(x, nil, opts)
	return indep
}

// IndependentDynamic is Independent plus a vector of dynamic parameters
// recorded alongside x (spec.md §6's optional `dynamic` argument).
func IndependentDynamic(x, dynamic []float64, opts ...IndepOption) (indep, dyn []Var) {
	return independent(x, dynamic, opts)
}

func independent(x, dynamic []float64, opts []IndepOption) (indep, dyn []Var) {
	cfg := newIndepConfig(opts)
	t := newTape()
	t.abortOpIndex = cfg.abortOpIndex
	t.recordCompare = cfg.recordCompare
	beginTape(t)

	indep = make([]Var, len(x))
	for i, v := range x {
		addr := t.putOp(OpIndep, 0)
		indep[i] = Var{value: v, tapeID: t.id, kind: kindVariable, addr: addr}
	}

	if len(dynamic) > 0 {
		dyn = make([]Var, len(dynamic))
		for i, v := range dynamic {
			idx := t.putDynIndep(v)
			dyn[i] = Var{value: v, tapeID: t.id, kind: kindDynamic, addr: t.dynPar2Var[idx], dyn: idx}
		}
	}

	t.indepVars = indep
	return indep, dyn
}

// Dependent seals the live recording on the calling goroutine, with y as
// the range vector (spec.md §6's Dependent(x, y) -> Function; x is
// implicit here, see Tape.indepVars). Returns ErrBadUsage if no tape is
// live.
func Dependent(y []Var) (*Function, error) {
	t := currentTape()
	if t == nil {
		return nil, wrapf(ErrBadUsage, "Dependent called with no tape live on this goroutine")
	}
	f := t.seal(t.indepVars, y)
	endTape(t)
	return f, nil
}

// AbortRecording discards the tape live on the calling goroutine without
// sealing it. Every outstanding active scalar from that tape becomes a
// stale constant the next time it is used (registry.isLive returns
// false once the tape is no longer live), matching spec.md §5's
// "increments the epoch so any outstanding active scalars become
// constants" without needing an explicit epoch counter.
func AbortRecording() {
	t := currentTape()
	if t == nil {
		return
	}
	endTape(t)
}
