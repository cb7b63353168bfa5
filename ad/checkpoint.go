package ad

// Component L: checkpointing. Wraps a sealed Function as an
// AtomicFunction (component I) so it can be taped over and swept like
// any other atomic call (spec.md §4.L): "record it once into a
// Function, wrap the Function as an atomic. Forward callback replays
// the internal Function's forward sweep; reverse callback replays its
// reverse sweep; sparsity callbacks replay its sparsity sweeps." The
// only collaborator this composes with is ad/atomic.go's registry —
// checkpointing is pure composition, not a new dispatch mechanism.

import "sync"

// checkpointAtomic adapts one sealed Function to AtomicFunction. A
// checkpoint may be invoked under several distinct call_ids, possibly
// from different goroutines recording different outer tapes
// concurrently (spec.md §5 only forbids driving *one* Function's
// workspace from two threads at once; it says nothing against many
// outer tapes sharing one registered checkpoint). Each call_id therefore
// gets its own private clone of fn's mutable workspace rather than
// racing on fn's own taylor buffer.
type checkpointAtomic struct {
	fn *Function

	mu    sync.Mutex
	clone map[int]*Function
}

// Checkpoint records h (a function of n independents) once, on the
// calling goroutine, and registers the sealed result as an atomic,
// returning the atomic_index CallAtomic expects.
func Checkpoint(h func(x []Var) []Var, n int) (atomicIndex int, err error) {
	indep := Independent(make([]float64, n))
	y := h(indep)
	fn, err := Dependent(y)
	if err != nil {
		return 0, err
	}
	return CheckpointFunction(fn), nil
}

// CheckpointFunction registers an already-sealed Function as a
// checkpoint atomic, for callers that built fn some other way (e.g. by
// loading a serialized recording rather than recording it fresh).
func CheckpointFunction(fn *Function) int {
	return RegisterAtomic(&checkpointAtomic{fn: fn, clone: make(map[int]*Function)})
}

// workspaceFor returns call_id's private clone of fn, creating it on
// first use.
func (c *checkpointAtomic) workspaceFor(callID int) *Function {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.clone[callID]; ok {
		return g
	}
	g := c.fn.shallowClone()
	c.clone[callID] = g
	return g
}

// ForType reports every output as the most "active" status present
// among the inputs (Variable > Dynamic > Constant), a conservative
// over-approximation: a checkpointed Function's dependents generally do
// mix inputs in ways not worth re-deriving per-output dependency for
// here (that is what ForJacSparsity is for). Documented scoping
// decision, see DESIGN.md.
func (c *checkpointAtomic) ForType(callID int, typeX []VarType) ([]VarType, error) {
	status := TypeConstant
	for _, t := range typeX {
		if t == TypeVariable {
			status = TypeVariable
			break
		}
		if t == TypeDynamic {
			status = TypeDynamic
		}
	}
	typeY := make([]VarType, len(c.fn.depAddr))
	for i := range typeY {
		typeY[i] = status
	}
	return typeY, nil
}

// Forward replays fn's own forward sweep on call_id's private workspace
// for orders orderLow..orderUp.
func (c *checkpointAtomic) Forward(callID int, selectY []bool, orderLow, orderUp int, taylorX, taylorY [][]float64) error {
	ws := c.workspaceFor(callID)
	if ws.orderCap <= orderUp {
		if err := ws.CapacityOrder(orderUp+1, 1); err != nil {
			return err
		}
	}
	n := len(taylorX)
	xpq := make([][]float64, orderUp-orderLow+1)
	for k := orderLow; k <= orderUp; k++ {
		row := make([]float64, n)
		for j := 0; j < n; j++ {
			row[j] = taylorX[j][k]
		}
		xpq[k-orderLow] = row
	}
	y, err := ws.Forward(orderLow, orderUp, 0, xpq)
	if err != nil {
		return err
	}
	for k := orderLow; k <= orderUp; k++ {
		for i := range taylorY {
			taylorY[i][k] = y[k-orderLow][i]
		}
	}
	return nil
}

// Reverse replays fn's own reverse sweep on call_id's private workspace,
// adding the resulting input adjoints into partialX.
func (c *checkpointAtomic) Reverse(callID int, orderUp int, taylorX, partialY, partialX [][]float64) error {
	ws := c.workspaceFor(callID)
	m := len(partialY)
	w := make([]float64, m*(orderUp+1))
	for i := 0; i < m; i++ {
		for k := 0; k <= orderUp; k++ {
			w[i*(orderUp+1)+k] = partialY[i][k]
		}
	}
	dw, err := ws.Reverse(orderUp, w)
	if err != nil {
		return err
	}
	for j := range partialX {
		for k := 0; k <= orderUp; k++ {
			partialX[j][k] += dw[j*(orderUp+1)+k]
		}
	}
	return nil
}

// JacSparsity replays fn's own forward-Jacobian sparsity sweep, seeding
// one input column per selected domain index.
func (c *checkpointAtomic) JacSparsity(callID int, dependency bool, selectX, selectY []bool) ([][]bool, error) {
	ws := c.workspaceFor(callID)
	q := len(selectX)
	patternIn := make([]bitSet, ws.numVar+1)
	for i := range patternIn {
		patternIn[i] = newBitSet(q)
	}
	for j, addr := range ws.indAddr {
		if j < len(selectX) && selectX[j] {
			patternIn[addr][j] = true
		}
	}
	perDep := ws.ForJacSparsity(patternIn, q)
	out := make([][]bool, len(perDep))
	for i := range out {
		row := make([]bool, q)
		if i < len(selectY) && selectY[i] {
			copy(row, perDep[i])
		}
		out[i] = row
	}
	return out, nil
}

// HesSparsity replays fn's own forward-Jacobian sweep (to seed
// jacPerVar) followed by its forward-Hessian sweep.
func (c *checkpointAtomic) HesSparsity(callID int, selectX, selectY []bool) ([][]bool, error) {
	ws := c.workspaceFor(callID)
	q := len(selectX)
	patternIn := make([]bitSet, ws.numVar+1)
	for i := range patternIn {
		patternIn[i] = newBitSet(q)
	}
	for j, addr := range ws.indAddr {
		if j < len(selectX) && selectX[j] {
			patternIn[addr][j] = true
		}
	}
	ws.ForJacSparsity(patternIn, q)
	return ws.ForHesSparsity(selectY)
}

// shallowClone returns a Function sharing this Function's immutable
// recording (op/arg/par/...) but with an independent, zeroed mutable
// workspace: checkpoint.go's way of giving each call_id of a
// checkpointed atomic its own taylor buffer per spec.md §5's
// one-driver-at-a-time rule, without copying the (potentially large)
// immutable recording itself.
func (f *Function) shallowClone() *Function {
	return &Function{
		op:             f.op,
		arg:            f.arg,
		par:            f.par,
		dynOp:          f.dynOp,
		dynArg:         f.dynArg,
		dynPar2Var:     f.dynPar2Var,
		dynIndepCount:  f.dynIndepCount,
		vecAD:          f.vecAD,
		indAddr:        f.indAddr,
		depAddr:        f.depAddr,
		depIsParameter: f.depIsParameter,
		numVar:         f.numVar,
		recordingID:    f.recordingID,
		dynVal:         append([]float64(nil), f.dynVal...),
		checkForNaN:    f.checkForNaN,
		nDir:           1,
	}
}
