package ad

// Component I: the atomic-function extension. A registry keyed by an
// integer handle (atomic_index); each entry owns a user-supplied
// implementation of the five callbacks spec.md §4.I names. Replaces the
// original's virtual dispatch on polymorphic atomic objects (spec.md §9
// design note) with a closed Go interface plus an integer-indexed
// registry, exactly the "registry table indexed by integer handle for
// the open-world atomic callbacks" the design notes call for.

import "sync"

// VarType tags the record-time variable status an atomic's for_type
// callback receives and returns (spec.md §4.I).
type VarType uint8

const (
	TypeConstant VarType = iota
	TypeDynamic
	TypeVariable
)

// AtomicFunction is the callback bundle a user registers for one
// atomic_index (spec.md §4.I). call_id discriminates among distinct
// uses of the same registered object within one or more recordings.
type AtomicFunction interface {
	// ForType returns each output's variable status given the inputs'.
	ForType(callID int, typeX []VarType) (typeY []VarType, err error)

	// Forward computes output Taylor coefficients for orders
	// orderLow..orderUp in one direction, from already-known lower
	// orders and the full input coefficient matrix (selectY marks
	// which outputs the caller actually needs).
	Forward(callID int, selectY []bool, orderLow, orderUp int, taylorX, taylorY [][]float64) error

	// Reverse adds contributions from partialY to partialX through the
	// atomic's analytic derivative, for orders 0..orderUp.
	Reverse(callID int, orderUp int, taylorX [][]float64, partialY [][]float64, partialX [][]float64) error

	// JacSparsity reports this call's Jacobian sparsity pattern.
	JacSparsity(callID int, dependency bool, selectX []bool, selectY []bool) (pattern [][]bool, err error)

	// HesSparsity reports this call's Hessian sparsity pattern.
	HesSparsity(callID int, selectX []bool, selectY []bool) (pattern [][]bool, err error)
}

type atomicRegistry struct {
	mu    sync.Mutex
	funcs []AtomicFunction
}

var atomics = &atomicRegistry{}

// RegisterAtomic adds fn to the process-wide atomic registry and
// returns its atomic_index, stable for the life of the process (spec.md
// §5: "the immutable registry of atomic functions" is the one thing
// shared across threads).
func RegisterAtomic(fn AtomicFunction) int {
	atomics.mu.Lock()
	defer atomics.mu.Unlock()
	atomics.funcs = append(atomics.funcs, fn)
	return len(atomics.funcs) - 1
}

func atomicAt(index int) AtomicFunction {
	atomics.mu.Lock()
	defer atomics.mu.Unlock()
	if index < 0 || index >= len(atomics.funcs) {
		return nil
	}
	return atomics.funcs[index]
}

// CallAtomic records an AtomicCall op against the inputs x on the
// currently live tape, returning one Var per output (spec.md §4.A/§4.I:
// "the first four fixed entries in its argument block are (n_arg, n_res,
// atomic_index, call_id)"). ForType is invoked immediately to learn how
// many outputs are variables (the rest are constants baked in at
// record time, matching an atomic that turns out data-independent for
// this call).
func CallAtomic(atomicIndex, callID int, x []Var) ([]Var, error) {
	fn := atomicAt(atomicIndex)
	if fn == nil {
		return nil, wrapf(ErrBadUsage, "no atomic registered at index %d", atomicIndex)
	}
	typeX := make([]VarType, len(x))
	for i, v := range x {
		if err := v.normalize(); err != nil {
			return nil, err
		}
		switch {
		case v.kind == kindVariable:
			typeX[i] = TypeVariable
		case v.kind == kindDynamic:
			typeX[i] = TypeDynamic
		default:
			typeX[i] = TypeConstant
		}
	}
	typeY, err := fn.ForType(callID, typeX)
	if err != nil {
		return nil, errors2Atomic(err)
	}

	anyVar := false
	for _, tx := range typeX {
		if tx == TypeVariable {
			anyVar = true
		}
	}
	if !anyVar {
		return nil, wrapf(ErrBadUsage, "CallAtomic with no variable input: compute directly instead of recording")
	}
	t := currentTapeOrPanicAny(x)

	args := make([]int, 0, len(x)+4)
	args = append(args, len(x), len(typeY), atomicIndex, callID)
	for _, v := range x {
		args = append(args, variableOrDynAddr(t, v))
	}
	res := t.allocResult(len(typeY))
	t.op = append(t.op, opRecord{code: OpAtomicCall, argStart: len(t.arg), nArg: len(args), resBase: res, imm: len(x)})
	t.arg = append(t.arg, args...)

	out := make([]Var, len(typeY))
	xVals := make([]float64, len(x))
	for i, v := range x {
		xVals[i] = v.value
	}
	yVals, err := evalAtomicValue(fn, callID, xVals, len(typeY))
	if err != nil {
		return nil, err
	}
	for i := range out {
		if typeY[i] == TypeConstant {
			out[i] = Var{value: yVals[i]}
			continue
		}
		out[i] = Var{value: yVals[i], tapeID: t.id, kind: kindVariable, addr: res + i}
	}
	return out, nil
}

// evalAtomicValue runs a throwaway order-0 forward call just to learn
// the nRes output values at record time (every Var needs a concrete
// value the instant it is created, same as every other op). It passes
// one single-coefficient row per input and per output, the layout
// AtomicFunction.Forward takes.
func evalAtomicValue(fn AtomicFunction, callID int, x []float64, nRes int) ([]float64, error) {
	taylorX := make([][]float64, len(x))
	for i, v := range x {
		taylorX[i] = []float64{v}
	}
	taylorY := make([][]float64, nRes)
	for i := range taylorY {
		taylorY[i] = make([]float64, 1)
	}
	if err := fn.Forward(callID, nil, 0, 0, taylorX, taylorY); err != nil {
		return nil, errors2Atomic(err)
	}
	y := make([]float64, nRes)
	for i := range y {
		y[i] = taylorY[i][0]
	}
	return y, nil
}

func errors2Atomic(err error) error {
	if err == nil {
		return nil
	}
	log.WithFields(map[string]interface{}{"error": err.Error()}).Warn("atomic callback failed")
	return wrapf(ErrAtomicFailed, "%s", err.Error())
}

func currentTapeOrPanicAny(vars []Var) *Tape {
	for _, v := range vars {
		if v.tapeID != 0 {
			return currentTape()
		}
	}
	panic(wrapf(ErrBadUsage, "CallAtomic: no tape-carrying operand"))
}

// dispatchAtomicForward reads this AtomicCall's argument block, invokes
// the registered callback's Forward for order k in direction dir, and
// writes its outputs back into the taylor workspace.
func (f *Function) dispatchAtomicForward(op opRecord, k, dir int) error {
	args := f.op2args(op)
	nArg, nRes, atomicIndex, callID := args[0], args[1], args[2], args[3]
	fn := atomicAt(atomicIndex)
	if fn == nil {
		return wrapf(ErrAtomicFailed, "no atomic registered at index %d", atomicIndex)
	}
	xAddrs := args[4 : 4+nArg]
	taylorX := make([][]float64, nArg)
	for i, addr := range xAddrs {
		row := make([]float64, k+1)
		for j := 0; j <= k; j++ {
			row[j] = f.taylorAt(addr, j, dir)
		}
		taylorX[i] = row
	}
	taylorY := make([][]float64, nRes)
	for i := range taylorY {
		row := make([]float64, k+1)
		for j := 0; j < k; j++ {
			row[j] = f.taylorAt(op.resBase+i, j, dir)
		}
		taylorY[i] = row
	}
	if err := fn.Forward(callID, nil, k, k, taylorX, taylorY); err != nil {
		return errors2Atomic(err)
	}
	for i := 0; i < nRes; i++ {
		f.setTaylor(op.resBase+i, k, dir, taylorY[i][k])
	}
	return nil
}

// dispatchAtomicReverse invokes the registered callback's Reverse and
// folds its output adjoints into partial.
func (f *Function) dispatchAtomicReverse(op opRecord, d int, partial [][]float64) error {
	args := f.op2args(op)
	nArg, nRes, atomicIndex, callID := args[0], args[1], args[2], args[3]
	fn := atomicAt(atomicIndex)
	if fn == nil {
		return wrapf(ErrAtomicFailed, "no atomic registered at index %d", atomicIndex)
	}
	xAddrs := args[4 : 4+nArg]
	taylorX := make([][]float64, nArg)
	partialX := make([][]float64, nArg)
	for i, addr := range xAddrs {
		row := make([]float64, d+1)
		for j := 0; j <= d; j++ {
			row[j] = f.taylorAt(addr, j, 0)
		}
		taylorX[i] = row
		partialX[i] = make([]float64, d+1)
	}
	partialY := make([][]float64, nRes)
	for i := 0; i < nRes; i++ {
		partialY[i] = append([]float64(nil), partial[op.resBase+i][:d+1]...)
	}
	if err := fn.Reverse(callID, d, taylorX, partialY, partialX); err != nil {
		return errors2Atomic(err)
	}
	for i, addr := range xAddrs {
		for j := 0; j <= d; j++ {
			partial[addr][j] += partialX[i][j]
		}
	}
	return nil
}
