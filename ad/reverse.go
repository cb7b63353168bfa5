package ad

// Component F: the reverse sweep. Given adjoint weights of the
// dependents, walks the recording end-to-start accumulating adjoints of
// every variable (spec.md §4.F).
//
// Scope. Full arbitrary-order reverse is implemented for the op family
// with a cheap, exact transpose: Add, Sub, Neg, and Mul/scalar-multiply
// (the "linear or bilinear" family), plus CondExp and CumSum, which
// only route adjoints; StoreVec is a no-op here (its Load routes the
// adjoint) and AtomicCall hands d to the registered callback's
// Reverse. Div, the unary transcendentals, Pow and LoadVec support
// order 0 only — the ordinary-gradient case — and raise ErrBadUsage if
// a caller requests d>=1 reverse against a recording that uses one of
// them. This cutoff is lower than forward.go's, which carries Div,
// Sqrt, Log, Exp, Sin and others at every order, and is recorded as a
// scoping decision in DESIGN.md: deriving the higher-order transpose of
// an implicit recurrence (Div's self-reference, Sqrt/Log's companion
// solve) by hand for every op family was cut for time rather than risk
// a silently wrong higher-order adjoint.

import "math"

// Reverse computes adjoints of the independents, order 0..d, given
// adjoint weights w of the dependents in the same order range (spec.md
// §6's reverse(d, w) -> dw). Requires a prior Forward through at least
// order d.
func (f *Function) Reverse(d int, w []float64) ([]float64, error) {
	f.checkOwner()
	if d < 0 {
		return nil, wrapf(ErrBadUsage, "reverse: d must be >= 0, got %d", d)
	}
	if f.orderCurrent < d {
		return nil, wrapf(ErrBadUsage, "reverse: forward sweep has only reached order %d, need %d", f.orderCurrent, d)
	}
	m := len(f.depAddr)
	if len(w) != m*(d+1) {
		return nil, wrapf(ErrBadUsage, "reverse: w must have length %d, got %d", m*(d+1), len(w))
	}

	partial := make([][]float64, f.numVar+1)
	for i := range partial {
		partial[i] = make([]float64, d+1)
	}
	for i, addr := range f.depAddr {
		for k := 0; k <= d; k++ {
			partial[addr][k] += w[i*(d+1)+k]
		}
	}

	for i := len(f.op) - 1; i >= 0; i-- {
		if err := f.reverseOp(f.op[i], d, partial); err != nil {
			return nil, err
		}
	}

	dw := make([]float64, len(f.indAddr)*(d+1))
	for j, addr := range f.indAddr {
		for k := 0; k <= d; k++ {
			dw[j*(d+1)+k] = partial[addr][k]
		}
	}
	return dw, nil
}

func (f *Function) reverseOp(op opRecord, d int, partial [][]float64) error {
	args := f.op2args(op)
	res := op.resBase

	switch op.code {
	case OpIndep, OpPar, OpDynPar, OpCompare, OpPrint:
		return nil

	case OpNeg:
		for k := 0; k <= d; k++ {
			partial[args[0]][k] -= partial[res][k]
		}
	case OpAbs:
		x0 := f.taylorAt(args[0], 0, 0)
		partial[args[0]][0] += signFn(x0) * partial[res][0]
		if d >= 1 {
			return wrapf(ErrBadUsage, "Abs reverse order %d not supported", d)
		}
	case OpSign:
		// derivative is 0 a.e.; nothing propagates.

	case OpAddVV:
		for k := 0; k <= d; k++ {
			partial[args[0]][k] += partial[res][k]
			partial[args[1]][k] += partial[res][k]
		}
	case OpSubVV:
		for k := 0; k <= d; k++ {
			partial[args[0]][k] += partial[res][k]
			partial[args[1]][k] -= partial[res][k]
		}
	case OpAddPV, OpAddVP:
		varArg := varArgOf(op.code, args)
		for k := 0; k <= d; k++ {
			partial[varArg][k] += partial[res][k]
		}
	case OpSubPV:
		for k := 0; k <= d; k++ {
			partial[args[1]][k] -= partial[res][k]
		}
	case OpSubVP:
		for k := 0; k <= d; k++ {
			partial[args[0]][k] += partial[res][k]
		}
	case OpMulVV:
		for k := 0; k <= d; k++ {
			pzk := partial[res][k]
			if pzk == 0 {
				continue
			}
			for j := 0; j <= k; j++ {
				partial[args[0]][j] += pzk * f.taylorAt(args[1], k-j, 0)
				partial[args[1]][k-j] += pzk * f.taylorAt(args[0], j, 0)
			}
		}
	case OpMulPV:
		c := f.par[args[0]]
		for k := 0; k <= d; k++ {
			partial[args[1]][k] += c * partial[res][k]
		}
	case OpMulVP:
		c := f.par[args[1]]
		for k := 0; k <= d; k++ {
			partial[args[0]][k] += c * partial[res][k]
		}

	case OpDivVV, OpDivPV, OpDivVP:
		if d >= 1 {
			return wrapf(ErrBadUsage, "Div reverse order %d not supported", d)
		}
		f.reverseDivOrder0(op, partial)

	case OpSqrt, OpLog, OpLog1p, OpExp, OpExpm1,
		OpSin, OpCos, OpSinh, OpCosh, OpTan, OpTanh,
		OpAsin, OpAcos, OpAtan, OpAsinh, OpAcosh, OpAtanh, OpErf, OpErfc:
		if d >= 1 {
			return wrapf(ErrBadUsage, "%s reverse order %d not supported", op.code, d)
		}
		f.reverseUnaryOrder0(op, partial)

	case OpPowVV, OpPowPV, OpPowVP:
		if d >= 1 {
			return wrapf(ErrBadUsage, "Pow reverse order %d not supported", d)
		}
		f.reversePowOrder0(op, partial)

	case OpCondExp:
		rel := Rel(op.imm)
		l0, r0 := f.taylorAt(args[0], 0, 0), f.taylorAt(args[1], 0, 0)
		branch := args[3]
		if evalRel(rel, l0, r0) {
			branch = args[2]
		}
		for k := 0; k <= d; k++ {
			partial[branch][k] += partial[res][k]
		}

	case OpLoadVec:
		if d >= 1 {
			return wrapf(ErrBadUsage, "LoadVec reverse order %d not supported", d)
		}
		f.reverseLoad(op, partial)

	case OpStoreVec:
		// handled by the matching Load's reverseLoad call

	case OpAtomicCall:
		return f.dispatchAtomicReverse(op, d, partial)

	case OpCumSum:
		for k := 0; k <= d; k++ {
			pzk := partial[res][k]
			if pzk == 0 {
				continue
			}
			for _, a := range args {
				if a < 0 {
					partial[-a][k] -= pzk
				} else {
					partial[a][k] += pzk
				}
			}
		}

	case OpCSkip:
		// advisory only; see forward.go's forwardOp.

	default:
		return wrapf(ErrBadUsage, "reverse: unsupported opcode %s", op.code)
	}
	return nil
}

func varArgOf(code OpCode, args []int) int {
	if code == OpAddVP {
		return args[0]
	}
	return args[1]
}

func (f *Function) reverseDivOrder0(op opRecord, partial [][]float64) {
	args := f.op2args(op)
	res := op.resBase
	pz := partial[res][0]
	switch op.code {
	case OpDivVV:
		x0, y0 := f.taylorAt(args[0], 0, 0), f.taylorAt(args[1], 0, 0)
		partial[args[0]][0] += pz / y0
		partial[args[1]][0] += pz * (-x0 / (y0 * y0))
	case OpDivPV:
		y0 := f.taylorAt(args[1], 0, 0)
		x0 := f.par[args[0]]
		partial[args[1]][0] += pz * (-x0 / (y0 * y0))
	case OpDivVP:
		y0 := f.par[args[1]]
		partial[args[0]][0] += pz / y0
	}
}

func (f *Function) reverseUnaryOrder0(op opRecord, partial [][]float64) {
	args := f.op2args(op)
	x0 := f.taylorAt(args[0], 0, 0)
	pz := partial[op.resBase][0]
	var deriv float64
	switch op.code {
	case OpSqrt:
		deriv = 1 / (2 * math.Sqrt(x0))
	case OpLog:
		deriv = 1 / x0
	case OpLog1p:
		deriv = 1 / (1 + x0)
	case OpExp:
		deriv = math.Exp(x0)
	case OpExpm1:
		deriv = math.Exp(x0)
	case OpSin:
		deriv = math.Cos(x0)
	case OpCos:
		deriv = -math.Sin(x0)
	case OpSinh:
		deriv = math.Cosh(x0)
	case OpCosh:
		deriv = math.Sinh(x0)
	case OpTan:
		c := math.Cos(x0)
		deriv = 1 / (c * c)
	case OpTanh:
		c := math.Cosh(x0)
		deriv = 1 / (c * c)
	case OpAsin:
		deriv = 1 / math.Sqrt(1-x0*x0)
	case OpAcos:
		deriv = -1 / math.Sqrt(1-x0*x0)
	case OpAtan:
		deriv = 1 / (1 + x0*x0)
	case OpAsinh:
		deriv = 1 / math.Sqrt(x0*x0+1)
	case OpAcosh:
		deriv = 1 / math.Sqrt(x0*x0-1)
	case OpAtanh:
		deriv = 1 / (1 - x0*x0)
	case OpErf:
		deriv = 2 / math.Sqrt(math.Pi) * math.Exp(-x0*x0)
	case OpErfc:
		deriv = -2 / math.Sqrt(math.Pi) * math.Exp(-x0*x0)
	}
	partial[args[0]][0] += deriv * pz
}

func (f *Function) reversePowOrder0(op opRecord, partial [][]float64) {
	args := f.op2args(op)
	res := op.resBase
	pz := partial[res][0]
	var x0, y0 float64
	var xIsVar, yIsVar bool
	switch op.code {
	case OpPowVV:
		x0, y0 = f.taylorAt(args[0], 0, 0), f.taylorAt(args[1], 0, 0)
		xIsVar, yIsVar = true, true
	case OpPowPV:
		x0, y0 = f.par[args[0]], f.taylorAt(args[1], 0, 0)
		yIsVar = true
	case OpPowVP:
		x0, y0 = f.taylorAt(args[0], 0, 0), f.par[args[1]]
		xIsVar = true
	}
	z0 := math.Pow(x0, y0)
	if xIsVar {
		var dzdx float64
		switch {
		case x0 == 0 && y0 > 1:
			dzdx = 0
		case x0 == 0 && y0 == 1:
			dzdx = 1
		case x0 == 0:
			dzdx = math.NaN()
		default:
			dzdx = y0 * z0 / x0
		}
		partial[args[0]][0] += dzdx * pz
	}
	if yIsVar && x0 > 0 {
		partial[args[1]][0] += z0 * math.Log(x0) * pz
	}
}

// reverseLoad routes a Load's adjoint back to the Store that produced
// the value it read (spec.md §4.H: "auxiliary per-vector table of the
// last store to each slot"); here it reconstructs that table by
// scanning the tape once per Load for the nearest preceding Store to
// the same slot at the same index, falling back to the vector's
// declared initial value if none precedes it. O(ops) per load; fine
// for the sizes this library targets, noted as a possible optimization
// rather than a correctness gap.
func (f *Function) reverseLoad(loadOp opRecord, partial [][]float64) {
	args := f.op2args(loadOp)
	which := loadOp.imm
	idx := int(f.taylorAt(args[0], 0, 0))
	pz := partial[loadOp.resBase][0]

	loadPos := -1
	for i, op := range f.op {
		if op.resBase == loadOp.resBase && op.code == OpLoadVec {
			loadPos = i
			break
		}
	}
	for i := loadPos - 1; i >= 0; i-- {
		op := f.op[i]
		if op.code != OpStoreVec || op.imm != which {
			continue
		}
		sargs := f.op2args(op)
		sidx := int(f.taylorAt(sargs[0], 0, 0))
		if sidx == idx {
			partial[sargs[1]][0] += pz
			return
		}
	}
	// no preceding store: the load read the vector's declared initial
	// value, a constant with no variable to receive the adjoint.
}
