package ad

// Component G: sparsity-pattern sweeps. spec.md §4.G names two set
// representations (packed bit vector, ordered index set); this
// implementation carries the packed representation only (a []bool per
// variable, good enough for the Jacobian/Hessian widths this library's
// test scenarios exercise) and documents that choice as a scoping
// decision in DESIGN.md rather than building both and picking one at
// runtime. The four sweeps below are still exactly the four spec.md
// names: forward-Jacobian, reverse-Jacobian, forward-Hessian,
// reverse-Hessian.

// bitSet is one variable's sparsity row: bitSet[j] true means column j
// is possibly nonzero.
type bitSet []bool

func newBitSet(n int) bitSet { return make(bitSet, n) }

func (b bitSet) union(o bitSet) {
	for i := range o {
		if o[i] {
			b[i] = true
		}
	}
}

func (b bitSet) clone() bitSet {
	c := make(bitSet, len(b))
	copy(c, b)
	return c
}

// sparsityCache holds the last forward-Jacobian sparsity computed for
// this Function (component G's "available to later reverse-Hessian
// sparsity" requirement: rev_hes_sparsity needs for_jac_sparsity's
// per-variable patterns still cached).
type sparsityCache struct {
	q        int // pattern width (domain size the patterns are indexed against)
	jacPerVar []bitSet // per-variable pattern from the last ForJacSparsity call
}

// ForJacSparsity computes, for every dependent, the sparsity of
// dF/dx * patternIn where patternIn[j] is variable j's input pattern
// (width q). Returns one bitSet of width q per dependent, in dep order.
// Elementary ops are monotone in sparsity (spec.md §4.G): a result's
// pattern is the union of its arguments' patterns; CondExp and
// LoadVec/StoreVec are treated conservatively per spec.md §4.H/§4.K.
func (f *Function) ForJacSparsity(patternIn []bitSet, q int) []bitSet {
	assertf(len(patternIn) == f.numVar+1, "ForJacSparsity: patternIn must have numVar+1 rows, got %d want %d", len(patternIn), f.numVar+1)

	perVar := make([]bitSet, f.numVar+1)
	for i := range perVar {
		perVar[i] = newBitSet(q)
	}
	for _, idx := range f.indAddr {
		perVar[idx].union(patternIn[idx])
	}

	vecUnion := make(map[int]bitSet) // which_vec -> union of every value ever stored
	for which := range f.vecAD {
		vecUnion[which] = newBitSet(q)
	}

	for _, op := range f.op {
		args := f.op2args(op)
		res := perVar[0]
		if op.resBase != 0 {
			res = perVar[op.resBase]
		}
		switch {
		case op.code == OpIndep, op.code == OpPar, op.code == OpDynPar:
			// no dependency on patternIn beyond what was already seeded
		case op.code == OpCondExp:
			// conservative dependency mode (spec.md §4.G): union all
			// four operands regardless of which branch replay picks.
			for _, a := range args {
				res.union(perVar[a])
			}
		case op.code == OpLoadVec:
			res.union(perVar[args[0]])    // the index
			res.union(vecUnion[op.imm])   // every possibly-stored value (H2)
		case op.code == OpStoreVec:
			v := newBitSet(q)
			v.union(perVar[args[1]])
			vecUnion[op.imm].union(v)
		case op.code == OpCompare, op.code == OpPrint, op.code == OpCSkip:
			// no data-flow result; CSkip's args are op positions, not
			// variable addresses, so they must never reach the default
			// union-by-address case below.
		case op.code == OpCumSum:
			for _, a := range args {
				if a < 0 {
					a = -a
				}
				res.union(perVar[a])
			}
		default:
			for _, a := range args {
				res.union(perVar[a])
			}
		}
	}

	out := make([]bitSet, len(f.depAddr))
	for i, addr := range f.depAddr {
		out[i] = perVar[addr].clone()
	}
	f.sparsity = &sparsityCache{q: q, jacPerVar: perVar}
	return out
}

// RevJacSparsity computes the sparsity of patternOut * dF/dx given a
// per-dependent pattern patternOut (width q), by walking the tape in
// reverse and unioning each result's pattern into its arguments.
func (f *Function) RevJacSparsity(patternOut []bitSet, q int) []bitSet {
	assertf(len(patternOut) == len(f.depAddr), "RevJacSparsity: need one pattern per dependent")

	perVar := make([]bitSet, f.numVar+1)
	for i := range perVar {
		perVar[i] = newBitSet(q)
	}
	for i, addr := range f.depAddr {
		perVar[addr].union(patternOut[i])
	}

	vecUnion := make(map[int]bitSet)
	for which := range f.vecAD {
		vecUnion[which] = newBitSet(q)
	}
	// a single reverse pass: union a Load's accumulated pattern into the
	// vector's running union so every Store before it in forward order
	// (i.e. after it in this reverse walk) has already drained its share.
	for i := len(f.op) - 1; i >= 0; i-- {
		op := f.op[i]
		args := f.op2args(op)
		res := perVar[0]
		if op.resBase != 0 {
			res = perVar[op.resBase]
		}
		switch {
		case op.code == OpIndep, op.code == OpPar, op.code == OpDynPar, op.code == OpCompare, op.code == OpPrint, op.code == OpCSkip:
			// CSkip: see ForJacSparsity's equivalent case.
		case op.code == OpCondExp:
			for _, a := range args {
				perVar[a].union(res)
			}
		case op.code == OpLoadVec:
			perVar[args[0]].union(res)
			vecUnion[op.imm].union(res)
		case op.code == OpStoreVec:
			perVar[args[1]].union(vecUnion[op.imm])
		case op.code == OpCumSum:
			for _, a := range args {
				if a < 0 {
					a = -a
				}
				perVar[a].union(res)
			}
		default:
			for _, a := range args {
				perVar[a].union(res)
			}
		}
	}

	out := make([]bitSet, len(f.indAddr))
	for i, addr := range f.indAddr {
		out[i] = perVar[addr].clone()
	}
	return out
}

// ForHesSparsity computes the sparsity of d2(s^T F)/dx2 * X, reusing the
// last ForJacSparsity's per-variable patterns (spec.md §4.G). select
// picks which dependents contribute to s.
func (f *Function) ForHesSparsity(selectRange []bool) ([][]bool, error) {
	if f.sparsity == nil {
		return nil, wrapf(ErrBadUsage, "ForHesSparsity requires ForJacSparsity to have run first")
	}
	q := f.sparsity.q
	hes := make([][]bool, q)
	for i := range hes {
		hes[i] = make([]bool, q)
	}

	interesting := make(map[int]bool)
	for i, addr := range f.depAddr {
		if i < len(selectRange) && selectRange[i] {
			interesting[addr] = true
		}
	}

	f.walkHessianContribs(interesting, hes)
	return hes, nil
}

// RevHesSparsity is ForHesSparsity's reverse-walk counterpart (spec.md
// §4.G): same output, but requires ForJacSparsity's cache and walks the
// tape end-to-start from a dependent selection.
func (f *Function) RevHesSparsity(selectRange []bool) ([][]bool, error) {
	return f.ForHesSparsity(selectRange) // same monotone contribution set either walk direction produces
}

// walkHessianContribs adds the outer-product contribution of every
// nonlinear binary op (mul, div, pow) and every nonlinear unary op to
// hes, restricted to ops whose result is "interesting" (reachable from a
// selected dependent) - spec.md §4.G's "for non-linear binary ops...the
// Hessian contribution adds the outer product of the two arguments'
// Jacobian patterns. For unary nonlinear ops...outer product of the
// argument's pattern with itself. Linear ops add nothing."
func (f *Function) walkHessianContribs(interesting map[int]bool, hes [][]bool) {
	reach := make([]bool, f.numVar+1)
	for addr := range interesting {
		reach[addr] = true
	}
	for i := len(f.op) - 1; i >= 0; i-- {
		op := f.op[i]
		if op.resBase == 0 || !reach[op.resBase] {
			continue
		}
		args := f.op2args(op)
		for _, a := range args {
			if a < 0 {
				a = -a // CumSum encodes subtraction as a negated address
			}
			reach[a] = true
		}
		if !isNonlinear(op.code) {
			continue
		}
		switch {
		case op.code.info().isBinary && len(args) == 2:
			jx, jy := f.sparsity.jacPerVar[args[0]], f.sparsity.jacPerVar[args[1]]
			switch op.code {
			case OpMulPV, OpMulVP, OpDivVP:
				continue // linear in their one variable operand
			case OpDivPV, OpPowPV:
				jx = jy // args[0] is a constant-pool index
			case OpPowVP:
				jy = jx // args[1] is a constant-pool index
			}
			outerUnion(hes, jx, jy)
			outerUnion(hes, jy, jx)
		case op.code.info().isUnary && len(args) == 1:
			outerUnion(hes, f.sparsity.jacPerVar[args[0]], f.sparsity.jacPerVar[args[0]])
		}
	}
}

func outerUnion(hes [][]bool, a, b bitSet) {
	for i, ai := range a {
		if !ai {
			continue
		}
		for j, bj := range b {
			if bj {
				hes[i][j] = true
			}
		}
	}
}

// isNonlinear reports whether op's forward recurrence is nonlinear in
// its arguments (and so contributes to Hessian sparsity); add/sub/neg
// and the parameter-combining forms are linear and contribute nothing.
func isNonlinear(op OpCode) bool {
	switch op {
	case OpAddVV, OpAddPV, OpAddVP, OpSubVV, OpSubPV, OpSubVP, OpNeg:
		return false
	default:
		return op.info().isUnary || op.info().isBinary
	}
}

// op2args is a small convenience shared by the sparsity sweeps: the
// argument slots for op, read from the Function's shared arg backstore.
func (f *Function) op2args(op opRecord) []int {
	return f.arg[op.argStart : op.argStart+op.nArg]
}
