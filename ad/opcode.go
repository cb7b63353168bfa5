package ad

// Component A: the op catalog. Every elementary operation that can be
// recorded onto a tape has exactly one entry here, fixing how many
// argument slots it consumes, how many result variables it produces,
// and its unary/binary/commutative shape. Sweeps (forward.go,
// reverse.go, sparsity.go) dispatch on OpCode in a dense switch; no
// virtual calls.

// OpCode tags one elementary operation kind.
type OpCode uint8

const (
	OpInvalid OpCode = iota

	// Independent declaration: zero args, one result (the variable
	// itself; its value is supplied by the caller at each forward
	// sweep, not computed from other variables).
	OpIndep

	// Parameter load: zero tape-visible args, one result, whose value
	// comes from the constant pool (par) or the dynamic-parameter
	// value array.
	OpPar
	OpDynPar

	// Unary elementals. Ops marked companion in opInfo below reserve
	// a second, auxiliary result slot; Sin/Cos and Sinh/Cosh keep their
	// paired function's coefficients there, the others leave it unused.
	OpNeg
	OpAbs
	OpSign
	OpSqrt
	OpExp
	OpExpm1
	OpLog
	OpLog1p
	OpSin
	OpCos
	OpTan
	OpSinh
	OpCosh
	OpTanh
	OpAsin
	OpAcos
	OpAtan
	OpAsinh
	OpAcosh
	OpAtanh
	OpErf
	OpErfc

	// Binary elementals, in variable/variable, parameter/variable and
	// variable/parameter forms. The parameter operand is interned in
	// the constant pool; its tape-pool index is the argument slot.
	OpAddVV
	OpSubVV
	OpMulVV
	OpDivVV
	OpPowVV
	OpAddPV
	OpSubPV
	OpMulPV
	OpDivPV
	OpPowPV
	OpAddVP
	OpSubVP
	OpMulVP
	OpDivVP
	OpPowVP

	// Comparison: records the boolean result at record time; replay
	// checks whether the relation still holds at the new input and, if
	// not, increments the Function's compare_change_count.
	OpCompare

	// Conditional expression: the only opcode whose data-flow
	// dependency is run-time. Five operands: rel (immediate), left,
	// right, then-branch, else-branch.
	OpCondExp

	// Indexed-vector load/store (component H).
	OpLoadVec
	OpStoreVec

	// Atomic function call (component I). Variable argument count;
	// the first four entries of its argument block are
	// (n_arg, n_res, atomic_index, call_id).
	OpAtomicCall

	// Print-for-trace: no result, side effect only.
	OpPrint

	// Optimizer-only ops, never emitted by user-facing recording
	// calls; produced by Optimize's sum-fusion and conditional-skip
	// passes (component J).
	OpCumSum
	OpCSkip
)

// Rel tags the relation recorded by a Compare or used by a CondExp.
type Rel uint8

const (
	RelLt Rel = iota
	RelLe
	RelEq
	RelGe
	RelGt
	RelNe
)

// opInfo describes one opcode's fan-out shape.
type opInfoT struct {
	nArg        int  // fixed argument-slot count (0 for variable-arity ops)
	nRes        int  // result variable count
	isUnary     bool
	isBinary    bool
	commutative bool
	companion   bool // true iff the op reserves a second, auxiliary result slot (written only by Sin/Cos/Sinh/Cosh)
	variadic    bool // true for ops whose argument count is carried in the record itself (AtomicCall, CumSum, CSkip)
}

// opInfo is the published fan-out table, keyed by OpCode. It has one
// entry per opcode constant declared above.
var opInfo = map[OpCode]opInfoT{
	OpInvalid: {},

	OpIndep:  {nArg: 0, nRes: 1},
	OpPar:    {nArg: 1, nRes: 1},
	OpDynPar: {nArg: 1, nRes: 1},

	OpNeg:  {nArg: 1, nRes: 1, isUnary: true},
	OpAbs:  {nArg: 1, nRes: 1, isUnary: true},
	OpSign: {nArg: 1, nRes: 1, isUnary: true},
	OpSqrt: {nArg: 1, nRes: 1, isUnary: true},

	OpExp:   {nArg: 1, nRes: 1, isUnary: true},
	OpExpm1: {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpLog:   {nArg: 1, nRes: 1, isUnary: true},
	OpLog1p: {nArg: 1, nRes: 1, isUnary: true},

	OpSin: {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpCos: {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpTan: {nArg: 1, nRes: 2, isUnary: true, companion: true},

	OpSinh: {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpCosh: {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpTanh: {nArg: 1, nRes: 2, isUnary: true, companion: true},

	OpAsin:  {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpAcos:  {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpAtan:  {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpAsinh: {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpAcosh: {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpAtanh: {nArg: 1, nRes: 2, isUnary: true, companion: true},

	OpErf:  {nArg: 1, nRes: 2, isUnary: true, companion: true},
	OpErfc: {nArg: 1, nRes: 2, isUnary: true, companion: true},

	OpAddVV: {nArg: 2, nRes: 1, isBinary: true, commutative: true},
	OpSubVV: {nArg: 2, nRes: 1, isBinary: true},
	OpMulVV: {nArg: 2, nRes: 1, isBinary: true, commutative: true},
	OpDivVV: {nArg: 2, nRes: 1, isBinary: true},
	OpPowVV: {nArg: 2, nRes: 1, isBinary: true},

	OpAddPV: {nArg: 2, nRes: 1, isBinary: true, commutative: true},
	OpSubPV: {nArg: 2, nRes: 1, isBinary: true},
	OpMulPV: {nArg: 2, nRes: 1, isBinary: true, commutative: true},
	OpDivPV: {nArg: 2, nRes: 1, isBinary: true},
	OpPowPV: {nArg: 2, nRes: 1, isBinary: true},

	OpAddVP: {nArg: 2, nRes: 1, isBinary: true, commutative: true},
	OpSubVP: {nArg: 2, nRes: 1, isBinary: true},
	OpMulVP: {nArg: 2, nRes: 1, isBinary: true, commutative: true},
	OpDivVP: {nArg: 2, nRes: 1, isBinary: true},
	OpPowVP: {nArg: 2, nRes: 1, isBinary: true},

	OpCompare: {nArg: 2, nRes: 0}, // left, right (rel and recorded result in imm)

	OpCondExp: {nArg: 4, nRes: 1}, // left, right, then, else (rel in imm)

	OpLoadVec:  {nArg: 1, nRes: 1}, // index_var (which_vec in imm)
	OpStoreVec: {nArg: 2, nRes: 0}, // index_var, value_var (which_vec in imm)

	OpAtomicCall: {nRes: 0, variadic: true},

	OpPrint: {nArg: 1, nRes: 0},

	OpCumSum: {nRes: 1, variadic: true},
	OpCSkip:  {nRes: 0, variadic: true},
}

// info returns the opInfoT for op, panicking on an unknown opcode: an
// unknown opcode on the tape is a corrupted recording, not a usage
// error a caller can recover from.
func (op OpCode) info() opInfoT {
	i, ok := opInfo[op]
	if !ok {
		panic(wrapf(ErrBadUsage, "unknown opcode %d", op))
	}
	return i
}

func (op OpCode) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return "Op(?)"
}

var opNames = map[OpCode]string{
	OpInvalid: "Invalid", OpIndep: "Indep", OpPar: "Par", OpDynPar: "DynPar",
	OpNeg: "Neg", OpAbs: "Abs", OpSign: "Sign", OpSqrt: "Sqrt",
	OpExp: "Exp", OpExpm1: "Expm1", OpLog: "Log", OpLog1p: "Log1p",
	OpSin: "Sin", OpCos: "Cos", OpTan: "Tan",
	OpSinh: "Sinh", OpCosh: "Cosh", OpTanh: "Tanh",
	OpAsin: "Asin", OpAcos: "Acos", OpAtan: "Atan",
	OpAsinh: "Asinh", OpAcosh: "Acosh", OpAtanh: "Atanh",
	OpErf: "Erf", OpErfc: "Erfc",
	OpAddVV: "AddVV", OpSubVV: "SubVV", OpMulVV: "MulVV", OpDivVV: "DivVV", OpPowVV: "PowVV",
	OpAddPV: "AddPV", OpSubPV: "SubPV", OpMulPV: "MulPV", OpDivPV: "DivPV", OpPowPV: "PowPV",
	OpAddVP: "AddVP", OpSubVP: "SubVP", OpMulVP: "MulVP", OpDivVP: "DivVP", OpPowVP: "PowVP",
	OpCompare: "Compare", OpCondExp: "CondExp",
	OpLoadVec: "LoadVec", OpStoreVec: "StoreVec",
	OpAtomicCall: "AtomicCall", OpPrint: "Print",
	OpCumSum: "CumSum", OpCSkip: "CSkip",
}
