package ad

// Order-zero value computation shared by the dynamic-parameter evaluator
// (function.go's evalDynamic) and the forward sweep (forward.go): both
// need "what does this opcode compute from its arguments' values", keyed
// generically by OpCode instead of re-deriving each unary/binary
// elemental's math a second time.

import "math"

var unaryFn = map[OpCode]func(float64) float64{
	OpNeg:   func(x float64) float64 { return -x },
	OpAbs:   math.Abs,
	OpSign:  signFn,
	OpSqrt:  math.Sqrt,
	OpExp:   math.Exp,
	OpExpm1: math.Expm1,
	OpLog:   math.Log,
	OpLog1p: math.Log1p,
	OpSin:   math.Sin,
	OpCos:   math.Cos,
	OpTan:   math.Tan,
	OpSinh:  math.Sinh,
	OpCosh:  math.Cosh,
	OpTanh:  math.Tanh,
	OpAsin:  math.Asin,
	OpAcos:  math.Acos,
	OpAtan:  math.Atan,
	OpAsinh: math.Asinh,
	OpAcosh: math.Acosh,
	OpAtanh: math.Atanh,
	OpErf:   math.Erf,
	OpErfc:  math.Erfc,
}

// binaryFn is keyed by the VV opcode of each family; the dynamic
// sub-recording only ever uses the VV form (both operands are dyn-value
// indices after a constant is lifted via declareConstDyn), and the
// forward sweep's order-zero pass computes the same value regardless of
// which of VV/PV/VP the op actually is.
var binaryFn = map[OpCode]func(x, y float64) float64{
	OpAddVV: func(x, y float64) float64 { return x + y },
	OpSubVV: func(x, y float64) float64 { return x - y },
	OpMulVV: func(x, y float64) float64 { return x * y },
	OpDivVV: func(x, y float64) float64 { return x / y },
	OpPowVV: math.Pow,
}

// baseBinaryOp maps a PV/VP opcode back to its VV family member, so
// order-zero evaluation can share one binaryFn lookup regardless of
// operand shape.
func baseBinaryOp(code OpCode) OpCode {
	switch code {
	case OpAddPV, OpAddVP:
		return OpAddVV
	case OpSubPV, OpSubVP:
		return OpSubVV
	case OpMulPV, OpMulVP:
		return OpMulVV
	case OpDivPV, OpDivVP:
		return OpDivVV
	case OpPowPV, OpPowVP:
		return OpPowVV
	default:
		return code
	}
}
