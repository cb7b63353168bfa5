package ad

// Component B: the active scalar. Go has no operator overloading, so
// where spec.md's C++ original intercepts `x + y` through an overloaded
// operator, Var exposes ordinary methods and package-level functions
// (Var.Add, ad.Sin(x), ...) that do the same interception — this is the
// idiomatic Go rendering of spec.md §9's "polymorphic op classes"
// design note, not a functional change to the recording semantics.

import "math"

type varKind uint8

const (
	kindConstant varKind = iota
	kindVariable
	kindDynamic
)

// Var is the triple (value, tape_id, addr) of spec.md §3: the current
// numerical value, a nonzero token identifying the tape this value is a
// variable or dynamic parameter on (0 for a constant), and the tape slot
// that produced it.
type Var struct {
	value  float64
	tapeID uint64
	kind   varKind
	addr   int // variable address when kind == kindVariable
	dyn    int // dynPar2Var index when kind == kindDynamic
}

// Value returns a constant Var: assigning a Base to an active scalar
// always forces tape_id = 0 (spec.md invariant V2).
func Value(v float64) Var {
	return Var{value: v}
}

// Float64 returns the current numerical value, ignoring tape status.
func (a Var) Float64() float64 { return a.value }

// IsConstant, IsVariable, IsDynamic report a's variable status on
// whichever tape a.tapeID names (spec.md §3's "determine the variable
// status of both operands").
func (a Var) IsConstant() bool { return a.kind == kindConstant }
func (a Var) IsVariable() bool { return a.kind == kindVariable }
func (a Var) IsDynamic() bool  { return a.kind == kindDynamic }

// normalize enforces invariant V3 on a single operand. A Var naming a
// tape that is no longer live (its recording ended via Dependent or
// AbortRecording) is stale, not in conflict: spec.md §9's "stale active
// scalars become constants" redesign note demotes it in place, keeping
// its last cached value. A Var naming a tape that is live, just not on
// the calling goroutine, is a genuine cross-tape use and is rejected.
func (v *Var) normalize() error {
	if v.tapeID == 0 {
		return nil
	}
	if cur := currentTape(); cur != nil && v.tapeID == cur.id {
		return nil
	}
	if reg.isLive(v.tapeID) {
		return wrapf(ErrCrossTape, "operand belongs to a different live tape")
	}
	*v = Var{value: v.value}
	return nil
}

// resolveTape normalizes a and b in place and returns the tape they now
// share, if any (nil when both ended up constant).
func resolveTape(a, b *Var) (t *Tape, err error) {
	if err := a.normalize(); err != nil {
		return nil, err
	}
	if err := b.normalize(); err != nil {
		return nil, err
	}
	if a.tapeID != 0 {
		return currentTape(), nil
	}
	if b.tapeID != 0 {
		return currentTape(), nil
	}
	return nil, nil
}

// variableArgAddr returns the tape argument to record for a Var that is
// known to be live on tape t: its variable address if it is a variable,
// or an interned constant-pool index if it is a constant. Dynamic
// operands are handled by the caller (they record onto the dynamic
// sub-tape instead).
func variableArgAddr(t *Tape, v Var) int {
	if v.kind == kindVariable {
		return v.addr
	}
	return t.putConPar(v.value)
}

// binOp implements the var/var, par/var and var/par dispatch shared by
// every binary elemental (spec.md §4.B steps 2-5).
func binOp(a, b Var, compute func(x, y float64) float64,
	vv, pv, vp OpCode) Var {

	value := compute(a.value, b.value)

	t, err := resolveTape(&a, &b)
	if err != nil {
		panic(err)
	}
	if t == nil {
		return Var{value: value}
	}

	if a.kind == kindDynamic || b.kind == kindDynamic {
		if a.kind == kindVariable || b.kind == kindVariable {
			panic(wrapf(ErrBadUsage,
				"cannot mix a dynamic parameter and a variable in one operation"))
		}
		return dynBinOp(t, a, b, value, vv)
	}

	switch {
	case a.kind == kindVariable && b.kind == kindVariable:
		res := t.putOp(vv, 0, a.addr, b.addr)
		return Var{value: value, tapeID: t.id, kind: kindVariable, addr: res}
	case a.kind == kindVariable:
		pi := t.putConPar(b.value)
		res := t.putOp(vp, 0, a.addr, pi)
		return Var{value: value, tapeID: t.id, kind: kindVariable, addr: res}
	default: // b is variable
		pi := t.putConPar(a.value)
		res := t.putOp(pv, 0, pi, b.addr)
		return Var{value: value, tapeID: t.id, kind: kindVariable, addr: res}
	}
}

// dynBinOp records a binary op between two dynamic-parameter-only
// operands onto the dynamic sub-recording (spec.md §4.B step 5).
func dynBinOp(t *Tape, a, b Var, value float64, vv OpCode) Var {
	da, db := a.dyn, b.dyn
	if a.kind == kindConstant {
		da = t.declareConstDyn(a.value)
	}
	if b.kind == kindConstant {
		db = t.declareConstDyn(b.value)
	}
	idx := t.putDynOp(vv, 0, da, db)
	t.dynPar2Var[idx] = t.allocResult(1)
	return Var{value: value, tapeID: t.id, kind: kindDynamic, addr: t.dynPar2Var[idx], dyn: idx}
}

// declareConstDyn lifts a plain constant into the dynamic sub-recording
// so it can be combined with a true dynamic parameter; it is its own
// kind of "parameter load" on the dynamic side.
func (t *Tape) declareConstDyn(v float64) int {
	idx := len(t.dynPar2Var)
	t.dynPar2Var = append(t.dynPar2Var, t.allocResult(1))
	t.dynOp = append(t.dynOp, opRecord{code: OpDynPar, argStart: len(t.dynArg), nArg: 1, resBase: idx})
	t.dynArg = append(t.dynArg, t.putConPar(v))
	return idx
}

// Add, Sub, Mul, Div, Pow are the binary arithmetic operators.
func (a Var) Add(b Var) Var {
	return binOp(a, b, func(x, y float64) float64 { return x + y }, OpAddVV, OpAddPV, OpAddVP)
}
func (a Var) Sub(b Var) Var {
	return binOp(a, b, func(x, y float64) float64 { return x - y }, OpSubVV, OpSubPV, OpSubVP)
}
func (a Var) Mul(b Var) Var {
	return binOp(a, b, func(x, y float64) float64 { return x * y }, OpMulVV, OpMulPV, OpMulVP)
}
func (a Var) Div(b Var) Var {
	return binOp(a, b, func(x, y float64) float64 { return x / y }, OpDivVV, OpDivPV, OpDivVP)
}

// Pow computes pow(a,b). spec.md §9 Open Questions flags pow(x,y) for
// x<0 and non-integer y: the original returns NaN silently, without
// raising a numeric error event. This implementation keeps that policy
// (math.Pow already returns NaN for that domain) and does not raise
// ErrNumeric unless CheckForNaN is set on the driving Function, which
// then surfaces it after the sweep completes — see function.go.
func (a Var) Pow(b Var) Var {
	return binOp(a, b, math.Pow, OpPowVV, OpPowPV, OpPowVP)
}

// unaryOp implements the interception shared by every unary elemental.
func unaryOp(a Var, compute func(float64) float64, code OpCode) Var {
	value := compute(a.value)
	if err := a.normalize(); err != nil {
		panic(err)
	}
	if a.kind == kindConstant {
		return Var{value: value}
	}
	t := currentTape() // normalize already proved a.tapeID == t.id
	if a.kind == kindDynamic {
		idx := t.putDynOp(code, 0, a.dyn)
		res := t.allocResult(1)
		t.dynPar2Var[idx] = res
		return Var{value: value, tapeID: t.id, kind: kindDynamic, addr: res, dyn: idx}
	}
	res := t.putOp(code, 0, a.addr)
	return Var{value: value, tapeID: t.id, kind: kindVariable, addr: res}
}

// Neg is the unary minus.
func (a Var) Neg() Var { return unaryOp(a, func(x float64) float64 { return -x }, OpNeg) }

// Math functions, named after their math package counterparts so that
// `ad.Sin(x)` reads the same as `math.Sin(x)`.
func Abs(a Var) Var   { return unaryOp(a, math.Abs, OpAbs) }
func Sign(a Var) Var  { return unaryOp(a, signFn, OpSign) }
func Sqrt(a Var) Var  { return unaryOp(a, math.Sqrt, OpSqrt) }
func Exp(a Var) Var   { return unaryOp(a, math.Exp, OpExp) }
func Expm1(a Var) Var { return unaryOp(a, math.Expm1, OpExpm1) }
func Log(a Var) Var   { return unaryOp(a, math.Log, OpLog) }
func Log1p(a Var) Var { return unaryOp(a, math.Log1p, OpLog1p) }
func Sin(a Var) Var   { return unaryOp(a, math.Sin, OpSin) }
func Cos(a Var) Var   { return unaryOp(a, math.Cos, OpCos) }
func Tan(a Var) Var   { return unaryOp(a, math.Tan, OpTan) }
func Sinh(a Var) Var  { return unaryOp(a, math.Sinh, OpSinh) }
func Cosh(a Var) Var  { return unaryOp(a, math.Cosh, OpCosh) }
func Tanh(a Var) Var  { return unaryOp(a, math.Tanh, OpTanh) }
func Asin(a Var) Var  { return unaryOp(a, math.Asin, OpAsin) }
func Acos(a Var) Var  { return unaryOp(a, math.Acos, OpAcos) }
func Atan(a Var) Var  { return unaryOp(a, math.Atan, OpAtan) }
func Asinh(a Var) Var { return unaryOp(a, math.Asinh, OpAsinh) }
func Acosh(a Var) Var { return unaryOp(a, math.Acosh, OpAcosh) }
func Atanh(a Var) Var { return unaryOp(a, math.Atanh, OpAtanh) }
func Erf(a Var) Var   { return unaryOp(a, math.Erf, OpErf) }
func Erfc(a Var) Var  { return unaryOp(a, math.Erfc, OpErfc) }

func signFn(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// Comparisons. Plain comparisons are not control flow (spec.md §4.K):
// they return a bool at record time and, in a tape with RecordCompare
// set, leave a Compare op behind so a later forward sweep can detect
// that the recording has gone stale for a different input.
func compare(a, b Var, rel Rel, eval func(x, y float64) bool) bool {
	result := eval(a.value, b.value)
	t, err := resolveTape(&a, &b)
	if err != nil {
		panic(err)
	}
	if t == nil {
		return result
	}
	la := variableOrDynAddr(t, a)
	lb := variableOrDynAddr(t, b)
	t.recordCompareOp(rel, la, lb, result)
	return result
}

// variableOrDynAddr returns a tape variable address for v: its own for a
// variable or dynamic parameter, and for a constant the result of an
// OpPar load of it, so consumers always read a taylor row.
func variableOrDynAddr(t *Tape, v Var) int {
	switch v.kind {
	case kindVariable, kindDynamic:
		return v.addr
	default:
		return t.putOp(OpPar, 0, t.putConPar(v.value))
	}
}

func (a Var) Lt(b Var) bool { return compare(a, b, RelLt, func(x, y float64) bool { return x < y }) }
func (a Var) Le(b Var) bool { return compare(a, b, RelLe, func(x, y float64) bool { return x <= y }) }
func (a Var) Eq(b Var) bool { return compare(a, b, RelEq, func(x, y float64) bool { return x == y }) }
func (a Var) Ge(b Var) bool { return compare(a, b, RelGe, func(x, y float64) bool { return x >= y }) }
func (a Var) Gt(b Var) bool { return compare(a, b, RelGt, func(x, y float64) bool { return x > y }) }
func (a Var) Ne(b Var) bool { return compare(a, b, RelNe, func(x, y float64) bool { return x != y }) }
