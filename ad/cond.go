package ad

// Component K: conditional expression and compare machinery.
//
// CondExp is the only opcode whose data-flow dependency depends on a
// run-time value (spec.md §4.A, §4.K): it always records five operands
// (rel, left, right, then, else) and, at every replay, selects whichever
// branch rel(left,right) picks at that replay's order-zero values, then
// copies every order's coefficients from the chosen branch. This is how
// a branch chosen at record time can still vary on re-evaluation,
// exactly the role spec.md §1 reserves for it ("CondExp is the only way
// to encode run-time branch selection that survives re-evaluation").

// evalRel applies rel to the order-zero values l0, r0.
func evalRel(rel Rel, l0, r0 float64) bool {
	switch rel {
	case RelLt:
		return l0 < r0
	case RelLe:
		return l0 <= r0
	case RelEq:
		return l0 == r0
	case RelGe:
		return l0 >= r0
	case RelGt:
		return l0 > r0
	case RelNe:
		return l0 != r0
	default:
		panic(wrapf(ErrBadUsage, "unknown relation %d", rel))
	}
}

// CondExp records `if rel(l,r) { t } else { e }`, selected at every
// replay rather than baked in at record time.
func CondExp(rel Rel, l, r, thenV, elseV Var) Var {
	take := evalRel(rel, l.value, r.value)
	value := elseV.value
	if take {
		value = thenV.value
	}

	operands := [4]*Var{&l, &r, &thenV, &elseV}
	for _, v := range operands {
		if err := v.normalize(); err != nil {
			panic(err)
		}
	}

	var t *Tape
	for _, v := range operands {
		if v.tapeID != 0 {
			t = currentTape()
			break
		}
	}
	if t == nil {
		// every operand normalized to a constant (some possibly stale);
		// nothing left to record against.
		return Var{value: value}
	}

	la := variableOrDynAddr(t, l)
	lr := variableOrDynAddr(t, r)
	lt := variableOrDynAddr(t, thenV)
	le := variableOrDynAddr(t, elseV)
	res := t.putOp(OpCondExp, int(rel), la, lr, lt, le)
	return Var{value: value, tapeID: t.id, kind: kindVariable, addr: res}
}
