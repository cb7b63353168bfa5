package ad

// Component H: indexed vector. A VecAD is a declared array of active
// scalars whose elements can be read and written through record-time
// Load/Store ops whose *index* is itself an active scalar; the original
// exposes this through a write-through reference proxy (spec.md §9's
// design notes flag that pattern for replacement). Here it is two plain
// methods, Load and Store, on VecAD.

// VecAD is a handle to one declared indexed vector on a live tape.
type VecAD struct {
	tapeID  uint64
	which   int // index into Tape.vecAD / Function.vecAD
	length  int
}

// NewVecAD declares a length-len indexed vector with the given initial
// values on the tape currently live on the calling goroutine (spec.md
// §4.H's "VecAd::new(length, initial_values)").
func NewVecAD(initial []Var) VecAD {
	t := currentTape()
	if t == nil {
		panic(wrapf(ErrBadUsage, "NewVecAD called with no tape live on this goroutine"))
	}
	which := len(t.vecAD)
	decl := vecADDecl{
		baseAddr: which,
		length:   len(initial),
		initAddr: make([]int, len(initial)),
		initVal:  make([]float64, len(initial)),
	}
	for i, v := range initial {
		if v.kind == kindVariable {
			decl.initAddr[i] = v.addr
		} else {
			decl.initVal[i] = v.value
		}
	}
	t.vecAD = append(t.vecAD, decl)
	// a variable initial element is written by an ordinary Store at its
	// index, so replay, reverse and sparsity see it like any other store
	for i, v := range initial {
		if v.kind == kindVariable {
			t.putOp(OpStoreVec, which, variableOrDynAddr(t, Value(float64(i))), v.addr)
			t.setElemValue(which, i, v.value)
		}
	}
	return VecAD{tapeID: t.id, which: which, length: len(initial)}
}

// Length returns the vector's declared length.
func (v VecAD) Length() int { return v.length }

// Load reads element Integer(index.Float64()) and returns a fresh
// active scalar recording that read (spec.md §4.H Load). index may
// itself be a variable: its order-zero value picks the slot at every
// replay, while the Load's Taylor coefficients and adjoint come from
// the value stored in that slot, not from the index.
func (v VecAD) Load(index Var) Var {
	if err := index.normalize(); err != nil {
		panic(err)
	}
	t := currentTape()
	assertf(t != nil && v.tapeID == t.id, "VecAD used after its tape ended")

	i := int(index.value)
	assertf(i >= 0 && i < v.length, "VecAD Load index %d out of range [0,%d)", i, v.length)

	idxArg := variableOrDynAddr(t, index)
	res := t.putOp(OpLoadVec, v.which, idxArg)
	return Var{value: t.currentElemValue(v.which, i), tapeID: t.id, kind: kindVariable, addr: res}
}

// Store overwrites element Integer(index.Float64()) with val's complete
// value (spec.md §4.H Store): later Loads from the same slot see val's
// value until the next Store to that slot.
func (v VecAD) Store(index, val Var) {
	if err := index.normalize(); err != nil {
		panic(err)
	}
	if err := val.normalize(); err != nil {
		panic(err)
	}
	t := currentTape()
	assertf(t != nil && v.tapeID == t.id, "VecAD used after its tape ended")

	i := int(index.value)
	assertf(i >= 0 && i < v.length, "VecAD Store index %d out of range [0,%d)", i, v.length)

	idxArg := variableOrDynAddr(t, index)
	valArg := variableOrDynAddr(t, val)
	t.putOp(OpStoreVec, v.which, idxArg, valArg)
	t.setElemValue(v.which, i, val.value)
}

// currentElemValue/setElemValue track each vector's *record-time*
// values only, so Load immediately after a record-time Store returns
// the right constant-folded value when both operands are constants;
// replay values live in Function.vecStore (see vecStoreState below).
func (t *Tape) currentElemValue(which, i int) float64 {
	for len(t.vecElems) <= which {
		t.vecElems = append(t.vecElems, nil)
	}
	if t.vecElems[which] == nil {
		decl := t.vecAD[which]
		t.vecElems[which] = append([]float64(nil), decl.initVal...)
	}
	return t.vecElems[which][i]
}

func (t *Tape) setElemValue(which, i int, val float64) {
	t.currentElemValue(which, i) // ensure allocated
	t.vecElems[which][i] = val
}

// vecStoreState is a sealed Function's per-vector replay state: the
// current Taylor coefficients stored at every slot (coefficients, not
// just values, since higher-order forward sweeps need a Load to return
// the stored derivative information too - spec.md §4.H). The reverse
// sweep does not read this table: reverseLoad finds a Load's matching
// Store by scanning the tape backward.
type vecStoreState struct {
	// elemCoef[i][k] holds slot i's current order-k coefficient. It is
	// indexed by order only, with no direction column, and grows on
	// demand (setVecStoreCoef), since a store may arrive before
	// capacityOrder has grown to the order being replayed.
	elemCoef    [][]float64
	lastStoreOp []int // set to -1 for every slot by newVecStoreState; no sweep updates it
}

func newVecStoreState(decl vecADDecl) vecStoreState {
	s := vecStoreState{
		elemCoef:    make([][]float64, decl.length),
		lastStoreOp: make([]int, decl.length),
	}
	for i := range s.elemCoef {
		s.elemCoef[i] = []float64{decl.initVal[i]}
		s.lastStoreOp[i] = -1
	}
	return s
}

// ensureVecStore (re)builds f.vecStore, one vecStoreState per declared
// vecAD, the first time it is needed (seal's initial capacityOrder call
// and, for a Function rebuilt by FunctionFromJSON, the first
// CapacityOrder triggered by Forward). A no-op once already sized,
// so it never discards coefficients accumulated mid-sweep.
func (f *Function) ensureVecStore() {
	if len(f.vecStore) == len(f.vecAD) {
		return
	}
	f.vecStore = make([]vecStoreState, len(f.vecAD))
	for i, decl := range f.vecAD {
		f.vecStore[i] = newVecStoreState(decl)
	}
}

// vecStoreAt returns slot idx's current Taylor coefficients for the
// which'th declared vector, as set by forwardStore (component H's
// replay-time store table).
func (f *Function) vecStoreAt(which, idx int) []float64 {
	return f.vecStore[which].elemCoef[idx]
}

// setVecStoreCoef records val as slot idx's order-k coefficient for the
// which'th declared vector, growing the slot's coefficient slice as
// needed (orders between the slice's previous length and k-1 are left
// at their zero value, matching a fresh CapacityOrder-grown taylor
// column).
func (f *Function) setVecStoreCoef(which, idx, k int, val float64) {
	st := &f.vecStore[which]
	for len(st.elemCoef[idx]) <= k {
		st.elemCoef[idx] = append(st.elemCoef[idx], 0)
	}
	st.elemCoef[idx][k] = val
}
