package ad

// Component C: the tape. An append-only, per-goroutine recording of
// opcodes, their argument indices, and the constant pool, plus the
// parallel dynamic-parameter sub-recording and the declared indexed
// vectors. Modelled on the teacher's oneGlobalTape (ad/tape.go in
// _examples/zeta1999-infergo), generalized from a single (records,
// places, values) scalar-gradient tape to the full op/arg/par shape
// spec.md §3 and §4.C describe, and moved from one process-wide tape to
// one tape per live goroutine (registry.go).
//
// Storage follows CppAD's pod_vector convention (original_source
// cppad/local/pod_vector.hpp): plain slices grown geometrically via
// append, never a linked structure, so a hot recording loop amortizes to
// O(1) per op.

import (
	"math"

	"github.com/google/uuid"
)

// opRecord is one entry in Tape.op / Tape.dynOp.
type opRecord struct {
	code     OpCode
	argStart int // offset into the tape's arg backstore
	nArg     int // actual argument count (differs from opInfo.nArg only for variadic ops)
	resBase  int // first result variable address; 0 when the op has no result
	imm      int // immediate payload: Rel for Compare/CondExp, which_vec for *Vec ops
}

// vecADDecl is one declared indexed vector (component H).
type vecADDecl struct {
	baseAddr int       // this vector's index into Tape.vecAD
	length   int
	initAddr []int     // tape variable address of each element's initial value, 0 if constant
	initVal  []float64 // constant initial value when initAddr[i] == 0
}

// Tape is the append-only recording owned by exactly one goroutine for
// exactly one Independent/Dependent bracket (spec.md §3, §5).
type Tape struct {
	id        uint64 // nonzero per-recording token; see registry.go
	goroutine int64

	op     []opRecord
	arg    []int
	par    []float64
	parIdx map[uint64]int // bit pattern of a float64 -> index in par; bit-identity, not numeric equality, so NaN is still internable

	dynOp      []opRecord
	dynArg     []int
	dynPar2Var []int     // tape variable address assigned to each dynamic parameter, in declaration order
	dynInitVal []float64 // initial value of each dynOp entry that is an independent dynamic declare; unused (0) otherwise

	vecAD    []vecADDecl
	vecElems [][]float64 // record-time current value of each declared vector's elements, parallel to vecAD

	indAddr        []int
	depAddr        []int
	depIsParameter []bool

	numVar int // highest allocated variable address; addresses 1..numVar are valid

	recordCompare bool
	abortOpIndex  int

	recordingID uuid.UUID
	sealed      bool

	// indepVars is the vector returned by Independent/IndependentDynamic,
	// kept on the tape itself so Dependent only has to supply y: spec.md
	// §6's Dependent(x, y) takes x explicitly because the C++ original
	// has no other way to recover it; here the tape already knows.
	indepVars []Var
}

func newTape() *Tape {
	return &Tape{
		id:          nextTapeID(),
		goroutine:   goroutineID(),
		parIdx:      make(map[uint64]int),
		recordingID: uuid.New(),
	}
}

// allocResult reserves n fresh variable addresses and returns the first.
func (t *Tape) allocResult(n int) int {
	if n == 0 {
		return 0
	}
	base := t.numVar + 1
	t.numVar += n
	if t.numVar > maxAddr {
		panic(wrapf(ErrCapacityExceeded,
			"recording exceeds %d variables", maxAddr))
	}
	return base
}

// maxAddr bounds the address space representable by the chosen (int)
// addressing; spec.md §7 calls this out as the capacity-exceeded error
// kind. A narrower type could be swapped in for a packed on-disk
// format; int is used here since the tape never leaves process memory
// except through serialize.go, which re-encodes addresses explicitly.
const maxAddr = 1<<31 - 1

// putArg appends one argument (a variable address, or an index into par
// / dynPar2Var depending on the op) to the tape's shared arg backstore.
func (t *Tape) putArg(a int) {
	t.arg = append(t.arg, a)
}

// putConPar interns v into the constant pool by bit pattern and returns
// its index, reusing an existing entry when one is bit-identical. Using
// math.Float64bits rather than numeric equality keeps NaN internable
// (two recorded NaNs with the same bit pattern collapse to one entry;
// a NaN is never equal to itself under ==, which would otherwise force
// one entry per occurrence).
func (t *Tape) putConPar(v float64) int {
	key := math.Float64bits(v)
	if i, ok := t.parIdx[key]; ok {
		return i
	}
	i := len(t.par)
	t.par = append(t.par, v)
	t.parIdx[key] = i
	return i
}

// putOp appends one opcode with nRes freshly allocated result addresses
// and returns the first result address (0 if the op has no result).
func (t *Tape) putOp(code OpCode, imm int, args ...int) int {
	if t.abortOpIndex != 0 && len(t.op) == t.abortOpIndex {
		panic(wrapf(ErrBadUsage, "recording aborted at op index %d", t.abortOpIndex))
	}
	info := code.info()
	start := len(t.arg)
	for _, a := range args {
		t.putArg(a)
	}
	res := t.allocResult(info.nRes)
	t.op = append(t.op, opRecord{
		code: code, argStart: start, nArg: len(args), resBase: res, imm: imm,
	})
	return res
}

// putVariadicOp is putOp for ops whose argument count is not fixed by
// opInfo (AtomicCall, CumSum, CSkip).
func (t *Tape) putVariadicOp(code OpCode, imm int, nRes int, args ...int) int {
	start := len(t.arg)
	for _, a := range args {
		t.putArg(a)
	}
	res := t.allocResult(nRes)
	t.op = append(t.op, opRecord{
		code: code, argStart: start, nArg: len(args), resBase: res, imm: imm,
	})
	return res
}

// putDynOp is putOp's counterpart for the dynamic-parameter
// sub-recording: it appends nothing to the main op list and allocates
// no address itself; it reserves a dynPar2Var slot (left 0) that the
// caller fills with an address from allocResult.
func (t *Tape) putDynOp(code OpCode, imm int, args ...int) int {
	start := len(t.dynArg)
	for _, a := range args {
		t.dynArg = append(t.dynArg, a)
	}
	idx := len(t.dynPar2Var)
	t.dynPar2Var = append(t.dynPar2Var, 0)
	t.dynOp = append(t.dynOp, opRecord{
		code: code, argStart: start, nArg: len(args), resBase: idx, imm: imm,
	})
	return idx
}

// putDynIndep declares one independent dynamic parameter: its value
// comes from outside (the Independent/IndependentDynamic caller, later
// new_dynamic), not from a constant or another dynamic parameter, so it
// carries no dynArg at all. argStart is -1 as a sentinel distinguishing
// it from declareConstDyn's OpDynPar (constant lift, one dynArg).
func (t *Tape) putDynIndep(val float64) int {
	idx := len(t.dynPar2Var)
	t.dynPar2Var = append(t.dynPar2Var, t.allocResult(1))
	t.dynOp = append(t.dynOp, opRecord{code: OpDynPar, argStart: -1, nArg: 0, resBase: idx})
	for len(t.dynInitVal) < len(t.dynOp) {
		t.dynInitVal = append(t.dynInitVal, 0)
	}
	t.dynInitVal[idx] = val
	return idx
}

// recordCompareOp records a Compare op if t.recordCompare is set; it is
// a no-op otherwise, per spec.md §4.K ("in debug builds it records a
// Compare op").
func (t *Tape) recordCompareOp(rel Rel, l, r int, result bool) {
	if !t.recordCompare {
		return
	}
	imm := int(rel)
	if result {
		imm |= compareResultBit
	}
	t.putOp(OpCompare, imm, l, r)
}

const compareResultBit = 1 << 7

// seal finalizes the recording into an immutable Function, after which
// the tape is detached from the registry. indVars/depVars are the
// Independent/Dependent argument vectors, already validated by the
// caller to belong to t.
func (t *Tape) seal(indVars, depVars []Var) *Function {
	t.indAddr = make([]int, len(indVars))
	for i, v := range indVars {
		t.indAddr[i] = v.addr
	}
	t.depAddr = make([]int, len(depVars))
	t.depIsParameter = make([]bool, len(depVars))
	for i, v := range depVars {
		t.depAddr[i] = v.addr
		t.depIsParameter[i] = v.kind != kindVariable
	}
	t.sealed = true

	dynIndepCount := 0
	for _, op := range t.dynOp {
		if op.nArg == 0 {
			dynIndepCount++
		}
	}

	f := &Function{
		op:             append([]opRecord(nil), t.op...),
		arg:            append([]int(nil), t.arg...),
		par:            append([]float64(nil), t.par...),
		dynOp:          append([]opRecord(nil), t.dynOp...),
		dynArg:         append([]int(nil), t.dynArg...),
		dynPar2Var:     append([]int(nil), t.dynPar2Var...),
		vecAD:          append([]vecADDecl(nil), t.vecAD...),
		indAddr:        t.indAddr,
		depAddr:        t.depAddr,
		depIsParameter: t.depIsParameter,
		numVar:         t.numVar,
		recordingID:    t.recordingID,
		dynVal:         make([]float64, len(t.dynPar2Var)),
		dynIndepCount:  dynIndepCount,
		checkForNaN:    CheckForNaN,
		nDir:           1,
	}
	f.capacityOrder(1, 1)
	if dynIndepCount > 0 {
		p := make([]float64, dynIndepCount)
		pi := 0
		for idx, op := range t.dynOp {
			if op.nArg == 0 {
				p[pi] = t.dynInitVal[idx]
				pi++
			}
		}
		f.evalDynamic(p)
	}
	return f
}
