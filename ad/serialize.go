package ad

// Component: textual serialization (spec.md §6's to_json/to_csrc). The
// persisted layout is the tuple spec.md §6 names: (base_type_tag,
// num_var, num_par, ind_addr[], dep_addr[], par[], op[], arg[], vec_ad[],
// dyn_op[], dyn_arg[], dep_is_parameter[]); recording_id is carried along
// too, for log correlation across a save/load round trip.
//
// to_json is grounded on github.com/json-iterator/go: several repos in
// the example pack (ethereum-go-ethereum, ghjramos-aistore, lollipopkit-lk,
// weiyilai-calico) pull it in directly as their JSON codec, and it shares
// its modern-go vendor family with github.com/modern-go/gls, already
// wired in for goroutine-local tape lookup (registry.go). to_csrc has no
// precedent anywhere in the pack — no example repo reaches for a
// templating library to emit generated source text — so it is built on
// plain fmt, the one place in this package that is stdlib-only by
// necessity rather than by default.

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// serializedOp mirrors one opRecord, with the opcode spelled out by name
// (opcode.go's OpCode.String()) rather than its numeric tag, so a saved
// recording survives OpCode constants being renumbered across versions.
type serializedOp struct {
	Code     string `json:"code"`
	ArgStart int    `json:"arg_start"`
	NArg     int    `json:"n_arg"`
	ResBase  int    `json:"res_base"`
	Imm      int    `json:"imm"`
}

// serializedVecAD mirrors one vecADDecl.
type serializedVecAD struct {
	BaseAddr int       `json:"base_addr"`
	Length   int       `json:"length"`
	InitAddr []int     `json:"init_addr"`
	InitVal  []float64 `json:"init_val"`
}

// serializedFunction is the on-the-wire shape of a sealed Function,
// following spec.md §6's persisted-layout tuple field for field.
type serializedFunction struct {
	BaseTypeTag string `json:"base_type_tag"`
	RecordingID string `json:"recording_id"`

	NumVar int `json:"num_var"`
	NumPar int `json:"num_par"`

	IndAddr        []int     `json:"ind_addr"`
	DepAddr        []int     `json:"dep_addr"`
	DepIsParameter []bool    `json:"dep_is_parameter"`
	Par            []float64 `json:"par"`

	Op  []serializedOp `json:"op"`
	Arg []int          `json:"arg"`

	VecAD []serializedVecAD `json:"vec_ad"`

	DynOp         []serializedOp `json:"dyn_op"`
	DynArg        []int          `json:"dyn_arg"`
	DynPar2Var    []int          `json:"dyn_par2var"`
	DynIndepCount int            `json:"dyn_indep_count"`
}

func toSerializedOps(ops []opRecord) []serializedOp {
	out := make([]serializedOp, len(ops))
	for i, op := range ops {
		out[i] = serializedOp{
			Code:     op.code.String(),
			ArgStart: op.argStart,
			NArg:     op.nArg,
			ResBase:  op.resBase,
			Imm:      op.imm,
		}
	}
	return out
}

// opByName is opcode.go's opNames inverted, for FromJSON's decode path.
var opByName = func() map[string]OpCode {
	m := make(map[string]OpCode, len(opNames))
	for code, name := range opNames {
		m[name] = code
	}
	return m
}()

func fromSerializedOps(ops []serializedOp) ([]opRecord, error) {
	out := make([]opRecord, len(ops))
	for i, op := range ops {
		code, ok := opByName[op.Code]
		if !ok {
			return nil, wrapf(ErrBadUsage, "from_json: unknown opcode name %q at op index %d", op.Code, i)
		}
		out[i] = opRecord{
			code:     code,
			argStart: op.ArgStart,
			nArg:     op.NArg,
			resBase:  op.ResBase,
			imm:      op.Imm,
		}
	}
	return out, nil
}

func toSerialized(f *Function) *serializedFunction {
	s := &serializedFunction{
		BaseTypeTag:    "float64",
		RecordingID:    f.recordingID.String(),
		NumVar:         f.numVar,
		NumPar:         len(f.par),
		IndAddr:        append([]int(nil), f.indAddr...),
		DepAddr:        append([]int(nil), f.depAddr...),
		DepIsParameter: append([]bool(nil), f.depIsParameter...),
		Par:            append([]float64(nil), f.par...),
		Op:             toSerializedOps(f.op),
		Arg:            append([]int(nil), f.arg...),
		DynOp:          toSerializedOps(f.dynOp),
		DynArg:         append([]int(nil), f.dynArg...),
		DynPar2Var:     append([]int(nil), f.dynPar2Var...),
		DynIndepCount:  f.dynIndepCount,
	}
	s.VecAD = make([]serializedVecAD, len(f.vecAD))
	for i, v := range f.vecAD {
		s.VecAD[i] = serializedVecAD{
			BaseAddr: v.baseAddr,
			Length:   v.length,
			InitAddr: append([]int(nil), v.initAddr...),
			InitVal:  append([]float64(nil), v.initVal...),
		}
	}
	return s
}

// ToJSON writes f's persisted recording layout to w as JSON (spec.md §6's
// to_json). The output round-trips through FunctionFromJSON.
func (f *Function) ToJSON(w io.Writer) error {
	enc := jsonAPI.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toSerialized(f)); err != nil {
		return wrapf(ErrBadUsage, "to_json: %v", err)
	}
	return nil
}

// FunctionFromJSON reads back a Function serialized by ToJSON. The
// result is a sealed recording with no workspace allocated yet (the
// first Forward or CapacityOrder allocates it); its independent dynamic
// parameters start at zero, since their values are not serialized.
func FunctionFromJSON(r io.Reader) (*Function, error) {
	var s serializedFunction
	dec := jsonAPI.NewDecoder(r)
	if err := dec.Decode(&s); err != nil {
		return nil, wrapf(ErrBadUsage, "from_json: %v", err)
	}

	op, err := fromSerializedOps(s.Op)
	if err != nil {
		return nil, err
	}
	dynOp, err := fromSerializedOps(s.DynOp)
	if err != nil {
		return nil, err
	}

	recID, uerr := uuid.Parse(s.RecordingID)
	if uerr != nil {
		return nil, wrapf(ErrBadUsage, "from_json: bad recording_id: %v", uerr)
	}

	f := &Function{
		op:             op,
		arg:            s.Arg,
		par:            s.Par,
		dynOp:          dynOp,
		dynArg:         s.DynArg,
		dynPar2Var:     s.DynPar2Var,
		dynIndepCount:  s.DynIndepCount,
		indAddr:        s.IndAddr,
		depAddr:        s.DepAddr,
		depIsParameter: s.DepIsParameter,
		numVar:         s.NumVar,
		recordingID:    recID,
		checkForNaN:    CheckForNaN,
		nDir:           1,
	}
	f.vecAD = make([]vecADDecl, len(s.VecAD))
	for i, v := range s.VecAD {
		f.vecAD[i] = vecADDecl{
			baseAddr: v.BaseAddr,
			length:   v.Length,
			initAddr: v.InitAddr,
			initVal:  v.InitVal,
		}
	}
	if f.dynIndepCount > 0 {
		f.evalDynamic(make([]float64, f.dynIndepCount))
	}
	return f, nil
}

// ToCSRC writes a C-like rendering of f's recording to w (spec.md §6's
// to_csrc): one line of source per tape op, in a syntax a reader familiar
// with the recorded elementals can follow directly. This is a reporting
// aid, not a compilable target — there is no ecosystem templating library
// in the example pack to ground a fancier code generator on, so the
// output is built with plain fmt.Fprintf.
func (f *Function) ToCSRC(w io.Writer) error {
	p := func(format string, args ...interface{}) error {
		_, err := fmt.Fprintf(w, format, args...)
		return err
	}
	if err := p("// generated by to_csrc, recording %s\n", f.recordingID); err != nil {
		return err
	}
	if err := p("void eval(double *v /* [0..%d] */) {\n", f.numVar); err != nil {
		return err
	}
	for _, addr := range f.indAddr {
		if err := p("  // v[%d] = independent\n", addr); err != nil {
			return err
		}
	}
	for i, op := range f.op {
		args := f.op2args(op)
		line, err := csrcLine(op, args, f.par)
		if err != nil {
			return wrapf(ErrBadUsage, "to_csrc: op %d: %v", i, err)
		}
		if line == "" {
			continue
		}
		if err := p("  %s\n", line); err != nil {
			return err
		}
	}
	for i, addr := range f.depAddr {
		if err := p("  // y[%d] = v[%d]\n", i, addr); err != nil {
			return err
		}
	}
	return p("}\n")
}

func csrcLine(op opRecord, args []int, par []float64) (string, error) {
	res := op.resBase
	switch op.code {
	case OpIndep, OpAtomicCall, OpPrint, OpCSkip:
		return "", nil
	case OpPar:
		return fmt.Sprintf("v[%d] = %g; // par", res, par[args[0]]), nil
	case OpDynPar:
		return fmt.Sprintf("v[%d] = dyn_value(%d);", res, res), nil
	case OpNeg:
		return fmt.Sprintf("v[%d] = -v[%d];", res, args[0]), nil
	case OpAbs:
		return fmt.Sprintf("v[%d] = fabs(v[%d]);", res, args[0]), nil
	case OpSign:
		return fmt.Sprintf("v[%d] = sign(v[%d]);", res, args[0]), nil
	case OpSqrt:
		return fmt.Sprintf("v[%d] = sqrt(v[%d]);", res, args[0]), nil
	case OpExp:
		return fmt.Sprintf("v[%d] = exp(v[%d]);", res, args[0]), nil
	case OpLog:
		return fmt.Sprintf("v[%d] = log(v[%d]);", res, args[0]), nil
	case OpSin:
		return fmt.Sprintf("v[%d] = sin(v[%d]);", res, args[0]), nil
	case OpCos:
		return fmt.Sprintf("v[%d] = cos(v[%d]);", res, args[0]), nil
	case OpAddVV:
		return fmt.Sprintf("v[%d] = v[%d] + v[%d];", res, args[0], args[1]), nil
	case OpSubVV:
		return fmt.Sprintf("v[%d] = v[%d] - v[%d];", res, args[0], args[1]), nil
	case OpMulVV:
		return fmt.Sprintf("v[%d] = v[%d] * v[%d];", res, args[0], args[1]), nil
	case OpDivVV:
		return fmt.Sprintf("v[%d] = v[%d] / v[%d];", res, args[0], args[1]), nil
	case OpCondExp:
		return fmt.Sprintf("v[%d] = cond(%d, v[%d], v[%d]) ? v[%d] : v[%d];", res, op.imm, args[0], args[1], args[2], args[3]), nil
	case OpCumSum:
		s := fmt.Sprintf("v[%d] =", res)
		for _, a := range args {
			if a < 0 {
				s += fmt.Sprintf(" - v[%d]", -a)
			} else {
				s += fmt.Sprintf(" + v[%d]", a)
			}
		}
		return s + ";", nil
	default:
		return fmt.Sprintf("v[%d] = %s(...); // %d args", res, op.code, len(args)), nil
	}
}
