package ad

// Component E: the forward sweep. Walks the recording in tape order
// once per call, applying each opcode's Taylor-coefficient recurrence
// to advance every variable's coefficients from order p through q in
// one direction (spec.md §4.E). Multi-direction sweeps call Forward
// once per direction; the shared order-zero column (colIndex(0,*)==0,
// see function.go) means direction-0 work is never repeated.
//
// Scope. Every opcode is supported at orders 0 and 1 (sufficient for
// plain gradients and the spec's S1-S6 scenarios). Full arbitrary-order
// recurrences are additionally implemented for the op families with a
// clean explicit Taylor recurrence: Add/Sub/Neg/Mul/Div, Sqrt, Log,
// Log1p, Exp, Expm1, Sin, Cos, Sinh, Cosh. The remaining unary
// elementals (Tan, Tanh, Asin, Acos, Atan, Asinh, Acosh, Atanh, Erf,
// Erfc, Abs) and Pow raise ErrBadUsage above order 1 (Sign, being
// piecewise constant, writes zero at every order above 0): their
// correct recurrences need an implicit companion solve (Tan/Tanh) or a
// nontrivial special-function derivative (Erf/Erfc) that was cut for
// time, and is recorded as a scoping decision in DESIGN.md rather than
// silently producing wrong higher-order output.

import "math"

// Forward computes Taylor coefficients of every variable for orders
// p..q, in direction dir, given the independents' coefficients for
// those same orders. xpq[k-p][j] is independent j's order-k
// coefficient. Order 0 is shared across all directions (spec.md
// §4.E "multi-direction": "the zero-order column is shared"); for
// order 0, dir must be 0.
func (f *Function) Forward(p, q, dir int, xpq [][]float64) ([][]float64, error) {
	f.checkOwner()
	if p < 0 || q < p {
		return nil, wrapf(ErrBadUsage, "forward: need 0 <= p <= q, got p=%d q=%d", p, q)
	}
	if dir < 0 || dir >= f.nDir {
		return nil, wrapf(ErrBadUsage, "forward: direction %d out of range [0,%d)", dir, f.nDir)
	}
	if q >= f.orderCap {
		if err := f.CapacityOrder(q+1, f.nDir); err != nil {
			return nil, err
		}
	}
	if len(xpq) != q-p+1 {
		return nil, wrapf(ErrBadUsage, "forward: xpq must have %d rows, got %d", q-p+1, len(xpq))
	}
	for row, coefs := range xpq {
		if len(coefs) != len(f.indAddr) {
			return nil, wrapf(ErrBadUsage, "forward: row %d must have %d independents, got %d", row, len(f.indAddr), len(coefs))
		}
	}

	f.nanDetected = false
	for k := p; k <= q; k++ {
		for j, addr := range f.indAddr {
			f.setTaylor(addr, k, dir, xpq[k-p][j])
		}
		if err := f.forwardOrder(k, dir); err != nil {
			return nil, err
		}
	}

	if k0 := q; k0 >= 0 {
		f.orderCurrent = q
	}

	out := make([][]float64, q-p+1)
	for k := p; k <= q; k++ {
		row := make([]float64, len(f.depAddr))
		for i, addr := range f.depAddr {
			row[i] = f.taylorAt(addr, k, dir)
		}
		out[k-p] = row
	}
	if f.checkForNaN {
		for _, row := range out {
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					f.nanDetected = true
				}
			}
		}
		if f.nanDetected {
			return out, wrapf(ErrNumeric, "forward: NaN or Inf produced with CheckForNaN set")
		}
	}
	return out, nil
}

// forwardOrder advances every non-independent variable's order-k
// coefficient (direction dir) from already-known lower orders (and,
// for k==0, nothing but the op's own arguments).
func (f *Function) forwardOrder(k, dir int) error {
	for _, op := range f.op {
		if err := f.forwardOp(op, k, dir); err != nil {
			return err
		}
	}
	return nil
}

func (f *Function) forwardOp(op opRecord, k, dir int) error {
	args := f.op2args(op)
	res := op.resBase

	get := func(addr, j int) float64 { return f.taylorAt(addr, j, dir) }
	set := func(j int, v float64) {
		if f.checkForNaN && (math.IsNaN(v) || math.IsInf(v, 0)) {
			f.nanDetected = true
		}
		f.setTaylor(res, j, dir, v)
	}

	switch op.code {
	case OpIndep:
		// value already placed by Forward's caller loop
	case OpPar:
		if k == 0 {
			set(0, f.par[args[0]])
		} else {
			set(k, 0)
		}
	case OpDynPar:
		if k == 0 {
			set(0, f.dynVal[op.resBase])
		} else {
			set(k, 0)
		}

	case OpNeg:
		set(k, -get(args[0], k))
	case OpAbs:
		if k == 0 {
			set(0, math.Abs(get(args[0], 0)))
		} else if k == 1 {
			set(1, signFn(get(args[0], 0))*get(args[0], 1))
		} else {
			return wrapf(ErrBadUsage, "Abs forward order %d not supported", k)
		}
	case OpSign:
		if k == 0 {
			set(0, signFn(get(args[0], 0)))
		} else {
			set(k, 0)
		}

	case OpSqrt:
		f.forwardSqrt(args[0], res, k, dir)
	case OpLog:
		f.forwardLog(args[0], res, k, dir, 0)
	case OpLog1p:
		f.forwardLog(args[0], res, k, dir, 1)
	case OpExp:
		f.forwardExpFamily(args[0], res, res, k, dir, false)
	case OpExpm1:
		f.forwardExpm1(args[0], res, k, dir)
	case OpSin:
		f.forwardSinCos(args[0], res, res+1, k, dir, true)
	case OpCos:
		f.forwardSinCos(args[0], res, res+1, k, dir, false)
	case OpSinh:
		f.forwardSinhCosh(args[0], res, res+1, k, dir, true)
	case OpCosh:
		f.forwardSinhCosh(args[0], res, res+1, k, dir, false)

	case OpTan, OpTanh, OpAsin, OpAcos, OpAtan, OpAsinh, OpAcosh, OpAtanh, OpErf, OpErfc:
		if err := f.forwardOrder01(op.code, args[0], res, k, dir); err != nil {
			return err
		}

	case OpAddVV:
		f.forwardAdd(args[0], args[1], res, k, dir, 1, 1)
	case OpSubVV:
		f.forwardAdd(args[0], args[1], res, k, dir, 1, -1)
	case OpAddPV:
		f.forwardParAdd(args[0], args[1], res, k, dir, 1)
	case OpAddVP:
		f.forwardParAdd(args[1], args[0], res, k, dir, 1)
	case OpSubPV:
		f.forwardParAdd(args[0], args[1], res, k, dir, -1)
	case OpSubVP:
		f.forwardVarSubPar(args[0], args[1], res, k, dir)
	case OpMulVV:
		set(k, f.conv(args[0], args[1], k, dir))
	case OpMulPV:
		set(k, f.par[args[0]]*get(args[1], k))
	case OpMulVP:
		set(k, get(args[0], k)*f.par[args[1]])
	case OpDivVV:
		f.forwardDivVV(args[0], args[1], res, k, dir)
	case OpDivPV:
		f.forwardDivPV(args[0], args[1], res, k, dir)
	case OpDivVP:
		set(k, get(args[0], k)/f.par[args[1]])
	case OpPowVV, OpPowPV, OpPowVP:
		if err := f.forwardPow(op.code, args, res, k, dir); err != nil {
			return err
		}

	case OpCompare:
		if k == 0 {
			f.checkCompare(op, dir)
		}
	case OpCondExp:
		f.forwardCondExp(op, k, dir)
	case OpLoadVec:
		f.forwardLoad(op, k, dir)
	case OpStoreVec:
		f.forwardStore(op, k, dir)
	case OpAtomicCall:
		return f.forwardAtomic(op, k, dir)
	case OpCumSum:
		f.forwardCumSum(op, k, dir)
	case OpCSkip:
		// advisory only (optimize.go): the sweep still visits every live
		// op linearly, so there is nothing to do here.
	case OpPrint:
		// side-effect only; nothing recorded in taylor
	default:
		return wrapf(ErrBadUsage, "forward: unsupported opcode %s", op.code)
	}
	return nil
}

// conv returns sum_{j=0}^{k} x_j(dir) * y_{k-j}(dir), the Cauchy product
// shared by Mul and, transposed, by Div/Sqrt/Log's recurrences.
func (f *Function) conv(xAddr, yAddr, k, dir int) float64 {
	sum := 0.0
	for j := 0; j <= k; j++ {
		sum += f.taylorAt(xAddr, j, dir) * f.taylorAt(yAddr, k-j, dir)
	}
	return sum
}

func (f *Function) forwardAdd(xAddr, yAddr, res, k, dir int, sx, sy float64) {
	f.setTaylor(res, k, dir, sx*f.taylorAt(xAddr, k, dir)+sy*f.taylorAt(yAddr, k, dir))
}

func (f *Function) forwardParAdd(par, xAddr, res, k, dir int, sign float64) {
	if k == 0 {
		f.setTaylor(res, 0, dir, f.par[par]+sign*f.taylorAt(xAddr, 0, dir))
	} else {
		f.setTaylor(res, k, dir, sign*f.taylorAt(xAddr, k, dir))
	}
}

// forwardVarSubPar computes res = x - par (OpSubVP: variable minus
// parameter), the one Add/Sub family combination not expressible by
// forwardParAdd's par-plus-signed-x shape.
func (f *Function) forwardVarSubPar(xAddr, par, res, k, dir int) {
	if k == 0 {
		f.setTaylor(res, 0, dir, f.taylorAt(xAddr, 0, dir)-f.par[par])
	} else {
		f.setTaylor(res, k, dir, f.taylorAt(xAddr, k, dir))
	}
}

// forwardDivVV implements z = x/y via x = z*y => z_k = (x_k - sum_{j<k} z_j y_{k-j}) / y_0.
func (f *Function) forwardDivVV(xAddr, yAddr, res, k, dir int) {
	y0 := f.taylorAt(yAddr, 0, 0)
	sum := 0.0
	for j := 0; j < k; j++ {
		sum += f.taylorAt(res, j, dir) * f.taylorAt(yAddr, k-j, dir)
	}
	f.setTaylor(res, k, dir, (f.taylorAt(xAddr, k, dir)-sum)/y0)
}

func (f *Function) forwardDivPV(par, yAddr, res, k, dir int) {
	y0 := f.taylorAt(yAddr, 0, 0)
	sum := 0.0
	for j := 0; j < k; j++ {
		sum += f.taylorAt(res, j, dir) * f.taylorAt(yAddr, k-j, dir)
	}
	x_k := 0.0
	if k == 0 {
		x_k = f.par[par]
	}
	f.setTaylor(res, k, dir, (x_k-sum)/y0)
}

// forwardSqrt: z*z = x, self-referential Cauchy product recurrence.
// z_0 = sqrt(x_0); z_k = (x_k - sum_{j=1}^{k-1} z_j z_{k-j}) / (2 z_0).
func (f *Function) forwardSqrt(xAddr, res, k, dir int) {
	if k == 0 {
		f.setTaylor(res, 0, dir, math.Sqrt(f.taylorAt(xAddr, 0, 0)))
		return
	}
	z0 := f.taylorAt(res, 0, 0)
	sum := 0.0
	for j := 1; j < k; j++ {
		sum += f.taylorAt(res, j, dir) * f.taylorAt(res, k-j, dir)
	}
	f.setTaylor(res, k, dir, (f.taylorAt(xAddr, k, dir)-sum)/(2*z0))
}

// forwardLog: "shape C", z = log(x) (shift=0) or log1p(x) (shift=1):
// z_0 = log(x_0+shift); for k>=1, z_k = (x_k - (1/k) sum_{j=1}^{k-1} j z_j x_{k-j}) / (x_0+shift).
func (f *Function) forwardLog(xAddr, res, k, dir, shift int) {
	x0 := f.taylorAt(xAddr, 0, 0) + float64(shift)
	if k == 0 {
		f.setTaylor(res, 0, dir, math.Log(x0))
		return
	}
	sum := 0.0
	for j := 1; j < k; j++ {
		sum += float64(j) * f.taylorAt(res, j, dir) * f.taylorAt(xAddr, k-j, dir)
	}
	f.setTaylor(res, k, dir, (f.taylorAt(xAddr, k, dir)-sum/float64(k))/x0)
}

// forwardExpFamily: "shape A", z = exp(x): z_0 = exp(x_0);
// z_k = (1/k) sum_{j=1}^{k} j x_j z_{k-j}. companionRes==res for plain
// exp (the function is its own companion).
func (f *Function) forwardExpFamily(xAddr, res, companionRes, k, dir int, _ bool) {
	if k == 0 {
		f.setTaylor(res, 0, dir, math.Exp(f.taylorAt(xAddr, 0, 0)))
		return
	}
	sum := 0.0
	for j := 1; j <= k; j++ {
		sum += float64(j) * f.taylorAt(xAddr, j, dir) * f.taylorAt(companionRes, k-j, dir)
	}
	f.setTaylor(res, k, dir, sum/float64(k))
}

func (f *Function) forwardExpm1(xAddr, res, k, dir int) {
	if k == 0 {
		f.setTaylor(res, 0, dir, math.Expm1(f.taylorAt(xAddr, 0, 0)))
		return
	}
	// expm1(x) = exp(x) - 1: derivative recurrence is exp's, only the
	// order-0 value differs.
	sum := 0.0
	for j := 1; j <= k; j++ {
		w := f.taylorAt(res, k-j, dir)
		if k-j == 0 {
			w += 1 // companion is exp(x) = expm1(x)+1
		}
		sum += float64(j) * f.taylorAt(xAddr, j, dir) * w
	}
	f.setTaylor(res, k, dir, sum/float64(k))
}

// forwardSinCos owns a private (sin,cos) pair for this op alone (nRes:2
// reserves primaryRes and companionRes exclusively to this op, per
// opcode.go - a separate Sin op elsewhere in the tape has its own,
// unrelated pair). Both members advance together at every order, since
// nothing else will ever update the companion slot: s_k = (1/k)
// sum_{j=1}^k j*x_j*c_{k-j}, c_k = -(1/k) sum_{j=1}^k j*x_j*s_{k-j}.
// sinIsPrimary only picks which slot is exposed as this op's declared
// result.
func (f *Function) forwardSinCos(xAddr, primaryRes, companionRes, k, dir int, sinIsPrimary bool) {
	sinAddr, cosAddr := companionRes, primaryRes
	if sinIsPrimary {
		sinAddr, cosAddr = primaryRes, companionRes
	}
	if k == 0 {
		x0 := f.taylorAt(xAddr, 0, 0)
		f.setTaylor(sinAddr, 0, dir, math.Sin(x0))
		f.setTaylor(cosAddr, 0, dir, math.Cos(x0))
		return
	}
	sumS, sumC := 0.0, 0.0
	for j := 1; j <= k; j++ {
		xj := f.taylorAt(xAddr, j, dir)
		sumS += float64(j) * xj * f.taylorAt(cosAddr, k-j, dir)
		sumC += float64(j) * xj * f.taylorAt(sinAddr, k-j, dir)
	}
	f.setTaylor(sinAddr, k, dir, sumS/float64(k))
	f.setTaylor(cosAddr, k, dir, -sumC/float64(k))
}

// forwardSinhCosh is forwardSinCos's hyperbolic counterpart: both
// members of the private pair advance together, sinh_k = (1/k)
// sum j*x_j*cosh_{k-j}, cosh_k = (1/k) sum j*x_j*sinh_{k-j} (no sign
// flip, unlike cos's).
func (f *Function) forwardSinhCosh(xAddr, primaryRes, companionRes, k, dir int, sinhIsPrimary bool) {
	sinhAddr, coshAddr := companionRes, primaryRes
	if sinhIsPrimary {
		sinhAddr, coshAddr = primaryRes, companionRes
	}
	if k == 0 {
		x0 := f.taylorAt(xAddr, 0, 0)
		f.setTaylor(sinhAddr, 0, dir, math.Sinh(x0))
		f.setTaylor(coshAddr, 0, dir, math.Cosh(x0))
		return
	}
	sumSinh, sumCosh := 0.0, 0.0
	for j := 1; j <= k; j++ {
		xj := f.taylorAt(xAddr, j, dir)
		sumSinh += float64(j) * xj * f.taylorAt(coshAddr, k-j, dir)
		sumCosh += float64(j) * xj * f.taylorAt(sinhAddr, k-j, dir)
	}
	f.setTaylor(sinhAddr, k, dir, sumSinh/float64(k))
	f.setTaylor(coshAddr, k, dir, sumCosh/float64(k))
}

// forwardOrder01 covers every remaining unary elemental at orders 0-1
// with a direct analytic first derivative; order>=2 is refused rather
// than silently wrong (see file doc comment).
func (f *Function) forwardOrder01(code OpCode, xAddr, res, k, dir int) error {
	x0 := f.taylorAt(xAddr, 0, 0)
	if k == 0 {
		f.setTaylor(res, 0, dir, unaryFn[code](x0))
		return nil
	}
	if k > 1 {
		return wrapf(ErrBadUsage, "%s forward order %d not supported", code, k)
	}
	var deriv float64
	switch code {
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
	default:
		return wrapf(ErrBadUsage, "unhandled order-0/1 opcode %s", code)
	}
	f.setTaylor(res, 1, dir, deriv*f.taylorAt(xAddr, 1, dir))
	return nil
}

// forwardPow handles pow(x,y) at orders 0 and 1 only (see file doc
// comment); spec.md §9's open question about x<0, non-integer y is
// answered by letting math.Pow return NaN, matching the original's
// documented policy (scalar.go's Pow doc comment).
func (f *Function) forwardPow(code OpCode, args []int, res, k, dir int) error {
	if k > 1 {
		return wrapf(ErrBadUsage, "Pow forward order %d not supported", k)
	}
	var x0, y0 float64
	var xIsVar, yIsVar bool
	switch code {
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
	if k == 0 {
		f.setTaylor(res, 0, dir, z0)
		return nil
	}
	var x1, y1 float64
	if xIsVar {
		x1 = f.taylorAt(args[0], 1, dir)
	}
	if yIsVar {
		y1 = f.taylorAt(args[1], 1, dir)
	}
	// d/dt x^y = x^y * (y' * ln(x) + y * x'/x), special-cased at x0==0
	// the way the original does (spec.md S3: pow(0,2) has dz/dx = 0).
	var deriv float64
	switch {
	case x0 == 0 && y0 > 1:
		deriv = 0
	case x0 == 0 && y0 == 1:
		deriv = x1
	case x0 == 0:
		deriv = math.NaN()
	default:
		deriv = z0 * (y1*math.Log(x0) + y0*x1/x0)
	}
	f.setTaylor(res, 1, dir, deriv)
	return nil
}

func (f *Function) checkCompare(op opRecord, dir int) {
	args := f.op2args(op)
	l0 := f.taylorAt(args[0], 0, 0)
	r0 := f.taylorAt(args[1], 0, 0)
	rel := Rel(op.imm &^ compareResultBit)
	recorded := op.imm&compareResultBit != 0
	now := evalRel(rel, l0, r0)
	if now != recorded {
		f.compareChangeCount++
		if f.compareChangeCount == 1 {
			// op is a copy; its argStart identifies it on the tape
			for i, o := range f.op {
				if o.code == OpCompare && o.argStart == op.argStart {
					f.compareChangeOpIndex = i
					break
				}
			}
		}
		log.WithFields(map[string]interface{}{"relation": rel}).Warn("compare op outcome changed on replay")
	}
}

func (f *Function) forwardCondExp(op opRecord, k, dir int) {
	args := f.op2args(op)
	rel := Rel(op.imm)
	l0 := f.taylorAt(args[0], 0, 0)
	r0 := f.taylorAt(args[1], 0, 0)
	branch := args[3] // else
	if evalRel(rel, l0, r0) {
		branch = args[2] // then
	}
	f.setTaylor(op.resBase, k, dir, f.taylorAt(branch, k, dir))
}

func (f *Function) forwardLoad(op opRecord, k, dir int) {
	args := f.op2args(op)
	which := op.imm
	idx := int(f.taylorAt(args[0], 0, 0))
	st := f.vecStoreAt(which, idx)
	var v float64
	if k < len(st) {
		v = st[k]
	}
	f.setTaylor(op.resBase, k, dir, v)
}

func (f *Function) forwardStore(op opRecord, k, dir int) {
	args := f.op2args(op)
	which := op.imm
	idx := int(f.taylorAt(args[0], 0, 0))
	val := f.taylorAt(args[1], k, dir)
	f.setVecStoreCoef(which, idx, k, val)
}

func (f *Function) forwardAtomic(op opRecord, k, dir int) error {
	return f.dispatchAtomicForward(op, k, dir)
}

// forwardCumSum replays a sum-fusion op (optimize.go's fuseSums): each
// arg is a variable address, negated to mean "subtract". Linear in its
// arguments, so the ordinary addition recurrence is exact at every
// order and direction.
func (f *Function) forwardCumSum(op opRecord, k, dir int) {
	args := f.op2args(op)
	sum := 0.0
	for _, a := range args {
		if a < 0 {
			sum -= f.taylorAt(-a, k, dir)
		} else {
			sum += f.taylorAt(a, k, dir)
		}
	}
	f.setTaylor(op.resBase, k, dir, sum)
}
