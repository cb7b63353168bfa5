package ad

// Component J: the optimizer. Input a sealed Function, output a
// semantically equivalent Function with fewer ops (spec.md §4.J). Keeps
// the original's two-representation shape (original_source
// val_graph/dead_code.hpp + optimize/var_renumber.hpp): liveness and CSE
// build a survivorMap intermediate over the *existing* op positions and
// argument indices; only the final Renumber pass materializes a new,
// compacted op/arg array. Passes run in the order spec.md §4.J lists
// them: Liveness, CSE, Conditional-skip sets, Sum fusion, Renumber.
//
// Scope. The variable ADDRESS space is not compacted — only the OP LIST
// is (dead ops dropped, a survivor's address keeps its original number),
// so no argument slot needs rewriting for renumbering. The cost is
// unused address "holes" in the taylor workspace after dead code
// elimination — a memory cost, not a correctness one. Documented in
// DESIGN.md.

import "sort"

// OptimizeOptions configures one Optimize call (spec.md §6's optimizer
// "options string", exposed here as a Go struct rather than parsed
// tokens per the teacher's own option-struct idiom).
type OptimizeOptions struct {
	// KeepCompare keeps Compare ops alive through dead-code elimination
	// even when their boolean result feeds nothing else, so
	// CompareChangeCount keeps working on the optimized Function.
	KeepCompare bool
	// CSECollisionLimit stops CSE from folding further duplicates into
	// a given (opcode, arguments) key once this many ops have already
	// been folded into it; later duplicates keep their original op.
	// 0 means no limit.
	CSECollisionLimit int
}

// PassInfo is one row of Optimize's report: how many live ops a pass
// left behind.
type PassInfo struct {
	Name      string
	OpsBefore int
	OpsAfter  int
}

// OptimizeInfo is Optimize's full per-pass report, logged at Info level
// and also handed back to the caller (spec.md's ambient-stack addition:
// "an Info summarizing each Optimize pass").
type OptimizeInfo struct {
	Passes []PassInfo
}

type wop struct {
	op   opRecord
	dead bool
}

// Optimize runs the five-pass pipeline over f and returns a new,
// independent Function; f itself is left untouched (sealed Functions
// are immutable recordings, matching function.go's design). Every
// sparsity cache is invalidated (spec.md §4.J): the returned Function
// starts with sparsity == nil.
func (f *Function) Optimize(opts OptimizeOptions) (*Function, OptimizeInfo) {
	info := OptimizeInfo{}
	countLive := func(ops []wop) int {
		n := 0
		for _, w := range ops {
			if !w.dead {
				n++
			}
		}
		return n
	}

	ops := make([]wop, len(f.op))
	for i, op := range f.op {
		ops[i] = wop{op: op}
	}
	before := len(ops)

	// Pass 1: liveness.
	live := f.computeLiveness(opts.KeepCompare)
	for i := range ops {
		ops[i].dead = !live[i]
	}
	info.addPass("liveness", before, countLive(ops))

	// Pass 2: CSE.
	before = countLive(ops)
	newArg := append([]int(nil), f.arg...)
	pinned := f.pinnedAddrs(ops, newArg)
	survivorMap := f.runCSE(ops, newArg, pinned, opts.CSECollisionLimit)
	f.remapNonEligibleArgs(ops, newArg, survivorMap)
	info.addPass("cse", before, countLive(ops))

	// Pass 3: conditional-skip sets.
	before = countLive(ops)
	var skips []wop
	skips, newArg = f.computeCondSkips(ops, newArg, survivorMap)
	for _, s := range skips {
		ops = append(ops, s)
	}
	info.addPass("conditional-skip", before, countLive(ops))

	// Pass 4: sum fusion.
	before = countLive(ops)
	newArg = f.fuseSums(ops, newArg)
	info.addPass("sum-fusion", before, countLive(ops))

	// Pass 5: renumber (compact the op list and arg backstore; rewrite
	// dep_addr and every CSkip op-position reference through the
	// survivor maps).
	before = countLive(ops)
	newF := f.renumber(ops, newArg, survivorMap)
	info.addPass("renumber", before, len(newF.op))

	log.WithFields(map[string]interface{}{
		"recording": f.recordingID,
		"before":    len(f.op),
		"after":     len(newF.op),
	}).Info("optimize: pipeline complete")

	return newF, info
}

func (info *OptimizeInfo) addPass(name string, before, after int) {
	info.Passes = append(info.Passes, PassInfo{Name: name, OpsBefore: before, OpsAfter: after})
	log.WithFields(map[string]interface{}{"pass": name, "before": before, "after": after}).Info("optimize: pass complete")
}

// computeLiveness marks every op whose result reaches a non-parameter
// dependent, or that has an observable side effect (Print, StoreVec,
// and Compare when keepCompare), walking the tape in reverse.
func (f *Function) computeLiveness(keepCompare bool) []bool {
	needed := make([]bool, f.numVar+1)
	for i, addr := range f.depAddr {
		if !f.depIsParameter[i] && addr >= 1 && addr <= f.numVar {
			needed[addr] = true
		}
	}
	live := make([]bool, len(f.op))
	for i := len(f.op) - 1; i >= 0; i-- {
		op := f.op[i]
		keep := false
		switch op.code {
		case OpPrint, OpStoreVec:
			keep = true
		case OpCompare:
			keep = keepCompare
		case OpAtomicCall:
			args := f.op2args(op)
			nRes := args[1]
			for j := 0; j < nRes; j++ {
				a := op.resBase + j
				if a <= f.numVar && needed[a] {
					keep = true
				}
			}
		default:
			if op.resBase != 0 {
				if needed[op.resBase] {
					keep = true
				}
				if op.code.info().companion && op.resBase+1 <= f.numVar && needed[op.resBase+1] {
					keep = true
				}
			}
		}
		if !keep {
			continue
		}
		live[i] = true
		markNeeded(f, op, needed)
	}
	return live
}

// markNeeded marks op's variable-address arguments as needed, using
// each opcode's known argument shape to avoid mistaking a constant-pool
// index or vector handle for a variable address.
func markNeeded(f *Function, op opRecord, needed []bool) {
	args := f.op2args(op)
	mark := func(a int) {
		if a >= 1 && a <= f.numVar {
			needed[a] = true
		}
	}
	switch op.code {
	case OpIndep, OpPar:
	case OpCSkip:
		// args are op positions from a prior Optimize pass, not addresses.
	case OpCumSum:
		for _, a := range args {
			if a < 0 {
				a = -a
			}
			mark(a)
		}
	case OpAtomicCall:
		nArg := args[0]
		for _, a := range args[4 : 4+nArg] {
			mark(a)
		}
	case OpAddPV, OpSubPV, OpMulPV, OpDivPV, OpPowPV:
		mark(args[1])
	case OpAddVP, OpSubVP, OpMulVP, OpDivVP, OpPowVP:
		mark(args[0])
	default:
		for _, a := range args {
			mark(a)
		}
	}
}

// pinnedAddrs collects every address directly referenced by a live
// CondExp or Compare op. Pinned producer ops are left out of CSE
// merging entirely, and remapVarArgs leaves CondExp/Compare argument
// slots as recorded, so those ops always read the exact addresses they
// were recorded with: a conservative choice that can only cost a missed
// fold.
func (f *Function) pinnedAddrs(ops []wop, arg []int) map[int]bool {
	pinned := make(map[int]bool)
	for _, w := range ops {
		if w.dead {
			continue
		}
		if w.op.code != OpCondExp && w.op.code != OpCompare {
			continue
		}
		for _, a := range argsOf(w.op, arg) {
			if a >= 1 && a <= f.numVar {
				pinned[a] = true
			}
		}
	}
	return pinned
}

// argsOf reads op's argument slots out of arg, the caller's current
// mutable backstore (which may hold CSE-resolved values newer than
// f.arg, the original sealed recording's immutable copy). Every
// optimize.go pass past CSE must read through this, not f.op2args,
// or it observes pre-CSE addresses.
func argsOf(op opRecord, arg []int) []int {
	return arg[op.argStart : op.argStart+op.nArg]
}

// cseEligible reports whether code's result may be folded into an
// identical earlier op. Excludes ops with replay-order-sensitive
// semantics (Load/StoreVec), run-time branching (CondExp), recorded
// side effects (Compare, Print), variable-arity calls (AtomicCall,
// CumSum, CSkip), and companion-pair unary ops (merging one half of a
// sin/cos pair without the other would orphan the companion slot).
func cseEligible(code OpCode) bool {
	switch code {
	case OpPar,
		OpNeg, OpAbs, OpSign, OpSqrt, OpExp, OpLog, OpLog1p,
		OpAddVV, OpSubVV, OpMulVV, OpDivVV, OpPowVV,
		OpAddPV, OpSubPV, OpMulPV, OpDivPV, OpPowPV,
		OpAddVP, OpSubVP, OpMulVP, OpDivVP, OpPowVP:
		return true
	default:
		return false
	}
}

type cseKey struct {
	code OpCode
	a0   int
	a1   int
}

// runCSE walks the live ops in order, building survivorMap (old address
// -> the address actually used for that value from here on) and marking
// duplicate ops dead. Commutative VV forms canonicalize their two
// argument slots by numeric order before hashing so x+y and y+x collide;
// PV/VP forms already encode operand order in the opcode itself, so no
// sorting is needed there. The key is the whole (opcode, arguments)
// tuple, so every op reaching a seen key is an exact duplicate;
// collisionLimit stops folding into a key once that many duplicates
// have been folded into it, and later ones keep their original op.
func (f *Function) runCSE(ops []wop, arg []int, pinned map[int]bool, collisionLimit int) map[int]int {
	survivorMap := make(map[int]int)
	seen := make(map[cseKey]int)
	collisions := make(map[cseKey]int)

	resolve := func(a int) int {
		if a >= 1 && a <= f.numVar {
			if c, ok := survivorMap[a]; ok {
				return c
			}
		}
		return a
	}

	for i := range ops {
		if ops[i].dead {
			continue
		}
		op := &ops[i].op
		args := arg[op.argStart : op.argStart+op.nArg]

		if !cseEligible(op.code) || op.resBase == 0 || pinned[op.resBase] {
			remapVarArgs(op.code, args, f.numVar, resolve)
			if op.resBase != 0 {
				survivorMap[op.resBase] = op.resBase
			}
			continue
		}

		remapVarArgs(op.code, args, f.numVar, resolve)

		key := cseKey{code: op.code}
		if len(args) > 0 {
			key.a0 = args[0]
		}
		if len(args) > 1 {
			key.a1 = args[1]
		}
		if op.code.info().commutative && op.code.info().isBinary {
			// only the *VV forms ever reach here eligible+commutative
			// with two interchangeable variable operands.
			if key.a0 > key.a1 {
				key.a0, key.a1 = key.a1, key.a0
			}
		}

		if survivor, ok := seen[key]; ok {
			if collisionLimit > 0 && collisions[key] >= collisionLimit {
				survivorMap[op.resBase] = op.resBase
				continue
			}
			survivorMap[op.resBase] = survivor
			ops[i].dead = true
			collisions[key]++
			continue
		}
		seen[key] = op.resBase
		survivorMap[op.resBase] = op.resBase
	}
	return survivorMap
}

// remapVarArgs rewrites args in place, replacing each variable-address
// slot with resolve(slot); non-address slots (constant-pool indices,
// vector handles, AtomicCall's fixed header) are left untouched.
func remapVarArgs(code OpCode, args []int, numVar int, resolve func(int) int) {
	switch code {
	case OpIndep, OpPar:
	case OpAddPV, OpSubPV, OpMulPV, OpDivPV, OpPowPV:
		args[1] = resolve(args[1])
	case OpAddVP, OpSubVP, OpMulVP, OpDivVP, OpPowVP:
		args[0] = resolve(args[0])
	case OpCondExp, OpCompare:
		// left untouched: see pinnedAddrs' doc comment.
	case OpAtomicCall:
		nArg := args[0]
		for i := 4; i < 4+nArg; i++ {
			args[i] = resolve(args[i])
		}
	default:
		for i := range args {
			args[i] = resolve(args[i])
		}
	}
}

// remapNonEligibleArgs applies survivorMap to every live op CSE itself
// didn't already rewrite in place (ops excluded by cseEligible still
// need their producer references updated if an upstream eligible op
// was folded into a survivor).
func (f *Function) remapNonEligibleArgs(ops []wop, arg []int, survivorMap map[int]int) {
	resolve := func(a int) int {
		if a >= 1 && a <= f.numVar {
			if c, ok := survivorMap[a]; ok {
				return c
			}
		}
		return a
	}
	for i := range ops {
		if ops[i].dead {
			continue
		}
		op := &ops[i].op
		if cseEligible(op.code) {
			continue // already remapped by runCSE
		}
		args := arg[op.argStart : op.argStart+op.nArg]
		remapVarArgs(op.code, args, f.numVar, resolve)
	}
}

// computeCondSkips builds one CSkip descriptor per live CondExp op
// (spec.md §4.J step 3): the set of other live op POSITIONS (indices
// into ops) whose result is needed only by the branch not taken. These
// positions are fixed up to final compacted indices by renumber; until
// then they refer to this pre-renumber ops slice.
func (f *Function) computeCondSkips(ops []wop, arg []int, survivorMap map[int]int) ([]wop, []int) {
	producer := make(map[int]int) // survivor address -> producing op position
	for i, w := range ops {
		if w.dead {
			continue
		}
		if w.op.resBase != 0 {
			producer[w.op.resBase] = i
			if w.op.code.info().companion {
				producer[w.op.resBase+1] = i
			}
		}
	}

	reachCache := make(map[int]map[int]bool)
	var reach func(addr int) map[int]bool
	reach = func(addr int) map[int]bool {
		if s, ok := reachCache[addr]; ok {
			return s
		}
		set := make(map[int]bool)
		reachCache[addr] = set // break cycles defensively; recordings are acyclic by construction
		pos, ok := producer[addr]
		if !ok {
			return set
		}
		set[pos] = true
		for _, a := range argsOf(ops[pos].op, arg) {
			if a >= 1 && a <= f.numVar {
				for p := range reach(a) {
					set[p] = true
				}
			}
		}
		return set
	}

	var condExps []int
	for i, w := range ops {
		if !w.dead && w.op.code == OpCondExp {
			condExps = append(condExps, i)
		}
	}
	if len(condExps) == 0 {
		return nil, arg
	}

	// otherRoots: every address always needed regardless of any single
	// CondExp's branch outcome - final dependents, side-effect operands,
	// and every OTHER CondExp's four operands.
	var otherRoots []int
	for i, addr := range f.depAddr {
		if !f.depIsParameter[i] {
			otherRoots = append(otherRoots, addr)
		}
	}
	for _, w := range ops {
		if w.dead {
			continue
		}
		switch w.op.code {
		case OpPrint, OpStoreVec:
			for _, a := range argsOf(w.op, arg) {
				if a >= 1 && a <= f.numVar {
					otherRoots = append(otherRoots, a)
				}
			}
		}
	}

	var out []wop
	for _, pos := range condExps {
		args := argsOf(ops[pos].op, arg)
		l, r, thenAddr, elseAddr := args[0], args[1], args[2], args[3]

		other := make(map[int]bool)
		for _, root := range otherRoots {
			for p := range reach(root) {
				other[p] = true
			}
		}
		for _, otherPos := range condExps {
			if otherPos == pos {
				continue
			}
			for _, a := range argsOf(ops[otherPos].op, arg) {
				for p := range reach(a) {
					other[p] = true
				}
			}
		}
		for p := range reach(l) {
			other[p] = true
		}
		for p := range reach(r) {
			other[p] = true
		}

		reachThen := reach(thenAddr)
		reachElse := reach(elseAddr)

		skipWhenThen := diffPositions(reachElse, reachThen, other, pos)
		skipWhenElse := diffPositions(reachThen, reachElse, other, pos)
		if len(skipWhenThen) == 0 && len(skipWhenElse) == 0 {
			continue
		}

		payload := []int{pos, len(skipWhenThen)}
		payload = append(payload, skipWhenThen...)
		payload = append(payload, len(skipWhenElse))
		payload = append(payload, skipWhenElse...)
		argStart := len(arg)
		arg = append(arg, payload...)

		out = append(out, wop{op: opRecord{
			code:     OpCSkip,
			argStart: argStart,
			nArg:     len(payload),
			resBase:  0,
			imm:      pos,
		}})
	}
	return out, arg
}

func diffPositions(from, minus, other map[int]bool, self int) []int {
	var result []int
	for p := range from {
		if p == self || minus[p] || other[p] {
			continue
		}
		result = append(result, p)
	}
	sort.Ints(result)
	return result
}

// fuseSums collapses maximal chains of AddVV/SubVV sharing a single-use
// intermediate into one OpCumSum (spec.md §4.J step 4). Restricted to
// the VV family: PV/VP chains mix a constant-pool index into the same
// argument slot shape CumSum uses for signed variable addresses
// (negative = subtract), so folding them in would need a second
// namespace tag CumSum doesn't carry; a documented scoping cut, noted
// in DESIGN.md.
func (f *Function) fuseSums(ops []wop, arg []int) []int {
	useCount := make(map[int]int)
	posOf := make(map[int]int) // address -> position in ops, for VV add/sub chain ops only
	for i, w := range ops {
		if w.dead {
			continue
		}
		for _, a := range argsOf(w.op, arg) {
			if a >= 1 && a <= f.numVar {
				useCount[a]++
			}
		}
		if (w.op.code == OpAddVV || w.op.code == OpSubVV) && w.op.resBase != 0 {
			posOf[w.op.resBase] = i
		}
	}
	for i, addr := range f.depAddr {
		if !f.depIsParameter[i] {
			useCount[addr]++
		}
	}

	isChainable := func(code OpCode) bool { return code == OpAddVV || code == OpSubVV }

	for i := range ops {
		if ops[i].dead || !isChainable(ops[i].op.code) {
			continue
		}
		// every live chainable op is tried, in tape order, as the terminal
		// consumer the chain is walked backward from; an op an earlier
		// iteration already turned into a CumSum is no longer chainable
		// and enters a later chain as an ordinary leaf term.
		terms := map[int]float64{}
		chainMembers := []int{}
		cur := i
		ok := true
		for ok {
			op := ops[cur].op
			if !isChainable(op.code) {
				break
			}
			args := argsOf(op, arg)
			x, y := args[0], args[1]
			sign := 1.0
			if op.code == OpSubVV {
				sign = -1.0
			}
			// accumulate y always as a leaf term of this op
			terms[y] += sign
			chainMembers = append(chainMembers, cur)
			// does x continue the chain? only if x is produced by
			// another chainable op used exactly once (by this op).
			if p, isChain := posOf[x]; isChain && !ops[p].dead && isChainable(ops[p].op.code) && useCount[x] == 1 && p != cur {
				cur = p
				continue
			}
			terms[x] += 1
			ok = false
		}
		if len(chainMembers) < 2 {
			continue
		}
		// CumSum carries a sign per address, not a coefficient: a chain
		// that counts some address twice (x+x) stays unfused.
		unit := true
		for _, c := range terms {
			if c != 0 && c != 1 && c != -1 {
				unit = false
			}
		}
		if !unit {
			continue
		}
		// materialize as CumSum at position i (keeps i's resBase, the
		// address everything downstream already references).
		addrs := make([]int, 0, len(terms))
		for a := range terms {
			addrs = append(addrs, a)
		}
		sort.Ints(addrs)
		payload := make([]int, 0, len(addrs))
		for _, a := range addrs {
			switch {
			case terms[a] == 0:
				// a appeared with both signs and canceled: contributes
				// nothing, must not be emitted as a +a addend.
			case terms[a] < 0:
				payload = append(payload, -a)
			default:
				payload = append(payload, a)
			}
		}
		if len(payload) == 0 {
			// the whole chain canceled to zero: leave it unfused, CSE and
			// liveness already handled whatever can be dropped elsewhere.
			continue
		}
		start := len(arg)
		arg = append(arg, payload...)
		res := ops[i].op.resBase
		ops[i].op = opRecord{code: OpCumSum, argStart: start, nArg: len(payload), resBase: res}
		for _, p := range chainMembers {
			if p != i {
				ops[p].dead = true
			}
		}
	}
	return arg
}

// renumber is the final pass: compacts ops (dropping dead entries) into
// a fresh op/arg backstore, fixes up CSkip payloads (whose first field
// and skip-set entries are old ops-slice positions) through the
// position map built here, and rewrites dep_addr through survivorMap.
// Produces the new, independent *Function (spec.md §4.J step 5); every
// sparsity cache is dropped.
func (f *Function) renumber(ops []wop, arg []int, survivorMap map[int]int) *Function {
	posMap := make(map[int]int)
	newOps := make([]opRecord, 0, len(ops))
	newArg := make([]int, 0, len(arg))
	for i, w := range ops {
		if w.dead {
			continue
		}
		posMap[i] = len(newOps)
		op := w.op
		start := len(newArg)
		args := append([]int(nil), arg[op.argStart:op.argStart+op.nArg]...)
		if op.code == OpCSkip {
			args = remapCSkipArgs(args, posMap)
			op.imm = remapPos(op.imm, posMap)
		}
		op.nArg = len(args)
		newArg = append(newArg, args...)
		op.argStart = start
		newOps = append(newOps, op)
	}

	newDepAddr := make([]int, len(f.depAddr))
	for i, addr := range f.depAddr {
		newDepAddr[i] = addr
		if !f.depIsParameter[i] {
			if c, ok := survivorMap[addr]; ok {
				newDepAddr[i] = c
			}
		}
	}

	return &Function{
		op:             newOps,
		arg:            newArg,
		par:            append([]float64(nil), f.par...),
		dynOp:          append([]opRecord(nil), f.dynOp...),
		dynArg:         append([]int(nil), f.dynArg...),
		dynPar2Var:     append([]int(nil), f.dynPar2Var...),
		dynIndepCount:  f.dynIndepCount,
		vecAD:          append([]vecADDecl(nil), f.vecAD...),
		indAddr:        append([]int(nil), f.indAddr...),
		depAddr:        newDepAddr,
		depIsParameter: append([]bool(nil), f.depIsParameter...),
		numVar:         f.numVar,
		recordingID:    f.recordingID,
		dynVal:         append([]float64(nil), f.dynVal...),
		checkForNaN:    f.checkForNaN,
		nDir:           1,
	}
}

// remapPos resolves a pre-renumber op position to its post-renumber
// index; a position whose op was itself dropped (absorbed by sum
// fusion, or dead for any other reason) has nothing left to skip, so it
// is simply omitted by returning -1, filtered out by the caller.
func remapPos(old int, posMap map[int]int) int {
	if p, ok := posMap[old]; ok {
		return p
	}
	return -1
}

// remapCSkipArgs rewrites a CSkip op's payload ([condExpPos, n1,
// skip1..., n2, skip2...]) through posMap, dropping any entry whose
// producer was itself removed (nothing left to skip there).
func remapCSkipArgs(args []int, posMap map[int]int) []int {
	condPos := remapPos(args[0], posMap)
	n1 := args[1]
	set1 := filterPositions(args[2:2+n1], posMap)
	n2Idx := 2 + n1
	n2 := args[n2Idx]
	set2 := filterPositions(args[n2Idx+1:n2Idx+1+n2], posMap)

	out := make([]int, 0, 2+len(set1)+len(set2))
	out = append(out, condPos, len(set1))
	out = append(out, set1...)
	out = append(out, len(set2))
	out = append(out, set2...)
	return out
}

func filterPositions(positions []int, posMap map[int]int) []int {
	out := make([]int, 0, len(positions))
	for _, p := range positions {
		if np := remapPos(p, posMap); np >= 0 {
			out = append(out, np)
		}
	}
	return out
}
