package clovec

import "fmt"

// retainedSlot records a temporary slot holding an owned heap value that
// must survive past the instruction that created it, typically a container
// element stored before the container itself is built. The literal key lets
// assoc/dissoc/disj on the same literal find and release the correct nested
// owner. The runtime's container frees are deep, so evicting a slot never
// needs to chase what it captured in turn.
type retainedSlot struct {
	slot int
	kind ValueKind
	key  string
}

// compileResult is the outcome of lowering one AST node: the instruction
// fragment (jump targets are absolute indices into insts), the resulting
// kind and ownership, container metadata, the tracked slots the liveness
// pass must release, and retained nested owners pending hand-off.
type compileResult struct {
	insts     []Instruction
	kind      ValueKind
	ownership HeapOwnership

	mapValues map[string]ValueKind
	elemKind  ValueKind
	elemKnown bool

	tracked  []trackedSlot
	retained []retainedSlot

	// borrowedFrom names the local or parameter this value aliases, ""
	// when the value is independent.
	borrowedFrom string
}

func (r *compileResult) emit(insts ...Instruction) {
	r.insts = append(r.insts, insts...)
}

// absorb appends a sub-result's fragment, re-basing its jump targets, and
// carries its tracked and retained slots upward.
func (r *compileResult) absorb(sub *compileResult) {
	base := len(r.insts)
	for _, in := range sub.insts {
		switch in.Op {
		case OpJump, OpJumpIfZero:
			in.Index += base
		}
		r.insts = append(r.insts, in)
	}
	r.tracked = append(r.tracked, sub.tracked...)
	r.retained = append(r.retained, sub.retained...)
}

// untrack removes a slot from the tracked set, used when ownership of the
// value in that slot transfers to the caller.
func (r *compileResult) untrack(slot int) bool {
	for i, ts := range r.tracked {
		if ts.slot == slot {
			r.tracked = append(r.tracked[:i], r.tracked[i+1:]...)
			return true
		}
	}
	return false
}

func (r *compileResult) findRetained(key string) (retainedSlot, bool) {
	for i, rs := range r.retained {
		if rs.key == key {
			found := rs
			r.retained = append(r.retained[:i], r.retained[i+1:]...)
			return found, true
		}
	}
	return retainedSlot{}, false
}

// lowerer translates AST nodes to IR fragments against one compile context.
type lowerer struct {
	ctx     *compileContext
	graph   *graphBuilder
	strings *stringTable
	log     Logger
}

func (lw *lowerer) lower(node *Node) (*compileResult, error) {
	switch node.Kind {
	case NodeNumber:
		r := &compileResult{kind: KindNumber}
		r.emit(push(node.Number))
		return r, nil
	case NodeBoolean:
		r := &compileResult{kind: KindBoolean}
		if node.Bool {
			r.emit(push(1))
		} else {
			r.emit(push(0))
		}
		return r, nil
	case NodeNil:
		r := &compileResult{kind: KindNil}
		r.emit(push(0))
		return r, nil
	case NodeString:
		r := &compileResult{kind: KindString, ownership: OwnNone}
		r.emit(pushString(lw.strings.intern(node.Text)))
		return r, nil
	case NodeKeyword:
		r := &compileResult{kind: KindKeyword}
		r.emit(pushString(lw.strings.intern(node.Text)))
		return r, nil
	case NodeSymbol:
		return lw.lowerSymbol(node)
	case NodeVector:
		return lw.lowerSequenceLiteral(node, KindVector, runtimeVectorCreate)
	case NodeSet:
		return lw.lowerSequenceLiteral(node, KindSet, runtimeSetCreate)
	case NodeMap:
		return lw.lowerMapLiteral(node)
	case NodeList:
		return lw.lowerList(node)
	default:
		return nil, &InvalidExpressionError{Reason: fmt.Sprintf("unexpected %s node", node.Kind)}
	}
}

func (lw *lowerer) lowerSymbol(node *Node) (*compileResult, error) {
	v, ok := lw.ctx.variable(node.Text)
	if !ok {
		return nil, &UndefinedVariableError{Name: node.Text}
	}
	r := &compileResult{
		kind:      v.kind,
		mapValues: v.mapValues,
		elemKind:  v.elemKind,
		elemKnown: v.elemKnown,
	}
	if v.param {
		r.emit(loadParam(v.slot))
	} else {
		r.emit(loadLocal(v.slot))
	}
	if v.kind.IsHeap() && v.heapAllocated {
		r.ownership = OwnBorrowed
		r.borrowedFrom = node.Text
	}
	return r, nil
}

func (lw *lowerer) lowerList(node *Node) (*compileResult, error) {
	if len(node.Children) == 0 {
		return nil, &InvalidExpressionError{Reason: "empty list is not callable"}
	}
	head := node.Children[0]
	if head.Kind != NodeSymbol {
		return nil, &InvalidExpressionError{Reason: fmt.Sprintf("operator must be a symbol, got %s", head.Kind)}
	}
	args := node.Children[1:]
	switch head.Text {
	case "defn":
		return nil, &InvalidExpressionError{Reason: "defn is only allowed at the top level"}
	case "let":
		return lw.lowerLet(args)
	case "if":
		return lw.lowerIf(args)
	case "+", "-", "*", "/":
		return lw.lowerArithmetic(head.Text, args)
	case "=", "<", ">", "<=", ">=":
		return lw.lowerComparison(head.Text, args)
	case "not":
		return lw.lowerNot(args)
	case "count":
		return lw.lowerCount(args)
	case "get":
		return lw.lowerGet(args)
	case "subs":
		return lw.lowerSubs(args)
	case "str":
		return lw.lowerStr(args)
	case "assoc":
		return lw.lowerAssoc(args)
	case "dissoc":
		return lw.lowerDissoc(args)
	case "disj":
		return lw.lowerDisj(args)
	case "contains?":
		return lw.lowerContains(args)
	default:
		return lw.lowerCall(head.Text, args)
	}
}

var arithmeticOps = map[string]Op{"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv}
var comparisonOps = map[string]Op{"=": OpEq, "<": OpLt, ">": OpGt, "<=": OpLe, ">=": OpGe}

func (lw *lowerer) lowerArithmetic(op string, args []*Node) (*compileResult, error) {
	if len(args) < 2 {
		return nil, &ArityError{Op: op, Expected: 2, Actual: len(args)}
	}
	r := &compileResult{kind: KindNumber}
	for i, a := range args {
		sub, err := lw.lower(a)
		if err != nil {
			return nil, err
		}
		r.absorb(sub)
		if i > 0 {
			r.emit(Instruction{Op: arithmeticOps[op]})
		}
	}
	return r, nil
}

func (lw *lowerer) lowerComparison(op string, args []*Node) (*compileResult, error) {
	if len(args) != 2 {
		return nil, &ArityError{Op: op, Expected: 2, Actual: len(args)}
	}
	r := &compileResult{kind: KindBoolean}
	for _, a := range args {
		sub, err := lw.lower(a)
		if err != nil {
			return nil, err
		}
		r.absorb(sub)
	}
	r.emit(Instruction{Op: comparisonOps[op]})
	return r, nil
}

func (lw *lowerer) lowerNot(args []*Node) (*compileResult, error) {
	if len(args) != 1 {
		return nil, &ArityError{Op: "not", Expected: 1, Actual: len(args)}
	}
	sub, err := lw.lower(args[0])
	if err != nil {
		return nil, err
	}
	r := &compileResult{kind: KindBoolean}
	r.absorb(sub)
	r.emit(Instruction{Op: OpNot})
	return r, nil
}

func (lw *lowerer) lowerLet(args []*Node) (*compileResult, error) {
	if len(args) < 2 || args[0].Kind != NodeVector {
		return nil, &InvalidExpressionError{Reason: "let needs a binding vector and a body"}
	}
	pairs := args[0].Children
	if len(pairs)%2 != 0 {
		return nil, &InvalidExpressionError{Reason: "let binding vector needs name/value pairs"}
	}

	r := &compileResult{}
	type letLocal struct {
		name string
		slot int
		kind ValueKind
	}
	var heapLocals []letLocal
	shadowed := make(map[string]*varInfo)

	for i := 0; i < len(pairs); i += 2 {
		nameNode := pairs[i]
		if nameNode.Kind != NodeSymbol {
			return nil, &InvalidExpressionError{Reason: "let binding name must be a symbol"}
		}
		name := nameNode.Text
		init, err := lw.lower(pairs[i+1])
		if err != nil {
			return nil, err
		}
		// Every named heap local owns its payload: borrowed or static
		// initializers are promoted so locals never alias each other.
		if init.kind.IsHeap() {
			lw.ensureOwned(init)
		}
		r.absorb(init)

		if prev, ok := lw.ctx.vars[name]; ok {
			if _, seen := shadowed[name]; !seen {
				shadowed[name] = prev
			}
		} else if _, seen := shadowed[name]; !seen {
			shadowed[name] = nil
		}
		slot := lw.ctx.addVariable(name)
		r.emit(storeLocal(slot))

		lw.ctx.hydrateLocal(lw.graph, name)
		v := lw.ctx.vars[name]
		if init.kind != KindAny {
			v.kind = init.kind
		}
		v.ownership = init.ownership
		if len(init.mapValues) > 0 {
			v.mapValues = init.mapValues
		}
		if init.elemKnown {
			v.elemKind = init.elemKind
			v.elemKnown = true
		}
		if v.kind.IsHeap() {
			lw.ctx.markHeapAllocated(name, v.kind)
			heapLocals = append(heapLocals, letLocal{name: name, slot: slot, kind: v.kind})
		}
	}

	var body *compileResult
	for i, expr := range args[1:] {
		sub, err := lw.lower(expr)
		if err != nil {
			return nil, err
		}
		if i == len(args[1:])-1 {
			body = sub
		} else {
			// Discarded body expressions: their owned temps are still
			// tracked and released by the liveness pass.
			r.absorb(sub)
		}
	}
	escaped := ""
	if body.kind.IsHeap() && body.ownership == OwnBorrowed {
		for _, hl := range heapLocals {
			if hl.name == body.borrowedFrom {
				escaped = hl.name
				body.ownership = OwnOwned
				body.borrowedFrom = ""
				break
			}
		}
	}
	r.absorb(body)
	r.kind = body.kind
	r.ownership = body.ownership
	r.mapValues = body.mapValues
	r.elemKind = body.elemKind
	r.elemKnown = body.elemKnown
	r.borrowedFrom = body.borrowedFrom

	for _, hl := range heapLocals {
		if hl.name == escaped {
			continue
		}
		r.tracked = append(r.tracked, trackedSlot{slot: hl.slot, kind: hl.kind})
	}

	// Restore shadowed bindings; locals do not outlive their let.
	for name, prev := range shadowed {
		if prev == nil {
			delete(lw.ctx.vars, name)
		} else {
			lw.ctx.vars[name] = prev
		}
	}
	return r, nil
}

func (lw *lowerer) lowerIf(args []*Node) (*compileResult, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, &ArityError{Op: "if", Expected: 3, Actual: len(args)}
	}
	cond, err := lw.lower(args[0])
	if err != nil {
		return nil, err
	}
	thenArm, err := lw.lower(args[1])
	if err != nil {
		return nil, err
	}
	var elseArm *compileResult
	if len(args) == 3 {
		elseArm, err = lw.lower(args[2])
		if err != nil {
			return nil, err
		}
	} else {
		elseArm = &compileResult{kind: KindNil}
		elseArm.emit(push(0))
	}
	// Arm results must not alias locals across the merge point; a borrowed
	// result from either arm is promoted before the join.
	lw.ensureOwned(thenArm)
	lw.ensureOwned(elseArm)
	// Slots created inside an arm exist on that path only, so their
	// releases are planned within the arm. Slots created before the
	// conditional stay tracked and are handled by the enclosing range.
	lw.flushTracked(thenArm)
	lw.flushTracked(elseArm)

	r := &compileResult{}
	r.absorb(cond)
	condEnd := len(r.insts)
	elseStart := condEnd + 1 + len(thenArm.insts) + 1
	end := elseStart + len(elseArm.insts)
	r.emit(jumpIfZero(elseStart))
	r.absorb(thenArm)
	r.emit(jump(end))
	r.absorb(elseArm)

	r.kind = mergeKind(thenArm.kind, elseArm.kind)
	r.ownership = mergeOwnership(thenArm.ownership, elseArm.ownership)
	return r, nil
}

func (lw *lowerer) lowerCall(name string, args []*Node) (*compileResult, error) {
	sig, ok := lw.ctx.signature(name)
	if !ok {
		return nil, &UnsupportedOperationError{Op: name}
	}
	if len(args) != sig.arity {
		return nil, &ArityError{Op: name, Expected: sig.arity, Actual: len(args)}
	}
	r := &compileResult{}
	for _, a := range args {
		sub, err := lw.lower(a)
		if err != nil {
			return nil, err
		}
		// Arguments are passed by value: the callee takes ownership of
		// heap arguments, so borrowed locals are cloned at the call site.
		// The transferred value itself rides the stack; any slots the
		// argument tracked are auxiliary temporaries the caller still
		// releases.
		if sub.kind.IsHeap() {
			lw.ensureOwned(sub)
		}
		r.absorb(sub)
	}
	r.emit(call(name, len(args)))
	r.kind = sig.returnKind
	r.ownership = sig.returnOwnership
	return r, nil
}

// ensureOwned promotes a heap-kind result to Owned by emitting the
// kind-appropriate clone, or a normalize for static string-table refs.
// Scalars and already-owned values are untouched. Unknown kinds are left
// alone: with no kind there is no clone entry point, and the conservative
// outcome is to not free rather than to mis-free.
func (lw *lowerer) ensureOwned(r *compileResult) {
	if !r.kind.IsHeap() || r.ownership == OwnOwned {
		return
	}
	if r.kind == KindString && r.ownership == OwnNone {
		r.emit(runtimeCall(runtimeStringNormalize, 1))
	} else {
		r.emit(runtimeCall(cloneRuntime(r.kind), 1))
	}
	r.ownership = OwnOwned
	r.borrowedFrom = ""
}

// flushTracked runs the liveness planner over a finished fragment and
// splices the releases for its own tracked slots.
func (lw *lowerer) flushTracked(r *compileResult) {
	if len(r.tracked) == 0 {
		return
	}
	plan := planFrees(r.insts, r.tracked, lw.log)
	r.insts = applyPlan(r.insts, plan)
	r.tracked = nil
}

// stageOwned parks an owned heap value in a fresh tracked temporary so the
// liveness pass can release it after its last use, and reloads it for the
// consuming instruction. Borrowed and static values pass through untouched.
func (lw *lowerer) stageOwned(r *compileResult) {
	if !r.kind.IsHeap() || r.ownership != OwnOwned {
		return
	}
	slot := lw.ctx.allocTempSlot()
	r.emit(storeLocal(slot), loadLocal(slot))
	r.tracked = append(r.tracked, trackedSlot{slot: slot, kind: r.kind})
	r.ownership = OwnBorrowed
	r.borrowedFrom = ""
}
