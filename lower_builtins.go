package clovec

// Builtin lowering. Each builtin has a dedicated function that resolves the
// concrete kinds of its heap arguments (from the AST when visible, from the
// hydrated inference tables otherwise), stages owned heap arguments into
// tracked temporaries, and dispatches to the kind-specific runtime entry
// point.

func (lw *lowerer) lowerCount(args []*Node) (*compileResult, error) {
	if len(args) != 1 {
		return nil, &ArityError{Op: "count", Expected: 1, Actual: len(args)}
	}
	sub, err := lw.lower(args[0])
	if err != nil {
		return nil, err
	}
	var entry string
	switch sub.kind {
	case KindString:
		entry = runtimeStringCount
	case KindVector:
		entry = runtimeVectorCount
	case KindMap:
		entry = runtimeMapCount
	default:
		// Sets have no count entry point in the runtime contract.
		return nil, &UnsupportedOperationError{Op: "count"}
	}
	lw.stageOwned(sub)
	r := &compileResult{kind: KindNumber}
	r.absorb(sub)
	r.emit(runtimeCall(entry, 1))
	return r, nil
}

func (lw *lowerer) lowerStr(args []*Node) (*compileResult, error) {
	if len(args) == 0 {
		return nil, &ArityError{Op: "str", Expected: 1, Actual: 0}
	}
	r := &compileResult{kind: KindString, ownership: OwnOwned}
	slots := lw.ctx.allocContiguousTempSlots(len(args))
	for i, a := range args {
		sub, err := lw.lower(a)
		if err != nil {
			return nil, err
		}
		switch sub.kind {
		case KindNumber:
			sub.emit(runtimeCall(runtimeStringFromNumber, 1))
		case KindBoolean:
			sub.emit(runtimeCall(runtimeStringFromBoolean, 1))
		case KindKeyword:
			sub.emit(runtimeCall(runtimeStringNormalize, 1))
		case KindString:
			lw.ensureOwned(sub)
		case KindVector:
			lw.stageOwned(sub)
			sub.emit(runtimeCall(runtimeVectorToString, 1))
		case KindMap:
			lw.stageOwned(sub)
			sub.emit(runtimeCall(runtimeMapToString, 1))
		case KindSet:
			lw.stageOwned(sub)
			sub.emit(runtimeCall(runtimeSetToString, 1))
		default:
			return nil, &UnsupportedOperationError{Op: "str"}
		}
		r.absorb(sub)
		r.emit(storeLocal(slots[i]))
		r.tracked = append(r.tracked, trackedSlot{slot: slots[i], kind: KindString})
	}
	r.emit(pushLocalAddr(slots[0]), push(int64(len(args))), runtimeCall(runtimeStringConcatN, 2))
	return r, nil
}

func (lw *lowerer) lowerSubs(args []*Node) (*compileResult, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, &ArityError{Op: "subs", Expected: 2, Actual: len(args)}
	}
	sub, err := lw.lower(args[0])
	if err != nil {
		return nil, err
	}
	var entry string
	switch sub.kind {
	case KindString:
		entry = runtimeStringSubs
	case KindVector:
		entry = runtimeVectorSlice
	default:
		return nil, &UnsupportedOperationError{Op: "subs"}
	}
	lw.stageOwned(sub)
	r := &compileResult{kind: sub.kind, ownership: OwnOwned, elemKind: sub.elemKind, elemKnown: sub.elemKnown}
	r.absorb(sub)
	for _, idx := range args[1:] {
		idxRes, err := lw.lower(idx)
		if err != nil {
			return nil, err
		}
		r.absorb(idxRes)
	}
	r.emit(runtimeCall(entry, len(args)))
	return r, nil
}

func (lw *lowerer) lowerGet(args []*Node) (*compileResult, error) {
	if len(args) != 2 {
		return nil, &ArityError{Op: "get", Expected: 2, Actual: len(args)}
	}
	coll, key := args[0], args[1]

	// A literal map with a literal key that is statically present needs no
	// runtime lookup at all; the value's own lowering is the result.
	if coll.Kind == NodeMap && key.Kind == NodeKeyword {
		if value, ok := literalMapValue(coll, key.Text); ok {
			return lw.lower(value)
		}
	}

	sub, err := lw.lower(coll)
	if err != nil {
		return nil, err
	}
	switch sub.kind {
	case KindVector:
		lw.stageOwned(sub)
		r := &compileResult{kind: sub.elemKind}
		r.absorb(sub)
		idx, err := lw.lower(key)
		if err != nil {
			return nil, err
		}
		r.absorb(idx)
		r.emit(runtimeCall(runtimeVectorGet, 2))
		if sub.elemKnown && sub.elemKind.IsHeap() {
			// Element reads are promoted at the source so borrowed
			// container internals never escape.
			r.emit(runtimeCall(cloneRuntime(sub.elemKind), 1))
			r.ownership = OwnOwned
		}
		return r, nil
	case KindString:
		lw.stageOwned(sub)
		r := &compileResult{kind: KindString, ownership: OwnOwned}
		r.absorb(sub)
		idx, err := lw.lower(key)
		if err != nil {
			return nil, err
		}
		r.absorb(idx)
		r.emit(runtimeCall(runtimeStringGet, 2))
		return r, nil
	case KindMap:
		return lw.lowerMapGet(sub, key)
	default:
		return nil, &UnsupportedOperationError{Op: "get"}
	}
}

// lowerMapGet lowers a map lookup. When the value-type metadata proves the
// key present, the lookup is resolved at compile time: scalar kinds fold to
// a direct push of the kind's default with no runtime map call, heap kinds
// go straight through _map_value_clone so the caller owns its copy. A key
// the metadata cannot prove takes the contains/get fallback and produces
// nil when missing.
func (lw *lowerer) lowerMapGet(sub *compileResult, key *Node) (*compileResult, error) {
	valueKind := KindAny
	present := false
	if key.Kind == NodeKeyword {
		if vk, ok := sub.mapValues[key.Text]; ok {
			valueKind = vk
			present = true
		}
	}

	switch valueKind {
	case KindNumber, KindBoolean, KindNil:
		r := &compileResult{kind: valueKind}
		switch {
		case sub.ownership == OwnOwned:
			// The map expression still runs for its effects; its result is
			// parked for the liveness pass to release.
			r.absorb(sub)
			slot := lw.ctx.allocTempSlot()
			r.emit(storeLocal(slot))
			r.tracked = append(r.tracked, trackedSlot{slot: slot, kind: KindMap})
		case len(sub.insts) == 1:
			// A bare load of a live binding is dropped entirely.
		default:
			r.absorb(sub)
			r.emit(storeLocal(lw.ctx.allocTempSlot()))
		}
		r.emit(push(0))
		return r, nil
	}

	r := &compileResult{}

	// The map may be consulted twice (test, then lookup). A borrowed map
	// that is a bare load is re-loaded for each consult, which keeps the
	// owner alive through the last one. Anything else is parked in a
	// tracked slot; a complex borrowed source is promoted first so the
	// parked value never outlives what it aliases.
	var consult Instruction
	if sub.ownership != OwnOwned && len(sub.insts) == 1 &&
		(sub.insts[0].Op == OpLoadLocal || sub.insts[0].Op == OpLoadParam) {
		consult = sub.insts[0]
	} else {
		lw.ensureOwned(sub)
		r.absorb(sub)
		slot := lw.ctx.allocTempSlot()
		r.emit(storeLocal(slot))
		r.tracked = append(r.tracked, trackedSlot{slot: slot, kind: KindMap})
		consult = loadLocal(slot)
	}

	keyRes, err := lw.lower(key)
	if err != nil {
		return nil, err
	}
	if len(keyRes.tracked) > 0 || len(keyRes.retained) > 0 {
		return nil, &InvalidExpressionError{Reason: "map key must be a scalar value"}
	}

	if present && valueKind.IsHeap() {
		// Presence is proven, so no contains test: one direct cloning
		// lookup.
		r.kind = valueKind
		r.ownership = OwnOwned
		r.emit(consult)
		r.absorb(keyRes)
		r.emit(runtimeCall(runtimeMapValueClone, 2))
		return r, nil
	}

	r.kind = valueKind
	r.emit(consult)
	r.absorb(keyRes)
	r.emit(runtimeCall(runtimeMapContains, 2))
	condEnd := len(r.insts)
	thenLen := 2 + len(keyRes.insts)
	elseStart := condEnd + 1 + thenLen + 1
	end := elseStart + 1
	r.emit(jumpIfZero(elseStart))
	r.emit(consult)
	r.absorb(keyRes)
	r.emit(runtimeCall(runtimeMapGet, 2))
	r.emit(jump(end))
	r.emit(push(0)) // missing key produces nil
	return r, nil
}

func (lw *lowerer) lowerContains(args []*Node) (*compileResult, error) {
	if len(args) != 2 {
		return nil, &ArityError{Op: "contains?", Expected: 2, Actual: len(args)}
	}
	coll, key := args[0], args[1]

	if coll.Kind == NodeMap && key.Kind == NodeKeyword {
		if allKeywordKeys(coll) {
			_, present := literalMapValue(coll, key.Text)
			r := &compileResult{kind: KindBoolean}
			if present {
				r.emit(push(1))
			} else {
				r.emit(push(0))
			}
			return r, nil
		}
	}
	// Metadata can prove presence (it is additive, never absence): a pure
	// collection reference with the key on record folds to true.
	if coll.Kind == NodeSymbol && key.Kind == NodeKeyword {
		if v, ok := lw.ctx.variable(coll.Text); ok {
			if _, present := v.mapValues[key.Text]; present {
				r := &compileResult{kind: KindBoolean}
				r.emit(push(1))
				return r, nil
			}
		}
	}

	sub, err := lw.lower(coll)
	if err != nil {
		return nil, err
	}
	var entry string
	switch sub.kind {
	case KindMap:
		entry = runtimeMapContains
	case KindSet:
		entry = runtimeSetContains
	default:
		return nil, &UnsupportedOperationError{Op: "contains?"}
	}
	lw.stageOwned(sub)
	r := &compileResult{kind: KindBoolean}
	r.absorb(sub)
	keyRes, err := lw.lower(key)
	if err != nil {
		return nil, err
	}
	lw.stageOwned(keyRes)
	r.absorb(keyRes)
	r.emit(runtimeCall(entry, 2))
	return r, nil
}

func (lw *lowerer) lowerAssoc(args []*Node) (*compileResult, error) {
	if len(args) != 3 {
		return nil, &ArityError{Op: "assoc", Expected: 3, Actual: len(args)}
	}
	m, key, value := args[0], args[1], args[2]
	sub, err := lw.lower(m)
	if err != nil {
		return nil, err
	}
	if sub.kind != KindMap {
		return nil, &UnsupportedOperationError{Op: "assoc"}
	}
	// assoc updates in place, so a borrowed map is cloned first to keep
	// the source binding intact.
	lw.ensureOwned(sub)

	r := &compileResult{kind: KindMap, ownership: OwnOwned}
	r.absorb(sub)
	keyRes, err := lw.lower(key)
	if err != nil {
		return nil, err
	}
	r.absorb(keyRes)
	valueRes, err := lw.lower(value)
	if err != nil {
		return nil, err
	}
	lw.ensureOwned(valueRes)
	r.absorb(valueRes)
	r.emit(runtimeCall(runtimeMapAssoc, 3))

	// Overwriting a literal key releases the nested owner captured when
	// the map literal was built.
	if key.Kind == NodeKeyword {
		if rs, ok := r.findRetained(key.Text); ok {
			r.emit(freeRetained(rs))
		}
	}

	// The value-type table is rewritten functionally so later lookups on
	// the result keep their compile-time answers.
	values := make(map[string]ValueKind, len(sub.mapValues)+1)
	for k, v := range sub.mapValues {
		values[k] = v
	}
	if key.Kind == NodeKeyword {
		values[key.Text] = valueRes.kind
	}
	r.mapValues = values
	return r, nil
}

func (lw *lowerer) lowerDissoc(args []*Node) (*compileResult, error) {
	if len(args) != 2 {
		return nil, &ArityError{Op: "dissoc", Expected: 2, Actual: len(args)}
	}
	sub, err := lw.lower(args[0])
	if err != nil {
		return nil, err
	}
	if sub.kind != KindMap {
		return nil, &UnsupportedOperationError{Op: "dissoc"}
	}
	lw.ensureOwned(sub)
	r := &compileResult{kind: KindMap, ownership: OwnOwned}
	r.absorb(sub)
	keyRes, err := lw.lower(args[1])
	if err != nil {
		return nil, err
	}
	r.absorb(keyRes)
	r.emit(runtimeCall(runtimeMapDissoc, 2))

	key := args[1]
	if key.Kind == NodeKeyword {
		if rs, ok := r.findRetained(key.Text); ok {
			r.emit(freeRetained(rs))
		}
	}
	if len(sub.mapValues) > 0 {
		values := make(map[string]ValueKind, len(sub.mapValues))
		for k, v := range sub.mapValues {
			if key.Kind == NodeKeyword && k == key.Text {
				continue
			}
			values[k] = v
		}
		r.mapValues = values
	}
	return r, nil
}

func (lw *lowerer) lowerDisj(args []*Node) (*compileResult, error) {
	if len(args) != 2 {
		return nil, &ArityError{Op: "disj", Expected: 2, Actual: len(args)}
	}
	sub, err := lw.lower(args[0])
	if err != nil {
		return nil, err
	}
	if sub.kind != KindSet {
		return nil, &UnsupportedOperationError{Op: "disj"}
	}
	lw.ensureOwned(sub)
	r := &compileResult{kind: KindSet, ownership: OwnOwned, elemKind: sub.elemKind, elemKnown: sub.elemKnown}
	r.absorb(sub)
	elemRes, err := lw.lower(args[1])
	if err != nil {
		return nil, err
	}
	lw.stageOwned(elemRes)
	r.absorb(elemRes)
	r.emit(runtimeCall(runtimeSetDisj, 2))

	if rs, ok := r.findRetained(args[1].String()); ok {
		r.emit(freeRetained(rs))
	}
	return r, nil
}

// lowerSequenceLiteral builds a vector or set literal: every element is
// lowered into a pre-allocated contiguous slot run, promoted to Owned, and
// the constructor receives a stable pointer to the run. The container then
// exclusively owns everything it references.
func (lw *lowerer) lowerSequenceLiteral(node *Node, kind ValueKind, create string) (*compileResult, error) {
	r := &compileResult{kind: kind, ownership: OwnOwned}
	n := len(node.Children)
	if n == 0 {
		r.emit(push(0), push(0), runtimeCall(create, 2))
		return r, nil
	}
	slots := lw.ctx.allocContiguousTempSlots(n)
	elem := KindAny
	for i, child := range node.Children {
		sub, err := lw.lower(child)
		if err != nil {
			return nil, err
		}
		lw.ensureOwned(sub)
		// Nested owners dissolve into the container; its deep free
		// releases them.
		sub.retained = nil
		r.absorb(sub)
		r.emit(storeLocal(slots[i]))
		if sub.kind.IsHeap() {
			r.retained = append(r.retained, retainedSlot{
				slot: slots[i],
				kind: sub.kind,
				key:  child.String(),
			})
		}
		if i == 0 {
			elem = sub.kind
		} else {
			elem = mergeKind(elem, sub.kind)
		}
	}
	r.emit(pushLocalAddr(slots[0]), push(int64(n)), runtimeCall(create, 2))
	if elem != KindAny {
		r.elemKind = elem
		r.elemKnown = true
	}
	return r, nil
}

// lowerMapLiteral builds a map literal from a contiguous run of
// key/value slot pairs.
func (lw *lowerer) lowerMapLiteral(node *Node) (*compileResult, error) {
	r := &compileResult{kind: KindMap, ownership: OwnOwned}
	n := len(node.Entries)
	if n == 0 {
		r.emit(push(0), push(0), runtimeCall(runtimeMapCreate, 2))
		r.mapValues = map[string]ValueKind{}
		return r, nil
	}
	slots := lw.ctx.allocContiguousTempSlots(2 * n)
	values := make(map[string]ValueKind, n)
	literalKeys := true
	for i, e := range node.Entries {
		keyRes, err := lw.lower(e.Key)
		if err != nil {
			return nil, err
		}
		lw.ensureOwned(keyRes)
		r.absorb(keyRes)
		r.emit(storeLocal(slots[2*i]))

		valueRes, err := lw.lower(e.Value)
		if err != nil {
			return nil, err
		}
		lw.ensureOwned(valueRes)
		valueRes.retained = nil
		r.absorb(valueRes)
		r.emit(storeLocal(slots[2*i+1]))

		if e.Key.Kind == NodeKeyword {
			values[e.Key.Text] = valueRes.kind
			if valueRes.kind.IsHeap() {
				r.retained = append(r.retained, retainedSlot{
					slot: slots[2*i+1],
					kind: valueRes.kind,
					key:  e.Key.Text,
				})
			}
		} else {
			literalKeys = false
		}
	}
	r.emit(pushLocalAddr(slots[0]), push(int64(n)), runtimeCall(runtimeMapCreate, 2))
	if literalKeys {
		r.mapValues = values
	}
	return r, nil
}

func allKeywordKeys(m *Node) bool {
	for _, e := range m.Entries {
		if e.Key.Kind != NodeKeyword {
			return false
		}
	}
	return true
}

// freeRetained emits the release for a nested owner whose slot is being
// evicted from its container.
func freeRetained(rs retainedSlot) Instruction {
	if rt := freeRuntime(rs.kind); rt != "" {
		return freeLocalWith(rs.slot, rt)
	}
	return freeLocal(rs.slot)
}
