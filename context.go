package clovec

// funcSig is the per-function signature table hydrated from the constraint
// solver's output before lowering begins.
type funcSig struct {
	arity           int
	paramKinds      []ValueKind
	paramOwnership  []HeapOwnership
	returnKind      ValueKind
	returnOwnership HeapOwnership
}

// varInfo is the lowering-time record of one named local or parameter.
type varInfo struct {
	slot          int
	param         bool
	kind          ValueKind
	ownership     HeapOwnership
	heapAllocated bool
	mapValues     map[string]ValueKind
	elemKind      ValueKind
	elemKnown     bool
}

// compileContext is the mutable state threaded through lowering: slot
// allocation, the variable/parameter tables for the current function, and
// the function signature tables shared by every scope of a compilation.
type compileContext struct {
	fn       string // current function, "" for the top-level program scope
	nextSlot int
	vars     map[string]*varInfo
	sigs     map[string]*funcSig
	// registered tracks names whose defn has been lowered; sigs alone
	// cannot serve because hydration fills it for every declared name.
	registered map[string]bool
	log        Logger
}

func newCompileContext(log Logger) *compileContext {
	return &compileContext{
		vars:       make(map[string]*varInfo),
		sigs:       make(map[string]*funcSig),
		registered: make(map[string]bool),
		log:        log,
	}
}

// newFunctionScope returns a child context for lowering the named
// function's body. Only the signature tables are shared; slot and variable
// state starts empty because function frames do not alias each other.
func (c *compileContext) newFunctionScope(fn string) *compileContext {
	return &compileContext{
		fn:         fn,
		vars:       make(map[string]*varInfo),
		sigs:       c.sigs,
		registered: c.registered,
		log:        c.log,
	}
}

// registerFunction records a function signature. This is the single
// authoritative rejection point for duplicate names.
func (c *compileContext) registerFunction(name string, sig *funcSig) error {
	if c.registered[name] {
		return &DuplicateFunctionError{Name: name}
	}
	c.registered[name] = true
	c.sigs[name] = sig
	return nil
}

func (c *compileContext) signature(name string) (*funcSig, bool) {
	sig, ok := c.sigs[name]
	return sig, ok
}

// addVariable assigns a fresh slot to a named local. Slots are never
// reused within a function; see releaseTempSlot.
func (c *compileContext) addVariable(name string) int {
	slot := c.nextSlot
	c.nextSlot++
	c.vars[name] = &varInfo{slot: slot, kind: KindAny}
	return slot
}

// addParameter registers a formal parameter at its position. Parameters
// are numbered separately from the local slot pool.
func (c *compileContext) addParameter(name string, position int) {
	c.vars[name] = &varInfo{slot: position, param: true, kind: KindAny}
}

// allocTempSlot hands out a compiler-introduced temporary from the same
// numbering space as named locals.
func (c *compileContext) allocTempSlot() int {
	slot := c.nextSlot
	c.nextSlot++
	return slot
}

// allocContiguousTempSlots reserves a run of n adjacent slots. Runtime
// calls that take a pointer to an array of values (string concatenation,
// container constructors) receive the address of the first slot.
func (c *compileContext) allocContiguousTempSlots(n int) []int {
	slots := make([]int, n)
	for i := range slots {
		slots[i] = c.nextSlot
		c.nextSlot++
	}
	return slots
}

// releaseTempSlot is deliberately a no-op. Reusing a slot before its
// value's last use is proven past would be a use-after-free; the current
// design trades frame size for that proof never being needed.
func (c *compileContext) releaseTempSlot(slot int) {}

// localCount is the frame size consumed by locals and temporaries.
func (c *compileContext) localCount() int { return c.nextSlot }

func (c *compileContext) variable(name string) (*varInfo, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// markHeapAllocated records that the named binding holds a heap value of
// the given kind, which makes bare references to it Borrowed.
func (c *compileContext) markHeapAllocated(name string, kind ValueKind) {
	if v, ok := c.vars[name]; ok {
		v.heapAllocated = true
		v.kind = kind
	}
}

// hydrateFromInference copies the solver's conclusions into the signature
// tables and, for the current scope, into the variable table. Run once per
// compilation before lowering.
func (c *compileContext) hydrateFromInference(g *graphBuilder) {
	for name, decl := range g.funcs {
		sig := &funcSig{
			arity:           len(decl.params),
			paramKinds:      make([]ValueKind, len(decl.params)),
			paramOwnership:  make([]HeapOwnership, len(decl.params)),
			returnKind:      KindAny,
			returnOwnership: OwnNone,
		}
		for i := range decl.params {
			if id, ok := g.bindings.lookup(paramKey(name, i)); ok {
				b := g.bindings.get(id)
				sig.paramKinds[i] = b.kind
				sig.paramOwnership[i] = b.ownership
			}
		}
		if id, ok := g.bindings.lookup(returnKey(name)); ok {
			b := g.bindings.get(id)
			sig.returnKind = b.kind
			sig.returnOwnership = b.ownership
		}
		// Hydration precedes registration; duplicates are rejected when
		// lowering registers each defn in source order.
		c.sigs[name] = sig
		c.log.Debugf("hydrated signature %s/%d return=%s/%s",
			name, sig.arity, sig.returnKind, sig.returnOwnership)
	}
}

// hydrateLocal seeds a just-declared local's varInfo from its inference
// binding, so lowering sees kinds the AST alone does not show.
func (c *compileContext) hydrateLocal(g *graphBuilder, name string) {
	id, ok := g.bindings.lookup(localKey(c.fn, name))
	if !ok {
		return
	}
	b := g.bindings.get(id)
	if v, exists := c.vars[name]; exists {
		v.kind = b.kind
		v.ownership = b.ownership
		v.mapValues = b.mapValues
		v.elemKind = b.elemKind
		v.elemKnown = b.elemKnown
	}
}

// hydrateParams seeds parameter varInfo records from the signature table.
func (c *compileContext) hydrateParams(names []string) {
	sig, ok := c.sigs[c.fn]
	if !ok {
		return
	}
	for i, name := range names {
		v, exists := c.vars[name]
		if !exists || i >= len(sig.paramKinds) {
			continue
		}
		v.kind = sig.paramKinds[i]
		if v.kind.IsHeap() {
			v.heapAllocated = true
		}
	}
}
