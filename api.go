package clovec

import "fmt"

// CompileOptions configures a compilation.
type CompileOptions struct {
	// Logger receives debug/trace output. Nil means no logging.
	Logger Logger

	// EntryFunction names the function whose start address becomes the
	// program entry point when it is defined.
	EntryFunction string
}

// DefaultOptions returns the default compile options.
func DefaultOptions() CompileOptions {
	return CompileOptions{
		EntryFunction: "-main",
	}
}

// CompileSource parses src and compiles every top-level form.
//
// Example:
//
//	prog, err := clovec.CompileSource("(+ 2 3)")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(len(prog.Instructions))
func CompileSource(src string, opts ...CompileOptions) (*Program, error) {
	forms, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	return Compile(forms, opts...)
}

// Compile lowers the given top-level forms to an IR program: whole-program
// constraint-based inference first, then per-expression lowering with
// liveness-driven release insertion.
func Compile(forms []*Node, opts ...CompileOptions) (*Program, error) {
	opt := DefaultOptions()
	if len(opts) > 0 {
		opt = opts[0]
		if opt.EntryFunction == "" {
			opt.EntryFunction = "-main"
		}
	}
	log := opt.Logger
	if log == nil {
		log = newNoopLogger()
	}

	graph := buildGraph(forms)
	solve(graph.bindings, graph.constraints, log)

	ctx := newCompileContext(log)
	ctx.hydrateFromInference(graph)
	strtab := newStringTable()

	var defs []*funcDecl
	var exprs []*Node
	for _, form := range forms {
		if decl, ok := asDefn(form); ok {
			defs = append(defs, decl)
		} else {
			exprs = append(exprs, form)
		}
	}

	prog := &Program{}
	for _, decl := range defs {
		body, info, err := compileFunction(ctx, graph, strtab, decl, log)
		if err != nil {
			return nil, err
		}
		defineIdx := len(prog.Instructions)
		info.StartAddress = defineIdx + 1
		prog.Instructions = append(prog.Instructions, Instruction{
			Op:    OpDefineFunction,
			Name:  decl.name,
			Arity: len(decl.params),
			Index: info.StartAddress,
		})
		appendFragment(prog, body)
		prog.Functions = append(prog.Functions, info)
	}

	topStart := len(prog.Instructions)
	lw := &lowerer{ctx: ctx, graph: graph, strings: strtab, log: log}
	for _, expr := range exprs {
		res, err := lw.lower(expr)
		if err != nil {
			return nil, err
		}
		// A borrowed heap result escapes to the external caller: hand
		// over the backing slot's ownership when it is tracked here,
		// otherwise promote to an independent copy.
		if res.kind.IsHeap() && res.ownership != OwnOwned {
			transferred := false
			if res.borrowedFrom != "" {
				if v, ok := ctx.variable(res.borrowedFrom); ok {
					transferred = res.untrack(v.slot)
				}
			}
			if !transferred {
				lw.ensureOwned(res)
			}
		}
		res.emit(Instruction{Op: OpReturn})
		lw.flushTracked(res)
		log.Debugf("lowered %s: %s %s", expr, summarizeResult(res), summarizeFragment(res.insts, 8))
		appendFragment(prog, res.insts)
	}

	prog.Strings = strtab.entries
	prog.EntryPoint = topStart
	for _, fi := range prog.Functions {
		if fi.Name == opt.EntryFunction {
			prog.EntryPoint = fi.StartAddress
		}
	}
	return prog, nil
}

// compileFunction lowers one defn body in a fresh function scope. Heap-kind
// parameters are owned by the callee: each is copied into a local slot at
// entry and released after its last use unless it escapes through the
// return value.
func compileFunction(ctx *compileContext, graph *graphBuilder, strtab *stringTable, decl *funcDecl, log Logger) ([]Instruction, FunctionInfo, error) {
	sig, _ := ctx.signature(decl.name)
	if sig == nil {
		sig = &funcSig{arity: len(decl.params), returnKind: KindAny}
	}
	if err := ctx.registerFunction(decl.name, sig); err != nil {
		return nil, FunctionInfo{}, err
	}

	fctx := ctx.newFunctionScope(decl.name)
	for i, p := range decl.params {
		fctx.addParameter(p, i)
	}
	fctx.hydrateParams(decl.params)

	lw := &lowerer{ctx: fctx, graph: graph, strings: strtab, log: log}
	r := &compileResult{}
	for i, p := range decl.params {
		v := fctx.vars[p]
		if !v.kind.IsHeap() {
			continue
		}
		slot := fctx.allocTempSlot()
		r.emit(loadParam(i), storeLocal(slot))
		r.tracked = append(r.tracked, trackedSlot{slot: slot, kind: v.kind})
		v.slot = slot
		v.param = false
		v.heapAllocated = true
		v.ownership = OwnOwned
	}

	var body *compileResult
	for i, expr := range decl.body {
		sub, err := lw.lower(expr)
		if err != nil {
			return nil, FunctionInfo{}, err
		}
		if i == len(decl.body)-1 {
			body = sub
		} else {
			r.absorb(sub)
		}
	}
	if body == nil {
		return nil, FunctionInfo{}, &InvalidExpressionError{Reason: fmt.Sprintf("function %s has no body", decl.name)}
	}

	r.absorb(body)
	if body.kind.IsHeap() && body.ownership != OwnOwned {
		// Returning a borrowed heap value hands the backing slot's
		// ownership to the caller when the slot is tracked here;
		// otherwise the value is promoted to an independent copy.
		transferred := false
		if body.borrowedFrom != "" {
			if v, ok := fctx.variable(body.borrowedFrom); ok {
				transferred = r.untrack(v.slot)
			}
		}
		if !transferred {
			if body.kind == KindString && body.ownership == OwnNone {
				r.emit(runtimeCall(runtimeStringNormalize, 1))
			} else {
				r.emit(runtimeCall(cloneRuntime(body.kind), 1))
			}
		}
	}
	r.emit(Instruction{Op: OpReturn})
	lw.flushTracked(r)

	info := FunctionInfo{
		Name:       decl.name,
		ParamCount: len(decl.params),
		LocalCount: fctx.localCount(),
	}
	log.Debugf("compiled function %s/%d: %d instruction(s), %d local slot(s)",
		decl.name, info.ParamCount, len(r.insts), info.LocalCount)
	return r.insts, info, nil
}

// appendFragment appends a fragment whose jump targets are fragment-local
// absolute indices, re-basing them against the program tail.
func appendFragment(prog *Program, insts []Instruction) {
	base := len(prog.Instructions)
	for _, in := range insts {
		switch in.Op {
		case OpJump, OpJumpIfZero:
			in.Index += base
		}
		prog.Instructions = append(prog.Instructions, in)
	}
}
