package clovec

// graphBuilder walks the AST once and produces the binding arena plus the
// constraint list the solver runs to a fixpoint. It emits no code and does
// no validation: undefined names and duplicate functions are rejected later
// by lowering, and the function index here is deliberately last-write-wins.
type graphBuilder struct {
	bindings    *bindingTable
	constraints []constraint
	funcs       map[string]*funcDecl
}

// funcDecl is the builder's record of one top-level defn.
type funcDecl struct {
	name   string
	params []string
	body   []*Node
}

func buildGraph(forms []*Node) *graphBuilder {
	g := &graphBuilder{
		bindings: newBindingTable(),
		funcs:    make(map[string]*funcDecl),
	}
	// Register every function's parameter and return bindings before any
	// body is visited, so call sites can constrain them regardless of
	// declaration order.
	for _, form := range forms {
		if decl, ok := asDefn(form); ok {
			g.funcs[decl.name] = decl
			for i := range decl.params {
				g.bindings.ensure(paramKey(decl.name, i))
			}
			g.bindings.ensure(returnKey(decl.name))
		}
	}
	for _, form := range forms {
		if decl, ok := asDefn(form); ok {
			scope := make(map[string]bindingID, len(decl.params))
			for i, p := range decl.params {
				scope[p] = g.bindings.ensure(paramKey(decl.name, i))
			}
			g.visitBody(decl.name, scope, decl.body, g.bindings.ensure(returnKey(decl.name)))
			continue
		}
		g.visit("", map[string]bindingID{}, form, noBinding)
	}
	return g
}

// asDefn recognizes (defn name [params...] body...) without validating it;
// malformed defns are left for lowering to reject.
func asDefn(form *Node) (*funcDecl, bool) {
	if form == nil || form.Kind != NodeList || len(form.Children) < 3 {
		return nil, false
	}
	if !form.Children[0].IsSymbol("defn") {
		return nil, false
	}
	name := form.Children[1]
	params := form.Children[2]
	if name.Kind != NodeSymbol || params.Kind != NodeVector {
		return nil, false
	}
	decl := &funcDecl{name: name.Text, body: form.Children[3:]}
	for _, p := range params.Children {
		if p.Kind != NodeSymbol {
			return nil, false
		}
		decl.params = append(decl.params, p.Text)
	}
	return decl, true
}

func (g *graphBuilder) constrain(c constraint) {
	g.constraints = append(g.constraints, c)
}

// visitBody visits a sequence of expressions whose last value flows into
// target.
func (g *graphBuilder) visitBody(fn string, scope map[string]bindingID, body []*Node, target bindingID) {
	for i, expr := range body {
		if i == len(body)-1 {
			g.visit(fn, scope, expr, target)
		} else {
			g.visit(fn, scope, expr, noBinding)
		}
	}
}

// visit emits the constraints describing how target's value is produced by
// node, and recurses into value-producing positions.
func (g *graphBuilder) visit(fn string, scope map[string]bindingID, node *Node, target bindingID) {
	if node == nil {
		return
	}
	switch node.Kind {
	case NodeNumber, NodeBoolean, NodeString, NodeKeyword, NodeNil:
		if target != noBinding {
			g.constrain(g.literalFor(node, target))
		}
	case NodeVector, NodeSet:
		for _, child := range node.Children {
			g.visit(fn, scope, child, noBinding)
		}
		if target != noBinding {
			g.constrain(g.literalFor(node, target))
		}
	case NodeMap:
		for _, e := range node.Entries {
			g.visit(fn, scope, e.Key, noBinding)
			g.visit(fn, scope, e.Value, noBinding)
		}
		if target != noBinding {
			g.constrain(g.literalFor(node, target))
		}
	case NodeSymbol:
		if target == noBinding {
			return
		}
		if src, ok := scope[node.Text]; ok {
			g.constrain(copyConstraint(target, src))
		}
	case NodeList:
		g.visitList(fn, scope, node, target)
	}
}

func (g *graphBuilder) visitList(fn string, scope map[string]bindingID, node *Node, target bindingID) {
	if len(node.Children) == 0 {
		return
	}
	head := node.Children[0]
	if head.Kind != NodeSymbol {
		return
	}
	args := node.Children[1:]
	switch head.Text {
	case "defn":
		// Only top-level defns participate in inference.
		return

	case "let":
		if len(args) < 2 || args[0].Kind != NodeVector || len(args[0].Children)%2 != 0 {
			return
		}
		inner := make(map[string]bindingID, len(scope))
		for k, v := range scope {
			inner[k] = v
		}
		pairs := args[0].Children
		for i := 0; i < len(pairs); i += 2 {
			name := pairs[i]
			if name.Kind != NodeSymbol {
				return
			}
			id := g.bindings.ensure(localKey(fn, name.Text))
			g.visit(fn, inner, pairs[i+1], id)
			inner[name.Text] = id
		}
		g.visitBody(fn, inner, args[1:], target)

	case "if":
		if len(args) == 0 {
			return
		}
		g.visit(fn, scope, args[0], noBinding)
		// Both arms flow into the same target; the merge is the solver's
		// kind/ownership lattice join.
		if len(args) >= 2 {
			g.visit(fn, scope, args[1], target)
		}
		if len(args) >= 3 {
			g.visit(fn, scope, args[2], target)
		}

	case "+", "-", "*", "/":
		for _, a := range args {
			g.constrainSymbol(scope, a, KindNumber)
			g.visit(fn, scope, a, noBinding)
		}
		if target != noBinding {
			g.constrain(literalConstraint(target, KindNumber, OwnNone))
		}

	case "=", "<", ">", "<=", ">=":
		for _, a := range args {
			g.visit(fn, scope, a, noBinding)
		}
		if target != noBinding {
			g.constrain(literalConstraint(target, KindBoolean, OwnNone))
		}

	case "not":
		for _, a := range args {
			g.constrainSymbol(scope, a, KindBoolean)
			g.visit(fn, scope, a, noBinding)
		}
		if target != noBinding {
			g.constrain(literalConstraint(target, KindBoolean, OwnNone))
		}

	case "count":
		g.visitAll(fn, scope, args)
		if target != noBinding {
			g.constrain(literalConstraint(target, KindNumber, OwnNone))
		}

	case "str":
		g.visitAll(fn, scope, args)
		if target != noBinding {
			g.constrain(literalConstraint(target, KindString, OwnOwned))
		}

	case "contains?":
		g.visitAll(fn, scope, args)
		if target != noBinding {
			g.constrain(literalConstraint(target, KindBoolean, OwnNone))
		}

	case "get":
		g.visitAll(fn, scope, args)
		if target == noBinding || len(args) < 2 {
			return
		}
		coll, key := args[0], args[1]
		if coll.Kind == NodeSymbol {
			src, ok := scope[coll.Text]
			if !ok {
				return
			}
			switch key.Kind {
			case NodeKeyword:
				g.constrain(getConstraint(target, src, key.Text))
			case NodeNumber:
				g.constrain(vectorElementConstraint(target, src))
			}
			return
		}
		if coll.Kind == NodeMap && key.Kind == NodeKeyword {
			if value, ok := literalMapValue(coll, key.Text); ok {
				g.constrain(g.literalFor(value, target))
			}
		}

	case "subs":
		g.visitAll(fn, scope, args)
		if target == noBinding || len(args) == 0 {
			return
		}
		// Result has the collection's kind but is always a fresh owned
		// value.
		if args[0].Kind == NodeSymbol {
			if src, ok := scope[args[0].Text]; ok {
				g.constrain(copyConstraint(target, src))
			}
		} else if k := literalKind(args[0]); k != KindAny {
			g.constrain(literalConstraint(target, k, OwnNone))
		}
		g.constrain(literalConstraint(target, KindAny, OwnOwned))

	case "assoc":
		g.visitAll(fn, scope, args)
		if target == noBinding || len(args) != 3 {
			return
		}
		if args[0].Kind == NodeSymbol {
			if src, ok := scope[args[0].Text]; ok {
				g.constrain(copyConstraint(target, src))
			}
		}
		c := literalConstraint(target, KindMap, OwnOwned)
		if args[1].Kind == NodeKeyword {
			if vk := g.kindOf(scope, args[2]); vk != KindAny {
				c.mapValues = map[string]ValueKind{args[1].Text: vk}
			}
		}
		g.constrain(c)

	case "dissoc", "disj":
		g.visitAll(fn, scope, args)
		if target == noBinding || len(args) == 0 {
			return
		}
		if args[0].Kind == NodeSymbol {
			if src, ok := scope[args[0].Text]; ok {
				g.constrain(copyConstraint(target, src))
			}
		}
		g.constrain(literalConstraint(target, KindAny, OwnOwned))

	default:
		decl, ok := g.funcs[head.Text]
		if !ok {
			g.visitAll(fn, scope, args)
			return
		}
		// Each argument flows into the matching parameter binding whatever
		// its shape: visit handles symbols, literals, and nested calls
		// alike.
		for i, a := range args {
			if i < len(decl.params) {
				g.visit(fn, scope, a, g.bindings.ensure(paramKey(decl.name, i)))
			} else {
				g.visit(fn, scope, a, noBinding)
			}
		}
		if target != noBinding {
			g.constrain(copyConstraint(target, g.bindings.ensure(returnKey(decl.name))))
		}
	}
}

func (g *graphBuilder) visitAll(fn string, scope map[string]bindingID, args []*Node) {
	for _, a := range args {
		g.visit(fn, scope, a, noBinding)
	}
}

// constrainSymbol types a bare symbol argument from its usage site, which
// is how parameters acquire concrete kinds.
func (g *graphBuilder) constrainSymbol(scope map[string]bindingID, node *Node, kind ValueKind) {
	if node.Kind != NodeSymbol {
		return
	}
	if id, ok := scope[node.Text]; ok {
		g.constrain(literalConstraint(id, kind, OwnNone))
	}
}

// kindOf resolves the kind of a node as far as the builder can see it:
// literals directly, symbols through their current scope binding.
func (g *graphBuilder) kindOf(scope map[string]bindingID, node *Node) ValueKind {
	if node.Kind == NodeSymbol {
		if id, ok := scope[node.Text]; ok {
			return g.bindings.get(id).kind
		}
		return KindAny
	}
	return literalKind(node)
}

// literalFor builds the literal constraint for a directly-visible literal,
// including container metadata when it is statically evident.
func (g *graphBuilder) literalFor(node *Node, target bindingID) constraint {
	kind := literalKind(node)
	own := OwnNone
	if kind.IsHeap() {
		own = OwnOwned
	}
	c := literalConstraint(target, kind, own)
	switch node.Kind {
	case NodeMap:
		values := make(map[string]ValueKind, len(node.Entries))
		for _, e := range node.Entries {
			if e.Key.Kind != NodeKeyword {
				return c // dynamic keys defeat the value table
			}
			values[e.Key.Text] = literalKind(e.Value)
		}
		c.mapValues = values
	case NodeVector, NodeSet:
		elem := KindAny
		for i, child := range node.Children {
			k := literalKind(child)
			if i == 0 {
				elem = k
			} else {
				elem = mergeKind(elem, k)
			}
		}
		if len(node.Children) > 0 && elem != KindAny {
			c.elemKind = elem
			c.elemKnown = true
		}
	}
	return c
}

// literalMapValue finds the value node stored under a keyword-literal key
// of a map literal whose keys are all keyword literals.
func literalMapValue(m *Node, key string) (*Node, bool) {
	for _, e := range m.Entries {
		if e.Key.Kind != NodeKeyword {
			return nil, false
		}
	}
	for _, e := range m.Entries {
		if e.Key.Text == key {
			return e.Value, true
		}
	}
	return nil, false
}
