package clovec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func solveSource(t *testing.T, src string) *graphBuilder {
	t.Helper()
	forms, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	g := buildGraph(forms)
	solve(g.bindings, g.constraints, newNoopLogger())
	return g
}

func bindingAt(t *testing.T, g *graphBuilder, key bindingKey) *binding {
	t.Helper()
	id, ok := g.bindings.lookup(key)
	if !ok {
		t.Fatalf("no binding for %v", key)
	}
	return g.bindings.get(id)
}

func TestInference_ParamKindFromCallSite(t *testing.T) {
	g := solveSource(t, `(defn f [s] (count s)) (f "abc")`)

	p := bindingAt(t, g, paramKey("f", 0))
	if p.kind != KindString {
		t.Errorf("param kind = %v, want string", p.kind)
	}
	if p.ownership != OwnOwned {
		t.Errorf("param ownership = %v, want owned", p.ownership)
	}
	ret := bindingAt(t, g, returnKey("f"))
	if ret.kind != KindNumber {
		t.Errorf("return kind = %v, want number", ret.kind)
	}
}

// A composite argument at a call site constrains the parameter the same
// way a literal does.
func TestInference_ParamKindFromCompositeArgument(t *testing.T) {
	g := solveSource(t, `(defn f [s] (count s)) (f (str 42))`)
	p := bindingAt(t, g, paramKey("f", 0))
	if p.kind != KindString {
		t.Errorf("param kind = %v, want string", p.kind)
	}
	if p.ownership != OwnOwned {
		t.Errorf("param ownership = %v, want owned", p.ownership)
	}
	if ret := bindingAt(t, g, returnKey("f")); ret.kind != KindNumber {
		t.Errorf("return kind = %v, want number", ret.kind)
	}
}

func TestInference_ParamKindFromUsage(t *testing.T) {
	g := solveSource(t, `(defn add1 [x] (+ x 1))`)
	p := bindingAt(t, g, paramKey("add1", 0))
	if p.kind != KindNumber {
		t.Errorf("param kind = %v, want number", p.kind)
	}
	ret := bindingAt(t, g, returnKey("add1"))
	if ret.kind != KindNumber {
		t.Errorf("return kind = %v, want number", ret.kind)
	}
}

func TestInference_ForwardReference(t *testing.T) {
	// f calls g before g is declared; parameter/return bindings are
	// registered for every defn before any body is visited.
	g := solveSource(t, `(defn f [x] (g x)) (defn g [y] (+ y 1)) (f 2)`)
	if p := bindingAt(t, g, paramKey("g", 0)); p.kind != KindNumber {
		t.Errorf("g param kind = %v, want number", p.kind)
	}
	if ret := bindingAt(t, g, returnKey("f")); ret.kind != KindNumber {
		t.Errorf("f return kind = %v, want number", ret.kind)
	}
}

func TestInference_ConflictDegradesToAny(t *testing.T) {
	g := solveSource(t, `(defn f [x] x) (f 1) (f "s")`)
	if p := bindingAt(t, g, paramKey("f", 0)); p.kind != KindAny {
		t.Errorf("param kind = %v, want any after conflicting call sites", p.kind)
	}
}

func TestInference_MapValueMetadata(t *testing.T) {
	g := solveSource(t, `(defn f [] (let [m {:a 1 :b "s"}] m))`)
	local := bindingAt(t, g, localKey("f", "m"))
	if local.kind != KindMap {
		t.Fatalf("local kind = %v, want map", local.kind)
	}
	want := map[string]ValueKind{":a": KindNumber, ":b": KindString}
	if diff := cmp.Diff(want, local.mapValues); diff != "" {
		t.Errorf("mapValues mismatch (-want +got):\n%s", diff)
	}
	// Heap value lookups come back owned.
	ret := bindingAt(t, g, returnKey("f"))
	if ret.kind != KindMap || ret.ownership != OwnOwned {
		t.Errorf("return = %v/%v, want map/owned", ret.kind, ret.ownership)
	}
}

func TestInference_GetThroughMapBinding(t *testing.T) {
	g := solveSource(t, `(defn f [] (let [m {:a "s"} v (get m :a)] v))`)
	v := bindingAt(t, g, localKey("f", "v"))
	if v.kind != KindString {
		t.Errorf("v kind = %v, want string", v.kind)
	}
	if v.ownership != OwnOwned {
		t.Errorf("v ownership = %v, want owned (map lookups clone heap values)", v.ownership)
	}
}

func TestInference_VectorElementKind(t *testing.T) {
	g := solveSource(t, `(defn f [] (let [xs [1 2 3] x (get xs 0)] x))`)
	xs := bindingAt(t, g, localKey("f", "xs"))
	if xs.kind != KindVector || !xs.elemKnown || xs.elemKind != KindNumber {
		t.Errorf("xs = %v elem %v/%v, want vector of number", xs.kind, xs.elemKind, xs.elemKnown)
	}
	x := bindingAt(t, g, localKey("f", "x"))
	if x.kind != KindNumber {
		t.Errorf("x kind = %v, want number", x.kind)
	}
}

// The fixpoint is order independent: a get constraint listed before the
// literal that feeds its source must still resolve on a later pass.
func TestSolver_OrderIndependence(t *testing.T) {
	build := func(reversed bool) map[string]ValueKind {
		tbl := newBindingTable()
		m := tbl.ensure(localKey("f", "m"))
		v := tbl.ensure(localKey("f", "v"))
		w := tbl.ensure(localKey("f", "w"))

		lit := literalConstraint(m, KindMap, OwnOwned)
		lit.mapValues = map[string]ValueKind{":a": KindString}
		cs := []constraint{
			getConstraint(v, m, ":a"),
			copyConstraint(w, v),
			lit,
		}
		if reversed {
			for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
				cs[i], cs[j] = cs[j], cs[i]
			}
		}
		solve(tbl, cs, newNoopLogger())
		return map[string]ValueKind{
			"m": tbl.get(m).kind,
			"v": tbl.get(v).kind,
			"w": tbl.get(w).kind,
		}
	}

	forward := build(false)
	backward := build(true)
	if diff := cmp.Diff(forward, backward); diff != "" {
		t.Errorf("solve result depends on constraint order:\n%s", diff)
	}
	want := map[string]ValueKind{"m": KindMap, "v": KindString, "w": KindString}
	if diff := cmp.Diff(want, forward); diff != "" {
		t.Errorf("fixpoint mismatch (-want +got):\n%s", diff)
	}
}

func TestSolver_UnresolvedStaysAny(t *testing.T) {
	tbl := newBindingTable()
	a := tbl.ensure(localKey("", "a"))
	b := tbl.ensure(localKey("", "b"))
	solve(tbl, []constraint{copyConstraint(a, b)}, newNoopLogger())
	if got := tbl.get(a); got.kind != KindAny || got.ownership != OwnNone {
		t.Errorf("unresolved binding = %v/%v, want any/none", got.kind, got.ownership)
	}
}
