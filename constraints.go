package clovec

// The constraint vocabulary is a closed tagged union solved by a single
// switch in the solver loop. Application is idempotent and monotone, so the
// fixpoint exists and is independent of application order.

type constraintKind int

const (
	// conLiteral folds concrete facts (kind, ownership, container
	// metadata) directly into the target binding.
	conLiteral constraintKind = iota
	// conCopy propagates everything known about source into target.
	conCopy
	// conGet types target as the value stored under a keyword-literal key
	// of the source map binding. Stable until the source acquires its
	// map-value table.
	conGet
	// conVectorElement types target as the source container's homogeneous
	// element kind. Stable until the source acquires element metadata.
	conVectorElement
)

func (k constraintKind) String() string {
	switch k {
	case conLiteral:
		return "literal"
	case conCopy:
		return "copy"
	case conGet:
		return "get"
	case conVectorElement:
		return "vector-element"
	default:
		panic(k)
	}
}

type constraint struct {
	kind   constraintKind
	target bindingID
	source bindingID // conCopy, conGet, conVectorElement

	// conLiteral payload.
	valueKind ValueKind
	ownership HeapOwnership
	mapValues map[string]ValueKind
	elemKind  ValueKind
	elemKnown bool

	// conGet key (keyword text, including the colon).
	key string
}

func literalConstraint(target bindingID, kind ValueKind, own HeapOwnership) constraint {
	return constraint{kind: conLiteral, target: target, valueKind: kind, ownership: own}
}

func copyConstraint(target, source bindingID) constraint {
	return constraint{kind: conCopy, target: target, source: source}
}

func getConstraint(target, source bindingID, key string) constraint {
	return constraint{kind: conGet, target: target, source: source, key: key}
}

func vectorElementConstraint(target, source bindingID) constraint {
	return constraint{kind: conVectorElement, target: target, source: source}
}

// apply folds one constraint into the binding table and reports progress.
func (c constraint) apply(tbl *bindingTable) bool {
	target := tbl.get(c.target)
	switch c.kind {
	case conLiteral:
		return target.mergeInto(c.valueKind, c.ownership, c.mapValues, c.elemKind, c.elemKnown, false)
	case conCopy:
		src := tbl.get(c.source)
		return target.mergeInto(src.kind, src.ownership, src.mapValues, src.elemKind, src.elemKnown, src.conflicted())
	case conGet:
		src := tbl.get(c.source)
		if src.mapValues == nil {
			return false
		}
		kind, ok := src.mapValues[c.key]
		if !ok {
			return false
		}
		own := OwnNone
		if kind.IsHeap() {
			// Map lookups of heap values are cloned at lookup time.
			own = OwnOwned
		}
		return target.mergeInto(kind, own, nil, KindAny, false, false)
	case conVectorElement:
		src := tbl.get(c.source)
		if !src.elemKnown {
			return false
		}
		own := OwnNone
		if src.elemKind.IsHeap() {
			own = OwnOwned
		}
		return target.mergeInto(src.elemKind, own, nil, KindAny, false, false)
	default:
		panic(c.kind)
	}
}

// solve runs every constraint repeatedly until a full pass makes no
// progress. The solver cannot fail: unresolved bindings simply stay at
// KindAny/OwnNone, which lowering treats conservatively.
func solve(tbl *bindingTable, constraints []constraint, log Logger) {
	for pass := 1; ; pass++ {
		progress := false
		for _, c := range constraints {
			if c.apply(tbl) {
				progress = true
			}
		}
		if !progress {
			log.Debugf("solver converged after %d pass(es), %d binding(s), %d constraint(s)",
				pass, len(tbl.arena), len(constraints))
			return
		}
	}
}
