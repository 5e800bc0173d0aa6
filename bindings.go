package clovec

import "fmt"

// bindingRole distinguishes the three name-introducing sites tracked by the
// inference graph.
type bindingRole int

const (
	roleParam bindingRole = iota
	roleLocal
	roleReturn
)

func (r bindingRole) String() string {
	switch r {
	case roleParam:
		return "param"
	case roleLocal:
		return "local"
	case roleReturn:
		return "return"
	default:
		panic(r)
	}
}

// bindingID indexes the binding arena. Bindings are created once during
// graph construction and mutated only by constraint application; they are
// never deleted within a compilation.
type bindingID int

const noBinding bindingID = -1

// bindingKey is the identity of a binding: the owning function ("" for the
// top-level program scope) plus its role and role-specific discriminator.
type bindingKey struct {
	fn    string
	role  bindingRole
	param int
	local string
}

// binding is one mutable inference record.
type binding struct {
	key       bindingKey
	kind      ValueKind
	ownership HeapOwnership

	// kindSet distinguishes a binding that never acquired a kind from one
	// that degraded to KindAny through conflicting facts. The degraded
	// state is sticky; without it the solver would oscillate between the
	// conflicting kinds instead of converging.
	kindSet bool

	// mapValues maps keyword-literal keys to the inferred kind of the
	// value stored under them, when the binding is a map with statically
	// known entries.
	mapValues map[string]ValueKind

	// elemKind is the homogeneous element kind for vectors and sets.
	elemKind  ValueKind
	elemKnown bool
}

func (b *binding) String() string {
	scope := b.key.fn
	if scope == "" {
		scope = "<program>"
	}
	switch b.key.role {
	case roleParam:
		return fmt.Sprintf("%s/param#%d", scope, b.key.param)
	case roleLocal:
		return fmt.Sprintf("%s/local:%s", scope, b.key.local)
	default:
		return fmt.Sprintf("%s/return", scope)
	}
}

// bindingTable is the arena of inference records plus a key index.
type bindingTable struct {
	arena []*binding
	index map[bindingKey]bindingID
}

func newBindingTable() *bindingTable {
	return &bindingTable{index: make(map[bindingKey]bindingID)}
}

func (t *bindingTable) get(id bindingID) *binding { return t.arena[id] }

// ensure returns the binding for key, creating it at KindAny/OwnNone if it
// does not exist yet.
func (t *bindingTable) ensure(key bindingKey) bindingID {
	if id, ok := t.index[key]; ok {
		return id
	}
	id := bindingID(len(t.arena))
	t.arena = append(t.arena, &binding{key: key, kind: KindAny, ownership: OwnNone})
	t.index[key] = id
	return id
}

func (t *bindingTable) lookup(key bindingKey) (bindingID, bool) {
	id, ok := t.index[key]
	return id, ok
}

func paramKey(fn string, pos int) bindingKey {
	return bindingKey{fn: fn, role: roleParam, param: pos}
}

func localKey(fn, name string) bindingKey {
	return bindingKey{fn: fn, role: roleLocal, local: name}
}

func returnKey(fn string) bindingKey {
	return bindingKey{fn: fn, role: roleReturn}
}

// conflicted reports whether the binding degraded to KindAny through
// disagreeing facts, as opposed to never having acquired a kind.
func (b *binding) conflicted() bool {
	return b.kindSet && b.kind == KindAny
}

// mergeInto folds an inferred fact into the binding and reports whether
// anything changed. Every field moves at most twice (unset, concrete,
// degraded), so solving converges. conflict forces the kind to the
// degraded state, used when copying from a source that already conflicted.
func (b *binding) mergeInto(kind ValueKind, own HeapOwnership, mapValues map[string]ValueKind, elemKind ValueKind, elemKnown bool, conflict bool) bool {
	progress := false
	switch {
	case conflict:
		if !b.conflicted() {
			b.kind = KindAny
			b.kindSet = true
			progress = true
		}
	case kind == KindAny:
		// No information.
	case !b.kindSet:
		b.kind = kind
		b.kindSet = true
		progress = true
	case b.kind != KindAny && b.kind != kind:
		b.kind = KindAny
		progress = true
	}
	if merged := mergeOwnership(b.ownership, own); merged != b.ownership {
		b.ownership = merged
		progress = true
	}
	if len(mapValues) > 0 {
		if b.mapValues == nil {
			b.mapValues = make(map[string]ValueKind, len(mapValues))
		}
		for k, v := range mapValues {
			prev, ok := b.mapValues[k]
			switch {
			case !ok:
				b.mapValues[k] = v
				progress = true
			case prev != KindAny && prev != v:
				b.mapValues[k] = KindAny
				progress = true
			}
		}
	}
	if elemKnown {
		switch {
		case !b.elemKnown:
			b.elemKind = elemKind
			b.elemKnown = true
			progress = true
		case b.elemKind != KindAny && b.elemKind != elemKind:
			b.elemKind = KindAny
			progress = true
		}
	}
	return progress
}
