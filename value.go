package clovec

// ValueKind is the closed set of dynamic value categories the compiler
// distinguishes at compile time. KindAny is the unresolved state: inference
// starts every binding at KindAny and only the solver moves it.
type ValueKind int

const (
	KindAny ValueKind = iota
	KindNumber
	KindBoolean
	KindString
	KindKeyword
	KindVector
	KindMap
	KindSet
	KindNil
)

func (k ValueKind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindKeyword:
		return "keyword"
	case KindVector:
		return "vector"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	case KindNil:
		return "nil"
	default:
		panic(k)
	}
}

// IsHeap reports whether values of this kind live in the managed heap and
// must be explicitly released.
func (k ValueKind) IsHeap() bool {
	switch k {
	case KindString, KindVector, KindMap, KindSet:
		return true
	}
	return false
}

// mergeKind combines two inferred kinds. KindAny is the identity; two
// concrete kinds that disagree degrade to KindAny. The result never moves
// away from a concrete kind except through disagreement, which keeps the
// solver monotone.
func mergeKind(a, b ValueKind) ValueKind {
	if a == KindAny {
		return b
	}
	if b == KindAny || a == b {
		return a
	}
	return KindAny
}

// HeapOwnership records who is responsible for releasing a binding's heap
// payload. Merging is monotone: Owned dominates Borrowed dominates None.
type HeapOwnership int

const (
	// OwnNone means no heap payload, or a reference not owned here.
	OwnNone HeapOwnership = iota
	// OwnBorrowed means the payload is aliased from elsewhere and must not
	// be freed by this binding.
	OwnBorrowed
	// OwnOwned means releasing the payload is this binding's responsibility.
	OwnOwned
)

func (o HeapOwnership) String() string {
	switch o {
	case OwnNone:
		return "none"
	case OwnBorrowed:
		return "borrowed"
	case OwnOwned:
		return "owned"
	default:
		panic(o)
	}
}

func mergeOwnership(a, b HeapOwnership) HeapOwnership {
	if b > a {
		return b
	}
	return a
}

// freeRuntime returns the runtime entry point that releases a value of the
// given heap kind, or "" when a plain heap free suffices (strings).
func freeRuntime(k ValueKind) string {
	switch k {
	case KindVector:
		return runtimeVectorFree
	case KindMap:
		return runtimeMapFree
	case KindSet:
		return runtimeSetFree
	default:
		return ""
	}
}

// cloneRuntime returns the runtime entry point that produces an owned copy
// of a value of the given heap kind.
func cloneRuntime(k ValueKind) string {
	switch k {
	case KindString:
		return runtimeStringClone
	case KindVector:
		return runtimeVectorClone
	case KindMap:
		return runtimeMapClone
	case KindSet:
		return runtimeSetClone
	default:
		return ""
	}
}
