package clovec

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKind discriminates the AST variants produced by the reader.
type NodeKind int

const (
	NodeNumber NodeKind = iota
	NodeBoolean
	NodeString
	NodeKeyword
	NodeNil
	NodeSymbol
	NodeList
	NodeVector
	NodeSet
	NodeMap
)

func (k NodeKind) String() string {
	switch k {
	case NodeNumber:
		return "number"
	case NodeBoolean:
		return "boolean"
	case NodeString:
		return "string"
	case NodeKeyword:
		return "keyword"
	case NodeNil:
		return "nil"
	case NodeSymbol:
		return "symbol"
	case NodeList:
		return "list"
	case NodeVector:
		return "vector"
	case NodeSet:
		return "set"
	case NodeMap:
		return "map"
	default:
		panic(k)
	}
}

// MapEntry is one key/value pair of a map literal, in source order.
type MapEntry struct {
	Key   *Node
	Value *Node
}

// Node is one AST node. Which fields are meaningful depends on Kind:
// Number for NodeNumber, Bool for NodeBoolean, Text for
// NodeString/NodeKeyword/NodeSymbol (keyword text includes the leading
// colon), Children for list/vector/set, Entries for maps.
type Node struct {
	Kind     NodeKind
	Number   int64
	Bool     bool
	Text     string
	Children []*Node
	Entries  []MapEntry

	// Line and Col locate the node in the source for error messages.
	// Zero when the node was built programmatically.
	Line, Col int
}

// Convenience constructors used by tests and by programmatic callers that
// bypass the reader.

func NumberNode(n int64) *Node     { return &Node{Kind: NodeNumber, Number: n} }
func BooleanNode(b bool) *Node     { return &Node{Kind: NodeBoolean, Bool: b} }
func StringNode(s string) *Node    { return &Node{Kind: NodeString, Text: s} }
func KeywordNode(name string) *Node {
	if !strings.HasPrefix(name, ":") {
		name = ":" + name
	}
	return &Node{Kind: NodeKeyword, Text: name}
}
func NilNode() *Node               { return &Node{Kind: NodeNil} }
func SymbolNode(name string) *Node { return &Node{Kind: NodeSymbol, Text: name} }

func ListNode(children ...*Node) *Node   { return &Node{Kind: NodeList, Children: children} }
func VectorNode(children ...*Node) *Node { return &Node{Kind: NodeVector, Children: children} }
func SetNode(children ...*Node) *Node    { return &Node{Kind: NodeSet, Children: children} }
func MapNode(entries ...MapEntry) *Node  { return &Node{Kind: NodeMap, Entries: entries} }

// IsSymbol reports whether n is the symbol with the given name.
func (n *Node) IsSymbol(name string) bool {
	return n != nil && n.Kind == NodeSymbol && n.Text == name
}

// literalKind maps a directly-visible literal node to its ValueKind, or
// KindAny when the node is not a literal (symbols, calls).
func literalKind(n *Node) ValueKind {
	switch n.Kind {
	case NodeNumber:
		return KindNumber
	case NodeBoolean:
		return KindBoolean
	case NodeString:
		return KindString
	case NodeKeyword:
		return KindKeyword
	case NodeNil:
		return KindNil
	case NodeVector:
		return KindVector
	case NodeSet:
		return KindSet
	case NodeMap:
		return KindMap
	default:
		return KindAny
	}
}

// String renders the node back as source text, for diagnostics and logs.
func (n *Node) String() string {
	if n == nil {
		return "nil"
	}
	switch n.Kind {
	case NodeNumber:
		return strconv.FormatInt(n.Number, 10)
	case NodeBoolean:
		return strconv.FormatBool(n.Bool)
	case NodeString:
		return strconv.Quote(n.Text)
	case NodeKeyword, NodeSymbol:
		return n.Text
	case NodeNil:
		return "nil"
	case NodeList:
		return "(" + joinNodes(n.Children, " ") + ")"
	case NodeVector:
		return "[" + joinNodes(n.Children, " ") + "]"
	case NodeSet:
		return "#{" + joinNodes(n.Children, " ") + "}"
	case NodeMap:
		parts := make([]string, 0, len(n.Entries))
		for _, e := range n.Entries {
			parts = append(parts, fmt.Sprintf("%s %s", e.Key, e.Value))
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		panic(n.Kind)
	}
}

func joinNodes(nodes []*Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, sep)
}
