package clovec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrIncomplete marks parse failures caused by truncated input, such as an
// unclosed delimiter or an unterminated string. Interactive callers test for
// it with errors.Is to decide whether to prompt for another line.
var ErrIncomplete = errors.New("incomplete input")

// Parse reads every top-level form in src and returns the AST list the
// compiler consumes. Line comments start with ';' and run to end of line.
func Parse(src string) ([]*Node, error) {
	r := &reader{src: src, line: 1, col: 1}
	var forms []*Node
	for {
		r.skipSpace()
		if r.eof() {
			return forms, nil
		}
		n, err := r.readForm()
		if err != nil {
			return nil, err
		}
		forms = append(forms, n)
	}
}

type reader struct {
	src       string
	pos       int
	line, col int
}

func (r *reader) eof() bool { return r.pos >= len(r.src) }

func (r *reader) peek() byte { return r.src[r.pos] }

func (r *reader) next() byte {
	c := r.src[r.pos]
	r.pos++
	if c == '\n' {
		r.line++
		r.col = 1
	} else {
		r.col++
	}
	return c
}

func (r *reader) errorf(format string, args ...any) error {
	return fmt.Errorf("%d:%d: %s", r.line, r.col, fmt.Sprintf(format, args...))
}

func (r *reader) incompletef(format string, args ...any) error {
	return fmt.Errorf("%d:%d: %s: %w", r.line, r.col, fmt.Sprintf(format, args...), ErrIncomplete)
}

func (r *reader) skipSpace() {
	for !r.eof() {
		c := r.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			r.next()
		case c == ';':
			for !r.eof() && r.peek() != '\n' {
				r.next()
			}
		default:
			return
		}
	}
}

func (r *reader) readForm() (*Node, error) {
	r.skipSpace()
	if r.eof() {
		return nil, r.incompletef("unexpected end of input")
	}
	line, col := r.line, r.col
	var n *Node
	var err error
	switch c := r.peek(); {
	case c == '(':
		n, err = r.readDelimited('(', ')', NodeList)
	case c == '[':
		n, err = r.readDelimited('[', ']', NodeVector)
	case c == '{':
		n, err = r.readMap()
	case c == '#':
		n, err = r.readSet()
	case c == '"':
		n, err = r.readString()
	case c == ':':
		n, err = r.readKeyword()
	case c == ')' || c == ']' || c == '}':
		return nil, r.errorf("unexpected %q", string(c))
	default:
		n, err = r.readAtom()
	}
	if err != nil {
		return nil, err
	}
	n.Line, n.Col = line, col
	return n, nil
}

func (r *reader) readDelimited(open, close byte, kind NodeKind) (*Node, error) {
	r.next() // consume open
	var children []*Node
	for {
		r.skipSpace()
		if r.eof() {
			return nil, r.incompletef("unclosed %q", string(open))
		}
		if r.peek() == close {
			r.next()
			return &Node{Kind: kind, Children: children}, nil
		}
		child, err := r.readForm()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
}

func (r *reader) readSet() (*Node, error) {
	r.next() // '#'
	if r.eof() || r.peek() != '{' {
		return nil, r.errorf("expected '{' after '#'")
	}
	n, err := r.readDelimited('{', '}', NodeSet)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *reader) readMap() (*Node, error) {
	r.next() // '{'
	var items []*Node
	for {
		r.skipSpace()
		if r.eof() {
			return nil, r.incompletef("unclosed '{'")
		}
		if r.peek() == '}' {
			r.next()
			break
		}
		item, err := r.readForm()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if len(items)%2 != 0 {
		return nil, r.errorf("map literal needs an even number of forms, got %d", len(items))
	}
	entries := make([]MapEntry, 0, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		entries = append(entries, MapEntry{Key: items[i], Value: items[i+1]})
	}
	return &Node{Kind: NodeMap, Entries: entries}, nil
}

func (r *reader) readString() (*Node, error) {
	r.next() // opening quote
	var b strings.Builder
	for {
		if r.eof() {
			return nil, r.incompletef("unterminated string")
		}
		c := r.next()
		switch c {
		case '"':
			return &Node{Kind: NodeString, Text: b.String()}, nil
		case '\\':
			if r.eof() {
				return nil, r.incompletef("unterminated escape")
			}
			switch e := r.next(); e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				return nil, r.errorf("unknown escape %q", string(e))
			}
		default:
			b.WriteByte(c)
		}
	}
}

func (r *reader) readKeyword() (*Node, error) {
	r.next() // ':'
	name := r.readToken()
	if name == "" {
		return nil, r.errorf("empty keyword")
	}
	return &Node{Kind: NodeKeyword, Text: ":" + name}, nil
}

func (r *reader) readAtom() (*Node, error) {
	tok := r.readToken()
	if tok == "" {
		return nil, r.errorf("unexpected %q", string(r.peek()))
	}
	switch tok {
	case "true":
		return &Node{Kind: NodeBoolean, Bool: true}, nil
	case "false":
		return &Node{Kind: NodeBoolean, Bool: false}, nil
	case "nil":
		return &Node{Kind: NodeNil}, nil
	}
	// ParseInt accepts a leading sign, and bare "-" fails it, so "-" and
	// friends stay symbolic.
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return &Node{Kind: NodeNumber, Number: n}, nil
	}
	return &Node{Kind: NodeSymbol, Text: tok}, nil
}

func (r *reader) readToken() string {
	start := r.pos
	for !r.eof() {
		c := r.peek()
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' ||
			c == '(' || c == ')' || c == '[' || c == ']' || c == '{' || c == '}' ||
			c == '"' || c == ';' {
			break
		}
		r.next()
	}
	return r.src[start:r.pos]
}
