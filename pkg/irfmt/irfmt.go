// Package irfmt renders compiled programs as aligned, human-readable
// instruction listings.
package irfmt

import (
	"fmt"
	"strconv"
	"strings"

	runewidth "github.com/mattn/go-runewidth"

	clovec "github.com/clove-lang/clovec"
)

// Cfg controls listing output.
type Cfg struct {
	// Addresses prefixes every line with its absolute instruction index.
	Addresses bool
	// Comments adds a trailing comment column resolving string table
	// indices and jump targets.
	Comments bool
}

// DefaultCfg is what the command line tool uses.
func DefaultCfg() Cfg {
	return Cfg{Addresses: true, Comments: true}
}

// Format renders the whole program: an entry point line, one line per
// instruction, and a blank line before each function definition.
func Format(prog *clovec.Program, cfg Cfg) string {
	var b strings.Builder
	fmt.Fprintf(&b, "entry: %04d\n", prog.EntryPoint)

	lines := make([]line, 0, len(prog.Instructions))
	for i, in := range prog.Instructions {
		lines = append(lines, line{
			addr:    i,
			op:      in.Op.String(),
			operand: operand(in),
			comment: comment(in, prog.Strings),
			header:  in.Op == clovec.OpDefineFunction,
		})
	}
	writeLines(&b, lines, cfg)
	return b.String()
}

// FormatInstructions renders a bare fragment with no entry point line.
// The string table may be nil when the fragment has no string pushes.
func FormatInstructions(insts []clovec.Instruction, strs []string, cfg Cfg) string {
	var b strings.Builder
	lines := make([]line, 0, len(insts))
	for i, in := range insts {
		lines = append(lines, line{
			addr:    i,
			op:      in.Op.String(),
			operand: operand(in),
			comment: comment(in, strs),
		})
	}
	writeLines(&b, lines, cfg)
	return b.String()
}

type line struct {
	addr    int
	op      string
	operand string
	comment string
	header  bool
}

func writeLines(b *strings.Builder, lines []line, cfg Cfg) {
	opW, operandW := 0, 0
	for _, l := range lines {
		if w := runewidth.StringWidth(l.op); w > opW {
			opW = w
		}
		if w := runewidth.StringWidth(l.operand); w > operandW {
			operandW = w
		}
	}
	for i, l := range lines {
		if l.header && i > 0 {
			b.WriteByte('\n')
		}
		if cfg.Addresses {
			fmt.Fprintf(b, "%04d  ", l.addr)
		}
		if l.operand == "" && (l.comment == "" || !cfg.Comments) {
			b.WriteString(l.op)
			b.WriteByte('\n')
			continue
		}
		b.WriteString(pad(l.op, opW+2))
		if l.comment != "" && cfg.Comments {
			b.WriteString(pad(l.operand, operandW+2))
			b.WriteString("; ")
			b.WriteString(l.comment)
		} else {
			b.WriteString(l.operand)
		}
		b.WriteByte('\n')
	}
}

func pad(s string, width int) string {
	if w := runewidth.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s + " "
}

func operand(in clovec.Instruction) string {
	switch in.Op {
	case clovec.OpPush:
		return strconv.FormatInt(in.Imm, 10)
	case clovec.OpPushString:
		return strconv.Itoa(in.Index)
	case clovec.OpLoadParam, clovec.OpLoadLocal, clovec.OpStoreLocal,
		clovec.OpPushLocalAddress, clovec.OpFreeLocal:
		return strconv.Itoa(in.Slot)
	case clovec.OpFreeLocalWithRuntime:
		return fmt.Sprintf("%d %s", in.Slot, in.Name)
	case clovec.OpJump, clovec.OpJumpIfZero:
		return fmt.Sprintf("%04d", in.Index)
	case clovec.OpCall, clovec.OpRuntimeCall:
		return fmt.Sprintf("%s/%d", in.Name, in.Arity)
	case clovec.OpDefineFunction:
		return fmt.Sprintf("%s/%d", in.Name, in.Arity)
	default:
		return ""
	}
}

func comment(in clovec.Instruction, strs []string) string {
	switch in.Op {
	case clovec.OpPushString:
		if in.Index >= 0 && in.Index < len(strs) {
			return strconv.Quote(strs[in.Index])
		}
	case clovec.OpDefineFunction:
		return fmt.Sprintf("starts at %04d", in.Index)
	}
	return ""
}
