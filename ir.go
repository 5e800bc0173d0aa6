package clovec

// Op is the opcode of one IR instruction.
type Op int

const (
	OpPush Op = iota
	OpPushString
	OpLoadParam
	OpLoadLocal
	OpStoreLocal
	OpPushLocalAddress
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpEq
	OpLt
	OpGt
	OpLe
	OpGe
	OpNot
	OpJump
	OpJumpIfZero
	OpCall
	OpRuntimeCall
	OpFreeLocal
	OpFreeLocalWithRuntime
	OpDefineFunction
	OpReturn
)

func (op Op) String() string {
	switch op {
	case OpPush:
		return "push"
	case OpPushString:
		return "pushstring"
	case OpLoadParam:
		return "loadparam"
	case OpLoadLocal:
		return "loadlocal"
	case OpStoreLocal:
		return "storelocal"
	case OpPushLocalAddress:
		return "pushlocaladdress"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpEq:
		return "eq"
	case OpLt:
		return "lt"
	case OpGt:
		return "gt"
	case OpLe:
		return "le"
	case OpGe:
		return "ge"
	case OpNot:
		return "not"
	case OpJump:
		return "jump"
	case OpJumpIfZero:
		return "jumpifzero"
	case OpCall:
		return "call"
	case OpRuntimeCall:
		return "runtimecall"
	case OpFreeLocal:
		return "freelocal"
	case OpFreeLocalWithRuntime:
		return "freelocalruntime"
	case OpDefineFunction:
		return "definefunction"
	case OpReturn:
		return "return"
	default:
		panic(op)
	}
}

// Instruction is one IR instruction. Which operand fields are meaningful
// depends on Op:
//
//	OpPush                  Imm (immediate value; booleans 1/0, nil 0)
//	OpPushString            Index (string table)
//	OpLoadParam             Slot (parameter position)
//	OpLoadLocal/OpStoreLocal/OpPushLocalAddress/OpFreeLocal  Slot
//	OpFreeLocalWithRuntime  Slot, Name (runtime free entry point)
//	OpJump/OpJumpIfZero     Index (absolute instruction index)
//	OpCall/OpRuntimeCall    Name, Arity
//	OpDefineFunction        Name, Arity (param count), Index (start address)
type Instruction struct {
	Op    Op
	Imm   int64
	Slot  int
	Index int
	Name  string
	Arity int
}

func push(v int64) Instruction           { return Instruction{Op: OpPush, Imm: v} }
func pushString(idx int) Instruction     { return Instruction{Op: OpPushString, Index: idx} }
func loadParam(slot int) Instruction     { return Instruction{Op: OpLoadParam, Slot: slot} }
func loadLocal(slot int) Instruction     { return Instruction{Op: OpLoadLocal, Slot: slot} }
func storeLocal(slot int) Instruction    { return Instruction{Op: OpStoreLocal, Slot: slot} }
func pushLocalAddr(slot int) Instruction { return Instruction{Op: OpPushLocalAddress, Slot: slot} }
func jump(target int) Instruction        { return Instruction{Op: OpJump, Index: target} }
func jumpIfZero(target int) Instruction  { return Instruction{Op: OpJumpIfZero, Index: target} }
func freeLocal(slot int) Instruction     { return Instruction{Op: OpFreeLocal, Slot: slot} }

func freeLocalWith(slot int, runtime string) Instruction {
	return Instruction{Op: OpFreeLocalWithRuntime, Slot: slot, Name: runtime}
}

func call(name string, arity int) Instruction {
	return Instruction{Op: OpCall, Name: name, Arity: arity}
}

func runtimeCall(name string, arity int) Instruction {
	return Instruction{Op: OpRuntimeCall, Name: name, Arity: arity}
}

// stackEffect returns how many conceptual stack entries the instruction
// consumes and produces. The liveness planner relies on these counts to
// find the last use of tracked slots.
func (in Instruction) stackEffect() (consumed, produced int) {
	switch in.Op {
	case OpPush, OpPushString, OpLoadParam, OpLoadLocal, OpPushLocalAddress:
		return 0, 1
	case OpStoreLocal:
		return 1, 0
	case OpAdd, OpSub, OpMul, OpDiv, OpEq, OpLt, OpGt, OpLe, OpGe:
		return 2, 1
	case OpNot:
		return 1, 1
	case OpJumpIfZero:
		return 1, 0
	case OpCall, OpRuntimeCall:
		return in.Arity, 1
	case OpReturn:
		return 1, 0
	default:
		return 0, 0
	}
}

// FunctionInfo is the code generator's side table entry for one compiled
// function.
type FunctionInfo struct {
	Name         string
	ParamCount   int
	StartAddress int
	LocalCount   int
}

// Program is the compiler's output: a flat instruction list, the string
// table referenced by OpPushString, the function side table, and the entry
// point (the start of -main when defined, else the first top-level
// instruction). Jump targets are absolute indices into Instructions.
type Program struct {
	Instructions []Instruction
	Strings      []string
	Functions    []FunctionInfo
	EntryPoint   int
}

// stringTable interns string literals and keywords for OpPushString.
type stringTable struct {
	entries []string
	index   map[string]int
}

func newStringTable() *stringTable {
	return &stringTable{index: make(map[string]int)}
}

func (t *stringTable) intern(s string) int {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := len(t.entries)
	t.entries = append(t.entries, s)
	t.index[s] = i
	return i
}
