package clovec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func compileProgram(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := CompileSource(src)
	if err != nil {
		t.Fatalf("CompileSource(%q) failed: %v", src, err)
	}
	return prog
}

func TestLower_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Instruction
	}{
		{
			name: "binary_add",
			src:  "(+ 2 3)",
			want: []Instruction{
				push(2), push(3), {Op: OpAdd}, {Op: OpReturn},
			},
		},
		{
			name: "nary_left_fold",
			src:  "(+ 1 2 3)",
			want: []Instruction{
				push(1), push(2), {Op: OpAdd}, push(3), {Op: OpAdd}, {Op: OpReturn},
			},
		},
		{
			name: "nested",
			src:  "(* (- 10 4) 2)",
			want: []Instruction{
				push(10), push(4), {Op: OpSub}, push(2), {Op: OpMul}, {Op: OpReturn},
			},
		},
		{
			name: "comparison",
			src:  "(< 1 2)",
			want: []Instruction{
				push(1), push(2), {Op: OpLt}, {Op: OpReturn},
			},
		},
		{
			name: "not",
			src:  "(not true)",
			want: []Instruction{
				push(1), {Op: OpNot}, {Op: OpReturn},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := compileProgram(t, tt.src)
			if diff := cmp.Diff(tt.want, prog.Instructions); diff != "" {
				t.Errorf("instructions mismatch (-want +got):\n%s", diff)
			}
			if prog.EntryPoint != 0 {
				t.Errorf("entry point = %d, want 0", prog.EntryPoint)
			}
		})
	}
}

func TestLower_If(t *testing.T) {
	prog := compileProgram(t, "(if true 1 2)")
	want := []Instruction{
		push(1),
		jumpIfZero(4),
		push(1),
		jump(5),
		push(2),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestLower_IfWithoutElseProducesNil(t *testing.T) {
	prog := compileProgram(t, "(if false 1)")
	want := []Instruction{
		push(0),
		jumpIfZero(4),
		push(1),
		jump(5),
		push(0),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestLower_LetNumber(t *testing.T) {
	prog := compileProgram(t, "(let [x 5] (+ x 1))")
	want := []Instruction{
		push(5),
		storeLocal(0),
		loadLocal(0),
		push(1),
		{Op: OpAdd},
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

// A heap local owns its payload from initialization and is released right
// after its last use.
func TestLower_LetStringFreedAfterLastUse(t *testing.T) {
	prog := compileProgram(t, `(let [s "a"] (count s))`)
	want := []Instruction{
		pushString(0),
		runtimeCall(runtimeStringNormalize, 1),
		storeLocal(0),
		loadLocal(0),
		runtimeCall(runtimeStringCount, 1),
		freeLocal(0),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, prog.Strings); diff != "" {
		t.Errorf("string table mismatch:\n%s", diff)
	}
}

// The intermediate string built by str lives in a tracked temporary and is
// released between the concat and the count; the concat result gets its own
// slot, freed after the count consumes it.
func TestLower_CountOfStrIntermediates(t *testing.T) {
	prog := compileProgram(t, "(count (str 42))")
	want := []Instruction{
		push(42),
		runtimeCall(runtimeStringFromNumber, 1),
		storeLocal(0),
		pushLocalAddr(0),
		push(1),
		runtimeCall(runtimeStringConcatN, 2),
		freeLocal(0),
		storeLocal(1),
		loadLocal(1),
		runtimeCall(runtimeStringCount, 1),
		freeLocal(1),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestLower_StrConversions(t *testing.T) {
	prog := compileProgram(t, `(str "a" 1 true :k)`)
	var calls []string
	for _, in := range prog.Instructions {
		if in.Op == OpRuntimeCall {
			calls = append(calls, in.Name)
		}
	}
	want := []string{
		runtimeStringNormalize,
		runtimeStringFromNumber,
		runtimeStringFromBoolean,
		runtimeStringNormalize,
		runtimeStringConcatN,
	}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("runtime call order mismatch (-want +got):\n%s", diff)
	}
	// Four converted pieces in a contiguous run, all freed after concat.
	frees := 0
	for _, in := range prog.Instructions {
		if in.Op == OpFreeLocal {
			frees++
		}
	}
	if frees != 4 {
		t.Errorf("free count = %d, want 4", frees)
	}
}

func TestLower_Subs(t *testing.T) {
	prog := compileProgram(t, `(subs "hello" 1 3)`)
	want := []Instruction{
		pushString(0),
		push(1),
		push(3),
		runtimeCall(runtimeStringSubs, 3),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestLower_VectorLiteral(t *testing.T) {
	prog := compileProgram(t, "[1 2 3]")
	want := []Instruction{
		push(1), storeLocal(0),
		push(2), storeLocal(1),
		push(3), storeLocal(2),
		pushLocalAddr(0),
		push(3),
		runtimeCall(runtimeVectorCreate, 2),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestLower_EmptyContainers(t *testing.T) {
	tests := []struct {
		src    string
		create string
	}{
		{"[]", runtimeVectorCreate},
		{"#{}", runtimeSetCreate},
		{"{}", runtimeMapCreate},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog := compileProgram(t, tt.src)
			want := []Instruction{
				push(0), push(0),
				runtimeCall(tt.create, 2),
				{Op: OpReturn},
			}
			if diff := cmp.Diff(want, prog.Instructions); diff != "" {
				t.Errorf("instructions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Reading a heap element out of a vector clones it at the source, and the
// vector itself is released only after the clone has run.
func TestLower_VectorGetClonesHeapElement(t *testing.T) {
	prog := compileProgram(t, `(get ["a" "b"] 0)`)
	want := []Instruction{
		pushString(0),
		runtimeCall(runtimeStringNormalize, 1),
		storeLocal(0),
		pushString(1),
		runtimeCall(runtimeStringNormalize, 1),
		storeLocal(1),
		pushLocalAddr(0),
		push(2),
		runtimeCall(runtimeVectorCreate, 2),
		storeLocal(2),
		loadLocal(2),
		push(0),
		runtimeCall(runtimeVectorGet, 2),
		runtimeCall(runtimeStringClone, 1),
		freeLocalWith(2, runtimeVectorFree),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestLower_GetLiteralMapFolds(t *testing.T) {
	prog := compileProgram(t, "(get {:a 1 :b 2} :b)")
	want := []Instruction{push(2), {Op: OpReturn}}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("statically present key did not fold (-want +got):\n%s", diff)
	}
}

func TestLower_GetUnknownKeyEmitsFallback(t *testing.T) {
	prog := compileProgram(t, "(let [m {:a 1}] (get m :b))")
	var calls []string
	for _, in := range prog.Instructions {
		if in.Op == OpRuntimeCall {
			calls = append(calls, in.Name)
		}
	}
	want := []string{runtimeMapCreate, runtimeMapContains, runtimeMapGet}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("runtime call order mismatch (-want +got):\n%s", diff)
	}

	// The missing-key path pushes nil.
	var jiz int = -1
	for i, in := range prog.Instructions {
		if in.Op == OpJumpIfZero {
			jiz = i
		}
	}
	if jiz < 0 {
		t.Fatal("no fallback branch emitted")
	}
	elseArm := prog.Instructions[prog.Instructions[jiz].Index]
	if elseArm.Op != OpPush || elseArm.Imm != 0 {
		t.Errorf("else arm starts with %v, want push 0 (nil)", elseArm)
	}

	// The borrowed map local (slot 2, after the literal's key/value run)
	// is consulted directly and freed exactly once per path through the
	// branch.
	if n := freeCount(prog.Instructions, 2); n != 2 {
		t.Errorf("map local freed %d times across the branch, want 2", n)
	}
}

// Typed map metadata makes the lookup use the known value kind: a heap
// value comes back through _map_value_clone instead of _map_get.
func TestLower_MapGetHeapValueCloned(t *testing.T) {
	prog := compileProgram(t, `(let [m {:a "s"}] (get m :a))`)
	sawClone := false
	for _, in := range prog.Instructions {
		if in.Op == OpRuntimeCall && in.Name == runtimeMapValueClone {
			sawClone = true
		}
		if in.Op == OpRuntimeCall && in.Name == runtimeMapGet {
			t.Error("plain _map_get used for a heap-kind value")
		}
	}
	if !sawClone {
		t.Error("_map_value_clone not emitted")
	}
}

func TestLower_AssocGetRoundTripFolds(t *testing.T) {
	// assoc rewrites the value-kind table, so the get on its result
	// resolves at compile time: no lookup call of any sort, only the map
	// construction and the assoc itself reach the runtime.
	prog := compileProgram(t, "(get (assoc {:a 1} :b 2) :b)")
	for _, in := range prog.Instructions {
		if in.Op != OpRuntimeCall {
			continue
		}
		switch in.Name {
		case runtimeMapGet, runtimeMapValueClone, runtimeMapContains:
			t.Errorf("proven key lookup reached the runtime via %s", in.Name)
		}
	}
	last := prog.Instructions[len(prog.Instructions)-2]
	if last.Op != OpPush {
		t.Errorf("folded result = %v, want a push", last)
	}
}

// A key the metadata proves present with a scalar kind never consults the
// map at runtime; the unused map local is released at its defining store.
func TestLower_GetProvenScalarKeySkipsRuntime(t *testing.T) {
	prog := compileProgram(t, "(let [m {:a 1}] (get m :a))")
	want := []Instruction{
		pushString(0),
		storeLocal(0),
		push(1),
		storeLocal(1),
		pushLocalAddr(0),
		push(1),
		runtimeCall(runtimeMapCreate, 2),
		storeLocal(2),
		freeLocalWith(2, runtimeMapFree),
		push(0),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestLower_AssocFreesOverwrittenEntry(t *testing.T) {
	prog := compileProgram(t, `(assoc {:a "v"} :a "w")`)
	want := []Instruction{
		pushString(0), // :a
		storeLocal(0),
		pushString(1), // "v"
		runtimeCall(runtimeStringNormalize, 1),
		storeLocal(1),
		pushLocalAddr(0),
		push(1),
		runtimeCall(runtimeMapCreate, 2),
		pushString(0), // :a again
		pushString(2), // "w"
		runtimeCall(runtimeStringNormalize, 1),
		runtimeCall(runtimeMapAssoc, 3),
		freeLocal(1), // the overwritten "v"
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

// Evicting a nested container releases it through its own deep free; the
// elements it captured are never freed separately.
func TestLower_AssocEvictionFreesNestedContainerOnce(t *testing.T) {
	prog := compileProgram(t, `(assoc {:a ["x"]} :a 1)`)
	var eviction Instruction
	for _, in := range prog.Instructions {
		if in.Op == OpFreeLocalWithRuntime {
			eviction = in
		}
	}
	if eviction.Name != runtimeVectorFree || eviction.Slot != 1 {
		t.Errorf("eviction = %v, want deep vector free of slot 1", eviction)
	}
	if n := freeCount(prog.Instructions, 1); n != 1 {
		t.Errorf("evicted vector freed %d times, want 1", n)
	}
	if n := freeCount(prog.Instructions, 2); n != 0 {
		t.Errorf("nested element slot freed %d times, want 0 (the vector free owns it)", n)
	}
}

func TestLower_ContainsFolds(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{"(contains? {:a 1} :a)", 1},
		{"(contains? {:a 1} :b)", 0},
		{"(let [m {:a 1}] (contains? m :a))", 1},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog := compileProgram(t, tt.src)
			for _, in := range prog.Instructions {
				if in.Op == OpRuntimeCall && in.Name == runtimeMapContains {
					t.Fatal("statically answerable contains? reached the runtime")
				}
			}
			// The folded answer is the last value pushed before the return.
			last := prog.Instructions[len(prog.Instructions)-2]
			if last.Op != OpPush || last.Imm != tt.want {
				t.Errorf("folded answer = %v, want push %d", last, tt.want)
			}
		})
	}
}

func TestLower_ContainsSetRuntime(t *testing.T) {
	prog := compileProgram(t, "(contains? #{1 2} 1)")
	found := false
	for _, in := range prog.Instructions {
		if in.Op == OpRuntimeCall && in.Name == runtimeSetContains {
			found = true
		}
	}
	if !found {
		t.Error("_set_contains not emitted")
	}
}

func TestLower_UnusedHeapLocalFreedAtStore(t *testing.T) {
	// The contains? fold removes every use of m, so m is released right
	// after its defining store.
	prog := compileProgram(t, "(let [m {:a 1}] (contains? m :a))")
	want := []Instruction{
		pushString(0),
		storeLocal(0),
		push(1),
		storeLocal(1),
		pushLocalAddr(0),
		push(1),
		runtimeCall(runtimeMapCreate, 2),
		storeLocal(2),
		freeLocalWith(2, runtimeMapFree),
		push(1),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

// Arm results never alias locals across the merge: the then arm clones the
// borrowed local, the else arm normalizes the static string, and the local
// is released once on every path.
func TestLower_IfBranchOwnership(t *testing.T) {
	prog := compileProgram(t, `(let [s "x"] (if true s "y"))`)
	want := []Instruction{
		pushString(0),
		runtimeCall(runtimeStringNormalize, 1),
		storeLocal(0),
		push(1),
		jumpIfZero(9),
		loadLocal(0),
		runtimeCall(runtimeStringClone, 1),
		freeLocal(0),
		jump(12),
		pushString(1),
		runtimeCall(runtimeStringNormalize, 1),
		freeLocal(0),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

// Returning a let-local transfers ownership out instead of cloning.
func TestLower_LetEscapeTransfersOwnership(t *testing.T) {
	prog := compileProgram(t, `(let [s "a"] s)`)
	want := []Instruction{
		pushString(0),
		runtimeCall(runtimeStringNormalize, 1),
		storeLocal(0),
		loadLocal(0),
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestLower_LetShadowing(t *testing.T) {
	prog := compileProgram(t, "(let [x 1] (+ (let [x 2] x) x))")
	want := []Instruction{
		push(1),
		storeLocal(0),
		push(2),
		storeLocal(1),
		loadLocal(1),
		loadLocal(0),
		{Op: OpAdd},
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want any
	}{
		{"undefined_variable", "(+ x 1)", &UndefinedVariableError{}},
		{"unknown_operator", "(frobnicate 1)", &UnsupportedOperationError{}},
		{"arity_builtin", "(not 1 2)", &ArityError{}},
		{"arity_arithmetic", "(+ 1)", &ArityError{}},
		{"arity_user_function", "(defn f [a b] (+ a b)) (f 1)", &ArityError{}},
		{"duplicate_function", "(defn f [] 1) (defn f [] 2)", &DuplicateFunctionError{}},
		{"nested_defn", "(let [x 1] (defn g [] x))", &InvalidExpressionError{}},
		{"empty_list", "()", &InvalidExpressionError{}},
		{"count_of_number", "(count 1)", &UnsupportedOperationError{}},
		{"subs_of_map", "(subs {} 1)", &UnsupportedOperationError{}},
		{"assoc_on_vector", "(assoc [1] 0 2)", &UnsupportedOperationError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource(tt.src)
			if err == nil {
				t.Fatal("compile succeeded, want error")
			}
			matched := false
			switch tt.want.(type) {
			case *UndefinedVariableError:
				var e *UndefinedVariableError
				matched = errors.As(err, &e)
			case *UnsupportedOperationError:
				var e *UnsupportedOperationError
				matched = errors.As(err, &e)
			case *ArityError:
				var e *ArityError
				matched = errors.As(err, &e)
			case *DuplicateFunctionError:
				var e *DuplicateFunctionError
				matched = errors.As(err, &e)
			case *InvalidExpressionError:
				var e *InvalidExpressionError
				matched = errors.As(err, &e)
			}
			if !matched {
				t.Errorf("error = %v (%T), want %T", err, err, tt.want)
			}
		})
	}
}

func TestLower_StringTableInterning(t *testing.T) {
	prog := compileProgram(t, `(str "a" "b" "a")`)
	if diff := cmp.Diff([]string{"a", "b"}, prog.Strings); diff != "" {
		t.Errorf("string table mismatch (-want +got):\n%s", diff)
	}
	var indices []int
	for _, in := range prog.Instructions {
		if in.Op == OpPushString {
			indices = append(indices, in.Index)
		}
	}
	if diff := cmp.Diff([]int{0, 1, 0}, indices); diff != "" {
		t.Errorf("push indices mismatch (-want +got):\n%s", diff)
	}
}
