package clovec

import "sort"

// trackedSlot is a temporary or local slot holding an Owned heap value that
// the lowering stage has handed to the liveness planner for release.
type trackedSlot struct {
	slot int
	kind ValueKind
}

// livenessPlan records where to splice release instructions: frees[i] is
// the set of slots to free immediately after instruction i (i == -1 means
// before the first instruction of the range), and freed is the set of slots
// proven released along every path through the analyzed range.
type livenessPlan struct {
	frees map[int][]trackedSlot
	freed map[int]bool
}

func newLivenessPlan() *livenessPlan {
	return &livenessPlan{frees: make(map[int][]trackedSlot), freed: make(map[int]bool)}
}

func (p *livenessPlan) add(after int, ts trackedSlot) {
	p.frees[after] = append(p.frees[after], ts)
	p.freed[ts.slot] = true
}

// planFrees computes the release plan for one instruction sequence and the
// tracked slots created within it. Every tracked slot is freed exactly once
// along every execution path, as late as safely possible.
func planFrees(insts []Instruction, tracked []trackedSlot, log Logger) *livenessPlan {
	plan := newLivenessPlan()
	if len(tracked) > 0 {
		planRange(insts, 0, len(insts), tracked, plan)
		log.Debugf("liveness plan: %d tracked slot(s), %d insertion point(s)",
			len(tracked), len(plan.frees))
	}
	return plan
}

// planRange analyzes [lo, hi). When the range contains a conditional, it is
// split into prefix, then arm, else arm, and continuation; each piece is
// analyzed recursively with the subset of slots it is responsible for.
func planRange(insts []Instruction, lo, hi int, tracked []trackedSlot, plan *livenessPlan) {
	if len(tracked) == 0 || lo >= hi {
		return
	}
	j, thenEnd, elseEnd, ok := findBranch(insts, lo, hi)
	if !ok {
		planStraightLine(insts, lo, hi, tracked, plan)
		return
	}

	// Shape: [lo..j] prefix ending in JumpIfZero(elseStart),
	// [j+1..thenEnd) then arm, Jump(end) at thenEnd, [thenEnd+1..elseEnd)
	// else arm, [elseEnd..hi) continuation.
	elseStart := thenEnd + 1

	var prefixSlots, branchSlots, contSlots []trackedSlot
	for _, ts := range tracked {
		switch {
		case slotReferenced(insts, elseEnd, hi, ts.slot) || definingStore(insts, elseEnd, hi, ts.slot) >= 0:
			// Read, or only defined, after the merge point.
			contSlots = append(contSlots, ts)
		case slotReferenced(insts, j+1, elseEnd, ts.slot):
			branchSlots = append(branchSlots, ts)
		default:
			prefixSlots = append(prefixSlots, ts)
		}
	}

	planRange(insts, lo, j+1, prefixSlots, plan)
	if len(branchSlots) > 0 {
		// Exactly one arm executes at runtime, so freeing the same slot
		// in both arms releases it exactly once on every path. Frees are
		// never hoisted past the merge point from a single arm.
		planRange(insts, j+1, thenEnd, branchSlots, plan)
		planRange(insts, elseStart, elseEnd, branchSlots, plan)
	}
	planRange(insts, elseEnd, hi, contSlots, plan)
}

// findBranch locates the first conditional in [lo, hi) and verifies the
// if/else shape the lowering stage always produces: JumpIfZero at j
// targeting the else arm, with an unconditional Jump to the merge point as
// the last then-arm instruction.
func findBranch(insts []Instruction, lo, hi int) (j, thenEnd, elseEnd int, ok bool) {
	for i := lo; i < hi; i++ {
		if insts[i].Op != OpJumpIfZero {
			continue
		}
		elseStart := insts[i].Index
		if elseStart <= i+1 || elseStart > hi {
			return 0, 0, 0, false
		}
		thenEnd = elseStart - 1
		if insts[thenEnd].Op != OpJump {
			return 0, 0, 0, false
		}
		elseEnd = insts[thenEnd].Index
		if elseEnd < elseStart || elseEnd > hi {
			return 0, 0, 0, false
		}
		return i, thenEnd, elseEnd, true
	}
	return 0, 0, 0, false
}

// slotReferenced reports whether any instruction in [lo, hi) reads the
// slot. Stores do not count: temp slots are never reassigned, so a store is
// always the defining write.
func slotReferenced(insts []Instruction, lo, hi, slot int) bool {
	for i := lo; i < hi; i++ {
		switch insts[i].Op {
		case OpLoadLocal, OpPushLocalAddress:
			if insts[i].Slot == slot {
				return true
			}
		}
	}
	return false
}

// Shadow-stack entry classification for straight-line analysis.
type entryClass int

const (
	entryOther entryClass = iota
	entryLocalValue
	entryLocalAddress
)

type shadowEntry struct {
	class entryClass
	slot  int
}

// planStraightLine scans a branch-free range left to right, maintaining a
// shadow of the conceptual evaluation stack, and frees each tracked slot
// immediately after the instruction that consumes its last use.
func planStraightLine(insts []Instruction, lo, hi int, tracked []trackedSlot, plan *livenessPlan) {
	inRange := make(map[int]ValueKind, len(tracked))
	for _, ts := range tracked {
		inRange[ts.slot] = ts.kind
	}

	lastUse := make(map[int]int)
	var stack []shadowEntry
	for i := lo; i < hi; i++ {
		in := insts[i]
		consumed, produced := in.stackEffect()
		for n := 0; n < consumed && len(stack) > 0; n++ {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			switch top.class {
			case entryLocalValue:
				if _, ok := inRange[top.slot]; ok {
					lastUse[top.slot] = i
				}
			case entryLocalAddress:
				// A consumed slot address stands for the contiguous run
				// of slots starting there; the callee reads the whole
				// run, so every tracked slot in it is used here.
				for s := top.slot; ; s++ {
					if _, ok := inRange[s]; !ok {
						break
					}
					lastUse[s] = i
				}
			}
		}
		for n := 0; n < produced; n++ {
			switch in.Op {
			case OpLoadLocal:
				stack = append(stack, shadowEntry{class: entryLocalValue, slot: in.Slot})
			case OpPushLocalAddress:
				stack = append(stack, shadowEntry{class: entryLocalAddress, slot: in.Slot})
			default:
				stack = append(stack, shadowEntry{class: entryOther})
			}
		}
	}

	// A unary runtime call consuming the previous call's result may be
	// reading through a pointer into the value that call consumed, as in
	// _vector_get followed by the element clone. Releases are pushed past
	// the whole transform chain; delaying a free within a straight-line
	// range is always safe.
	for slot, i := range lastUse {
		for i+1 < hi && insts[i].Op == OpRuntimeCall &&
			insts[i+1].Op == OpRuntimeCall && insts[i+1].Arity == 1 {
			i++
			lastUse[slot] = i
		}
	}

	// Deterministic insertion order for slots sharing an index.
	sorted := make([]trackedSlot, len(tracked))
	copy(sorted, tracked)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].slot < sorted[b].slot })

	for _, ts := range sorted {
		if at, ok := lastUse[ts.slot]; ok {
			plan.add(at, ts)
			continue
		}
		// Never read in this range: release right after the defining
		// store if it is here, otherwise at the end of the range (an arm
		// this slot is not used in).
		if def := definingStore(insts, lo, hi, ts.slot); def >= 0 {
			plan.add(def, ts)
		} else {
			plan.add(hi-1, ts)
		}
	}
}

func definingStore(insts []Instruction, lo, hi, slot int) int {
	for i := hi - 1; i >= lo; i-- {
		if insts[i].Op == OpStoreLocal && insts[i].Slot == slot {
			return i
		}
	}
	return -1
}

// applyPlan splices the planned release instructions into the sequence and
// remaps every jump target through an index-remapping table built during
// the splice.
func applyPlan(insts []Instruction, plan *livenessPlan) []Instruction {
	if len(plan.frees) == 0 {
		return insts
	}
	out := make([]Instruction, 0, len(insts)+len(plan.frees))
	remap := make([]int, len(insts)+1)

	appendFrees := func(after int) {
		for _, ts := range plan.frees[after] {
			if rt := freeRuntime(ts.kind); rt != "" {
				out = append(out, freeLocalWith(ts.slot, rt))
			} else {
				out = append(out, freeLocal(ts.slot))
			}
		}
	}

	appendFrees(-1)
	for i, in := range insts {
		remap[i] = len(out)
		out = append(out, in)
		appendFrees(i)
	}
	remap[len(insts)] = len(out)

	for i := range out {
		switch out[i].Op {
		case OpJump, OpJumpIfZero:
			out[i].Index = remap[out[i].Index]
		}
	}
	return out
}
