package compiler

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/stencilc/stencilc/internal/coderegion"
	"github.com/stencilc/stencilc/internal/stencil/asmx86"
)

// emitEntry is the emission pass's own record of one live operand-stack
// value: its kind and, if the pre-pass decided it must spill, the
// evaluation-stack slot it was stored to when produced. It mirrors
// abstractStack's entries one for one, but reads spill/slot decisions out
// of prepassResult instead of deriving them itself, since the pre-pass
// already ran the whole function once.
type emitEntry struct {
	kind    Kind
	spilled bool
	slot    int
}

// emitStack tracks exactly the same entries abstractStack tracked during
// the pre-pass, letting the emission pass recover, for any operand it is
// about to consume, whether that operand currently lives in a register or
// a spill slot.
type emitStack struct {
	entries []emitEntry
}

func (s *emitStack) push(kind Kind, spilled bool, slot int) {
	s.entries = append(s.entries, emitEntry{kind: kind, spilled: spilled, slot: slot})
}

func (s *emitStack) height() int { return len(s.entries) }

// truncate pops back to height h, mirroring abstractStack's resetHeight:
// a void block/if-arm whose body is validated to return to its entry
// height needs no code for this, just bookkeeping so entries produced
// inside the arm don't leak into the merge point's view of the stack.
func (s *emitStack) truncate(h int) {
	if h < len(s.entries) {
		s.entries = s.entries[:h]
	}
}

func (s *emitStack) pop() emitEntry {
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top
}

// popN pops n entries and returns them in original (bottom-to-top, i.e.
// left-to-right operand) order.
func (s *emitStack) popN(n int) []emitEntry {
	out := make([]emitEntry, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = s.pop()
	}
	return out
}

// residentBelow counts the currently-resident (non-spilled) entries of
// kind below the top n entries — the "base" window depth a new operand
// group is stacked on top of.
func (s *emitStack) residentBelow(n int, kind Kind) int {
	base := len(s.entries) - n
	count := 0
	for i := 0; i < base; i++ {
		e := s.entries[i]
		if !e.spilled && e.kind == kind {
			count++
		}
	}
	return count
}

// occupancy reports the current resident-window depth of each kind across
// the whole stack, used when producing a value (no operands popped yet).
func (s *emitStack) occupancy() (ints, floats int) {
	for _, e := range s.entries {
		if e.spilled {
			continue
		}
		switch e.kind {
		case KindInt:
			ints++
		case KindFloat:
			floats++
		}
	}
	return
}

// homogeneous reports whether every entry in group has the same spilled
// state, and that state. A mixed group (one operand resident, a sibling
// spilled) can't be expressed by the stencil library's single
// SpillOutput flag, which only distinguishes whole-result placement, not
// per-operand residency — see DESIGN.md's note on this scope limit.
func homogeneous(group []emitEntry) (allSpilled bool, ok bool) {
	if len(group) == 0 {
		return false, true
	}
	first := group[0].spilled
	for _, e := range group[1:] {
		if e.spilled != first {
			return false, false
		}
	}
	return first, true
}

// reloadOperands emits, for every spilled entry in group, a plain load
// from its evaluation-stack slot into the register the non-spilled
// stencil for this op expects at that operand's position, then returns
// the updated int/float window-depth count(s) to key the base (non-spill)
// stencil lookup with — exactly as if every operand in group had stayed
// resident the whole time. Callers must have already confirmed group is
// homogeneous (or single-entry) before calling this for the spilled case.
func reloadOperands(region *coderegion.Region, layout frameLayout, base int, group []emitEntry) error {
	b, err := asmx86.NewBuilder(16 * len(group))
	if err != nil {
		return err
	}
	for i, e := range group {
		idx := base + i
		switch e.kind {
		case KindInt:
			b.MemReg(x86.AMOVQ, asmx86.FrameBaseReg, layout.EvalIntSlotOffset(e.slot), asmx86.IntRegByIndex(idx))
		case KindFloat:
			b.MemReg(x86.AMOVSD, asmx86.FrameBaseReg, layout.EvalFloatSlotOffset(e.slot), asmx86.FloatRegByIndex(idx))
		}
	}
	code, err := b.Assemble()
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return nil
	}
	_, _, err = region.Append(code)
	return err
}

// errMixedSpill is returned when a multi-operand consumer finds some of
// its operands resident and others spilled; see homogeneous's doc comment.
func errMixedSpill(name string, pos int, op byte) error {
	return fmt.Errorf("emit %s: opcode %#x at %d: mixed spilled/resident operands not supported (see DESIGN.md)", name, op, pos)
}
