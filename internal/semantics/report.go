package semantics

import (
	"crypto/sha1"
	"fmt"
	"strings"

	"gsym/internal/exprtree"
	"gsym/internal/x86"
)

// Render writes the current state. Rendering dereferences memory only
// through the recorded cells, so it shares MemRead's lazily
// materializing nature when callers mix it with reads.
func (p *Policy) Render(b *strings.Builder, rmap exprtree.RenameMap) {
	b.WriteString("current state:\n")
	p.cur.Render(b, rmap)
}

func (p *Policy) String() string {
	var b strings.Builder
	p.Render(&b, nil)
	return b.String()
}

// RenderDiff writes only the differences between two states: registers
// and flags with structurally different values, followed by the
// filtered memory cells of b that have no equal counterpart in a. The
// filtering is the same MemoryForEquality contract EqualStates uses.
func (p *Policy) RenderDiff(b *strings.Builder, from, to *State, rmap exprtree.RenameMap) {
	from.RenderDiffRegisters(b, to, rmap)
	fromMem := p.MemoryForEquality(from)
	for _, c := range p.MemoryForEquality(to) {
		if !fromMem.Contains(c) {
			c.Render(b, rmap)
		}
	}
}

// RenderDiffFromOrig writes the difference between the original state
// and the current state.
func (p *Policy) RenderDiffFromOrig(b *strings.Builder, rmap exprtree.RenameMap) {
	p.RenderDiff(b, p.orig, p.cur, rmap)
}

// DiffString returns the orig-to-current diff as a string, with
// variables renamed to compact names.
func (p *Policy) DiffString() string {
	var b strings.Builder
	p.RenderDiffFromOrig(&b, exprtree.RenameMap{})
	return b.String()
}

// SHA1 returns the hex SHA1 of the difference between the current
// state and the original state. Identical runs over identical name
// supplies hash identically.
func (p *Policy) SHA1() string {
	sum := sha1.Sum([]byte(p.DiffString()))
	return fmt.Sprintf("%x", sum)
}

// OnStack reports whether the given address exists among the current
// memory cells and is provably at or above the stack pointer. The
// stack pointer need not be known: an address structurally equal to it
// qualifies. Symbolic addresses that cannot be related to the stack
// pointer conservatively report false.
func (p *Policy) OnStack(addr exprtree.Value) bool {
	found := false
	for _, c := range p.cur.Mem {
		if c.Address.EqualTo(addr) {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	sp := p.cur.GPRs[x86.GPRSP]
	if addr.EqualTo(sp) {
		return true
	}
	if addr.IsKnown() && sp.IsKnown() {
		return addr.Known() >= sp.Known()
	}
	return false
}
