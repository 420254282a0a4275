package semantics

import (
	"fmt"
	"strings"

	"gsym/internal/exprtree"
)

// MemoryCell is one known location of memory: an address, the 32-bit
// data recorded there and the byte count the access covered.
//
// Every memory address conceptually holds a unique named value from
// the start of the run, but materializing all of them is impossible,
// so cells are created lazily on first access. Clobbered marks a cell
// whose recorded data can no longer be trusted because a write that
// may alias it happened; the next read re-derives the value. Written
// marks a cell produced by an explicit write rather than a
// lazily-materialized read.
type MemoryCell struct {
	Address   exprtree.Value
	Data      exprtree.Value
	NBytes    int
	Clobbered bool
	Written   bool
}

// NewMemoryCell builds a cell. The address and data must be 32 bits
// wide and the byte count positive.
func NewMemoryCell(address, data exprtree.Value, nbytes int) MemoryCell {
	if nbytes <= 0 {
		panic(fmt.Sprintf("semantics: memory cell with %d bytes", nbytes))
	}
	if address.Width() != 32 {
		panic(fmt.Sprintf("semantics: memory cell address is %d bits, want 32", address.Width()))
	}
	if data.Width() != 32 {
		panic(fmt.Sprintf("semantics: memory cell data is %d bits, want 32", data.Width()))
	}
	return MemoryCell{Address: address, Data: data, NBytes: nbytes}
}

// MayAlias reports whether the two cells could possibly overlap. It
// returns false only when the ranges are provably disjoint: if either
// address is symbolic the cells are assumed to possibly alias.
func (c MemoryCell) MayAlias(other MemoryCell) bool {
	if !c.Address.IsKnown() || !other.Address.IsKnown() {
		return true
	}
	a, b := c.Address.Known(), other.Address.Known()
	if a+uint64(c.NBytes) <= b || b+uint64(other.NBytes) <= a {
		return false
	}
	return true
}

// MustAlias reports whether the two cells denote provably the same
// location: structurally equal addresses covering the same byte range.
// It is strictly stronger than MayAlias.
func (c MemoryCell) MustAlias(other MemoryCell) bool {
	return c.NBytes == other.NBytes && c.Address.EqualTo(other.Address)
}

// Render writes the cell on a single line.
func (c MemoryCell) Render(b *strings.Builder, rmap exprtree.RenameMap) {
	b.WriteString("  ")
	c.Address.Node().Render(b, rmap)
	fmt.Fprintf(b, ": %d bytes ", c.NBytes)
	c.Data.Node().Render(b, rmap)
	if c.Clobbered {
		b.WriteString(" clobbered")
	}
	if c.Written {
		b.WriteString(" written")
	}
	b.WriteByte('\n')
}

func (c MemoryCell) String() string {
	var b strings.Builder
	c.Render(&b, nil)
	return strings.TrimSuffix(b.String(), "\n")
}

// Memory is the ordered list of materialized cells. Insertion order is
// irrelevant to queries; lookups scan linearly.
type Memory []MemoryCell

// Clone copies the cell list; the expression nodes are shared.
func (m Memory) Clone() Memory {
	out := make(Memory, len(m))
	copy(out, m)
	return out
}

// Contains reports whether some cell is structurally equal to the
// given one (same address, data, byte count).
func (m Memory) Contains(c MemoryCell) bool {
	for _, mc := range m {
		if mc.NBytes == c.NBytes && mc.Address.EqualTo(c.Address) && mc.Data.EqualTo(c.Data) {
			return true
		}
	}
	return false
}
