package semantics

import (
	"fmt"
	"strings"

	"gsym/internal/exprtree"
	"gsym/internal/x86"
)

// State is the entire machine state: instruction pointer, register
// files, flags and the materialized memory cells.
type State struct {
	IP      exprtree.Value
	GPRs    [x86.NumGPRs]exprtree.Value
	Segregs [x86.NumSegregs]exprtree.Value
	Flags   [x86.NumFlags]exprtree.Value
	Mem     Memory
}

// NewState returns a state whose every register, flag and the
// instruction pointer hold fresh unconstrained variables.
func NewState(vars *exprtree.NameSupply) *State {
	s := &State{}
	s.IP = exprtree.NewUnknown(vars, 32)
	for i := range s.GPRs {
		s.GPRs[i] = exprtree.NewUnknown(vars, 32)
	}
	for i := range s.Segregs {
		s.Segregs[i] = exprtree.NewUnknown(vars, 16)
	}
	for i := range s.Flags {
		s.Flags[i] = exprtree.NewUnknown(vars, 1)
	}
	return s
}

// Clone copies the state. Expression nodes are shared; the memory cell
// list is copied so the clone evolves independently.
func (s *State) Clone() *State {
	out := &State{
		IP:      s.IP,
		GPRs:    s.GPRs,
		Segregs: s.Segregs,
		Flags:   s.Flags,
		Mem:     s.Mem.Clone(),
	}
	return out
}

// EqualRegisters tests the register files and flags of two states for
// structural equality. The instruction pointer is not part of the
// comparison: it necessarily differs between any two instructions.
func (s *State) EqualRegisters(o *State) bool {
	for i := range s.GPRs {
		if !s.GPRs[i].EqualTo(o.GPRs[i]) {
			return false
		}
	}
	for i := range s.Segregs {
		if !s.Segregs[i].EqualTo(o.Segregs[i]) {
			return false
		}
	}
	for i := range s.Flags {
		if !s.Flags[i].EqualTo(o.Flags[i]) {
			return false
		}
	}
	return true
}

// DiscardPoppedMemory removes memory below the current stack pointer.
// Not implemented; the policy calls it after each instruction when the
// discard-popped-memory property is set, and callers must not rely on
// any effect yet.
func (s *State) DiscardPoppedMemory() {
}

// Render writes the state in a human-friendly way.
func (s *State) Render(b *strings.Builder, rmap exprtree.RenameMap) {
	b.WriteString("  ip: ")
	s.IP.Node().Render(b, rmap)
	b.WriteByte('\n')
	for i := range s.GPRs {
		fmt.Fprintf(b, "  %s: ", x86.GPR(i))
		s.GPRs[i].Node().Render(b, rmap)
		b.WriteByte('\n')
	}
	for i := range s.Segregs {
		fmt.Fprintf(b, "  %s: ", x86.Segreg(i))
		s.Segregs[i].Node().Render(b, rmap)
		b.WriteByte('\n')
	}
	for i := range s.Flags {
		fmt.Fprintf(b, "  %s: ", x86.Flag(i))
		s.Flags[i].Node().Render(b, rmap)
		b.WriteByte('\n')
	}
	fmt.Fprintf(b, "  memory (%d cells):\n", len(s.Mem))
	for _, c := range s.Mem {
		b.WriteString("  ")
		c.Render(b, rmap)
	}
}

// RenderDiffRegisters writes the registers and flags whose values
// differ between s and o, one "name: old -> new" line each.
func (s *State) RenderDiffRegisters(b *strings.Builder, o *State, rmap exprtree.RenameMap) {
	if !s.IP.EqualTo(o.IP) {
		renderRegDiff(b, "ip", s.IP, o.IP, rmap)
	}
	for i := range s.GPRs {
		if !s.GPRs[i].EqualTo(o.GPRs[i]) {
			renderRegDiff(b, x86.GPR(i).String(), s.GPRs[i], o.GPRs[i], rmap)
		}
	}
	for i := range s.Segregs {
		if !s.Segregs[i].EqualTo(o.Segregs[i]) {
			renderRegDiff(b, x86.Segreg(i).String(), s.Segregs[i], o.Segregs[i], rmap)
		}
	}
	for i := range s.Flags {
		if !s.Flags[i].EqualTo(o.Flags[i]) {
			renderRegDiff(b, x86.Flag(i).String(), s.Flags[i], o.Flags[i], rmap)
		}
	}
}

func renderRegDiff(b *strings.Builder, name string, from, to exprtree.Value, rmap exprtree.RenameMap) {
	fmt.Fprintf(b, "  %s: ", name)
	from.Node().Render(b, rmap)
	b.WriteString(" -> ")
	to.Node().Render(b, rmap)
	b.WriteByte('\n')
}

func (s *State) String() string {
	var b strings.Builder
	s.Render(&b, nil)
	return b.String()
}
