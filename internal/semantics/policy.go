// Package semantics models the effect of x86 instructions on an
// abstract machine state whose registers, flags and memory hold
// symbolic expression trees instead of concrete values. An external
// per-opcode dispatcher drives a Policy through the
// StartInstruction / operation callbacks / FinishInstruction protocol
// once per decoded instruction; the policy is good for one basic
// block's worth of state.
package semantics

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"gsym/internal/exprtree"
	"gsym/internal/x86"
)

// RefType classifies a memory address relative to the stack and frame
// pointers. See Policy.MemoryReferenceType.
type RefType int

const (
	RefStackPtr RefType = iota
	RefFramePtr
	RefOther
)

// Policy owns the original/current state pair and implements every
// semantic operation the instruction dispatcher invokes. A policy
// instance belongs to exactly one analysis run and is not safe for
// concurrent use: even reads may append lazily materialized memory
// cells. Expression nodes themselves are immutable and may be shared
// read-only across policies.
type Policy struct {
	vars *exprtree.NameSupply

	// cur is mutated by every processed instruction. orig is the
	// lazily populated snapshot of the machine before analysis began:
	// it is synchronized to cur by the constructor and again by the
	// first StartInstruction, so registers may be pre-seeded through
	// the normal write operations, and afterwards it is only appended
	// to as reads discover previously unrecorded addresses.
	cur  *State
	orig *State

	// curInsn is valid only between StartInstruction and
	// FinishInstruction.
	curInsn *x86.Instruction
	ninsns  int

	// discardPoppedMemory makes writes assume that stack-, frame- and
	// otherwise-referenced memory never alias each other, and requests
	// the (unimplemented) below-stack discard after each instruction.
	discardPoppedMemory bool
}

// NewPolicy creates a policy with a fresh, fully symbolic machine
// state. The original state starts out holding the same named values
// as the current state.
func NewPolicy() *Policy {
	vars := exprtree.NewNameSupply()
	p := &Policy{vars: vars, cur: NewState(vars)}
	p.orig = p.cur.Clone()
	return p
}

// State returns the current state.
func (p *Policy) State() *State { return p.cur }

// OrigState returns the original state.
func (p *Policy) OrigState() *State { return p.orig }

// IP returns the current instruction pointer.
func (p *Policy) IP() exprtree.Value { return p.cur.IP }

// OrigIP returns the original instruction pointer.
func (p *Policy) OrigIP() exprtree.Value { return p.orig.IP }

// SetDiscardPoppedMemory changes how the policy treats the stack.
func (p *Policy) SetDiscardPoppedMemory(b bool) { p.discardPoppedMemory = b }

// DiscardPoppedMemory returns the current stack-treatment setting.
func (p *Policy) DiscardPoppedMemory() bool { return p.discardPoppedMemory }

/*
 * Memory protocol.
 */

// MemRead reads nbits of memory at addr, giving a stable answer:
// absent intervening writes that may clobber the location, repeated
// reads of one address return the identical symbolic value. Although
// logically a query, MemRead may extend both the given state and the
// original state: the first touch of an address materializes the named
// value that address held from the start of the run.
//
// It is safe to pass the policy's original state as the state argument.
func (p *Policy) MemRead(state *State, addr exprtree.Value, nbits uint) exprtree.Value {
	cell := NewMemoryCell(addr, exprtree.NewUnknown(p.vars, 32), int(nbits/8))
	aliased := false // is the cell aliased by any existing write?

	for i := range state.Mem {
		mi := &state.Mem[i]
		if cell.MustAlias(*mi) {
			if mi.Clobbered {
				// A prior write may have changed this location but we
				// never recorded what to. This read pins down a fresh
				// value and the cell is trustworthy again.
				mi.Clobbered = false
				mi.Data = cell.Data
				return exprtree.UnsignedExtend(cell.Data, nbits)
			}
			return exprtree.UnsignedExtend(mi.Data, nbits)
		}
		if cell.MayAlias(*mi) && mi.Written {
			aliased = true
		}
	}

	if !aliased && state != p.orig {
		// The address is not in the given state and no write there
		// aliases it, so the original state is the source of truth:
		// reuse its cell if present, otherwise remember that this
		// address held the fresh value from the very start.
		for i := range p.orig.Mem {
			mi := &p.orig.Mem[i]
			if cell.MustAlias(*mi) {
				if mi.Clobbered || mi.Written {
					panic("semantics: original state has a clobbered or written cell")
				}
				state.Mem = append(state.Mem, *mi)
				return exprtree.UnsignedExtend(mi.Data, nbits)
			}
		}
		p.orig.Mem = append(p.orig.Mem, cell)
	}

	state.Mem = append(state.Mem, cell)
	return exprtree.UnsignedExtend(cell.Data, nbits)
}

// MemoryReferenceType determines whether addr is related to the
// current stack or frame pointer. The intended heuristic, comparing
// the address identity against the stack/frame register's symbolic
// name, is not implemented yet; every address classifies as RefOther
// and callers must not rely on the distinction.
func (p *Policy) MemoryReferenceType(state *State, addr exprtree.Value) RefType {
	// if addr is state.GPRs[x86.GPRSP] -> RefStackPtr
	// if addr is state.GPRs[x86.GPRBP] -> RefFramePtr
	_ = state
	_ = addr
	return RefOther
}

// MemWrite writes nbits of data to addr in the given state. A write
// through a provably identical address replaces that cell in place; a
// write through an address that cannot be proven disjoint clobbers
// every possibly-overlapping cell. Writing to the original state is a
// caller defect.
func (p *Policy) MemWrite(state *State, addr, data exprtree.Value, nbits uint) {
	if state == p.orig {
		panic("semantics: MemWrite on the original state")
	}
	if data.Width() != nbits {
		panic(fmt.Sprintf("semantics: MemWrite %d-bit data for a %d-bit access", data.Width(), nbits))
	}
	cell := NewMemoryCell(addr, exprtree.UnsignedExtend(data, 32), int(nbits/8))
	cell.Written = true
	saved := false

	mrt := p.MemoryReferenceType(state, addr)
	for i := range state.Mem {
		mi := &state.Mem[i]
		switch {
		case cell.MustAlias(*mi):
			*mi = cell
			saved = true
		case p.discardPoppedMemory && mrt != p.MemoryReferenceType(state, mi.Address):
			// Memory referenced through the stack pointer is assumed
			// not to alias memory referenced through the frame
			// pointer, and neither aliases anything else.
		case cell.MayAlias(*mi):
			mi.Clobbered = true
		}
	}
	if !saved {
		state.Mem = append(state.Mem, cell)
	}
}

// MemoryForEquality returns the memory cells that matter for a
// semantic comparison of the state: cells holding an explicitly
// written, still-trustworthy value. Cells that were only read, and
// clobber markers whose value was never re-derived, are stripped.
func (p *Policy) MemoryForEquality(state *State) Memory {
	out := make(Memory, 0, len(state.Mem))
	for _, c := range state.Mem {
		if c.Written && !c.Clobbered {
			out = append(out, c)
		}
	}
	return out
}

// EqualStates compares two states: register files, flags, and the
// filtered memory views must match. Memory that has only been read
// does not participate.
func (p *Policy) EqualStates(a, b *State) bool {
	if !a.EqualRegisters(b) {
		return false
	}
	ma, mb := p.MemoryForEquality(a), p.MemoryForEquality(b)
	for _, c := range ma {
		if !mb.Contains(c) {
			return false
		}
	}
	for _, c := range mb {
		if !ma.Contains(c) {
			return false
		}
	}
	return true
}

/*
 * Instruction protocol, driven once per decoded instruction.
 */

// StartInstruction begins processing an instruction: the instruction
// pointer advances to the instruction's address, and the very first
// call snapshots the current state as the original state.
func (p *Policy) StartInstruction(insn *x86.Instruction) {
	log.Debugf("start instruction %s", insn)
	p.cur.IP = exprtree.NewNumber(32, insn.Address)
	if p.ninsns == 0 {
		p.orig = p.cur.Clone()
	}
	p.ninsns++
	p.curInsn = insn
}

// FinishInstruction ends processing of the instruction started last.
func (p *Policy) FinishInstruction(insn *x86.Instruction) {
	if p.discardPoppedMemory {
		p.cur.DiscardPoppedMemory()
	}
	_ = insn
	p.curInsn = nil
}

// InsnCount returns how many instructions have been started.
func (p *Policy) InsnCount() int { return p.ninsns }

/*
 * Value constructors.
 */

// True_ returns the known 1-bit value 1.
func (p *Policy) True_() exprtree.Value { return exprtree.NewNumber(1, 1) }

// False_ returns the known 1-bit value 0.
func (p *Policy) False_() exprtree.Value { return exprtree.NewNumber(1, 0) }

// Undefined_ returns a fresh unconstrained 1-bit value.
func (p *Policy) Undefined_() exprtree.Value { return exprtree.NewUnknown(p.vars, 1) }

// Number builds a known constant of the given width.
func (p *Policy) Number(nbits uint, v uint64) exprtree.Value {
	return exprtree.NewNumber(nbits, v)
}

// Unknown builds a fresh unconstrained value of the given width.
func (p *Policy) Unknown(nbits uint) exprtree.Value {
	return exprtree.NewUnknown(p.vars, nbits)
}

/*
 * Per-instruction hooks.
 */

// FilterCallTarget is called for CALL targets before the IP changes.
func (p *Policy) FilterCallTarget(a exprtree.Value) exprtree.Value { return a }

// FilterReturnTarget is called for RET targets before the IP changes.
func (p *Policy) FilterReturnTarget(a exprtree.Value) exprtree.Value { return a }

// FilterIndirectJumpTarget is called for JMP targets before the IP
// changes.
func (p *Policy) FilterIndirectJumpTarget(a exprtree.Value) exprtree.Value { return a }

// Hlt is called for the HLT instruction.
func (p *Policy) Hlt() {}

// Rdtsc is called for the RDTSC instruction and models a fixed zero
// counter.
func (p *Policy) Rdtsc() exprtree.Value {
	return exprtree.NewNumber(64, 0)
}

// Interrupt is called for the INT instruction and resets the entire
// current state to fresh unconstrained values.
func (p *Policy) Interrupt(num uint8) {
	log.Debugf("interrupt 0x%02x resets machine state", num)
	p.cur = NewState(p.vars)
}

/*
 * Register, flag and memory access.
 */

// ReadGPR returns the value of a 32-bit general-purpose register.
func (p *Policy) ReadGPR(r x86.GPR) exprtree.Value { return p.cur.GPRs[r] }

// WriteGPR places a value in a 32-bit general-purpose register.
func (p *Policy) WriteGPR(r x86.GPR, v exprtree.Value) {
	if v.Width() != 32 {
		panic(fmt.Sprintf("semantics: WriteGPR with %d-bit value", v.Width()))
	}
	p.cur.GPRs[r] = v
}

// ReadSegreg returns the value of a 16-bit segment register.
func (p *Policy) ReadSegreg(sr x86.Segreg) exprtree.Value { return p.cur.Segregs[sr] }

// WriteSegreg places a value in a 16-bit segment register.
func (p *Policy) WriteSegreg(sr x86.Segreg, v exprtree.Value) {
	if v.Width() != 16 {
		panic(fmt.Sprintf("semantics: WriteSegreg with %d-bit value", v.Width()))
	}
	p.cur.Segregs[sr] = v
}

// ReadIP returns the instruction pointer as it is during execution of
// the current instruction.
func (p *Policy) ReadIP() exprtree.Value { return p.cur.IP }

// WriteIP changes the instruction pointer.
func (p *Policy) WriteIP(v exprtree.Value) {
	if v.Width() != 32 {
		panic(fmt.Sprintf("semantics: WriteIP with %d-bit value", v.Width()))
	}
	p.cur.IP = v
}

// ReadFlag returns the value of one control/status flag bit.
func (p *Policy) ReadFlag(f x86.Flag) exprtree.Value { return p.cur.Flags[f] }

// WriteFlag changes the value of one control/status flag bit.
func (p *Policy) WriteFlag(f x86.Flag, v exprtree.Value) {
	if v.Width() != 1 {
		panic(fmt.Sprintf("semantics: WriteFlag with %d-bit value", v.Width()))
	}
	p.cur.Flags[f] = v
}

// ReadMemory reads nbits from memory. The segment register and the
// condition bit are accepted for protocol compatibility and ignored.
func (p *Policy) ReadMemory(sr x86.Segreg, addr exprtree.Value, cond exprtree.Value, nbits uint) exprtree.Value {
	_ = sr
	_ = cond
	return p.MemRead(p.cur, addr, nbits)
}

// WriteMemory writes nbits to memory. The segment register and the
// condition bit are accepted for protocol compatibility and ignored.
func (p *Policy) WriteMemory(sr x86.Segreg, addr, data exprtree.Value, cond exprtree.Value, nbits uint) {
	_ = sr
	_ = cond
	p.MemWrite(p.cur, addr, data, nbits)
}

/*
 * Arithmetic and logic. These delegate to the exprtree builders so
 * the dispatcher sees one flat operation surface.
 */

func (p *Policy) Add(a, b exprtree.Value) exprtree.Value { return exprtree.Add(a, b) }

func (p *Policy) AddWithCarries(a, b, c exprtree.Value) (exprtree.Value, exprtree.Value) {
	return exprtree.AddWithCarries(a, b, c)
}

func (p *Policy) And(a, b exprtree.Value) exprtree.Value { return exprtree.And(a, b) }

func (p *Policy) Or(a, b exprtree.Value) exprtree.Value { return exprtree.Or(a, b) }

func (p *Policy) Xor(a, b exprtree.Value) exprtree.Value { return exprtree.Xor(a, b) }

func (p *Policy) Invert(a exprtree.Value) exprtree.Value { return exprtree.Invert(a) }

func (p *Policy) Negate(a exprtree.Value) exprtree.Value { return exprtree.Negate(a) }

func (p *Policy) EqualToZero(a exprtree.Value) exprtree.Value { return exprtree.EqualToZero(a) }

func (p *Policy) Concat(a, b exprtree.Value) exprtree.Value { return exprtree.Concat(a, b) }

func (p *Policy) Ite(sel, t, f exprtree.Value) exprtree.Value { return exprtree.Ite(sel, t, f) }

func (p *Policy) LeastSignificantSetBit(a exprtree.Value) exprtree.Value {
	return exprtree.LeastSignificantSetBit(a)
}

func (p *Policy) MostSignificantSetBit(a exprtree.Value) exprtree.Value {
	return exprtree.MostSignificantSetBit(a)
}

func (p *Policy) RotateLeft(a, sa exprtree.Value) exprtree.Value { return exprtree.RotateLeft(a, sa) }

func (p *Policy) RotateRight(a, sa exprtree.Value) exprtree.Value { return exprtree.RotateRight(a, sa) }

func (p *Policy) ShiftLeft(a, sa exprtree.Value) exprtree.Value { return exprtree.ShiftLeft(a, sa) }

func (p *Policy) ShiftRight(a, sa exprtree.Value) exprtree.Value { return exprtree.ShiftRight(a, sa) }

func (p *Policy) ShiftRightArithmetic(a, sa exprtree.Value) exprtree.Value {
	return exprtree.ShiftRightArithmetic(a, sa)
}

func (p *Policy) SignExtend(a exprtree.Value, nbits uint) exprtree.Value {
	return exprtree.SignedExtend(a, nbits)
}

func (p *Policy) UnsignedExtend(a exprtree.Value, nbits uint) exprtree.Value {
	return exprtree.UnsignedExtend(a, nbits)
}

func (p *Policy) Extract(a exprtree.Value, begin, end uint) exprtree.Value {
	return exprtree.Extract(a, begin, end)
}

func (p *Policy) SignedDivide(a, b exprtree.Value) exprtree.Value {
	return exprtree.SignedDivide(a, b)
}

func (p *Policy) SignedModulo(a, b exprtree.Value) exprtree.Value {
	return exprtree.SignedModulo(a, b)
}

func (p *Policy) SignedMultiply(a, b exprtree.Value) exprtree.Value {
	return exprtree.SignedMultiply(a, b)
}

func (p *Policy) UnsignedDivide(a, b exprtree.Value) exprtree.Value {
	return exprtree.UnsignedDivide(a, b)
}

func (p *Policy) UnsignedModulo(a, b exprtree.Value) exprtree.Value {
	return exprtree.UnsignedModulo(a, b)
}

func (p *Policy) UnsignedMultiply(a, b exprtree.Value) exprtree.Value {
	return exprtree.UnsignedMultiply(a, b)
}
