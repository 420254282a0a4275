// Package x86 holds the register, segment and flag enumerations of the
// modeled 32-bit machine, plus the instruction handle the dispatcher
// passes around.
package x86

import "fmt"

// GPR identifies one of the eight 32-bit general-purpose registers, in
// hardware encoding order.
type GPR int

const (
	GPRAX GPR = iota
	GPRCX
	GPRDX
	GPRBX
	GPRSP
	GPRBP
	GPRSI
	GPRDI

	NumGPRs = 8
)

var gprNames = []string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

func (r GPR) String() string {
	if int(r) < 0 || int(r) >= len(gprNames) {
		return fmt.Sprintf("gpr%d", int(r))
	}
	return gprNames[r]
}

// Segreg identifies one of the six 16-bit segment registers.
type Segreg int

const (
	SegES Segreg = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS

	NumSegregs = 6
)

var segregNames = []string{"es", "cs", "ss", "ds", "fs", "gs"}

func (sr Segreg) String() string {
	if int(sr) < 0 || int(sr) >= len(segregNames) {
		return fmt.Sprintf("segreg%d", int(sr))
	}
	return segregNames[sr]
}

// Flag identifies a bit of the EFLAGS register. Reserved bits have no
// name and render positionally.
type Flag int

const (
	FlagCF Flag = 0
	FlagPF Flag = 2
	FlagAF Flag = 4
	FlagZF Flag = 6
	FlagSF Flag = 7
	FlagTF Flag = 8
	FlagIF Flag = 9
	FlagDF Flag = 10
	FlagOF Flag = 11
	FlagNT Flag = 14

	NumFlags = 16
)

var flagNames = map[Flag]string{
	FlagCF: "cf",
	FlagPF: "pf",
	FlagAF: "af",
	FlagZF: "zf",
	FlagSF: "sf",
	FlagTF: "tf",
	FlagIF: "if",
	FlagDF: "df",
	FlagOF: "of",
	12:     "iopl0",
	13:     "iopl1",
	FlagNT: "nt",
}

func (f Flag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("f%d", int(f))
}

// Instruction is the opaque handle the dispatcher hands to
// StartInstruction and FinishInstruction. The engine reads only the
// address; the mnemonic is carried for logging.
type Instruction struct {
	Address  uint64
	Mnemonic string
}

func (i *Instruction) String() string {
	return fmt.Sprintf("0x%08x %s", i.Address, i.Mnemonic)
}
