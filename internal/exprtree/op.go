package exprtree

// Op tags interior nodes of the expression tree. Operators that take a
// shift/rotate amount or bit bound put it before the bit vector they
// operate on, which keeps the rendered output readable since that
// operand is usually a constant.
type Op int

const (
	OpAdd     Op = iota // one or more operands, all the same width
	OpAnd               // boolean AND, 1-bit operands; see OpBvAnd
	OpAsr               // arithmetic shift right; B shifted by A bits
	OpBvAnd             // bitwise AND
	OpBvOr              // bitwise OR
	OpBvXor             // bitwise XOR
	OpConcat            // concatenation; operand A is the low-order part
	OpEq                // equality, two operands of equal width
	OpExtract           // bits [A..B) of C
	OpInvert            // bitwise inversion, one operand
	OpIte               // if-then-else; A is one bit, returns B or C
	OpLssb              // least significant set bit or zero
	OpMssb              // most significant set bit or zero
	OpNe                // inequality, two operands of equal width
	OpNegate            // arithmetic negation
	OpNoop              // placeholder, never produced by a builder
	OpOr                // boolean OR, 1-bit operands; see OpBvOr
	OpRol               // rotate B left by A bits
	OpRor               // rotate B right by A bits
	OpSdiv              // signed A/B, result width(A)
	OpSextend           // extend B to A bits replicating the sign bit
	OpShl0              // shift B left by A bits, zeros at lsb
	OpShl1              // shift B left by A bits, ones at lsb
	OpShr0              // shift B right by A bits, zeros at msb
	OpShr1              // shift B right by A bits, ones at msb
	OpSmod              // signed A%B, result width(B)
	OpSmul              // signed A*B, result width(A)+width(B)
	OpUdiv              // unsigned A/B, result width(A)
	OpUextend           // extend B to A bits with zeros at the msb
	OpUmod              // unsigned A%B, result width(B)
	OpUmul              // unsigned A*B, result width(A)+width(B)
	OpZerop             // one bit, set iff A equals zero
)

var opNames = []string{
	OpAdd:     "add",
	OpAnd:     "and",
	OpAsr:     "asr",
	OpBvAnd:   "bv-and",
	OpBvOr:    "bv-or",
	OpBvXor:   "bv-xor",
	OpConcat:  "concat",
	OpEq:      "eq",
	OpExtract: "extract",
	OpInvert:  "invert",
	OpIte:     "ite",
	OpLssb:    "lssb",
	OpMssb:    "mssb",
	OpNe:      "ne",
	OpNegate:  "negate",
	OpNoop:    "noop",
	OpOr:      "or",
	OpRol:     "rol",
	OpRor:     "ror",
	OpSdiv:    "sdiv",
	OpSextend: "sextend",
	OpShl0:    "shl0",
	OpShl1:    "shl1",
	OpShr0:    "shr0",
	OpShr1:    "shr1",
	OpSmod:    "smod",
	OpSmul:    "smul",
	OpUdiv:    "udiv",
	OpUextend: "uextend",
	OpUmod:    "umod",
	OpUmul:    "umul",
	OpZerop:   "zerop",
}

func (o Op) String() string {
	if int(o) < 0 || int(o) >= len(opNames) {
		return "invalid-op"
	}
	return opNames[o]
}
