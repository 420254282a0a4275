package exprtree

import (
	"fmt"
)

// Value binds an expression tree to a fixed bit width. It is "known"
// when its root node is a constant leaf and "symbolic" otherwise.
type Value struct {
	expr Node
}

// NewUnknown creates a value holding a fresh variable. Every call
// produces a distinct identity, so unconstrained reads are provably
// distinct unless explicitly copied.
func NewUnknown(supply *NameSupply, nbits uint) Value {
	return Value{expr: NewVariable(supply, nbits)}
}

// NewNumber creates a known value, truncated to nbits.
func NewNumber(nbits uint, v uint64) Value {
	return Value{expr: NewInteger(nbits, v)}
}

// NewValue wraps an existing node.
func NewValue(node Node) Value {
	if node == nil {
		panic("exprtree: NewValue(nil)")
	}
	return Value{expr: node}
}

func (v Value) Width() uint { return v.expr.Width() }

func (v Value) Node() Node { return v.expr }

// IsKnown reflects only the root node kind, not deep folding.
func (v Value) IsKnown() bool { return v.expr.IsKnown() }

// Known returns the constant value; panics if the value is symbolic.
func (v Value) Known() uint64 { return v.expr.Known() }

func (v Value) EqualTo(o Value) bool { return v.expr.EqualTo(o.expr) }

func (v Value) Hash() uint64 { return v.expr.Hash() }

func (v Value) String() string { return Format(v.expr, nil) }

// Valid reports whether the value was properly constructed. The zero
// Value is invalid; state slots must be initialized explicitly.
func (v Value) Valid() bool { return v.expr != nil }

func sameWidth(who string, a, b Value) {
	if a.Width() != b.Width() {
		panic(fmt.Sprintf("exprtree: %s operand widths %d and %d differ", who, a.Width(), b.Width()))
	}
}

func oneBit(who string, v Value) {
	if v.Width() != 1 {
		panic(fmt.Sprintf("exprtree: %s wants a 1-bit operand, got %d", who, v.Width()))
	}
}

/*
 * Builders. Folding is applied only where it is cheap and where later
 * peephole reasoning benefits most: addition and width changes, i.e.
 * stack-pointer and address arithmetic. Everything else builds a node
 * unconditionally.
 */

// Add adds two values of equal width. Known operands fold to a masked
// constant; adding a known zero returns the other operand unchanged,
// node identity included.
func Add(a, b Value) Value {
	sameWidth("add", a, b)
	if a.IsKnown() {
		if b.IsKnown() {
			return NewNumber(a.Width(), a.Known()+b.Known())
		}
		if a.Known() == 0 {
			return b
		}
	} else if b.IsKnown() && b.Known() == 0 {
		return a
	}
	return NewValue(NewInterior(a.Width(), OpAdd, a.expr, b.expr))
}

// AddWithCarries adds two equal-width values and a carry bit. The
// second result holds the per-bit carries out of each position, the
// tick marks of long addition.
func AddWithCarries(a, b, c Value) (sum, carryOut Value) {
	sameWidth("addWithCarries", a, b)
	oneBit("addWithCarries", c)
	n := a.Width()
	aa := UnsignedExtend(a, n+1)
	bb := UnsignedExtend(b, n+1)
	cc := UnsignedExtend(c, n+1)
	sumco := Add(aa, Add(bb, cc))
	carryOut = Extract(Xor(aa, Xor(bb, sumco)), 1, n+1)
	sum = Add(a, Add(b, UnsignedExtend(c, n)))
	return sum, carryOut
}

// And computes the bitwise AND of two equal-width values.
func And(a, b Value) Value {
	sameWidth("and", a, b)
	return NewValue(NewInterior(a.Width(), OpBvAnd, a.expr, b.expr))
}

// Or computes the bitwise OR of two equal-width values.
func Or(a, b Value) Value {
	sameWidth("or", a, b)
	return NewValue(NewInterior(a.Width(), OpBvOr, a.expr, b.expr))
}

// Xor computes the bitwise XOR of two equal-width values.
func Xor(a, b Value) Value {
	sameWidth("xor", a, b)
	return NewValue(NewInterior(a.Width(), OpBvXor, a.expr, b.expr))
}

// BoolAnd computes the boolean AND of two 1-bit values.
func BoolAnd(a, b Value) Value {
	oneBit("boolAnd", a)
	oneBit("boolAnd", b)
	return NewValue(NewInterior(1, OpAnd, a.expr, b.expr))
}

// BoolOr computes the boolean OR of two 1-bit values.
func BoolOr(a, b Value) Value {
	oneBit("boolOr", a)
	oneBit("boolOr", b)
	return NewValue(NewInterior(1, OpOr, a.expr, b.expr))
}

// Eq compares two equal-width values for equality, yielding one bit.
func Eq(a, b Value) Value {
	sameWidth("eq", a, b)
	return NewValue(NewInterior(1, OpEq, a.expr, b.expr))
}

// Ne compares two equal-width values for inequality, yielding one bit.
func Ne(a, b Value) Value {
	sameWidth("ne", a, b)
	return NewValue(NewInterior(1, OpNe, a.expr, b.expr))
}

// EqualToZero yields a bit that is set iff the operand is zero.
func EqualToZero(a Value) Value {
	return NewValue(NewInterior(1, OpZerop, a.expr))
}

// Invert computes the one's complement; known operands fold.
func Invert(a Value) Value {
	if a.IsKnown() {
		return NewNumber(a.Width(), ^a.Known())
	}
	return NewValue(NewInterior(a.Width(), OpInvert, a.expr))
}

// Negate computes the two's complement.
func Negate(a Value) Value {
	return NewValue(NewInterior(a.Width(), OpNegate, a.expr))
}

// Concat places b in the high-order bits and a in the low-order bits.
func Concat(a, b Value) Value {
	return NewValue(NewInterior(a.Width()+b.Width(), OpConcat, a.expr, b.expr))
}

// Ite returns the second or third operand depending on the 1-bit
// selector.
func Ite(sel, ifTrue, ifFalse Value) Value {
	oneBit("ite", sel)
	sameWidth("ite", ifTrue, ifFalse)
	return NewValue(NewInterior(ifTrue.Width(), OpIte, sel.expr, ifTrue.expr, ifFalse.expr))
}

// LeastSignificantSetBit yields the position of the lowest set bit,
// zero when no bits are set.
func LeastSignificantSetBit(a Value) Value {
	return NewValue(NewInterior(a.Width(), OpLssb, a.expr))
}

// MostSignificantSetBit yields the position of the highest set bit,
// zero when no bits are set.
func MostSignificantSetBit(a Value) Value {
	return NewValue(NewInterior(a.Width(), OpMssb, a.expr))
}

// RotateLeft rotates a left by sa bits.
func RotateLeft(a, sa Value) Value {
	return NewValue(NewInterior(a.Width(), OpRol, sa.expr, a.expr))
}

// RotateRight rotates a right by sa bits.
func RotateRight(a, sa Value) Value {
	return NewValue(NewInterior(a.Width(), OpRor, sa.expr, a.expr))
}

// ShiftLeft shifts a left by sa bits, introducing zeros.
func ShiftLeft(a, sa Value) Value {
	return NewValue(NewInterior(a.Width(), OpShl0, sa.expr, a.expr))
}

// ShiftRight shifts a right by sa bits, introducing zeros.
func ShiftRight(a, sa Value) Value {
	return NewValue(NewInterior(a.Width(), OpShr0, sa.expr, a.expr))
}

// ShiftRightArithmetic shifts a right by sa bits, replicating the sign
// bit.
func ShiftRightArithmetic(a, sa Value) Value {
	return NewValue(NewInterior(a.Width(), OpAsr, sa.expr, a.expr))
}

// SignedDivide divides a by b; the result has a's width.
func SignedDivide(a, b Value) Value {
	return NewValue(NewInterior(a.Width(), OpSdiv, a.expr, b.expr))
}

// SignedModulo computes a mod b; the result has b's width.
func SignedModulo(a, b Value) Value {
	return NewValue(NewInterior(b.Width(), OpSmod, a.expr, b.expr))
}

// SignedMultiply multiplies a and b; the result width is the sum of
// the operand widths.
func SignedMultiply(a, b Value) Value {
	return NewValue(NewInterior(a.Width()+b.Width(), OpSmul, a.expr, b.expr))
}

// UnsignedDivide divides a by b; the result has a's width.
func UnsignedDivide(a, b Value) Value {
	return NewValue(NewInterior(a.Width(), OpUdiv, a.expr, b.expr))
}

// UnsignedModulo computes a mod b; the result has b's width.
func UnsignedModulo(a, b Value) Value {
	return NewValue(NewInterior(b.Width(), OpUmod, a.expr, b.expr))
}

// UnsignedMultiply multiplies a and b; the result width is the sum of
// the operand widths.
func UnsignedMultiply(a, b Value) Value {
	return NewValue(NewInterior(a.Width()+b.Width(), OpUmul, a.expr, b.expr))
}

/*
 * Width changes.
 */

// UnsignedExtend changes a's width to nbits, adding zeros at the msb
// or truncating. A no-op change returns the identical node; a known
// operand folds to a masked constant.
func UnsignedExtend(a Value, nbits uint) Value {
	if a.IsKnown() {
		return NewNumber(nbits, a.Known()&Mask(nbits))
	}
	from := a.Width()
	if from == nbits {
		return a
	}
	if from > nbits {
		return NewValue(NewInterior(nbits, OpExtract,
			NewInteger(32, 0), NewInteger(32, uint64(nbits)), a.expr))
	}
	return NewValue(NewInterior(nbits, OpUextend, NewInteger(32, uint64(nbits)), a.expr))
}

// SignedExtend changes a's width to nbits, replicating the sign bit or
// truncating. The same folding rules as UnsignedExtend apply.
func SignedExtend(a Value, nbits uint) Value {
	from := a.Width()
	if a.IsKnown() {
		return NewNumber(nbits, signExtendConst(a.Known(), from, nbits))
	}
	if from == nbits {
		return a
	}
	if from > nbits {
		return NewValue(NewInterior(nbits, OpExtract,
			NewInteger(32, 0), NewInteger(32, uint64(nbits)), a.expr))
	}
	return NewValue(NewInterior(nbits, OpSextend, NewInteger(32, uint64(nbits)), a.expr))
}

// Extract shifts bits [begin,end) of a to the low-order positions of
// the result. Requires 0 <= begin < end <= width(a).
func Extract(a Value, begin, end uint) Value {
	if begin >= end || end > a.Width() {
		panic(fmt.Sprintf("exprtree: extract bounds [%d,%d) invalid for width %d", begin, end, a.Width()))
	}
	if begin == 0 {
		return UnsignedExtend(a, end)
	}
	if a.IsKnown() {
		return NewNumber(end-begin, a.Known()>>begin)
	}
	return NewValue(NewInterior(end-begin, OpExtract,
		NewInteger(32, uint64(begin)), NewInteger(32, uint64(end)), a.expr))
}

func signExtendConst(v uint64, from, to uint) uint64 {
	if to <= from {
		return v & Mask(to)
	}
	if v&(uint64(1)<<(from-1)) != 0 {
		v |= Mask(to) &^ Mask(from)
	}
	return v & Mask(to)
}
