package exprtree

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Node is one vertex of an expression tree. A node is immutable once it
// is reachable from more than one Value or memory cell, so trees may
// share subtrees freely; sharing is reference-style with no single
// owner.
type Node interface {
	// Width returns the number of significant bits.
	Width() uint

	// IsKnown reports whether the node itself is a constant leaf. It
	// does not fold: a compound expression over constants is not known.
	IsKnown() bool

	// Known returns the constant value, masked to the node width. It
	// panics unless IsKnown.
	Known() uint64

	// EqualTo reports structural equality. It proves equality only:
	// terms that are equal after algebraic rewriting (a+b vs b+a) are
	// not recognized.
	EqualTo(Node) bool

	// Hash is a structural fingerprint: EqualTo nodes hash equal.
	Hash() uint64

	// Render writes a human-readable form. A non-nil rename map
	// rewrites variable identities to compact sequential names.
	Render(b *strings.Builder, rmap RenameMap)

	node()
}

// RenameMap rewrites variable identities to short sequential display
// names while rendering. Entries are added on first use.
type RenameMap map[uint64]uint64

func (rm RenameMap) displayName(id uint64) uint64 {
	if n, ok := rm[id]; ok {
		return n
	}
	n := uint64(len(rm))
	rm[id] = n
	return n
}

// Format renders a node to a string using the given rename map.
func Format(n Node, rmap RenameMap) string {
	var b strings.Builder
	n.Render(&b, rmap)
	return b.String()
}

// NameSupply hands out fresh variable identities. Each analysis run
// owns its own supply, so runs are reproducible and independent.
type NameSupply struct {
	next uint64
}

func NewNameSupply() *NameSupply {
	return &NameSupply{}
}

// Fresh returns an identity never returned before by this supply.
func (s *NameSupply) Fresh() uint64 {
	id := s.next
	s.next++
	return id
}

const maxWidth = 64

func checkWidth(nbits uint) {
	if nbits == 0 || nbits > maxWidth {
		panic(fmt.Sprintf("exprtree: node width %d out of range [1,%d]", nbits, maxWidth))
	}
}

// Mask returns the bit mask for an nbits-wide value.
func Mask(nbits uint) uint64 {
	checkWidth(nbits)
	return ^uint64(0) >> (64 - nbits)
}

/*
 * Leaf
 */

// Leaf is either a known constant or a free variable. A variable has no
// numeric value, only an identity; two variables are equal only if
// their identities match.
type Leaf struct {
	nbits uint
	known bool
	bits  uint64 // constant value when known, variable identity otherwise
	hash  uint64
}

// NewInteger creates a constant leaf; the value is truncated to nbits.
func NewInteger(nbits uint, v uint64) *Leaf {
	checkWidth(nbits)
	l := &Leaf{nbits: nbits, known: true, bits: v & Mask(nbits)}
	l.hash = hashLeaf(l)
	return l
}

// NewVariable creates a variable leaf with a fresh identity.
func NewVariable(supply *NameSupply, nbits uint) *Leaf {
	checkWidth(nbits)
	l := &Leaf{nbits: nbits, known: false, bits: supply.Fresh()}
	l.hash = hashLeaf(l)
	return l
}

func (l *Leaf) node() {}

func (l *Leaf) Width() uint { return l.nbits }

func (l *Leaf) IsKnown() bool { return l.known }

func (l *Leaf) Known() uint64 {
	if !l.known {
		panic("exprtree: Known() called on a variable leaf")
	}
	return l.bits
}

// Name returns the variable identity. It panics on a constant leaf.
func (l *Leaf) Name() uint64 {
	if l.known {
		panic("exprtree: Name() called on a constant leaf")
	}
	return l.bits
}

func (l *Leaf) Hash() uint64 { return l.hash }

func (l *Leaf) EqualTo(other Node) bool {
	o, ok := other.(*Leaf)
	if !ok {
		return false
	}
	return l.nbits == o.nbits && l.known == o.known && l.bits == o.bits
}

func (l *Leaf) Render(b *strings.Builder, rmap RenameMap) {
	if l.known {
		fmt.Fprintf(b, "0x%x[%d]", l.bits, l.nbits)
		return
	}
	name := l.bits
	if rmap != nil {
		name = rmap.displayName(l.bits)
	}
	fmt.Fprintf(b, "v%d[%d]", name, l.nbits)
}

func (l *Leaf) String() string { return Format(l, nil) }

/*
 * Interior
 */

// Interior is an operator-tagged node with 1 to 3 ordered children.
// Child widths are operator-specific and need not equal the node width.
type Interior struct {
	nbits    uint
	op       Op
	children []Node
	hash     uint64
}

// NewInterior creates an interior node. All children must be non-nil.
func NewInterior(nbits uint, op Op, children ...Node) *Interior {
	checkWidth(nbits)
	if len(children) < 1 || len(children) > 3 {
		panic(fmt.Sprintf("exprtree: %s node with %d children", op, len(children)))
	}
	for _, c := range children {
		if c == nil {
			panic(fmt.Sprintf("exprtree: %s node with nil child", op))
		}
	}
	n := &Interior{nbits: nbits, op: op, children: children}
	n.hash = hashInterior(n)
	return n
}

func (n *Interior) node() {}

func (n *Interior) Width() uint { return n.nbits }

// IsKnown is always false: a known result would have been folded to a
// leaf by the value builders.
func (n *Interior) IsKnown() bool { return false }

func (n *Interior) Known() uint64 {
	panic("exprtree: Known() called on an interior node")
}

func (n *Interior) Op() Op { return n.op }

func (n *Interior) Arity() int { return len(n.children) }

func (n *Interior) Child(i int) Node { return n.children[i] }

func (n *Interior) Hash() uint64 { return n.hash }

func (n *Interior) EqualTo(other Node) bool {
	o, ok := other.(*Interior)
	if !ok {
		return false
	}
	if n.hash != o.hash {
		return false
	}
	if n.nbits != o.nbits || n.op != o.op || len(n.children) != len(o.children) {
		return false
	}
	for i := range n.children {
		if !n.children[i].EqualTo(o.children[i]) {
			return false
		}
	}
	return true
}

func (n *Interior) Render(b *strings.Builder, rmap RenameMap) {
	fmt.Fprintf(b, "(%s[%d]", n.op, n.nbits)
	for _, c := range n.children {
		b.WriteByte(' ')
		c.Render(b, rmap)
	}
	b.WriteByte(')')
}

func (n *Interior) String() string { return Format(n, nil) }

/*
 * Hashing
 *
 * Hashes are computed once at construction over structural content, so
 * EqualTo nodes always hash equal and a hash mismatch is a sound fast
 * negative during comparison.
 */

func hashLeaf(l *Leaf) uint64 {
	var raw [17]byte
	if l.known {
		raw[0] = 1
	} else {
		raw[0] = 2
	}
	binary.BigEndian.PutUint64(raw[1:], uint64(l.nbits))
	binary.BigEndian.PutUint64(raw[9:], l.bits)
	return xxhash.Sum64(raw[:])
}

func hashInterior(n *Interior) uint64 {
	h := xxhash.New()
	var raw [8]byte
	raw[0] = 3
	_, _ = h.Write(raw[:1])
	binary.BigEndian.PutUint64(raw[:], uint64(n.nbits))
	_, _ = h.Write(raw[:])
	binary.BigEndian.PutUint64(raw[:], uint64(n.op))
	_, _ = h.Write(raw[:])
	for _, c := range n.children {
		binary.BigEndian.PutUint64(raw[:], c.Hash())
		_, _ = h.Write(raw[:])
	}
	return h.Sum64()
}
