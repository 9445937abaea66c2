package policy

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/IvanBrykalov/featcache/feature"
)

// Mask is a membership bitset over [0, vnum).
// A Mask is not safe for concurrent mutation; the cache only reads it after
// it has been built.
type Mask struct {
	bits *bitset.BitSet
	vnum int
}

// NewMask returns an empty mask sized for vnum nodes.
func NewMask(vnum int) *Mask {
	if vnum < 0 {
		vnum = 0
	}
	return &Mask{bits: bitset.New(uint(vnum)), vnum: vnum}
}

// MaskOf builds a mask with the given ids set. Ids outside [0, vnum) are ignored.
func MaskOf(vnum int, ids ...feature.NodeID) *Mask {
	m := NewMask(vnum)
	for _, id := range ids {
		m.Set(id)
	}
	return m
}

// VNum returns the size of the id space.
func (m *Mask) VNum() int { return m.vnum }

// Set marks id as a member. Out-of-range ids are ignored and reported as false.
func (m *Mask) Set(id feature.NodeID) bool {
	if id < 0 || int64(id) >= int64(m.vnum) {
		return false
	}
	m.bits.Set(uint(id))
	return true
}

// Has reports membership of id.
func (m *Mask) Has(id feature.NodeID) bool {
	if m == nil || id < 0 || int64(id) >= int64(m.vnum) {
		return false
	}
	return m.bits.Test(uint(id))
}

// Count returns the number of members.
func (m *Mask) Count() int {
	if m == nil {
		return 0
	}
	return int(m.bits.Count())
}

// IDs returns the members in ascending order.
func (m *Mask) IDs() []feature.NodeID {
	if m == nil {
		return nil
	}
	out := make([]feature.NodeID, 0, m.Count())
	for i, ok := m.bits.NextSet(0); ok; i, ok = m.bits.NextSet(i + 1) {
		out = append(out, feature.NodeID(i))
	}
	return out
}

// Equal reports whether both masks cover the same id space and members.
func (m *Mask) Equal(o *Mask) bool {
	if m == nil || o == nil {
		return m.Count() == 0 && o.Count() == 0
	}
	return m.vnum == o.vnum && m.bits.Equal(o.bits)
}
