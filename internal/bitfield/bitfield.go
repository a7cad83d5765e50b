package bitfield

import (
	"encoding/hex"
	"errors"
	"math/bits"
)

var (
	// ErrInvalidLength is returned when a byte slice cannot hold exactly the requested number of bits.
	ErrInvalidLength = errors.New("byte length does not match bit count")
	// ErrLengthMismatch is returned from set operations on bitfields of different sizes.
	ErrLengthMismatch = errors.New("bitfield lengths differ")
)

// BitField is a fixed size set of bits packed into bytes.
// Bit 0 is the most significant bit of the first byte, as sent on the wire.
type BitField struct {
	b      []byte
	length uint32
}

// New creates a new BitField of length bits, all of them cleared.
func New(length uint32) *BitField {
	return &BitField{make([]byte, numBytes(length)), length}
}

// NewBytes returns a new BitField from b. The length of b must be exactly ceil(length/8).
// Bytes in b are copied. Unused bits in the last byte are cleared.
func NewBytes(b []byte, length uint32) (*BitField, error) {
	if uint32(len(b)) != numBytes(length) {
		return nil, ErrInvalidLength
	}
	bf := &BitField{make([]byte, len(b)), length}
	copy(bf.b, b)
	bf.clearPadding()
	return bf, nil
}

func numBytes(length uint32) uint32 { return (length + 7) / 8 }

func (b *BitField) clearPadding() {
	if mod := b.length % 8; mod != 0 {
		b.b[len(b.b)-1] &= ^byte(0xff >> mod)
	}
}

// Bytes returns the packed representation of the bitfield.
// If you modify the returned slice the bits in b are modified too.
func (b *BitField) Bytes() []byte { return b.b }

// Len returns the number of bits as given to New.
func (b *BitField) Len() uint32 { return b.length }

// Hex returns bytes as string.
func (b *BitField) Hex() string { return hex.EncodeToString(b.b) }

// Copy returns an independent copy of b.
func (b *BitField) Copy() *BitField {
	c := &BitField{make([]byte, len(b.b)), b.length}
	copy(c.b, b.b)
	return c
}

// Set bit i. Panics if i >= b.Len().
func (b *BitField) Set(i uint32) {
	b.checkIndex(i)
	b.b[i/8] |= mask(i)
}

// Clear bit i. Panics if i >= b.Len().
func (b *BitField) Clear(i uint32) {
	b.checkIndex(i)
	b.b[i/8] &= ^mask(i)
}

// SetTo sets bit i to value. Panics if i >= b.Len().
func (b *BitField) SetTo(i uint32, value bool) {
	if value {
		b.Set(i)
	} else {
		b.Clear(i)
	}
}

// Test bit i. Panics if i >= b.Len().
func (b *BitField) Test(i uint32) bool {
	b.checkIndex(i)
	return b.b[i/8]&mask(i) != 0
}

func mask(i uint32) byte { return 1 << (7 - i%8) }

// Union sets every bit in b that is set in o.
func (b *BitField) Union(o *BitField) error {
	if b.length != o.length {
		return ErrLengthMismatch
	}
	for i := range b.b {
		b.b[i] |= o.b[i]
	}
	return nil
}

// Intersection returns a new BitField with the bits set in both b and o.
func (b *BitField) Intersection(o *BitField) (*BitField, error) {
	if b.length != o.length {
		return nil, ErrLengthMismatch
	}
	r := New(b.length)
	for i := range b.b {
		r.b[i] = b.b[i] & o.b[i]
	}
	return r, nil
}

// Complement returns a new BitField with every bit of b inverted. Padding bits stay cleared.
func (b *BitField) Complement() *BitField {
	r := New(b.length)
	for i := range b.b {
		r.b[i] = ^b.b[i]
	}
	r.clearPadding()
	return r
}

// HasAnySet reports whether at least one bit is set.
func (b *BitField) HasAnySet() bool {
	for _, v := range b.b {
		if v != 0 {
			return true
		}
	}
	return false
}

// HasAnyUnset reports whether at least one of the first Len() bits is cleared.
func (b *BitField) HasAnyUnset() bool {
	return b.Count() < b.length
}

// Count returns the count of set bits.
func (b *BitField) Count() uint32 {
	var total int
	for _, v := range b.b {
		total += bits.OnesCount8(v)
	}
	return uint32(total)
}

// All returns true if all bits are set.
func (b *BitField) All() bool { return b.Count() == b.length }

// FirstSet returns the index of the first set bit at or after from.
func (b *BitField) FirstSet(from uint32) (uint32, bool) {
	for i := from; i < b.length; i++ {
		if i%8 == 0 && b.b[i/8] == 0 {
			i += 7
			continue
		}
		if b.b[i/8]&mask(i) != 0 {
			return i, true
		}
	}
	return 0, false
}

func (b *BitField) checkIndex(i uint32) {
	if i >= b.length {
		panic("index out of bound")
	}
}
