package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBytes(t *testing.T) {
	buf := []byte{0x0f}

	v, err := NewBytes(buf, 8)
	require.NoError(t, err)
	assert.Equal(t, "0f", v.Hex())

	v, err = NewBytes([]byte{0xff}, 7)
	require.NoError(t, err)
	assert.Equal(t, "fe", v.Hex())
	assert.Equal(t, uint32(7), v.Count())

	_, err = NewBytes(buf, 9)
	assert.Equal(t, ErrInvalidLength, err)
	_, err = NewBytes([]byte{0, 0}, 8)
	assert.Equal(t, ErrInvalidLength, err)
}

func TestSetClear(t *testing.T) {
	v := New(10)
	assert.Equal(t, "0000", v.Hex())

	v.Set(0)
	assert.Equal(t, "8000", v.Hex())
	v.Set(9)
	assert.Equal(t, "8040", v.Hex())
	assert.Panics(t, func() { v.Set(10) })

	v.Clear(0)
	assert.Equal(t, "0040", v.Hex())
	assert.False(t, v.Test(2))
	assert.True(t, v.Test(9))

	v.SetTo(3, true)
	assert.True(t, v.Test(3))
	v.SetTo(3, false)
	assert.False(t, v.Test(3))
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []uint32{1, 7, 8, 9, 16, 33} {
		v := New(n)
		for i := uint32(0); i < n; i += 3 {
			v.Set(i)
		}
		w, err := NewBytes(v.Bytes(), n)
		require.NoError(t, err)
		assert.Equal(t, v.Bytes(), w.Bytes())
		for i := uint32(0); i < n; i++ {
			assert.Equal(t, v.Test(i), w.Test(i))
		}
	}
}

func TestUnion(t *testing.T) {
	a, _ := NewBytes([]byte{0xa0, 0x80}, 10)
	b, _ := NewBytes([]byte{0x50, 0x40}, 10)

	ab := a.Copy()
	require.NoError(t, ab.Union(b))
	ba := b.Copy()
	require.NoError(t, ba.Union(a))
	assert.Equal(t, ab.Bytes(), ba.Bytes())
	assert.Equal(t, "f0c0", ab.Hex())

	aa := a.Copy()
	require.NoError(t, aa.Union(a))
	assert.Equal(t, a.Bytes(), aa.Bytes())

	assert.Equal(t, ErrLengthMismatch, a.Union(New(11)))
}

func TestIntersection(t *testing.T) {
	a, _ := NewBytes([]byte{0xa5}, 8)
	b, _ := NewBytes([]byte{0x0f}, 8)

	self, err := a.Intersection(a)
	require.NoError(t, err)
	assert.Equal(t, a.Bytes(), self.Bytes())

	r, err := a.Intersection(b)
	require.NoError(t, err)
	assert.Equal(t, "05", r.Hex())

	_, err = a.Intersection(New(9))
	assert.Equal(t, ErrLengthMismatch, err)
}

func TestComplement(t *testing.T) {
	a, _ := NewBytes([]byte{0xa5, 0x80}, 12)
	c := a.Complement()
	assert.Equal(t, "5a70", c.Hex())
	assert.Equal(t, a.Bytes(), c.Complement().Bytes())
}

func TestHasAny(t *testing.T) {
	v := New(4)
	assert.False(t, v.HasAnySet())
	assert.True(t, v.HasAnyUnset())

	for i := uint32(0); i < 4; i++ {
		v.Set(i)
	}
	assert.True(t, v.HasAnySet())
	assert.False(t, v.HasAnyUnset())
	assert.True(t, v.All())
}

func TestFirstSet(t *testing.T) {
	v := New(20)
	_, ok := v.FirstSet(0)
	assert.False(t, ok)

	v.Set(17)
	v.Set(3)
	i, ok := v.FirstSet(0)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), i)
	i, ok = v.FirstSet(4)
	assert.True(t, ok)
	assert.Equal(t, uint32(17), i)
	_, ok = v.FirstSet(18)
	assert.False(t, ok)
}
