package bitset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetBasics(t *testing.T) {
	s := New(130)
	require.True(t, s.Empty())

	s.SetBit(0)
	s.SetBit(63)
	s.SetBit(64)
	s.SetBit(129)
	require.True(t, s.Test(0))
	require.True(t, s.Test(63))
	require.True(t, s.Test(64))
	require.True(t, s.Test(129))
	require.False(t, s.Test(1))
	require.Equal(t, 4, s.PopCount())

	first, ok := s.First()
	require.True(t, ok)
	require.Equal(t, 0, first)

	require.Equal(t, []int{0, 63, 64, 129}, s.Slice())

	s.Clear(63)
	require.False(t, s.Test(63))
	require.Equal(t, 3, s.PopCount())
}

func TestSetOps(t *testing.T) {
	a := FromSlice(8, []int{0, 1, 2})
	b := FromSlice(8, []int{2, 3, 4})

	u := a.Union(b)
	require.Equal(t, []int{0, 1, 2, 3, 4}, u.Slice())

	i := a.Intersect(b)
	require.Equal(t, []int{2}, i.Slice())
	require.True(t, a.Intersects(b))

	c := FromSlice(8, []int{0, 1})
	require.True(t, c.SubsetOf(a))
	require.False(t, a.SubsetOf(c))

	require.True(t, a.Equal(FromSlice(8, []int{0, 1, 2})))
	require.False(t, a.Equal(b))
}

func TestUnionInPlace(t *testing.T) {
	a := FromSlice(8, []int{0})
	b := FromSlice(8, []int{1})
	a.UnionInPlace(b)
	require.Equal(t, []int{0, 1}, a.Slice())
}

func TestDifference(t *testing.T) {
	a := FromSlice(8, []int{0, 1, 2, 3})
	b := FromSlice(8, []int{2, 3, 4})

	d := a.Difference(b)
	require.Equal(t, []int{0, 1}, d.Slice())

	a.DifferenceInPlace(b)
	require.Equal(t, []int{0, 1}, a.Slice())
}

func TestOutOfRangeIgnored(t *testing.T) {
	s := New(4)
	s.SetBit(-1)
	s.SetBit(100)
	require.True(t, s.Empty())
	require.False(t, s.Test(100))
}

func TestWidthMismatchPanics(t *testing.T) {
	a := New(4)
	b := New(8)
	require.Panics(t, func() { a.Union(b) })
	require.Panics(t, func() { a.SubsetOf(b) })
}
