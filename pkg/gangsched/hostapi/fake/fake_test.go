package fake

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
)

func TestClockAdvance(t *testing.T) {
	c := NewClock(10)
	require.Equal(t, policy.Time(10), c.Now())
	require.Equal(t, policy.Time(15), c.Advance(5))
}

func TestIRQRecordsCalls(t *testing.T) {
	r := &IRQ{}
	r.RaiseScheduleSoftirq(bitset.FromSlice(4, []int{0, 1}))
	require.Len(t, r.Calls, 1)
	require.Equal(t, []int{0, 1}, r.Calls[0].Slice())
}

func TestVCPUBlockedState(t *testing.T) {
	v := NewVCPUs()
	require.False(t, v.IsBlocked(1, 0))
	v.SetBlocked(1, 0, true)
	require.True(t, v.IsBlocked(1, 0))
}

func TestPoolMembership(t *testing.T) {
	p := NewPool(bitset.FromSlice(4, []int{0, 1, 2, 3}), true)
	require.True(t, p.IsPoolZero())
	require.Equal(t, 4, p.CPUs().PopCount())
}
