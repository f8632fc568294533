package ticket

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/gangsched/gangsched/pkg/gangsched/policy"
)

const grain = policy.Time(1_000_000) // 1ms

func TestArenaAllocFreeReuse(t *testing.T) {
	a := NewArena()
	t1 := a.Alloc(1, 0)
	t2 := a.Alloc(2, 0)
	require.NotEqual(t, t1.ID, t2.ID)

	a.Free(t1.ID)
	require.Nil(t, a.Get(t1.ID))

	t3 := a.Alloc(3, 0)
	require.Equal(t, t1.ID, t3.ID, "freed slot should be reused")
	require.Len(t, a.All(), 2)
}

func TestArenaDoubleFreeIsNoOp(t *testing.T) {
	a := NewArena()
	tk := a.Alloc(1, 0)
	a.Free(tk.ID)
	require.NotPanics(t, func() { a.Free(tk.ID) })
}

func TestUpdateExclusiveNeverExpires(t *testing.T) {
	tk := &Ticket{RemainingTime: policy.Infinity, ActivatedAt: 0}
	res, err := Update(tk, 1_000_000_000, policy.Exclusive(0), 0, 0, 0, grain)
	require.NoError(t, err)
	require.False(t, res.ActivationComplete)
	require.Equal(t, policy.Infinity, tk.RemainingTime)
}

func TestUpdateMonotonicSanity(t *testing.T) {
	tk := &Ticket{ActivatedAt: 1_000_000}
	_, err := Update(tk, 0, policy.TimeTriggered(0, 100, 50, false), 0, 0, 0, grain)
	require.Error(t, err)
	var serr *SanityError
	require.ErrorAs(t, err, &serr)
}

func TestUpdateTTRearm(t *testing.T) {
	pol := policy.TimeTriggered(0, 100*grain, 50*grain, false)
	tk := &Ticket{
		EarliestStartTime: 0,
		Deadline:          100 * grain,
		RemainingTime:     5 * grain, // will be exhausted
		ActivatedAt:       0,
	}
	res, err := Update(tk, 5*grain, pol, 0, 0, 0, grain)
	require.NoError(t, err)
	require.True(t, res.ActivationComplete)
	require.Equal(t, 100*grain, tk.EarliestStartTime)
	require.Equal(t, 200*grain, tk.Deadline)
	require.Equal(t, 50*grain, tk.RemainingTime)
}

func TestUpdateTTMidSlice(t *testing.T) {
	pol := policy.TimeTriggered(0, 100*grain, 50*grain, false)
	tk := &Ticket{RemainingTime: 50 * grain, ActivatedAt: 0}
	res, err := Update(tk, 10*grain, pol, 0, 0, 0, grain)
	require.NoError(t, err)
	require.False(t, res.ActivationComplete)
	require.Equal(t, 40*grain, tk.RemainingTime)
}

func TestRearmET(t *testing.T) {
	pol := policy.EventTriggered(0, 200*grain, 20*grain, false)
	tk := &Ticket{Deadline: 200 * grain}
	now := policy.Time(1234567) // not grain-aligned
	Rearm(tk, now, pol, 0, 0, 0, grain)
	require.Equal(t, (now/grain)*grain, tk.EarliestStartTime)
	require.Equal(t, 400*grain, tk.Deadline)
	require.Equal(t, 20*grain, tk.RemainingTime)
}

func TestRearmBE(t *testing.T) {
	pol := policy.BestEffort(0, 128, false)
	tk := &Ticket{Deadline: 0}
	beBasicPeriod := 100 * grain
	Rearm(tk, 5*grain, pol, 3, beBasicPeriod, 10, grain)
	require.Equal(t, 5*grain, tk.EarliestStartTime)
	require.Equal(t, 3*beBasicPeriod, tk.Deadline)
	require.Equal(t, beBasicPeriod/10, tk.RemainingTime)
}

func TestAdjustActivationTime(t *testing.T) {
	// from already >= willResumeAt: unchanged.
	require.Equal(t, policy.Time(50), AdjustActivationTime(10, 50, 100))

	// advances by whole periods until >= willResumeAt.
	got := AdjustActivationTime(250, 0, 100)
	require.Equal(t, policy.Time(300), got)

	got = AdjustActivationTime(300, 0, 100)
	require.Equal(t, policy.Time(300), got)
}

func TestSeedExclusive(t *testing.T) {
	tk := &Ticket{}
	Seed(tk, policy.Exclusive(42), 1000, 0, 0, 0)
	require.Equal(t, policy.Time(42), tk.EarliestStartTime)
	require.Equal(t, policy.Infinity, tk.Deadline)
	require.Equal(t, policy.Infinity, tk.RemainingTime)
	require.Equal(t, StateActivation, tk.State)
}

func TestSeedTT(t *testing.T) {
	pol := policy.TimeTriggered(0, 100, 30, false)
	tk := &Ticket{}
	Seed(tk, pol, 250, 0, 0, 0)
	require.Equal(t, policy.Time(300), tk.EarliestStartTime)
	require.Equal(t, policy.Time(400), tk.Deadline)
	require.Equal(t, policy.Time(30), tk.RemainingTime)
}

func TestSeedBEProducesExpectedTicket(t *testing.T) {
	pol := policy.BestEffort(0, 256, true)
	tk := &Ticket{ID: 5, Domain: 7, VCPU: 1, Substitute: -1}
	Seed(tk, pol, 250, 2, 100, 10)

	want := &Ticket{
		ID:                5,
		Domain:            7,
		VCPU:              1,
		EarliestStartTime: 300,
		Deadline:          500,
		RemainingTime:     10,
		State:             StateActivation,
		Substitute:        -1,
	}
	if diff := cmp.Diff(want, tk); diff != "" {
		t.Errorf("Seed() produced unexpected ticket (-want +got):\n%s", diff)
	}
}

func TestFlags(t *testing.T) {
	tk := &Ticket{}
	require.False(t, tk.HasFlag(FlagSingleYield))
	tk.SetFlag(FlagSingleYield)
	require.True(t, tk.HasFlag(FlagSingleYield))
	tk.ClearFlag(FlagSingleYield)
	require.False(t, tk.HasFlag(FlagSingleYield))
}
