package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedInstance(t *testing.T, store *storage.Store, budget, accumulated int64) {
	t.Helper()
	require.NoError(t, store.CreateInstance(&storage.ProblemInstance{
		Name:              "inst",
		RewardBudget:      budget,
		RewardAccumulated: accumulated,
		Active:            true,
	}))
}

func TestSettleFullPayout(t *testing.T) {
	store := newTestStore(t)
	seedInstance(t, store, 100, 0)

	res, err := New().Settle(store.DB(), "inst", []Payout{
		{AgentID: "agent_2", Amount: 1, Kind: PayoutValidation},
		{AgentID: "agent_3", Amount: 1, Kind: PayoutValidation},
		{AgentID: "agent_1", Amount: 10, Kind: PayoutSubmission},
	})
	require.NoError(t, err)
	require.EqualValues(t, 12, res.Applied)
	require.False(t, res.Degraded)
	require.False(t, res.Exhausted)
	require.EqualValues(t, 10, res.PerAgent["agent_1"])
	require.EqualValues(t, 2, res.PerKind[PayoutValidation])
	require.EqualValues(t, 10, res.PerKind[PayoutSubmission])

	inst, err := store.GetInstance("inst")
	require.NoError(t, err)
	require.EqualValues(t, 12, inst.RewardAccumulated)
	require.True(t, inst.Active)
}

func TestSettleDegradesInOrder(t *testing.T) {
	store := newTestStore(t)
	seedInstance(t, store, 5, 0)

	// validators come first; the submitter payout overflows and is clamped
	res, err := New().Settle(store.DB(), "inst", []Payout{
		{AgentID: "agent_2", Amount: 1, Kind: PayoutValidation},
		{AgentID: "agent_3", Amount: 1, Kind: PayoutValidation},
		{AgentID: "agent_1", Amount: 10, Kind: PayoutSubmission},
	})
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.True(t, res.Exhausted)
	require.EqualValues(t, 5, res.Applied)
	require.EqualValues(t, 1, res.PerAgent["agent_2"])
	require.EqualValues(t, 1, res.PerAgent["agent_3"])
	require.EqualValues(t, 3, res.PerAgent["agent_1"]) // clamped from 10

	inst, err := store.GetInstance("inst")
	require.NoError(t, err)
	require.EqualValues(t, inst.RewardBudget, inst.RewardAccumulated)
	require.False(t, inst.Active)
}

func TestSettleDropsTailAfterExhaustion(t *testing.T) {
	store := newTestStore(t)
	seedInstance(t, store, 1, 0)

	res, err := New().Settle(store.DB(), "inst", []Payout{
		{AgentID: "agent_2", Amount: 1, Kind: PayoutValidation},
		{AgentID: "agent_3", Amount: 1, Kind: PayoutValidation},
		{AgentID: "agent_1", Amount: 10, Kind: PayoutSubmission},
	})
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.EqualValues(t, 1, res.Applied)
	require.EqualValues(t, 1, res.PerAgent["agent_2"])
	require.Zero(t, res.PerAgent["agent_3"])
	require.Zero(t, res.PerAgent["agent_1"])
}

func TestSettleExactExhaustionDeactivates(t *testing.T) {
	store := newTestStore(t)
	seedInstance(t, store, 10, 8)

	res, err := New().Settle(store.DB(), "inst", []Payout{
		{AgentID: "agent_2", Amount: 2, Kind: PayoutValidation},
	})
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.True(t, res.Exhausted)

	inst, err := store.GetInstance("inst")
	require.NoError(t, err)
	require.EqualValues(t, 10, inst.RewardAccumulated)
	require.False(t, inst.Active)
}

func TestSettleNeverOverdraws(t *testing.T) {
	store := newTestStore(t)
	seedInstance(t, store, 7, 3)

	res, err := New().Settle(store.DB(), "inst", []Payout{
		{AgentID: "a", Amount: 100, Kind: PayoutSubmission},
	})
	require.NoError(t, err)
	require.EqualValues(t, 4, res.Applied)

	inst, err := store.GetInstance("inst")
	require.NoError(t, err)
	require.LessOrEqual(t, inst.RewardAccumulated, inst.RewardBudget)
	require.GreaterOrEqual(t, inst.RewardAccumulated, int64(0))
}

func TestSettleIgnoresNonPositivePayouts(t *testing.T) {
	store := newTestStore(t)
	seedInstance(t, store, 10, 0)

	res, err := New().Settle(store.DB(), "inst", []Payout{
		{AgentID: "a", Amount: 0, Kind: PayoutValidation},
		{AgentID: "b", Amount: -5, Kind: PayoutValidation},
	})
	require.NoError(t, err)
	require.Zero(t, res.Applied)
	require.False(t, res.Degraded)

	inst, err := store.GetInstance("inst")
	require.NoError(t, err)
	require.Zero(t, inst.RewardAccumulated)
}
