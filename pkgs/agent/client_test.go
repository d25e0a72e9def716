package agent

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/api"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/coordinator"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/ledger"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/registry"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/settlement"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

// knapsack: maximize 3a + 4b subject to 2a + 3b <= 4
const testProblem = `{"name":"inst","variables":2,"minimize":false,"objective":[3,4],"constraints":[{"coeffs":[2,3],"op":"<=","rhs":4}]}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	problemFile := filepath.Join(dir, "inst.json")
	require.NoError(t, os.WriteFile(problemFile, []byte(testProblem), 0o644))

	reg := registry.New(store, 10)
	require.NoError(t, reg.RegisterInstance(&storage.ProblemInstance{
		Name:         "inst",
		FileLocation: problemFile,
		RewardBudget: 1000,
		Active:       true,
		Minimize:     false,
	}))

	led := ledger.New(store)
	coord, err := coordinator.New(coordinator.Config{
		ValidationDuration: time.Minute,
		ConsensusRatio:     0.5,
		SubmissionReward:   10,
		ValidationReward:   1,
		ActiveSolutionsDir: t.TempDir(),
		BestSolutionsDir:   t.TempDir(),
	}, store, reg, led, settlement.New(), nil, nil, nil)
	require.NoError(t, err)

	srv := api.NewServer("127.0.0.1", 0, coord, reg, led, false)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientRegisterAndBrowse(t *testing.T) {
	ts := newTestServer(t)
	client := NewClient(ts.URL)
	ctx := context.Background()

	agentID, err := client.Register(ctx)
	require.NoError(t, err)
	require.Equal(t, "agent_1", agentID)
	require.Equal(t, agentID, client.AgentID())

	instances, err := client.Instances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, "inst", instances[0].Name)

	data, err := client.DownloadInstance(ctx, "inst")
	require.NoError(t, err)
	require.JSONEq(t, testProblem, string(data))

	_, err = client.DownloadInstance(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClientSubmitValidateRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	submitter := NewClient(ts.URL)
	_, err := submitter.Register(ctx)
	require.NoError(t, err)
	voter := NewClient(ts.URL)
	_, err = voter.Register(ctx)
	require.NoError(t, err)

	res, err := submitter.Submit(ctx, "inst", 7, []byte(`{"assignment":[0,1],"objective_value":4}`))
	require.NoError(t, err)
	require.NotEmpty(t, res.SubmissionID)

	// duplicate pending submission conflicts
	_, err = submitter.Submit(ctx, "inst", 6, []byte("x"))
	require.ErrorIs(t, err, ErrConflict)

	task, err := voter.ValidationTask(ctx, "inst")
	require.NoError(t, err)
	require.Equal(t, res.SubmissionID, task.SubmissionID)

	// single eligible voter: this accept vote reaches quorum
	require.NoError(t, voter.Validate(ctx, task.SubmissionID, true, 4))

	status, err := submitter.SubmissionStatus(ctx, res.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, "accepted", status.Status)

	instStatus, err := submitter.Status(ctx, "inst")
	require.NoError(t, err)
	require.NotNil(t, instStatus.BestObjectiveValue)
	require.Equal(t, 4.0, *instStatus.BestObjectiveValue)

	best, err := submitter.DownloadBest(ctx, "inst")
	require.NoError(t, err)
	require.Contains(t, string(best), `"assignment":[0,1]`)
}

func TestAgentTurnSolvesAndSubmits(t *testing.T) {
	ts := newTestServer(t)

	a := New(ts.URL, Options{
		MaxSolveTime: 200 * time.Millisecond,
		IdleBackoff:  10 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := a.client.Register(ctx)
	require.NoError(t, err)

	worked, err := a.turn(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	// a second agent picks the submission up as validation duty
	b := New(ts.URL, Options{
		MaxSolveTime: 200 * time.Millisecond,
		IdleBackoff:  10 * time.Millisecond,
	})
	_, err = b.client.Register(ctx)
	require.NoError(t, err)

	validated, err := b.validateOne(ctx, "inst")
	require.NoError(t, err)
	require.True(t, validated)
}
