package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/coordinator"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/ledger"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/registry"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/settlement"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

type testEnv struct {
	handler http.Handler
	store   *storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	problemFile := filepath.Join(dir, "inst.json")
	require.NoError(t, os.WriteFile(problemFile, []byte(`{"variables":1,"objective":[1],"minimize":true}`), 0o644))

	reg := registry.New(store, 10)
	require.NoError(t, reg.RegisterInstance(&storage.ProblemInstance{
		Name:         "inst",
		FileLocation: problemFile,
		RewardBudget: 1000,
		Active:       true,
		Minimize:     true,
	}))

	led := ledger.New(store)
	coord, err := coordinator.New(coordinator.Config{
		ValidationDuration:    time.Minute,
		ConsensusRatio:        0.5,
		SubmissionReward:      10,
		ValidationReward:      1,
		ActiveSolutionsDir:    t.TempDir(),
		BestSolutionsDir:      t.TempDir(),
		MinValidationTimeLeft: 0,
	}, store, reg, led, settlement.New(), nil, nil, nil)
	require.NoError(t, err)

	srv := NewServer("127.0.0.1", 0, coord, reg, led, false)
	return &testEnv{handler: srv.Handler(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path, agentID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if agentID != "" {
		req.Header.Set("X-Agent-ID", agentID)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/register", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		AgentID string `json:"agent_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AgentID
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterAssignsIDs(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, "agent_1", env.register(t))
	require.Equal(t, "agent_2", env.register(t))
}

func TestInstancesInfo(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/problem_instances/info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ProblemInstances []struct {
			Name     string `json:"name"`
			Active   bool   `json:"active"`
			Minimize bool   `json:"minimize"`
		} `json:"problem_instances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.ProblemInstances, 1)
	require.Equal(t, "inst", resp.ProblemInstances[0].Name)
	require.True(t, resp.ProblemInstances[0].Active)
}

func TestInstanceDownload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/problem_instances/download/inst", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"variables":1`)

	rec = env.do(t, http.MethodGet, "/problem_instances/download/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitFlow(t *testing.T) {
	env := newTestEnv(t)
	submitter := env.register(t)
	voterA := env.register(t)
	voterB := env.register(t)
	_ = env.register(t) // fourth agent widens the eligible pool to 3

	// header required
	rec := env.do(t, http.MethodPost, "/solutions/submit/inst", "", map[string]interface{}{
		"objective_value": 10.0, "solution_data": "x",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/solutions/submit/inst", submitter, map[string]interface{}{
		"objective_value": 10.0, "solution_data": `{"assignment":[1],"objective_value":10}`,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var submitResp struct {
		SubmissionID string `json:"submission_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))
	require.NotEmpty(t, submitResp.SubmissionID)

	// duplicate pending submission from the same agent conflicts
	rec = env.do(t, http.MethodPost, "/solutions/submit/inst", submitter, map[string]interface{}{
		"objective_value": 9.0, "solution_data": "y",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// validators fetch the task and vote it through
	rec = env.do(t, http.MethodGet, "/solutions/validate/download/inst", voterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var task struct {
		SubmissionID string `json:"submission_id"`
		SolutionData string `json:"solution_data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	require.Equal(t, submitResp.SubmissionID, task.SubmissionID)
	require.NotEmpty(t, task.SolutionData)

	for _, voter := range []string{voterA, voterB} {
		rec = env.do(t, http.MethodPost, "/solutions/validate/"+task.SubmissionID, voter, map[string]interface{}{
			"response": true, "objective_value": 10.0,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// 2 of 3 eligible accepts at ratio 0.5: terminal accepted
	rec = env.do(t, http.MethodGet, "/solutions/submit/status/"+submitResp.SubmissionID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Status string `json:"status"`
		Reward int64  `json:"reward"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "accepted", status.Status)
	require.EqualValues(t, 12, status.Reward)

	// a late vote on the resolved window conflicts
	rec = env.do(t, http.MethodPost, "/solutions/validate/"+task.SubmissionID, env.register(t), map[string]interface{}{
		"response": true, "objective_value": 10.0,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// the accepted solution is now the downloadable best
	rec = env.do(t, http.MethodGet, "/solutions/best/download/inst", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"assignment":[1]`)

	// and the audit trail shows the transition
	rec = env.do(t, http.MethodGet, "/solutions/history/"+submitResp.SubmissionID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "accepted")
}

func TestSubmitUnregisteredAgent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/solutions/submit/inst", "agent_99", map[string]interface{}{
		"objective_value": 10.0, "solution_data": "x",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidationTaskWhenNonePending(t *testing.T) {
	env := newTestEnv(t)
	agent := env.register(t)

	rec := env.do(t, http.MethodGet, "/solutions/validate/download/inst", agent, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBestDownloadBeforeAnyAcceptance(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/solutions/best/download/inst", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstanceStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/problem_instances/status/inst", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["active"])
	require.EqualValues(t, 1000, resp["reward_budget"])
}
