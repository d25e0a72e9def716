package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client errors mirror the coordinator's HTTP statuses.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("request conflicts with current protocol state")
)

// Client is the HTTP client agents use to talk to the coordinator.
type Client struct {
	baseURL string
	agentID string
	http    *http.Client
}

// NewClient creates an unregistered client for the coordinator at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// AgentID returns the identity assigned at registration, or "" before it.
func (c *Client) AgentID() string { return c.agentID }

// Register obtains an agent identity from the coordinator.
func (c *Client) Register(ctx context.Context) (string, error) {
	var resp struct {
		AgentID string `json:"agent_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/register", nil, &resp); err != nil {
		return "", err
	}
	c.agentID = resp.AgentID
	return resp.AgentID, nil
}

// InstanceInfo describes one problem instance as advertised to agents.
type InstanceInfo struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Minimize          bool   `json:"minimize"`
	RewardBudget      int64  `json:"reward_budget"`
	RewardAccumulated int64  `json:"reward_accumulated"`
	Active            bool   `json:"active"`
}

// Instances fetches a random sample of active problem instances.
func (c *Client) Instances(ctx context.Context) ([]InstanceInfo, error) {
	var resp struct {
		ProblemInstances []InstanceInfo `json:"problem_instances"`
	}
	if err := c.do(ctx, http.MethodGet, "/problem_instances/info", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ProblemInstances, nil
}

// DownloadInstance fetches the problem file for an instance.
func (c *Client) DownloadInstance(ctx context.Context, name string) ([]byte, error) {
	return c.download(ctx, "/problem_instances/download/"+name)
}

// InstanceStatus describes the live state of one instance.
type InstanceStatus struct {
	Name               string   `json:"name"`
	Active             bool     `json:"active"`
	RewardBudget       int64    `json:"reward_budget"`
	RewardAccumulated  int64    `json:"reward_accumulated"`
	BestObjectiveValue *float64 `json:"best_objective_value"`
	BestSolutionID     string   `json:"best_solution_id"`
}

// Status fetches the live state of an instance.
func (c *Client) Status(ctx context.Context, name string) (*InstanceStatus, error) {
	var resp InstanceStatus
	if err := c.do(ctx, http.MethodGet, "/problem_instances/status/"+name, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitResult is the coordinator's answer to a submission.
type SubmitResult struct {
	SubmissionID      string `json:"submission_id"`
	ValidationEndTime string `json:"validation_end_time"`
}

// Submit sends a solution for validation.
func (c *Client) Submit(ctx context.Context, instanceName string, objective float64, solutionData []byte) (*SubmitResult, error) {
	body := map[string]interface{}{
		"objective_value": objective,
		"solution_data":   string(solutionData),
	}
	var resp SubmitResult
	if err := c.do(ctx, http.MethodPost, "/solutions/submit/"+instanceName, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmissionStatus is the current state of one submission.
type SubmissionStatus struct {
	SubmissionID   string   `json:"submission_id"`
	Status         string   `json:"status"` // pending, accepted, rejected
	AcceptedCount  int      `json:"accepted_count"`
	RejectedCount  int      `json:"rejected_count"`
	Reward         int64    `json:"reward"`
	ObjectiveValue *float64 `json:"objective_value"`
}

// SubmissionStatus polls the state of a prior submission.
func (c *Client) SubmissionStatus(ctx context.Context, submissionID string) (*SubmissionStatus, error) {
	var resp SubmissionStatus
	if err := c.do(ctx, http.MethodGet, "/solutions/submit/status/"+submissionID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidationTask is a pending submission handed out for validation.
type ValidationTask struct {
	SubmissionID          string   `json:"submission_id"`
	SolutionData          string   `json:"solution_data"`
	ValidationEndTime     string   `json:"validation_end_time"`
	ClaimedObjectiveValue *float64 `json:"claimed_objective_value"`
}

// ValidationTask asks for a submission to validate on the instance. Returns
// ErrNotFound when nothing is eligible right now.
func (c *Client) ValidationTask(ctx context.Context, instanceName string) (*ValidationTask, error) {
	var resp ValidationTask
	if err := c.do(ctx, http.MethodGet, "/solutions/validate/download/"+instanceName, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validate sends a validation verdict on a submission.
func (c *Client) Validate(ctx context.Context, submissionID string, accept bool, objective float64) error {
	body := map[string]interface{}{
		"response":        accept,
		"objective_value": objective,
	}
	return c.do(ctx, http.MethodPost, "/solutions/validate/"+submissionID, body, nil)
}

// DownloadBest fetches the current best solution artifact for an instance.
func (c *Client) DownloadBest(ctx context.Context, instanceName string) ([]byte, error) {
	return c.download(ctx, "/solutions/best/download/"+instanceName)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.agentID != "" {
		req.Header.Set("X-Agent-ID", c.agentID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.agentID != "" {
		req.Header.Set("X-Agent-ID", c.agentID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	return io.ReadAll(resp.Body)
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	default:
		return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, msg)
	}
}
