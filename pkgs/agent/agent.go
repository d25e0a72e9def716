package agent

import (
	"context"
	"errors"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/solver"
)

// Options configures one agent node.
type Options struct {
	MaxSolveTime time.Duration // upper bound on one solving turn
	IdleBackoff  time.Duration // wait between loop turns when nothing to do
	Malicious    bool          // vote and claim dishonestly, for protocol testing
}

// Agent is one autonomous participant: it alternates between solving problem
// instances and validating other agents' submissions. Validation duty comes
// first each turn so windows never starve while the agent is deep in a solve.
type Agent struct {
	client *Client
	solver *solver.Solver
	opts   Options

	problems map[string]*solver.Problem // downloaded problem files
	rng      *rand.Rand
}

// New creates an agent talking to the coordinator at baseURL.
func New(baseURL string, opts Options) *Agent {
	if opts.MaxSolveTime <= 0 {
		opts.MaxSolveTime = 30 * time.Second
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = 500 * time.Millisecond
	}
	return &Agent{
		client:   NewClient(baseURL),
		solver:   solver.New(),
		opts:     opts,
		problems: make(map[string]*solver.Problem),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run registers the agent and drives the dispatch loop until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	agentID, err := a.client.Register(ctx)
	if err != nil {
		return err
	}
	log.Infof("Registered as %s", agentID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		worked, err := a.turn(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Warnf("Turn failed: %v", err)
		}
		if !worked {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.opts.IdleBackoff):
			}
		}
	}
}

// turn does one unit of work: validation duty across known instances first,
// then one bounded solving attempt. Reports whether anything happened.
func (a *Agent) turn(ctx context.Context) (bool, error) {
	instances, err := a.client.Instances(ctx)
	if err != nil {
		return false, err
	}
	if len(instances) == 0 {
		return false, nil
	}

	worked := false
	for _, inst := range instances {
		validated, err := a.validateOne(ctx, inst.Name)
		if err != nil {
			log.Debugf("Validation on %s: %v", inst.Name, err)
		}
		worked = worked || validated
	}

	inst := instances[a.rng.Intn(len(instances))]
	solved, err := a.solveOne(ctx, inst)
	if err != nil {
		return worked, err
	}
	return worked || solved, nil
}

// validateOne fetches at most one validation task for the instance, checks
// the candidate against the problem and votes.
func (a *Agent) validateOne(ctx context.Context, instanceName string) (bool, error) {
	task, err := a.client.ValidationTask(ctx, instanceName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	problem, err := a.problem(ctx, instanceName)
	if err != nil {
		return false, err
	}

	accept := false
	objective := 0.0
	if sol, err := solver.ParseSolution([]byte(task.SolutionData)); err == nil {
		feasible, value, evalErr := problem.Evaluate(sol.Assignment)
		if evalErr == nil && feasible {
			accept = true
			objective = value
		}
	}

	if a.opts.Malicious {
		// a dishonest validator inverts its verdict and lies about the value
		accept = !accept
		objective = a.rng.Float64() * 1000
	}

	if err := a.client.Validate(ctx, task.SubmissionID, accept, objective); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil // window resolved while we were checking
		}
		return false, err
	}
	log.Debugf("Validated %s on %s: accept=%v objective=%.4f", task.SubmissionID, instanceName, accept, objective)
	return true, nil
}

// solveOne runs one bounded solve on the instance and submits the result if
// it improves on the advertised best.
func (a *Agent) solveOne(ctx context.Context, inst InstanceInfo) (bool, error) {
	problem, err := a.problem(ctx, inst.Name)
	if err != nil {
		return false, err
	}

	sol, err := a.solver.Solve(ctx, problem, a.opts.MaxSolveTime)
	if err != nil {
		if errors.Is(err, solver.ErrNoFeasibleSolution) {
			return false, nil
		}
		return false, err
	}

	status, err := a.client.Status(ctx, inst.Name)
	if err != nil {
		return false, err
	}
	if status.BestObjectiveValue != nil && !problem.Better(sol.ObjectiveValue, *status.BestObjectiveValue) {
		return false, nil // nothing better than what the platform already has
	}

	claim := sol.ObjectiveValue
	if a.opts.Malicious {
		// claim an impossibly good value; honest validators will reject it
		if problem.Minimize {
			claim = sol.ObjectiveValue - 1000
		} else {
			claim = sol.ObjectiveValue + 1000
		}
		sol.ObjectiveValue = claim
	}

	data, err := sol.Encode()
	if err != nil {
		return false, err
	}
	res, err := a.client.Submit(ctx, inst.Name, claim, data)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return false, nil // still pending elsewhere, or instance closed
		}
		return false, err
	}

	log.Infof("Submitted %s on %s (objective %.4f, window closes %s)",
		res.SubmissionID, inst.Name, claim, res.ValidationEndTime)
	return true, nil
}

// problem returns the cached parsed problem, downloading it on first use.
func (a *Agent) problem(ctx context.Context, instanceName string) (*solver.Problem, error) {
	if p, ok := a.problems[instanceName]; ok {
		return p, nil
	}
	data, err := a.client.DownloadInstance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	p, err := solver.ParseProblem(data)
	if err != nil {
		return nil, err
	}
	a.problems[instanceName] = p
	return p, nil
}
