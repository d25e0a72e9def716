package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/events"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/ledger"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/metrics"
	rediskeys "github.com/Valgeir99/distributed-optimization-solver/pkgs/redis"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/registry"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/settlement"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

const resolveRetryDelay = 5 * time.Second

// Config carries the protocol parameters the coordinator runs with.
type Config struct {
	ValidationDuration    time.Duration
	ConsensusRatio        float64
	SubmissionReward      int64
	ValidationReward      int64
	MinValidationTimeLeft time.Duration
	ActiveSolutionsDir    string
	BestSolutionsDir      string
}

// Coordinator runs the timed multi-party validation protocol: it accepts
// solution submissions, collects validation votes during a fixed window, and
// resolves each window to a terminal accepted or rejected state exactly once.
type Coordinator struct {
	cfg        Config
	store      *storage.Store
	registry   *registry.Registry
	ledger     *ledger.Ledger
	settlement *settlement.Settlement

	emitter *events.Emitter
	redis   *goredis.Client
	keys    *rediskeys.KeyBuilder

	// one critical section per problem instance, so submissions on
	// different instances never contend
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	// one expiry timer per open validation window
	timers   map[string]*time.Timer
	timersMu sync.Mutex

	// serializes agent id assignment
	registerMu sync.Mutex

	inflight sync.WaitGroup
	closed   atomic.Bool
}

// New creates a coordinator. emitter, redisClient and keys may be nil; the
// protocol runs the same without them.
func New(cfg Config, store *storage.Store, reg *registry.Registry, led *ledger.Ledger, settle *settlement.Settlement,
	emitter *events.Emitter, redisClient *goredis.Client, keys *rediskeys.KeyBuilder) (*Coordinator, error) {

	for _, dir := range []string{cfg.ActiveSolutionsDir, cfg.BestSolutionsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating solutions dir %s: %w", dir, err)
		}
	}

	return &Coordinator{
		cfg:        cfg,
		store:      store,
		registry:   reg,
		ledger:     led,
		settlement: settle,
		emitter:    emitter,
		redis:      redisClient,
		keys:       keys,
		locks:      make(map[string]*sync.Mutex),
		timers:     make(map[string]*time.Timer),
	}, nil
}

// instanceLock returns the mutex guarding the named instance's submissions.
func (c *Coordinator) instanceLock(instanceName string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	mu, ok := c.locks[instanceName]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[instanceName] = mu
	}
	return mu
}

// RegisterAgent assigns the next sequential agent identity and records it.
// The registered population defines the eligible-voter pool.
func (c *Coordinator) RegisterAgent() (string, error) {
	if c.closed.Load() {
		return "", ErrShuttingDown
	}

	c.registerMu.Lock()
	defer c.registerMu.Unlock()

	count, err := c.store.CountAgents()
	if err != nil {
		return "", err
	}
	agentID := fmt.Sprintf("agent_%d", count+1)
	if err := c.store.CreateAgent(&storage.AgentNode{ID: agentID, RegisteredAt: time.Now()}); err != nil {
		return "", err
	}

	metrics.RegisteredAgents.Set(float64(count + 1))
	log.Infof("Registered agent %s", agentID)
	return agentID, nil
}

// Submit records a new solution submission and opens its validation window.
// The submission starts pending and is resolved exactly once, either by the
// window timer, by an early mathematical decision, or lazily on first access
// after expiry.
func (c *Coordinator) Submit(instanceName, agentID string, claimedObjective float64, solutionData []byte) (*storage.Solution, error) {
	if c.closed.Load() {
		return nil, ErrShuttingDown
	}
	if _, err := c.store.GetAgent(agentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownAgent
		}
		return nil, err
	}

	mu := c.instanceLock(instanceName)
	mu.Lock()
	defer mu.Unlock()

	inst, err := c.registry.GetInstance(instanceName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownInstance
		}
		return nil, err
	}
	if !inst.Active {
		metrics.SubmissionsRejectedTotal.WithLabelValues("instance_inactive").Inc()
		return nil, ErrInstanceInactive
	}

	pending, err := c.store.HasPendingFromAgent(instanceName, agentID)
	if err != nil {
		return nil, err
	}
	if pending {
		metrics.SubmissionsRejectedTotal.WithLabelValues("duplicate_submitter").Inc()
		return nil, ErrDuplicateSubmitter
	}

	now := time.Now()
	sol := &storage.Solution{
		ID:                  "sub_" + uuid.NewString(),
		ProblemInstanceName: instanceName,
		AgentID:             agentID,
		SubmissionTime:      now,
		ValidationEndTime:   now.Add(c.cfg.ValidationDuration),
		ObjectiveValue:      &claimedObjective,
		Active:              true,
	}

	if c.cfg.ActiveSolutionsDir != "" {
		sol.SolFilePath = filepath.Join(c.cfg.ActiveSolutionsDir, sol.ID+".sol")
		if err := os.WriteFile(sol.SolFilePath, solutionData, 0o644); err != nil {
			return nil, fmt.Errorf("writing solution artifact: %w", err)
		}
	}

	if err := c.store.CreateSolution(sol); err != nil {
		if sol.SolFilePath != "" {
			os.Remove(sol.SolFilePath)
		}
		return nil, err
	}

	c.armTimer(sol.ID, sol.ValidationEndTime)

	metrics.SubmissionsTotal.WithLabelValues(instanceName).Inc()
	metrics.ActiveWindows.Inc()
	log.Infof("Submission %s on instance %s by %s (claimed objective %.4f, window closes %s)",
		sol.ID, instanceName, agentID, claimedObjective, sol.ValidationEndTime.Format(time.RFC3339))

	if c.emitter != nil {
		c.emitter.EmitSubmissionReceived("coordinator", &events.SubmissionEventPayload{
			SubmissionID:   sol.ID,
			InstanceName:   instanceName,
			AgentID:        agentID,
			ObjectiveValue: &claimedObjective,
		})
	}
	c.recordTimeline(c.keysOrNil(func(kb *rediskeys.KeyBuilder) string { return kb.SubmissionsTimeline(instanceName) }), sol.ID, now)

	return sol, nil
}

// Vote records one agent's validation verdict on a pending submission. Votes
// arriving after the window expired trigger lazy resolution and are refused.
func (c *Coordinator) Vote(submissionID, agentID string, accept bool, computedObjective float64) error {
	if c.closed.Load() {
		return ErrShuttingDown
	}
	if _, err := c.store.GetAgent(agentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnknownAgent
		}
		return err
	}

	sol, err := c.store.GetSolution(submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnknownSubmission
		}
		return err
	}

	mu := c.instanceLock(sol.ProblemInstanceName)
	mu.Lock()
	defer mu.Unlock()

	// re-read under the lock; the window may have resolved meanwhile
	sol, err = c.store.GetSolution(submissionID)
	if err != nil {
		return err
	}
	if !sol.Pending() {
		return ErrWindowClosed
	}
	if time.Now().After(sol.ValidationEndTime) {
		c.resolveLocked(sol.ID)
		return ErrWindowClosed
	}
	if sol.AgentID == agentID {
		return ErrSelfValidation
	}

	voted, err := c.store.HasVoted(submissionID, agentID)
	if err != nil {
		return err
	}
	if voted {
		return ErrDuplicateVote
	}

	vote := &storage.ValidationVote{
		SolutionSubmissionID: submissionID,
		ValidatorAgentID:     agentID,
		ProblemInstanceName:  sol.ProblemInstanceName,
		ValidationResponse:   accept,
		ObjectiveValue:       computedObjective,
		Reward:               c.cfg.ValidationReward,
		CreatedAt:            time.Now(),
	}
	if err := c.store.CreateVote(vote); err != nil {
		return err
	}

	counts := map[string]interface{}{}
	if accept {
		sol.AcceptedCount++
		counts["accepted_count"] = sol.AcceptedCount
	} else {
		sol.RejectedCount++
		counts["rejected_count"] = sol.RejectedCount
	}
	if err := c.store.DB().Model(&storage.Solution{}).Where("id = ?", submissionID).Updates(counts).Error; err != nil {
		log.Errorf("Failed to update vote counts for %s: %v", submissionID, err)
	}

	result := "reject"
	if accept {
		result = "accept"
	}
	metrics.VotesTotal.WithLabelValues(result).Inc()
	log.Debugf("Vote on %s by %s: %s (objective %.4f)", submissionID, agentID, result, computedObjective)

	if c.emitter != nil {
		c.emitter.EmitVoteRecorded("coordinator", &events.VoteEventPayload{
			SubmissionID:   submissionID,
			InstanceName:   sol.ProblemInstanceName,
			ValidatorID:    agentID,
			Accept:         accept,
			ObjectiveValue: computedObjective,
		})
	}
	c.recordTimeline(c.keysOrNil(func(kb *rediskeys.KeyBuilder) string { return kb.ValidationsTimeline(sol.ProblemInstanceName) }),
		fmt.Sprintf("%s:%s:%s", submissionID, agentID, result), vote.CreatedAt)

	// resolve early once the outcome can no longer change
	if decided, _ := c.earlyDecision(sol); decided {
		metrics.EarlyResolutionsTotal.Inc()
		c.resolveLocked(sol.ID)
	}

	return nil
}

// earlyDecision reports whether the window outcome is already mathematically
// fixed no matter how the remaining eligible voters vote.
func (c *Coordinator) earlyDecision(sol *storage.Solution) (decided, accepted bool) {
	total, err := c.store.CountAgents()
	if err != nil {
		return false, false
	}
	eligible := total - 1 // every registered agent except the submitter
	if eligible <= 0 {
		return false, false
	}

	needed := c.cfg.ConsensusRatio * float64(eligible)
	accepts := float64(sol.AcceptedCount)
	remaining := float64(eligible) - float64(sol.AcceptedCount+sol.RejectedCount)

	if accepts >= needed {
		return true, true
	}
	if accepts+remaining < needed {
		return true, false
	}
	return false, false
}

// Status returns the current state of a submission, resolving the window
// first if its timer expired while the coordinator was not watching.
func (c *Coordinator) Status(submissionID string) (*storage.Solution, error) {
	sol, err := c.store.GetSolution(submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownSubmission
		}
		return nil, err
	}

	if sol.Pending() && time.Now().After(sol.ValidationEndTime) {
		mu := c.instanceLock(sol.ProblemInstanceName)
		mu.Lock()
		c.resolveLocked(submissionID)
		mu.Unlock()
		return c.store.GetSolution(submissionID)
	}
	return sol, nil
}

// PendingValidationFor hands out the oldest open submission the agent can
// still usefully validate: not its own, not yet voted on, and with enough
// window time left to download and check the artifact.
func (c *Coordinator) PendingValidationFor(instanceName, agentID string) (*storage.Solution, error) {
	if _, err := c.store.GetAgent(agentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownAgent
		}
		return nil, err
	}
	sol, err := c.store.OldestEligiblePending(instanceName, agentID, c.cfg.MinValidationTimeLeft)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoValidationTask
		}
		return nil, err
	}
	return sol, nil
}

// ReadArtifact loads the solution file of a pending submission.
func (c *Coordinator) ReadArtifact(submissionID string) ([]byte, error) {
	sol, err := c.store.GetSolution(submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownSubmission
		}
		return nil, err
	}
	if sol.SolFilePath == "" {
		return nil, ErrUnknownSubmission
	}
	data, err := os.ReadFile(sol.SolFilePath)
	if err != nil {
		return nil, fmt.Errorf("reading solution artifact: %w", err)
	}
	return data, nil
}

// armTimer schedules window expiry for the submission.
func (c *Coordinator) armTimer(submissionID string, endTime time.Time) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if _, exists := c.timers[submissionID]; exists {
		return
	}
	c.timers[submissionID] = time.AfterFunc(time.Until(endTime), func() {
		c.expire(submissionID)
	})
}

// cancelTimer stops and forgets the submission's expiry timer.
func (c *Coordinator) cancelTimer(submissionID string) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if t, ok := c.timers[submissionID]; ok {
		t.Stop()
		delete(c.timers, submissionID)
	}
}

// expire is the timer callback: resolve the window under its instance lock.
func (c *Coordinator) expire(submissionID string) {
	c.inflight.Add(1)
	defer c.inflight.Done()

	sol, err := c.store.GetSolution(submissionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Errorf("Expiry of %s: loading submission: %v", submissionID, err)
		}
		return
	}

	mu := c.instanceLock(sol.ProblemInstanceName)
	mu.Lock()
	defer mu.Unlock()
	c.resolveLocked(submissionID)
}

// resolveLocked drives the submission to its terminal state. The caller must
// hold the instance lock. Resolution is idempotent: terminal submissions are
// left untouched. On storage failure the window stays pending and a retry
// timer is armed.
func (c *Coordinator) resolveLocked(submissionID string) {
	sol, err := c.store.GetSolution(submissionID)
	if err != nil {
		log.Errorf("Resolving %s: loading submission: %v", submissionID, err)
		return
	}
	if !sol.Pending() {
		return
	}

	votes, err := c.store.VotesFor(submissionID)
	if err != nil {
		log.Errorf("Resolving %s: loading votes: %v", submissionID, err)
		c.scheduleRetry(submissionID)
		return
	}
	totalAgents, err := c.store.CountAgents()
	if err != nil {
		log.Errorf("Resolving %s: counting agents: %v", submissionID, err)
		c.scheduleRetry(submissionID)
		return
	}

	accepted, accepts, rejects := decideOutcome(votes, totalAgents-1, c.cfg.ConsensusRatio)
	objective := consensusObjective(votes, sol.ObjectiveValue)

	payouts := buildPayouts(votes, c.cfg.ValidationReward)
	if accepted {
		payouts = append(payouts, settlement.Payout{
			AgentID: sol.AgentID,
			Amount:  c.cfg.SubmissionReward,
			Kind:    settlement.PayoutSubmission,
		})
	}

	var (
		res      *settlement.Result
		promoted bool
		prevBest string
	)
	err = c.store.Transaction(func(tx *gorm.DB) error {
		toState := ledger.StateRejected
		if accepted {
			toState = ledger.StateAccepted
		}

		res, err = c.settlement.Apply(tx, sol.ProblemInstanceName, payouts)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"accepted":           accepted,
			"active":             false,
			"accepted_count":     accepts,
			"rejected_count":     rejects,
			"reward_accumulated": res.Applied,
		}
		if objective != nil {
			updates["objective_value"] = *objective
		}
		if err := tx.Model(&storage.Solution{}).Where("id = ?", submissionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("%w: finalizing submission %s: %v", storage.ErrUnavailable, submissionID, err)
		}

		if accepted && objective != nil {
			promoted, prevBest, err = c.maybePromoteBest(tx, sol, *objective)
			if err != nil {
				return err
			}
		}

		return c.ledger.Append(tx, submissionID, sol.ProblemInstanceName, ledger.StatePending, toState, objective, res.Applied)
	})
	if err != nil {
		log.Errorf("Resolving %s failed, window stays pending: %v", submissionID, err)
		c.scheduleRetry(submissionID)
		return
	}

	c.cancelTimer(submissionID)
	c.finishResolution(sol, accepted, accepts, rejects, objective, res, promoted, prevBest)
}

// scheduleRetry re-arms the submission's timer so resolution is attempted
// again after a storage failure.
func (c *Coordinator) scheduleRetry(submissionID string) {
	if c.closed.Load() {
		return
	}
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if t, ok := c.timers[submissionID]; ok {
		t.Stop()
	}
	c.timers[submissionID] = time.AfterFunc(resolveRetryDelay, func() {
		c.expire(submissionID)
	})
}

// finishResolution emits the observability side effects of a committed
// resolution. None of these can change the outcome.
func (c *Coordinator) finishResolution(sol *storage.Solution, accepted bool, accepts, rejects int,
	objective *float64, res *settlement.Result, promoted bool, prevBest string) {

	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
	metrics.ActiveWindows.Dec()
	for kind, amount := range res.PerKind {
		metrics.RewardsPaidTotal.WithLabelValues(string(kind)).Add(float64(amount))
	}
	if res.Degraded {
		metrics.SettlementsDegradedTotal.Inc()
	}
	if res.Exhausted {
		metrics.InstancesActive.Dec()
	}
	if promoted {
		metrics.BestPromotionsTotal.WithLabelValues(sol.ProblemInstanceName).Inc()
	}

	log.Infof("Submission %s on %s resolved: %s (%d accept / %d reject, reward paid %d)",
		sol.ID, sol.ProblemInstanceName, outcome, accepts, rejects, res.Applied)

	if c.emitter != nil {
		c.emitter.EmitWindowResolved("coordinator", &events.WindowEventPayload{
			SubmissionID:  sol.ID,
			InstanceName:  sol.ProblemInstanceName,
			ResolvedAt:    time.Now().Unix(),
			AcceptedCount: accepts,
			RejectedCount: rejects,
			Accepted:      accepted,
		})
		c.emitter.EmitRewardSettled("coordinator", &events.SettlementEventPayload{
			SubmissionID: sol.ID,
			InstanceName: sol.ProblemInstanceName,
			Applied:      res.Applied,
			PerAgent:     res.PerAgent,
			Degraded:     res.Degraded,
			Exhausted:    res.Exhausted,
		})
		if res.Exhausted {
			c.emitter.EmitInstanceDeactivated("coordinator", sol.ProblemInstanceName)
		}
		if promoted && objective != nil {
			c.emitter.EmitBestSolutionPromoted("coordinator", &events.BestSolutionEventPayload{
				InstanceName:   sol.ProblemInstanceName,
				SubmissionID:   sol.ID,
				ObjectiveValue: *objective,
				Previous:       prevBest,
			})
		}
	}

	now := time.Now()
	c.recordTimeline(c.keysOrNil(func(kb *rediskeys.KeyBuilder) string { return kb.ResolutionsTimeline() }),
		fmt.Sprintf("%s:%s", sol.ID, outcome), now)
	c.recordTimeline(c.keysOrNil(func(kb *rediskeys.KeyBuilder) string { return kb.SettlementsTimeline(sol.ProblemInstanceName) }),
		fmt.Sprintf("%s:%d", sol.ID, res.Applied), now)

	// the artifact under validation is no longer needed once terminal
	if sol.SolFilePath != "" && !promoted {
		os.Remove(sol.SolFilePath)
	}
}

// maybePromoteBest replaces the instance's best solution when the accepted
// submission is strictly better in the instance's optimization direction.
// Equal objective values do not displace the incumbent.
func (c *Coordinator) maybePromoteBest(tx *gorm.DB, sol *storage.Solution, objective float64) (bool, string, error) {
	var inst storage.ProblemInstance
	if err := tx.First(&inst, "name = ?", sol.ProblemInstanceName).Error; err != nil {
		return false, "", fmt.Errorf("%w: loading instance for promotion: %v", storage.ErrUnavailable, err)
	}

	var current storage.BestSolution
	err := tx.First(&current, "problem_instance_name = ?", sol.ProblemInstanceName).Error
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", fmt.Errorf("%w: loading current best: %v", storage.ErrUnavailable, err)
	}

	if hasCurrent {
		better := objective < current.ObjectiveValue
		if !inst.Minimize {
			better = objective > current.ObjectiveValue
		}
		if !better {
			return false, "", nil
		}
	}

	bestPath := sol.SolFilePath
	if c.cfg.BestSolutionsDir != "" && sol.SolFilePath != "" {
		bestPath = filepath.Join(c.cfg.BestSolutionsDir, sol.ProblemInstanceName+".sol")
		data, err := os.ReadFile(sol.SolFilePath)
		if err != nil {
			return false, "", fmt.Errorf("reading artifact for promotion: %w", err)
		}
		if err := os.WriteFile(bestPath, data, 0o644); err != nil {
			return false, "", fmt.Errorf("writing best solution artifact: %w", err)
		}
	}

	best := storage.BestSolution{
		ProblemInstanceName: sol.ProblemInstanceName,
		SolutionID:          sol.ID,
		FileLocation:        bestPath,
		ObjectiveValue:      objective,
		UpdatedAt:           time.Now(),
	}
	if hasCurrent {
		err = tx.Model(&storage.BestSolution{}).
			Where("problem_instance_name = ?", sol.ProblemInstanceName).
			Updates(map[string]interface{}{
				"solution_id":     best.SolutionID,
				"file_location":   best.FileLocation,
				"objective_value": best.ObjectiveValue,
				"updated_at":      best.UpdatedAt,
			}).Error
	} else {
		err = tx.Create(&best).Error
	}
	if err != nil {
		return false, "", fmt.Errorf("%w: storing best solution: %v", storage.ErrUnavailable, err)
	}

	log.Infof("New best solution for %s: %s (objective %.4f)", sol.ProblemInstanceName, sol.ID, objective)
	return true, current.SolutionID, nil
}

// ResumePendingWindows re-arms timers for every submission that was pending
// when the coordinator last shut down. Windows that expired while the
// coordinator was offline resolve immediately.
func (c *Coordinator) ResumePendingWindows() error {
	pending, err := c.store.PendingSolutions()
	if err != nil {
		return err
	}

	now := time.Now()
	resumed, expired := 0, 0
	for i := range pending {
		sol := pending[i]
		metrics.ActiveWindows.Inc()
		if now.After(sol.ValidationEndTime) {
			mu := c.instanceLock(sol.ProblemInstanceName)
			mu.Lock()
			c.resolveLocked(sol.ID)
			mu.Unlock()
			expired++
			continue
		}
		c.armTimer(sol.ID, sol.ValidationEndTime)
		resumed++
	}

	if resumed+expired > 0 {
		log.Infof("Resumed %d pending validation windows, resolved %d expired ones", resumed, expired)
	}
	return nil
}

// Stop halts intake, cancels all timers and waits for in-flight resolutions.
// Pending windows stay persisted and resume on the next start.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.closed.Store(true)

	c.timersMu.Lock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.timersMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for in-flight resolutions: %w", ctx.Err())
	}
}

func (c *Coordinator) keysOrNil(fn func(*rediskeys.KeyBuilder) string) string {
	if c.keys == nil {
		return ""
	}
	return fn(c.keys)
}

func (c *Coordinator) recordTimeline(key, member string, at time.Time) {
	if c.redis == nil || key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rediskeys.AddToTimeline(ctx, c.redis, key, member, at); err != nil {
		log.Debugf("Timeline write failed: %v", err)
	}
}

// decideOutcome applies the quorum rule: accepted when the accept votes reach
// the consensus ratio of eligible voters. Zero eligible voters auto-accept.
func decideOutcome(votes []storage.ValidationVote, eligible int64, ratio float64) (accepted bool, accepts, rejects int) {
	for _, v := range votes {
		if v.ValidationResponse {
			accepts++
		} else {
			rejects++
		}
	}
	if eligible <= 0 {
		return true, accepts, rejects
	}
	return float64(accepts) >= ratio*float64(eligible), accepts, rejects
}

// consensusObjective picks the most common objective value among accepting
// voters, falling back to the submitter's claim when nobody accepted.
func consensusObjective(votes []storage.ValidationVote, claimed *float64) *float64 {
	counts := make(map[float64]int)
	for _, v := range votes {
		if v.ValidationResponse {
			counts[v.ObjectiveValue]++
		}
	}
	if len(counts) == 0 {
		return claimed
	}

	var mode float64
	bestCount := -1
	for _, v := range votes {
		if !v.ValidationResponse {
			continue
		}
		if counts[v.ObjectiveValue] > bestCount {
			bestCount = counts[v.ObjectiveValue]
			mode = v.ObjectiveValue
		}
	}
	return &mode
}

// buildPayouts rewards every validator for casting a vote, regardless of
// which side it voted. Validator payouts precede the submitter payout so
// budget degradation hits the submitter reward first.
func buildPayouts(votes []storage.ValidationVote, validationReward int64) []settlement.Payout {
	payouts := make([]settlement.Payout, 0, len(votes)+1)
	for _, v := range votes {
		payouts = append(payouts, settlement.Payout{
			AgentID: v.ValidatorAgentID,
			Amount:  validationReward,
			Kind:    settlement.PayoutValidation,
		})
	}
	return payouts
}

