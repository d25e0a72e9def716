package settlement

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

// ErrBudgetExceeded reports that the requested payouts did not fit in the
// instance's remaining budget. Settlement degrades instead of failing: the
// returned Result carries what was actually applied.
var ErrBudgetExceeded = errors.New("reward budget exceeded")

// PayoutKind distinguishes payouts for budget-degradation priority.
type PayoutKind string

const (
	// PayoutValidation rewards an agent for casting a validation vote.
	PayoutValidation PayoutKind = "validation"
	// PayoutSubmission rewards the submitter of an accepted solution.
	PayoutSubmission PayoutKind = "submission"
)

// Payout is one agent's share of a settlement. Payouts are applied in slice
// order; when the budget runs short the tail is clamped and dropped, so
// callers order by priority (validation rewards first, submitter last).
type Payout struct {
	AgentID string
	Amount  int64
	Kind    PayoutKind
}

// Result describes what a settlement actually applied.
type Result struct {
	Applied   int64                // total debited from the instance budget
	PerAgent  map[string]int64     // applied amount per agent
	PerKind   map[PayoutKind]int64 // applied amount per payout kind
	Degraded  bool                 // true if any payout was clamped or dropped
	Exhausted bool                 // true if the instance budget is now fully spent
}

// Settlement atomically debits problem instance budgets and credits agents.
// It is the only component allowed to mutate ProblemInstance budget fields.
type Settlement struct{}

// New creates a settlement component.
func New() *Settlement { return &Settlement{} }

// Apply settles payouts against the instance inside the given transaction.
// Either every mutation commits with the surrounding transaction or none do.
// The budget invariant 0 <= reward_accumulated <= reward_budget holds on
// every exit path; when reward_accumulated reaches reward_budget the instance
// is deactivated and accepts no further submissions.
func (s *Settlement) Apply(tx *gorm.DB, instanceName string, payouts []Payout) (*Result, error) {
	var inst storage.ProblemInstance
	if err := tx.First(&inst, "name = ?", instanceName).Error; err != nil {
		return nil, fmt.Errorf("%w: loading instance %s: %v", storage.ErrUnavailable, instanceName, err)
	}

	remaining := inst.RewardBudget - inst.RewardAccumulated
	if remaining < 0 {
		// Should never happen; refuse to make it worse.
		return nil, fmt.Errorf("instance %s overdrawn: accumulated %d > budget %d",
			instanceName, inst.RewardAccumulated, inst.RewardBudget)
	}

	res := &Result{
		PerAgent: make(map[string]int64),
		PerKind:  make(map[PayoutKind]int64),
	}
	requested := int64(0)
	for _, p := range payouts {
		requested += p.Amount
		if p.Amount <= 0 {
			continue
		}
		amount := p.Amount
		if amount > remaining {
			amount = remaining
			res.Degraded = true
		}
		if amount > 0 {
			res.PerAgent[p.AgentID] += amount
			res.PerKind[p.Kind] += amount
			res.Applied += amount
			remaining -= amount
		}
	}

	inst.RewardAccumulated += res.Applied
	if inst.RewardAccumulated == inst.RewardBudget {
		inst.Active = false
		res.Exhausted = true
	}

	err := tx.Model(&storage.ProblemInstance{}).
		Where("name = ?", instanceName).
		Updates(map[string]interface{}{
			"reward_accumulated": inst.RewardAccumulated,
			"active":             inst.Active,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("%w: updating instance %s: %v", storage.ErrUnavailable, instanceName, err)
	}

	if res.Degraded {
		log.Warnf("Settlement for instance %s degraded: requested %d, applied %d (budget exhausted)",
			instanceName, requested, res.Applied)
	}
	if res.Exhausted {
		log.Infof("Budget for problem instance %s is finished - no further submissions will be accepted", instanceName)
	}

	return res, nil
}

// Settle runs Apply in its own transaction. Used when settlement is not part
// of a larger window-resolution transaction.
func (s *Settlement) Settle(db *gorm.DB, instanceName string, payouts []Payout) (*Result, error) {
	var res *Result
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.Apply(tx, instanceName, payouts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
