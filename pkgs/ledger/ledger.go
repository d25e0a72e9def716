package ledger

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

// Submission lifecycle states as recorded in the audit log.
const (
	StatePending  = "pending"
	StateAccepted = "accepted"
	StateRejected = "rejected"
)

// Ledger is the append-only audit log of submission transitions. It is also
// the query surface for "what is currently best for instance X", so agents
// never have to re-derive that from raw votes.
type Ledger struct {
	store *storage.Store
}

// New creates a ledger backed by the given store.
func New(store *storage.Store) *Ledger {
	return &Ledger{store: store}
}

// Append records a state transition inside the given transaction. Entries are
// never updated or deleted.
func (l *Ledger) Append(tx *gorm.DB, solutionID, instanceName, from, to string, objective *float64, rewardPaid int64) error {
	entry := &storage.LedgerEntry{
		SolutionID:          solutionID,
		ProblemInstanceName: instanceName,
		FromState:           from,
		ToState:             to,
		ObjectiveValue:      objective,
		RewardPaid:          rewardPaid,
		RecordedAt:          time.Now(),
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("%w: appending ledger entry for %s: %v", storage.ErrUnavailable, solutionID, err)
	}
	return nil
}

// CurrentBest returns the promoted best solution for the instance, or
// (nil, nil) when no submission has been accepted as best yet.
func (l *Ledger) CurrentBest(instanceName string) (*storage.BestSolution, error) {
	best, err := l.store.CurrentBest(instanceName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return best, nil
}

// History returns every recorded transition for a submission in order.
func (l *Ledger) History(solutionID string) ([]storage.LedgerEntry, error) {
	var entries []storage.LedgerEntry
	err := l.store.DB().
		Where("solution_id = ?", solutionID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%w: loading ledger history for %s: %v", storage.ErrUnavailable, solutionID, err)
	}
	return entries, nil
}

// InstanceHistory returns every transition recorded for an instance.
func (l *Ledger) InstanceHistory(instanceName string) ([]storage.LedgerEntry, error) {
	var entries []storage.LedgerEntry
	err := l.store.DB().
		Where("problem_instance_name = ?", instanceName).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%w: loading ledger history for instance %s: %v", storage.ErrUnavailable, instanceName, err)
	}
	return entries, nil
}
