package storage

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnavailable wraps persistence-layer failures. Callers treat the
	// operation as not-yet-recorded and may retry.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")
)

// Store wraps the platform database. All coordinator state lives here.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening database at %s: %v", ErrUnavailable, path, err)
	}

	err = db.AutoMigrate(
		&ProblemInstance{},
		&Solution{},
		&ValidationVote{},
		&BestSolution{},
		&AgentNode{},
		&LedgerEntry{},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: migrating schema: %v", ErrUnavailable, err)
	}

	log.Infof("Connected to database at %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sqlDB.Close()
}

// DB exposes the underlying handle for transactional helpers that span
// multiple components (settlement, ledger).
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn inside a single database transaction.
func (s *Store) Transaction(fn func(tx *gorm.DB) error) error {
	if err := s.db.Transaction(fn); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Problem instances

// CreateInstance registers a new problem instance.
func (s *Store) CreateInstance(inst *ProblemInstance) error {
	return wrapErr(s.db.Create(inst).Error)
}

// GetInstance loads one problem instance by name.
func (s *Store) GetInstance(name string) (*ProblemInstance, error) {
	var inst ProblemInstance
	if err := s.db.First(&inst, "name = ?", name).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &inst, nil
}

// ActiveInstances lists every instance still accepting submissions.
func (s *Store) ActiveInstances() ([]ProblemInstance, error) {
	var instances []ProblemInstance
	if err := s.db.Where("active = ?", true).Order("name").Find(&instances).Error; err != nil {
		return nil, wrapErr(err)
	}
	return instances, nil
}

// SampleActiveInstances returns up to n active instances drawn at random.
func (s *Store) SampleActiveInstances(n int) ([]ProblemInstance, error) {
	var instances []ProblemInstance
	err := s.db.Where("active = ?", true).Order("RANDOM()").Limit(n).Find(&instances).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return instances, nil
}

// Agents

// CreateAgent registers a new agent node.
func (s *Store) CreateAgent(agent *AgentNode) error {
	return wrapErr(s.db.Create(agent).Error)
}

// GetAgent loads one agent by id.
func (s *Store) GetAgent(id string) (*AgentNode, error) {
	var agent AgentNode
	if err := s.db.First(&agent, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &agent, nil
}

// CountAgents returns the number of registered agents.
func (s *Store) CountAgents() (int64, error) {
	var count int64
	if err := s.db.Model(&AgentNode{}).Count(&count).Error; err != nil {
		return 0, wrapErr(err)
	}
	return count, nil
}

// Solutions

// CreateSolution records a new pending submission.
func (s *Store) CreateSolution(sol *Solution) error {
	return wrapErr(s.db.Create(sol).Error)
}

// GetSolution loads one submission by id.
func (s *Store) GetSolution(id string) (*Solution, error) {
	var sol Solution
	if err := s.db.First(&sol, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &sol, nil
}

// PendingSolutions lists every submission whose window has not resolved yet.
func (s *Store) PendingSolutions() ([]Solution, error) {
	var sols []Solution
	if err := s.db.Where("accepted IS NULL").Order("submission_time").Find(&sols).Error; err != nil {
		return nil, wrapErr(err)
	}
	return sols, nil
}

// HasPendingFromAgent reports whether the agent already has an open
// submission for the instance.
func (s *Store) HasPendingFromAgent(instanceName, agentID string) (bool, error) {
	var count int64
	err := s.db.Model(&Solution{}).
		Where("problem_instance_name = ? AND agent_id = ? AND accepted IS NULL", instanceName, agentID).
		Count(&count).Error
	if err != nil {
		return false, wrapErr(err)
	}
	return count > 0, nil
}

// OldestEligiblePending returns the oldest open submission on the instance
// that agentID did not submit, has not voted on, and that still has at least
// minTimeLeft of its validation window remaining. Returns ErrNotFound when no
// such submission exists.
func (s *Store) OldestEligiblePending(instanceName, agentID string, minTimeLeft time.Duration) (*Solution, error) {
	cutoff := time.Now().Add(minTimeLeft)
	var sol Solution
	err := s.db.
		Where("problem_instance_name = ? AND accepted IS NULL AND agent_id != ? AND validation_end_time >= ?",
			instanceName, agentID, cutoff).
		Where("id NOT IN (?)", s.db.Model(&ValidationVote{}).
			Select("solution_submission_id").
			Where("validator_agent_id = ?", agentID)).
		Order("submission_time ASC").
		First(&sol).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &sol, nil
}

// Votes

// CreateVote records a validation vote.
func (s *Store) CreateVote(vote *ValidationVote) error {
	return wrapErr(s.db.Create(vote).Error)
}

// HasVoted reports whether the agent already voted on the submission.
func (s *Store) HasVoted(submissionID, agentID string) (bool, error) {
	var count int64
	err := s.db.Model(&ValidationVote{}).
		Where("solution_submission_id = ? AND validator_agent_id = ?", submissionID, agentID).
		Count(&count).Error
	if err != nil {
		return false, wrapErr(err)
	}
	return count > 0, nil
}

// VotesFor returns every vote cast on the submission, in casting order.
func (s *Store) VotesFor(submissionID string) ([]ValidationVote, error) {
	var votes []ValidationVote
	err := s.db.Where("solution_submission_id = ?", submissionID).
		Order("created_at ASC").Find(&votes).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return votes, nil
}

// Best solutions

// CurrentBest returns the best solution row for the instance, or ErrNotFound
// if no submission has been promoted yet.
func (s *Store) CurrentBest(instanceName string) (*BestSolution, error) {
	var best BestSolution
	if err := s.db.First(&best, "problem_instance_name = ?", instanceName).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &best, nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
