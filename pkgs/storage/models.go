package storage

import (
	"time"
)

// ProblemInstance is the catalog entry for one optimization problem. Budget
// fields are mutated only through settlement transactions.
type ProblemInstance struct {
	Name              string `gorm:"primaryKey"`
	ClientID          string
	Description       string
	FileLocation      string
	RewardAccumulated int64
	RewardBudget      int64
	Active            bool
	Minimize          bool // optimization direction: true = lower objective is better
	CreatedAt         time.Time
}

// TableName keeps the schema name used by the platform database.
func (ProblemInstance) TableName() string { return "problem_instances" }

// Solution is one solution submission and its terminal outcome. Accepted is
// tri-state: nil while the validation window is open, then true or false
// forever after.
type Solution struct {
	ID                  string `gorm:"primaryKey"`
	ProblemInstanceName string `gorm:"index"`
	AgentID             string `gorm:"index"`
	SubmissionTime      time.Time
	ValidationEndTime   time.Time `gorm:"index"`
	ObjectiveValue      *float64  // submitter's claim until resolution, then the consensus value
	Accepted            *bool     // nil = pending
	Active              bool      `gorm:"index"` // true while the validation window is open
	AcceptedCount       int
	RejectedCount       int
	RewardAccumulated   int64  // total reward paid out as a result of this submission
	SolFilePath         string // artifact location while under validation
}

func (Solution) TableName() string { return "all_solutions" }

// Pending reports whether the submission has not reached a terminal state.
func (s *Solution) Pending() bool { return s.Accepted == nil }

// ValidationVote is one agent's validation verdict on one submission. Each
// agent may vote at most once per submission; rows are never mutated.
type ValidationVote struct {
	SolutionSubmissionID string `gorm:"primaryKey"`
	ValidatorAgentID     string `gorm:"primaryKey"`
	ProblemInstanceName  string `gorm:"index"`
	ValidationResponse   bool
	ObjectiveValue       float64
	Reward               int64 // nominal reward earned for casting this vote
	CreatedAt            time.Time
}

func (ValidationVote) TableName() string { return "active_solutions_submissions_validations" }

// BestSolution points at the currently accepted best submission for an
// instance. At most one row per instance; replaced atomically on improvement.
type BestSolution struct {
	ProblemInstanceName string `gorm:"primaryKey"`
	SolutionID          string
	FileLocation        string
	ObjectiveValue      float64
	UpdatedAt           time.Time
}

func (BestSolution) TableName() string { return "best_solutions" }

// AgentNode is an agent registered on the platform. The registered population
// defines the eligible-voter pool for quorum math.
type AgentNode struct {
	ID           string `gorm:"primaryKey"`
	RegisteredAt time.Time
}

func (AgentNode) TableName() string { return "agent_nodes" }

// LedgerEntry is one append-only record of a submission state transition,
// kept for audit independently of the mutable submission row.
type LedgerEntry struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	SolutionID          string `gorm:"index"`
	ProblemInstanceName string `gorm:"index"`
	FromState           string
	ToState             string
	ObjectiveValue      *float64
	RewardPaid          int64
	RecordedAt          time.Time
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
