package solver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrNoFeasibleSolution is returned when the search found no assignment
// satisfying all constraints within its budget.
var ErrNoFeasibleSolution = errors.New("no feasible solution found")

// Solver searches binary programs with random-restart local search. It is a
// heuristic: it finds feasible, often good solutions, never proves optimality.
// The validation protocol does not care how solutions were produced.
type Solver struct {
	rng *rand.Rand
}

// New creates a solver seeded from the current time.
func New() *Solver {
	return &Solver{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeeded creates a deterministic solver for tests.
func NewSeeded(seed int64) *Solver {
	return &Solver{rng: rand.New(rand.NewSource(seed))}
}

// Solve searches until the deadline or context expires and returns the best
// feasible solution found.
func (s *Solver) Solve(ctx context.Context, p *Problem, deadline time.Duration) (*Solution, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var best *Solution
	for {
		select {
		case <-ctx.Done():
			if best == nil {
				return nil, ErrNoFeasibleSolution
			}
			return best, nil
		default:
		}

		candidate := s.randomAssignment(p)
		candidate = s.localSearch(ctx, p, candidate)

		feasible, objective, err := p.Evaluate(candidate)
		if err != nil || !feasible {
			continue
		}
		if best == nil || p.Better(objective, best.ObjectiveValue) {
			best = &Solution{Assignment: candidate, ObjectiveValue: objective}
		}
	}
}

func (s *Solver) randomAssignment(p *Problem) []int {
	assignment := make([]int, p.Variables)
	for i := range assignment {
		assignment[i] = s.rng.Intn(2)
	}
	return assignment
}

// localSearch flips single variables while that improves feasibility first,
// then objective, until no single flip helps.
func (s *Solver) localSearch(ctx context.Context, p *Problem, assignment []int) []int {
	current := make([]int, len(assignment))
	copy(current, assignment)
	currentScore := s.score(p, current)

	improved := true
	for improved {
		if ctx.Err() != nil {
			return current
		}
		improved = false
		order := s.rng.Perm(p.Variables)
		for _, i := range order {
			current[i] = 1 - current[i]
			if sc := s.score(p, current); sc < currentScore {
				currentScore = sc
				improved = true
			} else {
				current[i] = 1 - current[i]
			}
		}
	}
	return current
}

// score is violation-dominated: any constraint violation outweighs any
// objective difference, so search first restores feasibility.
func (s *Solver) score(p *Problem, assignment []int) float64 {
	violation := 0.0
	for _, c := range p.Consts {
		lhs := 0.0
		for i, coef := range c.Coeffs {
			lhs += coef * float64(assignment[i])
		}
		switch c.Op {
		case "<=":
			violation += math.Max(0, lhs-c.RHS)
		case ">=":
			violation += math.Max(0, c.RHS-lhs)
		case "==":
			violation += math.Abs(lhs - c.RHS)
		}
	}

	objective := 0.0
	for i, coef := range p.Objective {
		objective += coef * float64(assignment[i])
	}
	if !p.Minimize {
		objective = -objective
	}
	return violation*1e9 + objective
}
