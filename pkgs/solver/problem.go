package solver

import (
	"encoding/json"
	"fmt"
	"math"
)

// Constraint is one linear inequality or equality over binary variables.
type Constraint struct {
	Coeffs []float64 `json:"coeffs"`
	Op     string    `json:"op"` // "<=", ">=", "=="
	RHS    float64   `json:"rhs"`
}

// Problem is a binary linear program. Variables take values in {0, 1}.
type Problem struct {
	Name      string       `json:"name"`
	Variables int          `json:"variables"`
	Minimize  bool         `json:"minimize"`
	Objective []float64    `json:"objective"`
	Consts    []Constraint `json:"constraints"`
}

// ParseProblem decodes a problem file.
func ParseProblem(data []byte) (*Problem, error) {
	var p Problem
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing problem: %w", err)
	}
	if p.Variables <= 0 {
		return nil, fmt.Errorf("problem declares %d variables", p.Variables)
	}
	if len(p.Objective) != p.Variables {
		return nil, fmt.Errorf("objective has %d coefficients for %d variables", len(p.Objective), p.Variables)
	}
	for i, c := range p.Consts {
		if len(c.Coeffs) != p.Variables {
			return nil, fmt.Errorf("constraint %d has %d coefficients for %d variables", i, len(c.Coeffs), p.Variables)
		}
		switch c.Op {
		case "<=", ">=", "==":
		default:
			return nil, fmt.Errorf("constraint %d has unknown operator %q", i, c.Op)
		}
	}
	return &p, nil
}

// Solution is one candidate assignment with its claimed objective value.
type Solution struct {
	Assignment     []int   `json:"assignment"`
	ObjectiveValue float64 `json:"objective_value"`
}

// ParseSolution decodes a solution artifact.
func ParseSolution(data []byte) (*Solution, error) {
	var s Solution
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing solution: %w", err)
	}
	return &s, nil
}

// Encode serializes the solution for submission.
func (s *Solution) Encode() ([]byte, error) {
	return json.Marshal(s)
}

const feasibilityTolerance = 1e-6

// Evaluate checks an assignment against the problem and returns its true
// objective value. Validators trust this, never the submitter's claim.
func (p *Problem) Evaluate(assignment []int) (feasible bool, objective float64, err error) {
	if len(assignment) != p.Variables {
		return false, 0, fmt.Errorf("assignment has %d values for %d variables", len(assignment), p.Variables)
	}
	for i, v := range assignment {
		if v != 0 && v != 1 {
			return false, 0, fmt.Errorf("variable %d is %d, expected 0 or 1", i, v)
		}
	}

	for _, c := range p.Consts {
		lhs := 0.0
		for i, coef := range c.Coeffs {
			lhs += coef * float64(assignment[i])
		}
		switch c.Op {
		case "<=":
			if lhs > c.RHS+feasibilityTolerance {
				return false, 0, nil
			}
		case ">=":
			if lhs < c.RHS-feasibilityTolerance {
				return false, 0, nil
			}
		case "==":
			if math.Abs(lhs-c.RHS) > feasibilityTolerance {
				return false, 0, nil
			}
		}
	}

	for i, coef := range p.Objective {
		objective += coef * float64(assignment[i])
	}
	return true, objective, nil
}

// Better reports whether objective a strictly improves on b in the problem's
// optimization direction.
func (p *Problem) Better(a, b float64) bool {
	if p.Minimize {
		return a < b
	}
	return a > b
}
