package ransac

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"

	"gonum.org/v1/gonum/mat"
)

// ProblemFileSuffix marks problem files in a data directory
const ProblemFileSuffix = ".problem.json"

var problemIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Problem is a fitting request. Single-set problems carry Points; two-view
// problems carry either Points (rows x1 y1 x2 y2) or the two-sided form
// Source, Destination and Matches.
type Problem struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Threshold   float64     `json:"threshold,omitempty"` // overrides the configured inlier threshold
	Points      [][]float64 `json:"points,omitempty"`
	Source      [][]float64 `json:"source,omitempty"`
	Destination [][]float64 `json:"destination,omitempty"`
	Matches     []Match     `json:"matches,omitempty"`
	MatchScores []float64   `json:"matchScores,omitempty"`
	GroundTruth [][]float64 `json:"groundTruth,omitempty"` // set by GenerateProblem
}

// ParseProblem decodes and validates a JSON problem
func ParseProblem(data []byte) (*Problem, error) {
	var p Problem
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseProblemFile reads and parses a problem file
func ParseProblemFile(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problem file: %w", err)
	}
	p, err := ParseProblem(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// TwoSided reports whether the problem uses the match table form
func (p *Problem) TwoSided() bool {
	return len(p.Matches) > 0
}

// Count returns the number of correspondences
func (p *Problem) Count() int {
	if p.TwoSided() {
		return len(p.Matches)
	}
	return len(p.Points)
}

// Validate checks that the problem is well formed and large enough for its
// estimator
func (p *Problem) Validate() error {
	if !problemIDPattern.MatchString(p.ID) {
		return fmt.Errorf("%w: id %q must match %s", ErrInvalidProblem, p.ID, problemIDPattern)
	}
	est, err := NewEstimator(p.Kind)
	if err != nil {
		return err
	}
	if p.Threshold < 0 || math.IsNaN(p.Threshold) {
		return fmt.Errorf("%w: threshold must be non-negative", ErrInvalidProblem)
	}

	if p.TwoSided() {
		if p.Kind == KindLine {
			return fmt.Errorf("%w: %s problems take points, not matches", ErrInvalidProblem, p.Kind)
		}
		if len(p.Points) > 0 {
			return fmt.Errorf("%w: points and matches are mutually exclusive", ErrInvalidProblem)
		}
		if err := validateTable("source", p.Source, 2); err != nil {
			return err
		}
		if err := validateTable("destination", p.Destination, 2); err != nil {
			return err
		}
		for i, m := range p.Matches {
			if m.Src < 0 || m.Src >= len(p.Source) || m.Dst < 0 || m.Dst >= len(p.Destination) {
				return fmt.Errorf("%w: match %d (%d, %d) out of range", ErrInvalidProblem, i, m.Src, m.Dst)
			}
		}
		if p.MatchScores != nil && len(p.MatchScores) != len(p.Matches) {
			return fmt.Errorf("%w: %d match scores for %d matches", ErrInvalidProblem, len(p.MatchScores), len(p.Matches))
		}
		for i, s := range p.MatchScores {
			if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
				return fmt.Errorf("%w: match score %d is %g", ErrInvalidProblem, i, s)
			}
		}
	} else if err := validateTable("points", p.Points, DataColumns(p.Kind)); err != nil {
		return err
	}

	if n := p.Count(); n < est.SampleSize() {
		return fmt.Errorf("%w: %d correspondences, %s needs %d", ErrInsufficientData, n, p.Kind, est.SampleSize())
	}
	return nil
}

func validateTable(name string, rows [][]float64, cols int) error {
	for i, row := range rows {
		if len(row) != cols {
			return fmt.Errorf("%w: %s row %d has %d values, want %d", ErrInvalidProblem, name, i, len(row), cols)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s row %d is not finite", ErrInvalidProblem, name, i)
			}
		}
	}
	return nil
}

// DataMatrix returns the one-sided data matrix. Two-sided problems are
// flattened to x1 y1 x2 y2 rows in match order.
func (p *Problem) DataMatrix() *mat.Dense {
	if p.TwoSided() {
		set := p.MatchSet()
		return set.Block(set.Matches)
	}
	if len(p.Points) == 0 {
		return nil
	}
	d := mat.NewDense(len(p.Points), len(p.Points[0]), nil)
	for i, row := range p.Points {
		d.SetRow(i, row)
	}
	return d
}

// MatchSet returns the two-sided form of the problem
func (p *Problem) MatchSet() *MatchSet {
	return &MatchSet{
		Src:     pointTable(p.Source),
		Dst:     pointTable(p.Destination),
		Matches: p.Matches,
		Scores:  p.MatchScores,
	}
}

func pointTable(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	d := mat.NewDense(len(rows), 2, nil)
	for i, row := range rows {
		d.SetRow(i, row)
	}
	return d
}

// Correspondence returns the i-th correspondence as source and destination
// points. Single-set problems return the same point twice.
func (p *Problem) Correspondence(i int) (x1, y1, x2, y2 float64) {
	if p.TwoSided() {
		m := p.Matches[i]
		s, d := p.Source[m.Src], p.Destination[m.Dst]
		return s[0], s[1], d[0], d[1]
	}
	row := p.Points[i]
	if len(row) == 2 {
		return row[0], row[1], row[0], row[1]
	}
	return row[0], row[1], row[2], row[3]
}
