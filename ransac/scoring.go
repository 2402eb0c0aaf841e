package ransac

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Scoring computes the quality of a model and the correspondences it
// explains. Inliers are appended to the passed buffer after truncating it.
// Implementations must be deterministic and safe for concurrent use.
type Scoring interface {
	Score(data *mat.Dense, model Model, est Estimator, inliers []int) (Score, []int)
	ScoreMatches(set *MatchSet, model Model, est Estimator, inliers []Match) (Score, []Match)
	// Threshold is the inlier-outlier residual threshold
	Threshold() float64
}

// ScoringType selects a scoring policy
type ScoringType int

const (
	ScoringRANSAC ScoringType = iota
	ScoringMSAC
	ScoringMAGSAC
)

var scoringTypeNames = map[ScoringType]string{
	ScoringRANSAC: "ransac",
	ScoringMSAC:   "msac",
	ScoringMAGSAC: "magsac",
}

// String returns the configuration name of the scoring type
func (t ScoringType) String() string { return enumString(scoringTypeNames, t) }

// MarshalText implements encoding.TextMarshaler
func (t ScoringType) MarshalText() ([]byte, error) { return enumMarshal(scoringTypeNames, t) }

// UnmarshalText implements encoding.TextUnmarshaler
func (t *ScoringType) UnmarshalText(b []byte) error {
	return enumUnmarshal(scoringTypeNames, "scoring", b, t)
}

// NewScoring returns the scorer for a scoring type
func NewScoring(t ScoringType, threshold float64) (Scoring, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("inlier threshold must be positive, got %g", threshold)
	}
	switch t {
	case ScoringRANSAC:
		return RANSACScoring{threshold: threshold}, nil
	case ScoringMSAC:
		return MSACScoring{threshold: threshold}, nil
	}
	return nil, fmt.Errorf("scoring %s is not supported", t)
}

// RANSACScoring counts correspondences with residual below the threshold.
type RANSACScoring struct {
	threshold float64
}

// NewRANSACScoring creates a counting scorer
func NewRANSACScoring(threshold float64) RANSACScoring {
	return RANSACScoring{threshold: threshold}
}

// Threshold implements Scoring
func (s RANSACScoring) Threshold() float64 { return s.threshold }

// Score counts the points within the threshold and returns their indices
func (s RANSACScoring) Score(data *mat.Dense, model Model, est Estimator, inliers []int) (Score, []int) {
	inliers = inliers[:0]
	sqThreshold := s.threshold * s.threshold
	rows, _ := data.Dims()
	for i := 0; i < rows; i++ {
		if est.SquaredResidual(data.RawRowView(i), model) < sqThreshold {
			inliers = append(inliers, i)
		}
	}
	return Score{Inliers: len(inliers), Value: float64(len(inliers))}, inliers
}

// ScoreMatches implements Scoring
func (s RANSACScoring) ScoreMatches(set *MatchSet, model Model, est Estimator, inliers []Match) (Score, []Match) {
	inliers = inliers[:0]
	sqThreshold := s.threshold * s.threshold
	var row [4]float64
	for _, m := range set.Matches {
		if est.SquaredResidual(set.Row(m, row[:]), model) < sqThreshold {
			inliers = append(inliers, m)
		}
	}
	return Score{Inliers: len(inliers), Value: float64(len(inliers))}, inliers
}

// MSACScoring sums the truncated quadratic loss 1 - r^2/t^2 over inliers.
// In the two-sided form each term is weighted by the match confidence.
type MSACScoring struct {
	threshold float64
}

// NewMSACScoring creates a truncated-quadratic scorer
func NewMSACScoring(threshold float64) MSACScoring {
	return MSACScoring{threshold: threshold}
}

// Threshold implements Scoring
func (s MSACScoring) Threshold() float64 { return s.threshold }

// Score implements Scoring with the truncated squared residual loss
func (s MSACScoring) Score(data *mat.Dense, model Model, est Estimator, inliers []int) (Score, []int) {
	inliers = inliers[:0]
	sqThreshold := s.threshold * s.threshold
	rows, _ := data.Dims()
	var value float64
	for i := 0; i < rows; i++ {
		r2 := est.SquaredResidual(data.RawRowView(i), model)
		if r2 < sqThreshold {
			inliers = append(inliers, i)
			value += 1 - r2/sqThreshold
		}
	}
	return Score{Inliers: len(inliers), Value: value}, inliers
}

// ScoreMatches implements Scoring
func (s MSACScoring) ScoreMatches(set *MatchSet, model Model, est Estimator, inliers []Match) (Score, []Match) {
	inliers = inliers[:0]
	sqThreshold := s.threshold * s.threshold
	var row [4]float64
	var value float64
	for i, m := range set.Matches {
		r2 := est.SquaredResidual(set.Row(m, row[:]), model)
		if r2 < sqThreshold {
			inliers = append(inliers, m)
			value += set.Weight(i) * (1 - r2/sqThreshold)
		}
	}
	return Score{Inliers: len(inliers), Value: value}, inliers
}
