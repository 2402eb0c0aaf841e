package ransac

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Solution is the JSON form of a solved problem
type Solution struct {
	ID            string      `json:"id"`
	Kind          string      `json:"kind"`
	Model         [][]float64 `json:"model"`
	Score         Score       `json:"score"`
	Total         int         `json:"total"`
	Inliers       []int       `json:"inliers,omitempty"`
	InlierMatches []Match     `json:"inlierMatches,omitempty"`
	Iterations    int         `json:"iterations"`
	Threshold     float64     `json:"threshold"`
	RMSE          float64     `json:"rmse"`
	MaxResidual   float64     `json:"maxResidual"`
	DurationMs    float64     `json:"durationMs"`
	SolvedAt      time.Time   `json:"solvedAt"`
}

// InlierRatio returns the fraction of correspondences explained by the model
func (s *Solution) InlierRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Score.Inliers) / float64(s.Total)
}

// InlierMask returns, per correspondence index, whether it is an inlier.
// For two-sided problems the index is the position in the match table.
func (s *Solution) InlierMask(p *Problem) []bool {
	mask := make([]bool, p.Count())
	if p.TwoSided() {
		// Inlier matches are a subsequence of the match table
		j := 0
		for i, m := range p.Matches {
			if j < len(s.InlierMatches) && s.InlierMatches[j] == m {
				mask[i] = true
				j++
			}
		}
		return mask
	}
	for _, i := range s.Inliers {
		if i >= 0 && i < len(mask) {
			mask[i] = true
		}
	}
	return mask
}

// Solve validates a problem and fits its model with the given settings.
// A positive problem threshold overrides settings.InlierThreshold.
func Solve(ctx context.Context, p *Problem, settings Settings) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	est, err := NewEstimator(p.Kind)
	if err != nil {
		return nil, err
	}
	if p.Threshold > 0 {
		settings.InlierThreshold = p.Threshold
	}
	r, err := New(settings, est)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sol := &Solution{
		ID:        p.ID,
		Kind:      p.Kind,
		Total:     p.Count(),
		Threshold: settings.InlierThreshold,
	}

	var residuals []float64
	var row [4]float64
	if p.TwoSided() {
		set := p.MatchSet()
		res, err := r.RunMatches(ctx, set)
		if err != nil {
			return nil, err
		}
		sol.Model = res.Model.Rows()
		sol.Score = res.Score
		sol.InlierMatches = res.Inliers
		sol.Iterations = res.Iterations
		for _, m := range res.Inliers {
			residuals = append(residuals, math.Sqrt(est.SquaredResidual(set.Row(m, row[:]), res.Model)))
		}
	} else {
		data := p.DataMatrix()
		res, err := r.Run(ctx, data)
		if err != nil {
			return nil, err
		}
		sol.Model = res.Model.Rows()
		sol.Score = res.Score
		sol.Inliers = res.Inliers
		sol.Iterations = res.Iterations
		for _, i := range res.Inliers {
			residuals = append(residuals, math.Sqrt(est.SquaredResidual(data.RawRowView(i), res.Model)))
		}
	}

	if len(residuals) > 0 {
		sol.RMSE = math.Sqrt(floats.Dot(residuals, residuals) / float64(len(residuals)))
		sol.MaxResidual = floats.Max(residuals)
	}
	sol.DurationMs = float64(time.Since(start).Microseconds()) / 1000
	sol.SolvedAt = time.Now().UTC()
	return sol, nil
}
