package ransac

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// IRLSOptimizer refines a model by iteratively reweighted least squares.
// Each iteration fits all current inliers with weights 1 - r^2/t^2 (times
// the match confidence for match sets) and keeps the fit if it scores
// strictly better. It stops at the first iteration without improvement or
// at the first estimator failure.
type IRLSOptimizer struct {
	maxIterations int
}

// NewIRLSOptimizer creates an optimizer with 50 iterations
func NewIRLSOptimizer() *IRLSOptimizer {
	return &IRLSOptimizer{maxIterations: DefaultLocalOptimizationSettings().MaxIterations}
}

// SetMaxIterations sets the maximum number of reweighting rounds
func (o *IRLSOptimizer) SetMaxIterations(n int) {
	o.maxIterations = n
}

// MaxIterations returns the configured iteration cap
func (o *IRLSOptimizer) MaxIterations() int { return o.maxIterations }

// Run implements LocalOptimizer
func (o *IRLSOptimizer) Run(data *mat.Dense, _ []int, model Model, _ Score, est Estimator, sc Scoring) (Model, Score, []int) {
	rows, _ := data.Dims()
	sqThreshold := sc.Threshold() * sc.Threshold()

	bestModel := model
	bestScore, bestInliers := sc.Score(data, bestModel, est, make([]int, 0, rows))
	current := make([]int, 0, rows)
	var weights []float64
	var candidates []Model

	for iteration := 0; iteration < o.maxIterations; iteration++ {
		if len(bestInliers) < est.NonMinimalSampleSize() {
			break
		}

		weights = weights[:0]
		for _, i := range bestInliers {
			r2 := est.SquaredResidual(data.RawRowView(i), bestModel)
			weights = append(weights, truncatedWeight(r2, sqThreshold))
		}
		if floats.Sum(weights) <= 0 {
			break
		}

		var ok bool
		candidates, ok = est.EstimateModelNonminimal(data, bestInliers, weights, candidates[:0])
		if !ok {
			break
		}

		improved := false
		for _, candidate := range candidates {
			var score Score
			score, current = sc.Score(data, candidate, est, current)
			if score.Better(bestScore) {
				bestModel, bestScore = candidate, score
				bestInliers, current = current, bestInliers
				improved = true
			}
		}
		if !improved {
			break
		}
	}

	return bestModel, bestScore, bestInliers
}

// RunMatches implements LocalOptimizer
func (o *IRLSOptimizer) RunMatches(set *MatchSet, _ []Match, model Model, _ Score, est Estimator, sc Scoring) (Model, Score, []Match) {
	n := set.Len()
	sqThreshold := sc.Threshold() * sc.Threshold()

	bestModel := model
	bestScore, bestInliers := sc.ScoreMatches(set, bestModel, est, make([]Match, 0, n))
	current := make([]Match, 0, n)
	var weights []float64
	var candidates []Model
	var row [4]float64

	for iteration := 0; iteration < o.maxIterations; iteration++ {
		if len(bestInliers) < est.NonMinimalSampleSize() {
			break
		}

		// Scorers emit inliers in match table order, so the confidences
		// can be picked up in one pass.
		weights = weights[:0]
		j := 0
		for i, m := range set.Matches {
			if j < len(bestInliers) && bestInliers[j] == m {
				r2 := est.SquaredResidual(set.Row(m, row[:]), bestModel)
				weights = append(weights, set.Weight(i)*truncatedWeight(r2, sqThreshold))
				j++
			}
		}
		if len(weights) != len(bestInliers) || floats.Sum(weights) <= 0 {
			break
		}

		var ok bool
		candidates, ok = est.EstimateModelNonminimal(set.Block(bestInliers), nil, weights, candidates[:0])
		if !ok {
			break
		}

		improved := false
		for _, candidate := range candidates {
			var score Score
			score, current = sc.ScoreMatches(set, candidate, est, current)
			if score.Better(bestScore) {
				bestModel, bestScore = candidate, score
				bestInliers, current = current, bestInliers
				improved = true
			}
		}
		if !improved {
			break
		}
	}

	return bestModel, bestScore, bestInliers
}

func truncatedWeight(r2, sqThreshold float64) float64 {
	if r2 >= sqThreshold {
		return 0
	}
	return 1 - r2/sqThreshold
}
