package ransac

import (
	"gonum.org/v1/gonum/mat"
)

// LocalOptimizer refines a model hypothesis and its inlier set. The model
// and score passed in are only a starting point: implementations rescore
// the model before refining it. Both methods always return a model, its
// score and its inliers, possibly identical to the rescored input.
type LocalOptimizer interface {
	// Run works on a data matrix indexed directly by row
	Run(data *mat.Dense, inliers []int, model Model, score Score, est Estimator, sc Scoring) (Model, Score, []int)
	// RunMatches works on two point tables joined by a match table
	RunMatches(set *MatchSet, inliers []Match, model Model, score Score, est Estimator, sc Scoring) (Model, Score, []Match)
}

// NestedRANSACOptimizer runs an inner RANSAC on the current inliers: it
// repeatedly re-estimates the model from non-minimal samples of the inliers
// and keeps every strictly better model it finds. The sample size is the
// estimator's base size times SampleSizeMultiplier, capped by the number of
// inliers minus one.
//
// The optimizer holds configuration only, so concurrent calls with
// distinct arguments are safe.
type NestedRANSACOptimizer struct {
	maxIterations        int
	sampleSizeMultiplier int
	newSampler           func() Sampler
}

// NewNestedRANSACOptimizer creates an optimizer with 50 iterations and a
// sample size multiplier of 7
func NewNestedRANSACOptimizer() *NestedRANSACOptimizer {
	return &NestedRANSACOptimizer{
		maxIterations:        DefaultLocalOptimizationSettings().MaxIterations,
		sampleSizeMultiplier: DefaultLocalOptimizationSettings().SampleSizeMultiplier,
	}
}

// SetMaxIterations sets the maximum number of inner iterations
func (o *NestedRANSACOptimizer) SetMaxIterations(n int) {
	o.maxIterations = n
}

// SetSampleSizeMultiplier sets the factor applied to the estimator's base
// sample size
func (o *NestedRANSACOptimizer) SetSampleSizeMultiplier(n int) {
	o.sampleSizeMultiplier = n
}

// SetSamplerFactory replaces the sampler used by each run. The factory is
// called once per Run/RunMatches and must be safe for concurrent use when
// the optimizer is shared.
func (o *NestedRANSACOptimizer) SetSamplerFactory(f func() Sampler) {
	o.newSampler = f
}

// MaxIterations returns the configured iteration cap
func (o *NestedRANSACOptimizer) MaxIterations() int { return o.maxIterations }

// SampleSizeMultiplier returns the configured multiplier
func (o *NestedRANSACOptimizer) SampleSizeMultiplier() int { return o.sampleSizeMultiplier }

func (o *NestedRANSACOptimizer) sampler() Sampler {
	if o.newSampler != nil {
		return o.newSampler()
	}
	return NewUniformRandomSampler(nil)
}

// Run implements LocalOptimizer. A failed non-minimal fit only skips the
// iteration.
func (o *NestedRANSACOptimizer) Run(data *mat.Dense, _ []int, model Model, _ Score, est Estimator, sc Scoring) (Model, Score, []int) {
	sampler := o.sampler()
	base := est.SampleSize()
	nonMinimal := o.sampleSizeMultiplier * base
	rows, _ := data.Dims()

	bestModel := model
	bestScore, bestInliers := sc.Score(data, bestModel, est, make([]int, 0, rows))
	current := make([]int, 0, rows)
	sample := make([]int, max(nonMinimal, 0))
	var candidates []Model

	sampler.Initialize(len(bestInliers) - 1)

	for iteration := 0; iteration < o.maxIterations; iteration++ {
		size := nestedSampleSize(len(bestInliers), nonMinimal)
		if size < base {
			break
		}

		// Positions and data rows share the buffer; mapping is done in place
		if !drawSample(sampler, bestInliers, size, sample, sample) {
			continue
		}

		var ok bool
		candidates, ok = est.EstimateModelNonminimal(data, sample[:size], nil, candidates[:0])
		if !ok {
			continue
		}

		for _, candidate := range candidates {
			var score Score
			score, current = sc.Score(data, candidate, est, current)
			if score.Better(bestScore) {
				bestModel = candidate
				bestScore = score
				bestInliers, current = current, bestInliers
				sampler.Initialize(len(bestInliers) - 1)
			}
		}
	}

	return bestModel, bestScore, bestInliers
}

// RunMatches implements LocalOptimizer. A failed non-minimal fit aborts the
// run and returns the best model found so far.
func (o *NestedRANSACOptimizer) RunMatches(set *MatchSet, _ []Match, model Model, _ Score, est Estimator, sc Scoring) (Model, Score, []Match) {
	sampler := o.sampler()
	base := est.NonMinimalSampleSize()
	nonMinimal := o.sampleSizeMultiplier * base
	n := set.Len()

	bestModel := model
	bestScore, bestInliers := sc.ScoreMatches(set, bestModel, est, make([]Match, 0, n))
	current := make([]Match, 0, n)
	positions := make([]int, max(nonMinimal, 0))
	sample := make([]Match, max(nonMinimal, 0))
	var candidates []Model

	sampler.Initialize(len(bestInliers) - 1)

	for iteration := 0; iteration < o.maxIterations; iteration++ {
		size := nestedSampleSize(len(bestInliers), nonMinimal)
		if size < base {
			break
		}

		if !drawSample(sampler, bestInliers, size, positions, sample) {
			continue
		}

		// The current best seeds the candidate list and is rescored with
		// the new fits.
		candidates = append(candidates[:0], bestModel)

		var ok bool
		candidates, ok = est.EstimateModelNonminimal(set.Block(sample[:size]), nil, nil, candidates)
		if !ok {
			return bestModel, bestScore, bestInliers
		}

		for _, candidate := range candidates {
			var score Score
			score, current = sc.ScoreMatches(set, candidate, est, current)
			if score.Better(bestScore) {
				bestModel = candidate
				bestScore = score
				bestInliers, current = current, bestInliers
				sampler.Initialize(len(bestInliers) - 1)
			}
		}
	}

	return bestModel, bestScore, bestInliers
}

// nestedSampleSize is min(inlierCount-1, nonMinimal)
func nestedSampleSize(inlierCount, nonMinimal int) int {
	return min(inlierCount-1, nonMinimal)
}

// drawSample fills out[:size] with entries of inliers. When the sample
// covers the whole population the inliers are copied in order and the
// sampler is not used. positions and out may share storage when T is int.
func drawSample[T any](sampler Sampler, inliers []T, size int, positions []int, out []T) bool {
	if size == len(inliers) {
		copy(out[:size], inliers)
		return true
	}
	if !sampler.Sample(len(inliers), size, positions) {
		return false
	}
	for i := 0; i < size; i++ {
		out[i] = inliers[positions[i]]
	}
	return true
}
