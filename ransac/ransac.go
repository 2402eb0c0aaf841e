package ransac

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// RANSAC is the outer hypothesize-and-verify loop. Workers draw minimal
// samples in parallel; every new best hypothesis is handed to the local
// optimizer and the best model overall to the final optimizer.
type RANSAC struct {
	settings  Settings
	estimator Estimator
	scoring   Scoring
	local     LocalOptimizer
	final     LocalOptimizer
	seeds     atomic.Int64
}

// Result is the outcome of a one-sided run
type Result struct {
	Model      Model
	Score      Score
	Inliers    []int
	Iterations int
}

// MatchResult is the outcome of a two-sided run
type MatchResult struct {
	Model      Model
	Score      Score
	Inliers    []Match
	Iterations int
}

// New builds a RANSAC for an estimator from validated settings
func New(settings Settings, est Estimator) (*RANSAC, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	sc, err := NewScoring(settings.Scoring, settings.InlierThreshold)
	if err != nil {
		return nil, err
	}
	local, err := NewLocalOptimizer(settings.LocalOptimization, settings.LocalOptimizationSettings, settings.Seed)
	if err != nil {
		return nil, err
	}
	final, err := NewLocalOptimizer(settings.FinalOptimization, settings.FinalOptimizationSettings, settings.Seed)
	if err != nil {
		return nil, err
	}
	return &RANSAC{
		settings:  settings,
		estimator: est,
		scoring:   sc,
		local:     local,
		final:     final,
	}, nil
}

// Settings returns the configuration the loop runs with
func (r *RANSAC) Settings() Settings { return r.settings }

// Run fits a model to the rows of data
func (r *RANSAC) Run(ctx context.Context, data *mat.Dense) (*Result, error) {
	rows, _ := data.Dims()
	est, sc := r.estimator, r.scoring

	h, iterations, err := search(ctx, r, searchSpace[int]{
		size: rows,
		estimate: func(sample []int, models []Model) ([]Model, bool) {
			return est.EstimateModel(data, sample, models)
		},
		score: func(model Model, inliers []int) (Score, []int) {
			return sc.Score(data, model, est, inliers)
		},
		optimize: func(opt LocalOptimizer, h hypothesis[int]) hypothesis[int] {
			m, s, in := opt.Run(data, h.inliers, h.model, h.score, est, sc)
			return hypothesis[int]{model: m, score: s, inliers: in}
		},
	})
	if err != nil {
		return nil, err
	}
	return &Result{Model: h.model, Score: h.score, Inliers: h.inliers, Iterations: iterations}, nil
}

// RunMatches fits a model to a two-sided match set
func (r *RANSAC) RunMatches(ctx context.Context, set *MatchSet) (*MatchResult, error) {
	est, sc := r.estimator, r.scoring

	h, iterations, err := search(ctx, r, searchSpace[Match]{
		size: set.Len(),
		estimate: func(sample []int, models []Model) ([]Model, bool) {
			matches := make([]Match, len(sample))
			for i, pos := range sample {
				matches[i] = set.Matches[pos]
			}
			return est.EstimateModel(set.Block(matches), nil, models)
		},
		score: func(model Model, inliers []Match) (Score, []Match) {
			return sc.ScoreMatches(set, model, est, inliers)
		},
		optimize: func(opt LocalOptimizer, h hypothesis[Match]) hypothesis[Match] {
			m, s, in := opt.RunMatches(set, h.inliers, h.model, h.score, est, sc)
			return hypothesis[Match]{model: m, score: s, inliers: in}
		},
	})
	if err != nil {
		return nil, err
	}
	return &MatchResult{Model: h.model, Score: h.score, Inliers: h.inliers, Iterations: iterations}, nil
}

type hypothesis[T any] struct {
	model   Model
	score   Score
	inliers []T
}

// searchSpace adapts one data layout to the generic loop. Samples are
// positions in [0, size).
type searchSpace[T any] struct {
	size     int
	estimate func(sample []int, models []Model) ([]Model, bool)
	score    func(model Model, inliers []T) (Score, []T)
	optimize func(opt LocalOptimizer, h hypothesis[T]) hypothesis[T]
}

// best is the hypothesis shared between workers
type best[T any] struct {
	mu       sync.Mutex
	h        hypothesis[T]
	required int
}

func (b *best[T]) snapshot() (Score, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.h.score, b.required
}

// offer installs h if it beats the current best
func (b *best[T]) offer(h hypothesis[T], required int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !h.score.Better(b.h.score) {
		return false
	}
	b.h = h
	b.required = required
	return true
}

func search[T any](ctx context.Context, r *RANSAC, space searchSpace[T]) (hypothesis[T], int, error) {
	s := r.settings
	m := r.estimator.SampleSize()
	if space.size < m {
		return hypothesis[T]{}, 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, space.size, m)
	}

	shared := &best[T]{
		h:        hypothesis[T]{score: InvalidScore()},
		required: s.MaxIterations,
	}
	var claimed, done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.CoreNumber; w++ {
		sampler := r.workerSampler()
		g.Go(func() error {
			sampler.Initialize(space.size - 1)
			sample := make([]int, m)
			var models []Model
			var inliers []T

			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				_, required := shared.snapshot()
				if int(claimed.Add(1)) > iterationLimit(required, s.MinIterations, s.MaxIterations) {
					return nil
				}

				if !sampler.Sample(space.size, m, sample) {
					done.Add(1)
					continue
				}
				var ok bool
				models, ok = space.estimate(sample, models[:0])
				if ok {
					for _, model := range models {
						var score Score
						score, inliers = space.score(model, inliers)
						bestScore, _ := shared.snapshot()
						if !score.Better(bestScore) {
							continue
						}

						h := hypothesis[T]{model: model, score: score, inliers: append([]T(nil), inliers...)}
						if r.local != nil {
							if refined := space.optimize(r.local, h); refined.score.Better(h.score) {
								h = refined
							}
						}
						ratio := float64(h.score.Inliers) / float64(space.size)
						shared.offer(h, requiredIterations(s.Confidence, ratio, m))
					}
				}
				done.Add(1)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return hypothesis[T]{}, int(done.Load()), err
	}

	h := shared.h
	if !h.score.Valid() {
		return hypothesis[T]{}, int(done.Load()), ErrNoModel
	}
	if r.final != nil {
		if refined := space.optimize(r.final, h); refined.score.Better(h.score) {
			h = refined
		}
	}
	return h, int(done.Load()), nil
}

// workerSampler returns a sampler for one worker, reproducible when a seed
// is configured
func (r *RANSAC) workerSampler() Sampler {
	seed := r.settings.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewUniformRandomSampler(rand.New(rand.NewSource(seed + r.seeds.Add(1)*7919)))
}
