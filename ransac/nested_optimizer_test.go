package ransac

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

// mockSampler records calls; Sample fills out with 0..size-1 when it
// succeeds
type mockSampler struct {
	mock.Mock
}

func (m *mockSampler) Initialize(populationSizeMinusOne int) {
	m.Called(populationSizeMinusOne)
}

func (m *mockSampler) Sample(populationSize, sampleSize int, out []int) bool {
	return m.Called(populationSize, sampleSize, out).Bool(0)
}

func fillSequential(args mock.Arguments) {
	size := args.Int(1)
	out := args.Get(2).([]int)
	for i := 0; i < size; i++ {
		out[i] = i
	}
}

// countModel encodes "the first k rows are inliers" for countScoring
func countModel(k int) Model {
	return Model{Descriptor: mat.NewDense(1, 1, []float64{float64(k)})}
}

func modelCount(m Model) int {
	return int(m.Descriptor.At(0, 0))
}

// countScoring treats the first k rows (or matches) as inliers of a count
// model, capped by the data size
type countScoring struct{}

func (countScoring) Threshold() float64 { return 1 }

func (countScoring) Score(data *mat.Dense, model Model, _ Estimator, inliers []int) (Score, []int) {
	rows, _ := data.Dims()
	k := min(modelCount(model), rows)
	inliers = inliers[:0]
	for i := 0; i < k; i++ {
		inliers = append(inliers, i)
	}
	return Score{Inliers: k, Value: float64(k)}, inliers
}

func (countScoring) ScoreMatches(set *MatchSet, model Model, _ Estimator, inliers []Match) (Score, []Match) {
	k := min(modelCount(model), set.Len())
	inliers = append(inliers[:0], set.Matches[:k]...)
	return Score{Inliers: k, Value: float64(k)}, inliers
}

// stubEstimator records every non-minimal call and answers with next
type stubEstimator struct {
	base       int
	nonMinimal int
	fail       bool
	// next returns the candidates for the call with the given index
	next func(call int) []Model

	sizes      []int
	seededWith []int // len(models) on entry
}

func (e *stubEstimator) SampleSize() int           { return e.base }
func (e *stubEstimator) NonMinimalSampleSize() int { return e.nonMinimal }

func (e *stubEstimator) EstimateModel(data *mat.Dense, sample []int, models []Model) ([]Model, bool) {
	return e.EstimateModelNonminimal(data, sample, nil, models)
}

func (e *stubEstimator) EstimateModelNonminimal(data *mat.Dense, sample []int, _ []float64, models []Model) ([]Model, bool) {
	e.sizes = append(e.sizes, sampleLen(data, sample))
	e.seededWith = append(e.seededWith, len(models))
	if e.fail {
		return models, false
	}
	if e.next == nil {
		return models, true
	}
	return append(models, e.next(len(e.sizes)-1)...), true
}

func (e *stubEstimator) SquaredResidual([]float64, Model) float64 { return 0 }

func zeroData(rows int) *mat.Dense {
	return mat.NewDense(rows, 4, nil)
}

func zeroMatchSet(n int) *MatchSet {
	set := &MatchSet{
		Src:     mat.NewDense(n, 2, nil),
		Dst:     mat.NewDense(n, 2, nil),
		Matches: make([]Match, n),
	}
	for i := range set.Matches {
		set.Matches[i] = Match{Src: i, Dst: n - 1 - i}
	}
	return set
}

func optimizerWith(s Sampler) *NestedRANSACOptimizer {
	o := NewNestedRANSACOptimizer()
	o.SetSamplerFactory(func() Sampler { return s })
	return o
}

// ---------------------------------------------------------------------------
// configuration
// ---------------------------------------------------------------------------

func TestNewNestedRANSACOptimizer_Defaults(t *testing.T) {
	o := NewNestedRANSACOptimizer()
	assert.Equal(t, 50, o.MaxIterations())
	assert.Equal(t, 7, o.SampleSizeMultiplier())

	o.SetMaxIterations(10)
	o.SetSampleSizeMultiplier(3)
	assert.Equal(t, 10, o.MaxIterations())
	assert.Equal(t, 3, o.SampleSizeMultiplier())
}

func TestNestedSampleSize(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		nonMinimal int
		want       int
	}{
		{"capped by multiplier", 80, 28, 28},
		{"capped by inliers", 20, 28, 19},
		{"equal", 29, 28, 28},
		{"one inlier", 1, 28, 0},
		{"empty", 0, 28, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nestedSampleSize(tt.count, tt.nonMinimal))
		})
	}
}

// ---------------------------------------------------------------------------
// one-sided Run
// ---------------------------------------------------------------------------

func TestRun_FirstTargetSize(t *testing.T) {
	// 200 rows, 80 inliers, base 4, multiplier 7: every sample has 28 rows
	s := &mockSampler{}
	s.On("Initialize", 79).Return().Once()
	s.On("Sample", 80, 28, mock.Anything).Return(true).Run(fillSequential)

	est := &stubEstimator{base: 4, nonMinimal: 4, next: func(int) []Model { return []Model{countModel(80)} }}
	start := countModel(80)

	model, score, inliers := optimizerWith(s).Run(zeroData(200), nil, start, InvalidScore(), est, countScoring{})

	require.Len(t, est.sizes, 50)
	for _, size := range est.sizes {
		assert.Equal(t, 28, size)
	}
	assert.Same(t, start.Descriptor, model.Descriptor, "equal score must not replace the model")
	assert.Equal(t, 80.0, score.Value)
	assert.Len(t, inliers, 80)
	s.AssertExpectations(t)
	s.AssertNumberOfCalls(t, "Sample", 50)
}

func TestRun_TooFewInliersRunsNoIteration(t *testing.T) {
	// 3 inliers: size min(2, 28) is below the base of 4
	s := &mockSampler{}
	s.On("Initialize", 2).Return().Once()

	est := &stubEstimator{base: 4, nonMinimal: 4}
	model, score, inliers := optimizerWith(s).Run(zeroData(200), nil, countModel(3), InvalidScore(), est, countScoring{})

	assert.Empty(t, est.sizes)
	assert.Equal(t, 3, modelCount(model))
	assert.Equal(t, Score{Inliers: 3, Value: 3}, score)
	assert.Equal(t, []int{0, 1, 2}, inliers)
	s.AssertNotCalled(t, "Sample", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_RescoresStartingModel(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", mock.Anything).Return()

	est := &stubEstimator{base: 4, nonMinimal: 4}
	bogus := Score{Inliers: 1000, Value: 1000}
	_, score, inliers := optimizerWith(s).Run(zeroData(10), []int{9}, countModel(2), bogus, est, countScoring{})

	assert.Equal(t, 2.0, score.Value)
	assert.Equal(t, []int{0, 1}, inliers)
}

func TestRun_SamplerFailureSkipsIteration(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", 79).Return()
	s.On("Sample", 80, 28, mock.Anything).Return(false)

	est := &stubEstimator{base: 4, nonMinimal: 4}
	o := optimizerWith(s)
	o.SetMaxIterations(12)
	_, score, _ := o.Run(zeroData(200), nil, countModel(80), InvalidScore(), est, countScoring{})

	assert.Empty(t, est.sizes)
	assert.Equal(t, 80.0, score.Value)
	s.AssertNumberOfCalls(t, "Sample", 12)
}

func TestRun_EstimatorFailureSkipsIteration(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", 79).Return()
	s.On("Sample", 80, 28, mock.Anything).Return(true).Run(fillSequential)

	est := &stubEstimator{base: 4, nonMinimal: 4, fail: true}
	model, score, inliers := optimizerWith(s).Run(zeroData(200), nil, countModel(80), InvalidScore(), est, countScoring{})

	assert.Len(t, est.sizes, 50, "one-sided failures must not stop the run")
	assert.Equal(t, 80, modelCount(model))
	assert.Equal(t, 80.0, score.Value)
	assert.Len(t, inliers, 80)
}

func TestRun_AcceptsImprovementsAndReinitializes(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", mock.Anything).Return()
	s.On("Sample", mock.Anything, mock.Anything, mock.Anything).Return(true).Run(fillSequential)

	// Each call proposes 10 more inliers than the last proposal
	est := &stubEstimator{base: 4, nonMinimal: 4, next: func(call int) []Model {
		return []Model{countModel(80 + 10*(call+1))}
	}}
	o := optimizerWith(s)
	o.SetMaxIterations(5)
	model, score, inliers := o.Run(zeroData(200), nil, countModel(80), InvalidScore(), est, countScoring{})

	assert.Equal(t, 130, modelCount(model))
	assert.Equal(t, 130.0, score.Value)
	assert.Len(t, inliers, 130)

	s.AssertCalled(t, "Initialize", 79)
	for _, n := range []int{90, 100, 110, 120, 130} {
		s.AssertCalled(t, "Initialize", n-1)
		s.AssertCalled(t, "Sample", n-10, 28, mock.Anything)
	}
}

func TestRun_CandidatesComparedAgainstRunningBest(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", mock.Anything).Return()
	s.On("Sample", mock.Anything, mock.Anything, mock.Anything).Return(true).Run(fillSequential)

	est := &stubEstimator{base: 4, nonMinimal: 4, next: func(int) []Model {
		return []Model{countModel(90), countModel(85), countModel(95), countModel(60)}
	}}
	o := optimizerWith(s)
	o.SetMaxIterations(1)
	model, score, _ := o.Run(zeroData(200), nil, countModel(80), InvalidScore(), est, countScoring{})

	assert.Equal(t, 95, modelCount(model))
	assert.Equal(t, 95.0, score.Value)
	s.AssertCalled(t, "Initialize", 89)
	s.AssertCalled(t, "Initialize", 94)
	s.AssertNotCalled(t, "Initialize", 84)
}

func TestRun_RespectsMaxIterations(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		s := &mockSampler{}
		s.On("Initialize", mock.Anything).Return()
		s.On("Sample", mock.Anything, mock.Anything, mock.Anything).Return(true).Run(fillSequential)

		est := &stubEstimator{base: 4, nonMinimal: 4}
		o := optimizerWith(s)
		o.SetMaxIterations(n)
		o.Run(zeroData(200), nil, countModel(80), InvalidScore(), est, countScoring{})
		assert.Len(t, est.sizes, n)
	}
}

func TestRun_SampleSizeBounds(t *testing.T) {
	tests := []struct {
		name       string
		inliers    int
		multiplier int
		wantSize   int // 0 means no iteration
	}{
		{"multiplier one, five inliers", 5, 1, 4},
		{"multiplier one, four inliers", 4, 1, 0},
		{"inliers cap", 10, 7, 9},
		{"multiplier cap", 100, 2, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := &stubEstimator{base: 4, nonMinimal: 4}
			o := NewNestedRANSACOptimizer()
			o.SetSampleSizeMultiplier(tt.multiplier)
			o.SetSamplerFactory(func() Sampler { return NewUniformRandomSampler(rand.New(rand.NewSource(1))) })
			o.SetMaxIterations(3)

			o.Run(zeroData(200), nil, countModel(tt.inliers), InvalidScore(), est, countScoring{})

			if tt.wantSize == 0 {
				assert.Empty(t, est.sizes)
				return
			}
			require.Len(t, est.sizes, 3)
			for _, size := range est.sizes {
				assert.Equal(t, tt.wantSize, size)
				assert.GreaterOrEqual(t, size, est.SampleSize())
				assert.LessOrEqual(t, size, min(tt.inliers-1, tt.multiplier*est.SampleSize()))
			}
		})
	}
}

// ---------------------------------------------------------------------------
// two-sided RunMatches
// ---------------------------------------------------------------------------

func TestRunMatches_EstimatorFailureAborts(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", 79).Return()
	s.On("Sample", 80, 28, mock.Anything).Return(true).Run(fillSequential)

	est := &stubEstimator{base: 4, nonMinimal: 4, fail: true}
	set := zeroMatchSet(200)
	model, score, inliers := optimizerWith(s).RunMatches(set, nil, countModel(80), InvalidScore(), est, countScoring{})

	assert.Len(t, est.sizes, 1, "two-sided failure must end the run")
	assert.Equal(t, 80, modelCount(model))
	assert.Equal(t, 80.0, score.Value)
	assert.Equal(t, set.Matches[:80], inliers)
}

func TestRunMatches_UsesNonMinimalBaseAndBlocks(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", 79).Return()
	s.On("Sample", 80, 35, mock.Anything).Return(true).Run(fillSequential)

	// SampleSize 4 but non-minimal base 5: target size is 7*5
	est := &stubEstimator{base: 4, nonMinimal: 5}
	o := optimizerWith(s)
	o.SetMaxIterations(3)
	o.RunMatches(zeroMatchSet(200), nil, countModel(80), InvalidScore(), est, countScoring{})

	assert.Equal(t, []int{35, 35, 35}, est.sizes)
	s.AssertExpectations(t)
}

func TestRunMatches_SeedsCandidatesWithBest(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", mock.Anything).Return()
	s.On("Sample", mock.Anything, mock.Anything, mock.Anything).Return(true).Run(fillSequential)

	est := &stubEstimator{base: 4, nonMinimal: 4, next: func(call int) []Model {
		return []Model{countModel(90 + call)}
	}}
	o := optimizerWith(s)
	o.SetMaxIterations(3)
	model, score, inliers := o.RunMatches(zeroMatchSet(200), nil, countModel(80), InvalidScore(), est, countScoring{})

	assert.Equal(t, []int{1, 1, 1}, est.seededWith)
	assert.Equal(t, 92, modelCount(model))
	assert.Equal(t, 92.0, score.Value)
	assert.Len(t, inliers, 92)
}

func TestRunMatches_TooFewInliersRunsNoIteration(t *testing.T) {
	s := &mockSampler{}
	s.On("Initialize", 2).Return()

	est := &stubEstimator{base: 4, nonMinimal: 4, fail: true}
	_, score, inliers := optimizerWith(s).RunMatches(zeroMatchSet(50), nil, countModel(3), InvalidScore(), est, countScoring{})

	assert.Empty(t, est.sizes)
	assert.Equal(t, 3.0, score.Value)
	assert.Len(t, inliers, 3)
}

func TestRunMatches_SampledMatchesComeFromInliers(t *testing.T) {
	set := zeroMatchSet(100)
	for i := range set.Matches {
		set.Src.SetRow(set.Matches[i].Src, []float64{float64(i), 0})
	}

	var seen []float64
	est := &recordingEstimator{record: func(block *mat.Dense) {
		r, _ := block.Dims()
		for i := 0; i < r; i++ {
			seen = append(seen, block.At(i, 0))
		}
	}}
	o := NewNestedRANSACOptimizer()
	o.SetSamplerFactory(func() Sampler { return NewUniformRandomSampler(rand.New(rand.NewSource(3))) })
	o.SetMaxIterations(10)
	o.RunMatches(set, nil, countModel(40), InvalidScore(), est, countScoring{})

	require.NotEmpty(t, seen)
	for _, x := range seen {
		assert.Less(t, x, 40.0, "sampled a match outside the inlier set")
	}
}

type recordingEstimator struct {
	stubEstimator
	record func(block *mat.Dense)
}

func (e *recordingEstimator) SampleSize() int           { return 4 }
func (e *recordingEstimator) NonMinimalSampleSize() int { return 4 }

func (e *recordingEstimator) EstimateModelNonminimal(data *mat.Dense, _ []int, _ []float64, models []Model) ([]Model, bool) {
	e.record(data)
	return models, true
}

// ---------------------------------------------------------------------------
// drawSample
// ---------------------------------------------------------------------------

func TestDrawSample_FullPopulationBypassesSampler(t *testing.T) {
	s := &mockSampler{}
	inliers := []int{5, 6, 7}
	out := make([]int, 3)

	ok := drawSample(s, inliers, 3, out, out)

	assert.True(t, ok)
	assert.Equal(t, []int{5, 6, 7}, out)
	s.AssertNotCalled(t, "Sample", mock.Anything, mock.Anything, mock.Anything)
}

func TestDrawSample_MapsPositions(t *testing.T) {
	s := &mockSampler{}
	s.On("Sample", 4, 2, mock.Anything).Return(true).Run(func(args mock.Arguments) {
		out := args.Get(2).([]int)
		out[0], out[1] = 3, 1
	})
	inliers := []Match{{0, 9}, {1, 8}, {2, 7}, {3, 6}}
	positions := make([]int, 2)
	out := make([]Match, 2)

	ok := drawSample(s, inliers, 2, positions, out)

	assert.True(t, ok)
	assert.Equal(t, []Match{{3, 6}, {1, 8}}, out)
}

func TestDrawSample_SamplerFailure(t *testing.T) {
	s := &mockSampler{}
	s.On("Sample", 4, 2, mock.Anything).Return(false)
	buf := make([]int, 2)
	assert.False(t, drawSample(s, []int{1, 2, 3, 4}, 2, buf, buf))
}

// ---------------------------------------------------------------------------
// real estimators
// ---------------------------------------------------------------------------

func noisyLine(rng *rand.Rand, inliers, outliers int, noise float64) *mat.Dense {
	data := mat.NewDense(inliers+outliers, 2, nil)
	for i := 0; i < inliers; i++ {
		x := rng.Float64() * 100
		data.SetRow(i, []float64{x, 0.5*x + 10 + rng.NormFloat64()*noise})
	}
	for i := inliers; i < inliers+outliers; i++ {
		data.SetRow(i, []float64{rng.Float64() * 100, rng.Float64()*100 + 200})
	}
	return data
}

// spanningPair returns the rows with the smallest and largest x among the
// first n rows
func spanningPair(data *mat.Dense, n int) []int {
	lo, hi := 0, 0
	for i := 1; i < n; i++ {
		if data.At(i, 0) < data.At(lo, 0) {
			lo = i
		}
		if data.At(i, 0) > data.At(hi, 0) {
			hi = i
		}
	}
	return []int{lo, hi}
}

func TestRun_LineNeverRegresses(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := noisyLine(rng, 120, 80, 0.4)
	sc := NewMSACScoring(1.5)
	est := LineEstimator{}

	// Slightly wrong starting line through two inliers
	models, ok := est.EstimateModel(data, spanningPair(data, 120), nil)
	require.True(t, ok)
	start := models[0]
	startScore, _ := sc.Score(data, start, est, nil)

	o := NewNestedRANSACOptimizer()
	o.SetSamplerFactory(func() Sampler { return NewUniformRandomSampler(rand.New(rand.NewSource(11))) })
	model, score, inliers := o.Run(data, nil, start, startScore, est, sc)

	assert.GreaterOrEqual(t, score.Value, startScore.Value)
	assert.Equal(t, score.Inliers, len(inliers))
	for _, i := range inliers {
		assert.Less(t, i, 120, "outlier row reported as inlier")
	}
	// The fitted line is y = 0.5x + 10 up to sign
	d := model.Descriptor
	slope := -d.At(0, 0) / d.At(0, 1)
	assert.InDelta(t, 0.5, slope, 0.02)

	rescored, _ := sc.Score(data, model, est, nil)
	assert.Equal(t, score, rescored, "returned score must belong to the returned model")
}

func TestRun_ConcurrentUse(t *testing.T) {
	data := noisyLine(rand.New(rand.NewSource(5)), 100, 50, 0.3)
	est := LineEstimator{}
	sc := NewMSACScoring(1.5)
	models, ok := est.EstimateModel(data, spanningPair(data, 100), nil)
	require.True(t, ok)

	o := NewNestedRANSACOptimizer()
	var seed int64
	var seedMu sync.Mutex
	o.SetSamplerFactory(func() Sampler {
		seedMu.Lock()
		defer seedMu.Unlock()
		seed++
		return NewUniformRandomSampler(rand.New(rand.NewSource(seed)))
	})

	var wg sync.WaitGroup
	scores := make([]Score, 8)
	for i := range scores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, scores[i], _ = o.Run(data, nil, models[0], InvalidScore(), est, sc)
		}()
	}
	wg.Wait()

	for _, s := range scores {
		assert.True(t, s.Valid())
		assert.False(t, math.IsNaN(s.Value))
		assert.GreaterOrEqual(t, s.Inliers, 90)
	}
}
