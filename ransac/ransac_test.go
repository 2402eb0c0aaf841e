package ransac

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.MinIterations = 100
	s.MaxIterations = 2000
	s.CoreNumber = 2
	s.Seed = 42
	return s
}

// assertMapsLikeTruth compares two transforms on a grid of source points
func assertMapsLikeTruth(t *testing.T, truth, got Model, tol float64) {
	t.Helper()
	for x := 0.0; x <= 100; x += 25 {
		for y := 0.0; y <= 100; y += 25 {
			wu, wv := transformPoint(truth, x, y)
			gu, gv := transformPoint(got, x, y)
			assert.InDelta(t, wu, gu, tol, "u at (%g, %g)", x, y)
			assert.InDelta(t, wv, gv, tol, "v at (%g, %g)", x, y)
		}
	}
}

func TestRANSAC_RecoversGeneratedTransforms(t *testing.T) {
	for _, kind := range []string{KindAffine, KindRigid, KindHomography} {
		t.Run(kind, func(t *testing.T) {
			p, err := GenerateProblem(kind, 200, 0.6, 0.3, 3)
			require.NoError(t, err)
			est, err := NewEstimator(kind)
			require.NoError(t, err)
			r, err := New(testSettings(), est)
			require.NoError(t, err)

			res, err := r.RunMatches(context.Background(), p.MatchSet())
			require.NoError(t, err)

			assert.GreaterOrEqual(t, res.Score.Inliers, 114, "0.95 of the 120 true inliers")
			assert.Equal(t, res.Score.Inliers, len(res.Inliers))
			assert.GreaterOrEqual(t, res.Iterations, 100)
			assert.LessOrEqual(t, res.Iterations, 2000)
			truth, _ := GroundTruth(kind)
			assertMapsLikeTruth(t, truth, res.Model, 0.5)
		})
	}
}

func TestRANSAC_OneSidedTwoViewData(t *testing.T) {
	p, err := GenerateProblem(KindAffine, 150, 0.7, 0.2, 8)
	require.NoError(t, err)
	r, err := New(testSettings(), AffineEstimator{})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), p.DataMatrix())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Score.Inliers, 100)
	truth, _ := GroundTruth(KindAffine)
	assertMapsLikeTruth(t, truth, res.Model, 0.5)
}

func TestRANSAC_Line(t *testing.T) {
	p, err := GenerateProblem(KindLine, 300, 0.5, 0.3, 11)
	require.NoError(t, err)
	r, err := New(testSettings(), LineEstimator{})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), p.DataMatrix())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Score.Inliers, 142)
	d := res.Model.Descriptor
	assert.InDelta(t, 0.5, -d.At(0, 0)/d.At(0, 1), 0.02)
	assert.InDelta(t, 10, -d.At(0, 2)/d.At(0, 1), 1)
}

func TestRANSAC_WithoutOptimizers(t *testing.T) {
	s := testSettings()
	s.LocalOptimization = LocalOptimizationNone
	s.FinalOptimization = LocalOptimizationNone
	p, err := GenerateProblem(KindRigid, 100, 0.8, 0.1, 5)
	require.NoError(t, err)
	r, err := New(s, RigidEstimator{})
	require.NoError(t, err)

	res, err := r.RunMatches(context.Background(), p.MatchSet())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Score.Inliers, 76)
}

func TestRANSAC_SingleWorkerIsReproducible(t *testing.T) {
	s := testSettings()
	s.CoreNumber = 1
	p, err := GenerateProblem(KindHomography, 120, 0.5, 0.5, 2)
	require.NoError(t, err)

	run := func() *MatchResult {
		r, err := New(s, HomographyEstimator{})
		require.NoError(t, err)
		res, err := r.RunMatches(context.Background(), p.MatchSet())
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Inliers, b.Inliers)
	assert.Equal(t, a.Iterations, b.Iterations)
}

func TestRANSAC_Errors(t *testing.T) {
	t.Run("invalid settings", func(t *testing.T) {
		s := testSettings()
		s.CoreNumber = 0
		_, err := New(s, AffineEstimator{})
		assert.Error(t, err)
	})

	t.Run("insufficient data", func(t *testing.T) {
		r, err := New(testSettings(), AffineEstimator{})
		require.NoError(t, err)
		_, err = r.Run(context.Background(), mat.NewDense(2, 4, []float64{0, 0, 1, 1, 2, 2, 3, 3}))
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("degenerate data", func(t *testing.T) {
		r, err := New(testSettings(), LineEstimator{})
		require.NoError(t, err)
		data := mat.NewDense(20, 2, nil)
		for i := 0; i < 20; i++ {
			data.SetRow(i, []float64{3, 4})
		}
		_, err = r.Run(context.Background(), data)
		assert.ErrorIs(t, err, ErrNoModel)
	})

	t.Run("cancelled", func(t *testing.T) {
		p, err := GenerateProblem(KindAffine, 50, 0.5, 0.1, 1)
		require.NoError(t, err)
		r, err := New(testSettings(), AffineEstimator{})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = r.RunMatches(ctx, p.MatchSet())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRANSAC_IterationsFollowInlierRatio(t *testing.T) {
	s := testSettings()
	s.MinIterations = 0
	s.CoreNumber = 1
	p, err := GenerateProblem(KindLine, 200, 0.9, 0.1, 4)
	require.NoError(t, err)
	r, err := New(s, LineEstimator{})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), p.DataMatrix())
	require.NoError(t, err)

	// w = 0.9, m = 2 needs a handful of samples at 99% confidence
	ratio := float64(res.Score.Inliers) / 200
	want := requiredIterations(0.99, math.Min(ratio, 1), 2)
	assert.Less(t, res.Iterations, 50)
	assert.LessOrEqual(t, want, 50)
}
