package ransac

import (
	"fmt"
	"math"
	"math/rand"
)

// Extent of the square that synthetic points are drawn from
const generateExtent = 100.0

// GroundTruth returns the transform GenerateProblem uses for a kind
func GroundTruth(kind string) (Model, error) {
	switch kind {
	case KindAffine:
		return ModelFromRows([][]float64{
			{1.1, 0.2, 5},
			{-0.1, 0.9, -3},
		}), nil
	case KindRigid:
		c, s := math.Cos(0.3), math.Sin(0.3)
		return ModelFromRows([][]float64{
			{c, -s, 4},
			{s, c, -2},
		}), nil
	case KindHomography:
		return ModelFromRows([][]float64{
			{1.05, 0.02, 3},
			{0.01, 0.98, -2},
			{1e-4, 2e-4, 1},
		}), nil
	case KindLine:
		// y = 0.5x + 10
		n := math.Hypot(0.5, 1)
		return ModelFromRows([][]float64{{0.5 / n, -1 / n, 10 / n}}), nil
	}
	return Model{}, fmt.Errorf("%w: %q", ErrUnknownModelKind, kind)
}

// GenerateProblem synthesises n correspondences of which round(n *
// inlierRatio) follow the ground truth of kind with Gaussian noise of the
// given standard deviation; the rest are uniform outliers. Two-view kinds
// produce the two-sided form with a shuffled destination table.
func GenerateProblem(kind string, n int, inlierRatio, noise float64, seed int64) (*Problem, error) {
	truth, err := GroundTruth(kind)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrInvalidProblem, n)
	}
	if inlierRatio < 0 || inlierRatio > 1 {
		return nil, fmt.Errorf("%w: inlier ratio must be in [0, 1], got %g", ErrInvalidProblem, inlierRatio)
	}
	if noise < 0 {
		return nil, fmt.Errorf("%w: noise must be non-negative, got %g", ErrInvalidProblem, noise)
	}

	rng := rand.New(rand.NewSource(seed))
	inliers := int(math.Round(float64(n) * inlierRatio))
	uniform := func() float64 { return rng.Float64() * generateExtent }

	p := &Problem{
		ID:          fmt.Sprintf("%s-%d", kind, seed),
		Kind:        kind,
		GroundTruth: truth.Rows(),
	}

	if kind == KindLine {
		d := truth.Descriptor
		a, b, c := d.At(0, 0), d.At(0, 1), d.At(0, 2)
		p.Points = make([][]float64, n)
		for i := range p.Points {
			if i < inliers {
				x := uniform()
				y := -(a*x + c) / b
				p.Points[i] = []float64{x + rng.NormFloat64()*noise, y + rng.NormFloat64()*noise}
			} else {
				p.Points[i] = []float64{uniform(), uniform()}
			}
		}
		rng.Shuffle(n, func(i, j int) { p.Points[i], p.Points[j] = p.Points[j], p.Points[i] })
		return p, nil
	}

	est, _ := NewEstimator(kind)
	row := make([]float64, 4)
	p.Source = make([][]float64, n)
	dst := make([][]float64, n)
	for i := 0; i < n; i++ {
		x, y := uniform(), uniform()
		p.Source[i] = []float64{x, y}
		if i < inliers {
			u, v := transformPoint(truth, x, y)
			dst[i] = []float64{u + rng.NormFloat64()*noise, v + rng.NormFloat64()*noise}
			continue
		}
		// Keep outliers well away from the true correspondence
		for {
			dst[i] = []float64{uniform(), uniform()}
			row[0], row[1], row[2], row[3] = x, y, dst[i][0], dst[i][1]
			if est.SquaredResidual(row, truth) > 25 {
				break
			}
		}
	}

	perm := rng.Perm(n)
	p.Destination = make([][]float64, n)
	p.Matches = make([]Match, n)
	p.MatchScores = make([]float64, n)
	for i := 0; i < n; i++ {
		p.Destination[perm[i]] = dst[i]
		p.Matches[i] = Match{Src: i, Dst: perm[i]}
		p.MatchScores[i] = 1
	}
	return p, nil
}

// transformPoint maps (x, y) through a 2x3 or 3x3 descriptor
func transformPoint(model Model, x, y float64) (float64, float64) {
	d := model.Descriptor
	if r, _ := d.Dims(); r == 3 {
		w := d.At(2, 0)*x + d.At(2, 1)*y + d.At(2, 2)
		return (d.At(0, 0)*x + d.At(0, 1)*y + d.At(0, 2)) / w,
			(d.At(1, 0)*x + d.At(1, 1)*y + d.At(1, 2)) / w
	}
	return projectAffine(d, x, y)
}
