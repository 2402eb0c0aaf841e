package ransac

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/mat"
)

// Model kinds understood by NewEstimator
const (
	KindAffine     = "affine"
	KindHomography = "homography"
	KindRigid      = "rigid"
	KindLine       = "line"
)

// NewEstimator returns the estimator for a model kind
func NewEstimator(kind string) (Estimator, error) {
	switch kind {
	case KindAffine:
		return AffineEstimator{}, nil
	case KindHomography:
		return HomographyEstimator{}, nil
	case KindRigid:
		return RigidEstimator{}, nil
	case KindLine:
		return LineEstimator{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModelKind, kind)
}

// DataColumns returns the number of columns a one-sided data matrix needs
// for the given kind: x y for lines, x1 y1 x2 y2 otherwise.
func DataColumns(kind string) int {
	if kind == KindLine {
		return 2
	}
	return 4
}

// ---------------------------------------------------------------------------
// Affine: x2 = a*x1 + b*y1 + tx, y2 = c*x1 + d*y1 + ty
// ---------------------------------------------------------------------------

// AffineEstimator fits 2D affine transforms (2x3 descriptor) by weighted
// linear least squares. Rows are x1 y1 x2 y2.
type AffineEstimator struct{}

// SampleSize implements Estimator
func (AffineEstimator) SampleSize() int { return 3 }

// NonMinimalSampleSize implements Estimator
func (AffineEstimator) NonMinimalSampleSize() int { return 3 }

// EstimateModel implements Estimator
func (e AffineEstimator) EstimateModel(data *mat.Dense, sample []int, models []Model) ([]Model, bool) {
	return e.EstimateModelNonminimal(data, sample, nil, models)
}

// EstimateModelNonminimal fits the affine map by weighted least squares
func (AffineEstimator) EstimateModelNonminimal(data *mat.Dense, sample []int, weights []float64, models []Model) ([]Model, bool) {
	n := sampleLen(data, sample)
	if n < 3 || collinear(data, sample, 0) {
		return models, false
	}

	// Shared design matrix [x y 1], one right-hand side per output coordinate
	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 2, nil)
	for k := 0; k < n; k++ {
		row := sampleRow(data, sample, k)
		w := math.Sqrt(sampleWeight(weights, k))
		a.SetRow(k, []float64{w * row[0], w * row[1], w})
		b.SetRow(k, []float64{w * row[2], w * row[3]})
	}

	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return models, false
	}

	// x is 3x2: columns are [a b tx] and [c d ty]
	d := mat.NewDense(2, 3, nil)
	d.Copy(x.T())
	if !allFinite(d) {
		return models, false
	}
	return append(models, Model{Descriptor: d}), true
}

// SquaredResidual is the squared transfer error of a correspondence
func (AffineEstimator) SquaredResidual(row []float64, model Model) float64 {
	px, py := projectAffine(model.Descriptor, row[0], row[1])
	dx, dy := px-row[2], py-row[3]
	return dx*dx + dy*dy
}

// ---------------------------------------------------------------------------
// Rigid: rotation + translation, fitted by (weighted) Procrustes
// ---------------------------------------------------------------------------

// RigidEstimator fits 2D rigid transforms (2x3 descriptor, no scale).
// Rows are x1 y1 x2 y2.
type RigidEstimator struct{}

// SampleSize implements Estimator
func (RigidEstimator) SampleSize() int { return 2 }

// NonMinimalSampleSize implements Estimator
func (RigidEstimator) NonMinimalSampleSize() int { return 2 }

// EstimateModel implements Estimator
func (e RigidEstimator) EstimateModel(data *mat.Dense, sample []int, models []Model) ([]Model, bool) {
	return e.EstimateModelNonminimal(data, sample, nil, models)
}

// EstimateModelNonminimal implements Estimator
func (RigidEstimator) EstimateModelNonminimal(data *mat.Dense, sample []int, weights []float64, models []Model) ([]Model, bool) {
	n := sampleLen(data, sample)
	if n < 2 || coincident(data, sample, 0) {
		return models, false
	}

	var total, sx, sy, tx, ty float64
	for k := 0; k < n; k++ {
		row := sampleRow(data, sample, k)
		w := sampleWeight(weights, k)
		total += w
		sx += w * row[0]
		sy += w * row[1]
		tx += w * row[2]
		ty += w * row[3]
	}
	if total <= 0 {
		return models, false
	}
	sx, sy, tx, ty = sx/total, sy/total, tx/total, ty/total

	// Cross-covariance of the centered point sets
	var h11, h12, h21, h22 float64
	for k := 0; k < n; k++ {
		row := sampleRow(data, sample, k)
		w := sampleWeight(weights, k)
		px, py := row[0]-sx, row[1]-sy
		qx, qy := row[2]-tx, row[3]-ty
		h11 += w * px * qx
		h12 += w * px * qy
		h21 += w * py * qx
		h22 += w * py * qy
	}

	theta := math.Atan2(h12-h21, h11+h22)
	cos, sin := math.Cos(theta), math.Sin(theta)

	d := mat.NewDense(2, 3, []float64{
		cos, -sin, tx - (cos*sx - sin*sy),
		sin, cos, ty - (sin*sx + cos*sy),
	})
	return append(models, Model{Descriptor: d}), true
}

// SquaredResidual implements Estimator
func (RigidEstimator) SquaredResidual(row []float64, model Model) float64 {
	px, py := projectAffine(model.Descriptor, row[0], row[1])
	dx, dy := px-row[2], py-row[3]
	return dx*dx + dy*dy
}

// ---------------------------------------------------------------------------
// Homography: normalized direct linear transform
// ---------------------------------------------------------------------------

// HomographyEstimator fits 3x3 planar homographies with the normalized DLT.
// Rows are x1 y1 x2 y2.
type HomographyEstimator struct{}

// SampleSize implements Estimator
func (HomographyEstimator) SampleSize() int { return 4 }

// NonMinimalSampleSize implements Estimator
func (HomographyEstimator) NonMinimalSampleSize() int { return 4 }

// EstimateModel implements Estimator
func (e HomographyEstimator) EstimateModel(data *mat.Dense, sample []int, models []Model) ([]Model, bool) {
	return e.EstimateModelNonminimal(data, sample, nil, models)
}

// EstimateModelNonminimal fits the homography by weighted DLT
func (HomographyEstimator) EstimateModelNonminimal(data *mat.Dense, sample []int, weights []float64, models []Model) ([]Model, bool) {
	n := sampleLen(data, sample)
	if n < 4 || collinear(data, sample, 0) || collinear(data, sample, 2) {
		return models, false
	}

	src := make(orb.MultiPoint, n)
	dst := make(orb.MultiPoint, n)
	for k := 0; k < n; k++ {
		row := sampleRow(data, sample, k)
		src[k] = orb.Point{row[0], row[1]}
		dst[k] = orb.Point{row[2], row[3]}
	}
	srcCenter, srcScale, ok := normalization(src)
	if !ok {
		return models, false
	}
	dstCenter, dstScale, ok := normalization(dst)
	if !ok {
		return models, false
	}

	rows := 2 * n
	if rows < 9 {
		rows = 9 // pad with zeros so the full SVD always yields a 9x9 V
	}
	a := mat.NewDense(rows, 9, nil)
	for k := 0; k < n; k++ {
		w := math.Sqrt(sampleWeight(weights, k))
		x := (src[k][0] - srcCenter[0]) * srcScale
		y := (src[k][1] - srcCenter[1]) * srcScale
		u := (dst[k][0] - dstCenter[0]) * dstScale
		v := (dst[k][1] - dstCenter[1]) * dstScale

		a.SetRow(2*k, []float64{-w * x, -w * y, -w, 0, 0, 0, w * u * x, w * u * y, w * u})
		a.SetRow(2*k+1, []float64{0, 0, 0, -w * x, -w * y, -w, w * v * x, w * v * y, w * v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return models, false
	}
	values := svd.Values(nil)
	// Rank below 8 leaves a multi-dimensional null space
	if values[0] <= 0 || values[7] <= degenerateTol*values[0] {
		return models, false
	}

	var v mat.Dense
	svd.VTo(&v)
	h := mat.Col(nil, 8, &v)
	hn := mat.NewDense(3, 3, h)

	// H = T2^-1 * Hn * T1
	t1 := mat.NewDense(3, 3, []float64{
		srcScale, 0, -srcScale * srcCenter[0],
		0, srcScale, -srcScale * srcCenter[1],
		0, 0, 1,
	})
	t2inv := mat.NewDense(3, 3, []float64{
		1 / dstScale, 0, dstCenter[0],
		0, 1 / dstScale, dstCenter[1],
		0, 0, 1,
	})
	var tmp, out mat.Dense
	tmp.Mul(hn, t1)
	out.Mul(t2inv, &tmp)

	scale := out.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		scale = mat.Norm(&out, 2)
	}
	if scale == 0 {
		return models, false
	}
	out.Scale(1/scale, &out)
	if !allFinite(&out) {
		return models, false
	}
	return append(models, Model{Descriptor: &out}), true
}

// SquaredResidual is the squared forward transfer error
func (HomographyEstimator) SquaredResidual(row []float64, model Model) float64 {
	h := model.Descriptor
	x, y := row[0], row[1]
	w := h.At(2, 0)*x + h.At(2, 1)*y + h.At(2, 2)
	if math.Abs(w) < 1e-12 {
		return math.MaxFloat64
	}
	px := (h.At(0, 0)*x + h.At(0, 1)*y + h.At(0, 2)) / w
	py := (h.At(1, 0)*x + h.At(1, 1)*y + h.At(1, 2)) / w
	dx, dy := px-row[2], py-row[3]
	return dx*dx + dy*dy
}

// normalization returns the centroid of the points and the scale that
// brings their mean distance from it to sqrt(2).
func normalization(points orb.MultiPoint) (orb.Point, float64, bool) {
	center, _ := planar.CentroidArea(points)
	var mean float64
	for _, p := range points {
		mean += planar.Distance(p, center)
	}
	mean /= float64(len(points))
	if mean < 1e-12 {
		return center, 0, false
	}
	return center, math.Sqrt2 / mean, true
}

// ---------------------------------------------------------------------------
// Line: a*x + b*y + c = 0 with a^2 + b^2 = 1
// ---------------------------------------------------------------------------

// LineEstimator fits 2D lines to single-set observations by total least
// squares. Rows are x y; the descriptor is 1x3 [a b c].
type LineEstimator struct{}

// SampleSize implements Estimator
func (LineEstimator) SampleSize() int { return 2 }

// NonMinimalSampleSize implements Estimator
func (LineEstimator) NonMinimalSampleSize() int { return 2 }

// EstimateModel implements Estimator
func (e LineEstimator) EstimateModel(data *mat.Dense, sample []int, models []Model) ([]Model, bool) {
	return e.EstimateModelNonminimal(data, sample, nil, models)
}

// EstimateModelNonminimal implements Estimator
func (LineEstimator) EstimateModelNonminimal(data *mat.Dense, sample []int, weights []float64, models []Model) ([]Model, bool) {
	n := sampleLen(data, sample)
	if n < 2 || coincident(data, sample, 0) {
		return models, false
	}

	var total, cx, cy float64
	for k := 0; k < n; k++ {
		row := sampleRow(data, sample, k)
		w := sampleWeight(weights, k)
		total += w
		cx += w * row[0]
		cy += w * row[1]
	}
	if total <= 0 {
		return models, false
	}
	cx /= total
	cy /= total

	centered := mat.NewDense(n, 2, nil)
	for k := 0; k < n; k++ {
		row := sampleRow(data, sample, k)
		w := math.Sqrt(sampleWeight(weights, k))
		centered.Set(k, 0, w*(row[0]-cx))
		centered.Set(k, 1, w*(row[1]-cy))
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDFull) {
		return models, false
	}
	values := svd.Values(nil)
	if values[0] < 1e-12 {
		return models, false
	}

	// The normal is the right singular vector of the smallest singular value
	var v mat.Dense
	svd.VTo(&v)
	a, b := v.At(0, 1), v.At(1, 1)
	norm := math.Hypot(a, b)
	if norm < 1e-12 {
		return models, false
	}
	a, b = a/norm, b/norm
	c := -(a*cx + b*cy)

	return append(models, Model{Descriptor: mat.NewDense(1, 3, []float64{a, b, c})}), true
}

// SquaredResidual is the squared orthogonal distance to the line
func (LineEstimator) SquaredResidual(row []float64, model Model) float64 {
	d := model.Descriptor
	r := d.At(0, 0)*row[0] + d.At(0, 1)*row[1] + d.At(0, 2)
	return r * r
}
