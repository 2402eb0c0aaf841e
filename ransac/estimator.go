package ransac

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Estimator fits models of one family to correspondences. A nil sample
// means every row of data. Fitted models are appended to models; on
// failure models is returned unchanged together with false.
type Estimator interface {
	// SampleSize is the size of a minimal sample
	SampleSize() int
	// NonMinimalSampleSize is the smallest sample for a non-minimal fit
	NonMinimalSampleSize() int
	EstimateModel(data *mat.Dense, sample []int, models []Model) ([]Model, bool)
	EstimateModelNonminimal(data *mat.Dense, sample []int, weights []float64, models []Model) ([]Model, bool)
	// SquaredResidual is the squared error of one data row under model
	SquaredResidual(row []float64, model Model) float64
}

// degenerateTol is the relative singular value below which a point spread
// or design matrix is considered rank deficient.
const degenerateTol = 1e-9

// sampleLen returns the number of rows a sample selects
func sampleLen(data *mat.Dense, sample []int) int {
	if sample == nil {
		r, _ := data.Dims()
		return r
	}
	return len(sample)
}

// sampleRow returns the k-th row selected by sample
func sampleRow(data *mat.Dense, sample []int, k int) []float64 {
	if sample == nil {
		return data.RawRowView(k)
	}
	return data.RawRowView(sample[k])
}

// sampleWeight returns the k-th weight, 1 when no weights are given
func sampleWeight(weights []float64, k int) float64 {
	if weights == nil || k >= len(weights) {
		return 1
	}
	return weights[k]
}

// collinear reports whether the 2D points stored in columns col, col+1 of
// the sampled rows lie on a line (or coincide).
func collinear(data *mat.Dense, sample []int, col int) bool {
	n := sampleLen(data, sample)
	if n < 2 {
		return true
	}

	var cx, cy float64
	for k := 0; k < n; k++ {
		row := sampleRow(data, sample, k)
		cx += row[col]
		cy += row[col+1]
	}
	cx /= float64(n)
	cy /= float64(n)

	centered := mat.NewDense(n, 2, nil)
	for k := 0; k < n; k++ {
		row := sampleRow(data, sample, k)
		centered.Set(k, 0, row[col]-cx)
		centered.Set(k, 1, row[col+1]-cy)
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDNone) {
		return true
	}
	values := svd.Values(nil)
	if len(values) < 2 || values[0] < 1e-12 {
		return true
	}
	return values[1] <= degenerateTol*values[0]
}

// coincident reports whether all sampled 2D points at col are the same
func coincident(data *mat.Dense, sample []int, col int) bool {
	n := sampleLen(data, sample)
	if n == 0 {
		return true
	}
	first := sampleRow(data, sample, 0)
	for k := 1; k < n; k++ {
		row := sampleRow(data, sample, k)
		if math.Abs(row[col]-first[col]) > 1e-12 || math.Abs(row[col+1]-first[col+1]) > 1e-12 {
			return false
		}
	}
	return true
}

func allFinite(m *mat.Dense) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// projectAffine applies a 2x3 affine descriptor to (x, y)
func projectAffine(d *mat.Dense, x, y float64) (float64, float64) {
	return d.At(0, 0)*x + d.At(0, 1)*y + d.At(0, 2),
		d.At(1, 0)*x + d.At(1, 1)*y + d.At(1, 2)
}
