package ransac

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Match pairs a row of the source point table with a row of the
// destination point table.
type Match struct {
	Src int `json:"src"`
	Dst int `json:"dst"`
}

// MatchSet is the two-sided form of a correspondence set: two point tables
// plus a match table and optional per-match confidences.
type MatchSet struct {
	Src     *mat.Dense // N x 2
	Dst     *mat.Dense // M x 2
	Matches []Match
	Scores  []float64 // Per-match confidence; nil means 1 for every match
}

// Len returns the number of tentative matches
func (s *MatchSet) Len() int {
	return len(s.Matches)
}

// Weight returns the confidence of the i-th match
func (s *MatchSet) Weight(i int) float64 {
	if s.Scores == nil || i >= len(s.Scores) {
		return 1
	}
	return s.Scores[i]
}

// Row writes the correspondence x1 y1 x2 y2 of a match into dst.
// dst must have room for four values.
func (s *MatchSet) Row(m Match, dst []float64) []float64 {
	dst = dst[:4]
	dst[0] = s.Src.At(m.Src, 0)
	dst[1] = s.Src.At(m.Src, 1)
	dst[2] = s.Dst.At(m.Dst, 0)
	dst[3] = s.Dst.At(m.Dst, 1)
	return dst
}

// Block materializes the correspondences of the given matches as an n x 4
// matrix with rows x1 y1 x2 y2.
func (s *MatchSet) Block(matches []Match) *mat.Dense {
	block := mat.NewDense(len(matches), 4, nil)
	for i, m := range matches {
		s.Row(m, block.RawRowView(i))
	}
	return block
}

// Model is the parameter bundle of an estimated transform. The descriptor
// is never modified after the model is built; improvements replace the
// whole Model.
type Model struct {
	Descriptor *mat.Dense
}

// IsZero reports whether the model carries no parameters
func (m Model) IsZero() bool {
	return m.Descriptor == nil
}

// Clone returns a deep copy of the model
func (m Model) Clone() Model {
	if m.Descriptor == nil {
		return Model{}
	}
	return Model{Descriptor: mat.DenseCopyOf(m.Descriptor)}
}

// Rows returns the descriptor as nested slices (row major)
func (m Model) Rows() [][]float64 {
	if m.Descriptor == nil {
		return nil
	}
	r, _ := m.Descriptor.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m.Descriptor)
	}
	return out
}

// ModelFromRows builds a model from nested slices
func ModelFromRows(rows [][]float64) Model {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Model{}
	}
	d := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		d.SetRow(i, row)
	}
	return Model{Descriptor: d}
}

// Score is the quality of a model under a scoring policy.
// Higher Value is better.
type Score struct {
	Inliers int     `json:"inliers"`
	Value   float64 `json:"value"`
}

// InvalidScore returns the lowest possible score. Every score produced by a
// scorer is better than it.
func InvalidScore() Score {
	return Score{Value: math.Inf(-1)}
}

// Valid reports whether the score came from an actual scoring
func (s Score) Valid() bool {
	return !math.IsInf(s.Value, -1) && !math.IsNaN(s.Value)
}

// Better reports whether s is strictly better than other
func (s Score) Better(other Score) bool {
	return s.Value > other.Value
}
