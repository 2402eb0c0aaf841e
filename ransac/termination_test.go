package ransac

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredIterations(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		ratio      float64
		sampleSize int
		want       int
	}{
		{"half inliers, four points", 0.99, 0.5, 4, 72},
		{"half inliers, two points", 0.99, 0.5, 2, 17},
		{"all inliers", 0.99, 1, 4, 0},
		{"no inliers", 0.99, 0, 4, math.MaxInt},
		{"tiny ratio saturates", 0.99, 1e-6, 8, math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, requiredIterations(tt.confidence, tt.ratio, tt.sampleSize))
		})
	}
}

func TestIterationLimit(t *testing.T) {
	assert.Equal(t, 100, iterationLimit(5, 100, 5000))
	assert.Equal(t, 720, iterationLimit(720, 100, 5000))
	assert.Equal(t, 5000, iterationLimit(math.MaxInt, 100, 5000))
}
