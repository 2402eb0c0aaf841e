package ransac

import "math"

// requiredIterations is the number of minimal samples needed to draw at
// least one all-inlier sample with the given confidence:
// log(1 - confidence) / log(1 - w^m).
func requiredIterations(confidence, inlierRatio float64, sampleSize int) int {
	if inlierRatio >= 1 {
		return 0
	}
	if inlierRatio <= 0 {
		return math.MaxInt
	}
	p := math.Pow(inlierRatio, float64(sampleSize))
	if p <= 0 {
		return math.MaxInt
	}
	if p >= 1 {
		return 0
	}
	// Log1p keeps precision when w^m is tiny
	k := math.Log(1-confidence) / math.Log1p(-p)
	if math.IsNaN(k) || k < 0 || k > float64(math.MaxInt32) {
		return math.MaxInt32
	}
	return int(math.Ceil(k))
}

// iterationLimit clamps the required iterations to [min, max]
func iterationLimit(required, minIterations, maxIterations int) int {
	return min(max(required, minIterations), maxIterations)
}
