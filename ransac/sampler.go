package ransac

import (
	"math/rand"
	"time"
)

// Sampler draws subsets of distinct indices from a population.
type Sampler interface {
	// Initialize resets the valid draw range to [0, populationSizeMinusOne].
	Initialize(populationSizeMinusOne int)
	// Sample fills out[:sampleSize] with distinct indices in
	// [0, populationSize). It returns false when no valid sample exists.
	Sample(populationSize, sampleSize int, out []int) bool
}

// SamplerType selects a sampler implementation
type SamplerType int

const (
	SamplerUniform SamplerType = iota
)

var samplerTypeNames = map[SamplerType]string{
	SamplerUniform: "uniform",
}

func (t SamplerType) String() string { return enumString(samplerTypeNames, t) }

// MarshalText implements encoding.TextMarshaler
func (t SamplerType) MarshalText() ([]byte, error) { return enumMarshal(samplerTypeNames, t) }

// UnmarshalText implements encoding.TextUnmarshaler
func (t *SamplerType) UnmarshalText(b []byte) error {
	return enumUnmarshal(samplerTypeNames, "sampler", b, t)
}

// UniformRandomSampler draws uniform samples without replacement using a
// partial Fisher-Yates shuffle over a reusable pool.
type UniformRandomSampler struct {
	rng  *rand.Rand
	pool []int
}

// NewUniformRandomSampler creates a sampler. A nil rng is replaced by one
// seeded from the clock.
func NewUniformRandomSampler(rng *rand.Rand) *UniformRandomSampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &UniformRandomSampler{rng: rng}
}

// Initialize sizes the pool for populations of up to
// populationSizeMinusOne+1 elements. Negative values empty the pool.
func (s *UniformRandomSampler) Initialize(populationSizeMinusOne int) {
	n := populationSizeMinusOne + 1
	if n < 0 {
		n = 0
	}
	if cap(s.pool) < n {
		s.pool = make([]int, n)
	}
	s.pool = s.pool[:n]
}

// Sample implements Sampler
func (s *UniformRandomSampler) Sample(populationSize, sampleSize int, out []int) bool {
	if sampleSize <= 0 || sampleSize > populationSize || len(out) < sampleSize {
		return false
	}
	if populationSize > len(s.pool) {
		return false
	}

	pool := s.pool[:populationSize]
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < sampleSize; i++ {
		j := i + s.rng.Intn(populationSize-i)
		pool[i], pool[j] = pool[j], pool[i]
		out[i] = pool[i]
	}
	return true
}
