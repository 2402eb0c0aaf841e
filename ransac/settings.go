package ransac

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

// LocalOptimizationType selects a local optimizer
type LocalOptimizationType int

const (
	LocalOptimizationNone LocalOptimizationType = iota
	LocalOptimizationNestedRANSAC
	LocalOptimizationIRLS
)

var localOptimizationTypeNames = map[LocalOptimizationType]string{
	LocalOptimizationNone:         "none",
	LocalOptimizationNestedRANSAC: "nested-ransac",
	LocalOptimizationIRLS:         "irls",
}

func (t LocalOptimizationType) String() string { return enumString(localOptimizationTypeNames, t) }

// MarshalText implements encoding.TextMarshaler
func (t LocalOptimizationType) MarshalText() ([]byte, error) {
	return enumMarshal(localOptimizationTypeNames, t)
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *LocalOptimizationType) UnmarshalText(b []byte) error {
	return enumUnmarshal(localOptimizationTypeNames, "local optimization", b, t)
}

// TerminationType selects the stopping rule of the outer loop
type TerminationType int

const (
	TerminationRANSAC TerminationType = iota
)

var terminationTypeNames = map[TerminationType]string{
	TerminationRANSAC: "ransac",
}

func (t TerminationType) String() string { return enumString(terminationTypeNames, t) }

// MarshalText implements encoding.TextMarshaler
func (t TerminationType) MarshalText() ([]byte, error) { return enumMarshal(terminationTypeNames, t) }

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TerminationType) UnmarshalText(b []byte) error {
	return enumUnmarshal(terminationTypeNames, "termination", b, t)
}

// LocalOptimizationSettings configures a local optimizer
type LocalOptimizationSettings struct {
	MaxIterations        int `yaml:"maxIterations" json:"maxIterations"`
	SampleSizeMultiplier int `yaml:"sampleSizeMultiplier" json:"sampleSizeMultiplier"`
}

// DefaultLocalOptimizationSettings returns 50 iterations and multiplier 7
func DefaultLocalOptimizationSettings() LocalOptimizationSettings {
	return LocalOptimizationSettings{
		MaxIterations:        50,
		SampleSizeMultiplier: 7,
	}
}

// Settings configures the outer RANSAC loop and the optimizers it runs
type Settings struct {
	MinIterations   int     `yaml:"minIterations" json:"minIterations"`
	MaxIterations   int     `yaml:"maxIterations" json:"maxIterations"`
	CoreNumber      int     `yaml:"coreNumber" json:"coreNumber"`
	InlierThreshold float64 `yaml:"inlierThreshold" json:"inlierThreshold"`
	Confidence      float64 `yaml:"confidence" json:"confidence"`
	Seed            int64   `yaml:"seed,omitempty" json:"seed,omitempty"` // 0 seeds from the clock

	Scoring              ScoringType           `yaml:"scoring" json:"scoring"`
	Sampler              SamplerType           `yaml:"sampler" json:"sampler"`
	LocalOptimization    LocalOptimizationType `yaml:"localOptimization" json:"localOptimization"`
	FinalOptimization    LocalOptimizationType `yaml:"finalOptimization" json:"finalOptimization"`
	TerminationCriterion TerminationType       `yaml:"terminationCriterion" json:"terminationCriterion"`

	LocalOptimizationSettings LocalOptimizationSettings `yaml:"localOptimizationSettings" json:"localOptimizationSettings"`
	FinalOptimizationSettings LocalOptimizationSettings `yaml:"finalOptimizationSettings" json:"finalOptimizationSettings"`
}

// DefaultSettings returns the default RANSAC configuration
func DefaultSettings() Settings {
	return Settings{
		MinIterations:             1000,
		MaxIterations:             5000,
		CoreNumber:                4,
		InlierThreshold:           1.5,
		Confidence:                0.99,
		Scoring:                   ScoringMSAC,
		Sampler:                   SamplerUniform,
		LocalOptimization:         LocalOptimizationNestedRANSAC,
		FinalOptimization:         LocalOptimizationIRLS,
		TerminationCriterion:      TerminationRANSAC,
		LocalOptimizationSettings: DefaultLocalOptimizationSettings(),
		FinalOptimizationSettings: DefaultLocalOptimizationSettings(),
	}
}

// Validate checks the settings for values the solver cannot run with
func (s Settings) Validate() error {
	if s.MinIterations < 0 {
		return fmt.Errorf("minIterations must be non-negative, got %d", s.MinIterations)
	}
	if s.MaxIterations < 1 {
		return fmt.Errorf("maxIterations must be positive, got %d", s.MaxIterations)
	}
	if s.MinIterations > s.MaxIterations {
		return fmt.Errorf("minIterations (%d) exceeds maxIterations (%d)", s.MinIterations, s.MaxIterations)
	}
	if s.CoreNumber < 1 {
		return fmt.Errorf("coreNumber must be positive, got %d", s.CoreNumber)
	}
	if s.InlierThreshold <= 0 {
		return fmt.Errorf("inlierThreshold must be positive, got %g", s.InlierThreshold)
	}
	if s.Confidence <= 0 || s.Confidence >= 1 {
		return fmt.Errorf("confidence must be in (0, 1), got %g", s.Confidence)
	}
	if s.Scoring == ScoringMAGSAC {
		return fmt.Errorf("scoring %s is not supported", s.Scoring)
	}
	for name, lo := range map[string]LocalOptimizationSettings{
		"localOptimizationSettings": s.LocalOptimizationSettings,
		"finalOptimizationSettings": s.FinalOptimizationSettings,
	} {
		if lo.MaxIterations < 1 || lo.SampleSizeMultiplier < 1 {
			return fmt.Errorf("%s: maxIterations and sampleSizeMultiplier must be positive", name)
		}
	}
	return nil
}

// NewLocalOptimizer builds the optimizer for a type. LocalOptimizationNone
// yields nil. seed, when non-zero, makes the nested optimizer's samplers
// reproducible.
func NewLocalOptimizer(t LocalOptimizationType, settings LocalOptimizationSettings, seed int64) (LocalOptimizer, error) {
	switch t {
	case LocalOptimizationNone:
		return nil, nil
	case LocalOptimizationNestedRANSAC:
		o := NewNestedRANSACOptimizer()
		o.SetMaxIterations(settings.MaxIterations)
		o.SetSampleSizeMultiplier(settings.SampleSizeMultiplier)
		o.SetSamplerFactory(samplerFactory(seed))
		return o, nil
	case LocalOptimizationIRLS:
		o := NewIRLSOptimizer()
		o.SetMaxIterations(settings.MaxIterations)
		return o, nil
	}
	return nil, fmt.Errorf("unknown local optimization %s", t)
}

// samplerFactory returns uniform samplers with distinct seeds derived from
// seed, or clock-seeded samplers when seed is 0.
func samplerFactory(seed int64) func() Sampler {
	var next atomic.Int64
	return func() Sampler {
		if seed == 0 {
			return NewUniformRandomSampler(rand.New(rand.NewSource(time.Now().UnixNano())))
		}
		return NewUniformRandomSampler(rand.New(rand.NewSource(seed + next.Add(1))))
	}
}
