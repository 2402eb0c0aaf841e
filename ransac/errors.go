package ransac

import "errors"

var (
	// ErrUnknownModelKind is returned for a problem kind without an estimator
	ErrUnknownModelKind = errors.New("unknown model kind")

	// ErrInsufficientData is returned when there are fewer correspondences
	// than the estimator's minimal sample
	ErrInsufficientData = errors.New("insufficient correspondences")

	// ErrInvalidProblem is returned when a problem fails validation
	ErrInvalidProblem = errors.New("invalid problem")

	// ErrNoModel is returned when no hypothesis could be estimated
	ErrNoModel = errors.New("no model found")
)
