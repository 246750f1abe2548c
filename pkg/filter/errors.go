package filter

import (
	"errors"
	"fmt"
)

// SingularityThreshold is the smallest innovation variance magnitude that
// Update will invert. Below it the gain is undefined and Update fails.
//
// This absolute epsilon only makes sense for a 1x1 covariance; a
// multivariate filter needs a real singularity test instead.
const SingularityThreshold = 1e-8

// innovationOperation names the computation that inverts S.
const innovationOperation = "Innovation (measurement pre-fit residual `S`)"

// ErrFailedInverse is the sentinel matched by every FailedInverseError.
//
//	if errors.Is(err, filter.ErrFailedInverse) {
//		// skip this observation and try the next one
//	}
var ErrFailedInverse = errors.New("failed scalar inverse")

// FailedInverseError reports that a scalar could not be inverted because
// its magnitude fell below SingularityThreshold.
type FailedInverseError struct {
	// Scalar is the name of the value that could not be inverted ("S").
	Scalar string
	// Operation describes the computation that needed the inverse.
	Operation string
	// Value is the offending scalar.
	Value float64
}

func (e *FailedInverseError) Error() string {
	return fmt.Sprintf("failed to invert scalar %s in operation %s: |%s|=%g below %g",
		e.Scalar, e.Operation, e.Scalar, e.Value, SingularityThreshold)
}

// Is reports whether target is ErrFailedInverse.
func (e *FailedInverseError) Is(target error) bool {
	return target == ErrFailedInverse
}

// BatchError wraps a failure at a given position of a batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("observation %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
