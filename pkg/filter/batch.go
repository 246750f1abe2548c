package filter

// Step describes one successful Advance.
type Step struct {
	Index              int
	Observation        float64 // z
	Innovation         float64 // y = z - H*x before the update
	InnovationVariance float64 // S = H*P*H + R before the update
	Gain               float64 // K
	Estimate           float64 // x after the update
	Covariance         float64 // P after the update
}

// Batch advances the filter once per observation, in order, and returns the
// corrected estimate after each step.
//
// The first failure aborts the batch: Batch returns nil and a *BatchError
// carrying the failing index. Steps before the failure, and the predict of
// the failing step, remain applied to the filter.
func (s *Scalar) Batch(observations []float64) ([]float64, error) {
	return s.BatchFunc(observations, nil)
}

// RunBatch is Batch as a function, for callers holding a filter handle.
func RunBatch(s *Scalar, observations []float64) ([]float64, error) {
	return s.Batch(observations)
}

// BatchFunc is Batch with a callback invoked after every successful step.
// The callback runs with the filter locked and must not call back into s.
func (s *Scalar) BatchFunc(observations []float64, fn func(Step)) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]float64, len(observations))
	for i, z := range observations {
		step, err := s.advanceInternal(z)
		if err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		results[i] = step.Estimate
		if fn != nil {
			step.Index = i
			fn(step)
		}
	}
	return results, nil
}
