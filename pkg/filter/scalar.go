// Package filter provides a scalar Kalman filter without a control input.
//
// The filter estimates a hidden scalar x that evolves as
//
//	x[t+1] = A*x[t] + w,  w ~ N(0, Q)
//
// and is observed through
//
//	z[t] = H*x[t] + v,    v ~ N(0, R)
//
// Each time step is one Predict followed by one Update. Advance does both and
// returns the corrected estimate; RunBatch does it for a whole sequence.
//
// Example Usage:
//
//	kf := filter.NewScalar(1, 1, 0.001, 1, filter.WithInitialCovariance(1))
//
//	for _, z := range readings {
//		x, err := kf.Advance(z)
//		if errors.Is(err, filter.ErrFailedInverse) {
//			continue // degenerate H, P, R for this tick
//		}
//		fmt.Printf("estimate: %.3f\n", x)
//	}
//
//	// Or the whole sequence at once (fail-fast, no partial output):
//	estimates, err := filter.RunBatch(kf, readings)
//
// A failed Update never touches x or P. A failed Advance has already
// predicted, and that prediction is kept.
package filter

import (
	"math"
	"sync"
)

// Config holds the model coefficients and initial conditions of a Scalar.
type Config struct {
	// Transition (A) scales the state from one step to the next.
	Transition float64

	// Observation (H) maps the state to the expected measurement.
	Observation float64

	// ProcessNoise (Q) is the variance of the state dynamics. Should be >= 0.
	ProcessNoise float64

	// MeasurementNoise (R) is the variance of the sensor. Should be >= 0.
	MeasurementNoise float64

	// InitialState (x0) is the starting estimate.
	InitialState float64

	// InitialCovariance (P0) is the starting estimate variance.
	InitialCovariance float64
}

// DefaultConfig returns a random walk observed directly with unit noise.
func DefaultConfig() Config {
	return Config{
		Transition:        1.0,
		Observation:       1.0,
		ProcessNoise:      0.001,
		MeasurementNoise:  1.0,
		InitialState:      0.0,
		InitialCovariance: 1.0,
	}
}

// ConstantConfig returns config for estimating a value that never changes.
// With Q = 0 the covariance shrinks towards zero with every observation.
func ConstantConfig() Config {
	return Config{
		Transition:        1.0,
		Observation:       1.0,
		ProcessNoise:      0.0,
		MeasurementNoise:  1.0,
		InitialCovariance: 1.0,
	}
}

// SmoothingConfig returns config for heavily smoothing a noisy sensor.
func SmoothingConfig() Config {
	return Config{
		Transition:        1.0,
		Observation:       1.0,
		ProcessNoise:      0.0001, // Signal drifts slowly
		MeasurementNoise:  10.0,   // Readings are noisy
		InitialCovariance: 10.0,
	}
}

// Scalar is a one-dimensional Kalman filter with no control term.
//
// x and P are the only state that changes; A, H, Q and R are fixed at
// construction. Methods are safe for concurrent use, but interleaved
// callers see each other's updates.
type Scalar struct {
	mu sync.Mutex

	// State variables
	x float64 // Current state estimate
	p float64 // Estimate covariance

	// Model
	a float64 // State transition
	h float64 // Observation coefficient
	q float64 // Process noise variance
	r float64 // Measurement noise variance

	// Initial conditions, used by Reset
	x0 float64
	p0 float64
}

// Option configures optional initial conditions of a Scalar.
type Option func(*Scalar)

// WithInitialState sets x0. Default: 0.
func WithInitialState(x0 float64) Option {
	return func(s *Scalar) {
		s.x = x0
		s.x0 = x0
	}
}

// WithInitialCovariance sets P0. Default: 0.
func WithInitialCovariance(p0 float64) Option {
	return func(s *Scalar) {
		s.p = p0
		s.p0 = p0
	}
}

// NewScalar creates a filter with transition a, observation h, process
// noise q and measurement noise r. Coefficients are stored as given.
func NewScalar(a, h, q, r float64, opts ...Option) *Scalar {
	s := &Scalar{a: a, h: h, q: q, r: r}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewScalarFromConfig creates a filter from cfg.
func NewScalarFromConfig(cfg Config) *Scalar {
	return NewScalar(cfg.Transition, cfg.Observation, cfg.ProcessNoise, cfg.MeasurementNoise,
		WithInitialState(cfg.InitialState),
		WithInitialCovariance(cfg.InitialCovariance),
	)
}

// Predict propagates the estimate and its variance one step forward:
//
//	x = A*x
//	P = A*P*A + Q
func (s *Scalar) Predict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictInternal()
}

func (s *Scalar) predictInternal() {
	s.x = s.a * s.x
	s.p = s.a*s.p*s.a + s.q
}

// Update corrects the estimate with observation z.
//
// Returns a *FailedInverseError if |H*P*H + R| < SingularityThreshold. In that
// case x and P are left exactly as they were.
func (s *Scalar) Update(z float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.updateInternal(z)
	return err
}

// updateInternal applies the measurement update and reports what it used.
// The guard runs before any field is written.
func (s *Scalar) updateInternal(z float64) (Step, error) {
	y := z - s.h*s.x // Innovation
	S := s.h*s.p*s.h + s.r
	if math.Abs(S) < SingularityThreshold {
		return Step{}, &FailedInverseError{Scalar: "S", Operation: innovationOperation, Value: S}
	}

	k := s.p * s.h / S // Kalman gain
	s.x += k * y
	s.p *= 1.0 - k*s.h

	return Step{
		Observation:        z,
		Innovation:         y,
		InnovationVariance: S,
		Gain:               k,
		Estimate:           s.x,
		Covariance:         s.p,
	}, nil
}

// Advance runs Predict then Update(z) and returns the corrected estimate.
//
// If Update fails the predicted x and P are kept; the next Advance starts
// from the predicted state.
func (s *Scalar) Advance(z float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, err := s.advanceInternal(z)
	if err != nil {
		return 0, err
	}
	return step.Estimate, nil
}

func (s *Scalar) advanceInternal(z float64) (Step, error) {
	s.predictInternal()
	return s.updateInternal(z)
}

// Innovation returns the residual y = z - H*x and its variance S = H*P*H + R
// for the current state. Does not update the filter.
func (s *Scalar) Innovation(z float64) (y, S float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return z - s.h*s.x, s.h*s.p*s.h + s.r
}

// Forecast returns the estimate and variance steps ahead with no
// observations. Does not update the filter.
func (s *Scalar) Forecast(steps int) (x, p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	x, p = s.x, s.p
	for i := 0; i < steps; i++ {
		x = s.a * x
		p = s.a*p*s.a + s.q
	}
	return x, p
}

// State returns the current state estimate.
func (s *Scalar) State() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x
}

// Covariance returns the current estimate variance.
func (s *Scalar) Covariance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// Reset restores the initial state and covariance.
func (s *Scalar) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x = s.x0
	s.p = s.p0
}

// Config returns the coefficients and initial conditions the filter was
// built with.
func (s *Scalar) Config() Config {
	return Config{
		Transition:        s.a,
		Observation:       s.h,
		ProcessNoise:      s.q,
		MeasurementNoise:  s.r,
		InitialState:      s.x0,
		InitialCovariance: s.p0,
	}
}

// Stats is a snapshot of a filter.
type Stats struct {
	State            float64
	Covariance       float64
	Transition       float64
	Observation      float64
	ProcessNoise     float64
	MeasurementNoise float64
}

// GetStats returns current filter statistics.
func (s *Scalar) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		State:            s.x,
		Covariance:       s.p,
		Transition:       s.a,
		Observation:      s.h,
		ProcessNoise:     s.q,
		MeasurementNoise: s.r,
	}
}
