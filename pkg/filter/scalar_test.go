package filter

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
)

func TestConfig_Default(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Transition != 1.0 {
		t.Errorf("Transition = %v, want 1.0", cfg.Transition)
	}
	if cfg.ProcessNoise <= 0 {
		t.Error("ProcessNoise should be positive")
	}
	if cfg.InitialCovariance <= 0 {
		t.Error("InitialCovariance should be positive so the first update moves the estimate")
	}
}

func TestConfig_Smoothing(t *testing.T) {
	cfg := SmoothingConfig()
	if cfg.MeasurementNoise <= DefaultConfig().MeasurementNoise {
		t.Error("Smoothing config should distrust measurements more than default")
	}
}

func TestNewScalar_Defaults(t *testing.T) {
	s := NewScalar(0.9, 2, 0.1, 0.5)
	if s.State() != 0 {
		t.Errorf("Initial state = %v, want 0", s.State())
	}
	if s.Covariance() != 0 {
		t.Errorf("Initial covariance = %v, want 0", s.Covariance())
	}

	stats := s.GetStats()
	if stats.Transition != 0.9 || stats.Observation != 2 || stats.ProcessNoise != 0.1 || stats.MeasurementNoise != 0.5 {
		t.Errorf("coefficients not stored verbatim: %+v", stats)
	}
}

func TestNewScalar_WithInitial(t *testing.T) {
	s := NewScalar(1, 1, 0, 1, WithInitialState(3.5), WithInitialCovariance(2))
	if s.State() != 3.5 {
		t.Errorf("Initial state = %v, want 3.5", s.State())
	}
	if s.Covariance() != 2 {
		t.Errorf("Initial covariance = %v, want 2", s.Covariance())
	}
}

func TestNewScalar_AcceptsNegativeNoise(t *testing.T) {
	// Parameter sanity is the caller's problem.
	s := NewScalar(1, 1, -1, -1)
	if got := s.GetStats().ProcessNoise; got != -1 {
		t.Errorf("ProcessNoise = %v, want -1", got)
	}
}

func TestNewScalarFromConfig(t *testing.T) {
	cfg := Config{
		Transition:        0.5,
		Observation:       3,
		ProcessNoise:      0.2,
		MeasurementNoise:  4,
		InitialState:      7,
		InitialCovariance: 9,
	}
	s := NewScalarFromConfig(cfg)
	if s.Config() != cfg {
		t.Errorf("Config() = %+v, want %+v", s.Config(), cfg)
	}
	if s.State() != 7 || s.Covariance() != 9 {
		t.Errorf("state = (%v, %v), want (7, 9)", s.State(), s.Covariance())
	}
}

func TestPredict(t *testing.T) {
	s := NewScalar(2, 1, 0.5, 1, WithInitialState(3), WithInitialCovariance(1))
	s.Predict()

	if s.State() != 6 {
		t.Errorf("x = %v, want 6", s.State())
	}
	// P = A*P*A + Q = 2*1*2 + 0.5
	if s.Covariance() != 4.5 {
		t.Errorf("P = %v, want 4.5", s.Covariance())
	}
}

func TestPredict_SteadyStateWithoutNoise(t *testing.T) {
	s := NewScalar(1, 1, 0, 1, WithInitialState(4.2), WithInitialCovariance(0.7))

	for i := 0; i < 100; i++ {
		s.Predict()
	}

	if s.State() != 4.2 {
		t.Errorf("x = %v, want 4.2 after predict-only with A=1", s.State())
	}
	if s.Covariance() != 0.7 {
		t.Errorf("P = %v, want 0.7 after predict-only with Q=0", s.Covariance())
	}
}

func TestUpdate(t *testing.T) {
	s := NewScalar(1, 1, 0, 1, WithInitialCovariance(1))
	if err := s.Update(2); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// S = 2, K = 0.5
	if s.State() != 1 {
		t.Errorf("x = %v, want 1", s.State())
	}
	if s.Covariance() != 0.5 {
		t.Errorf("P = %v, want 0.5", s.Covariance())
	}
}

func TestUpdate_ObservationCoefficient(t *testing.T) {
	s := NewScalar(1, 2, 0, 1, WithInitialState(1), WithInitialCovariance(1))
	if err := s.Update(4); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// y = 4 - 2*1 = 2, S = 2*1*2 + 1 = 5, K = 2/5
	wantX := 1 + 0.4*2
	wantP := 1 * (1 - 0.4*2)
	if math.Abs(s.State()-wantX) > 1e-12 {
		t.Errorf("x = %v, want %v", s.State(), wantX)
	}
	if math.Abs(s.Covariance()-wantP) > 1e-12 {
		t.Errorf("P = %v, want %v", s.Covariance(), wantP)
	}
}

func TestUpdate_SingularInnovation(t *testing.T) {
	s := NewScalar(1, 0, 0, 0, WithInitialState(1.5), WithInitialCovariance(2))

	for _, z := range []float64{0, 1, -3, 1e9} {
		err := s.Update(z)
		if err == nil {
			t.Fatalf("Update(%v) with H=0, R=0 should fail", z)
		}
		if !errors.Is(err, ErrFailedInverse) {
			t.Errorf("errors.Is(err, ErrFailedInverse) = false for %v", err)
		}

		var fe *FailedInverseError
		if !errors.As(err, &fe) {
			t.Fatalf("error %T is not *FailedInverseError", err)
		}
		if fe.Scalar != "S" {
			t.Errorf("Scalar = %q, want S", fe.Scalar)
		}
		if s.State() != 1.5 || s.Covariance() != 2 {
			t.Errorf("state mutated on failure: x=%v P=%v", s.State(), s.Covariance())
		}
	}
}

func TestUpdate_ThresholdBoundary(t *testing.T) {
	below := NewScalar(1, 0, 0, 0.9e-8)
	if err := below.Update(1); err == nil {
		t.Error("|S| just below threshold should fail")
	}

	negative := NewScalar(1, 0, 0, -0.9e-8)
	if err := negative.Update(1); err == nil {
		t.Error("negative S with small magnitude should fail")
	}

	at := NewScalar(1, 0, 0, SingularityThreshold)
	if err := at.Update(1); err != nil {
		t.Errorf("|S| == threshold should succeed, got %v", err)
	}
}

func TestUpdate_NaNPropagates(t *testing.T) {
	s := NewScalar(1, 1, 0, 1, WithInitialCovariance(1))
	if err := s.Update(math.NaN()); err != nil {
		t.Fatalf("NaN observation is not detected, got %v", err)
	}
	if !math.IsNaN(s.State()) {
		t.Errorf("x = %v, want NaN", s.State())
	}
}

func TestFailedInverseError_Message(t *testing.T) {
	s := NewScalar(1, 0, 0, 0)
	err := s.Update(1)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "scalar S") {
		t.Errorf("message %q should name the scalar", msg)
	}
	if !strings.Contains(msg, "Innovation (measurement pre-fit residual `S`)") {
		t.Errorf("message %q should name the innovation computation", msg)
	}
}

func TestAdvance_ConvergesToConstant(t *testing.T) {
	s := NewScalar(1, 1, 0, 1, WithInitialCovariance(1))

	prevX, prevP := s.State(), s.Covariance()
	for i := 0; i < 200; i++ {
		x, err := s.Advance(5.0)
		if err != nil {
			t.Fatalf("Advance step %d: %v", i, err)
		}
		p := s.Covariance()
		if math.Abs(5-x) > math.Abs(5-prevX) {
			t.Fatalf("step %d: x moved away from 5: %v -> %v", i, prevX, x)
		}
		if p > prevP {
			t.Fatalf("step %d: P grew: %v -> %v", i, prevP, p)
		}
		prevX, prevP = x, p
	}

	if math.Abs(prevX-5) > 0.05 {
		t.Errorf("x = %v, want ~5", prevX)
	}
	if prevP > 0.01 {
		t.Errorf("P = %v, want ~0", prevP)
	}
}

func TestAdvance_Scenario(t *testing.T) {
	s := NewScalarFromConfig(DefaultConfig())

	want := []float64{0.5002498750624688, 0.6671106301229593, 0.7506238145901468}
	prev := 0.0
	for i, w := range want {
		x, err := s.Advance(1.0)
		if err != nil {
			t.Fatalf("Advance %d: %v", i, err)
		}
		if math.Abs(x-w) > 1e-12 {
			t.Errorf("step %d: x = %v, want %v", i, x, w)
		}
		if x <= prev || x >= 1 {
			t.Errorf("step %d: x = %v should increase towards 1", i, x)
		}
		prev = x
	}
}

func TestAdvance_NoRollbackOnFailure(t *testing.T) {
	s := NewScalar(2, 0, 0, 0, WithInitialState(3), WithInitialCovariance(1))

	x, err := s.Advance(1)
	if !errors.Is(err, ErrFailedInverse) {
		t.Fatalf("Advance error = %v, want ErrFailedInverse", err)
	}
	if x != 0 {
		t.Errorf("returned estimate = %v, want 0 on failure", x)
	}
	// Predict already happened.
	if s.State() != 6 {
		t.Errorf("x = %v, want predicted 6", s.State())
	}
	if s.Covariance() != 4 {
		t.Errorf("P = %v, want predicted 4", s.Covariance())
	}
}

func TestAdvance_UsableAfterFailure(t *testing.T) {
	// R = 0 and P grows by Q per predict: the first S is below the
	// threshold, the second (kept prediction plus another Q) is not.
	s := NewScalar(1, 1, 0.6e-8, 0)

	if _, err := s.Advance(1); !errors.Is(err, ErrFailedInverse) {
		t.Fatalf("first Advance error = %v, want ErrFailedInverse", err)
	}

	x, err := s.Advance(3)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	// K = 1 with R = 0, so the estimate snaps to the observation.
	if math.Abs(x-3) > 1e-9 {
		t.Errorf("x = %v, want 3", x)
	}
}

func TestInnovation(t *testing.T) {
	s := NewScalar(1, 2, 0, 1, WithInitialState(1), WithInitialCovariance(3))
	y, S := s.Innovation(5)
	if y != 3 {
		t.Errorf("y = %v, want 3", y)
	}
	if S != 13 {
		t.Errorf("S = %v, want 13", S)
	}
	if s.State() != 1 || s.Covariance() != 3 {
		t.Error("Innovation must not mutate the filter")
	}
}

func TestForecast(t *testing.T) {
	s := NewScalar(0.5, 1, 1, 1, WithInitialState(8), WithInitialCovariance(4))

	x, p := s.Forecast(2)
	// x: 8 -> 4 -> 2; P: 4 -> 2 -> 1.5
	if x != 2 {
		t.Errorf("x = %v, want 2", x)
	}
	if p != 1.5 {
		t.Errorf("P = %v, want 1.5", p)
	}

	if s.State() != 8 || s.Covariance() != 4 {
		t.Error("Forecast must not mutate the filter")
	}

	x0, p0 := s.Forecast(0)
	if x0 != 8 || p0 != 4 {
		t.Errorf("Forecast(0) = (%v, %v), want current state", x0, p0)
	}
	xn, pn := s.Forecast(-3)
	if xn != 8 || pn != 4 {
		t.Errorf("Forecast(-3) = (%v, %v), want current state", xn, pn)
	}
}

func TestReset(t *testing.T) {
	s := NewScalar(1, 1, 0.1, 1, WithInitialState(2), WithInitialCovariance(3))
	for i := 0; i < 10; i++ {
		if _, err := s.Advance(float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	s.Reset()
	if s.State() != 2 || s.Covariance() != 3 {
		t.Errorf("after Reset: x=%v P=%v, want 2, 3", s.State(), s.Covariance())
	}
}

func TestScalar_ConcurrentAccess(t *testing.T) {
	s := NewScalarFromConfig(DefaultConfig())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := s.Advance(1.0); err != nil {
					t.Error(err)
					return
				}
				_ = s.GetStats()
			}
		}()
	}
	wg.Wait()

	if math.Abs(s.State()-1) > 0.01 {
		t.Errorf("x = %v, want ~1 after 800 identical observations", s.State())
	}
}

func BenchmarkAdvance(b *testing.B) {
	s := NewScalarFromConfig(DefaultConfig())
	for i := 0; i < b.N; i++ {
		_, _ = s.Advance(float64(i % 10))
	}
}
