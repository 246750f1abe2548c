package series

import (
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/stat"

	"github.com/orneryd/scalarkalman/pkg/filter"
)

// RunOptions controls Run.
type RunOptions struct {
	// ResidualSigma logs a warning when |y| > ResidualSigma*sqrt(S).
	// 0 disables residual monitoring.
	ResidualSigma float64

	// Logger receives residual warnings and a completion record.
	// nil discards them.
	Logger *slog.Logger
}

// Result holds every step of a successful run.
type Result struct {
	Observations []float64
	Estimates    []float64
	Steps        []filter.Step
	Summary      Summary
}

// Summary describes a run.
type Summary struct {
	Count            int     `json:"count"`
	FinalEstimate    float64 `json:"final_estimate"`
	FinalCovariance  float64 `json:"final_covariance"`
	MeanEstimate     float64 `json:"mean_estimate"`
	ResidualMean     float64 `json:"residual_mean"`
	ResidualStdDev   float64 `json:"residual_stddev"`
	ResidualRMS      float64 `json:"residual_rms"`
	ResidualWarnings int     `json:"residual_warnings"`
}

// Run feeds observations through f as one batch.
//
// It has filter.RunBatch semantics: on the first failed step Run returns nil
// and the error, and f keeps whatever state the batch reached.
func Run(f *filter.Scalar, observations []float64, opts RunOptions) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	start := time.Now()
	steps := make([]filter.Step, 0, len(observations))
	warnings := 0

	estimates, err := f.BatchFunc(observations, func(st filter.Step) {
		steps = append(steps, st)
		if opts.ResidualSigma <= 0 {
			return
		}
		sigma := math.Sqrt(st.InnovationVariance)
		if math.Abs(st.Innovation) > opts.ResidualSigma*sigma {
			warnings++
			logger.Warn("large residual; consider tuning Q/R",
				"step", st.Index,
				"observation", st.Observation,
				"residual", st.Innovation,
				"bound", opts.ResidualSigma*sigma)
		}
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Observations: observations,
		Estimates:    estimates,
		Steps:        steps,
		Summary:      summarize(steps, estimates),
	}
	res.Summary.ResidualWarnings = warnings

	logger.Info("batch complete",
		"observations", len(observations),
		"final_estimate", res.Summary.FinalEstimate,
		"final_covariance", res.Summary.FinalCovariance,
		"residual_warnings", warnings,
		"elapsed", time.Since(start))
	return res, nil
}

// Residuals returns the pre-fit innovation of every step.
func (r *Result) Residuals() []float64 {
	return innovations(r.Steps)
}

func innovations(steps []filter.Step) []float64 {
	out := make([]float64, len(steps))
	for i, st := range steps {
		out[i] = st.Innovation
	}
	return out
}

func summarize(steps []filter.Step, estimates []float64) Summary {
	s := Summary{Count: len(estimates)}
	if len(estimates) == 0 {
		return s
	}

	last := steps[len(steps)-1]
	s.FinalEstimate = last.Estimate
	s.FinalCovariance = last.Covariance
	s.MeanEstimate = vek.Mean(estimates)

	residuals := innovations(steps)
	s.ResidualMean = vek.Mean(residuals)
	s.ResidualRMS = math.Sqrt(vek.Dot(residuals, residuals) / float64(len(residuals)))
	if len(residuals) > 1 {
		s.ResidualStdDev = stat.StdDev(residuals, nil)
	}
	return s
}
