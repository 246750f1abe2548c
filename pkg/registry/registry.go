// Package registry hands out opaque handles to scalar Kalman filters.
//
// A host (CLI, RPC layer, language binding) creates a filter once and then
// refers to it by Handle. Each filter keeps its own lock, so callers working
// on different handles never contend.
//
// Example Usage:
//
//	reg := registry.New(logger)
//	h := reg.Create(filter.DefaultConfig())
//
//	x, err := reg.Advance(h, 1.0)
//	estimates, err := reg.Batch(h, []float64{1, 1, 1})
//
//	reg.Remove(h)
package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/scalarkalman/pkg/filter"
)

// ErrUnknownHandle is returned for handles that were never created or have
// been removed.
var ErrUnknownHandle = errors.New("unknown filter handle")

// Handle identifies a filter owned by a Registry.
type Handle string

// Registry stores filters by handle.
type Registry struct {
	mu      sync.RWMutex
	filters map[Handle]*filter.Scalar
	logger  *slog.Logger
}

// New creates an empty registry. A nil logger discards log output.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		filters: make(map[Handle]*filter.Scalar),
		logger:  logger,
	}
}

// Create builds a filter from cfg and returns its handle.
func (r *Registry) Create(cfg filter.Config) Handle {
	h := Handle(uuid.NewString())
	f := filter.NewScalarFromConfig(cfg)

	r.mu.Lock()
	r.filters[h] = f
	r.mu.Unlock()

	r.logger.Debug("filter created",
		"handle", string(h),
		"a", cfg.Transition, "h", cfg.Observation,
		"q", cfg.ProcessNoise, "r", cfg.MeasurementNoise)
	return h
}

// Get returns the filter behind h.
func (r *Registry) Get(h Handle) (*filter.Scalar, error) {
	r.mu.RLock()
	f, ok := r.filters[h]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return f, nil
}

// Advance runs one predict/update step on the filter behind h.
func (r *Registry) Advance(h Handle, z float64) (float64, error) {
	f, err := r.Get(h)
	if err != nil {
		return 0, err
	}
	x, err := f.Advance(z)
	if err != nil {
		r.logger.Warn("filter step failed", "handle", string(h), "observation", z, "error", err)
		return 0, err
	}
	return x, nil
}

// Batch runs filter.RunBatch on the filter behind h.
func (r *Registry) Batch(h Handle, observations []float64) ([]float64, error) {
	f, err := r.Get(h)
	if err != nil {
		return nil, err
	}
	out, err := filter.RunBatch(f, observations)
	if err != nil {
		r.logger.Warn("filter batch failed", "handle", string(h), "observations", len(observations), "error", err)
		return nil, err
	}
	return out, nil
}

// Stats returns a snapshot of the filter behind h.
func (r *Registry) Stats(h Handle) (filter.Stats, error) {
	f, err := r.Get(h)
	if err != nil {
		return filter.Stats{}, err
	}
	return f.GetStats(), nil
}

// Reset restores the initial state of the filter behind h.
func (r *Registry) Reset(h Handle) error {
	f, err := r.Get(h)
	if err != nil {
		return err
	}
	f.Reset()
	return nil
}

// Remove drops the filter behind h.
func (r *Registry) Remove(h Handle) error {
	r.mu.Lock()
	_, ok := r.filters[h]
	delete(r.filters, h)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	r.logger.Debug("filter removed", "handle", string(h))
	return nil
}

// Len returns the number of live filters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}

// Handles returns all live handles, sorted.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.filters))
	for h := range r.filters {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
