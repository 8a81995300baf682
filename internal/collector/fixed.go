package collector

import (
	"context"
	"sync"
	"time"
)

// FixedSource serves values set programmatically. It is used in dry-run
// mode and by tests.
type FixedSource struct {
	mu     sync.Mutex
	values map[string]float64
}

// NewFixedSource creates an empty fixed source.
func NewFixedSource() *FixedSource {
	return &FixedSource{values: make(map[string]float64)}
}

// Set stores the value returned for the service on subsequent fetches.
func (s *FixedSource) Set(service string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[service] = value
}

// Name implements MetricSource.
func (s *FixedSource) Name() string { return "fixed" }

// FetchValue implements MetricSource. Services without a stored value
// report ErrMetricUnavailable.
func (s *FixedSource) FetchValue(_ context.Context, service string) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[service]
	if !ok {
		return Sample{}, ErrMetricUnavailable
	}
	return Sample{Service: service, Value: v, Timestamp: time.Now()}, nil
}
