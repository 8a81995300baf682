package replicas

import (
	"context"
	"sync"
)

// FakeController is an in-memory Controller used in dry-run mode and by
// tests. Failures can be injected per call kind.
type FakeController struct {
	mu sync.Mutex

	counts   map[string]int
	versions map[string]string

	// Injected errors; nil means the call succeeds.
	ScaleErr    error
	RolloutErr  error
	RollbackErr error
	HealthErr   error

	// Calls records every invocation in order, e.g. "rollout taskapi v2".
	Calls []string
}

// NewFakeController creates a fake with every service at zero replicas.
func NewFakeController() *FakeController {
	return &FakeController{
		counts:   make(map[string]int),
		versions: make(map[string]string),
	}
}

// SetCount seeds the replica count for a service.
func (f *FakeController) SetCount(service string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[service] = n
}

// Count returns the current replica count for a service.
func (f *FakeController) Count(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[service]
}

// Version returns the currently rolled-out version for a service.
func (f *FakeController) Version(service string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[service]
}

// CallLog returns a copy of the recorded calls.
func (f *FakeController) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	copy(out, f.Calls)
	return out
}

// SetDesiredCount implements Controller.
func (f *FakeController) SetDesiredCount(_ context.Context, service string, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "scale "+service)
	if f.ScaleErr != nil {
		return 0, f.ScaleErr
	}
	f.counts[service] = n
	return n, nil
}

// Rollout implements Controller.
func (f *FakeController) Rollout(_ context.Context, service, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "rollout "+service+" "+version)
	if f.RolloutErr != nil {
		return f.RolloutErr
	}
	f.versions[service] = version
	return nil
}

// Rollback implements Controller.
func (f *FakeController) Rollback(_ context.Context, service, toVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "rollback "+service+" "+toVersion)
	if f.RollbackErr != nil {
		return f.RollbackErr
	}
	f.versions[service] = toVersion
	return nil
}

// GetHealth implements Controller.
func (f *FakeController) GetHealth(_ context.Context, service string) (Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "health "+service)
	if f.HealthErr != nil {
		return Health{}, f.HealthErr
	}
	count := f.counts[service]
	return Health{Running: count > 0, Healthy: count > 0, Count: count}, nil
}
