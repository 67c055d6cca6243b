// Package health provides liveness and readiness checks for the sentinel service.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the result of running a single check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker reports whether a dependency is usable. A nil error means healthy.
type Checker func(ctx context.Context) error

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
}

// NewRegistry creates an empty registry. Each check runs with the given
// per-check timeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{
		checkers: make(map[string]Checker),
		timeout:  timeout,
	}
}

// Register adds a named checker. Re-registering a name replaces the checker.
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// Run executes all checkers and returns their statuses plus an overall flag.
func (r *Registry) Run(ctx context.Context) ([]Status, bool) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	checks := make([]Checker, 0, len(r.checkers))
	for name, c := range r.checkers {
		names = append(names, name)
		checks = append(checks, c)
	}
	r.mu.RUnlock()

	statuses := make([]Status, len(names))
	healthy := true
	for i, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := c(cctx)
		cancel()

		statuses[i] = Status{Name: names[i], Healthy: err == nil}
		if err != nil {
			statuses[i].Detail = err.Error()
			healthy = false
		}
	}
	return statuses, healthy
}
