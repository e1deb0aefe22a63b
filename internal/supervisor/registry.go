// SPDX-License-Identifier: MIT

// Package supervisor tracks the running state of clipperd's supervised
// workers (camera, recorder, audio) for the health endpoint. Process
// supervision itself — starting workers, restarting them on failure with
// backoff — is delegated to github.com/thejerf/suture/v4 at the top level;
// this package only records what suture observes so internal/health can
// report it.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clipper-app/clipper/internal/health"
)

// State represents the current state of a supervised worker.
type State int

const (
	StateIdle    State = iota // registered, never started
	StateRunning              // currently running
	StateFailed               // last Serve call returned an error
	StateStopped              // stopped cleanly via context cancellation
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// entry tracks one worker's lifecycle.
type entry struct {
	state     State
	startTime time.Time
	started   bool // true once Serve has run at least once, for restart counting
	restarts  int
	lastError error
}

// Registry records the running state of a set of named workers and exposes
// it as health.ServiceInfo for the /healthz and /metrics endpoints.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a worker name to the registry in the idle state. Calling
// Register for a name that already exists is a no-op.
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		r.entries[name] = &entry{state: StateIdle}
	}
}

// MarkRunning records that a worker has started (or restarted). If the
// worker was previously failed or stopped, its restart count increments.
func (r *Registry) MarkRunning(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(name)
	if e.started && (e.state == StateFailed || e.state == StateStopped) {
		e.restarts++
	}
	e.state = StateRunning
	e.startTime = time.Now()
	e.started = true
}

// MarkFailed records that a worker's Serve call returned an error.
func (r *Registry) MarkFailed(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(name)
	e.state = StateFailed
	e.lastError = err
}

// MarkStopped records that a worker stopped cleanly (context cancellation).
func (r *Registry) MarkStopped(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(name)
	e.state = StateStopped
}

// entryLocked returns the entry for name, creating it if necessary.
// Callers must hold r.mu.
func (r *Registry) entryLocked(name string) *entry {
	e, ok := r.entries[name]
	if !ok {
		e = &entry{state: StateIdle}
		r.entries[name] = e
	}
	return e
}

// Services implements health.StatusProvider.
func (r *Registry) Services() []health.ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]health.ServiceInfo, 0, len(r.entries))
	now := time.Now()

	for name, e := range r.entries {
		var uptime time.Duration
		if e.state == StateRunning {
			uptime = now.Sub(e.startTime)
		}

		errStr := ""
		if e.lastError != nil {
			errStr = e.lastError.Error()
		}

		result = append(result, health.ServiceInfo{
			Name:     name,
			State:    e.state.String(),
			Uptime:   uptime,
			Healthy:  e.state == StateRunning,
			Error:    errStr,
			Restarts: e.restarts,
		})
	}

	return result
}

// RunnerService adapts a worker exposing the Run(ctx) error shape (the
// signature camera.Worker, recorder.Worker and audioworker.Worker already
// implement) into suture's Service interface (Serve(ctx context.Context)
// error), reporting start/stop/failure transitions to a Registry as it
// runs. suture.Supervisor.Add accepts it directly: RunnerService satisfies
// Service structurally, without this package importing suture.
type RunnerService struct {
	name string
	reg  *Registry
	run  func(ctx context.Context) error
}

// NewRunnerService wraps run (e.g. worker.Run) as a named, registry-reporting
// suture service.
func NewRunnerService(name string, reg *Registry, run func(ctx context.Context) error) *RunnerService {
	reg.Register(name)
	return &RunnerService{name: name, reg: reg, run: run}
}

// Serve runs the wrapped worker until ctx is cancelled or it returns an
// error, updating the registry on every transition. suture calls Serve
// again to restart the worker; MarkRunning detects this and counts it.
func (s *RunnerService) Serve(ctx context.Context) error {
	s.reg.MarkRunning(s.name)

	err := s.run(ctx)

	if ctx.Err() != nil {
		s.reg.MarkStopped(s.name)
		return nil
	}

	s.reg.MarkFailed(s.name, err)
	return err
}
