package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// JobRegistry tracks the jobs running in this process so a kill request
// received on any channel can cancel the matching job context.
type JobRegistry interface {
	Register(ctx context.Context, jobID string) (context.Context, func())
	Cancel(jobID string, cause error) bool
	ActiveJobs() []string
}

// Registry is the in-process JobRegistry
type Registry struct {
	jobs map[string]context.CancelCauseFunc
	mu   sync.RWMutex
}

// NewJobRegistry creates an empty job registry
func NewJobRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]context.CancelCauseFunc),
	}
}

// Register derives a cancellable context for jobID. The returned release
// func must be called when the job stops running.
func (r *Registry) Register(ctx context.Context, jobID string) (context.Context, func()) {
	jobCtx, cancel := context.WithCancelCause(ctx)

	r.mu.Lock()
	r.jobs[jobID] = cancel
	r.mu.Unlock()

	log.Debug().Str("jobId", jobID).Msg("Registered running job")

	return jobCtx, func() {
		r.mu.Lock()
		delete(r.jobs, jobID)
		r.mu.Unlock()
		cancel(nil)
	}
}

// Cancel cancels a running job with cause. It reports false when the job
// is not running in this process.
func (r *Registry) Cancel(jobID string, cause error) bool {
	r.mu.RLock()
	cancel, ok := r.jobs[jobID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	cancel(cause)

	log.Info().
		Str("jobId", jobID).
		AnErr("cause", cause).
		Msg("Cancelled running job")

	return true
}

// ActiveJobs returns the ids of all running jobs
func (r *Registry) ActiveJobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]string, 0, len(r.jobs))
	for jobID := range r.jobs {
		jobs = append(jobs, jobID)
	}

	return jobs
}
