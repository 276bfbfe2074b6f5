package queue

import (
	"context"
	"sync"
)

// ProgressFunc reports (current, total) after every merged batch.
type ProgressFunc func(current, total int64)

// Result is what an executor returns when it stops, successfully or not.
type Result struct {
	// Processed counts the items acted on before the executor returned.
	Processed int64
}

// Executor performs one job type's work. Implementations poll ctx at
// page, sub-batch, and pre-destructive checkpoints and return
// context.Canceled when they stop early; they never panic out.
type Executor func(ctx context.Context, payload any, progress ProgressFunc) (Result, error)

// Registry maps job types to executors. Registration is late: features
// register their executor when they initialize, which may be after jobs
// of that type were enqueued.
type Registry struct {
	mu        sync.RWMutex
	executors map[Type]Executor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[Type]Executor)}
}

// Register installs the executor for a job type, replacing any previous
// one.
func (r *Registry) Register(t Type, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = ex
}

// Lookup returns the executor for a job type.
func (r *Registry) Lookup(t Type) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[t]
	return ex, ok
}

// Registered lists the types that currently have an executor.
func (r *Registry) Registered() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.executors))
	for _, t := range Types {
		if _, ok := r.executors[t]; ok {
			types = append(types, t)
		}
	}
	return types
}
