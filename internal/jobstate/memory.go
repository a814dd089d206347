package jobstate

import (
	"context"
	"sync"

	"github.com/okarlsson/imagepress/internal/domain"
)

// MemoryTracker mirrors RedisTracker semantics for tests and single
// process development runs.
type MemoryTracker struct {
	mu   sync.RWMutex
	jobs map[string]Status
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{jobs: make(map[string]Status)}
}

func (t *MemoryTracker) Started(_ context.Context, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobs[jobID].State == domain.StateSuccess {
		return nil
	}
	t.jobs[jobID] = Status{State: domain.StateStarted}
	return nil
}

func (t *MemoryTracker) Progress(_ context.Context, jobID, step string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobs[jobID].State == domain.StateSuccess {
		return nil
	}
	t.jobs[jobID] = Status{State: domain.StateProgress, Step: step}
	return nil
}

func (t *MemoryTracker) Success(_ context.Context, jobID string, result map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	copied := make(map[string]string, len(result))
	for k, v := range result {
		copied[k] = v
	}
	t.jobs[jobID] = Status{State: domain.StateSuccess, Result: copied}
	return nil
}

func (t *MemoryTracker) Failure(_ context.Context, jobID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobs[jobID].State == domain.StateSuccess {
		return nil
	}
	t.jobs[jobID] = Status{State: domain.StateFailure, Error: reason}
	return nil
}

func (t *MemoryTracker) State(_ context.Context, jobID string) (Status, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.jobs[jobID]
	if !ok {
		return Status{State: domain.StatePending}, nil
	}
	return status, nil
}
