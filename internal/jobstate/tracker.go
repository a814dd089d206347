package jobstate

import (
	"context"

	"github.com/okarlsson/imagepress/internal/domain"
)

// Status is a point-in-time view of a job as held by the result backend.
// Step is set only while PROGRESS, Result only on SUCCESS, Error only on
// FAILURE.
type Status struct {
	State  domain.State
	Step   string
	Result map[string]string
	Error  string
}

// Tracker is the message-passing seam between the worker and the status
// API. The worker reports transitions; the API reads them. Implementations
// must give read-your-writes per job id: once Success returns, State for
// that id observes it.
type Tracker interface {
	Started(ctx context.Context, jobID string) error
	Progress(ctx context.Context, jobID, step string) error
	Success(ctx context.Context, jobID string, result map[string]string) error
	Failure(ctx context.Context, jobID, reason string) error
	State(ctx context.Context, jobID string) (Status, error)
}
