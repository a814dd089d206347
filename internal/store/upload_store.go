package store

import (
	"context"

	"github.com/okarlsson/imagepress/internal/domain"
)

// UploadStore keeps the submission history. It is bookkeeping, not the
// job state machine: live state belongs to the result backend.
type UploadStore interface {
	Record(ctx context.Context, upload domain.Upload) error
	Get(ctx context.Context, jobID string) (domain.Upload, bool, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Upload, error)
}
