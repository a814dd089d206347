package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/okarlsson/imagepress/internal/domain"
)

// ObjectStore is the slice of blob storage the processor needs.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ProgressReporter receives the per-rendition step labels. The worker
// wires the result backend in here; tests wire a recorder.
type ProgressReporter interface {
	Progress(ctx context.Context, jobID, step string) error
}

// Processor runs the derived-artifact pipeline for one job: fetch the
// original, produce each rendition, upload it, and accumulate the result
// mapping. Object keys are derived purely from job id and filename, so a
// redelivered job overwrites its own artifacts and returns an identical
// mapping.
type Processor struct {
	store      ObjectStore
	reporter   ProgressReporter
	renditions []Rendition
}

func NewProcessor(store ObjectStore, reporter ProgressReporter) (*Processor, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if reporter == nil {
		return nil, errors.New("progress reporter is required")
	}
	return &Processor{
		store:      store,
		reporter:   reporter,
		renditions: Renditions,
	}, nil
}

func (p *Processor) Process(ctx context.Context, jobID, filename string) (map[string]string, error) {
	// Filename validation comes before any storage traffic so a malformed
	// name can never leave partial processed objects behind.
	baseName, err := domain.BaseName(filename)
	if err != nil {
		return nil, err
	}

	originalKey := domain.OriginalKey(jobID, filename)
	original, err := p.store.ReadObject(ctx, originalKey)
	if err != nil {
		return nil, fmt.Errorf("fetch original: %w", err)
	}

	result := make(map[string]string, len(p.renditions))
	for _, rendition := range p.renditions {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := p.reporter.Progress(ctx, jobID, rendition.StepLabel); err != nil {
			return nil, fmt.Errorf("report progress: %w", err)
		}

		derived, err := Resize(original, rendition.MaxWidth, rendition.MaxHeight, rendition.Quality)
		if err != nil {
			return nil, fmt.Errorf("rendition %s: %w", rendition.Key, err)
		}

		objectKey := domain.ProcessedKey(jobID, baseName, rendition.Key)
		if err := p.store.WriteObject(ctx, objectKey, derived, "image/jpeg"); err != nil {
			return nil, fmt.Errorf("upload rendition %s: %w", rendition.Key, err)
		}

		result[rendition.Key] = domain.RetrievalPath(objectKey)
	}

	return result, nil
}
