package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a processing job as recorded in the
// result backend. States only move forward: PENDING -> STARTED ->
// PROGRESS -> SUCCESS or FAILURE.
type State string

const (
	StatePending  State = "PENDING"
	StateStarted  State = "STARTED"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Result keys of the two derived artifacts.
const (
	ArtifactResizedCompressed = "resized_compressed"
	ArtifactThumbnail         = "thumbnail"
)

var ErrInvalidFilename = errors.New("filename has no extension")

// ParseState maps a stored string back onto the closed state set.
// Anything unknown (including the empty string for ids the backend has
// never seen) reads as PENDING.
func ParseState(raw string) State {
	switch State(strings.ToUpper(strings.TrimSpace(raw))) {
	case StateStarted:
		return StateStarted
	case StateProgress:
		return StateProgress
	case StateSuccess:
		return StateSuccess
	case StateFailure:
		return StateFailure
	default:
		return StatePending
	}
}

func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

// OriginalKey is the object key the submission gateway writes the
// untouched upload to. The layout is part of the public contract.
func OriginalKey(jobID, filename string) string {
	return fmt.Sprintf("original/%s/%s", jobID, filename)
}

// ProcessedKey is the object key for a derived artifact, e.g.
// processed/{jobID}/cat_thumbnail.jpeg for an upload named cat.jpg.
func ProcessedKey(jobID, baseName, suffix string) string {
	return fmt.Sprintf("processed/%s/%s_%s.jpeg", jobID, baseName, suffix)
}

// RetrievalPath is the API path that serves the given object key.
func RetrievalPath(objectKey string) string {
	return "/files/" + objectKey
}

// BaseName strips the final extension from an uploaded filename. A name
// without a dot cannot produce deterministic artifact keys, so it is
// rejected before any processed object is written.
func BaseName(filename string) (string, error) {
	idx := strings.LastIndex(filename, ".")
	if idx <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return filename[:idx], nil
}

// Upload is the submission record kept by the upload store. Live job
// state lives in the result backend, not here.
type Upload struct {
	JobID       string
	Filename    string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}
