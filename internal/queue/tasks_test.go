package queue

import (
	"testing"
	"time"
)

func TestProcessImageTaskRoundTrip(t *testing.T) {
	payload := ProcessImagePayload{
		JobID:       "job-123",
		Filename:    "cat.jpg",
		SubmittedAt: time.Now().UTC(),
	}

	task, err := NewProcessImageTask(payload)
	if err != nil {
		t.Fatalf("NewProcessImageTask returned error: %v", err)
	}
	if task.Type() != TypeProcessImage {
		t.Fatalf("expected task type %q, got %q", TypeProcessImage, task.Type())
	}

	parsed, err := ParseProcessImagePayload(task)
	if err != nil {
		t.Fatalf("ParseProcessImagePayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if parsed.Filename != payload.Filename {
		t.Fatalf("expected filename %q, got %q", payload.Filename, parsed.Filename)
	}
}
