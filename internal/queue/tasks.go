package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeProcessImage = "image:process"

// ProcessImagePayload is everything a worker needs to re-derive the
// object keys of a job. Kept deliberately small: redelivery must be able
// to reproduce the exact same keys from it.
type ProcessImagePayload struct {
	JobID       string    `json:"job_id"`
	Filename    string    `json:"filename"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
