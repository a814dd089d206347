package jobstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okarlsson/imagepress/internal/domain"
)

const (
	fieldState  = "state"
	fieldStep   = "step"
	fieldResult = "result"
	fieldError  = "error"
)

// RedisTracker stores one hash per job. Ids the backend has never seen
// read back as PENDING, indistinguishable from a job that exists but has
// not started; that matches the queue's semantics.
type RedisTracker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisTracker builds a tracker. ttl bounds how long terminal states
// are kept; non-terminal states never expire on their own.
func NewRedisTracker(client redis.UniversalClient, keyPrefix string, ttl time.Duration) (*RedisTracker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "imagepress:job"
	}
	return &RedisTracker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}, nil
}

func (t *RedisTracker) key(jobID string) string {
	return t.keyPrefix + ":" + jobID
}

func (t *RedisTracker) Started(ctx context.Context, jobID string) error {
	succeeded, err := t.hasSucceeded(ctx, jobID)
	if err != nil || succeeded {
		return err
	}

	key := t.key(jobID)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, fieldState, string(domain.StateStarted))
	pipe.HDel(ctx, key, fieldStep, fieldError)
	pipe.Persist(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record started for job %s: %w", jobID, err)
	}
	return nil
}

func (t *RedisTracker) Progress(ctx context.Context, jobID, step string) error {
	succeeded, err := t.hasSucceeded(ctx, jobID)
	if err != nil || succeeded {
		return err
	}

	err = t.client.HSet(ctx, t.key(jobID),
		fieldState, string(domain.StateProgress),
		fieldStep, step,
	).Err()
	if err != nil {
		return fmt.Errorf("record progress for job %s: %w", jobID, err)
	}
	return nil
}

func (t *RedisTracker) Success(ctx context.Context, jobID string, result map[string]string) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for job %s: %w", jobID, err)
	}

	key := t.key(jobID)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, fieldState, string(domain.StateSuccess), fieldResult, encoded)
	pipe.HDel(ctx, key, fieldStep, fieldError)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record success for job %s: %w", jobID, err)
	}
	return nil
}

func (t *RedisTracker) Failure(ctx context.Context, jobID, reason string) error {
	succeeded, err := t.hasSucceeded(ctx, jobID)
	if err != nil || succeeded {
		return err
	}

	key := t.key(jobID)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, fieldState, string(domain.StateFailure), fieldError, reason)
	pipe.HDel(ctx, key, fieldStep)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record failure for job %s: %w", jobID, err)
	}
	return nil
}

func (t *RedisTracker) State(ctx context.Context, jobID string) (Status, error) {
	fields, err := t.client.HGetAll(ctx, t.key(jobID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("load state for job %s: %w", jobID, err)
	}

	status := Status{State: domain.ParseState(fields[fieldState])}
	switch status.State {
	case domain.StateProgress:
		status.Step = fields[fieldStep]
	case domain.StateSuccess:
		if raw := fields[fieldResult]; raw != "" {
			result := make(map[string]string)
			if err := json.Unmarshal([]byte(raw), &result); err != nil {
				return Status{}, fmt.Errorf("decode result for job %s: %w", jobID, err)
			}
			status.Result = result
		}
	case domain.StateFailure:
		status.Error = fields[fieldError]
	}
	return status, nil
}

// hasSucceeded guards non-success transitions so a redelivered job that
// already completed never regresses the externally visible state.
func (t *RedisTracker) hasSucceeded(ctx context.Context, jobID string) (bool, error) {
	raw, err := t.client.HGet(ctx, t.key(jobID), fieldState).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check state for job %s: %w", jobID, err)
	}
	return domain.ParseState(raw) == domain.StateSuccess, nil
}
