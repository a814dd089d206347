package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okarlsson/imagepress/internal/config"
	"github.com/okarlsson/imagepress/internal/domain"
	"github.com/okarlsson/imagepress/internal/jobstate"
	"github.com/okarlsson/imagepress/internal/pipeline"
	"github.com/okarlsson/imagepress/internal/queue"
	"github.com/okarlsson/imagepress/internal/webhook"
)

type Server struct {
	logger    *log.Logger
	server    *asynq.Server
	processor jobProcessor
	tracker   jobstate.Tracker
	notifier  *webhook.Client
	metrics   *metrics
	tracer    trace.Tracer
}

type jobProcessor interface {
	Process(ctx context.Context, jobID, filename string) (map[string]string, error)
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	processor *pipeline.Processor,
	tracker jobstate.Tracker,
	notifier *webhook.Client,
) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("job tracker is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		processor: processor,
		tracker:   tracker,
		notifier:  notifier,
		metrics:   newMetrics(),
		tracer:    otel.Tracer("imagepress/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := string(domain.StateFailure)

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.filename", payload.Filename),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.metrics.activeJobs.Inc()
	defer s.metrics.activeJobs.Dec()

	s.logger.Printf("processing job_id=%s filename=%s", payload.JobID, payload.Filename)

	if err := s.tracker.Started(ctx, payload.JobID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("record started state: %w", err)
	}

	result, err := s.processor.Process(ctx, payload.JobID, payload.Filename)
	if err != nil {
		s.reportFailure(ctx, payload, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		if isPermanent(err) {
			// Redelivery cannot fix a malformed name or unreadable image.
			return fmt.Errorf("process job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("process job %s: %w", payload.JobID, err)
	}

	if err := s.tracker.Success(ctx, payload.JobID, result); err != nil {
		// The artifacts exist but the terminal state is unrecorded; let the
		// queue redeliver, the re-run overwrites the same keys.
		span.RecordError(err)
		return fmt.Errorf("record success state: %w", err)
	}

	s.logger.Printf("processed job_id=%s renditions=%d", payload.JobID, len(result))
	s.metrics.renditionsTotal.Add(float64(len(result)))
	s.notify(ctx, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.StateSuccess,
		"filename":     payload.Filename,
		"submitted_at": payload.SubmittedAt,
		"completed_at": time.Now().UTC(),
		"result":       result,
	})

	outcome = string(domain.StateSuccess)
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) reportFailure(ctx context.Context, payload queue.ProcessImagePayload, cause error) {
	if err := s.tracker.Failure(ctx, payload.JobID, cause.Error()); err != nil {
		s.logger.Printf("failure state update failed job_id=%s err=%v", payload.JobID, err)
	}
	s.notify(ctx, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.StateFailure,
		"filename":     payload.Filename,
		"submitted_at": payload.SubmittedAt,
		"failed_at":    time.Now().UTC(),
		"error":        cause.Error(),
	})
}

// notify delivers best-effort: a lost notification never fails or
// redelivers an otherwise finished job.
func (s *Server) notify(ctx context.Context, event string, body map[string]any) {
	if !s.notifier.Enabled() {
		return
	}
	if err := s.notifier.Send(ctx, event, body); err != nil {
		s.logger.Printf("webhook delivery failed event=%s job_id=%v err=%v", event, body["job_id"], err)
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidFilename) ||
		errors.Is(err, pipeline.ErrDecode) ||
		errors.Is(err, pipeline.ErrEncode)
}
