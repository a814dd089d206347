package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/okarlsson/imagepress/internal/domain"
	"github.com/okarlsson/imagepress/internal/id"
	"github.com/okarlsson/imagepress/internal/jobstate"
	"github.com/okarlsson/imagepress/internal/queue"
	"github.com/okarlsson/imagepress/internal/storage"
	"github.com/okarlsson/imagepress/internal/store"
)

const defaultUploadMaxBytes = 32 << 20

type Server struct {
	logger         *log.Logger
	queueClient    queueEnqueuer
	tracker        jobstate.Tracker
	storage        objectStorage
	uploads        store.UploadStore
	rateLimiter    RateLimiter
	uploadMaxBytes int64
	metrics        *metrics
	tracer         trace.Tracer
	mux            *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	OpenObject(ctx context.Context, objectKey string) (io.ReadCloser, storage.ObjectInfo, error)
}

func NewServer(
	logger *log.Logger,
	queueClient queueEnqueuer,
	tracker jobstate.Tracker,
	objStorage objectStorage,
	uploads store.UploadStore,
	rateLimiter RateLimiter,
	uploadMaxBytes int64,
) *Server {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = defaultUploadMaxBytes
	}
	if uploads == nil {
		uploads = store.NewMemoryUploadStore()
	}

	s := &Server{
		logger:         logger,
		queueClient:    queueClient,
		tracker:        tracker,
		storage:        objStorage,
		uploads:        uploads,
		rateLimiter:    rateLimiter,
		uploadMaxBytes: uploadMaxBytes,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("imagepress/api"),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("GET /upload/{id}/status", s.handleStatus)
	s.mux.HandleFunc("GET /upload/{id}/result", s.handleResult)
	s.mux.HandleFunc("GET /files/{path...}", s.handleFiles)
	s.mux.HandleFunc("GET /uploads", s.handleListUploads)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadMaxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "uploaded file is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "uploaded file is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read uploaded file"})
		return
	}

	// The declared content type gates the upload. Parts that declare
	// nothing get sniffed; anything non-image is rejected before a single
	// byte reaches storage.
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	if !strings.HasPrefix(contentType, "image/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only image files are allowed"})
		return
	}

	filename := path.Base(strings.TrimSpace(header.Filename))
	if filename == "" || filename == "." || filename == "/" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "uploaded file needs a filename"})
		return
	}

	jobID := id.New()
	objectKey := domain.OriginalKey(jobID, filename)

	if err := s.storage.WriteObject(r.Context(), objectKey, data, contentType); err != nil {
		s.logger.Printf("original upload failed job_id=%s key=%s err=%v", jobID, objectKey, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save file to storage"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueProcessImage(r.Context(), queue.ProcessImagePayload{
		JobID:       jobID,
		Filename:    filename,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		// The original is already stored; an orphaned blob is the accepted
		// failure mode here.
		s.logger.Printf("enqueue failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not queue file for processing"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if err := s.uploads.Record(r.Context(), domain.Upload{
		JobID:       jobID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		s.logger.Printf("upload record failed job_id=%s err=%v", jobID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":         jobID,
		"task_id":    taskInfo.ID,
		"filename":   filename,
		"status_url": fmt.Sprintf("/upload/%s/status", jobID),
		"result_url": fmt.Sprintf("/upload/%s/result", jobID),
		"message":    "File uploaded successfully. Processing started in the background.",
	})
}

type statusResponse struct {
	TaskID string            `json:"task_id"`
	Status domain.State      `json:"status"`
	Detail string            `json:"detail"`
	Result map[string]string `json:"result"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	status, err := s.tracker.State(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("state lookup failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load job state"})
		return
	}

	resp := statusResponse{
		TaskID: jobID,
		Status: status.State,
	}
	code := http.StatusOK

	switch status.State {
	case domain.StatePending:
		resp.Detail = "Processing is pending."
	case domain.StateStarted:
		resp.Detail = "Processing has started."
	case domain.StateProgress:
		resp.Detail = status.Step
		if resp.Detail == "" {
			resp.Detail = "Processing in progress."
		}
		resp.Result = map[string]string{"step": status.Step}
	case domain.StateSuccess:
		resp.Detail = "Processing complete. Use the result URL to get the processed file links."
	case domain.StateFailure:
		code = http.StatusInternalServerError
		resp.Detail = "Processing failed."
	}

	writeJSON(w, code, resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	status, err := s.tracker.State(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("state lookup failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load job state"})
		return
	}

	if status.State != domain.StateSuccess {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("job is not complete; current status: %s", status.State),
		})
		return
	}

	writeJSON(w, http.StatusOK, status.Result)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	objectKey := r.PathValue("path")

	rc, info, err := s.storage.OpenObject(r.Context(), objectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
			return
		}
		s.logger.Printf("file fetch failed key=%s err=%v", objectKey, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not retrieve file from storage"})
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(objectKey)))

	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Printf("file stream aborted key=%s err=%v", objectKey, err)
	}
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	uploads, err := s.uploads.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Printf("upload listing failed err=%v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list uploads"})
		return
	}

	items := make([]map[string]any, 0, len(uploads))
	for _, upload := range uploads {
		items = append(items, map[string]any{
			"id":           upload.JobID,
			"filename":     upload.Filename,
			"content_type": upload.ContentType,
			"size_bytes":   upload.SizeBytes,
			"created_at":   upload.CreatedAt,
			"status_url":   fmt.Sprintf("/upload/%s/status", upload.JobID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": items})
}

func isBodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
