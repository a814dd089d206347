package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/okarlsson/imagepress/internal/domain"
	"github.com/okarlsson/imagepress/internal/jobstate"
	"github.com/okarlsson/imagepress/internal/queue"
	"github.com/okarlsson/imagepress/internal/storage"
	"github.com/okarlsson/imagepress/internal/store"
)

type testEnv struct {
	server  *Server
	storage *fakeObjectStorage
	queue   *fakeQueue
	tracker *jobstate.MemoryTracker
	uploads *store.MemoryUploadStore
}

func newTestEnv() *testEnv {
	env := &testEnv{
		storage: newFakeObjectStorage(),
		queue:   &fakeQueue{},
		tracker: jobstate.NewMemoryTracker(),
		uploads: store.NewMemoryUploadStore(),
	}
	env.server = NewServer(
		log.New(io.Discard, "", 0),
		env.queue,
		env.tracker,
		env.storage,
		env.uploads,
		nil,
		0,
	)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUploadRejectsNonImageContentType(t *testing.T) {
	env := newTestEnv()

	body, contentType := buildMultipart(t, "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.storage.writes != 0 {
		t.Fatal("rejected upload must not write to storage")
	}
	if len(env.queue.enqueued) != 0 {
		t.Fatal("rejected upload must not enqueue a job")
	}
}

func TestUploadAcceptsImageAndEnqueuesJob(t *testing.T) {
	env := newTestEnv()

	body, contentType := buildMultipart(t, "cat.jpg", "image/jpeg", buildTestPNG(t))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID        string `json:"id"`
		TaskID    string `json:"task_id"`
		Filename  string `json:"filename"`
		StatusURL string `json:"status_url"`
		ResultURL string `json:"result_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("expected a job id")
	}
	if resp.TaskID != resp.ID {
		t.Fatalf("expected task id pinned to job id, got %s vs %s", resp.TaskID, resp.ID)
	}
	if resp.Filename != "cat.jpg" {
		t.Fatalf("unexpected filename: %s", resp.Filename)
	}
	if resp.StatusURL != "/upload/"+resp.ID+"/status" {
		t.Fatalf("unexpected status url: %s", resp.StatusURL)
	}
	if resp.ResultURL != "/upload/"+resp.ID+"/result" {
		t.Fatalf("unexpected result url: %s", resp.ResultURL)
	}

	originalKey := "original/" + resp.ID + "/cat.jpg"
	if len(env.storage.objects[originalKey]) == 0 {
		t.Fatalf("expected original object at %s", originalKey)
	}
	if env.storage.contentTypes[originalKey] != "image/jpeg" {
		t.Fatalf("expected declared content type to be stored, got %s", env.storage.contentTypes[originalKey])
	}

	if len(env.queue.enqueued) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(env.queue.enqueued))
	}
	if env.queue.enqueued[0].JobID != resp.ID || env.queue.enqueued[0].Filename != "cat.jpg" {
		t.Fatalf("unexpected payload: %+v", env.queue.enqueued[0])
	}

	if _, ok, _ := env.uploads.Get(context.Background(), resp.ID); !ok {
		t.Fatal("expected submission to be recorded in the upload store")
	}
}

func TestUploadSniffsPartWithoutContentType(t *testing.T) {
	env := newTestEnv()

	// No Content-Type on the part; the PNG magic bytes must carry it.
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="cat.png"`)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(buildTestPNG(t)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := env.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for sniffed image, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadEnqueueFailureLeavesOrphanedOriginal(t *testing.T) {
	env := newTestEnv()
	env.queue.err = errors.New("broker unavailable")

	body, contentType := buildMultipart(t, "cat.jpg", "image/jpeg", buildTestPNG(t))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	// Documented failure mode: the original was stored before the enqueue
	// failed and stays behind.
	if env.storage.writes != 1 {
		t.Fatalf("expected the original write to have happened, writes=%d", env.storage.writes)
	}
}

func TestStatusUnknownJobReadsPending(t *testing.T) {
	env := newTestEnv()

	rec := env.do(httptest.NewRequest(http.MethodGet, "/upload/no-such-job/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.StatePending {
		t.Fatalf("expected PENDING for unknown job, got %s", resp.Status)
	}
	if resp.Detail != "Processing is pending." {
		t.Fatalf("unexpected detail: %q", resp.Detail)
	}
}

func TestStatusReportsProgressStep(t *testing.T) {
	env := newTestEnv()
	_ = env.tracker.Progress(context.Background(), "job-1", "Generating Thumbnail")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/upload/job-1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.StateProgress {
		t.Fatalf("expected PROGRESS, got %s", resp.Status)
	}
	if resp.Detail != "Generating Thumbnail" {
		t.Fatalf("unexpected detail: %q", resp.Detail)
	}
	if resp.Result["step"] != "Generating Thumbnail" {
		t.Fatalf("unexpected progress meta: %v", resp.Result)
	}
}

func TestStatusFailureUsesServerErrorCode(t *testing.T) {
	env := newTestEnv()
	_ = env.tracker.Failure(context.Background(), "job-1", "decode source image: bad header")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/upload/job-1/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for failed job, got %d", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.StateFailure {
		t.Fatalf("expected FAILURE, got %s", resp.Status)
	}
}

func TestResultNotReadyReturnsNotFound(t *testing.T) {
	env := newTestEnv()
	_ = env.tracker.Progress(context.Background(), "job-1", "Resizing and Compressing")

	for _, jobID := range []string{"job-1", "never-seen"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/upload/"+jobID+"/result", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", jobID, rec.Code)
		}
	}
}

func TestResultReturnsMappingOnSuccess(t *testing.T) {
	env := newTestEnv()
	want := map[string]string{
		domain.ArtifactResizedCompressed: "/files/processed/job-1/cat_resized_compressed.jpeg",
		domain.ArtifactThumbnail:         "/files/processed/job-1/cat_thumbnail.jpeg",
	}
	_ = env.tracker.Success(context.Background(), "job-1", want)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/upload/job-1/result", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	got := map[string]string{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 || got[domain.ArtifactResizedCompressed] != want[domain.ArtifactResizedCompressed] || got[domain.ArtifactThumbnail] != want[domain.ArtifactThumbnail] {
		t.Fatalf("unexpected result mapping: %v", got)
	}
}

func TestFilesStreamsStoredObject(t *testing.T) {
	env := newTestEnv()
	content := []byte("jpeg-bytes")
	env.storage.objects["processed/job-1/cat_thumbnail.jpeg"] = content
	env.storage.contentTypes["processed/job-1/cat_thumbnail.jpeg"] = "image/jpeg"

	rec := env.do(httptest.NewRequest(http.MethodGet, "/files/processed/job-1/cat_thumbnail.jpeg", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "cat_thumbnail.jpeg") {
		t.Fatalf("unexpected disposition: %s", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatal("streamed body does not match stored object")
	}
}

func TestFilesMissingObjectReturnsNotFound(t *testing.T) {
	env := newTestEnv()

	rec := env.do(httptest.NewRequest(http.MethodGet, "/files/processed/nope/missing.jpeg", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatal("response must not leak internals")
	}
}

func TestListUploadsReturnsRecentSubmissions(t *testing.T) {
	env := newTestEnv()
	_ = env.uploads.Record(context.Background(), domain.Upload{JobID: "job-1", Filename: "cat.jpg"})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/uploads?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Uploads []map[string]any `json:"uploads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(resp.Uploads))
	}
	if resp.Uploads[0]["id"] != "job-1" {
		t.Fatalf("unexpected listing: %v", resp.Uploads[0])
	}
}

func buildMultipart(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	return body, writer.FormDataContentType()
}

func buildTestPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 96, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fakeObjectStorage struct {
	objects      map[string][]byte
	contentTypes map[string]string
	writes       int
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (s *fakeObjectStorage) WriteObject(_ context.Context, objectKey string, data []byte, contentType string) error {
	s.writes++
	s.objects[objectKey] = data
	s.contentTypes[objectKey] = contentType
	return nil
}

func (s *fakeObjectStorage) OpenObject(_ context.Context, objectKey string) (io.ReadCloser, storage.ObjectInfo, error) {
	data, ok := s.objects[objectKey]
	if !ok {
		return nil, storage.ObjectInfo{}, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectKey)
	}
	return io.NopCloser(bytes.NewReader(data)), storage.ObjectInfo{
		ContentType: s.contentTypes[objectKey],
		Size:        int64(len(data)),
	}, nil
}

type fakeQueue struct {
	enqueued []queue.ProcessImagePayload
	err      error
}

func (q *fakeQueue) EnqueueProcessImage(_ context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.enqueued = append(q.enqueued, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default"}, nil
}
