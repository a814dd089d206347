package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsSignedNotification(t *testing.T) {
	var gotEvent, gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get(HeaderEvent)
		gotSignature = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Config{
		Endpoint:      srv.URL,
		SigningSecret: "secret",
	})

	err := client.Send(context.Background(), EventJobCompleted, map[string]string{"job_id": "job-1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotEvent != EventJobCompleted {
		t.Fatalf("expected event header %q, got %q", EventJobCompleted, gotEvent)
	}
	if gotSignature == "" {
		t.Fatal("expected signature header")
	}
}

func TestClientRetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL, MaxAttempts: 3, Backoff: 1})
	if err := client.Send(context.Background(), EventJobFailed, nil); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDisabledClientIsNoOp(t *testing.T) {
	client := NewClient(Config{})
	if client.Enabled() {
		t.Fatal("client without endpoint must be disabled")
	}
	if err := client.Send(context.Background(), EventJobCompleted, nil); err != nil {
		t.Fatalf("disabled client must not error, got %v", err)
	}
}
