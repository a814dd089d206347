package domain

import "testing"

func TestObjectKeyLayout(t *testing.T) {
	if got := OriginalKey("abc", "cat.jpg"); got != "original/abc/cat.jpg" {
		t.Fatalf("unexpected original key: %s", got)
	}
	if got := ProcessedKey("abc", "cat", "thumbnail"); got != "processed/abc/cat_thumbnail.jpeg" {
		t.Fatalf("unexpected processed key: %s", got)
	}
	if got := RetrievalPath("processed/abc/cat_thumbnail.jpeg"); got != "/files/processed/abc/cat_thumbnail.jpeg" {
		t.Fatalf("unexpected retrieval path: %s", got)
	}
}

func TestBaseName(t *testing.T) {
	base, err := BaseName("cat.jpg")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if base != "cat" {
		t.Fatalf("expected base cat, got %s", base)
	}

	base, err = BaseName("archive.tar.gz")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if base != "archive.tar" {
		t.Fatalf("expected only final extension stripped, got %s", base)
	}

	if _, err := BaseName("cat"); err == nil {
		t.Fatal("expected error for filename without extension")
	}
	if _, err := BaseName(".bashrc"); err == nil {
		t.Fatal("expected error for filename with leading dot only")
	}
}

func TestParseState(t *testing.T) {
	cases := map[string]State{
		"SUCCESS":  StateSuccess,
		"failure":  StateFailure,
		"PROGRESS": StateProgress,
		"STARTED":  StateStarted,
		"PENDING":  StatePending,
		"":         StatePending,
		"bogus":    StatePending,
	}
	for raw, want := range cases {
		if got := ParseState(raw); got != want {
			t.Fatalf("ParseState(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	if !StateSuccess.IsTerminal() || !StateFailure.IsTerminal() {
		t.Fatal("expected SUCCESS and FAILURE to be terminal")
	}
	if StatePending.IsTerminal() || StateStarted.IsTerminal() || StateProgress.IsTerminal() {
		t.Fatal("expected non-terminal states to report false")
	}
}
