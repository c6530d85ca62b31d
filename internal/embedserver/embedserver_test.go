package embedserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsRunningTrueWhenHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New("some-model", 7997, 32, srv.URL, t.TempDir())
	if !m.IsRunning(context.Background()) {
		t.Error("expected IsRunning to report true against a 200 /health response")
	}
}

func TestIsRunningFalseOnNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := New("some-model", 7997, 32, srv.URL, t.TempDir())
	if m.IsRunning(context.Background()) {
		t.Error("expected IsRunning to report false against a non-200 /health response")
	}
}

func TestIsRunningFalseWhenUnreachable(t *testing.T) {
	m := New("some-model", 1, 32, "http://127.0.0.1:1", t.TempDir())
	if m.IsRunning(context.Background()) {
		t.Error("expected IsRunning to report false when nothing is listening")
	}
}

func TestStartNoOpWhenAlreadyRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New("some-model", 7997, 32, srv.URL, t.TempDir())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil (already healthy)", err)
	}
	if m.startedByUs {
		t.Error("expected startedByUs to remain false when the server was already up")
	}
}

func TestStartSkipsRemoteAddress(t *testing.T) {
	m := New("some-model", 7997, 32, "http://embedding-server.example.com:7997", t.TempDir())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil (remote address is left alone)", err)
	}
	if m.startedByUs {
		t.Error("expected startedByUs to remain false for a remote address")
	}
}

func TestStopNoOpWhenNotStartedByUs(t *testing.T) {
	m := New("some-model", 7997, 32, "http://localhost:7997", t.TempDir())
	m.Stop(context.Background()) // must not panic with a nil process
}

func TestResolveURLLocalModeClearsURL(t *testing.T) {
	url, needsStart := ResolveURL("local", "http://should-be-ignored:7997", false)
	if url != "" || needsStart {
		t.Errorf("ResolveURL(local, ...) = (%q, %v), want (\"\", false)", url, needsStart)
	}
}

func TestResolveURLUsesConfiguredURL(t *testing.T) {
	url, needsStart := ResolveURL("remote", "http://configured:7997", false)
	if url != "http://configured:7997" || needsStart {
		t.Errorf("ResolveURL = (%q, %v), want the configured URL with no start needed", url, needsStart)
	}
}

func TestResolveURLSkipIndexPreventsStart(t *testing.T) {
	url, needsStart := ResolveURL("remote", "", true)
	want := ""
	if IsDocker() {
		want = inClusterURL
	}
	if url != want || needsStart {
		t.Errorf("ResolveURL with skipIndex = (%q, %v), want (%q, false)", url, needsStart, want)
	}
}

func TestResolveURLNeedsStartWhenNothingConfigured(t *testing.T) {
	if IsDocker() {
		t.Skip("running inside a container: the in-cluster URL branch applies instead")
	}
	url, needsStart := ResolveURL("remote", "", false)
	if url != "" || !needsStart {
		t.Errorf("ResolveURL = (%q, %v), want needsStart = true", url, needsStart)
	}
}

func TestResolveURLUsesInClusterURLInDocker(t *testing.T) {
	if !IsDocker() {
		t.Skip("not running inside a container")
	}
	url, needsStart := ResolveURL("remote", "", false)
	if url != inClusterURL || needsStart {
		t.Errorf("ResolveURL in docker = (%q, %v), want (%q, false)", url, needsStart, inClusterURL)
	}
}

func TestHTTPEmbedderEmbedTextsParsesResponse(t *testing.T) {
	var gotReq embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{
			{Embedding: []float32{0.1, 0.2}},
			{Embedding: []float32{0.3, 0.4}},
		}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "bge-small")
	vectors, err := e.EmbedTexts(context.Background(), []string{"a", "b"})

	if err != nil {
		t.Fatalf("EmbedTexts() error = %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 2 {
		t.Fatalf("vectors = %+v, want 2 vectors of length 2", vectors)
	}
	if gotReq.Model != "bge-small" || len(gotReq.Input) != 2 {
		t.Errorf("request sent = %+v, want model bge-small with 2 inputs", gotReq)
	}
}

func TestHTTPEmbedderNonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "bge-small")
	_, err := e.EmbedTexts(context.Background(), []string{"a"})

	if err == nil {
		t.Fatal("expected an error on a non-200 response")
	}
}
