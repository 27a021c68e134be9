package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newFakeOllama(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithProbeTimeout(time.Second))
}

func TestGenerateSendsJSONFormatAndReturnsResponse(t *testing.T) {
	var got generateBody
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"{\"isTruePositive\":true}","done":true}`))
	})

	out, err := client.Generate(context.Background(), GenerateRequest{Model: "llama3", Prompt: "hi", Format: "json"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"isTruePositive":true}` {
		t.Fatalf("unexpected response %q", out)
	}
	if got.Model != "llama3" || got.Format != "json" || got.Stream {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestGenerateSurfacesHTTPErrors(t *testing.T) {
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "missing"})
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("expected HTTP 404 error, got %v", err)
	}
}

func TestAvailableAndHealth(t *testing.T) {
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest"},{"name":"codellama:7b-instruct"}]}`))
		case "/api/version":
			_, _ = w.Write([]byte(`{"version":"0.1.32"}`))
		default:
			http.NotFound(w, r)
		}
	})

	if err := client.Available(context.Background()); err != nil {
		t.Fatalf("expected available, got %v", err)
	}
	h := client.Health(context.Background())
	if !h.IsRunning || h.Version != "0.1.32" || len(h.Models) != 2 {
		t.Fatalf("unexpected health %+v", h)
	}
	if h.RecommendedModel != "codellama:7b-instruct" {
		t.Fatalf("expected codellama preference, got %q", h.RecommendedModel)
	}
}

func TestAvailableFailsWhenServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(url, WithProbeTimeout(500*time.Millisecond))
	if err := client.Available(context.Background()); err == nil {
		t.Fatalf("expected error for closed server")
	}
	h := client.Health(context.Background())
	if h.IsRunning || h.Error == "" || h.Models == nil {
		t.Fatalf("unexpected health for closed server %+v", h)
	}
}

func TestRecommendedModel(t *testing.T) {
	if got := RecommendedModel(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := RecommendedModel([]string{"mistral", "phi3"}); got != "mistral" {
		t.Fatalf("expected first model fallback, got %q", got)
	}
	if got := RecommendedModel([]string{"llama3:8b", "deepseek-coder:6.7b-instruct"}); got != "deepseek-coder:6.7b-instruct" {
		t.Fatalf("expected deepseek preference, got %q", got)
	}
}
