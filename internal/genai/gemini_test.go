package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type wireRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{APIKey: "k-123", BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGenerateSendsPromptAndJoinsParts(t *testing.T) {
	var gotPath, gotKey, gotPrompt string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Contents) == 1 && len(req.Contents[0].Parts) == 1 {
			gotPrompt = req.Contents[0].Parts[0].Text
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Roses "},{"text":"are red"}]},"finishReason":"STOP"}]}`))
	})

	got, err := c.Generate(context.Background(), "write a poem")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Roses are red" {
		t.Fatalf("text = %q", got)
	}
	if !strings.HasSuffix(gotPath, "/v1beta/models/"+DefaultModel+":generateContent") {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "k-123" || gotPrompt != "write a poem" {
		t.Fatalf("key = %q, prompt = %q", gotKey, gotPrompt)
	}
}

func TestGenerateSkipsThoughtParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"thinking...","thought":true},{"text":"answer"}]}}]}`))
	})
	got, err := c.Generate(context.Background(), "x")
	if err != nil || got != "answer" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
}

func TestGenerateReturnsProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, err := c.Generate(context.Background(), "x")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %T %v, want *ProviderError", err, err)
	}
	if !perr.IsRateLimited() || perr.Status != "RESOURCE_EXHAUSTED" || perr.Message != "quota exceeded" {
		t.Fatalf("provider error = %+v", perr)
	}
}

func TestGenerateNonJSONErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	_, err := c.Generate(context.Background(), "x")
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusBadGateway || !strings.Contains(perr.Message, "upstream down") {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateBlockedPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	})
	_, err := c.Generate(context.Background(), "x")
	if !errors.Is(err, ErrNoCandidates) || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("err = %v", err)
	}
}

func TestTransportErrorDoesNotLeakKey(t *testing.T) {
	c, err := New(Config{APIKey: "secret-key", BaseURL: "http://127.0.0.1:1"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Generate(context.Background(), "x")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("error leaks api key: %v", err)
	}
}

func TestNewDefaults(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected error for empty api key")
	}
	c, err := New(Config{APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Model() != DefaultModel {
		t.Fatalf("model = %q", c.Model())
	}
}
