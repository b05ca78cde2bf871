package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/prediction"
)

func newTestClient(url string) *Client {
	cfg := &config.Config{LLM: config.LLMConfig{AnthropicAPIKey: "test-key", AnthropicModel: "claude-test"}}
	return NewClient(cfg, option.WithBaseURL(url))
}

func writeMessage(w http.ResponseWriter, text, stop string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-test",
		"stop_reason": stop,
		"usage":       map[string]any{"input_tokens": 12, "output_tokens": 8},
	})
}

func TestGenerateStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "claude-test" {
			t.Errorf("unexpected model %v", body["model"])
		}
		writeMessage(w, `{"overall_confidence": 0.6}`, "end_turn")
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).GenerateStructured(context.Background(),
		prediction.Prompt{System: "sys", User: "race"}, prediction.GenerateOptions{Temperature: 0.2, MaxTokens: 256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != `{"overall_confidence": 0.6}` || resp.Usage.TotalTokens != 20 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateStructuredErrorKinds(t *testing.T) {
	t.Run("refusal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeMessage(w, "", "refusal")
		}))
		defer srv.Close()
		_, err := newTestClient(srv.URL).GenerateStructured(context.Background(), prediction.Prompt{User: "race"}, prediction.GenerateOptions{})
		if prediction.KindOf(err) != prediction.KindContentFiltered {
			t.Fatalf("expected content filtered, got %v", err)
		}
	})

	statuses := map[int]prediction.Kind{
		http.StatusUnauthorized:        prediction.KindInvalidCredential,
		http.StatusTooManyRequests:     prediction.KindQuotaExceeded,
		http.StatusInternalServerError: prediction.KindTransient,
	}
	for status, want := range statuses {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"nope"}}`))
		}))
		_, err := newTestClient(srv.URL).GenerateStructured(context.Background(), prediction.Prompt{User: "race"}, prediction.GenerateOptions{})
		srv.Close()
		if got := prediction.KindOf(err); got != want {
			t.Fatalf("status %d: kind = %s, want %s (err: %v)", status, got, want, err)
		}
	}
}
