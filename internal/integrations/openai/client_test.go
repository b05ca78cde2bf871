package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/prediction"
)

func newTestClient(url, key string) *Client {
	return NewClient(&config.Config{LLM: config.LLMConfig{APIKey: key, BaseURL: url, Model: "test-model"}})
}

func TestGenerateStructured(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":"{\"overall_confidence\":0.7}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "secret")
	resp, err := c.GenerateStructured(context.Background(),
		prediction.Prompt{System: "sys", User: "race"},
		prediction.GenerateOptions{Temperature: 0.3, MaxTokens: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != `{"overall_confidence":0.7}` {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 15 || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response metadata: %+v", resp)
	}
	if got.Model != "test-model" || got.MaxTokens != 100 || got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "race" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestGenerateStructuredErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   prediction.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, prediction.KindInvalidCredential},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, prediction.KindQuotaExceeded},
		{"payment required", http.StatusPaymentRequired, `{}`, prediction.KindQuotaExceeded},
		{"server error", http.StatusBadGateway, `oops`, prediction.KindTransient},
		{"bad request", http.StatusBadRequest, `{}`, prediction.KindModel},
		{"filtered", http.StatusOK, `{"choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}`, prediction.KindContentFiltered},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":""},"finish_reason":"length"}]}`, prediction.KindModel},
		{"undecodable body", http.StatusOK, `not json`, prediction.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL, "secret").GenerateStructured(context.Background(),
				prediction.Prompt{User: "race"}, prediction.GenerateOptions{})
			if got := prediction.KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestGenerateStructuredWithoutKey(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:0", "").GenerateStructured(context.Background(),
		prediction.Prompt{User: "race"}, prediction.GenerateOptions{})
	if prediction.KindOf(err) != prediction.KindInvalidCredential {
		t.Fatalf("expected invalid credential, got %v", err)
	}
}
