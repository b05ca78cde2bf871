package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/racewise/backend/internal/models"
	"github.com/racewise/backend/internal/prediction"
	"github.com/racewise/backend/internal/services"
	"github.com/redis/go-redis/v9"
)

const winReply = `{"predicted_ranking": [
	{"rank": 1, "gate": 1, "horse_name": "번개", "win_prob": 0.42, "win_odds": 3.5, "reasoning": "선행력"},
	{"rank": 2, "gate": 2, "win_prob": 0.3, "win_odds": 4.5}
], "overall_confidence": 0.7, "race_analysis": "선행마 유리"}`

type stubModel struct {
	text string
	err  error
}

func (m stubModel) GenerateStructured(ctx context.Context, prompt prediction.Prompt, opts prediction.GenerateOptions) (*prediction.ModelResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &prediction.ModelResponse{Text: m.text, FinishReason: "stop"}, nil
}

func (m stubModel) Name() string { return "stub" }

type stubContexts struct {
	validation services.Validation
}

func (s stubContexts) Validate(ctx context.Context, raceID uint) (*services.Validation, error) {
	if raceID == 404 {
		return &services.Validation{Errors: []string{"race not found"}}, nil
	}
	v := s.validation
	return &v, nil
}

func (s stubContexts) Render(ctx context.Context, raceID uint, compact bool) (string, error) {
	return `{"race_info": {}}`, nil
}

type memStore struct {
	mu        sync.Mutex
	rows      []models.Prediction
	createErr error
}

func (m *memStore) Create(ctx context.Context, p *models.Prediction) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uint(len(m.rows) + 1)
	p.CreatedAt = time.Now()
	m.rows = append(m.rows, *p)
	return nil
}

func (m *memStore) Latest(ctx context.Context, raceID uint, predictionType string) (*models.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].RaceID == raceID && m.rows[i].PredictionType == predictionType {
			row := m.rows[i]
			return &row, nil
		}
	}
	return nil, prediction.ErrNotFound
}

func (m *memStore) All(ctx context.Context, raceID uint) ([]models.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Prediction
	for _, r := range m.rows {
		if r.RaceID == raceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ByID(ctx context.Context, id uint) (*models.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			row := r
			return &row, nil
		}
	}
	return nil, prediction.ErrNotFound
}

func newPredictionApp(model services.Model, store services.Store, hub *services.PredictionStreamHub) *fiber.App {
	contexts := stubContexts{validation: services.Validation{Valid: true, EntryCount: 8}}
	svc := services.NewPredictionService(contexts, model, store, nil, services.GeneratorConfig{MaxRetries: 1})
	svc.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	h := NewPredictionHandler(svc, hub)
	app := fiber.New()
	app.Get("/api/v1/predictions", h.List)
	app.Get("/api/v1/predictions/stream", h.Stream)
	app.Get("/api/v1/predictions/:id/validate", h.Validate)
	app.Post("/api/v1/predictions/generate", h.Generate)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(t, app, req)
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("bad json %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestGenerateStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		model  stubModel
		store  *memStore
		body   string
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{
			name:   "success",
			model:  stubModel{text: winReply},
			store:  &memStore{},
			body:   `{"race_id": 1, "prediction_type": "win"}`,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				p, ok := body["prediction"].(map[string]interface{})
				if !ok || p["confidence"] != 0.7 || p["saved"] != true {
					t.Fatalf("unexpected prediction: %v", body["prediction"])
				}
			},
		},
		{
			name:   "race not ready",
			model:  stubModel{text: winReply},
			store:  &memStore{},
			body:   `{"race_id": 404}`,
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]interface{}) {
				if errs, _ := body["errors"].([]interface{}); len(errs) != 1 {
					t.Fatalf("expected validation errors, got %v", body)
				}
			},
		},
		{
			name:   "unknown type",
			model:  stubModel{text: winReply},
			store:  &memStore{},
			body:   `{"race_id": 1, "prediction_type": "superfecta"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "missing race id",
			store:  &memStore{},
			body:   `{}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "quota",
			model:  stubModel{err: prediction.NewError(prediction.KindQuotaExceeded, "generate", errors.New("429"))},
			store:  &memStore{},
			body:   `{"race_id": 1}`,
			status: http.StatusTooManyRequests,
		},
		{
			name:   "content filtered",
			model:  stubModel{err: prediction.NewError(prediction.KindContentFiltered, "generate", errors.New("blocked"))},
			store:  &memStore{},
			body:   `{"race_id": 1}`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "unparseable after retries",
			model:  stubModel{text: "형식 없음"},
			store:  &memStore{},
			body:   `{"race_id": 1}`,
			status: http.StatusBadGateway,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["kind"] != string(prediction.KindParse) || body["attempts"] != float64(2) {
					t.Fatalf("unexpected body: %v", body)
				}
			},
		},
		{
			name:   "store failure keeps prediction",
			model:  stubModel{text: winReply},
			store:  &memStore{createErr: errors.New("db down")},
			body:   `{"race_id": 1}`,
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["prediction"] == nil {
					t.Fatalf("expected generated prediction in body, got %v", body)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newPredictionApp(tt.model, tt.store, nil)
			status, body := postJSON(t, app, "/api/v1/predictions/generate", tt.body)
			if status != tt.status {
				t.Fatalf("expected %d, got %d (%v)", tt.status, status, body)
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestGenerateBatchAndRead(t *testing.T) {
	store := &memStore{}
	app := newPredictionApp(stubModel{text: winReply}, store, nil)

	status, body := postJSON(t, app, "/api/v1/predictions/generate", `{"race_id": 1, "prediction_types": ["win", "place"]}`)
	if status != http.StatusOK {
		t.Fatalf("batch: %d %v", status, body)
	}
	if body["generated"] != float64(2) || body["failed"] != float64(0) {
		t.Fatalf("unexpected batch body: %v", body)
	}

	status, body = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/predictions?race_id=1&type=place", nil))
	if status != http.StatusOK || body["prediction_type"] != "place" {
		t.Fatalf("latest: %d %v", status, body)
	}

	status, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/predictions?race_id=2&type=win", nil))
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for race without predictions, got %d", status)
	}

	status, body = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/1/validate", nil))
	if status != http.StatusOK || body["valid"] != true {
		t.Fatalf("validate: %d %v", status, body)
	}
}

func TestStreamPredictions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	defer redisClient.Close()

	hub := services.NewPredictionStreamHub(redisClient, services.PredictionCreatedChannel)
	defer hub.Close()
	select {
	case <-hub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("hub never subscribed")
	}

	app := newPredictionApp(stubModel{text: winReply}, &memStore{}, hub)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	defer func() { _ = app.ShutdownWithTimeout(time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ln.Addr().String()+"/api/v1/predictions/stream", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to call SSE endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	payload := `{"trace_id":"t-1","race_id":7,"prediction_type":"win"}`
	published := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read SSE line: %v", err)
		}
		if strings.HasPrefix(line, ": connected") && !published {
			published = true
			if err := redisClient.Publish(context.Background(), services.PredictionCreatedChannel, payload).Err(); err != nil {
				t.Fatalf("publish: %v", err)
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if !strings.Contains(line, `"t-1"`) {
				t.Fatalf("unexpected SSE payload: %s", line)
			}
			return
		}
	}
}

func TestStreamUnavailableWithoutRedis(t *testing.T) {
	app := newPredictionApp(stubModel{text: winReply}, &memStore{}, nil)
	status, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/stream", nil))
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}
