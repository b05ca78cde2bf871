/**
 * @description
 * Prediction generator. Turns a race into a validated, stored prediction:
 * validate race -> build context -> prompt -> model -> repair/parse ->
 * decode -> confidence/reasoning -> persist -> publish.
 *
 * @dependencies
 * - backend/internal/llmjson: extraction, cleaning and repair of model text
 * - backend/internal/prediction: types, prompts, payload decoding, error kinds
 * - github.com/google/uuid: trace ids on published events
 * - go.uber.org/zap: per-attempt structured logs
 *
 * @notes
 * - Attempts are bounded by MaxRetries+1; retryable failures wait
 *   RetryBaseDelay*attempt before the next call.
 * - Batch generation is sequential with BatchDelay between types to stay
 *   inside provider rate limits.
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/racewise/backend/internal/llmjson"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/models"
	"github.com/racewise/backend/internal/prediction"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = time.Second
	DefaultBatchDelay     = 500 * time.Millisecond
	DefaultAttemptTimeout = 90 * time.Second
	DefaultTemperature    = 0.3
	DefaultMaxTokens      = 8192

	lowConfidenceThreshold = 0.3
	opGenerate             = "generate"
)

// Model is the generative model boundary.
type Model interface {
	GenerateStructured(ctx context.Context, prompt prediction.Prompt, opts prediction.GenerateOptions) (*prediction.ModelResponse, error)
	Name() string
}

// ContextSource supplies validated race context.
type ContextSource interface {
	Validate(ctx context.Context, raceID uint) (*Validation, error)
	Render(ctx context.Context, raceID uint, compact bool) (string, error)
}

// Store is the append-only prediction sink.
type Store interface {
	Create(ctx context.Context, p *models.Prediction) error
	Latest(ctx context.Context, raceID uint, predictionType string) (*models.Prediction, error)
	All(ctx context.Context, raceID uint) ([]models.Prediction, error)
	ByID(ctx context.Context, id uint) (*models.Prediction, error)
}

// Publisher broadcasts prediction events.
type Publisher interface {
	Publish(ctx context.Context, channel string, v interface{}) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type GeneratorConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	BatchDelay     time.Duration
	AttemptTimeout time.Duration
	Temperature    float64
	MaxTokens      int
	CacheTTL       time.Duration
}

// Options are per-call overrides. Zero values fall back to GeneratorConfig.
type Options struct {
	UseCompactContext bool `json:"use_compact_context"`
	SkipSave          bool `json:"skip_save"`
	// Temperature is a pointer so an explicit 0 is honoured.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"`
	// MaxRetries < 0 means no retries; 0 uses the configured default.
	MaxRetries int `json:"max_retries"`
}

func (o Options) withDefaults(cfg GeneratorConfig) Options {
	if o.Temperature == nil {
		t := cfg.Temperature
		o.Temperature = &t
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = cfg.MaxTokens
	}
	switch {
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	case o.MaxRetries == 0:
		o.MaxRetries = cfg.MaxRetries
	}
	return o
}

// Result is one generated (or loaded) prediction.
type Result struct {
	ID         uint               `json:"id,omitempty"`
	RaceID     uint               `json:"race_id"`
	Type       prediction.Type    `json:"prediction_type"`
	Payload    prediction.Payload `json:"prediction"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Model      string             `json:"model"`
	Attempts   int                `json:"attempts,omitempty"`
	Stage      llmjson.Stage      `json:"parse_stage,omitempty"`
	Usage      *prediction.Usage  `json:"usage,omitempty"`
	Saved      bool               `json:"saved"`
	CreatedAt  time.Time          `json:"created_at"`
}

type BatchResult struct {
	Results        []*Result         `json:"results"`
	Failures       map[string]string `json:"failures,omitempty"`
	SucceededCount int               `json:"succeeded_count"`
	FailedCount    int               `json:"failed_count"`
}

// PredictionCreatedEvent is published after a prediction is stored.
type PredictionCreatedEvent struct {
	TraceID        string  `json:"trace_id"`
	RaceID         uint    `json:"race_id"`
	PredictionType string  `json:"prediction_type"`
	PredictionID   uint    `json:"prediction_id"`
	Confidence     float64 `json:"confidence"`
}

// PredictionCheck is the outcome of re-validating a stored prediction.
type PredictionCheck struct {
	ID       uint     `json:"id"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type PredictionService struct {
	Contexts  ContextSource
	Model     Model
	Store     Store
	Cache     *Cache
	Publisher Publisher
	Sleep     Sleeper
	Config    GeneratorConfig
}

func NewPredictionService(contexts ContextSource, model Model, store Store, cache *Cache, cfg GeneratorConfig) *PredictionService {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = PredictionCacheTTL
	}
	svc := &PredictionService{
		Contexts: contexts,
		Model:    model,
		Store:    store,
		Cache:    cache,
		Sleep:    sleepContext,
		Config:   cfg,
	}
	if cache != nil {
		svc.Publisher = cache
	}
	return svc
}

// Generate produces one prediction for a race. Validation failures and
// fatal model errors return immediately; parse, transient and generic
// model failures are retried within the budget. When storing fails the
// returned *prediction.Error still carries the in-memory *Result.
func (s *PredictionService) Generate(ctx context.Context, raceID uint, t prediction.Type, opts Options) (*Result, error) {
	opts = opts.withDefaults(s.Config)
	log := logger.L().With(zap.Uint("race_id", raceID), zap.String("prediction_type", string(t)))

	if !t.Valid() {
		return nil, &prediction.Error{Kind: prediction.KindValidation, Op: opGenerate,
			Err: fmt.Errorf("unknown prediction type %q", t)}
	}

	check, err := s.Contexts.Validate(ctx, raceID)
	if err != nil {
		return nil, &prediction.Error{Kind: prediction.KindTransient, Op: opGenerate, Err: err}
	}
	if !check.Valid {
		return nil, &prediction.Error{Kind: prediction.KindValidation, Op: opGenerate,
			Err: errors.New("race failed validation"), Details: check.Errors}
	}
	if need := t.Info().MinRunners; check.EntryCount < need {
		msg := fmt.Sprintf("%s requires at least %d runners, race has %d", t, need, check.EntryCount)
		return nil, &prediction.Error{Kind: prediction.KindValidation, Op: opGenerate,
			Err: errors.New(msg), Details: []string{msg}}
	}
	for _, w := range check.Warnings {
		log.Warn("race validation warning", zap.String("warning", w))
	}

	raceContext, err := s.Contexts.Render(ctx, raceID, opts.UseCompactContext)
	if err != nil {
		return nil, &prediction.Error{Kind: prediction.KindTransient, Op: opGenerate, Err: err}
	}
	prompt, err := prediction.BuildPrompt(t, raceContext)
	if err != nil {
		return nil, &prediction.Error{Kind: prediction.KindValidation, Op: opGenerate, Err: err}
	}

	maxAttempts := opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := s.attempt(ctx, raceID, t, prompt, opts)
		if err == nil {
			res.Attempts = attempt
			log.Info("prediction generated",
				zap.Int("attempt", attempt),
				zap.String("stage", string(res.Stage)),
				zap.Float64("confidence", res.Confidence),
			)
			if opts.SkipSave {
				return res, nil
			}
			return s.persist(ctx, res)
		}

		lastErr = err
		kind := prediction.KindOf(err)
		log.Warn("prediction attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return nil, &prediction.Error{Kind: prediction.KindTransient, Op: opGenerate, Attempts: attempt,
				Err: fmt.Errorf("%w (last failure: %v)", ctx.Err(), err)}
		}
		if !prediction.Retryable(kind) {
			return nil, &prediction.Error{Kind: kind, Op: opGenerate, Attempts: attempt, Err: err}
		}
		if attempt < maxAttempts {
			if err := s.Sleep(ctx, s.Config.RetryBaseDelay*time.Duration(attempt)); err != nil {
				return nil, &prediction.Error{Kind: prediction.KindTransient, Op: opGenerate, Attempts: attempt,
					Err: fmt.Errorf("%w (last failure: %v)", err, lastErr)}
			}
		}
	}

	logger.L().Error("prediction generation exhausted retries",
		zap.Uint("race_id", raceID),
		zap.String("prediction_type", string(t)),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return nil, &prediction.Error{Kind: prediction.KindOf(lastErr), Op: opGenerate, Attempts: maxAttempts, Err: lastErr}
}

// attempt is a single model call plus the repair pipeline.
func (s *PredictionService) attempt(ctx context.Context, raceID uint, t prediction.Type, prompt prediction.Prompt, opts Options) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.Config.AttemptTimeout)
	defer cancel()

	resp, err := s.Model.GenerateStructured(callCtx, prompt, prediction.GenerateOptions{
		Temperature: *opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && prediction.KindOf(err) == prediction.KindModel {
			return nil, prediction.NewError(prediction.KindTransient, "model", err)
		}
		return nil, err
	}

	parsed, err := llmjson.Parse(resp.Text)
	if err != nil {
		return nil, prediction.NewError(prediction.KindParse, "parse", err)
	}
	payload, err := prediction.Decode(t, parsed.Value)
	if err != nil {
		return nil, prediction.NewError(prediction.KindParse, "decode", err)
	}

	model := resp.Model
	if model == "" {
		model = s.Model.Name()
	}
	usage := resp.Usage
	return &Result{
		RaceID:     raceID,
		Type:       t,
		Payload:    payload,
		Confidence: prediction.ExtractConfidence(payload),
		Reasoning:  prediction.ExtractReasoning(payload),
		Model:      model,
		Stage:      parsed.Stage,
		Usage:      &usage,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (s *PredictionService) persist(ctx context.Context, res *Result) (*Result, error) {
	data, err := json.Marshal(res.Payload)
	if err != nil {
		return nil, &prediction.Error{Kind: prediction.KindPersistence, Op: "persist", Attempts: res.Attempts, Err: err, Result: res}
	}
	row := &models.Prediction{
		RaceID:          res.RaceID,
		PredictionType:  string(res.Type),
		PredictionData:  data,
		ConfidenceScore: res.Confidence,
		LLMModelVersion: res.Model,
		CreatedAt:       res.CreatedAt,
	}
	if res.Reasoning != "" {
		reasoning := res.Reasoning
		row.LLMReasoning = &reasoning
	}
	if err := s.Store.Create(ctx, row); err != nil {
		logger.Error("Failed to store %s prediction for race %d: %v", res.Type, res.RaceID, err)
		return nil, &prediction.Error{Kind: prediction.KindPersistence, Op: "persist", Attempts: res.Attempts, Err: err, Result: res}
	}
	res.ID = row.ID
	res.Saved = true

	s.Cache.SetJSON(ctx, predictionCacheKey(res.RaceID, string(res.Type)), row, s.Config.CacheTTL)
	s.publish(ctx, res)
	return res, nil
}

func (s *PredictionService) publish(ctx context.Context, res *Result) {
	if s.Publisher == nil {
		return
	}
	event := PredictionCreatedEvent{
		TraceID:        uuid.NewString(),
		RaceID:         res.RaceID,
		PredictionType: string(res.Type),
		PredictionID:   res.ID,
		Confidence:     res.Confidence,
	}
	if err := s.Publisher.Publish(ctx, PredictionCreatedChannel, event); err != nil {
		logger.Warn("Failed to publish prediction event for race %d: %v", res.RaceID, err)
	}
}

// GenerateMultiple runs Generate for each type in order. Failures are
// recorded per type and never abort the batch; only a cancelled context
// stops it early, counting the remaining types as failed.
func (s *PredictionService) GenerateMultiple(ctx context.Context, raceID uint, types []prediction.Type, opts Options) (*BatchResult, error) {
	batch := &BatchResult{Results: []*Result{}, Failures: map[string]string{}}

	for i, t := range types {
		if i > 0 {
			if err := s.Sleep(ctx, s.Config.BatchDelay); err != nil {
				for _, rest := range types[i:] {
					batch.Failures[string(rest)] = err.Error()
					batch.FailedCount++
				}
				break
			}
		}

		res, err := s.Generate(ctx, raceID, t, opts)
		if err != nil {
			batch.Failures[string(t)] = err.Error()
			batch.FailedCount++
			continue
		}
		batch.Results = append(batch.Results, res)
		batch.SucceededCount++
	}

	logger.Info("Batch generation for race %d: %d succeeded, %d failed", raceID, batch.SucceededCount, batch.FailedCount)
	return batch, nil
}

// Get returns the most recent stored prediction for a race and type.
func (s *PredictionService) Get(ctx context.Context, raceID uint, t prediction.Type) (*Result, error) {
	key := predictionCacheKey(raceID, string(t))

	var row models.Prediction
	if !s.Cache.GetJSON(ctx, key, &row) {
		latest, err := s.Store.Latest(ctx, raceID, string(t))
		if err != nil {
			return nil, err
		}
		row = *latest
		s.Cache.SetJSON(ctx, key, row, s.Config.CacheTTL)
	}
	return resultFromRow(&row)
}

// GetAll returns every stored prediction for a race, newest first.
func (s *PredictionService) GetAll(ctx context.Context, raceID uint) ([]*Result, error) {
	rows, err := s.Store.All(ctx, raceID)
	if err != nil {
		return nil, err
	}
	out := make([]*Result, 0, len(rows))
	for i := range rows {
		res, err := resultFromRow(&rows[i])
		if err != nil {
			logger.Warn("Skipping unreadable prediction %d: %v", rows[i].ID, err)
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// ValidatePrediction re-checks a stored prediction: it must decode to a
// non-empty payload, and low confidence is flagged.
func (s *PredictionService) ValidatePrediction(ctx context.Context, id uint) (*PredictionCheck, error) {
	row, err := s.Store.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	check := &PredictionCheck{ID: id, Valid: true, Errors: []string{}, Warnings: []string{}}

	t, err := prediction.ParseType(row.PredictionType)
	if err != nil {
		check.Valid = false
		check.Errors = append(check.Errors, err.Error())
		return check, nil
	}
	payload, err := prediction.DecodeJSON(t, row.PredictionData)
	if err != nil {
		check.Valid = false
		check.Errors = append(check.Errors, err.Error())
		return check, nil
	}
	if prediction.ItemCount(payload) == 0 {
		check.Valid = false
		check.Errors = append(check.Errors, "prediction has no items")
	}
	if row.ConfidenceScore < lowConfidenceThreshold {
		check.Warnings = append(check.Warnings, fmt.Sprintf("low confidence score: %.2f", row.ConfidenceScore))
	}
	return check, nil
}

func resultFromRow(row *models.Prediction) (*Result, error) {
	t, err := prediction.ParseType(row.PredictionType)
	if err != nil {
		return nil, err
	}
	payload, err := prediction.DecodeJSON(t, row.PredictionData)
	if err != nil {
		return nil, err
	}
	res := &Result{
		ID:         row.ID,
		RaceID:     row.RaceID,
		Type:       t,
		Payload:    payload,
		Confidence: row.ConfidenceScore,
		Model:      row.LLMModelVersion,
		Saved:      true,
		CreatedAt:  row.CreatedAt,
	}
	if row.LLMReasoning != nil {
		res.Reasoning = *row.LLMReasoning
	}
	return res, nil
}
