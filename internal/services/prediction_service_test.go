package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/racewise/backend/internal/llmjson"
	"github.com/racewise/backend/internal/models"
	"github.com/racewise/backend/internal/prediction"
)

func newTestService(contexts ContextSource, model Model, store Store, cache *Cache) (*PredictionService, *recordingSleeper, *recordingPublisher) {
	svc := NewPredictionService(contexts, model, store, cache, GeneratorConfig{
		MaxRetries:     2,
		RetryBaseDelay: 100 * time.Millisecond,
		BatchDelay:     time.Second,
	})
	sleeper := &recordingSleeper{}
	pub := &recordingPublisher{}
	svc.Sleep = sleeper.Sleep
	svc.Publisher = pub
	return svc, sleeper, pub
}

func validContexts(entries int) *fixedContexts {
	return &fixedContexts{validation: Validation{Valid: true, EntryCount: entries}}
}

func TestGenerateExhaustsRetriesOnParseFailure(t *testing.T) {
	model := &scriptedModel{replies: []modelReply{{text: garbageReply}}}
	db := newTestDB(t)
	svc, sleeper, _ := newTestService(validContexts(8), model, NewPredictionStore(db), nil)

	_, err := svc.Generate(context.Background(), 1, prediction.TypeWin, Options{})

	var perr *prediction.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *prediction.Error, got %v", err)
	}
	if perr.Kind != prediction.KindParse || perr.Attempts != 3 {
		t.Fatalf("expected parse error after 3 attempts, got %s after %d", perr.Kind, perr.Attempts)
	}
	if !errors.Is(err, llmjson.ErrUnparseable) {
		t.Fatalf("expected last cause to be preserved, got %v", err)
	}
	if model.Calls() != 3 {
		t.Fatalf("expected 3 model calls, got %d", model.Calls())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sleeper.waits) != len(want) || sleeper.waits[0] != want[0] || sleeper.waits[1] != want[1] {
		t.Fatalf("expected linear backoff %v, got %v", want, sleeper.waits)
	}

	var count int64
	db.Model(&models.Prediction{}).Count(&count)
	if count != 0 {
		t.Fatalf("failed generation must not store a row, found %d", count)
	}
}

func TestGenerateValidationShortCircuits(t *testing.T) {
	model := &scriptedModel{replies: []modelReply{{text: winReply}}}
	contexts := &fixedContexts{validation: Validation{Valid: false, Errors: []string{"출전마가 2마리 미만입니다"}, EntryCount: 1}}
	svc, _, _ := newTestService(contexts, model, NewPredictionStore(newTestDB(t)), nil)

	_, err := svc.Generate(context.Background(), 1, prediction.TypeWin, Options{})
	if prediction.KindOf(err) != prediction.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	var perr *prediction.Error
	errors.As(err, &perr)
	if len(perr.Details) != 1 {
		t.Fatalf("expected validation details, got %v", perr.Details)
	}
	if model.Calls() != 0 || contexts.renders != 0 {
		t.Fatalf("model and context must not be touched, calls=%d renders=%d", model.Calls(), contexts.renders)
	}
}

func TestGenerateRejectsTooFewRunnersForType(t *testing.T) {
	model := &scriptedModel{replies: []modelReply{{text: trioReply}}}
	svc, _, _ := newTestService(validContexts(2), model, NewPredictionStore(newTestDB(t)), nil)

	_, err := svc.Generate(context.Background(), 1, prediction.TypeTrio, Options{})
	if prediction.KindOf(err) != prediction.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if model.Calls() != 0 {
		t.Fatalf("expected no model calls, got %d", model.Calls())
	}
}

func TestGenerateDoesNotRetryFatalKinds(t *testing.T) {
	for _, kind := range []prediction.Kind{
		prediction.KindInvalidCredential,
		prediction.KindQuotaExceeded,
		prediction.KindContentFiltered,
	} {
		t.Run(string(kind), func(t *testing.T) {
			model := &scriptedModel{replies: []modelReply{{err: prediction.NewError(kind, "model", errors.New("provider said no"))}}}
			svc, sleeper, _ := newTestService(validContexts(8), model, NewPredictionStore(newTestDB(t)), nil)

			_, err := svc.Generate(context.Background(), 1, prediction.TypeWin, Options{})
			if prediction.KindOf(err) != kind {
				t.Fatalf("expected %s, got %v", kind, err)
			}
			if model.Calls() != 1 || len(sleeper.waits) != 0 {
				t.Fatalf("fatal kinds must not retry: calls=%d waits=%v", model.Calls(), sleeper.waits)
			}
		})
	}
}

func TestGenerateRetriesThenStores(t *testing.T) {
	db := newTestDB(t)
	cache, mr := newTestCache(t)
	model := &scriptedModel{replies: []modelReply{
		{err: prediction.NewError(prediction.KindTransient, "model", errors.New("connection reset"))},
		{text: garbageReply},
		{text: winReply},
	}}
	svc, _, pub := newTestService(validContexts(8), model, NewPredictionStore(db), cache)

	res, err := svc.Generate(context.Background(), 7, prediction.TypeWin, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 3 || !res.Saved || res.ID == 0 {
		t.Fatalf("unexpected result: attempts=%d saved=%v id=%d", res.Attempts, res.Saved, res.ID)
	}
	if res.Confidence != 0.72 || res.Reasoning != "선행마 유리" {
		t.Fatalf("unexpected extraction: confidence=%v reasoning=%q", res.Confidence, res.Reasoning)
	}
	if res.Model != "test-model" {
		t.Fatalf("expected model name fallback, got %q", res.Model)
	}

	var row models.Prediction
	if err := db.First(&row, res.ID).Error; err != nil {
		t.Fatalf("stored row missing: %v", err)
	}
	if row.PredictionType != "win" || row.LLMReasoning == nil || *row.LLMReasoning != "선행마 유리" {
		t.Fatalf("unexpected stored row: %+v", row)
	}
	if !mr.Exists(predictionCacheKey(7, "win")) {
		t.Fatal("expected prediction to be cached")
	}
	if len(pub.events) != 1 || pub.events[0].PredictionID != res.ID || pub.events[0].TraceID == "" {
		t.Fatalf("expected one created event, got %+v", pub.events)
	}
}

func TestGenerateSkipSave(t *testing.T) {
	db := newTestDB(t)
	model := &scriptedModel{replies: []modelReply{{text: winReply}}}
	svc, _, pub := newTestService(validContexts(8), model, NewPredictionStore(db), nil)

	res, err := svc.Generate(context.Background(), 1, prediction.TypeWin, Options{SkipSave: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Saved {
		t.Fatal("expected unsaved result")
	}
	var count int64
	db.Model(&models.Prediction{}).Count(&count)
	if count != 0 || len(pub.events) != 0 {
		t.Fatalf("skip save must not store or publish: rows=%d events=%d", count, len(pub.events))
	}
}

func TestGeneratePersistenceFailureKeepsResult(t *testing.T) {
	model := &scriptedModel{replies: []modelReply{{text: winReply}}}
	store := failingStore{err: errors.New("disk full")}
	svc, _, _ := newTestService(validContexts(8), model, store, nil)

	_, err := svc.Generate(context.Background(), 1, prediction.TypeWin, Options{})
	var perr *prediction.Error
	if !errors.As(err, &perr) || perr.Kind != prediction.KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	res, ok := perr.Result.(*Result)
	if !ok || res.Confidence != 0.72 {
		t.Fatalf("expected in-memory result on persistence error, got %#v", perr.Result)
	}
	if model.Calls() != 1 {
		t.Fatalf("persistence failures must not trigger regeneration, got %d calls", model.Calls())
	}
}

func TestGenerateMultiplePartialFailure(t *testing.T) {
	db := newTestDB(t)
	seeded := seedRace(t, db, 1, []int{1, 2, 3, 4})
	model := &scriptedModel{replies: []modelReply{
		{text: winReply},
		{text: garbageReply},
		{text: trioReply},
	}}
	contexts := NewRaceContextService(db, nil, 0)
	svc, sleeper, _ := newTestService(contexts, model, NewPredictionStore(db), nil)

	types := []prediction.Type{prediction.TypeWin, prediction.TypeQuinella, prediction.TypeTrio}
	batch, err := svc.GenerateMultiple(context.Background(), seeded.Race.ID, types, Options{MaxRetries: -1})
	if err != nil {
		t.Fatalf("batch must not fail on partial failure: %v", err)
	}
	if batch.SucceededCount != 2 || batch.FailedCount != 1 {
		t.Fatalf("expected 2 succeeded / 1 failed, got %d / %d", batch.SucceededCount, batch.FailedCount)
	}
	if _, ok := batch.Failures["quinella"]; !ok {
		t.Fatalf("expected quinella failure, got %v", batch.Failures)
	}
	if len(sleeper.waits) != 2 || sleeper.waits[0] != time.Second {
		t.Fatalf("expected batch delay between types, got %v", sleeper.waits)
	}
	if !strings.Contains(model.prompts[0].User, "말1-0") {
		t.Fatal("expected race context in the prompt")
	}

	all, err := svc.GetAll(context.Background(), seeded.Race.ID)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 stored predictions, got %d (%v)", len(all), err)
	}
}

func TestGenerateMultipleStopsWhenCancelled(t *testing.T) {
	model := &scriptedModel{replies: []modelReply{{text: winReply}}}
	svc, _, _ := newTestService(validContexts(8), model, NewPredictionStore(newTestDB(t)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	batch, _ := svc.GenerateMultiple(ctx, 1, []prediction.Type{prediction.TypeWin, prediction.TypePlace, prediction.TypeExacta}, Options{})
	if batch.SucceededCount != 1 || batch.FailedCount != 2 {
		t.Fatalf("expected 1 succeeded / 2 failed, got %d / %d", batch.SucceededCount, batch.FailedCount)
	}
}

func TestGetLatestAndNotFound(t *testing.T) {
	db := newTestDB(t)
	cache, _ := newTestCache(t)
	store := NewPredictionStore(db)
	svc, _, _ := newTestService(validContexts(8), &scriptedModel{replies: []modelReply{{text: winReply}}}, store, cache)

	if _, err := svc.Get(context.Background(), 3, prediction.TypeWin); !errors.Is(err, prediction.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	older := &models.Prediction{RaceID: 3, PredictionType: "win", PredictionData: []byte(`{"predicted_ranking":[{"gate":1}]}`), ConfidenceScore: 0.4, CreatedAt: raceDay}
	newer := &models.Prediction{RaceID: 3, PredictionType: "win", PredictionData: []byte(`{"predicted_ranking":[{"gate":2}]}`), ConfidenceScore: 0.6, CreatedAt: raceDay.Add(time.Hour)}
	for _, p := range []*models.Prediction{older, newer} {
		if err := store.Create(context.Background(), p); err != nil {
			t.Fatalf("seed prediction: %v", err)
		}
	}

	res, err := svc.Get(context.Background(), 3, prediction.TypeWin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != newer.ID || res.Confidence != 0.6 {
		t.Fatalf("expected newest prediction, got id=%d confidence=%v", res.ID, res.Confidence)
	}

	// A second read is served from the cache even after the row is gone.
	db.Delete(&models.Prediction{}, newer.ID)
	res, err = svc.Get(context.Background(), 3, prediction.TypeWin)
	if err != nil || res.ID != newer.ID {
		t.Fatalf("expected cached prediction, got %+v (%v)", res, err)
	}
}

func TestValidatePrediction(t *testing.T) {
	db := newTestDB(t)
	store := NewPredictionStore(db)
	svc, _, _ := newTestService(validContexts(8), &scriptedModel{replies: []modelReply{{text: winReply}}}, store, nil)

	low := &models.Prediction{RaceID: 1, PredictionType: "exacta", ConfidenceScore: 0.1,
		PredictionData: []byte(`{"combinations":[{"horses":[{"gate":1},{"gate":2}],"success_prob":0.1}]}`)}
	empty := &models.Prediction{RaceID: 1, PredictionType: "win", ConfidenceScore: 0.8,
		PredictionData: []byte(`{"predicted_ranking":[]}`)}
	for _, p := range []*models.Prediction{low, empty} {
		if err := store.Create(context.Background(), p); err != nil {
			t.Fatalf("seed prediction: %v", err)
		}
	}

	check, err := svc.ValidatePrediction(context.Background(), low.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !check.Valid || len(check.Warnings) != 1 {
		t.Fatalf("expected valid with a low-confidence warning, got %+v", check)
	}

	check, err = svc.ValidatePrediction(context.Background(), empty.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if check.Valid {
		t.Fatalf("expected empty payload to be invalid, got %+v", check)
	}

	if _, err := svc.ValidatePrediction(context.Background(), 999); !errors.Is(err, prediction.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateHonoursZeroTemperature(t *testing.T) {
	model := &scriptedModel{replies: []modelReply{{text: winReply}}}
	svc, _, _ := newTestService(validContexts(8), model, NewPredictionStore(newTestDB(t)), nil)
	svc.Config.Temperature = 0.3

	zero := 0.0
	if _, err := svc.Generate(context.Background(), 1, prediction.TypeWin, Options{SkipSave: true, Temperature: &zero}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.Generate(context.Background(), 1, prediction.TypeWin, Options{SkipSave: true}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := model.options[0].Temperature; got != 0 {
		t.Fatalf("expected explicit temperature 0, got %v", got)
	}
	if got := model.options[1].Temperature; got != 0.3 {
		t.Fatalf("expected configured temperature, got %v", got)
	}
}

func TestGenerateCancelledDuringBackoffKeepsLastFailure(t *testing.T) {
	model := &scriptedModel{replies: []modelReply{{text: garbageReply}}}
	svc, _, _ := newTestService(validContexts(8), model, NewPredictionStore(newTestDB(t)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := svc.Generate(ctx, 1, prediction.TypeWin, Options{})
	if prediction.KindOf(err) != prediction.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "not parseable") {
		t.Fatalf("expected last failure in message, got %v", err)
	}
	if model.Calls() != 1 {
		t.Fatalf("expected a single attempt, got %d", model.Calls())
	}
}
