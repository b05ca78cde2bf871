package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/racewise/backend/internal/models"
	"github.com/racewise/backend/internal/prediction"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewCache(client), mr
}

type seededRace struct {
	Race    models.Race
	Entries []models.RaceEntry
}

var raceDay = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

// seedRace inserts a race at raceDay with one runner per gate.
func seedRace(t *testing.T, db *gorm.DB, number int, gates []int) seededRace {
	t.Helper()

	track := models.RaceTrack{Code: 1, Name: "서울", Location: "과천"}
	if err := db.Where(models.RaceTrack{Code: 1}).FirstOrCreate(&track).Error; err != nil {
		t.Fatalf("seed track: %v", err)
	}
	weather := "맑음"
	race := models.Race{
		RaceDate:    raceDay,
		RaceNumber:  number,
		TrackID:     track.ID,
		RaceName:    fmt.Sprintf("제%d경주", number),
		Distance:    1200,
		SurfaceType: "dirt",
		Weather:     &weather,
		RaceStatus:  models.RaceStatusScheduled,
	}
	if err := db.Omit(clause.Associations).Create(&race).Error; err != nil {
		t.Fatalf("seed race: %v", err)
	}

	out := seededRace{Race: race}
	for i, gate := range gates {
		tag := fmt.Sprintf("%d-%d", number, i)
		birth := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
		rating := 60 + i
		horse := models.Horse{
			RegistrationNumber: "H" + tag,
			NameKo:             "말" + tag,
			BirthDate:          &birth,
			Gender:             models.GenderGelding,
			Rating:             &rating,
			TotalRaces:         10,
			TotalWins:          2,
			TotalEarnings:      decimal.NewFromInt(1000000),
		}
		jockey := models.Jockey{LicenseNumber: "J" + tag, NameKo: "기수" + tag, WinRate: 0.12}
		stable := "1조"
		trainer := models.Trainer{LicenseNumber: "T" + tag, NameKo: "조교사" + tag, StableName: &stable, WinRate: 0.1}
		for _, v := range []interface{}{&horse, &jockey, &trainer} {
			if err := db.Create(v).Error; err != nil {
				t.Fatalf("seed participant: %v", err)
			}
		}
		odds := decimal.NewFromFloat(3.5 + float64(i))
		entry := models.RaceEntry{
			RaceID:     race.ID,
			HorseID:    horse.ID,
			JockeyID:   jockey.ID,
			TrainerID:  trainer.ID,
			GateNumber: gate,
			Odds:       &odds,
		}
		if err := db.Omit(clause.Associations).Create(&entry).Error; err != nil {
			t.Fatalf("seed entry: %v", err)
		}
		out.Entries = append(out.Entries, entry)
	}
	return out
}

// scriptedModel replies from a fixed list, repeating the last reply.
type scriptedModel struct {
	mu      sync.Mutex
	replies []modelReply
	calls   int
	prompts []prediction.Prompt
	options []prediction.GenerateOptions
}

type modelReply struct {
	text string
	err  error
}

func (m *scriptedModel) GenerateStructured(ctx context.Context, prompt prediction.Prompt, opts prediction.GenerateOptions) (*prediction.ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.options = append(m.options, opts)
	r := m.replies[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &prediction.ModelResponse{Text: r.text, FinishReason: "stop", Usage: prediction.Usage{TotalTokens: 10}}, nil
}

func (m *scriptedModel) Name() string { return "test-model" }

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fixedContexts is a ContextSource with a canned validation.
type fixedContexts struct {
	validation Validation
	renders    int
}

func (f *fixedContexts) Validate(ctx context.Context, raceID uint) (*Validation, error) {
	v := f.validation
	return &v, nil
}

func (f *fixedContexts) Render(ctx context.Context, raceID uint, compact bool) (string, error) {
	f.renders++
	return `{"race_info": {"race_number": 1}}`, nil
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) Create(ctx context.Context, p *models.Prediction) error { return f.err }

type recordingPublisher struct {
	events []PredictionCreatedEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, channel string, v interface{}) error {
	if e, ok := v.(PredictionCreatedEvent); ok && channel == PredictionCreatedChannel {
		r.events = append(r.events, e)
	}
	return nil
}

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

const (
	winReply = "```json\n" + `{"predicted_ranking": [
		{"rank": 1, "gate": 1, "horse_name": "말1-0", "win_prob": 0.42, "win_odds": 3.5, "reasoning": "선행력"},
		{"rank": 2, "gate": 2, "win_prob": 0.3, "win_odds": 4.5}
	], "overall_confidence": 0.72, "race_analysis": "선행마 유리"}` + "\n```"
	trioReply    = `{"combinations": [{"horses": [{"gate": 1}, {"gate": 2}, {"gate": 3}], "success_prob": 0.2, "trio_odds": 8}], "confidence": 0.25}`
	garbageReply = "죄송합니다. 형식을 지킬 수 없습니다."
)
