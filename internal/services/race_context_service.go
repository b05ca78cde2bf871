/**
 * @description
 * Builds the race context handed to the model: the race card plus each
 * runner's form, connections and current market info, as indented JSON.
 * Also validates that a race is fit for prediction and reports context stats.
 *
 * @dependencies
 * - gorm.io/gorm
 * - golang.org/x/sync/singleflight: collapses concurrent builds per race
 * - backend/internal/services/cache.go (optional read-through)
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/racewise/backend/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	minRunners         = 2
	maxRunners         = 20
	minPlausibleDist   = 1000
	recentRaceLimit    = 5
	compactRecentLimit = 3
	completenessFields = 7
	unknownPosition    = 99
)

// ErrRaceNotFound is returned when a race id does not exist.
var ErrRaceNotFound = errors.New("race not found")

// Validation is the outcome of checking a race before prediction.
type Validation struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	EntryCount int      `json:"entry_count"`
}

type RaceContext struct {
	RaceInfo RaceInfoContext `json:"race_info"`
	Entries  []EntryContext  `json:"entries"`
}

type RaceInfoContext struct {
	Date           string `json:"date"`
	RaceNumber     int    `json:"race_number"`
	Track          string `json:"track"`
	Distance       int    `json:"distance"`
	Surface        string `json:"surface"`
	Weather        string `json:"weather,omitempty"`
	TrackCondition string `json:"track_condition,omitempty"`
	RaceClass      string `json:"race_class,omitempty"`
	TotalEntries   int    `json:"total_entries"`
}

type EntryContext struct {
	GateNumber  int            `json:"gate_number"`
	Horse       HorseContext   `json:"horse"`
	Jockey      JockeyContext  `json:"jockey"`
	Trainer     TrainerContext `json:"trainer"`
	CurrentInfo CurrentInfo    `json:"current_info"`
}

type HorseContext struct {
	RegistrationNumber string         `json:"registration_number"`
	Name               string         `json:"name"`
	Age                int            `json:"age"`
	Gender             string         `json:"gender"`
	Rating             *int           `json:"rating,omitempty"`
	RecentRaces        []RecentRace   `json:"recent_races"`
	TotalStats         TotalStats     `json:"total_stats"`
	DistanceStats      *DistanceStats `json:"distance_stats,omitempty"`
}

type RecentRace struct {
	Date        string   `json:"date"`
	Position    *int     `json:"position,omitempty"`
	TotalHorses int      `json:"total_horses"`
	Distance    int      `json:"distance"`
	Time        *float64 `json:"time,omitempty"`
}

type TotalStats struct {
	Races    int     `json:"races"`
	Wins     int     `json:"wins"`
	Places   int     `json:"places"`
	Shows    int     `json:"shows"`
	WinRate  float64 `json:"win_rate"`
	Earnings string  `json:"earnings"`
}

type DistanceStats struct {
	RacesAtDistance int     `json:"races_at_distance"`
	WinsAtDistance  int     `json:"wins_at_distance"`
	WinRate         float64 `json:"win_rate"`
}

type JockeyContext struct {
	License    string  `json:"license"`
	Name       string  `json:"name"`
	TotalRaces int     `json:"total_races"`
	TotalWins  int     `json:"total_wins"`
	WinRate    float64 `json:"win_rate"`
	PlaceRate  float64 `json:"place_rate"`
	RecentForm []int   `json:"recent_form"`
}

type TrainerContext struct {
	License    string  `json:"license"`
	Name       string  `json:"name"`
	Stable     string  `json:"stable,omitempty"`
	TotalRaces int     `json:"total_races"`
	TotalWins  int     `json:"total_wins"`
	WinRate    float64 `json:"win_rate"`
}

type CurrentInfo struct {
	HorseWeight  *float64 `json:"horse_weight,omitempty"`
	JockeyWeight *float64 `json:"jockey_weight,omitempty"`
	Odds         *float64 `json:"odds,omitempty"`
}

// String renders the context as indented JSON, the form used in prompts.
func (rc *RaceContext) String() string {
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// CompactRaceContext is the summarised form used when the full context
// would be too long for the model.
type CompactRaceContext struct {
	Race    compactRace    `json:"경주"`
	Entries []compactEntry `json:"출전마"`
}

type compactRace struct {
	Date      string `json:"날짜"`
	Number    int    `json:"번호"`
	Track     string `json:"경주장"`
	Distance  string `json:"거리"`
	Surface   string `json:"주로"`
	Weather   string `json:"날씨,omitempty"`
	Condition string `json:"상태,omitempty"`
}

type compactEntry struct {
	Gate       int           `json:"게이트"`
	Horse      string        `json:"말"`
	RecentForm []interface{} `json:"최근성적"`
	WinRate    string        `json:"승률"`
	Jockey     string        `json:"기수"`
	Trainer    string        `json:"조교사"`
	Odds       interface{}   `json:"배당"`
}

func (cc *CompactRaceContext) String() string {
	data, err := json.MarshalIndent(cc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ContextStats summarises how much the model will read and how complete it is.
type ContextStats struct {
	TokenEstimate    int     `json:"token_estimate"`
	EntriesCount     int     `json:"entries_count"`
	AvgRecentRaces   float64 `json:"avg_recent_races"`
	DataCompleteness float64 `json:"data_completeness"`
}

type RaceContextService struct {
	DB    *gorm.DB
	Cache *Cache
	TTL   time.Duration

	group singleflight.Group
}

func NewRaceContextService(db *gorm.DB, cache *Cache, ttl time.Duration) *RaceContextService {
	if ttl <= 0 {
		ttl = RaceDataCacheTTL
	}
	return &RaceContextService{DB: db, Cache: cache, TTL: ttl}
}

// Validate checks a race is fit for prediction. A missing race is reported
// as an invalid result, not an error; err is only set for store failures.
func (s *RaceContextService) Validate(ctx context.Context, raceID uint) (*Validation, error) {
	res := &Validation{Valid: true, Errors: []string{}, Warnings: []string{}}

	var race models.Race
	err := s.DB.WithContext(ctx).Preload("Entries").First(&race, raceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		res.Valid = false
		res.Errors = append(res.Errors, "경주를 찾을 수 없습니다")
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load race %d: %w", raceID, err)
	}

	res.EntryCount = len(race.Entries)
	if res.EntryCount < minRunners {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("출전마가 %d마리 미만입니다", minRunners))
	}
	if res.EntryCount > maxRunners {
		res.Warnings = append(res.Warnings, fmt.Sprintf("출전마가 %d마리를 초과합니다", maxRunners))
	}
	if race.Distance < minPlausibleDist {
		res.Warnings = append(res.Warnings, "경주 거리 정보가 비정상적입니다")
	}

	seen := make(map[int]bool, len(race.Entries))
	var dups []string
	for _, e := range race.Entries {
		if seen[e.GateNumber] {
			dups = append(dups, fmt.Sprint(e.GateNumber))
		}
		seen[e.GateNumber] = true
	}
	if len(dups) > 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "중복된 게이트 번호: "+strings.Join(dups, ", "))
	}

	return res, nil
}

// Build returns the full context, reading through the cache when one is set.
func (s *RaceContextService) Build(ctx context.Context, raceID uint) (*RaceContext, error) {
	key := raceContextCacheKey(raceID, false)

	var cached RaceContext
	if s.Cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		rc, err := s.build(ctx, raceID)
		if err != nil {
			return nil, err
		}
		s.Cache.SetJSON(ctx, key, rc, s.TTL)
		return rc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RaceContext), nil
}

// BuildCompact summarises the full context: last three finishes, rates as
// percentages and odds or "N/A".
func (s *RaceContextService) BuildCompact(ctx context.Context, raceID uint) (*CompactRaceContext, error) {
	key := raceContextCacheKey(raceID, true)

	var cached CompactRaceContext
	if s.Cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	full, err := s.Build(ctx, raceID)
	if err != nil {
		return nil, err
	}
	cc := compact(full)
	s.Cache.SetJSON(ctx, key, cc, s.TTL)
	return cc, nil
}

// Render returns the prompt text for a race in the requested form.
func (s *RaceContextService) Render(ctx context.Context, raceID uint, compactForm bool) (string, error) {
	if compactForm {
		cc, err := s.BuildCompact(ctx, raceID)
		if err != nil {
			return "", err
		}
		return cc.String(), nil
	}
	rc, err := s.Build(ctx, raceID)
	if err != nil {
		return "", err
	}
	return rc.String(), nil
}

// Stats estimates tokens (about four characters each) and scores data
// completeness over seven per-runner signals.
func (s *RaceContextService) Stats(ctx context.Context, raceID uint) (*ContextStats, error) {
	rc, err := s.Build(ctx, raceID)
	if err != nil {
		return nil, err
	}
	return computeStats(rc), nil
}

func computeStats(rc *RaceContext) *ContextStats {
	text := rc.String()
	stats := &ContextStats{
		TokenEstimate: int(math.Ceil(float64(len([]rune(text))) / 4)),
		EntriesCount:  len(rc.Entries),
	}
	if len(rc.Entries) == 0 {
		return stats
	}

	recent, score := 0, 0
	for _, e := range rc.Entries {
		recent += len(e.Horse.RecentRaces)
		if e.Horse.Rating != nil && *e.Horse.Rating > 0 {
			score++
		}
		if len(e.Horse.RecentRaces) >= 3 {
			score++
		}
		if e.Horse.DistanceStats != nil {
			score++
		}
		if e.CurrentInfo.HorseWeight != nil {
			score++
		}
		if e.CurrentInfo.Odds != nil {
			score++
		}
		if len(e.Jockey.RecentForm) >= 3 {
			score++
		}
		if e.Trainer.Stable != "" {
			score++
		}
	}
	n := float64(len(rc.Entries))
	stats.AvgRecentRaces = float64(recent) / n
	stats.DataCompleteness = float64(score) / (n * completenessFields)
	return stats
}

func (s *RaceContextService) build(ctx context.Context, raceID uint) (*RaceContext, error) {
	db := s.DB.WithContext(ctx)

	var race models.Race
	err := db.Preload("Track").
		Preload("Entries", func(tx *gorm.DB) *gorm.DB { return tx.Order("gate_number ASC") }).
		Preload("Entries.Horse").
		Preload("Entries.Jockey").
		Preload("Entries.Trainer").
		First(&race, raceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRaceNotFound, raceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load race %d: %w", raceID, err)
	}

	rc := &RaceContext{
		RaceInfo: RaceInfoContext{
			Date:           race.RaceDate.Format("2006-01-02"),
			RaceNumber:     race.RaceNumber,
			Track:          race.Track.Name,
			Distance:       race.Distance,
			Surface:        race.SurfaceType,
			Weather:        deref(race.Weather),
			TrackCondition: deref(race.TrackCondition),
			RaceClass:      deref(race.RaceClass),
			TotalEntries:   len(race.Entries),
		},
		Entries: make([]EntryContext, 0, len(race.Entries)),
	}

	for _, entry := range race.Entries {
		ec, err := s.buildEntry(db, &race, entry)
		if err != nil {
			return nil, err
		}
		rc.Entries = append(rc.Entries, ec)
	}
	return rc, nil
}

func (s *RaceContextService) buildEntry(db *gorm.DB, race *models.Race, entry models.RaceEntry) (EntryContext, error) {
	horse, jockey, trainer := entry.Horse, entry.Jockey, entry.Trainer

	var recent []models.RaceEntry
	err := db.Joins("Race").
		Where("race_entries.horse_id = ? AND \"Race\".race_date < ?", horse.ID, race.RaceDate).
		Order("\"Race\".race_date DESC").
		Limit(recentRaceLimit).
		Find(&recent).Error
	if err != nil {
		return EntryContext{}, fmt.Errorf("load recent races for horse %d: %w", horse.ID, err)
	}

	recentRaces := make([]RecentRace, 0, len(recent))
	for _, r := range recent {
		rr := RecentRace{Position: r.FinishPosition, Time: r.FinishTime}
		if r.Race != nil {
			rr.Date = r.Race.RaceDate.Format("2006-01-02")
			rr.Distance = r.Race.Distance
		}
		var field int64
		if err := db.Model(&models.RaceEntry{}).Where("race_id = ?", r.RaceID).Count(&field).Error; err == nil {
			rr.TotalHorses = int(field)
		}
		recentRaces = append(recentRaces, rr)
	}

	var distRaces, distWins int64
	distQuery := db.Model(&models.RaceEntry{}).
		Joins("JOIN races ON races.id = race_entries.race_id").
		Where("race_entries.horse_id = ? AND races.distance = ? AND races.id <> ?", horse.ID, race.Distance, race.ID)
	if err := distQuery.Session(&gorm.Session{}).Count(&distRaces).Error; err != nil {
		return EntryContext{}, fmt.Errorf("count distance races for horse %d: %w", horse.ID, err)
	}
	if distRaces > 0 {
		if err := distQuery.Session(&gorm.Session{}).Where("race_entries.finish_position = 1").Count(&distWins).Error; err != nil {
			return EntryContext{}, fmt.Errorf("count distance wins for horse %d: %w", horse.ID, err)
		}
	}

	var form []models.RaceEntry
	err = db.Joins("Race").
		Where("race_entries.jockey_id = ? AND race_entries.finish_position IS NOT NULL", jockey.ID).
		Order("\"Race\".race_date DESC").
		Limit(recentRaceLimit).
		Find(&form).Error
	if err != nil {
		return EntryContext{}, fmt.Errorf("load jockey form %d: %w", jockey.ID, err)
	}
	recentForm := make([]int, 0, len(form))
	for _, f := range form {
		pos := unknownPosition
		if f.FinishPosition != nil && *f.FinishPosition > 0 {
			pos = *f.FinishPosition
		}
		recentForm = append(recentForm, pos)
	}

	ec := EntryContext{
		GateNumber: entry.GateNumber,
		Horse: HorseContext{
			RegistrationNumber: horse.RegistrationNumber,
			Name:               horse.NameKo,
			Age:                horse.Age(race.RaceDate),
			Gender:             genderLabel(horse.Gender),
			Rating:             horse.Rating,
			RecentRaces:        recentRaces,
			TotalStats: TotalStats{
				Races:    horse.TotalRaces,
				Wins:     horse.TotalWins,
				Places:   horse.TotalPlaces,
				Shows:    horse.TotalShows,
				WinRate:  ratio(horse.TotalWins, horse.TotalRaces),
				Earnings: horse.TotalEarnings.String(),
			},
		},
		Jockey: JockeyContext{
			License:    jockey.LicenseNumber,
			Name:       jockey.NameKo,
			TotalRaces: jockey.TotalRaces,
			TotalWins:  jockey.TotalWins,
			WinRate:    jockey.WinRate,
			PlaceRate:  jockey.PlaceRate,
			RecentForm: recentForm,
		},
		Trainer: TrainerContext{
			License:    trainer.LicenseNumber,
			Name:       trainer.NameKo,
			Stable:     deref(trainer.StableName),
			TotalRaces: trainer.TotalRaces,
			TotalWins:  trainer.TotalWins,
			WinRate:    trainer.WinRate,
		},
		CurrentInfo: CurrentInfo{
			HorseWeight:  decimalPtr(entry.HorseWeightKg),
			JockeyWeight: decimalPtr(entry.JockeyWeightKg),
			Odds:         decimalPtr(entry.Odds),
		},
	}
	if distRaces > 0 {
		ec.Horse.DistanceStats = &DistanceStats{
			RacesAtDistance: int(distRaces),
			WinsAtDistance:  int(distWins),
			WinRate:         ratio(int(distWins), int(distRaces)),
		}
	}
	return ec, nil
}

func compact(rc *RaceContext) *CompactRaceContext {
	cc := &CompactRaceContext{
		Race: compactRace{
			Date:      rc.RaceInfo.Date,
			Number:    rc.RaceInfo.RaceNumber,
			Track:     rc.RaceInfo.Track,
			Distance:  fmt.Sprintf("%dm", rc.RaceInfo.Distance),
			Surface:   rc.RaceInfo.Surface,
			Weather:   rc.RaceInfo.Weather,
			Condition: rc.RaceInfo.TrackCondition,
		},
		Entries: make([]compactEntry, 0, len(rc.Entries)),
	}
	for _, e := range rc.Entries {
		form := make([]interface{}, 0, compactRecentLimit)
		for i, r := range e.Horse.RecentRaces {
			if i == compactRecentLimit {
				break
			}
			if r.Position != nil && *r.Position > 0 {
				form = append(form, *r.Position)
			} else {
				form = append(form, "?")
			}
		}
		var odds interface{} = "N/A"
		if e.CurrentInfo.Odds != nil && *e.CurrentInfo.Odds > 0 {
			odds = *e.CurrentInfo.Odds
		}
		cc.Entries = append(cc.Entries, compactEntry{
			Gate:       e.GateNumber,
			Horse:      fmt.Sprintf("%s (%d세)", e.Horse.Name, e.Horse.Age),
			RecentForm: form,
			WinRate:    percent(e.Horse.TotalStats.WinRate),
			Jockey:     fmt.Sprintf("%s (%s)", e.Jockey.Name, percent(e.Jockey.WinRate)),
			Trainer:    fmt.Sprintf("%s (%s)", e.Trainer.Name, percent(e.Trainer.WinRate)),
			Odds:       odds,
		})
	}
	sort.SliceStable(cc.Entries, func(i, j int) bool { return cc.Entries[i].Gate < cc.Entries[j].Gate })
	return cc
}

func genderLabel(g string) string {
	switch g {
	case models.GenderStallion:
		return "수말"
	case models.GenderMare:
		return "암말"
	case models.GenderGelding:
		return "거세마"
	}
	return g
}

func ratio(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func percent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

func decimalPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
