/**
 * @description
 * Race data ingestion and reads.
 * Pulls race cards, entries and results from the race-data API and upserts
 * tracks, races, horses, jockeys, trainers and entries. Serves race lists
 * (cached) and per-participant analytics.
 *
 * @dependencies
 * - backend/internal/integrations/kra
 * - gorm.io/gorm (clause.OnConflict upserts)
 * - github.com/jackc/pgconn: deadlock / serialization retry
 * - github.com/shopspring/decimal
 *
 * @notes
 * - A failing entry is counted and skipped; it never aborts the day.
 * - Only one sync runs at a time when Redis is available (SETNX lock).
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/racewise/backend/internal/integrations/kra"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	syncLockKey      = "lock:race-sync"
	syncLockTTL      = 10 * time.Minute
	maxUpsertRetries = 5
	defaultListLimit = 50
	maxListLimit     = 200
	maxSyncRangeDays = 31
)

// ErrSyncInProgress is returned when another sync holds the lock.
var ErrSyncInProgress = errors.New("race sync already in progress")

// RaceDataSource is the subset of the race-data API the sync needs.
type RaceDataSource interface {
	RacesByDate(ctx context.Context, date time.Time, meet string) ([]kra.RaceInfo, error)
	Entries(ctx context.Context, date time.Time, raceNo int, meet string) ([]kra.HorseEntry, error)
	Results(ctx context.Context, date time.Time, raceNo int, meet string) ([]kra.RaceResult, error)
	Horse(ctx context.Context, hrNo string) (*kra.HorseDetail, error)
	Jockey(ctx context.Context, jkNo string) (*kra.JockeyInfo, error)
	Trainer(ctx context.Context, trNo string) (*kra.TrainerInfo, error)
}

type RaceService struct {
	DB     *gorm.DB
	Cache  *Cache
	Source RaceDataSource
	// FetchDetails also pulls horse, jockey and trainer records. Each is
	// fetched at most once per sync.
	FetchDetails bool
}

func NewRaceService(db *gorm.DB, cache *Cache, source RaceDataSource) *RaceService {
	return &RaceService{DB: db, Cache: cache, Source: source, FetchDetails: true}
}

type SyncResult struct {
	Date     string   `json:"date"`
	Races    int      `json:"races"`
	Entries  int      `json:"entries"`
	Results  int      `json:"results"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	Duration string   `json:"duration"`
}

func (r *SyncResult) fail(format string, args ...interface{}) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// syncState dedupes participant lookups within one sync.
type syncState struct {
	horses   map[string]uint
	jockeys  map[string]uint
	trainers map[string]uint
}

func newSyncState() *syncState {
	return &syncState{horses: map[string]uint{}, jockeys: map[string]uint{}, trainers: map[string]uint{}}
}

// SyncDate imports every race run on the given calendar day.
func (s *RaceService) SyncDate(ctx context.Context, date time.Time) (*SyncResult, error) {
	unlock, err := s.acquireSyncLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.syncDate(ctx, date, newSyncState())
}

// SyncRange imports each day from..to inclusive. A failing day is recorded
// in its result and the range continues.
func (s *RaceService) SyncRange(ctx context.Context, from, to time.Time) ([]*SyncResult, error) {
	from, to = CalendarDate(from), CalendarDate(to)
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s is before %s", kra.FormatDate(to), kra.FormatDate(from))
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > maxSyncRangeDays {
		return nil, fmt.Errorf("range of %d days exceeds the %d day limit", days, maxSyncRangeDays)
	}

	unlock, err := s.acquireSyncLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state := newSyncState()
	var out []*SyncResult
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.syncDate(ctx, day, state)
		if err != nil {
			res = &SyncResult{Date: day.Format("20060102")}
			res.fail("%v", err)
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *RaceService) syncDate(ctx context.Context, date time.Time, state *syncState) (*SyncResult, error) {
	start := time.Now()
	day := CalendarDate(date)
	res := &SyncResult{Date: day.Format("20060102")}

	cards, err := s.Source.RacesByDate(ctx, day, "")
	if err != nil {
		return nil, fmt.Errorf("fetch race cards for %s: %w", res.Date, err)
	}

	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		meet := string(card.Meet)
		raceNo := int(card.RcNo)

		race, err := s.upsertRace(ctx, day, card)
		if err != nil {
			res.fail("race %s-%d: %v", meet, raceNo, err)
			continue
		}
		res.Races++

		entries, err := s.Source.Entries(ctx, day, raceNo, meet)
		if err != nil {
			res.fail("entries %s-%d: %v", meet, raceNo, err)
			continue
		}
		for _, e := range entries {
			if err := s.upsertEntry(ctx, race, e, state); err != nil {
				res.fail("entry %s-%d gate %d: %v", meet, raceNo, e.Gate(), err)
				continue
			}
			res.Entries++
		}

		results, err := s.Source.Results(ctx, day, raceNo, meet)
		if err != nil {
			logger.Warn("No results for %s race %s-%d: %v", res.Date, meet, raceNo, err)
			continue
		}
		if n := s.applyResults(ctx, race, results); n > 0 {
			res.Results += n
		}
	}

	s.invalidate(ctx, day)
	res.Duration = time.Since(start).Round(time.Millisecond).String()
	logger.Info("Synced %s: %d races, %d entries, %d results, %d failed", res.Date, res.Races, res.Entries, res.Results, res.Failed)
	return res, nil
}

func (s *RaceService) upsertRace(ctx context.Context, day time.Time, card kra.RaceInfo) (*models.Race, error) {
	code, err := strconv.Atoi(string(card.Meet))
	if err != nil {
		return nil, fmt.Errorf("invalid meet code %q", card.Meet)
	}
	track := models.RaceTrack{Code: code, Name: kra.TrackName(string(card.Meet))}
	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&track).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert track: %w", err)
	}
	var stored models.RaceTrack
	if err := s.DB.WithContext(ctx).Where("code = ?", code).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load track: %w", err)
	}

	race := models.Race{
		RaceDate:       day,
		RaceNumber:     int(card.RcNo),
		TrackID:        stored.ID,
		RaceName:       string(card.RcName),
		Distance:       int(card.RcDist),
		SurfaceType:    "dirt",
		Weather:        optional(string(card.Weather)),
		TrackCondition: optional(string(card.TrackStat)),
		RaceClass:      optional(string(card.DivSn)),
		StartTime:      string(card.RcTime),
		RaceStatus:     models.RaceStatusScheduled,
	}
	if card.Prize1 > 0 {
		prize := decimal.NewFromFloat(float64(card.Prize1))
		race.PrizeMoney = &prize
	}
	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "race_date"}, {Name: "race_number"}, {Name: "track_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"race_name", "distance", "weather", "track_condition", "race_class", "prize_money", "start_time", "updated_at",
			}),
		}).Create(&race).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert race: %w", err)
	}
	var saved models.Race
	err = s.DB.WithContext(ctx).
		Where("race_date = ? AND race_number = ? AND track_id = ?", day, race.RaceNumber, stored.ID).
		First(&saved).Error
	if err != nil {
		return nil, fmt.Errorf("load race: %w", err)
	}
	return &saved, nil
}

func (s *RaceService) upsertEntry(ctx context.Context, race *models.Race, e kra.HorseEntry, state *syncState) error {
	horseID, err := s.upsertHorse(ctx, race.RaceDate, e, state)
	if err != nil {
		return err
	}
	jockeyID, err := s.upsertJockey(ctx, string(e.JkNo), string(e.JkName), state)
	if err != nil {
		return err
	}
	trainerID, err := s.upsertTrainer(ctx, string(e.TrNo), string(e.TrName), state)
	if err != nil {
		return err
	}

	entry := models.RaceEntry{
		RaceID:         race.ID,
		HorseID:        horseID,
		JockeyID:       jockeyID,
		TrainerID:      trainerID,
		GateNumber:     e.Gate(),
		HorseWeightKg:  positiveDecimal(float64(e.WgHr)),
		JockeyWeightKg: positiveDecimal(float64(e.WgBudam)),
		Odds:           positiveDecimal(float64(e.Odds)),
	}
	return s.withRetry(ctx, func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "race_id"}, {Name: "horse_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"jockey_id", "trainer_id", "gate_number", "horse_weight_kg", "jockey_weight_kg", "odds", "updated_at",
			}),
		}).Create(&entry).Error
	})
}

func (s *RaceService) upsertHorse(ctx context.Context, raceDate time.Time, e kra.HorseEntry, state *syncState) (uint, error) {
	reg := e.RegistrationNumber()
	if reg == "" {
		return 0, errors.New("entry has no horse number")
	}
	if id, ok := state.horses[reg]; ok {
		return id, nil
	}

	horse := models.Horse{
		RegistrationNumber: reg,
		NameKo:             string(e.HrName),
		Gender:             genderCode(string(e.Sex)),
	}
	if e.Rating > 0 {
		rating := int(e.Rating)
		horse.Rating = &rating
	}
	// Racing age turns over on 1 January.
	if e.Age > 0 {
		birth := time.Date(raceDate.Year()-int(e.Age), time.January, 1, 0, 0, 0, 0, time.UTC)
		horse.BirthDate = &birth
	}
	updates := []string{"name_ko", "gender", "rating", "updated_at"}

	if s.FetchDetails {
		detail, err := s.Source.Horse(ctx, reg)
		if err != nil {
			logger.Warn("Horse detail %s unavailable: %v", reg, err)
		} else if detail != nil {
			if d, err := kra.ParseDate(string(detail.BirthDate)); err == nil {
				birth := CalendarDate(d)
				horse.BirthDate = &birth
			}
			if detail.HrNameEn != "" {
				name := string(detail.HrNameEn)
				horse.NameEn = &name
			}
			horse.TotalRaces = int(detail.TotRcCnt)
			horse.TotalWins = int(detail.TotWinCnt)
			horse.TotalPlaces = int(detail.TotPlcCnt)
			horse.TotalShows = int(detail.TotShowCnt)
			horse.TotalEarnings = decimal.NewFromFloat(float64(detail.TotPrize))
			updates = append(updates, "name_en", "total_races", "total_wins", "total_places", "total_shows", "total_earnings")
		}
	}
	if horse.BirthDate != nil {
		updates = append(updates, "birth_date")
	}

	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "registration_number"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&horse).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert horse %s: %w", reg, err)
	}
	var id uint
	if err := s.DB.WithContext(ctx).Model(&models.Horse{}).Where("registration_number = ?", reg).Pluck("id", &id).Error; err != nil {
		return 0, fmt.Errorf("load horse %s: %w", reg, err)
	}
	state.horses[reg] = id
	return id, nil
}

func (s *RaceService) upsertJockey(ctx context.Context, license, name string, state *syncState) (uint, error) {
	if license == "" {
		return 0, nil
	}
	if id, ok := state.jockeys[license]; ok {
		return id, nil
	}

	jockey := models.Jockey{LicenseNumber: license, NameKo: name}
	updates := []string{"name_ko", "updated_at"}
	if s.FetchDetails {
		if info, err := s.Source.Jockey(ctx, license); err != nil {
			logger.Warn("Jockey detail %s unavailable: %v", license, err)
		} else if info != nil {
			jockey.TotalRaces = int(info.TotRcCnt)
			jockey.TotalWins = int(info.TotWinCnt)
			jockey.WinRate = rate(float64(info.Win1Rate))
			jockey.PlaceRate = rate(float64(info.Plc2Rate))
			if d, err := kra.ParseDate(string(info.DebDate)); err == nil {
				debut := CalendarDate(d)
				jockey.DebutDate = &debut
				updates = append(updates, "debut_date")
			}
			updates = append(updates, "total_races", "total_wins", "win_rate", "place_rate")
		}
	}

	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "license_number"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&jockey).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert jockey %s: %w", license, err)
	}
	var id uint
	if err := s.DB.WithContext(ctx).Model(&models.Jockey{}).Where("license_number = ?", license).Pluck("id", &id).Error; err != nil {
		return 0, fmt.Errorf("load jockey %s: %w", license, err)
	}
	state.jockeys[license] = id
	return id, nil
}

func (s *RaceService) upsertTrainer(ctx context.Context, license, name string, state *syncState) (uint, error) {
	if license == "" {
		return 0, nil
	}
	if id, ok := state.trainers[license]; ok {
		return id, nil
	}

	trainer := models.Trainer{LicenseNumber: license, NameKo: name}
	updates := []string{"name_ko", "updated_at"}
	if s.FetchDetails {
		if info, err := s.Source.Trainer(ctx, license); err != nil {
			logger.Warn("Trainer detail %s unavailable: %v", license, err)
		} else if info != nil {
			trainer.StableName = optional(string(info.Stable))
			trainer.TotalRaces = int(info.TotRcCnt)
			trainer.TotalWins = int(info.TotWinCnt)
			trainer.WinRate = rate(float64(info.WinRate))
			updates = append(updates, "stable_name", "total_races", "total_wins", "win_rate")
		}
	}

	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "license_number"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&trainer).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert trainer %s: %w", license, err)
	}
	var id uint
	if err := s.DB.WithContext(ctx).Model(&models.Trainer{}).Where("license_number = ?", license).Pluck("id", &id).Error; err != nil {
		return 0, fmt.Errorf("load trainer %s: %w", license, err)
	}
	state.trainers[license] = id
	return id, nil
}

// applyResults writes finishing positions and marks the race finished.
func (s *RaceService) applyResults(ctx context.Context, race *models.Race, results []kra.RaceResult) int {
	applied := 0
	for _, r := range results {
		if r.Ord <= 0 || r.HrNo == "" {
			continue
		}
		updates := map[string]interface{}{"finish_position": int(r.Ord)}
		if secs, ok := kra.ParseFinishTime(string(r.RcTime)); ok {
			updates["finish_time"] = secs
		}
		tx := s.DB.WithContext(ctx).Model(&models.RaceEntry{}).
			Where("race_id = ? AND horse_id IN (?)", race.ID,
				s.DB.Model(&models.Horse{}).Select("id").Where("registration_number = ?", string(r.HrNo))).
			Updates(updates)
		if tx.Error != nil {
			logger.Warn("Failed to apply result for race %d horse %s: %v", race.ID, r.HrNo, tx.Error)
			continue
		}
		applied += int(tx.RowsAffected)
	}
	if applied > 0 {
		if err := s.DB.WithContext(ctx).Model(race).Update("race_status", models.RaceStatusFinished).Error; err != nil {
			logger.Warn("Failed to mark race %d finished: %v", race.ID, err)
		}
	}
	return applied
}

// withRetry retries Postgres deadlocks and serialization failures.
func (s *RaceService) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxUpsertRetries; attempt++ {
		err = fn(s.DB.WithContext(ctx))
		if err == nil || !isRetryableDBError(err) {
			return err
		}
		wait := time.Duration(attempt*100+rand.Intn(100)) * time.Millisecond
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
	return err
}

func isRetryableDBError(err error) bool {
	var code string
	var pgErr *pgconn.PgError
	var coded interface{ SQLState() string }
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &coded):
		code = coded.SQLState()
	}
	return code == "40P01" || code == "40001"
}

func (s *RaceService) acquireSyncLock(ctx context.Context) (func(), error) {
	if !s.Cache.enabled() {
		return func() {}, nil
	}
	ok, err := s.Cache.Redis.SetNX(ctx, syncLockKey, time.Now().Unix(), syncLockTTL).Result()
	if err != nil {
		logger.Warn("Sync lock unavailable, continuing without it: %v", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	return func() {
		if err := s.Cache.Redis.Del(context.Background(), syncLockKey).Err(); err != nil {
			logger.Warn("Failed to release sync lock: %v", err)
		}
	}, nil
}

func (s *RaceService) invalidate(ctx context.Context, day time.Time) {
	s.Cache.Delete(ctx, CacheKeyTodayRaces, racesByDateCacheKey(day.Format("20060102")))
	s.Cache.DeletePattern(ctx, "race:context:*")
}

type RaceQuery struct {
	Date      *time.Time
	TrackCode int
	Status    string
	Limit     int
	Offset    int
}

// ListRaces filters races by day, track and status, newest first.
func (s *RaceService) ListRaces(ctx context.Context, q RaceQuery) ([]models.Race, error) {
	query := s.DB.WithContext(ctx).Model(&models.Race{}).Preload("Track")

	if q.Date != nil {
		query = query.Where("races.race_date = ?", CalendarDate(*q.Date))
	}
	if q.TrackCode > 0 {
		query = query.Joins("JOIN race_tracks ON race_tracks.id = races.track_id").
			Where("race_tracks.code = ?", q.TrackCode)
	}
	if q.Status != "" {
		query = query.Where("races.race_status = ?", q.Status)
	}

	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var races []models.Race
	err := query.Order("races.race_date DESC, races.track_id ASC, races.race_number ASC").
		Limit(q.Limit).Offset(q.Offset).
		Find(&races).Error
	if err != nil {
		return nil, err
	}
	return races, nil
}

// TodayRaces returns today's card (KST), preferring Cache -> DB.
func (s *RaceService) TodayRaces(ctx context.Context) ([]models.Race, error) {
	var races []models.Race
	if s.Cache.GetJSON(ctx, CacheKeyTodayRaces, &races) {
		return races, nil
	}

	today := time.Now()
	err := s.DB.WithContext(ctx).Preload("Track").
		Where("race_date = ?", CalendarDate(today)).
		Order("track_id ASC, race_number ASC").
		Find(&races).Error
	if err != nil {
		return nil, err
	}
	s.Cache.SetJSON(ctx, CacheKeyTodayRaces, races, RaceDataCacheTTL)
	return races, nil
}

// GetRace loads a race with its runners and their connections.
func (s *RaceService) GetRace(ctx context.Context, id uint) (*models.Race, error) {
	var race models.Race
	err := s.DB.WithContext(ctx).
		Preload("Track").
		Preload("Entries", func(tx *gorm.DB) *gorm.DB { return tx.Order("gate_number ASC") }).
		Preload("Entries.Horse").
		Preload("Entries.Jockey").
		Preload("Entries.Trainer").
		First(&race, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRaceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &race, nil
}

func (s *RaceService) Entries(ctx context.Context, raceID uint) ([]models.RaceEntry, error) {
	race, err := s.GetRace(ctx, raceID)
	if err != nil {
		return nil, err
	}
	return race.Entries, nil
}

// FinishRecord summarises a set of finishes.
type FinishRecord struct {
	Starts     int     `json:"starts"`
	Wins       int     `json:"wins"`
	Top2       int     `json:"top2"`
	Top3       int     `json:"top3"`
	WinRate    float64 `json:"win_rate"`
	Top3Rate   float64 `json:"top3_rate"`
	AvgFinish  float64 `json:"avg_finish"`
	RecentForm []int   `json:"recent_form"`
}

type HorseStats struct {
	Horse      models.Horse         `json:"horse"`
	Record     FinishRecord         `json:"record"`
	ByDistance map[int]FinishRecord `json:"by_distance"`
}

type JockeyStats struct {
	Jockey models.Jockey `json:"jockey"`
	Record FinishRecord  `json:"record"`
}

type TrainerStats struct {
	Trainer models.Trainer `json:"trainer"`
	Record  FinishRecord   `json:"record"`
}

type finishRow struct {
	FinishPosition int
	Distance       int
}

func (s *RaceService) HorseStats(ctx context.Context, horseID uint) (*HorseStats, error) {
	var horse models.Horse
	if err := s.DB.WithContext(ctx).First(&horse, horseID).Error; err != nil {
		return nil, notFound(err, "horse", horseID)
	}
	rows, err := s.finishes(ctx, "horse_id", horseID)
	if err != nil {
		return nil, err
	}
	stats := &HorseStats{Horse: horse, Record: summarise(rows), ByDistance: map[int]FinishRecord{}}
	grouped := map[int][]finishRow{}
	for _, r := range rows {
		grouped[r.Distance] = append(grouped[r.Distance], r)
	}
	for dist, rs := range grouped {
		stats.ByDistance[dist] = summarise(rs)
	}
	return stats, nil
}

func (s *RaceService) JockeyStats(ctx context.Context, jockeyID uint) (*JockeyStats, error) {
	var jockey models.Jockey
	if err := s.DB.WithContext(ctx).First(&jockey, jockeyID).Error; err != nil {
		return nil, notFound(err, "jockey", jockeyID)
	}
	rows, err := s.finishes(ctx, "jockey_id", jockeyID)
	if err != nil {
		return nil, err
	}
	return &JockeyStats{Jockey: jockey, Record: summarise(rows)}, nil
}

func (s *RaceService) TrainerStats(ctx context.Context, trainerID uint) (*TrainerStats, error) {
	var trainer models.Trainer
	if err := s.DB.WithContext(ctx).First(&trainer, trainerID).Error; err != nil {
		return nil, notFound(err, "trainer", trainerID)
	}
	rows, err := s.finishes(ctx, "trainer_id", trainerID)
	if err != nil {
		return nil, err
	}
	return &TrainerStats{Trainer: trainer, Record: summarise(rows)}, nil
}

// finishes lists completed runs for a participant, newest first.
func (s *RaceService) finishes(ctx context.Context, column string, id uint) ([]finishRow, error) {
	var rows []finishRow
	err := s.DB.WithContext(ctx).Model(&models.RaceEntry{}).
		Select("race_entries.finish_position, races.distance").
		Joins("JOIN races ON races.id = race_entries.race_id").
		Where("race_entries."+column+" = ? AND race_entries.finish_position IS NOT NULL AND race_entries.finish_position > 0", id).
		Order("races.race_date DESC, races.race_number DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load finishes for %s %d: %w", column, id, err)
	}
	return rows, nil
}

func summarise(rows []finishRow) FinishRecord {
	rec := FinishRecord{Starts: len(rows), RecentForm: []int{}}
	if len(rows) == 0 {
		return rec
	}
	total := 0
	for i, r := range rows {
		total += r.FinishPosition
		switch {
		case r.FinishPosition == 1:
			rec.Wins++
			rec.Top2++
			rec.Top3++
		case r.FinishPosition == 2:
			rec.Top2++
			rec.Top3++
		case r.FinishPosition == 3:
			rec.Top3++
		}
		if i < recentRaceLimit {
			rec.RecentForm = append(rec.RecentForm, r.FinishPosition)
		}
	}
	n := float64(len(rows))
	rec.WinRate = float64(rec.Wins) / n
	rec.Top3Rate = float64(rec.Top3) / n
	rec.AvgFinish = float64(total) / n
	return rec
}

func notFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ErrParticipantNotFound, what, id)
	}
	return err
}

// ErrParticipantNotFound is returned by the analytics lookups.
var ErrParticipantNotFound = errors.New("participant not found")

// CalendarDate reduces t to its KST calendar day, stored as UTC midnight.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.In(kra.KST).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func genderCode(label string) string {
	switch strings.TrimSpace(label) {
	case "수", "수말":
		return models.GenderStallion
	case "암", "암말":
		return models.GenderMare
	case "거", "거세", "거세마":
		return models.GenderGelding
	}
	return strings.TrimSpace(label)
}

// rate accepts either a fraction or a percentage.
func rate(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	return v
}

func positiveDecimal(v float64) *decimal.Decimal {
	if v <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(v)
	return &d
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
