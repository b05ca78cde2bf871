/**
 * @description
 * Scheduled jobs: sync today's race data and pre-generate predictions for
 * races that have none yet.
 *
 * @dependencies
 * - github.com/robfig/cron/v3
 * - backend/internal/services
 */

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/racewise/backend/internal/integrations/kra"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/models"
	"github.com/racewise/backend/internal/prediction"
	"github.com/racewise/backend/internal/services"
	"github.com/robfig/cron/v3"
)

// RaceSyncer is the part of RaceService the sync job uses.
type RaceSyncer interface {
	SyncDate(ctx context.Context, date time.Time) (*services.SyncResult, error)
	TodayRaces(ctx context.Context) ([]models.Race, error)
}

// Generator is the part of PredictionService the predict job uses.
type Generator interface {
	GenerateMultiple(ctx context.Context, raceID uint, types []prediction.Type, opts services.Options) (*services.BatchResult, error)
}

// PredictionIndex reports which races already have predictions.
type PredictionIndex interface {
	RacesWithPrediction(ctx context.Context, raceIDs []uint) (map[uint]bool, error)
}

type Worker struct {
	Races       RaceSyncer
	Predictions Generator
	Index       PredictionIndex
	Types       []prediction.Type
	Now         func() time.Time

	// held for the duration of a run
	mu sync.Mutex
}

func New(races RaceSyncer, predictions Generator, index PredictionIndex, types []prediction.Type) *Worker {
	return &Worker{Races: races, Predictions: predictions, Index: index, Types: types, Now: time.Now}
}

// Schedule registers the job on c. expr is a standard five-field cron
// expression evaluated in KST.
func (w *Worker) Schedule(ctx context.Context, c *cron.Cron, expr string) (cron.EntryID, error) {
	id, err := c.AddFunc(expr, func() { w.RunOnce(ctx) })
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return id, nil
}

// NewCron builds a scheduler in race-day time.
func NewCron() *cron.Cron {
	return cron.New(cron.WithLocation(kra.KST))
}

// RunOnce syncs today and, if types are configured, fills in predictions.
func (w *Worker) RunOnce(ctx context.Context) {
	if !w.mu.TryLock() {
		logger.Warn("Previous worker run still in progress, skipping")
		return
	}
	defer w.mu.Unlock()

	if err := w.SyncToday(ctx); err != nil {
		logger.Error("Race sync failed: %v", err)
		return
	}
	if len(w.Types) == 0 {
		return
	}
	if _, err := w.PredictMissing(ctx); err != nil {
		logger.Error("Auto prediction failed: %v", err)
	}
}

func (w *Worker) SyncToday(ctx context.Context) error {
	res, err := w.Races.SyncDate(ctx, w.Now())
	if errors.Is(err, services.ErrSyncInProgress) {
		logger.Info("Sync already running elsewhere, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("🔄 Synced %s: %d races, %d entries", res.Date, res.Races, res.Entries)
	return nil
}

// PredictMissing generates the configured types for scheduled races with
// no stored prediction. It returns how many races were processed.
func (w *Worker) PredictMissing(ctx context.Context) (int, error) {
	races, err := w.Races.TodayRaces(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]uint, 0, len(races))
	for _, r := range races {
		if r.RaceStatus == models.RaceStatusScheduled {
			ids = append(ids, r.ID)
		}
	}
	done, err := w.Index.RacesWithPrediction(ctx, ids)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range ids {
		if done[id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		batch, err := w.Predictions.GenerateMultiple(ctx, id, w.Types, services.Options{})
		if err != nil {
			logger.Error("Auto prediction for race %d failed: %v", id, err)
			continue
		}
		processed++
		logger.Info("Auto predicted race %d: %d ok, %d failed", id, batch.SucceededCount, batch.FailedCount)
	}
	return processed, nil
}
