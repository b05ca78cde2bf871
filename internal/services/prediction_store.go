/**
 * @description
 * Append-only prediction storage backed by GORM.
 *
 * @dependencies
 * - gorm.io/gorm
 *
 * @notes
 * - Rows are never updated. The newest row per race/type is the current one.
 */

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/racewise/backend/internal/models"
	"github.com/racewise/backend/internal/prediction"
	"gorm.io/gorm"
)

type PredictionStore struct {
	DB *gorm.DB
}

func NewPredictionStore(db *gorm.DB) *PredictionStore {
	return &PredictionStore{DB: db}
}

func (s *PredictionStore) Create(ctx context.Context, p *models.Prediction) error {
	if err := s.DB.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("insert prediction for race %d: %w", p.RaceID, err)
	}
	return nil
}

// Latest returns the most recent prediction for a race and type, or
// prediction.ErrNotFound.
func (s *PredictionStore) Latest(ctx context.Context, raceID uint, predictionType string) (*models.Prediction, error) {
	var p models.Prediction
	err := s.DB.WithContext(ctx).
		Where("race_id = ? AND prediction_type = ?", raceID, predictionType).
		Order("created_at DESC, id DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, prediction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load latest %s prediction for race %d: %w", predictionType, raceID, err)
	}
	return &p, nil
}

// All returns every stored prediction for a race, newest first.
func (s *PredictionStore) All(ctx context.Context, raceID uint) ([]models.Prediction, error) {
	var out []models.Prediction
	err := s.DB.WithContext(ctx).
		Where("race_id = ?", raceID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load predictions for race %d: %w", raceID, err)
	}
	return out, nil
}

func (s *PredictionStore) ByID(ctx context.Context, id uint) (*models.Prediction, error) {
	var p models.Prediction
	err := s.DB.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, prediction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load prediction %d: %w", id, err)
	}
	return &p, nil
}

// RacesWithPrediction returns which of the given races already have at
// least one stored prediction.
func (s *PredictionStore) RacesWithPrediction(ctx context.Context, raceIDs []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(raceIDs))
	if len(raceIDs) == 0 {
		return out, nil
	}
	var ids []uint
	err := s.DB.WithContext(ctx).Model(&models.Prediction{}).
		Where("race_id IN ?", raceIDs).
		Distinct().
		Pluck("race_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("lookup predicted races: %w", err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
