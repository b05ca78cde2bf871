/**
 * @description
 * Stored prediction model.
 * Rows are append-only: a new generation for the same race/type inserts a
 * new row and readers pick the most recent one.
 *
 * @dependencies
 * - gorm.io/datatypes: JSON column for the validated prediction payload
 */

package models

import (
	"time"

	"gorm.io/datatypes"
)

// Prediction maps to the 'predictions' table
type Prediction struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	RaceID          uint           `gorm:"column:race_id;not null;index:idx_prediction_lookup,priority:1" json:"race_id"`
	PredictionType  string         `gorm:"column:prediction_type;not null;index:idx_prediction_lookup,priority:2" json:"prediction_type"`
	PredictionData  datatypes.JSON `gorm:"column:prediction_data;not null" json:"prediction_data"`
	ConfidenceScore float64        `gorm:"column:confidence_score;not null" json:"confidence_score"`
	LLMModelVersion string         `gorm:"column:llm_model_version" json:"llm_model_version"`
	LLMReasoning    *string        `gorm:"column:llm_reasoning" json:"llm_reasoning,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at;index:idx_prediction_lookup,priority:3" json:"created_at"`
}

func (Prediction) TableName() string {
	return "predictions"
}

// All lists every model for AutoMigrate, parents first.
func All() []interface{} {
	return []interface{}{
		&RaceTrack{},
		&Race{},
		&Horse{},
		&Jockey{},
		&Trainer{},
		&RaceEntry{},
		&Prediction{},
	}
}
