/**
 * @description
 * Race, track and entry database models.
 * Maps to the 'race_tracks', 'races' and 'race_entries' tables in PostgreSQL.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/shopspring/decimal (prize money, odds and weights)
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Race lifecycle values stored in races.race_status
const (
	RaceStatusScheduled = "scheduled"
	RaceStatusFinished  = "finished"
	RaceStatusCancelled = "cancelled"
)

// RaceTrack is one of the racecourses (Seoul, Busan-Gyeongnam, Jeju)
type RaceTrack struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Code     int    `gorm:"column:code;uniqueIndex;not null" json:"code"`
	Name     string `gorm:"column:name;not null" json:"name"`
	Location string `gorm:"column:location" json:"location"`
}

func (RaceTrack) TableName() string {
	return "race_tracks"
}

// Race is a single scheduled race on a given day at a track
type Race struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	RaceDate       time.Time        `gorm:"column:race_date;type:date;not null;uniqueIndex:idx_race_natural,priority:1" json:"race_date"`
	RaceNumber     int              `gorm:"column:race_number;not null;uniqueIndex:idx_race_natural,priority:2" json:"race_number"`
	TrackID        uint             `gorm:"column:track_id;not null;uniqueIndex:idx_race_natural,priority:3" json:"track_id"`
	Track          RaceTrack        `gorm:"foreignKey:TrackID" json:"track"`
	RaceName       string           `gorm:"column:race_name" json:"race_name"`
	Distance       int              `gorm:"column:distance" json:"distance"`
	SurfaceType    string           `gorm:"column:surface_type" json:"surface_type"`
	Weather        *string          `gorm:"column:weather" json:"weather,omitempty"`
	TrackCondition *string          `gorm:"column:track_condition" json:"track_condition,omitempty"`
	RaceClass      *string          `gorm:"column:race_class" json:"race_class,omitempty"`
	PrizeMoney     *decimal.Decimal `gorm:"column:prize_money;type:numeric(14,0)" json:"prize_money,omitempty"`
	StartTime      string           `gorm:"column:start_time" json:"start_time,omitempty"` // HHMM local
	RaceStatus     string           `gorm:"column:race_status;default:scheduled;index" json:"race_status"`
	Entries        []RaceEntry      `gorm:"foreignKey:RaceID" json:"entries,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Race) TableName() string {
	return "races"
}

// RaceEntry is one runner in one race
type RaceEntry struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	RaceID         uint             `gorm:"column:race_id;not null;uniqueIndex:idx_entry_race_horse,priority:1;index:idx_entry_race_gate,priority:1" json:"race_id"`
	Race           *Race            `gorm:"foreignKey:RaceID" json:"race,omitempty"`
	HorseID        uint             `gorm:"column:horse_id;not null;uniqueIndex:idx_entry_race_horse,priority:2;index" json:"horse_id"`
	Horse          Horse            `gorm:"foreignKey:HorseID" json:"horse"`
	JockeyID       uint             `gorm:"column:jockey_id;index" json:"jockey_id"`
	Jockey         Jockey           `gorm:"foreignKey:JockeyID" json:"jockey"`
	TrainerID      uint             `gorm:"column:trainer_id;index" json:"trainer_id"`
	Trainer        Trainer          `gorm:"foreignKey:TrainerID" json:"trainer"`
	GateNumber     int              `gorm:"column:gate_number;index:idx_entry_race_gate,priority:2" json:"gate_number"`
	HorseWeightKg  *decimal.Decimal `gorm:"column:horse_weight_kg;type:numeric(6,1)" json:"horse_weight_kg,omitempty"`
	JockeyWeightKg *decimal.Decimal `gorm:"column:jockey_weight_kg;type:numeric(5,1)" json:"jockey_weight_kg,omitempty"`
	Odds           *decimal.Decimal `gorm:"column:odds;type:numeric(8,2)" json:"odds,omitempty"`
	FinishPosition *int             `gorm:"column:finish_position" json:"finish_position,omitempty"`
	FinishTime     *float64         `gorm:"column:finish_time" json:"finish_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RaceEntry) TableName() string {
	return "race_entries"
}

// OddsFloat returns the win odds as a float, or 0 when unknown.
func (e RaceEntry) OddsFloat() float64 {
	if e.Odds == nil {
		return 0
	}
	return e.Odds.InexactFloat64()
}
