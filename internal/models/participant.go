package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Horse genders as stored; the race-data API reports Korean labels.
const (
	GenderStallion = "stallion"
	GenderMare     = "mare"
	GenderGelding  = "gelding"
)

// Horse is keyed by its registration number
type Horse struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	RegistrationNumber string          `gorm:"column:registration_number;uniqueIndex;not null" json:"registration_number"`
	NameKo             string          `gorm:"column:name_ko;not null" json:"name_ko"`
	NameEn             *string         `gorm:"column:name_en" json:"name_en,omitempty"`
	BirthDate          *time.Time      `gorm:"column:birth_date;type:date" json:"birth_date,omitempty"`
	Gender             string          `gorm:"column:gender" json:"gender"`
	Rating             *int            `gorm:"column:rating" json:"rating,omitempty"`
	TotalRaces         int             `gorm:"column:total_races;default:0" json:"total_races"`
	TotalWins          int             `gorm:"column:total_wins;default:0" json:"total_wins"`
	TotalPlaces        int             `gorm:"column:total_places;default:0" json:"total_places"`
	TotalShows         int             `gorm:"column:total_shows;default:0" json:"total_shows"`
	TotalEarnings      decimal.Decimal `gorm:"column:total_earnings;type:numeric(16,0);default:0" json:"total_earnings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Horse) TableName() string {
	return "horses"
}

// Age in whole years at the given instant; 0 when the birth date is unknown.
func (h Horse) Age(at time.Time) int {
	if h.BirthDate == nil {
		return 0
	}
	b := *h.BirthDate
	age := at.Year() - b.Year()
	if at.Month() < b.Month() || (at.Month() == b.Month() && at.Day() < b.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// Jockey is keyed by license number
type Jockey struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	LicenseNumber string     `gorm:"column:license_number;uniqueIndex;not null" json:"license_number"`
	NameKo        string     `gorm:"column:name_ko;not null" json:"name_ko"`
	NameEn        *string    `gorm:"column:name_en" json:"name_en,omitempty"`
	DebutDate     *time.Time `gorm:"column:debut_date;type:date" json:"debut_date,omitempty"`
	TotalRaces    int        `gorm:"column:total_races;default:0" json:"total_races"`
	TotalWins     int        `gorm:"column:total_wins;default:0" json:"total_wins"`
	WinRate       float64    `gorm:"column:win_rate;default:0" json:"win_rate"`
	PlaceRate     float64    `gorm:"column:place_rate;default:0" json:"place_rate"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Jockey) TableName() string {
	return "jockeys"
}

// Trainer is keyed by license number
type Trainer struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	LicenseNumber string     `gorm:"column:license_number;uniqueIndex;not null" json:"license_number"`
	NameKo        string     `gorm:"column:name_ko;not null" json:"name_ko"`
	NameEn        *string    `gorm:"column:name_en" json:"name_en,omitempty"`
	StableName    *string    `gorm:"column:stable_name" json:"stable_name,omitempty"`
	DebutDate     *time.Time `gorm:"column:debut_date;type:date" json:"debut_date,omitempty"`
	TotalRaces    int        `gorm:"column:total_races;default:0" json:"total_races"`
	TotalWins     int        `gorm:"column:total_wins;default:0" json:"total_wins"`
	WinRate       float64    `gorm:"column:win_rate;default:0" json:"win_rate"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Trainer) TableName() string {
	return "trainers"
}
