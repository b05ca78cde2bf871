package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/racewise/backend/internal/models"
	"gorm.io/gorm/clause"
)

func TestValidateRace(t *testing.T) {
	db := newTestDB(t)
	svc := NewRaceContextService(db, nil, 0)
	ctx := context.Background()

	ok := seedRace(t, db, 1, []int{1, 2, 3})
	single := seedRace(t, db, 2, []int{1})
	dup := seedRace(t, db, 3, []int{1, 2, 2})

	tests := []struct {
		name     string
		raceID   uint
		valid    bool
		errors   int
		warnings int
	}{
		{"valid race", ok.Race.ID, true, 0, 0},
		{"too few runners", single.Race.ID, false, 1, 0},
		{"duplicate gates", dup.Race.ID, false, 1, 0},
		{"missing race", 9999, false, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := svc.Validate(ctx, tt.raceID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Valid != tt.valid || len(v.Errors) != tt.errors || len(v.Warnings) != tt.warnings {
				t.Fatalf("got %+v", v)
			}
		})
	}

	db.Model(&models.Race{}).Where("id = ?", ok.Race.ID).Update("distance", 400)
	v, _ := svc.Validate(ctx, ok.Race.ID)
	if !v.Valid || len(v.Warnings) != 1 {
		t.Fatalf("short distance should only warn, got %+v", v)
	}
	if v.EntryCount != 3 {
		t.Fatalf("expected entry count 3, got %d", v.EntryCount)
	}
}

func TestBuildRaceContext(t *testing.T) {
	db := newTestDB(t)
	cache, mr := newTestCache(t)
	svc := NewRaceContextService(db, cache, time.Minute)
	ctx := context.Background()

	seeded := seedRace(t, db, 1, []int{3, 1, 2})

	// An earlier race for the first horse, won by its jockey.
	track := seeded.Race.TrackID
	past := models.Race{RaceDate: raceDay.AddDate(0, 0, -14), RaceNumber: 5, TrackID: track, Distance: 1200, SurfaceType: "dirt"}
	if err := db.Omit(clause.Associations).Create(&past).Error; err != nil {
		t.Fatalf("seed past race: %v", err)
	}
	first := seeded.Entries[0]
	pos := 1
	finish := 72.5
	pastEntry := models.RaceEntry{RaceID: past.ID, HorseID: first.HorseID, JockeyID: first.JockeyID, TrainerID: first.TrainerID, GateNumber: 4, FinishPosition: &pos, FinishTime: &finish}
	if err := db.Omit(clause.Associations).Create(&pastEntry).Error; err != nil {
		t.Fatalf("seed past entry: %v", err)
	}

	rc, err := svc.Build(ctx, seeded.Race.ID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rc.RaceInfo.Track != "서울" || rc.RaceInfo.TotalEntries != 3 || rc.RaceInfo.Weather != "맑음" {
		t.Fatalf("unexpected race info: %+v", rc.RaceInfo)
	}
	for i, e := range rc.Entries {
		if e.GateNumber != i+1 {
			t.Fatalf("entries not ordered by gate: %v", rc.Entries)
		}
	}

	var horse EntryContext
	for _, e := range rc.Entries {
		if e.GateNumber == 3 {
			horse = e
		}
	}
	if len(horse.Horse.RecentRaces) != 1 {
		t.Fatalf("expected 1 recent race, got %+v", horse.Horse.RecentRaces)
	}
	recent := horse.Horse.RecentRaces[0]
	if recent.Position == nil || *recent.Position != 1 || recent.TotalHorses != 1 {
		t.Fatalf("unexpected recent race: %+v", recent)
	}
	if horse.Horse.DistanceStats == nil || horse.Horse.DistanceStats.WinsAtDistance != 1 {
		t.Fatalf("expected distance stats, got %+v", horse.Horse.DistanceStats)
	}
	if len(horse.Jockey.RecentForm) != 1 || horse.Jockey.RecentForm[0] != 1 {
		t.Fatalf("unexpected jockey form: %v", horse.Jockey.RecentForm)
	}
	if horse.Horse.Age != 4 || horse.Horse.Gender != "거세마" {
		t.Fatalf("unexpected horse identity: %+v", horse.Horse)
	}

	var decoded RaceContext
	if err := json.Unmarshal([]byte(rc.String()), &decoded); err != nil {
		t.Fatalf("String() is not JSON: %v", err)
	}
	if !mr.Exists(raceContextCacheKey(seeded.Race.ID, false)) {
		t.Fatal("expected context to be cached")
	}

	compact, err := svc.BuildCompact(ctx, seeded.Race.ID)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	text := compact.String()
	for _, key := range []string{`"경주"`, `"출전마"`, `"최근성적"`, `"1200m"`} {
		if !strings.Contains(text, key) {
			t.Fatalf("compact context missing %s:\n%s", key, text)
		}
	}
	if compact.Entries[2].WinRate != "20.0%" {
		t.Fatalf("expected win rate as percentage, got %q", compact.Entries[2].WinRate)
	}

	stats, err := svc.Stats(ctx, seeded.Race.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EntriesCount != 3 || stats.TokenEstimate == 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.DataCompleteness <= 0 || stats.DataCompleteness > 1 {
		t.Fatalf("completeness out of range: %v", stats.DataCompleteness)
	}
}

func TestBuildMissingRace(t *testing.T) {
	svc := NewRaceContextService(newTestDB(t), nil, 0)
	if _, err := svc.Build(context.Background(), 42); !errors.Is(err, ErrRaceNotFound) {
		t.Fatalf("expected ErrRaceNotFound, got %v", err)
	}
}
