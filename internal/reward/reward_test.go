package reward

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/model"
)

func TestCreditsForDay_Schedule(t *testing.T) {
	tests := []struct {
		day  int
		want int64
	}{
		{1, 1000},
		{2, 1500},
		{3, 2000},
		{10, 5500},
		{17, 9000},
		{18, 10000},
		{19, 10000},
		{100, 10000},
		{0, 1000}, // clamped
	}
	for _, tt := range tests {
		got := CreditsForDay(tt.day)
		if !got.Equal(decimal.NewFromInt(tt.want)) {
			t.Errorf("CreditsForDay(%d) = %s, want %d", tt.day, got, tt.want)
		}
	}
}

func TestMidnightUTC_FloorsAcrossZones(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	// 2026-03-10 22:30 EST is 2026-03-11 03:30 UTC.
	local := time.Date(2026, 3, 10, 22, 30, 0, 0, est)
	got := MidnightUTC(local)
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("MidnightUTC(%v) = %v, want %v", local, got, want)
	}
}

func TestEvaluate_FirstClaim(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	claim, err := Evaluate(now, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.Day != 1 {
		t.Errorf("expected day 1, got %d", claim.Day)
	}
	if !claim.Credits.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1000 credits, got %s", claim.Credits)
	}
}

func TestEvaluate_SameDayAlreadyClaimed(t *testing.T) {
	last := time.Date(2026, 1, 15, 0, 5, 0, 0, time.UTC)
	now := time.Date(2026, 1, 15, 23, 59, 0, 0, time.UTC)

	_, err := Evaluate(now, &last, 4)
	if !errors.Is(err, model.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestEvaluate_ConsecutiveDayContinuesStreak(t *testing.T) {
	last := time.Date(2026, 1, 14, 23, 59, 0, 0, time.UTC)
	now := time.Date(2026, 1, 15, 0, 1, 0, 0, time.UTC) // two minutes later, new UTC day

	claim, err := Evaluate(now, &last, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.Day != 5 {
		t.Errorf("expected streak to continue to day 5, got %d", claim.Day)
	}
	if !claim.Credits.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("expected 3000 credits on day 5, got %s", claim.Credits)
	}
}

func TestEvaluate_GapResetsStreak(t *testing.T) {
	// Last claim 3 days ago with streak 10 resets to day 1 and awards 1000.
	last := time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	claim, err := Evaluate(now, &last, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.Day != 1 {
		t.Errorf("expected streak reset to day 1, got %d", claim.Day)
	}
	if !claim.Credits.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1000 credits on reset, got %s", claim.Credits)
	}
}

func TestEvaluate_StreakCapsAtMax(t *testing.T) {
	last := time.Date(2026, 1, 14, 8, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	claim, err := Evaluate(now, &last, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.Day != 26 {
		t.Errorf("streak day keeps counting, got %d", claim.Day)
	}
	if !claim.Credits.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("award stays capped at 10000, got %s", claim.Credits)
	}
}
