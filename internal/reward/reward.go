// Package reward implements the daily credit allocation: a streak counter
// over UTC day boundaries and the credits-per-day schedule.
//
// Evaluation is a pure function of (now, lastClaimAt, streak); the
// idempotent claim guard is a conditional write owned by the store, keyed on
// the same UTC day floor computed here.
package reward

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/model"
)

const (
	// BaseCredits is the award on the first day of a streak.
	BaseCredits = 1000

	// DailyIncrement is the per-day ramp of the award.
	DailyIncrement = 500

	// MaxCredits caps the award from MaxStreakDay onwards.
	MaxCredits = 10000

	// MaxStreakDay is the streak day at which the award reaches MaxCredits.
	MaxStreakDay = 18
)

// CreditsForDay returns the award for the given consecutive day of a
// streak: day 1 → 1000, ramping +500/day, pinned to 10000 from day 18.
func CreditsForDay(day int) decimal.Decimal {
	if day < 1 {
		day = 1
	}
	if day >= MaxStreakDay {
		return decimal.NewFromInt(MaxCredits)
	}
	return decimal.NewFromInt(int64(BaseCredits + DailyIncrement*(day-1)))
}

// MidnightUTC floors a timestamp to its UTC day boundary.
func MidnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Claim is the outcome of a successful streak evaluation.
type Claim struct {
	// Day is the new consecutive-days-online value to persist.
	Day int

	// Credits is the free-credit award for this claim.
	Credits decimal.Decimal
}

// Evaluate decides the streak transition for a claim at `now` given the
// user's last claim time and current streak:
//
//   - no prior claim            → day 1
//   - last claim earlier today  → AlreadyClaimedError, nothing awarded
//   - last claim yesterday      → streak continues, day = streak+1
//   - last claim older          → streak resets to day 1
func Evaluate(now time.Time, lastClaimAt *time.Time, streak int) (Claim, error) {
	if lastClaimAt == nil {
		return Claim{Day: 1, Credits: CreditsForDay(1)}, nil
	}

	today := MidnightUTC(now)
	last := MidnightUTC(*lastClaimAt)

	switch {
	case last.Equal(today):
		return Claim{}, &model.AlreadyClaimedError{
			LastClaimAt: lastClaimAt.UTC().Format(time.RFC3339),
		}
	case last.Equal(today.AddDate(0, 0, -1)):
		return Claim{Day: streak + 1, Credits: CreditsForDay(streak + 1)}, nil
	default:
		return Claim{Day: 1, Credits: CreditsForDay(1)}, nil
	}
}
