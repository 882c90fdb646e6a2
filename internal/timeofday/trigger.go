package timeofday

import (
	"fmt"
	"time"
)

// DefaultOffset is added after the extracted time before the trigger fires
const DefaultOffset = 5 * time.Second

// Trigger is the absolute instant a deferred task should run and the delay
// from "now" until then
type Trigger struct {
	At    time.Time     `json:"at"`
	Delay time.Duration `json:"delay"`
}

// Calculator turns an extracted time-of-day into a future trigger.
//
// The candidate instant is today's date in now's location combined with the
// extracted hour and minute, seconds zeroed, plus Offset. When that candidate
// is at or before now the time has already passed today, so the candidate is
// moved to the same wall-clock time on the next calendar day. The resulting
// delay is never negative.
type Calculator struct {
	Offset time.Duration
}

// NewCalculator creates a Calculator with the given offset
func NewCalculator(offset time.Duration) *Calculator {
	return &Calculator{Offset: offset}
}

// ComputeDelay returns the next trigger at or after now for the given time of day
func (c *Calculator) ComputeDelay(tod TimeOfDay, now time.Time) (Trigger, error) {
	if err := tod.Validate(); err != nil {
		return Trigger{}, fmt.Errorf("computing delay: %w", err)
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour, tod.Minute, 0, 0, now.Location())
	at := day.Add(c.Offset)
	if !at.After(now) {
		// AddDate keeps the wall clock time across DST changes
		at = day.AddDate(0, 0, 1).Add(c.Offset)
	}

	delay := at.Sub(now)
	if delay < 0 {
		// Only reachable with a negative offset larger than a day
		at, delay = now, 0
	}

	return Trigger{At: at, Delay: delay}, nil
}
