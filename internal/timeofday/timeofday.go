package timeofday

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	// ErrNoTimeFound is returned when the text has no H:MM or HH:MM substring
	ErrNoTimeFound = errors.New("no valid time found")
	// ErrInvalidTime is returned when the matched substring is not a legal hour:minute
	ErrInvalidTime = errors.New("invalid time of day")
)

// timePattern is a syntactic match only; bounds are checked after matching
var timePattern = regexp.MustCompile(`\d{1,2}:\d{2}`)

var exactPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// TimeOfDay is an hour and minute without a date or time zone
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Validate reports whether the hour is in [0,23] and the minute in [0,59]
func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, t.Hour, t.Minute)
	}
	return nil
}

// String formats the time as HH:MM
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Extract finds the first time-of-day in recognized text.
// Only the first match is considered: if it is out of range the result is
// ErrInvalidTime even when a later match would have been valid.
func Extract(text string) (TimeOfDay, error) {
	loc := timePattern.FindStringIndex(text)
	if loc == nil {
		return TimeOfDay{}, ErrNoTimeFound
	}
	return Parse(text[loc[0]:loc[1]])
}

// Parse converts an "H:MM" or "HH:MM" string into a TimeOfDay
func Parse(s string) (TimeOfDay, error) {
	m := exactPattern.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}

	// Both groups are all digits, so Atoi cannot fail
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])

	t := TimeOfDay{Hour: hour, Minute: minute}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
