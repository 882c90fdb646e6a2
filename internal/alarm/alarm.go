package alarm

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a scheduled alarm
type Status string

const (
	StatusPending Status = "pending" // Waiting for its trigger time
	StatusFired   Status = "fired"   // The vibration was triggered
	StatusFailed  Status = "failed"  // The vibration action returned an error
)

// Alarm is a deferred vibration derived from a time read off an image
type Alarm struct {
	ID             string        `json:"id"`
	ExtractedTime  string        `json:"extracted_time"` // Zero-padded HH:MM of the first time in the text
	RecognizedText string        `json:"recognized_text"`
	FireAt         time.Time     `json:"fire_at"`
	Delay          time.Duration `json:"delay"` // Delay from analysis to FireAt, in nanoseconds
	Status         Status        `json:"status"`
	Filename       string        `json:"filename,omitempty"` // Empty for text-only analysis
	ContentType    string        `json:"content_type,omitempty"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	FiredAt        *time.Time    `json:"fired_at,omitempty"`
}

// Message is the confirmation shown to the user after scheduling
func (a *Alarm) Message() string {
	return fmt.Sprintf("Task scheduled for %s", a.FireAt.Format("15:04"))
}
