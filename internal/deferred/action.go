package deferred

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultPulse matches the one-shot vibration length of the phone alarm
	DefaultPulse = 5 * time.Second
	// MaxPulse bounds how long a single vibration may run
	MaxPulse = 10 * time.Second
)

// Pulse is a single bounded haptic signal
type Pulse struct {
	AlarmID  string
	Duration time.Duration
}

// Bounded clamps the pulse duration to [1ms, MaxPulse]
func (p Pulse) Bounded() Pulse {
	switch {
	case p.Duration <= 0:
		p.Duration = time.Millisecond
	case p.Duration > MaxPulse:
		p.Duration = MaxPulse
	}
	return p
}

// Action is the unit of work run when a deferred task fires
type Action interface {
	Trigger(ctx context.Context, pulse Pulse) error
}

// LogVibrator records the pulse in the log; used when no device is attached
type LogVibrator struct{}

func (LogVibrator) Trigger(ctx context.Context, pulse Pulse) error {
	pulse = pulse.Bounded()
	slog.Info("Vibrating", "alarm_id", pulse.AlarmID, "duration", pulse.Duration)
	return nil
}

// WebhookVibrator asks a device to vibrate by POSTing to an HTTP endpoint
type WebhookVibrator struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookVibrator creates a WebhookVibrator for the given device URL
func NewWebhookVibrator(url string) (*WebhookVibrator, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	return &WebhookVibrator{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}, nil
}

type vibrateRequest struct {
	AlarmID string    `json:"alarm_id"`
	PulseMS int64     `json:"pulse_ms"`
	FiredAt time.Time `json:"fired_at"`
}

// Trigger sends the vibrate request to the device
func (v *WebhookVibrator) Trigger(ctx context.Context, pulse Pulse) error {
	pulse = pulse.Bounded()

	body, err := json.Marshal(vibrateRequest{
		AlarmID: pulse.AlarmID,
		PulseMS: pulse.Duration.Milliseconds(),
		FiredAt: v.now(),
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling vibrate webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("vibrate webhook error (status %d): %s", resp.StatusCode, string(msg))
	}
	return nil
}
