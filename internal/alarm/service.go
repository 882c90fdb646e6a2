package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/ocr-alarm/internal/deferred"
	"github.com/zombor/ocr-alarm/internal/scanning"
	"github.com/zombor/ocr-alarm/internal/timeofday"
)

// IDGenerator generates unique IDs for alarms
type IDGenerator interface {
	Generate() string
}

// TaskScheduler runs one-shot jobs after a delay
type TaskScheduler interface {
	Schedule(job deferred.Job) (deferred.Handle, error)
	Cancel(id string) bool
	Stop()
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// Config holds the tunables of the analyze pipeline
type Config struct {
	// Offset is added after the extracted time before firing
	Offset time.Duration
	// Pulse is how long the device vibrates
	Pulse time.Duration
	// RecognizeTimeout bounds a single OCR call
	RecognizeTimeout time.Duration
}

// DefaultConfig mirrors the behavior of the phone app
func DefaultConfig() Config {
	return Config{
		Offset:           timeofday.DefaultOffset,
		Pulse:            deferred.DefaultPulse,
		RecognizeTimeout: 60 * time.Second,
	}
}

// Service runs the pick image → OCR → extract time → schedule pipeline.
//
// Every successful analysis enqueues exactly one job. Repeating the analysis
// schedules another independent alarm; pending alarms are allowed to overlap.
type Service struct {
	db          DB
	recognizer  scanning.Recognizer
	storage     Storage
	scheduler   TaskScheduler
	action      deferred.Action
	calculator  *timeofday.Calculator
	config      Config
	idGenerator IDGenerator
	clock       timeofday.Clock

	// mu serializes status changes of stored alarms between Fire and DeleteAlarm
	mu sync.Mutex
}

// NewService creates a Service backed by an in-process timer scheduler
func NewService(db DB, recognizer scanning.Recognizer, storage Storage, action deferred.Action, config Config) *Service {
	return NewServiceWithDeps(db, recognizer, storage, action, config, uuidGenerator{}, timeofday.SystemClock{}, nil)
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
// A nil scheduler gets a deferred.Scheduler that calls Fire.
func NewServiceWithDeps(db DB, recognizer scanning.Recognizer, storage Storage, action deferred.Action, config Config, idGen IDGenerator, clock timeofday.Clock, scheduler TaskScheduler) *Service {
	if config.RecognizeTimeout <= 0 {
		config.RecognizeTimeout = DefaultConfig().RecognizeTimeout
	}
	if config.Pulse <= 0 {
		config.Pulse = deferred.DefaultPulse
	}

	s := &Service{
		db:          db,
		recognizer:  recognizer,
		storage:     storage,
		action:      action,
		calculator:  timeofday.NewCalculator(config.Offset),
		config:      config,
		idGenerator: idGen,
		clock:       clock,
	}
	if scheduler == nil {
		scheduler = deferred.NewSchedulerWithClock(s.Fire, clock.Now)
	}
	s.scheduler = scheduler
	return s
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated filenames for storage
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "upload"
	}

	return base + ext
}

// Analyze stores the image, reads its text and schedules an alarm for the
// first time found. Failures are returned as *AnalysisError and leave nothing
// stored or scheduled.
func (s *Service) Analyze(ctx context.Context, filename string, data []byte, contentType string) (*Alarm, error) {
	id := s.idGenerator.Generate()
	createdAt := s.clock.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, &AnalysisError{Kind: KindImageLoad, Err: fmt.Errorf("saving file: %w", err)}
	}

	text, err := s.recognize(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to recognize text",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.discardFile(savedPath)
		return nil, &AnalysisError{Kind: recognitionKind(err), Err: fmt.Errorf("recognizing text: %w", err)}
	}
	slog.Debug("Recognized text", "id", id, "text", text)

	alarm, err := s.scheduleFromText(id, text, savedPath, contentType, createdAt)
	if err != nil {
		s.discardFile(savedPath)
		return nil, err
	}
	return alarm, nil
}

// AnalyzeText schedules an alarm from text recognized by the client
func (s *Service) AnalyzeText(ctx context.Context, text string) (*Alarm, error) {
	return s.scheduleFromText(s.idGenerator.Generate(), text, "", "", s.clock.Now())
}

type recognition struct {
	text string
	err  error
}

// recognize runs the OCR call as a single-completion future bounded by the
// configured timeout. The result channel is buffered so an abandoned call
// never blocks its goroutine.
func (s *Service) recognize(ctx context.Context, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RecognizeTimeout)
	defer cancel()

	done := make(chan recognition, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- recognition{err: fmt.Errorf("%w: recognizer panic: %v", scanning.ErrRecognition, r)}
			}
		}()
		text, err := s.recognizer.RecognizeText(ctx, data, contentType)
		done <- recognition{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", scanning.ErrRecognition, ctx.Err())
	}
}

// scheduleFromText runs once the text is known. The trigger is computed from
// the clock at this point, since recognition may have taken a while.
func (s *Service) scheduleFromText(id, text, savedPath, contentType string, createdAt time.Time) (*Alarm, error) {
	now := s.clock.Now()
	tod, err := timeofday.Extract(text)
	if err != nil {
		slog.Info("No usable time in text", "id", id, "error", err)
		return nil, &AnalysisError{Kind: extractionKind(err), Err: err}
	}

	trigger, err := s.calculator.ComputeDelay(tod, now)
	if err != nil {
		return nil, &AnalysisError{Kind: KindInvalidTime, Err: err}
	}

	alarm := &Alarm{
		ID:             id,
		ExtractedTime:  tod.String(),
		RecognizedText: text,
		FireAt:         trigger.At,
		Delay:          trigger.Delay,
		Status:         StatusPending,
		Filename:       savedPath,
		ContentType:    contentType,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}

	// Persist first so the job finds its alarm when it fires
	if err := s.db.SaveAlarm(alarm); err != nil {
		return nil, &AnalysisError{Kind: KindScheduling, Err: fmt.Errorf("saving alarm: %w", err)}
	}

	if _, err := s.scheduler.Schedule(deferred.Job{ID: id, At: trigger.At}); err != nil {
		if delErr := s.db.DeleteAlarm(id); delErr != nil {
			slog.Warn("Failed to remove unscheduled alarm", "id", id, "error", delErr)
		}
		return nil, &AnalysisError{Kind: KindScheduling, Err: fmt.Errorf("scheduling alarm: %w", err)}
	}

	slog.Info("Alarm scheduled", "id", id, "time", alarm.ExtractedTime, "fire_at", trigger.At, "delay", trigger.Delay)
	return alarm, nil
}

func (s *Service) discardFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// Fire runs the vibration for a due alarm. An alarm fires at most once: it is
// marked fired before the action runs.
func (s *Service) Fire(ctx context.Context, id string) {
	alarm, ok := s.markFired(id)
	if !ok {
		return
	}

	if err := s.action.Trigger(ctx, deferred.Pulse{AlarmID: id, Duration: s.config.Pulse}); err != nil {
		slog.Error("Vibration failed", "id", id, "error", err)
		s.markFailed(id, err)
		return
	}

	slog.Info("Alarm fired", "id", id, "time", alarm.ExtractedTime)
}

func (s *Service) markFired(id string) (*Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alarm, err := s.db.GetAlarm(id)
	if err != nil {
		slog.Error("Failed to load alarm to fire", "id", id, "error", err)
		return nil, false
	}
	if alarm.Status != StatusPending {
		slog.Warn("Alarm already handled", "id", id, "status", alarm.Status)
		return nil, false
	}

	now := s.clock.Now()
	alarm.Status = StatusFired
	alarm.FiredAt = &now
	alarm.UpdatedAt = now
	if err := s.db.SaveAlarm(alarm); err != nil {
		slog.Error("Failed to mark alarm fired", "id", id, "error", err)
		return nil, false
	}
	return alarm, true
}

// markFailed records the action error unless the alarm was deleted meanwhile
func (s *Service) markFailed(id string, actionErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alarm, err := s.db.GetAlarm(id)
	if errors.Is(err, ErrAlarmNotFound) {
		slog.Info("Alarm deleted while firing", "id", id)
		return
	}
	if err != nil {
		slog.Error("Failed to load alarm to mark failed", "id", id, "error", err)
		return
	}

	alarm.Status = StatusFailed
	alarm.Error = actionErr.Error()
	alarm.UpdatedAt = s.clock.Now()
	if err := s.db.SaveAlarm(alarm); err != nil {
		slog.Error("Failed to mark alarm failed", "id", id, "error", err)
	}
}

// Resume re-arms every pending alarm, e.g. after a restart. Alarms whose
// time passed while the process was down fire immediately.
func (s *Service) Resume(ctx context.Context) (int, error) {
	alarms, err := s.db.ListAlarms()
	if err != nil {
		return 0, fmt.Errorf("listing alarms: %w", err)
	}

	resumed := 0
	for _, alarm := range alarms {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		if alarm.Status != StatusPending {
			continue
		}
		_, err := s.scheduler.Schedule(deferred.Job{ID: alarm.ID, At: alarm.FireAt})
		if errors.Is(err, deferred.ErrAlreadyScheduled) {
			continue
		}
		if err != nil {
			return resumed, fmt.Errorf("rescheduling alarm %s: %w", alarm.ID, err)
		}
		resumed++
	}
	return resumed, nil
}

// GetAlarm retrieves an alarm by ID
func (s *Service) GetAlarm(id string) (*Alarm, error) {
	alarm, err := s.db.GetAlarm(id)
	if err != nil {
		return nil, fmt.Errorf("getting alarm: %w", err)
	}
	return alarm, nil
}

// ListAlarms returns all alarms, soonest first
func (s *Service) ListAlarms() ([]*Alarm, error) {
	alarms, err := s.db.ListAlarms()
	if err != nil {
		return nil, fmt.Errorf("listing alarms: %w", err)
	}
	sort.SliceStable(alarms, func(i, j int) bool {
		return alarms[i].FireAt.Before(alarms[j].FireAt)
	})
	return alarms, nil
}

// DeleteAlarm cancels a pending alarm and removes it with its image
func (s *Service) DeleteAlarm(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alarm, err := s.db.GetAlarm(id)
	if err != nil {
		return fmt.Errorf("getting alarm for deletion: %w", err)
	}

	s.scheduler.Cancel(id)

	if alarm.Filename != "" {
		s.discardFile(alarm.Filename)
	}

	if err := s.db.DeleteAlarm(id); err != nil {
		return fmt.Errorf("deleting alarm from database: %w", err)
	}
	return nil
}

// GetAlarmFile retrieves the image an alarm was read from
func (s *Service) GetAlarmFile(id string) ([]byte, string, error) {
	alarm, err := s.db.GetAlarm(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting alarm: %w", err)
	}
	if alarm.Filename == "" {
		return nil, "", fmt.Errorf("alarm %s has no image", id)
	}

	data, err := s.storage.Get(alarm.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting alarm file: %w", err)
	}
	return data, alarm.ContentType, nil
}

// Close stops pending timers; pending alarms stay in the database for Resume
func (s *Service) Close() {
	s.scheduler.Stop()
}
