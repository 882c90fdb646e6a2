package deferred

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrAlreadyScheduled is returned when a job ID already has a pending timer
	ErrAlreadyScheduled = errors.New("job already scheduled")
	// ErrStopped is returned after Stop has been called
	ErrStopped = errors.New("scheduler stopped")
)

// DefaultStopGrace is how long Stop lets running jobs finish before cancelling them
const DefaultStopGrace = 5 * time.Second

// Job is a one-shot unit of work identified by ID and due at At
type Job struct {
	ID string
	At time.Time
}

// Handle identifies a scheduled job
type Handle struct {
	ID    string        `json:"id"`
	At    time.Time     `json:"at"`
	Delay time.Duration `json:"delay"`
}

// FireFunc is called once when a job comes due
type FireFunc func(ctx context.Context, id string)

// Scheduler runs one-shot jobs on in-process timers.
// Persistence is the caller's concern: jobs are re-registered on startup.
type Scheduler struct {
	fire  FireFunc
	now   func() time.Time
	grace time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	running sync.WaitGroup
}

// NewScheduler creates a Scheduler that calls fire when a job comes due
func NewScheduler(fire FireFunc) *Scheduler {
	return NewSchedulerWithClock(fire, time.Now)
}

// NewSchedulerWithClock creates a Scheduler with a custom clock for testing
func NewSchedulerWithClock(fire FireFunc, now func() time.Time) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fire:   fire,
		now:    now,
		grace:  DefaultStopGrace,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms a timer for the job. Jobs already due fire immediately.
func (s *Scheduler) Schedule(job Job) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Handle{}, ErrStopped
	}
	if _, ok := s.timers[job.ID]; ok {
		return Handle{}, ErrAlreadyScheduled
	}

	delay := job.At.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.run(id) })

	slog.Debug("Job scheduled", "id", id, "at", job.At, "delay", delay)
	return Handle{ID: id, At: job.At, Delay: delay}, nil
}

func (s *Scheduler) run(id string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if _, ok := s.timers[id]; !ok {
		// Cancelled between expiry and acquiring the lock
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	s.fire(s.ctx, id)
}

// Cancel stops a pending job. It reports whether a pending job was removed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, id)
	return true
}

// Pending returns the number of armed timers
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// SetStopGrace changes how long Stop waits before cancelling running jobs
func (s *Scheduler) SetStopGrace(grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = grace
}

// Stop disarms all timers without firing them and waits for running jobs.
// Jobs still running after the grace period see their context cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	grace := s.grace
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-done:
	case <-graceTimer.C:
		slog.Warn("Cancelling running jobs after grace period", "grace", grace)
		s.cancel()
		<-done
	}
	s.cancel()
}
