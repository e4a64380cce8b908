package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
)

// State of the scheduler's explicit state machine.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Jobs are the two periodic loops the scheduler drives. Errors from a job
// are counted and logged but never stop the schedule.
type Jobs struct {
	Ingest  func(ctx context.Context) error
	Hygiene func(ctx context.Context) error
}

// Scheduler drives the ingestion and hygiene loops on independent cadences.
// Transitions happen only through Start/Stop/Pause/Resume and are
// idempotent. While paused the schedule keeps ticking but job bodies are
// skipped, so a resume never needs to rebuild cron entries.
type Scheduler struct {
	cfg  config.Scheduler
	jobs Jobs

	mu      sync.Mutex
	state   State
	cron    *cron.Cron
	cancel  context.CancelFunc
	health  Health
	started time.Time
}

// Health is the counter snapshot exposed on the control surface.
type Health struct {
	State               State     `json:"state"`
	StartedAt           time.Time `json:"started_at,omitempty"`
	IngestRuns          int64     `json:"ingest_runs"`
	IngestFailures      int64     `json:"ingest_failures"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	HygieneRuns         int64     `json:"hygiene_runs"`
	HygieneFailures     int64     `json:"hygiene_failures"`
	Degraded            bool      `json:"degraded"`
	LastIngestAt        time.Time `json:"last_ingest_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

func New(cfg config.Scheduler, jobs Jobs) *Scheduler {
	return &Scheduler{cfg: cfg, jobs: jobs, state: StateStopped}
}

// Start transitions stopped→running. Starting a running or paused
// scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %dm", s.cfg.IngestEveryMinutes), func() {
		s.runJob(ctx, "ingest", s.jobs.Ingest)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule ingest loop: %w", err)
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %dm", s.cfg.HygieneEveryMinutes), func() {
		s.runJob(ctx, "hygiene", s.jobs.Hygiene)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule hygiene loop: %w", err)
	}
	c.Start()

	s.cron = c
	s.state = StateRunning
	s.started = time.Now().UTC()
	s.health = Health{State: StateRunning, StartedAt: s.started}
	observ.Log("scheduler_started", map[string]any{
		"ingest_every_min":  s.cfg.IngestEveryMinutes,
		"hygiene_every_min": s.cfg.HygieneEveryMinutes,
	})
	return nil
}

// Stop cancels in-flight work and blocks until running jobs have returned.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.state = StateStopped
	s.health.State = StateStopped
	s.mu.Unlock()

	cancel()
	// The stop context completes once in-flight jobs finish.
	<-c.Stop().Done()
	observ.Log("scheduler_stopped", nil)
}

// Pause gates job bodies off without tearing down the schedule.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = StatePaused
	s.health.State = StatePaused
	observ.Log("scheduler_paused", nil)
}

// Resume transitions paused→running.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return
	}
	s.state = StateRunning
	s.health.State = StateRunning
	observ.Log("scheduler_resumed", nil)
}

// State returns the current machine state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a health snapshot.
func (s *Scheduler) Status() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health
	h.State = s.state
	return h
}

// RunIngestNow fires one ingestion iteration outside the schedule, for
// operator-triggered catch-up. Honors pause.
func (s *Scheduler) RunIngestNow(ctx context.Context) {
	s.runJob(ctx, "ingest", s.jobs.Ingest)
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	start := time.Now()
	err := fn(ctx)
	observ.RecordDuration("scheduler_job_duration", time.Since(start),
		map[string]string{"job": name})

	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "ingest":
		s.health.IngestRuns++
		s.health.LastIngestAt = time.Now().UTC()
		observ.IncCounter("ingestion_runs_total", nil)
		if err != nil {
			s.health.IngestFailures++
			s.health.ConsecutiveFailures++
			s.health.LastError = err.Error()
			observ.IncCounter("ingestion_failures_total", nil)
		} else {
			s.health.ConsecutiveFailures = 0
			s.health.LastError = ""
		}
		degraded := s.health.ConsecutiveFailures >= int64(s.cfg.FailureThreshold)
		if degraded != s.health.Degraded {
			s.health.Degraded = degraded
			observ.Log("scheduler_degraded_change", map[string]any{"degraded": degraded})
		}
		if degraded {
			observ.SetGauge("scheduler_degraded", 1, nil)
		} else {
			observ.SetGauge("scheduler_degraded", 0, nil)
		}
	case "hygiene":
		s.health.HygieneRuns++
		observ.IncCounter("hygiene_runs_total", nil)
		if err != nil {
			s.health.HygieneFailures++
			s.health.LastError = err.Error()
		}
	}
	if err != nil {
		observ.LogError("scheduler_job_failed", err, map[string]any{"job": name})
	}
}
