// Package scheduler turns configured cron expressions into recurring
// mailbox analysis jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/queue"
)

// JobQueue is the slice of the job queue the scheduler drives. Enqueue
// never blocks; Jobs is a point-in-time snapshot.
type JobQueue interface {
	Enqueue(t queue.Type, payload any) (string, error)
	Jobs() []queue.Job
}

// ScheduleStatus reports the state of one account's recurring analysis.
type ScheduleStatus struct {
	Account      string    `json:"account"`
	Schedule     string    `json:"schedule"`
	Query        string    `json:"query,omitempty"`
	NextRun      time.Time `json:"next_run"`
	LastJobID    string    `json:"last_job_id,omitempty"`
	LastEnqueued time.Time `json:"last_enqueued,omitempty"`
	LastSkipped  time.Time `json:"last_skipped,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Scheduler manages cron-based recurring analyses. A tick enqueues an
// analyze job on the queue; ticks that fire while an analysis is still
// queued or running are skipped, so a slow mailbox never stacks scans.
type Scheduler struct {
	cron   *cron.Cron
	queue  JobQueue
	logger *slog.Logger

	mu       sync.RWMutex
	jobs     map[string]cron.EntryID            // account -> cron entry ID
	specs    map[string]config.AnalysisSchedule // account -> schedule
	lastJob  map[string]string                  // account -> last enqueued job ID
	lastRun  map[string]time.Time               // account -> last enqueue time
	lastSkip map[string]time.Time               // account -> last skipped tick
	lastErr  map[string]error                   // account -> last enqueue error
	started  bool                               // true after Start(), false after Stop()
	stopped  bool                               // true after Stop()
}

// New creates a Scheduler enqueueing on the given queue.
func New(q JobQueue) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		queue:    q,
		logger:   slog.Default(),
		jobs:     make(map[string]cron.EntryID),
		specs:    make(map[string]config.AnalysisSchedule),
		lastJob:  make(map[string]string),
		lastRun:  make(map[string]time.Time),
		lastSkip: make(map[string]time.Time),
		lastErr:  make(map[string]error),
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Add schedules a recurring analysis. An existing schedule for the same
// account is replaced. Returns an error if the cron expression is
// invalid.
func (s *Scheduler) Add(spec config.AnalysisSchedule) error {
	if spec.Account == "" {
		return fmt.Errorf("schedule has no account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove existing schedule if present
	if entryID, exists := s.jobs[spec.Account]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, spec.Account)
		delete(s.specs, spec.Account)
	}

	account := spec.Account
	entryID, err := s.cron.AddFunc(spec.Schedule, func() {
		s.tick(account)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec.Schedule, err)
	}

	s.jobs[account] = entryID
	s.specs[account] = spec
	s.logger.Info("scheduled analysis",
		"account", account,
		"schedule", spec.Schedule,
		"next_run", s.cron.Entry(entryID).Next)

	return nil
}

// AddFromConfig adds the enabled schedules for the given account. The
// queue executes against exactly one mailbox, so schedules naming a
// different account are skipped with a warning rather than scanning the
// wrong mailbox. Returns the number scheduled and any errors.
func (s *Scheduler) AddFromConfig(cfg *config.Config, account string) (int, []error) {
	var errors []error
	scheduled := 0

	for _, spec := range cfg.ScheduledAnalyses() {
		if spec.Account == "" {
			spec.Account = account
		}
		if spec.Account != account {
			s.logger.Warn("schedule is for a different account, skipping",
				"account", spec.Account, "active", account)
			continue
		}
		if err := s.Add(spec); err != nil {
			errors = append(errors, fmt.Errorf("%s: %w", spec.Account, err))
		} else {
			scheduled++
		}
	}

	return scheduled, errors
}

// Remove removes the schedule for an account.
func (s *Scheduler) Remove(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[account]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, account)
		delete(s.specs, account)
		s.logger.Info("removed schedule", "account", account)
	}
}

// IsScheduled returns true if the account has a schedule.
func (s *Scheduler) IsScheduled(account string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[account]
	return exists
}

// Start begins firing scheduled ticks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", len(s.jobs))
}

// IsRunning returns true if the scheduler has been started and not yet
// stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop stops firing ticks. The returned context is done once any tick
// in flight has finished. Jobs already enqueued keep running; stopping
// the queue is the caller's call.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	return s.cron.Stop()
}

// Trigger enqueues an account's analysis immediately, outside its
// schedule. Returns an error if the scheduler is stopped, the account is
// not scheduled, or an analysis is already queued or running.
func (s *Scheduler) Trigger(account string) error {
	s.mu.RLock()
	stopped := s.stopped
	spec, exists := s.specs[account]
	s.mu.RUnlock()

	if stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if !exists {
		return fmt.Errorf("account %s is not scheduled", account)
	}
	if s.analysisPending() {
		return fmt.Errorf("an analysis is already queued or running")
	}

	return s.enqueue(spec)
}

// tick is the cron callback for one account.
func (s *Scheduler) tick(account string) {
	s.mu.RLock()
	stopped := s.stopped
	spec, exists := s.specs[account]
	s.mu.RUnlock()

	if stopped || !exists {
		return
	}

	if s.analysisPending() {
		s.mu.Lock()
		s.lastSkip[account] = time.Now()
		s.mu.Unlock()
		s.logger.Info("analysis already pending, skipping scheduled run",
			"account", account)
		return
	}

	if err := s.enqueue(spec); err != nil {
		s.logger.Error("scheduled analysis enqueue failed",
			"account", account, "error", err)
	}
}

// analysisPending reports whether an analyze job is already queued or
// running. Other job types don't block a scheduled analysis; the queue
// serializes them anyway.
func (s *Scheduler) analysisPending() bool {
	for _, j := range s.queue.Jobs() {
		if j.Type == queue.TypeAnalyze && !j.Status.Terminal() {
			return true
		}
	}
	return false
}

func (s *Scheduler) enqueue(spec config.AnalysisSchedule) error {
	id, err := s.queue.Enqueue(queue.TypeAnalyze, bulk.AnalyzePayload{
		Query:       spec.Query,
		MaxMessages: spec.MaxMessages,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr[spec.Account] = err
		return err
	}
	s.lastJob[spec.Account] = id
	s.lastRun[spec.Account] = time.Now()
	s.lastErr[spec.Account] = nil
	s.logger.Info("scheduled analysis enqueued",
		"account", spec.Account, "job_id", id)
	return nil
}

// Status returns the current status of all schedules.
func (s *Scheduler) Status() []ScheduleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []ScheduleStatus
	for account, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		spec := s.specs[account]
		status := ScheduleStatus{
			Account:      account,
			Schedule:     spec.Schedule,
			Query:        spec.Query,
			NextRun:      entry.Next,
			LastJobID:    s.lastJob[account],
			LastEnqueued: s.lastRun[account],
			LastSkipped:  s.lastSkip[account],
		}
		if err := s.lastErr[account]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling
// anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
