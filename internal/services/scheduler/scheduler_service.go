package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/interfaces"
)

// jobEntry represents a registered recurring job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     func() error
	cronID      cron.EntryID
	lastRun     *time.Time
	lastError   string
	isRunning   bool
}

// Service implements interfaces.SchedulerService over robfig/cron
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jobMu   sync.Mutex
	jobs    map[string]*jobEntry
	running bool
}

// NewService creates a scheduler evaluating cron expressions in the given
// timezone (empty = local time)
func NewService(timezone string, logger arbor.ILogger) (interfaces.SchedulerService, error) {
	opts := []cron.Option{}
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone %q: %w", timezone, err)
		}
		opts = append(opts, cron.WithLocation(loc))
	}

	return &Service{
		cron:   cron.New(opts...),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}, nil
}

// RegisterJob registers or replaces a named recurring job. Re-registering an
// existing name updates its schedule and handler instead of duplicating it.
func (s *Service) RegisterJob(name, schedule, description string, handler func() error) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule for job %s: %w", name, err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing.cronID)
		s.logger.Debug().
			Str("job_name", name).
			Str("old_schedule", existing.schedule).
			Str("new_schedule", schedule).
			Msg("Replacing registered job")
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
	}

	cronID, err := s.cron.AddFunc(schedule, func() { s.executeJob(name) })
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", name, err)
	}
	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Str("description", description).
		Msg("Job registered")

	return nil
}

// executeJob runs one registered job, skipping if its previous run is still
// in flight
func (s *Service) executeJob(name string) {
	s.jobMu.Lock()
	entry, ok := s.jobs[name]
	if !ok {
		s.jobMu.Unlock()
		return
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Previous run still in progress, skipping")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	start := time.Now()
	err := handler()
	duration := time.Since(start)

	s.jobMu.Lock()
	entry.isRunning = false
	now := time.Now()
	entry.lastRun = &now
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("job_name", name).
			Dur("duration", duration).
			Msg("Scheduled job failed")
		return
	}

	s.logger.Debug().
		Str("job_name", name).
		Dur("duration", duration).
		Msg("Scheduled job completed")
}

// Start begins cron evaluation
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true

	s.jobMu.Lock()
	count := len(s.jobs)
	s.jobMu.Unlock()

	s.logger.Info().Int("jobs", count).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true while the scheduler is active
func (s *Service) IsRunning() bool {
	return s.running
}
