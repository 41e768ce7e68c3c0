// Package scheduler runs the background jobs on cron schedules.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/restock/internal/events"
	"github.com/aristath/restock/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	events  *events.Manager
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
	jobs    map[string]Job
}

// New creates a new scheduler. eventManager and m may be nil.
func New(eventManager *events.Manager, m *metrics.Metrics, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		events:  eventManager,
		metrics: m,
		log:     log.With().Str("component", "scheduler").Logger(),
		running: make(map[string]bool),
		jobs:    make(map[string]Job),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "@every 30s"         - Every 30 seconds
//
// An empty schedule disables the job.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if schedule == "" {
		s.log.Info().Str("job", job.Name()).Msg("Job disabled")
		return nil
	}

	_, err := s.cron.AddFunc(schedule, func() {
		_ = s.execute(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}

	s.mu.Lock()
	s.jobs[job.Name()] = job
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.execute(job)
}

// Jobs returns the names of the registered jobs
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// execute runs a job unless a previous execution of it is still going
func (s *Scheduler) execute(job Job) error {
	name := job.Name()

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.log.Warn().Str("job", name).Msg("Previous execution still running, skipping")
		return nil
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	s.emit(&events.JobStatusData{JobID: name, Status: "started", Timestamp: time.Now()})
	s.log.Debug().Str("job", name).Msg("Running job")
	start := time.Now()

	err := s.safeRun(job)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveJob(name, err)
	}
	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", name).
			Msg("Job failed")
		s.emit(&events.JobStatusData{JobID: name, Status: "failed", Error: err.Error(), Duration: elapsed.Seconds(), Timestamp: time.Now()})
		return err
	}

	s.log.Debug().Str("job", name).Dur("elapsed", elapsed).Msg("Job completed")
	s.emit(&events.JobStatusData{JobID: name, Status: "completed", Duration: elapsed.Seconds(), Timestamp: time.Now()})
	return nil
}

func (s *Scheduler) safeRun(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run()
}

func (s *Scheduler) emit(data events.EventData) {
	if s.events != nil {
		s.events.EmitTyped("scheduler", data)
	}
}
