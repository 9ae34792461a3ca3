// Package maintenance periodically validates and optimizes every registered
// database connection.
package maintenance

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/database"
)

// DefaultSchedule runs maintenance four times a day.
const DefaultSchedule = "@every 6h"

// ConnectionSource lists the connections to maintain.
type ConnectionSource interface {
	ListConnections() []string
	GetConnection(name string) *database.Connection
}

// Result is the outcome of maintaining one connection.
type Result struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Optimized bool   `json:"optimized"`
	Error     string `json:"error,omitempty"`
}

// Status describes the scheduler.
type Status struct {
	Running  bool       `json:"running"`
	Schedule string     `json:"schedule"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	Results  []Result   `json:"results"`
}

// Scheduler runs maintenance on a cron schedule.
type Scheduler struct {
	source   ConnectionSource
	schedule string

	mu      sync.RWMutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
	lastRun time.Time
	results []Result

	runMu sync.Mutex
}

// New creates a scheduler. An empty schedule uses DefaultSchedule.
func New(source ConnectionSource, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		source:   source,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the schedule and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	id, err := s.cron.AddFunc(s.schedule, s.scheduledRun)
	if err != nil {
		return fmt.Errorf("failed to parse maintenance schedule %q: %w", s.schedule, err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	log.Info().Str("schedule", s.schedule).Msg("Database maintenance scheduler started")
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	id := s.entryID
	s.entryID = 0
	s.running = false
	s.mu.Unlock()

	// A running job records its results under s.mu, so wait unlocked.
	<-c.Stop().Done()
	c.Remove(id)
	log.Info().Msg("Database maintenance scheduler stopped")
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status returns the schedule and the results of the last run.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:  s.running,
		Schedule: s.schedule,
		Results:  append([]Result{}, s.results...),
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		st.LastRun = &last
	}
	if s.entryID != 0 {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

func (s *Scheduler) scheduledRun() {
	log.Debug().Msg("Scheduled database maintenance triggered")
	s.RunNow()
}

// RunNow maintains every connection immediately. Concurrent calls are
// serialized.
func (s *Scheduler) RunNow() []Result {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	names := s.source.ListConnections()
	results := make([]Result, 0, len(names))
	for _, name := range names {
		results = append(results, s.maintain(name))
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.results = results
	s.mu.Unlock()

	log.Info().Int("connections", len(results)).Msg("Database maintenance finished")
	return results
}

func (s *Scheduler) maintain(name string) Result {
	res := Result{Name: name}

	conn := s.source.GetConnection(name)
	if conn == nil {
		res.Error = "connection removed"
		return res
	}

	res.Connected = conn.ValidateConnection()
	if !res.Connected {
		res.Error = "connection is not usable"
		log.Warn().Str("connection", name).Str("path", conn.Path()).Msg("Database connection failed validation")
		return res
	}

	if err := conn.Optimize(); err != nil {
		res.Error = err.Error()
		log.Warn().Err(err).Str("connection", name).Msg("Failed to optimize database")
		return res
	}
	res.Optimized = true
	log.Debug().Str("connection", name).Msg("Database optimized")
	return res
}
