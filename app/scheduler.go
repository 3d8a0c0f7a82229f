package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agripredict/schedule"
)

// SchedulerState reports what the scheduler loop is doing
type SchedulerState string

const (
	StateRunning SchedulerState = "running"
	StateIdle    SchedulerState = "idle"
	StateStopped SchedulerState = "stopped"
)

// CycleRunner runs a single retraining cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

// Scheduler runs one cycle at startup and then one per weekly trigger
type Scheduler struct {
	runner CycleRunner
	weekly schedule.Weekly
	log    zerolog.Logger

	now   func() time.Time
	after func(time.Duration) (<-chan time.Time, func() bool)

	mu      sync.RWMutex
	state   SchedulerState
	nextRun time.Time
	last    *CycleReport
	done    chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(runner CycleRunner, weekly schedule.Weekly, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		weekly: weekly,
		log:    log,
		now:    time.Now,
		after: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

// Start runs the loop until ctx is cancelled or Stop is called. A cycle in
// progress receives the cancellation through its context.
func (s *Scheduler) Start(ctx context.Context) {
	select {
	case <-s.done:
		s.setState(StateStopped, time.Time{})
		return
	default:
	}
	if ctx.Err() != nil {
		s.setState(StateStopped, time.Time{})
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.log.Info().Str("trigger", s.weekly.String()).Msg("📅 Retraining scheduler started")

	for {
		s.setState(StateRunning, time.Time{})
		report, _ := s.runner.RunCycle(ctx)

		s.mu.Lock()
		s.last = report
		s.mu.Unlock()

		if ctx.Err() != nil {
			break
		}

		next := s.weekly.Next(s.now())
		s.setState(StateIdle, next)
		s.log.Info().Time("next_run", next).Msg("💤 Waiting for next weekly trigger")

		fire, stop := s.after(next.Sub(s.now()))
		select {
		case <-fire:
			continue
		case <-ctx.Done():
			stop()
		}
		break
	}

	s.setState(StateStopped, time.Time{})
	s.log.Info().Msg("📅 Retraining scheduler stopped")
}

// Stop ends the loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// State returns the current loop state
func (s *Scheduler) State() SchedulerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// NextRun returns the pending trigger time, zero while a cycle runs
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRun
}

// LastReport returns the report of the most recent cycle, if any
func (s *Scheduler) LastReport() *CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Scheduler) setState(state SchedulerState, next time.Time) {
	s.mu.Lock()
	s.state = state
	s.nextRun = next
	s.mu.Unlock()
}
