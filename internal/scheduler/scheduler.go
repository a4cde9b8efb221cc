package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes stale files and reports how many went away.
type Sweeper interface {
	Sweep(maxAge time.Duration) (int, error)
}

// Scheduler runs the periodic temp-dir sweep.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	sweeper Sweeper
	spec    string
	maxAge  time.Duration
	logger  *slog.Logger
	entryID cron.EntryID
	started bool
}

func New(sweeper Sweeper, spec string, maxAge time.Duration, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		ctx:     ctx,
		cancel:  cancel,
		sweeper: sweeper,
		spec:    spec,
		maxAge:  maxAge,
		logger:  logger,
	}
}

// Start registers the sweep job and starts the cron loop. An empty schedule
// disables the sweep.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		s.logger.Warn("temp sweep schedule not set, stale temp files will not be removed")
		return nil
	}
	if s.sweeper == nil {
		return errors.New("scheduler: sweeper not set")
	}

	id, err := s.cron.AddFunc(s.spec, s.RunOnce)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", "schedule", s.spec, "max_age", s.maxAge)
	return nil
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce() {
	if s.ctx.Err() != nil {
		return
	}
	n, err := s.sweeper.Sweep(s.maxAge)
	if err != nil {
		s.logger.Error("temp sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("temp sweep removed stale files", "count", n)
	}
}

// Next is the time of the next scheduled sweep, zero if not running.
func (s *Scheduler) Next() time.Time {
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil && s.started {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the sweep job is registered.
func (s *Scheduler) IsRunning() bool {
	return s.started && len(s.cron.Entries()) > 0
}
