// Package scheduler runs the coordinator's named periodic tasks with
// panic recovery and per-task metrics.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/metrics"
)

// TaskFunc is one periodic tick. The context is cancelled when the
// scheduler stops.
type TaskFunc func(ctx context.Context)

// Scheduler drives every periodic loop of a controller under one
// concurrency model. Each named task runs at its own interval; a panic
// in a tick is recovered and reported through the panic hook so the
// controller can force a rescan before the next tick trusts the cache.
type Scheduler struct {
	cron   *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	names   []string
	onPanic func(task string)
}

// New creates a stopped scheduler.
func New(logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		log:    logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnPanic registers the hook invoked after a recovered tick panic.
func (s *Scheduler) OnPanic(fn func(task string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPanic = fn
}

// Every registers a named task at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: non-positive interval %s", name, interval)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.tick(name, fn)
	})
	if err != nil {
		return fmt.Errorf("register task %s: %w", name, err)
	}
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) tick(name string, fn TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TickPanics.WithLabelValues(name).Inc()
			s.log.Error().Str("task", name).Interface("panic", r).Msg("tick panicked, recovered")
			s.mu.Lock()
			hook := s.onPanic
			s.mu.Unlock()
			if hook != nil {
				hook(name)
			}
		}
	}()

	timer := metrics.NewTimer()
	fn(s.ctx)
	timer.ObserveDurationVec(metrics.TickDuration, name)
}

// Tasks returns the registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Start begins ticking.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Strs("tasks", s.Tasks()).Msg("scheduler started")
}

// Stop cancels the task context and waits for running ticks.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}
