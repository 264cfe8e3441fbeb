package consolidate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the distiller on an interval.
//
// Start and Stop are idempotent-safe to call from multiple goroutines.
// Stop waits for an in-flight run to finish; no run starts after Stop
// returns.
type Scheduler struct {
	distiller *Distiller
	logger    *zap.Logger
	interval  time.Duration
	opts      Options

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between runs. Defaults to 24 hours.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = interval }
}

// WithOptions sets the distiller options used on each run.
func WithOptions(opts Options) SchedulerOption {
	return func(s *Scheduler) { s.opts = opts }
}

// NewScheduler creates a scheduler. It does not start automatically.
func NewScheduler(distiller *Distiller, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if distiller == nil {
		return nil, fmt.Errorf("distiller cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		distiller: distiller,
		logger:    logger,
		interval:  24 * time.Hour,
		opts:      Options{SimilarityThreshold: 0.85},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0, got %s", s.interval)
	}
	return s, nil
}

// SetOptions replaces the distiller options for subsequent runs. Safe to
// call while the scheduler is running; an in-flight run keeps its options.
func (s *Scheduler) SetOptions(opts Options) error {
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		return ErrInvalidThreshold
	}
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Start launches the background loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("consolidation scheduler started", zap.Duration("interval", s.interval))
	go s.run(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("consolidation scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.distiller.Run(ctx, s.options()); err != nil {
				// A failed run does not stop the schedule.
				s.logger.Error("scheduled consolidation failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
