package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oselz/escrowd/internal/metrics"
)

// DefaultSweepInterval is how often the scheduler runs the release sweep.
const DefaultSweepInterval = 5 * time.Minute

// Scheduler periodically runs the auto-release sweep. It is just
// another caller of the engine and holds no state of its own beyond
// the timer; all racing with manual operations is resolved by the
// store's conditional updates.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewScheduler creates an auto-release scheduler.
func NewScheduler(service *Service, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Scheduler{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start launches the sweep loop in a goroutine. Starting an already
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

// Stop signals the loop to exit. Safe to call even if never started.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one release pass, recovering from panics so a bad pass
// never kills the loop. Exported so operators can trigger a pass
// outside the timer.
func (s *Scheduler) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in auto-release sweep", "panic", fmt.Sprint(r))
		}
	}()

	metrics.SweepRunsTotal.Inc()
	released := s.service.ReleaseDue(ctx)
	if released > 0 {
		s.logger.Info("auto-release sweep finished", "released", released)
	}
}
