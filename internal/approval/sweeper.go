package approval

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSweepInterval is how often the sweeper checks for overdue requests.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically expires overdue pending requests so they don't
// depend on a resolver touching them. Lazy expiry in the engine still
// covers the window between ticks.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSweeper creates a sweeper. A non-positive interval falls back to the
// default.
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("approval sweeper started", "interval", s.interval.String())
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				s.logger.Info("approval sweeper stopped")
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	<-s.done
}

// sweep runs one cleanup pass. A panic in the store must not kill the loop.
func (s *Sweeper) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("approval sweep panicked", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.engine.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("approval sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("approval sweep expired requests", "count", n)
	}
}
