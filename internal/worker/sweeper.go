// Package worker runs the background loops that resolve time-driven state without any
// client connected: reschedule expiry, refund request retries and typing indicator expiry.
package worker

import (
	"context"
	"sync"
	"time"

	"telecare-server/internal/logging"
	"telecare-server/internal/metrics"
)

// RescheduleExpirer cancels appointments whose reschedule proposal passed its deadline.
type RescheduleExpirer interface {
	ExpireStaleReschedules(ctx context.Context) (int, error)
}

// RefundRetrier re-triggers refunds that were recorded on the appointment but never
// reached the payment ledger.
type RefundRetrier interface {
	RetryRefunds(ctx context.Context) (int, error)
}

// TypingExpirer clears lapsed typing indicators.
type TypingExpirer interface {
	ExpireTyping(ctx context.Context, now time.Time) int
}

// SweeperConfig wires a Sweeper.
type SweeperConfig struct {
	Reschedules        RescheduleExpirer
	Refunds            RefundRetrier
	Typing             TypingExpirer
	RescheduleInterval time.Duration
	TypingInterval     time.Duration
	Metrics            *metrics.Metrics
	Logger             *logging.Logger
	Now                func() time.Time
}

// Sweeper periodically resolves stale reschedule proposals, retries lost refund requests
// and clears typing indicators. Refunds are retried on the reschedule interval.
type Sweeper struct {
	reschedules        RescheduleExpirer
	refunds            RefundRetrier
	typing             TypingExpirer
	rescheduleInterval time.Duration
	typingInterval     time.Duration
	metrics            *metrics.Metrics
	logger             *logging.Logger
	now                func() time.Time
}

// NewSweeper creates a sweeper. Zero intervals default to one minute and 500ms.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RescheduleInterval <= 0 {
		cfg.RescheduleInterval = time.Minute
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = 500 * time.Millisecond
	}
	return &Sweeper{
		reschedules:        cfg.Reschedules,
		refunds:            cfg.Refunds,
		typing:             cfg.Typing,
		rescheduleInterval: cfg.RescheduleInterval,
		typingInterval:     cfg.TypingInterval,
		metrics:            cfg.Metrics,
		logger:             cfg.Logger.Component("sweeper"),
		now:                cfg.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started",
		"reschedule_interval", s.rescheduleInterval.String(),
		"typing_interval", s.typingInterval.String(),
	)

	var wg sync.WaitGroup
	if s.reschedules != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, s.rescheduleInterval, s.SweepReschedules)
		}()
	}
	if s.refunds != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, s.rescheduleInterval, s.SweepRefunds)
		}()
	}
	if s.typing != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, s.typingInterval, s.SweepTyping)
		}()
	}
	wg.Wait()

	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// SweepReschedules runs one reschedule expiry pass.
func (s *Sweeper) SweepReschedules(ctx context.Context) {
	started := time.Now()
	n, err := s.reschedules.ExpireStaleReschedules(ctx)
	s.metrics.ObserveSweep(time.Since(started).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("reschedule sweep failed", "expired", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired stale reschedule proposals", "count", n)
	}
}

// SweepRefunds runs one refund retry pass.
func (s *Sweeper) SweepRefunds(ctx context.Context) {
	n, err := s.refunds.RetryRefunds(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("refund retry failed", "retried", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("retried refund requests", "count", n)
	}
}

// SweepTyping runs one typing expiry pass.
func (s *Sweeper) SweepTyping(ctx context.Context) {
	if n := s.typing.ExpireTyping(ctx, s.now()); n > 0 {
		s.logger.Debug("typing indicators expired", "count", n)
	}
}
