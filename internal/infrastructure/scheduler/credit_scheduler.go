package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	appcredit "github.com/tallydash/backend/internal/application/credit"
	"github.com/tallydash/backend/internal/domain/credit"
)

// Pass reasons recorded in logs.
const (
	passReasonStartup  = "startup"
	passReasonMidnight = "midnight"
	passReasonHourly   = "hourly"
)

// CreditScheduler runs periodic deduction passes over all tenants. It runs a
// catch-up pass immediately on start, then wakes every tick to decide whether
// a pass is due: a once-daily pass inside the configured window right after
// IST midnight, or a recurring pass once the hourly interval has elapsed. The
// midnight pass wins when both are due on the same tick.
type CreditScheduler struct {
	service *appcredit.Service
	clock   credit.Clock
	logger  *zap.Logger
	config  CreditSchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// Loop-local trigger state, touched only by the scheduler goroutine
	// (and by tests driving decide/markPass directly).
	lastPass     time.Time
	lastMidnight time.Time
}

// CreditSchedulerConfig holds configuration for the credit scheduler
type CreditSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// TickInterval is the loop period between trigger checks
	TickInterval time.Duration

	// HourlyInterval is the minimum gap between recurring passes
	HourlyInterval time.Duration

	// MidnightWindow is how long after IST midnight the once-daily pass
	// may still fire
	MidnightWindow time.Duration

	// PassTimeout bounds a single deduction pass
	PassTimeout time.Duration
}

// DefaultCreditSchedulerConfig returns default configuration
func DefaultCreditSchedulerConfig() CreditSchedulerConfig {
	return CreditSchedulerConfig{
		Enabled:        true,
		TickInterval:   time.Minute,
		HourlyInterval: time.Hour,
		MidnightWindow: 5 * time.Minute,
		PassTimeout:    10 * time.Minute,
	}
}

// NewCreditScheduler creates a new credit scheduler
func NewCreditScheduler(
	service *appcredit.Service,
	clock credit.Clock,
	logger *zap.Logger,
	config CreditSchedulerConfig,
) *CreditScheduler {
	if clock == nil {
		clock = credit.SystemClock{}
	}
	return &CreditScheduler{
		service: service,
		clock:   clock,
		logger:  logger,
		config:  config,
	}
}

// Start starts the scheduler loop. The startup pass runs before the first
// tick so deductions missed while the process was down are reconciled right
// away rather than up to an hour later.
func (s *CreditScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Credit scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Credit scheduler started",
		zap.Duration("tick_interval", s.config.TickInterval),
		zap.Duration("hourly_interval", s.config.HourlyInterval),
		zap.Duration("midnight_window", s.config.MidnightWindow),
	)

	return nil
}

// Stop gracefully stops the scheduler
func (s *CreditScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Credit scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Credit scheduler stop timed out")
		return ctx.Err()
	}
}

// run is the scheduler loop
func (s *CreditScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.executePass(passReasonStartup)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Credit scheduler loop stopping")
			return
		case <-ticker.C:
			if reason := s.decide(s.clock.Now()); reason != "" {
				s.executePass(reason)
			}
		}
	}
}

// decide returns which pass, if any, is due at the given instant. The
// midnight pass fires at most once per IST date and takes priority over the
// recurring pass.
func (s *CreditScheduler) decide(now time.Time) string {
	today := credit.DateOf(now)
	sinceMidnight := now.In(credit.IST()).Sub(today)

	if sinceMidnight <= s.config.MidnightWindow && !credit.SameDate(today, s.lastMidnight) {
		return passReasonMidnight
	}
	if now.Sub(s.lastPass) >= s.config.HourlyInterval {
		return passReasonHourly
	}
	return ""
}

// markPass records the trigger state after a pass. A pass that lands inside
// the midnight window satisfies the once-daily trigger regardless of why it
// ran, so a startup pass at 00:02 IST is not followed by a midnight pass a
// tick later.
func (s *CreditScheduler) markPass(now time.Time) {
	s.lastPass = now
	today := credit.DateOf(now)
	if now.In(credit.IST()).Sub(today) <= s.config.MidnightWindow {
		s.lastMidnight = today
	}
}

// executePass runs one deduction pass. Pass failures are logged and
// swallowed; the loop must survive any single bad pass.
//
// The pass context is deliberately not derived from the loop context:
// shutdown interrupts the loop between passes, never a pass in flight. A
// running pass is bounded only by PassTimeout, and Stop waits for it.
func (s *CreditScheduler) executePass(reason string) {
	passCtx := context.Background()
	if s.config.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(passCtx, s.config.PassTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	stats, err := s.service.ProcessAllTenants(passCtx)
	s.markPass(start)

	if err != nil {
		s.logger.Error("Credit deduction pass failed",
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Credit deduction pass completed",
		zap.String("reason", reason),
		zap.Int("total", stats.Total),
		zap.Int("processed", stats.Processed),
		zap.Int("deducted", stats.Deducted),
		zap.Int("deactivated", stats.Deactivated),
		zap.Int("failed", stats.Failed),
	)
}
