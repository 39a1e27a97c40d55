// Package supervisor drives the periodic reconciliation tick that notices
// exited children and schedules their restarts, per the registry's
// restart policy.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tim-br/diakonos/internal/registry"
)

const (
	// restartBurst bounds how many restarts a single flapping service may
	// accumulate before the limiter starts refusing further attempts. A
	// refused restart is dropped, not retried on a later tick: the service
	// stays in its exited state until it is started again.
	restartBurst = 5
	// restartRatePerMinute is the steady-state replenishment rate once a
	// service has burned through its burst allowance.
	restartRatePerMinute = 3
)

// Supervisor runs the registry's reconciliation tick on a fixed period and
// carries out any restarts it schedules, rate-limited per service so a
// crash loop cannot burn CPU respawning forever.
type Supervisor struct {
	reg    *registry.Registry
	period time.Duration
	logger *slog.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// New constructs a Supervisor that reconciles reg every period.
func New(reg *registry.Registry, period time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		reg:      reg,
		period:   period,
		logger:   logger.With("component", "supervisor"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run blocks, ticking every period, until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	for _, candidate := range s.reg.Reconcile() {
		if !s.allow(candidate.Name) {
			s.logger.Warn("restart rate limit exceeded, not restarting",
				"service", candidate.Name)
			continue
		}
		s.scheduleRestart(ctx, candidate.Name, candidate.Delay)
	}
}

// allow reports whether name may restart now, using a per-service token
// bucket lazily created on first use — same pattern as a per-key rate
// limiter keyed by caller identity, just keyed by service name instead.
func (s *Supervisor) allow(name string) bool {
	s.limitersMu.Lock()
	lim, ok := s.limiters[name]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(restartRatePerMinute)/60, restartBurst)
		s.limiters[name] = lim
	}
	s.limitersMu.Unlock()
	return lim.Allow()
}

// scheduleRestart waits delay (without holding any registry lock) and then
// invokes RestartOne. The wait itself runs in its own goroutine so a slow
// service's RestartSec never stalls the next reconciliation tick.
func (s *Supervisor) scheduleRestart(ctx context.Context, name string, delay time.Duration) {
	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		if err := s.reg.RestartOne(name); err != nil {
			s.logger.Error("scheduled restart failed", "service", name, "error", err)
			return
		}
		s.logger.Info("restarted service", "service", name)
	}()
}
