// Package sweeper implements the Reservation Sweeper: a background
// periodic process that reclaims capacity from reservations left behind
// by a crashed or hung worker (spec §4.7). Grounded on the teacher's
// coordinator heartbeat-ticker shape (a single goroutine driven by
// time.Ticker, stopped via a close-channel) rather than anything
// orchestration-specific, since this is a generic "periodic maintenance
// loop" concern the teacher solves the same way in several places.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/agentrt/audit"
	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ledger"
)

// Sweeper periodically calls ledger.SweepExpired and logs a
// reservation_expired audit event per reclaimed reservation.
type Sweeper struct {
	ledger   *ledger.Ledger
	auditLog *audit.Log
	interval time.Duration
	logger   core.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Sweeper. auditLog may be nil, in which case sweeps still
// reclaim capacity but no audit event is emitted (tests and standalone
// ledger use don't always need a log).
func New(l *ledger.Ledger, auditLog *audit.Log, interval time.Duration, logger core.Logger) *Sweeper {
	if interval <= 0 {
		interval = core.DefaultSweepInterval
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/sweeper")
	}
	return &Sweeper{
		ledger:   l,
		auditLog: auditLog,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop in a background goroutine until ctx is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the in-flight sweep, if any,
// to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SweepNow runs one sweep pass synchronously. Exposed so callers (tests,
// a CLI "sweep once" command) don't have to wait on the ticker.
func (s *Sweeper) SweepNow(ctx context.Context) []*ledger.Reservation {
	return s.sweepOnce(ctx)
}

func (s *Sweeper) sweepOnce(ctx context.Context) []*ledger.Reservation {
	swept := s.ledger.SweepExpired(time.Now())
	if len(swept) == 0 {
		return swept
	}

	s.logger.Info("reservations swept", map[string]interface{}{"count": len(swept)})

	if s.auditLog == nil {
		return swept
	}
	for _, r := range swept {
		details := map[string]interface{}{
			"reservation_id":      r.ID,
			"tool_name":           r.ToolName,
			"additional_requests": r.AdditionalRequests,
			"additional_llm":      r.AdditionalLLM,
			"expires_at_ms":       r.ExpiresAtMs,
		}
		if _, err := s.auditLog.Append(ctx, "reservation_expired", "sweeper", "", r.ToolName, details, true, ""); err != nil {
			s.logger.Warn("failed to record reservation_expired audit event", map[string]interface{}{
				"reservation_id": r.ID,
				"error":          err.Error(),
			})
		}
	}
	return swept
}
