package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/agentrt/core"
)

// Snapshot is the read-only view of ledger state handed to observers
// (RuntimeState in the data model): computed on demand, never mutated by
// the reader.
type Snapshot struct {
	ActiveRequests      int
	ActiveLLM           int
	ReservedRequests    int
	ReservedLLM         int
	ActiveReservations  int
	QueuedCount         int
	QueuedToolNames     []string
	QueueEvictions      int
	Limits              core.RuntimeLimits
}

// Ledger is the Capacity Ledger: the single source of truth for "may I
// start?" admission decisions. All counter mutation happens under one
// mutex — the spec's "single serializing primitive" — the same pattern
// the teacher's circuit breaker uses for its sliding window, except here
// a plain mutex is enough since admission checks are cheap and never
// block on I/O.
type Ledger struct {
	mu     sync.Mutex
	limits core.RuntimeLimits
	logger core.Logger

	activeRequests int
	activeLLM      int
	reservations   map[string]*Reservation
	queue          *PriorityQueue
}

// NewLedger builds a ledger enforcing limits, logging through logger (a
// core.NoOpLogger if nil).
func NewLedger(limits core.RuntimeLimits, logger core.Logger) *Ledger {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/ledger")
	}
	queueCap := limits.QueueCap
	if queueCap <= 0 {
		queueCap = core.DefaultQueueCap
	}
	return &Ledger{
		limits:       limits,
		logger:       logger,
		reservations: make(map[string]*Reservation),
		queue:        NewPriorityQueue(queueCap),
	}
}

func (l *Ledger) expiry() time.Duration {
	if l.limits.ReservationExpiry > 0 {
		return l.limits.ReservationExpiry
	}
	return core.DefaultReservationExpiry
}

// TryReserve attempts to grant additionalRequests/additionalLLM slots
// immediately. On denial it returns a *core.FrameworkError classified
// capacity_unavailable describing which dimension was exhausted.
func (l *Ledger) TryReserve(toolName string, additionalRequests, additionalLLM int) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tryReserveLocked(toolName, additionalRequests, additionalLLM)
}

func (l *Ledger) tryReserveLocked(toolName string, additionalRequests, additionalLLM int) (*Reservation, error) {
	var reasons []string
	if l.activeRequests+additionalRequests > l.limits.MaxTotalActiveRequests {
		reasons = append(reasons, fmt.Sprintf("active requests %d+%d exceeds max %d", l.activeRequests, additionalRequests, l.limits.MaxTotalActiveRequests))
	}
	if l.activeLLM+additionalLLM > l.limits.MaxTotalActiveLLM {
		reasons = append(reasons, fmt.Sprintf("active llm %d+%d exceeds max %d", l.activeLLM, additionalLLM, l.limits.MaxTotalActiveLLM))
	}
	if len(reasons) > 0 {
		return nil, core.NewFrameworkError("ledger.tryReserve", core.KindCapacityUnavailable,
			fmt.Errorf("%w: %v", core.ErrCapacityUnavailable, reasons))
	}

	r := newReservation(toolName, additionalRequests, additionalLLM, l.expiry())
	l.reservations[r.ID] = r
	l.activeRequests += additionalRequests
	l.activeLLM += additionalLLM

	l.logger.Debug("reservation granted", map[string]interface{}{
		"reservation_id": r.ID, "tool": toolName,
		"requests": additionalRequests, "llm": additionalLLM,
	})
	return r, nil
}

// ReserveOrWaitOptions parameterizes ReserveOrWait.
type ReserveOrWaitOptions struct {
	ToolName            string
	TenantKey           string
	AdditionalRequests  int
	AdditionalLLM       int
	QueueClass          QueueClass
	Priority            Priority
	Source              string
	MaxWaitMs           int
	PollMs              int
}

// ReserveOrWait tries immediate admission; on denial it enqueues a
// QueueEntry and polls until capacity frees, the context is cancelled, or
// maxWaitMs elapses.
func (l *Ledger) ReserveOrWait(ctx context.Context, opts ReserveOrWaitOptions) (*Reservation, error) {
	if r, err := l.TryReserve(opts.ToolName, opts.AdditionalRequests, opts.AdditionalLLM); err == nil {
		return r, nil
	}

	pollMs := opts.PollMs
	if pollMs <= 0 {
		pollMs = l.limits.CapacityPollMs
	}
	if pollMs <= 0 {
		pollMs = 200
	}
	maxWaitMs := opts.MaxWaitMs
	if maxWaitMs <= 0 {
		maxWaitMs = l.limits.CapacityWaitMs
	}

	entry := &QueueEntry{
		ID:                 nextReservationID(),
		QueueClass:         opts.QueueClass,
		TenantKey:          opts.TenantKey,
		ToolName:           opts.ToolName,
		AdditionalRequests: opts.AdditionalRequests,
		AdditionalLLM:      opts.AdditionalLLM,
		Priority:           opts.Priority,
		CreatedAt:          time.Now(),
		Source:             opts.Source,
	}

	l.mu.Lock()
	evicted := l.queue.Insert(entry)
	l.mu.Unlock()
	if evicted == entry {
		return nil, core.NewFrameworkError("ledger.reserveOrWait", core.KindCapacityUnavailable, core.ErrCapacityUnavailable)
	}

	deadline := time.Now().Add(time.Duration(maxWaitMs) * time.Millisecond)
	ticker := time.NewTicker(time.Duration(pollMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.queue.Remove(entry)
			l.mu.Unlock()
			return nil, core.NewFrameworkError("ledger.reserveOrWait", core.KindCancelled, ctx.Err())
		case <-ticker.C:
			l.mu.Lock()
			r, admitErr := l.tryReserveLocked(opts.ToolName, opts.AdditionalRequests, opts.AdditionalLLM)
			if admitErr == nil {
				l.queue.Remove(entry)
				l.mu.Unlock()
				return r, nil
			}
			if maxWaitMs > 0 && time.Now().After(deadline) {
				l.queue.Remove(entry)
				l.mu.Unlock()
				return nil, core.NewFrameworkError("ledger.reserveOrWait", core.KindTimeout, core.ErrTimeout)
			}
			entry.SkipCount++
			l.mu.Unlock()
		}
	}
}

// Consume marks a reservation as actively in use (the worker has started
// invoking the LLM). It does not change counters — those were already
// reserved at grant time — only the bookkeeping timestamp.
func (l *Ledger) Consume(r *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.ConsumedAtMs == 0 {
		r.ConsumedAtMs = nowMs()
	}
}

// Heartbeat refreshes a reservation's liveness, extending its expiry so
// long-running work isn't swept out from under it.
func (l *Ledger) Heartbeat(r *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reservations[r.ID]; !ok {
		return // already released/swept; heartbeat on a stale reservation is a no-op
	}
	r.HeartbeatAtMs = nowMs()
	r.ExpiresAtMs = r.HeartbeatAtMs + l.expiry().Milliseconds()
}

// Release returns a reservation's slots to the pool. Double-release and
// release of an already-swept reservation are both no-ops — counters
// never go negative.
func (l *Ledger) Release(r *Reservation) {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(r)
}

func (l *Ledger) releaseLocked(r *Reservation) {
	delete(l.reservations, r.ID)
	l.activeRequests = clampNonNegative(l.activeRequests - r.AdditionalRequests)
	l.activeLLM = clampNonNegative(l.activeLLM - r.AdditionalLLM)
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// SweepExpired force-releases every reservation whose expiry has passed
// as of now, returning the ones it reclaimed. The Reservation Sweeper
// calls this on a timer; a subsequent Release from the original owner on
// a swept reservation is a no-op via the released flag.
func (l *Ledger) SweepExpired(now time.Time) []*Reservation {
	asOfMs := now.UnixMilli()
	l.mu.Lock()
	defer l.mu.Unlock()

	var swept []*Reservation
	for _, r := range l.reservations {
		if r.IsExpired(asOfMs) {
			swept = append(swept, r)
		}
	}
	for _, r := range swept {
		if r.released.CompareAndSwap(false, true) {
			l.releaseLocked(r)
			l.logger.Warn("reservation swept on expiry", map[string]interface{}{
				"reservation_id": r.ID, "tool": r.ToolName,
			})
		}
	}
	return swept
}

// Snapshot returns the current aggregate state for observers.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservedRequests, reservedLLM := 0, 0
	for _, r := range l.reservations {
		reservedRequests += r.AdditionalRequests
		reservedLLM += r.AdditionalLLM
	}

	tools := make([]string, 0, l.queue.Len())
	for _, e := range l.queue.h.entries {
		tools = append(tools, e.ToolName)
	}

	return Snapshot{
		ActiveRequests:     l.activeRequests,
		ActiveLLM:          l.activeLLM,
		ReservedRequests:   reservedRequests,
		ReservedLLM:        reservedLLM,
		ActiveReservations: len(l.reservations),
		QueuedCount:        l.queue.Len(),
		QueuedToolNames:    tools,
		QueueEvictions:     l.queue.Evictions(),
		Limits:             l.limits,
	}
}
