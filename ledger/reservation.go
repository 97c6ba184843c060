// Package ledger implements the Capacity Ledger and Priority Queue: the
// single source of truth for "may I start?" admission decisions, and the
// ordered waiting room for callers who can't start yet.
package ledger

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

func nextReservationID() string {
	return "resv-" + uuid.New().String()
}

// Reservation is a grant of future resource against the ledger's totals.
// Once granted it holds its slots until Release (or an expiry sweep)
// returns them; Consume only records when the work started.
type Reservation struct {
	ID                 string
	ToolName           string
	AdditionalRequests int
	AdditionalLLM      int
	CreatedAtMs        int64
	HeartbeatAtMs      int64
	ExpiresAtMs        int64
	ConsumedAtMs       int64 // zero until Consume

	released atomic.Bool
}

func nowMs() int64 { return time.Now().UnixMilli() }

func newReservation(toolName string, additionalRequests, additionalLLM int, expiry time.Duration) *Reservation {
	now := nowMs()
	return &Reservation{
		ID:                 nextReservationID(),
		ToolName:           toolName,
		AdditionalRequests: additionalRequests,
		AdditionalLLM:      additionalLLM,
		CreatedAtMs:        now,
		HeartbeatAtMs:      now,
		ExpiresAtMs:        now + expiry.Milliseconds(),
	}
}

// IsConsumed reports whether Consume has been called on this reservation.
func (r *Reservation) IsConsumed() bool {
	return r.ConsumedAtMs != 0
}

// IsExpired reports whether asOfMs is past this reservation's expiry.
func (r *Reservation) IsExpired(asOfMs int64) bool {
	return asOfMs >= r.ExpiresAtMs
}
