package monitor

import (
	"sync"

	"github.com/itsneelabh/agentrt/core"
)

const recentRunsCap = 200

// Hub is the push side of the Live Monitor: it holds the latest View,
// keeps a bounded ring of recent run outcomes, and fans out every
// published View to subscribed channels. The mutex-guarded-map shape
// mirrors the ledger and rate controller's own state-guarding
// convention — there is no pack dependency that fits a lightweight
// in-process pub/sub better than sync primitives; a message broker would
// be the wrong layer for a single-process view model.
type Hub struct {
	mu          sync.Mutex
	latest      View
	subscribers map[chan View]struct{}
	runs        []RunSummary
	logger      core.Logger
}

// NewHub builds an empty Hub. logger defaults to a no-op, component-tagged
// "runtime/monitor".
func NewHub(logger core.Logger) *Hub {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/monitor")
	}
	return &Hub{
		subscribers: make(map[chan View]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new channel that receives every subsequently
// published View. The returned unsubscribe func must be called exactly
// once when the subscriber is done listening. The channel is buffered by
// one and publishes never block on a slow subscriber — a stale reader
// just misses intermediate views and catches up on the next publish.
func (h *Hub) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish stores v as the latest View and offers it to every subscriber
// without blocking.
func (h *Hub) Publish(v View) {
	h.mu.Lock()
	h.latest = v
	for ch := range h.subscribers {
		select {
		case ch <- v:
		default:
			// Drain the stale value first so a slow-but-alive subscriber
			// still converges on the newest view rather than starving.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
	h.mu.Unlock()
}

// Latest returns the most recently published View. The zero View is
// returned if nothing has been published yet.
func (h *Hub) Latest() View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// RecordRun appends a RunSummary to the bounded recent-runs ring, evicting
// the oldest entry once recentRunsCap is exceeded. It does not publish by
// itself — callers typically call RecordRun then Publish a fresh capture.
func (h *Hub) RecordRun(r RunSummary) {
	h.mu.Lock()
	h.runs = append(h.runs, r)
	if len(h.runs) > recentRunsCap {
		h.runs = h.runs[len(h.runs)-recentRunsCap:]
	}
	h.mu.Unlock()
}

// RecentRuns returns a copy of the current recent-runs ring, newest last.
func (h *Hub) RecentRuns() []RunSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RunSummary, len(h.runs))
	copy(out, h.runs)
	return out
}
