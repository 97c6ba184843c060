// Package ratelimit implements the Adaptive Rate Controller: per-
// (provider, model) concurrency caps learned from observed 429s, fed back
// into admission so the Sub-Agent Scheduler can hold a caller back even
// when raw ledger capacity exists.
package ratelimit

import (
	"sync"
	"time"

	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/resilience"
)

// modelState is the per-(provider,model) learned cap, built on
// resilience.SlidingWindow (the same bucket-rotation primitive the
// circuit breaker uses) to observe recent 429s, plus a plain counter of
// consecutive clean successes that drives the additive-increase side —
// the sliding window alone can't tell "K in a row" from "K out of the
// last 1000", so it's tracked separately and reset on any 429.
type modelState struct {
	mu                   sync.Mutex
	window               *resilience.SlidingWindow
	current              int
	ceiling              int
	consecutiveSuccesses int
	active               int
}

// Controller implements spec §4.4's contract: record429, recordSuccess,
// currentMaxConcurrency, shutdown.
type Controller struct {
	mu               sync.RWMutex
	states           map[string]*modelState
	successThreshold int
	decay            time.Duration
	logger           core.Logger
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithSuccessThreshold overrides the default K consecutive-success
// requirement before additive increase (spec default: unspecified K,
// this runtime uses 5).
func WithSuccessThreshold(k int) Option {
	return func(c *Controller) { c.successThreshold = k }
}

// WithDecay overrides T_decay (default 8 minutes per spec §4.4).
func WithDecay(d time.Duration) Option {
	return func(c *Controller) { c.decay = d }
}

// WithLogger attaches a logger, component-tagged "runtime/ratelimit".
func WithLogger(logger core.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New builds a Controller with T_decay and success-threshold defaults
// from spec §4.4, overridable via Option.
func New(opts ...Option) *Controller {
	c := &Controller{
		states:           make(map[string]*modelState),
		successThreshold: 5,
		decay:            core.DefaultAdaptiveDecay,
		logger:           &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if cal, ok := c.logger.(core.ComponentAwareLogger); ok {
		c.logger = cal.WithComponent("runtime/ratelimit")
	}
	return c
}

func (c *Controller) getOrCreate(provider, model string, ceiling int) *modelState {
	key := statesKey(provider, model)

	c.mu.RLock()
	st, ok := c.states[key]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[key]; ok {
		return st
	}
	st = &modelState{
		window:  resilience.NewSlidingWindow(c.decay, 16, true),
		current: ceiling,
		ceiling: ceiling,
	}
	if st.current < 1 {
		st.current = 1
	}
	c.states[key] = st
	return st
}

func statesKey(provider, model string) string { return provider + "/" + model }

// Record429 applies multiplicative decrease: current = max(1, floor(current * 0.5)).
func (c *Controller) Record429(provider, model string, ceiling int) {
	st := c.getOrCreate(provider, model, ceiling)

	st.mu.Lock()
	st.window.RecordFailure()
	st.consecutiveSuccesses = 0
	before := st.current
	st.current = before / 2
	if st.current < 1 {
		st.current = 1
	}
	after := st.current
	st.mu.Unlock()

	if after != before {
		c.logger.Warn("rate limit observed, reducing concurrency cap", map[string]interface{}{
			"provider": provider, "model": model,
			"previous_cap": before, "new_cap": after,
		})
	}
}

// RecordSuccess records a clean call and, once successThreshold
// consecutive successes accumulate since the last 429, applies additive
// increase: current = min(ceiling, current + 1).
func (c *Controller) RecordSuccess(provider, model string, ceiling int) {
	st := c.getOrCreate(provider, model, ceiling)

	st.mu.Lock()
	st.window.RecordSuccess()
	st.ceiling = ceiling
	st.consecutiveSuccesses++

	var before, after int
	promoted := false
	if st.consecutiveSuccesses >= c.successThreshold {
		before = st.current
		if st.current < ceiling {
			st.current++
		}
		after = st.current
		st.consecutiveSuccesses = 0
		promoted = after != before
	}
	st.mu.Unlock()

	if promoted {
		c.logger.Info("sustained success, raising concurrency cap", map[string]interface{}{
			"provider": provider, "model": model,
			"previous_cap": before, "new_cap": after,
		})
	}
}

// TryAcquire reports whether a new call against (provider, model) may
// start given its currently learned concurrency cap, incrementing the
// active count if so. This is the admission-side half of spec §4.4's
// "Interaction with admission": the Sub-Agent Scheduler calls this after
// its ledger reservation is granted and before it invokes the LLM,
// polling until it succeeds (or its wait budget runs out) even when raw
// ledger capacity exists. Pair every successful TryAcquire with a Release.
func (c *Controller) TryAcquire(provider, model string, ceiling int) bool {
	st := c.getOrCreate(provider, model, ceiling)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active >= st.current {
		return false
	}
	st.active++
	return true
}

// Release returns a slot acquired via TryAcquire. Releasing a
// (provider, model) pair that was never acquired (or already fully
// released) is a no-op — active never goes negative.
func (c *Controller) Release(provider, model string) {
	c.mu.RLock()
	st, ok := c.states[statesKey(provider, model)]
	c.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if st.active > 0 {
		st.active--
	}
	st.mu.Unlock()
}

// CurrentMaxConcurrency returns the learned cap for (provider, model). A
// model never observed before starts at ceiling (optimistic default —
// restricting to 1 on first sight would make every cold model pay a
// needless warm-up penalty).
func (c *Controller) CurrentMaxConcurrency(provider, model string, ceiling int) int {
	st := c.getOrCreate(provider, model, ceiling)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// Shutdown releases all tracked state. The Controller holds no external
// resources (the sliding windows are pure in-memory), so this only clears
// the map for a clean restart in long-lived hosts.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = make(map[string]*modelState)
}

// ModelLimit is one (provider, model)'s learned concurrency cap, as
// exposed by the Introspection API's pi_model_limits (spec §6).
type ModelLimit struct {
	Provider string
	Model    string
	Current  int
	Ceiling  int
}

// Snapshot lists the current learned cap for every (provider, model) the
// Controller holds state for: any pair passed to Record429, RecordSuccess,
// TryAcquire or CurrentMaxConcurrency since creation or the last Shutdown.
func (c *Controller) Snapshot() []ModelLimit {
	c.mu.RLock()
	keys := make([]string, 0, len(c.states))
	states := make([]*modelState, 0, len(c.states))
	for k, st := range c.states {
		keys = append(keys, k)
		states = append(states, st)
	}
	c.mu.RUnlock()

	limits := make([]ModelLimit, 0, len(keys))
	for i, key := range keys {
		provider, model := splitStatesKey(key)
		st := states[i]
		st.mu.Lock()
		limits = append(limits, ModelLimit{Provider: provider, Model: model, Current: st.current, Ceiling: st.ceiling})
		st.mu.Unlock()
	}
	return limits
}

func splitStatesKey(key string) (provider, model string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
