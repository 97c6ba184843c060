package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/agentrt/core"
)

// Coordinator is the Cross-Instance Coordinator (spec §4.3): it publishes
// this process's own registration on a low-frequency timer and maintains
// an in-memory view of live peers, used to compute per-provider fair
// share and permit stealing an under-utilized peer's unused slots.
// Admission never synchronously reads peer state — it only ever
// consults the in-memory view this background loop refreshes.
type Coordinator struct {
	registry Registry
	logger   core.Logger

	self         *Registration
	pollInterval time.Duration
	deadAfter    time.Duration

	mu         sync.RWMutex
	peers      map[string]*Registration // instanceID -> registration, includes self
	stolenFrom map[string]string        // provider -> victim instanceID, undone when victim re-activates

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Coordinator backed by registry. Call RegisterInstance then
// Start to begin the background refresh loop.
func New(registry Registry, pollInterval, deadAfter time.Duration, logger core.Logger) *Coordinator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/coordinator")
	}
	if pollInterval <= 0 {
		pollInterval = core.DefaultCoordinatorPoll
	}
	if deadAfter <= 0 {
		deadAfter = core.DefaultInstanceDeadAfter
	}

	self := NewRegistration()
	return &Coordinator{
		registry:     registry,
		logger:       logger,
		self:         self,
		pollInterval: pollInterval,
		deadAfter:    deadAfter,
		peers:        map[string]*Registration{self.InstanceID: self},
		stolenFrom:   make(map[string]string),
		stopCh:       make(chan struct{}),
	}
}

// InstanceID returns this process's identity.
func (c *Coordinator) InstanceID() string { return c.self.InstanceID }

// RegisterInstance publishes this process's registration for the first
// time.
func (c *Coordinator) RegisterInstance(ctx context.Context) error {
	return c.registry.Put(ctx, c.self)
}

// UpdateHeartbeat refreshes this process's registration with its current
// per-(provider/model) active counts and republishes it. Filesystem or
// Redis errors degrade the coordinator to single-instance mode rather
// than propagating — per spec §4.3's failure semantics, this must never
// block core progress.
func (c *Coordinator) UpdateHeartbeat(ctx context.Context, activeByModel map[string]int) {
	c.mu.Lock()
	c.self.LastHeartbeatMs = time.Now().UnixMilli()
	c.self.ActiveByModel = activeByModel
	c.mu.Unlock()

	if err := c.registry.Put(ctx, c.self); err != nil {
		c.logger.Warn("heartbeat publish failed, degrading to single-instance view", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Unregister removes this process's registration, e.g. on graceful
// shutdown.
func (c *Coordinator) Unregister(ctx context.Context) error {
	return c.registry.Delete(ctx, c.self.InstanceID)
}

// Start begins the low-frequency background refresh of the peer view
// (default every 2s, per spec §5).
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.refreshPeerView(ctx)
			}
		}
	}()
}

// Stop ends the background refresh loop and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) refreshPeerView(ctx context.Context) {
	regs, err := c.registry.List(ctx)
	if err != nil {
		c.logger.Warn("peer list refresh failed, degrading to single-instance view", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	next := make(map[string]*Registration, len(regs)+1)
	for _, r := range regs {
		next[r.InstanceID] = r
	}

	c.mu.Lock()
	next[c.self.InstanceID] = c.self // always include self even if the registry read raced with our own write
	c.peers = next
	c.mu.Unlock()
}

// LiveInstances returns the instance ids considered alive as of now (spec
// §4.3's T_dead liveness check).
func (c *Coordinator) LiveInstances() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now().UnixMilli()
	var out []string
	for id, r := range c.peers {
		if r.IsLive(now, c.deadAfter) {
			out = append(out, id)
		}
	}
	return out
}

// FairShareFor computes this instance's entitlement for provider given
// its global limit: ceil(limit / liveCount), never less than 1 as long as
// the instance itself is live.
func (c *Coordinator) FairShareFor(provider string, globalLimit int) int {
	n := len(c.LiveInstances())
	if n == 0 {
		n = 1
	}
	share := (globalLimit + n - 1) / n // ceiling division
	if share < 1 {
		share = 1
	}
	return share
}

// CanStartModel reports whether this instance may start one more call to
// (provider, model) given its current active count and the provider's
// declared global limit: either it's within its fair share, or it can
// steal an idle slot from an under-utilized peer.
func (c *Coordinator) CanStartModel(provider, model string, currentActive, globalLimit int) bool {
	share := c.FairShareFor(provider, globalLimit)
	if currentActive < share {
		return true
	}
	return c.TryStealSlot(provider)
}

// TryStealSlot looks for a live peer using less than half its entitlement
// for provider and, if found, records the steal so it can be undone once
// that peer becomes active again. A peer is identified as
// under-utilizing by its own self-reported ActiveByModel totals summed
// across that provider's models.
func (c *Coordinator) TryStealSlot(provider string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, already := c.stolenFrom[provider]; already {
		return true // one outstanding steal per provider at a time
	}

	now := time.Now().UnixMilli()
	n := 0
	for _, r := range c.peers {
		if r.IsLive(now, c.deadAfter) {
			n++
		}
	}
	if n == 0 {
		n = 1
	}

	for id, r := range c.peers {
		if id == c.self.InstanceID || !r.IsLive(now, c.deadAfter) {
			continue
		}
		load := providerLoad(r, provider)
		// half its entitlement is unknown without the global limit here;
		// callers that need the precise half-entitlement check should
		// compare against FairShareFor themselves. As a coordinator-local
		// heuristic, any peer reporting zero load for this provider is
		// treated as steal-eligible.
		if load == 0 {
			c.stolenFrom[provider] = id
			c.logger.Info("stole idle slot from peer", map[string]interface{}{
				"provider": provider, "victim": id,
			})
			return true
		}
	}
	return false
}

func providerLoad(r *Registration, provider string) int {
	total := 0
	prefix := provider + "/"
	for k, v := range r.ActiveByModel {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			total += v
		}
	}
	return total
}

// ClearAllActiveModels resets this instance's tracked active-model counts
// and any outstanding steals, e.g. after a coordinator reset or test
// teardown.
func (c *Coordinator) ClearAllActiveModels() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self.ActiveByModel = make(map[string]int)
	c.stolenFrom = make(map[string]string)
}

// UndoStealIfPeerActive releases a recorded steal for provider once the
// victim peer's own load becomes non-zero again (spec §4.3: "recorded so
// it can be undone if the peer re-activates").
func (c *Coordinator) UndoStealIfPeerActive(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	victim, ok := c.stolenFrom[provider]
	if !ok {
		return
	}
	peer, ok := c.peers[victim]
	if !ok || providerLoad(peer, provider) > 0 {
		delete(c.stolenFrom, provider)
	}
}
