package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/agentrt/core"
)

// Publisher drives the push side of the Live Monitor: on a fixed tick it
// captures a fresh View from Source and Publishes it to a Hub. The
// ticker-plus-stopCh shape mirrors the Instance Coordinator's own
// background refresh loop (Start/Stop/refreshPeerView).
type Publisher struct {
	source   Source
	hub      *Hub
	interval time.Duration
	now      func() int64
	stopCh   chan struct{}
	wg       sync.WaitGroup
	logger   core.Logger
}

// NewPublisher builds a Publisher. now defaults to a millisecond
// unix-clock reader; tests may override it for determinism. interval
// defaults to one second if non-positive.
func NewPublisher(source Source, hub *Hub, interval time.Duration, now func() int64, logger core.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = defaultNowUnixMs
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/monitor")
	}
	return &Publisher{
		source:   source,
		hub:      hub,
		interval: interval,
		now:      now,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Start begins the background capture-and-publish loop. It returns
// immediately; call Stop to end it.
func (p *Publisher) Start(ctx context.Context) {
	p.tick()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()
}

// Stop ends the background loop and waits for it to exit.
func (p *Publisher) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Publisher) tick() {
	view := p.source.capture(p.now(), p.hub.RecentRuns())
	p.hub.Publish(view)
}

func defaultNowUnixMs() int64 {
	return time.Now().UnixMilli()
}
