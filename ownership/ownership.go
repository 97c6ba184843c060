// Package ownership implements the Workflow Ownership Manager: a
// per-workflow exclusive lock enforced across every instance in the
// Cross-Instance Coordinator's fleet (spec §4.8), so at most one instance
// ever drives a given ulWorkflowId at a time. Grounded on the same
// atomic-write-then-rename discipline the coordinator package already
// uses for its directory registry, layered here over core.KeyValueStore
// so the same manager works unmodified against either the filesystem or
// a Redis-backed store.
package ownership

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/itsneelabh/agentrt/core"
)

const keyPrefix = "ownership/"

// Record is the on-disk shape of spec §3's WorkflowOwnership entity.
type Record struct {
	WorkflowID      string `json:"workflow_id"`
	OwnerInstanceID string `json:"owner_instance_id"`
	OwnerPID        int    `json:"owner_pid"`
	ClaimedAtMs     int64  `json:"claimed_at_ms"`
}

// Status is the result of CheckOwnership.
type Status string

const (
	StatusOwned        Status = "owned"
	StatusNotOwned      Status = "not_owned"
	StatusOwnedByOther Status = "owned_by_other"
)

// LivenessChecker reports which instances the Coordinator currently
// considers live. coordinator.Coordinator satisfies this directly.
type LivenessChecker interface {
	LiveInstances() []string
}

// Manager implements claim/release/checkOwnership/forceClaim over a
// core.KeyValueStore.
type Manager struct {
	store        core.KeyValueStore
	liveness     LivenessChecker
	selfInstance string
	autoClaim    bool
	logger       core.Logger
	auditFunc    func(ctx context.Context, action, workflowID string, details map[string]interface{})
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithAutoClaim toggles automatic transfer of ownership away from a dead
// owner. Default true, matching spec §4.8.
func WithAutoClaim(enabled bool) Option {
	return func(m *Manager) { m.autoClaim = enabled }
}

// WithLogger attaches a logger, component-tagged "runtime/ownership".
func WithLogger(logger core.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithAuditFunc wires a callback invoked whenever ownership transfers
// (workflow_ownership_transferred). Kept as a plain func rather than an
// *audit.Log import to avoid a package cycle risk between ownership and
// audit; dispatch wires a real *audit.Log.Append closure here.
func WithAuditFunc(f func(ctx context.Context, action, workflowID string, details map[string]interface{})) Option {
	return func(m *Manager) { m.auditFunc = f }
}

// New builds a Manager for the given instance, backed by store and
// consulting liveness for auto-claim decisions.
func New(store core.KeyValueStore, liveness LivenessChecker, selfInstanceID string, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		liveness:     liveness,
		selfInstance: selfInstanceID,
		autoClaim:    true,
		logger:       &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if cal, ok := m.logger.(core.ComponentAwareLogger); ok {
		m.logger = cal.WithComponent("runtime/ownership")
	}
	return m
}

func keyFor(workflowID string) string { return keyPrefix + workflowID }

func (m *Manager) load(ctx context.Context, workflowID string) (*Record, error) {
	data, err := m.store.Get(ctx, keyFor(workflowID))
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *Manager) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, keyFor(rec.WorkflowID), data)
}

// isOwnerLive reports whether the owner named in rec is still a live
// instance (per the Coordinator) and, when the owner is this very
// process's instance, whether its recorded pid matches a running
// process. A record from a different instance is trusted to the
// Coordinator's liveness view; pid-checking only makes sense locally.
func (m *Manager) isOwnerLive(rec *Record) bool {
	if m.liveness != nil {
		live := false
		for _, id := range m.liveness.LiveInstances() {
			if id == rec.OwnerInstanceID {
				live = true
				break
			}
		}
		if !live {
			return false
		}
	}
	if rec.OwnerInstanceID == m.selfInstance {
		return processRunning(rec.OwnerPID)
	}
	return true
}

func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes existence
	// without actually sending a signal.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// Claim attempts to take exclusive ownership of workflowID. Returns true
// on success. If an existing owner is live, returns false with a Record
// describing that owner and does not modify the stored record. If the
// existing owner is dead and autoClaim is enabled, ownership transfers
// to this instance and a workflow_ownership_transferred event fires via
// the configured audit func.
func (m *Manager) Claim(ctx context.Context, workflowID string, ownerPID int) (bool, *Record, error) {
	existing, err := m.load(ctx, workflowID)
	if err != nil {
		return false, nil, core.NewFrameworkError("ownership.Claim", core.KindInternal, err)
	}

	if existing != nil && m.isOwnerLive(existing) {
		if existing.OwnerInstanceID == m.selfInstance {
			// Already ours; re-claiming is a no-op success, not contention.
			return true, existing, nil
		}
		return false, existing, nil
	}

	transferred := existing != nil
	rec := &Record{
		WorkflowID:      workflowID,
		OwnerInstanceID: m.selfInstance,
		OwnerPID:        ownerPID,
		ClaimedAtMs:     time.Now().UnixMilli(),
	}
	if err := m.save(ctx, rec); err != nil {
		return false, nil, core.NewFrameworkError("ownership.Claim", core.KindInternal, err)
	}

	if transferred {
		m.logger.Info("workflow ownership transferred", map[string]interface{}{
			"workflow_id":  workflowID,
			"from_instance": existing.OwnerInstanceID,
			"to_instance":   m.selfInstance,
		})
		if m.auditFunc != nil {
			m.auditFunc(ctx, "workflow_ownership_transferred", workflowID, map[string]interface{}{
				"from_instance": existing.OwnerInstanceID,
				"to_instance":   m.selfInstance,
			})
		}
	}
	return true, rec, nil
}

// ForceClaim unconditionally takes ownership regardless of any existing
// live owner (spec §4.8's forceClaim escape hatch).
func (m *Manager) ForceClaim(ctx context.Context, workflowID string, ownerPID int) error {
	rec := &Record{
		WorkflowID:      workflowID,
		OwnerInstanceID: m.selfInstance,
		OwnerPID:        ownerPID,
		ClaimedAtMs:     time.Now().UnixMilli(),
	}
	if err := m.save(ctx, rec); err != nil {
		return core.NewFrameworkError("ownership.ForceClaim", core.KindInternal, err)
	}
	m.logger.Warn("workflow ownership force-claimed", map[string]interface{}{
		"workflow_id": workflowID,
		"instance":    m.selfInstance,
	})
	return nil
}

// Release relinquishes ownership if this instance currently holds it.
// Releasing a workflow this instance doesn't own is a no-op, not an
// error — a late release racing a steal shouldn't clobber the new owner.
func (m *Manager) Release(ctx context.Context, workflowID string) error {
	existing, err := m.load(ctx, workflowID)
	if err != nil {
		return core.NewFrameworkError("ownership.Release", core.KindInternal, err)
	}
	if existing == nil || existing.OwnerInstanceID != m.selfInstance {
		return nil
	}
	if err := m.store.Delete(ctx, keyFor(workflowID)); err != nil {
		return core.NewFrameworkError("ownership.Release", core.KindInternal, err)
	}
	return nil
}

// CheckOwnership reports this instance's relationship to workflowID's
// ownership, applying auto-claim transfer first if the recorded owner
// is no longer live.
func (m *Manager) CheckOwnership(ctx context.Context, workflowID string) (Status, error) {
	existing, err := m.load(ctx, workflowID)
	if err != nil {
		return "", core.NewFrameworkError("ownership.CheckOwnership", core.KindInternal, err)
	}
	if existing == nil {
		return StatusNotOwned, nil
	}
	if m.isOwnerLive(existing) {
		if existing.OwnerInstanceID == m.selfInstance {
			return StatusOwned, nil
		}
		return StatusOwnedByOther, nil
	}

	if !m.autoClaim {
		return StatusNotOwned, nil
	}

	ok, _, err := m.Claim(ctx, workflowID, os.Getpid())
	if err != nil {
		return "", err
	}
	if ok {
		return StatusOwned, nil
	}
	return StatusOwnedByOther, nil
}

// EnforceOwnership is the per-call gate spec §4.8 requires: every
// delegated operation carrying a ulWorkflowId must pass this before
// admission; callers translate a non-nil error directly into
// workflow_owned_by_other without retrying.
func (m *Manager) EnforceOwnership(ctx context.Context, workflowID string) error {
	if workflowID == "" {
		return nil
	}
	status, err := m.CheckOwnership(ctx, workflowID)
	if err != nil {
		return err
	}
	if status == StatusOwnedByOther {
		return core.NewFrameworkError("ownership.EnforceOwnership", core.KindWorkflowOwnedByOther,
			fmt.Errorf("%w: workflow %s", core.ErrWorkflowOwnedByOther, workflowID))
	}
	return nil
}
