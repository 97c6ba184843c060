package dispatch

import (
	"context"
	"fmt"
	"os"

	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ownership"
)

// errNoCoordinator is returned by every Workflow API method when no
// coordinator/ownership manager is configured (Coordinator.Provider is
// neither "directory" nor "redis", e.g. single-process deployments with
// no cross-instance ownership to arbitrate). Workflow ownership only matters once more than one
// instance can race on the same workflow id.
var errNoCoordinator = core.NewFrameworkError("dispatch.workflow", core.KindValidationFailure,
	fmt.Errorf("workflow ownership is not configured: no coordinator provider set in CoordinatorConfig"))

// UlWorkflowClaim implements ul_workflow_claim: best-effort (non-forcing)
// claim of a workflow id for this instance.
func (r *Runtime) UlWorkflowClaim(ctx context.Context, workflowID string) (bool, error) {
	if r.ownershipMgr == nil {
		return false, errNoCoordinator
	}
	claimed, _, err := r.ownershipMgr.Claim(ctx, workflowID, os.Getpid())
	return claimed, err
}

// UlWorkflowForceClaim implements ul_workflow_force_claim: unconditional
// takeover, overriding a live owner elsewhere.
func (r *Runtime) UlWorkflowForceClaim(ctx context.Context, workflowID string) error {
	if r.ownershipMgr == nil {
		return errNoCoordinator
	}
	return r.ownershipMgr.ForceClaim(ctx, workflowID, os.Getpid())
}

// UlWorkflowRelease implements ul_workflow_release.
func (r *Runtime) UlWorkflowRelease(ctx context.Context, workflowID string) error {
	if r.ownershipMgr == nil {
		return errNoCoordinator
	}
	return r.ownershipMgr.Release(ctx, workflowID)
}

// UlWorkflowCheck implements ul_workflow_check.
func (r *Runtime) UlWorkflowCheck(ctx context.Context, workflowID string) (ownership.Status, error) {
	if r.ownershipMgr == nil {
		return ownership.StatusNotOwned, errNoCoordinator
	}
	return r.ownershipMgr.CheckOwnership(ctx, workflowID)
}
