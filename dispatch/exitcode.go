package dispatch

import "github.com/itsneelabh/agentrt/core"

// Process exit codes, spec §6.
const (
	ExitSuccess              = 0
	ExitBadInvocation        = 64
	ExitValidationFailure    = 65
	ExitCapacityTimeout      = 73
	ExitWorkflowOwnedByOther = 75
	ExitCancelled            = 130
)

// ExitCodeFor maps a Delegation/Workflow API error to the process exit
// code cmd/agentrtd should return. A nil error is success. Errors that
// don't classify into one of the spec's named exit conditions fall back
// to ExitValidationFailure, the closest generic "this request could not
// be satisfied" code short of a bad invocation.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch core.Classify(err) {
	case core.KindCapacityUnavailable:
		return ExitCapacityTimeout
	case core.KindWorkflowOwnedByOther:
		return ExitWorkflowOwnedByOther
	case core.KindCancelled:
		return ExitCancelled
	default:
		return ExitValidationFailure
	}
}
