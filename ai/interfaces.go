package ai

import (
	"github.com/itsneelabh/agentrt/core"
)

// Ensure OpenAIClient satisfies core.LLMInvoker.
var _ core.LLMInvoker = (*OpenAIClient)(nil)
