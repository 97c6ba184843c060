package ai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/itsneelabh/agentrt/core"
)

// Factory constructs a core.LLMInvoker from an AIConfig and advertises
// whether its provider looks configured in the current environment.
// providers/anthropic and providers/mock each register one of these in
// their package init(), the same self-registration shape the teacher's
// provider packages used, pointed at the simpler LLMInvoker contract.
type Factory interface {
	Name() string
	Priority() int
	Create(config *AIConfig) core.LLMInvoker
	DetectEnvironment() (priority int, available bool)
}

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a Factory under its Name(). A second registration for
// the same name replaces the first.
func Register(f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[f.Name()] = f
}

// MustRegister is Register for use from package init(), matching the
// fail-fast style the rest of the runtime uses for startup wiring.
func MustRegister(f Factory) {
	if f.Name() == "" {
		panic("ai: factory registered with empty name")
	}
	Register(f)
}

// MustInvoker is NewInvoker for callers (typically package-level wiring
// in cmd/agentrtd) that treat a missing/unconfigured provider as a
// startup-fatal condition rather than a recoverable error.
func MustInvoker(name string, config *AIConfig) core.LLMInvoker {
	invoker, err := NewInvoker(name, config)
	if err != nil {
		panic(fmt.Sprintf("ai: failed to create invoker: %v", err))
	}
	return invoker
}

// NewInvoker builds a core.LLMInvoker for the named provider using the
// registered Factory. An empty name auto-detects the highest-priority
// provider whose DetectEnvironment reports available.
func NewInvoker(name string, config *AIConfig) (core.LLMInvoker, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if name != "" && name != string(ProviderAuto) {
		f, ok := registry[name]
		if !ok {
			return nil, core.NewFrameworkError("ai.NewInvoker", core.KindValidationFailure,
				fmt.Errorf("no AI provider registered with name %q", name))
		}
		return f.Create(config), nil
	}

	var candidates []Factory
	for _, f := range registry {
		candidates = append(candidates, f)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority() > candidates[j].Priority() })
	for _, f := range candidates {
		if _, available := f.DetectEnvironment(); available {
			return f.Create(config), nil
		}
	}
	return nil, core.NewFrameworkError("ai.NewInvoker", core.KindValidationFailure,
		fmt.Errorf("no AI provider detected in environment; set an API key or pass an explicit provider name"))
}
