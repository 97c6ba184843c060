// Command agentrtd runs the Agent Runtime Core: either as a long-lived
// daemon serving the Live Monitor over HTTP (the "serve" subcommand), or
// as a one-shot Delegation API call whose exit code follows the runtime's
// own classification of the outcome ("subagent-run" / "team-run").
//
// Environment Variables:
//
//	AGENTRT_WORKSPACE_DIR      - persistent state root (default: .agentrt)
//	AGENTRT_AI_PROVIDER        - explicit LLM provider name, skips auto-detect
//	AGENTRT_TEAMS_DIR          - directory of <teamId>.yaml team definitions
//	AGENTRT_COORDINATOR_PROVIDER - "directory" (default) or "redis"
//	AGENTRT_REDIS_URL          - required when AGENTRT_COORDINATOR_PROVIDER=redis
//	AGENTRT_STABLE_RUNTIME_PROFILE - "true" selects the conservative preset
//	OPENAI_API_KEY / ANTHROPIC_API_KEY - provider auto-detection
//
// Example Usage:
//
//	export OPENAI_API_KEY="sk-..."
//	agentrtd serve -port 8090
//	agentrtd subagent-run -tool research -task "summarize the attached ticket"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itsneelabh/agentrt/ai"
	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/dispatch"
	"github.com/itsneelabh/agentrt/monitor"
	"github.com/itsneelabh/agentrt/subagent"

	// Import AI providers for auto-detection, mirroring the teacher's
	// blank-import-for-registration convention in its orchestration
	// examples.
	_ "github.com/itsneelabh/agentrt/ai/providers/anthropic"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(dispatch.ExitBadInvocation)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "subagent-run":
		os.Exit(runSubagentRun(os.Args[2:]))
	case "team-run":
		os.Exit(runTeamRun(os.Args[2:]))
	case "-h", "-help", "--help", "help":
		usage()
		os.Exit(dispatch.ExitSuccess)
	default:
		usage()
		os.Exit(dispatch.ExitBadInvocation)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `agentrtd is the Agent Runtime Core daemon and CLI.

Usage:
  agentrtd serve [-port 8090] [-monitor-interval 1s]
  agentrtd subagent-run -tool NAME -task "..." [-workflow-id ID]
  agentrtd team-run -team ID -task "..." [-workflow-id ID]`)
}

// buildRuntime assembles the shared Runtime every subcommand wires
// against: config from env, an LLM invoker (explicit provider if
// AGENTRT_AI_PROVIDER is set, auto-detected otherwise), and a
// YAML-file-backed TeamDefinitionLoader rooted at AGENTRT_TEAMS_DIR.
func buildRuntime() (*dispatch.Runtime, error) {
	cfg, err := core.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	invoker, err := ai.NewInvoker(os.Getenv("AGENTRT_AI_PROVIDER"), &ai.AIConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("build AI invoker: %w", err)
	}

	teamsDir := os.Getenv("AGENTRT_TEAMS_DIR")
	if teamsDir == "" {
		teamsDir = "teams"
	}
	teamLoader := newYAMLTeamLoader(teamsDir)

	rt, err := dispatch.New(*cfg, invoker, teamLoader, nil)
	if err != nil {
		return nil, fmt.Errorf("wire runtime: %w", err)
	}
	return rt, nil
}

// runServe starts the Runtime's background loops and exposes the Live
// Monitor over HTTP, blocking until SIGINT/SIGTERM, then draining both
// within a fixed shutdown window before exiting.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 8090, "HTTP port for the Live Monitor endpoint")
	monitorInterval := fs.Duration("monitor-interval", time.Second, "Live Monitor capture interval")
	fs.Parse(args)

	startupStart := time.Now()

	rt, err := buildRuntime()
	if err != nil {
		log.Fatalf("agentrtd: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("agentrtd: start runtime: %v", err)
	}

	ledgerRef, coordinatorRef, rateControllerRef := rt.Monitor()
	hub := monitor.NewHub(nil)
	publisher := monitor.NewPublisher(
		monitor.Source{Ledger: ledgerRef, Coordinator: coordinatorRef, RateController: rateControllerRef},
		hub, *monitorInterval, nil, nil,
	)
	publisher.Start(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: monitor.NewHTTPHandler(hub),
	}

	go func() {
		log.Printf("agentrtd: monitor listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("agentrtd: monitor server error: %v", err)
		}
	}()

	log.Printf("agentrtd: started in %s", time.Since(startupStart))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("agentrtd: shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	publisher.Stop()
	_ = server.Shutdown(shutdownCtx)
	cancel()
	rt.Stop(shutdownCtx)

	log.Println("agentrtd: shutdown complete")
}

// runSubagentRun performs a single subagent_run and returns the spec §6
// process exit code for its outcome.
func runSubagentRun(args []string) int {
	fs := flag.NewFlagSet("subagent-run", flag.ExitOnError)
	tool := fs.String("tool", "", "sub-agent tool/role name")
	task := fs.String("task", "", "task text to delegate")
	workflowID := fs.String("workflow-id", "", "optional workflow id for ownership/audit correlation")
	fs.Parse(args)

	if *task == "" {
		fmt.Fprintln(os.Stderr, "agentrtd subagent-run: -task is required")
		return dispatch.ExitBadInvocation
	}

	rt, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrtd: %v\n", err)
		return dispatch.ExitBadInvocation
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "agentrtd: start runtime: %v\n", err)
		return dispatch.ExitBadInvocation
	}
	defer rt.Stop(ctx)

	result := rt.SubagentRun(ctx, dispatch.SubagentRunRequest{
		Definition: subagent.Definition{ID: *tool, Role: *tool},
		Task:       *task,
		Options:    dispatch.Options{ToolName: *tool, WorkflowID: *workflowID},
	})

	printJSON(result)
	return exitCodeForOutcome(result.Result.Outcome)
}

// exitCodeForOutcome maps a completed subagent run's Outcome to a process
// exit code. A success or partial result still printed something usable,
// so it exits 0; failure, cancellation, and timeout exit non-zero with
// the code the outcome's own classification kind maps to.
func exitCodeForOutcome(outcome subagent.Outcome) int {
	switch outcome.Status {
	case subagent.OutcomeSuccess, subagent.OutcomePartial:
		return dispatch.ExitSuccess
	case subagent.OutcomeCancelled:
		return dispatch.ExitCancelled
	default:
		if outcome.Kind != "" {
			return dispatch.ExitCodeFor(core.NewFrameworkError("agentrtd.subagent-run", outcome.Kind, fmt.Errorf("%s", outcome.Status)))
		}
		return dispatch.ExitValidationFailure
	}
}

// runTeamRun performs a single agent_team_run and returns the spec §6
// process exit code for its outcome.
func runTeamRun(args []string) int {
	fs := flag.NewFlagSet("team-run", flag.ExitOnError)
	teamID := fs.String("team", "", "team id, resolved via AGENTRT_TEAMS_DIR/<team>.yaml")
	task := fs.String("task", "", "task text to delegate")
	workflowID := fs.String("workflow-id", "", "optional workflow id for ownership/audit correlation")
	fs.Parse(args)

	if *teamID == "" || *task == "" {
		fmt.Fprintln(os.Stderr, "agentrtd team-run: -team and -task are required")
		return dispatch.ExitBadInvocation
	}

	rt, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrtd: %v\n", err)
		return dispatch.ExitBadInvocation
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "agentrtd: start runtime: %v\n", err)
		return dispatch.ExitBadInvocation
	}
	defer rt.Stop(ctx)

	result := rt.AgentTeamRun(ctx, dispatch.AgentTeamRunRequest{
		TeamID:  *teamID,
		Task:    *task,
		Options: dispatch.Options{WorkflowID: *workflowID},
	})

	printJSON(result)
	if result.Err != nil {
		return dispatch.ExitCodeFor(result.Err)
	}
	return dispatch.ExitSuccess
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
