// ABOUTME: CLI entrypoint for the loom workflow runner with run, validate, serve, watch, dot, and mcp modes.
// ABOUTME: Wires together the weft engine, run service, HTTP server, archive store, and signal handling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/loom/archive"
	"github.com/2389-research/loom/llm"
	loommcp "github.com/2389-research/loom/mcp"
	"github.com/2389-research/loom/render"
	"github.com/2389-research/loom/tui"
	"github.com/2389-research/loom/web"
	"github.com/2389-research/loom/weft"
	"github.com/2389-research/loom/workflow"
)

var version = "dev"

// config holds all CLI configuration parsed from flags and positional arguments.
type config struct {
	serveMode      bool
	port           int
	validateOnly   bool
	watchMode      bool
	dotMode        bool
	mcpMode        bool
	archivePath    string
	retryPolicy    string
	timeout        time.Duration
	baseURL        string
	continueOnSkip bool
	haltOnFailure  bool
	verbose        bool
	showVersion    bool
	workflowFile   string
}

func main() {
	loadDotEnv(".env")

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("loom %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated config.
func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("loom", flag.ContinueOnError)
	fs.BoolVar(&cfg.serveMode, "serve", false, "Start HTTP API server mode")
	fs.IntVar(&cfg.port, "port", 2389, "Server port (default: 2389)")
	fs.BoolVar(&cfg.validateOnly, "validate", false, "Validate workflow without executing")
	fs.BoolVar(&cfg.watchMode, "watch", false, "Run with the interactive terminal monitor")
	fs.BoolVar(&cfg.dotMode, "dot", false, "Print the workflow as Graphviz DOT and exit")
	fs.BoolVar(&cfg.mcpMode, "mcp", false, "Serve workflow tools over MCP stdio")
	fs.StringVar(&cfg.archivePath, "archive", "", "SQLite database for finished run results")
	fs.StringVar(&cfg.retryPolicy, "retry", "none", "Default retry policy: none, standard, aggressive")
	fs.DurationVar(&cfg.timeout, "timeout", 0, "Default per-node execution timeout (0 = none)")
	fs.StringVar(&cfg.baseURL, "base-url", "", "Custom API base URL for the LLM provider")
	fs.BoolVar(&cfg.continueOnSkip, "continue-on-skip", false, "Run downstream nodes with partial inputs")
	fs.BoolVar(&cfg.haltOnFailure, "halt-on-failure", false, "Stop the run at the first node failure")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Print every status event to stderr")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if fs.NArg() > 0 {
		cfg.workflowFile = fs.Arg(0)
	}

	return cfg
}

// run dispatches to the appropriate mode based on the config.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg config) int {
	if cfg.serveMode {
		return runServer(cfg)
	}
	if cfg.mcpMode {
		return runMCP(cfg)
	}

	if cfg.workflowFile == "" {
		printHelp(os.Stderr, version)
		return 0
	}

	if cfg.validateOnly {
		return validateWorkflow(cfg)
	}
	if cfg.dotMode {
		return printDOT(cfg)
	}
	if cfg.watchMode {
		return runWorkflowWithTUI(cfg)
	}
	return runWorkflow(cfg)
}

// buildEngine assembles the engine from CLI flags. The generate handler is
// registered whenever an OpenAI key is available; workflows that never use a
// generate node run fine without one.
func buildEngine(cfg config) *weft.Engine {
	registry := weft.DefaultRegistry()
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		registry.Register(&llm.GenerateHandler{BaseURL: cfg.baseURL})
	}

	var retry weft.RetryPolicy
	switch cfg.retryPolicy {
	case "standard":
		retry = weft.StandardRetry()
	case "aggressive":
		retry = weft.AggressiveRetry()
	default:
		retry = weft.NoRetry()
	}

	engineCfg := weft.EngineConfig{
		Handlers:       registry,
		APIKeys:        map[string]string{"openai": os.Getenv("OPENAI_API_KEY")},
		DefaultTimeout: cfg.timeout,
		DefaultRetry:   retry,
		ContinueOnSkip: cfg.continueOnSkip,
		HaltOnFailure:  cfg.haltOnFailure,
	}
	if cfg.verbose {
		engineCfg.EventCallback = verboseEventPrinter
	}
	return weft.NewEngine(engineCfg)
}

// verboseEventPrinter writes every status change to stderr for -verbose runs.
func verboseEventPrinter(ev weft.StatusChange) {
	line := fmt.Sprintf("[%s] %s -> %s", ev.At.Format("15:04:05"), ev.NodeID, ev.State)
	if ev.Reason != "" {
		line += " (" + ev.Reason + ")"
	}
	if ev.Err != "" {
		line += " error: " + ev.Err
	}
	fmt.Fprintln(os.Stderr, line)
}

// loadGraph reads the workflow file and builds a validated graph against the
// engine's registry.
func loadGraph(cfg config, engine *weft.Engine) (*weft.Graph, error) {
	doc, err := workflow.Load(cfg.workflowFile)
	if err != nil {
		return nil, err
	}
	return doc.ToGraph(engine.Registry())
}

// runWorkflow executes a workflow to completion and prints the result as JSON.
func runWorkflow(cfg config) int {
	engine := buildEngine(cfg)
	graph, err := loadGraph(cfg, engine)
	if err != nil {
		printGraphError(err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := engine.Run(ctx, graph)
	if result == nil {
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		}
		return 1
	}

	if cfg.archivePath != "" {
		if store, openErr := archive.Open(cfg.archivePath); openErr == nil {
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = store.SaveResult(saveCtx, result)
			cancel()
			_ = store.Close()
		} else {
			fmt.Fprintf(os.Stderr, "warning: archive unavailable: %v\n", openErr)
		}
	}

	encoded, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(encoded))

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return 1
	}
	if result.Outcome != weft.OutcomeCompleted {
		return 1
	}
	return 0
}

// runWorkflowWithTUI executes a workflow under the Bubble Tea monitor.
func runWorkflowWithTUI(cfg config) int {
	engine := buildEngine(cfg)
	graph, err := loadGraph(cfg, engine)
	if err != nil {
		printGraphError(err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := engine.Start(ctx, graph)
	if err != nil {
		printGraphError(err)
		return 1
	}

	program := tea.NewProgram(tui.NewModel(run))
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		run.Cancel()
		return 1
	}

	result, runErr := run.Wait()
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return 1
	}
	if result != nil && result.Outcome != weft.OutcomeCompleted {
		return 1
	}
	return 0
}

// validateWorkflow lints the workflow and reports diagnostics without running it.
func validateWorkflow(cfg config) int {
	engine := buildEngine(cfg)
	doc, err := workflow.Load(cfg.workflowFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	diags := doc.Lint(engine.Registry())
	failed := false
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "%s [%s] %s\n", d.Severity, d.Rule, d.Message)
		if d.Fix != "" {
			fmt.Fprintf(os.Stderr, "  fix: %s\n", d.Fix)
		}
		if d.Severity == weft.SeverityError {
			failed = true
		}
	}
	if !failed {
		if graph, gErr := doc.ToGraph(engine.Registry()); gErr == nil {
			if _, cErr := weft.Classify(graph); cErr != nil {
				fmt.Fprintf(os.Stderr, "ERROR %v\n", cErr)
				failed = true
			}
		}
	}

	if failed {
		return 1
	}
	fmt.Println("workflow is valid")
	return 0
}

// printDOT writes the workflow as Graphviz DOT to stdout.
func printDOT(cfg config) int {
	engine := buildEngine(cfg)
	graph, err := loadGraph(cfg, engine)
	if err != nil {
		printGraphError(err)
		return 1
	}
	fmt.Print(render.ToDOT(graph))
	return 0
}

// runServer starts the HTTP API.
func runServer(cfg config) int {
	engine := buildEngine(cfg)

	var archiver weft.Archiver
	if cfg.archivePath != "" {
		store, err := archive.Open(cfg.archivePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open archive: %v\n", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		archiver = store
	}

	service := weft.NewRunService(engine, archiver)
	server := web.NewServer(service)

	addr := fmt.Sprintf(":%d", cfg.port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("loom %s listening on %s\n", version, addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return 0
}

// runMCP serves workflow tools over MCP stdio.
func runMCP(cfg config) int {
	engine := buildEngine(cfg)

	var archiver weft.Archiver
	if cfg.archivePath != "" {
		store, err := archive.Open(cfg.archivePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open archive: %v\n", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		archiver = store
	}

	service := weft.NewRunService(engine, archiver)
	if err := loommcp.NewServer(service, version).ServeStdio(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// printGraphError renders validation and cycle errors with their detail.
func printGraphError(err error) {
	var validationErr *weft.ValidationError
	if errors.As(err, &validationErr) {
		fmt.Fprintf(os.Stderr, "error: %v\n", validationErr)
		for _, d := range validationErr.Errors() {
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", d.Rule, d.Message)
		}
		return
	}
	var cycleErr *weft.HardCycleError
	if errors.As(err, &cycleErr) {
		fmt.Fprintf(os.Stderr, "error: %v\n", cycleErr)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
