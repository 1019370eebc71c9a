// ABOUTME: Workflow execution engine: readiness-driven dispatch of graph nodes to handlers.
// ABOUTME: One goroutine owns scheduling; nodes execute concurrently and report back over a channel.
package weft

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRunCanceled marks a run ended by cancellation rather than completion.
var ErrRunCanceled = errors.New("run canceled")

// HandlerError wraps a node handler failure with the node it belongs to.
// Handler failures never escape the run loop; they are recorded on the node
// and surface through RunResult and status events.
type HandlerError struct {
	NodeID string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// EngineConfig holds configuration for the workflow execution engine.
type EngineConfig struct {
	Handlers             *Registry            // nil = DefaultRegistry
	APIKeys              map[string]string    // passed through to handler invocations
	DefaultTimeout       time.Duration        // per-node execution timeout (0 = none)
	DefaultRetry         RetryPolicy          // default retry policy (zero = no retries)
	DefaultMaxIterations int                  // loop bound when node config is silent
	ContinueOnSkip       bool                 // run downstream nodes with partial inputs
	HaltOnFailure        bool                 // stop dispatching after the first failure
	EventCallback        func(StatusChange)   // optional synchronous observer
}

// Engine runs workflow graphs. An Engine is reusable; every Start creates an
// independent run with its own tracker and event stream.
type Engine struct {
	config EngineConfig
}

// NewEngine creates a workflow execution engine with the given configuration.
// A nil Handlers registry gets the built-in defaults; the engine never
// mutates its configuration after construction, so it is safe to share
// across goroutines.
func NewEngine(config EngineConfig) *Engine {
	if config.Handlers == nil {
		config.Handlers = DefaultRegistry()
	}
	return &Engine{config: config}
}

// Registry returns the engine's handler registry.
func (e *Engine) Registry() *Registry {
	return e.config.Handlers
}

// Run is the handle for one in-flight or finished workflow run.
type Run struct {
	ID    string
	Graph *Graph

	tracker *tracker
	emitter *emitter
	log     *EventLog
	loops   *loopController
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	result *RunResult
	err    error
}

// Events returns a buffered channel of status changes and a function that
// unsubscribes. The channel closes once the run finishes and every pending
// event has been delivered. A slow consumer loses events rather than
// stalling the run.
func (r *Run) Events(buf int) (<-chan StatusChange, func()) {
	return r.emitter.subscribe(buf)
}

// Log returns the run's append-only event log.
func (r *Run) Log() *EventLog {
	return r.log
}

// Snapshot returns a read-only copy of every node's current result.
func (r *Run) Snapshot() map[string]NodeResult {
	return r.tracker.snapshot()
}

// LoopContexts returns the iteration progress of every loop construct.
func (r *Run) LoopContexts() map[string]LoopContext {
	return r.loops.contexts()
}

// Cancel stops dispatching new nodes and cancels in-flight handlers. Nodes
// caught mid-execution end Failed with a cancellation reason; everything
// still pending settles Skipped.
func (r *Run) Cancel() {
	r.cancel()
}

// Done closes when the run has fully settled and its events have drained.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its result. The error is
// non-nil for cancellation (wrapping ErrRunCanceled and context.Canceled)
// and for halt-on-failure stops; a partial run that drained normally returns
// a nil error with Outcome set to partial.
func (r *Run) Wait() (*RunResult, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Start validates the graph's cycle structure and launches a run. It fails
// fast, before any node executes, on a hard cycle or overlapping loop
// bodies. The run proceeds in the background; use the returned handle to
// observe, cancel, and wait.
func (e *Engine) Start(ctx context.Context, g *Graph) (*Run, error) {
	class, err := Classify(g)
	if err != nil {
		return nil, err
	}

	registry := e.Registry()
	log := NewEventLog()
	em := newEmitter(log, e.config.EventCallback)

	t := newTracker(uuid.NewString(), g, class, e.config.ContinueOnSkip, em)
	loops, err := newLoopController(g, class, t, e.config.DefaultMaxIterations)
	if err != nil {
		em.close()
		em.wait()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:      t.runID,
		Graph:   g,
		tracker: t,
		emitter: em,
		log:     log,
		loops:   loops,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go e.runLoop(runCtx, run, registry)
	return run, nil
}

// Run is the synchronous convenience: Start then Wait.
func (e *Engine) Run(ctx context.Context, g *Graph) (*RunResult, error) {
	run, err := e.Start(ctx, g)
	if err != nil {
		return nil, err
	}
	return run.Wait()
}

// completion is one node's terminal report back to the run loop.
type completion struct {
	nodeID string
	value  any
	err    error
}

// runLoop owns all scheduling for one run. It alone reads readiness, admits
// loop iterations, and dispatches nodes; workers only execute handlers and
// report completions. It exits when no work remains or cancellation has
// drained the in-flight set.
func (e *Engine) runLoop(ctx context.Context, run *Run, registry *Registry) {
	t := run.tracker
	completions := make(chan completion)
	startedAt := time.Now()

	inFlight := 0
	canceled := false
	halted := false
	anyFailed := false
	var haltErr error

	ctxDone := ctx.Done()

	for {
		if !canceled && !halted {
			for _, id := range t.starvedNodes() {
				t.markSkipped(id, "upstream failure")
				e.propagateNever(run, id)
			}

			run.loops.processAdmissions()

			for _, id := range t.readyNodes() {
				node := run.Graph.Nodes[id]
				t.markReady(id)
				inFlight++
				go e.executeNode(ctx, run, registry, node, completions)
			}
		}

		if inFlight == 0 {
			if !canceled && !halted && run.loops.drain() {
				continue
			}
			break
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			// A halt cancels the run context to stop in-flight handlers;
			// that self-cancellation must not relabel the outcome.
			if !halted {
				canceled = true
			}
			run.cancel()
		case c := <-completions:
			inFlight--
			if c.err != nil {
				anyFailed = true
				reason := ""
				switch {
				case errors.Is(c.err, context.Canceled):
					reason = "canceled"
				case errors.Is(c.err, context.DeadlineExceeded):
					reason = "timeout"
				}
				t.markFailed(c.nodeID, &HandlerError{NodeID: c.nodeID, Err: c.err}, reason)
				e.propagateNever(run, c.nodeID)
				if e.config.HaltOnFailure && !canceled {
					halted = true
					haltErr = &HandlerError{NodeID: c.nodeID, Err: c.err}
					run.cancel()
				}
			} else {
				t.markCompleted(c.nodeID, c.value)
				node := run.Graph.Nodes[c.nodeID]
				for _, d := range routeValue(run.Graph, node, c.value) {
					if run.loops.intercept(d) {
						continue
					}
					t.deliver(d.conn.TargetID, d.conn.TargetPort, d.value, d.conn.SourceID)
				}
			}
		}
	}

	var settleReason string
	var runErr error
	var outcome RunOutcome
	switch {
	case canceled:
		settleReason = "run canceled"
		outcome = OutcomeCanceled
		runErr = fmt.Errorf("%w: %w", ErrRunCanceled, context.Canceled)
	case halted:
		settleReason = "run halted on failure"
		outcome = OutcomeFailed
		runErr = fmt.Errorf("run halted: %w", haltErr)
	case anyFailed:
		settleReason = "no value arrived"
		outcome = OutcomePartial
	default:
		settleReason = "no value arrived"
		outcome = OutcomeCompleted
	}
	t.settlePending(settleReason)

	result := &RunResult{
		RunID:      run.ID,
		Workflow:   run.Graph.Name,
		Outcome:    outcome,
		Nodes:      t.snapshot(),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}

	run.mu.Lock()
	run.result = result
	run.err = runErr
	run.mu.Unlock()

	run.emitter.close()
	run.emitter.wait()
	close(run.done)
}

// propagateNever marks every ordinary outbound port of a terminally
// valueless node as unsatisfiable. Loop edges are skipped: a loop that never
// hears its feedback simply freezes at drain time.
func (e *Engine) propagateNever(run *Run, nodeID string) {
	for _, c := range run.Graph.OutboundFrom(nodeID) {
		if _, isLoop := run.loops.loopEdgeState(c); isLoop {
			continue
		}
		run.tracker.markNever(c.TargetID, c.TargetPort)
	}
}

// executeNode runs one node's handler with retry, timeout, and panic
// containment, then reports the terminal outcome over completions. It never
// touches shared state except through the tracker.
func (e *Engine) executeNode(ctx context.Context, run *Run, registry *Registry, node *Node, completions chan<- completion) {
	t := run.tracker
	handler := registry.Get(node.Type)
	if handler == nil {
		completions <- completion{nodeID: node.ID, err: fmt.Errorf("no handler registered for type %q", node.Type)}
		return
	}

	inputs, portInputs := t.inputsFor(node.ID)
	policy := resolveRetryPolicy(node, e.config.DefaultRetry)
	timeout := resolveNodeTimeout(node, e.config.DefaultTimeout)
	shouldRetry := policy.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	var value any
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		t.markExecuting(node.ID, attempt)
		inv := &Invocation{
			RunID:      run.ID,
			Node:       node,
			Config:     node.Config,
			APIKeys:    e.config.APIKeys,
			Inputs:     inputs,
			PortInputs: portInputs,
			Attempt:    attempt,
		}
		value, err = safeExecute(ctx, handler, node, inv, timeout)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			// Run canceled: report the failure without retrying.
			break
		}
		if attempt < policy.MaxAttempts && shouldRetry(err) {
			t.markRetrying(node.ID, attempt, err)
			sleepWithContext(ctx, policy.Backoff.DelayForAttempt(attempt-1))
			continue
		}
		break
	}

	completions <- completion{nodeID: node.ID, value: value, err: err}
}

// safeExecute wraps handler.Execute with the per-node timeout and panic
// recovery, converting panics into errors so a misbehaving handler cannot
// take down the run loop. The stack trace is kept in the error to aid
// debugging.
func safeExecute(ctx context.Context, handler Handler, node *Node, inv *Invocation, timeout time.Duration) (value any, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = fmt.Errorf("handler panic in node %q: %v\n%s", node.ID, r, stack)
			value = nil
		}
	}()
	return handler.Execute(ctx, inv)
}

// sleepWithContext sleeps for the given duration, returning early if the
// context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
