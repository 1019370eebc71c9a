// ABOUTME: Tests for the workflow execution engine covering dispatch, branching, failure, and cancellation.
// ABOUTME: Covers linear runs, concurrency ordering, skip propagation, retries, timeouts, and panic containment.
package weft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- Test handler implementation ---

// testHandler is a configurable Handler for testing that returns preset outcomes.
type testHandler struct {
	typeName string
	inputs   int
	outputs  int

	executeFn func(ctx context.Context, inv *Invocation) (any, error)

	mu        sync.Mutex
	callCount int
}

func (h *testHandler) Type() string { return h.typeName }

func (h *testHandler) Ports() (int, int) { return h.inputs, h.outputs }

func (h *testHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	h.mu.Lock()
	h.callCount++
	h.mu.Unlock()
	if h.executeFn != nil {
		return h.executeFn(ctx, inv)
	}
	return inv.FirstInput(), nil
}

func (h *testHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callCount
}

// newValueHandler returns a handler that always succeeds with a fixed value.
func newValueHandler(typeName string, value any) *testHandler {
	return &testHandler{
		typeName: typeName,
		inputs:   -1,
		outputs:  1,
		executeFn: func(ctx context.Context, inv *Invocation) (any, error) {
			return value, nil
		},
	}
}

// newErrorHandler returns a handler that always fails.
func newErrorHandler(typeName string) *testHandler {
	return &testHandler{
		typeName: typeName,
		inputs:   -1,
		outputs:  1,
		executeFn: func(ctx context.Context, inv *Invocation) (any, error) {
			return nil, fmt.Errorf("test execution error")
		},
	}
}

// buildTestRegistry creates a registry with the built-ins plus the given handlers.
func buildTestRegistry(handlers ...Handler) *Registry {
	reg := DefaultRegistry()
	for _, h := range handlers {
		reg.Register(h)
	}
	return reg
}

// mustGraph builds a graph or fails the test.
func mustGraph(t *testing.T, registry *Registry, nodes []*Node, conns []*Connection) *Graph {
	t.Helper()
	g, err := BuildGraph("test", nodes, conns, registry)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	return g
}

// conn is shorthand for a port-0 to port-0 connection.
func conn(id, source, target string) *Connection {
	return &Connection{ID: id, SourceID: source, TargetID: target}
}

func TestNewEngineDefaultsRegistry(t *testing.T) {
	engine := NewEngine(EngineConfig{})
	reg := engine.Registry()
	if reg == nil || reg.Get("text-input") == nil {
		t.Fatal("engine without configured handlers should carry the built-in registry")
	}
	// Handed-out registry is stable: no lazy construction on access.
	if engine.Registry() != reg {
		t.Error("Registry() returned a different instance on a second call")
	}
}

func TestRunLinearWorkflow(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "a", Type: "text-input", Config: map[string]any{"text": "hello"}},
			{ID: "b", Type: "transform", Config: map[string]any{"template": "<{input}>"}},
			{ID: "c", Type: "preview"},
		},
		[]*Connection{conn("e1", "a", "b"), conn("e2", "b", "c")},
	)

	engine := NewEngine(EngineConfig{Handlers: registry})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeCompleted)
	}
	for _, id := range []string{"a", "b", "c"} {
		if result.Nodes[id].State != StateCompleted {
			t.Errorf("node %s state = %v, want completed", id, result.Nodes[id].State)
		}
	}
	if result.Nodes["c"].Value != "<hello>" {
		t.Errorf("node c value = %v, want <hello>", result.Nodes["c"].Value)
	}
	if result.RunID == "" {
		t.Error("result has empty run ID")
	}
}

func TestRunCompletionOrderRespectsDependencies(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "source", Type: "text-input", Config: map[string]any{"text": "x"}},
			{ID: "mid", Type: "transform"},
			{ID: "sink", Type: "preview"},
		},
		[]*Connection{conn("e1", "source", "mid"), conn("e2", "mid", "sink")},
	)

	engine := NewEngine(EngineConfig{Handlers: registry})
	run, err := engine.Start(context.Background(), g)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := run.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	completed := run.Log().Query(EventFilter{States: []ExecutionState{StateCompleted}})
	if len(completed) != 3 {
		t.Fatalf("got %d completed events, want 3", len(completed))
	}
	order := make(map[string]int)
	for i, ev := range completed {
		order[ev.NodeID] = i
	}
	if order["source"] > order["mid"] || order["mid"] > order["sink"] {
		t.Errorf("completion order violates dependencies: %v", order)
	}
}

func TestRunIndependentNodesExecuteConcurrently(t *testing.T) {
	// Two sources that each block until the other has started can only
	// finish if the scheduler dispatches them concurrently.
	var started sync.WaitGroup
	started.Add(2)
	rendezvous := func(ctx context.Context, inv *Invocation) (any, error) {
		started.Done()
		done := make(chan struct{})
		go func() {
			started.Wait()
			close(done)
		}()
		select {
		case <-done:
			return inv.Node.ID, nil
		case <-time.After(5 * time.Second):
			return nil, fmt.Errorf("rendezvous timed out")
		}
	}
	registry := buildTestRegistry(
		&testHandler{typeName: "left", outputs: 1, executeFn: rendezvous},
		&testHandler{typeName: "right", outputs: 1, executeFn: rendezvous},
	)
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "l", Type: "left"},
			{ID: "r", Type: "right"},
			{ID: "join", Type: "merge"},
		},
		[]*Connection{
			{ID: "e1", SourceID: "l", TargetID: "join", TargetPort: 0},
			{ID: "e2", SourceID: "r", TargetID: "join", TargetPort: 1},
		},
	)

	engine := NewEngine(EngineConfig{Handlers: registry})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed; nodes: %+v", result.Outcome, result.Nodes)
	}
}

func TestRunDecisionBranchTaken(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		condition string
		wantYes   ExecutionState
		wantNo    ExecutionState
	}{
		{"condition holds", "ok", "value = ok", StateCompleted, StateSkipped},
		{"condition fails", "bad", "value = ok", StateSkipped, StateCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := buildTestRegistry()
			g := mustGraph(t, registry,
				[]*Node{
					{ID: "a", Type: "text-input", Config: map[string]any{"text": tt.input}},
					{ID: "b", Type: "decision", Config: map[string]any{"condition": tt.condition}},
					{ID: "c", Type: "preview"},
					{ID: "d", Type: "preview"},
				},
				[]*Connection{
					conn("e1", "a", "b"),
					{ID: "e2", SourceID: "b", SourcePort: 0, TargetID: "c"},
					{ID: "e3", SourceID: "b", SourcePort: 1, TargetID: "d"},
				},
			)

			engine := NewEngine(EngineConfig{Handlers: registry})
			result, err := engine.Run(context.Background(), g)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if result.Outcome != OutcomeCompleted {
				t.Errorf("outcome = %q, want completed", result.Outcome)
			}
			if got := result.Nodes["c"].State; got != tt.wantYes {
				t.Errorf("yes-branch node state = %v, want %v", got, tt.wantYes)
			}
			if got := result.Nodes["d"].State; got != tt.wantNo {
				t.Errorf("no-branch node state = %v, want %v", got, tt.wantNo)
			}
		})
	}
}

func TestRunSuffixedBranchTypeRoutesBySlot(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "a", Type: "text-input", Config: map[string]any{"text": "ok"}},
			{ID: "b", Type: "decision-node", Config: map[string]any{"condition": "value = ok"}},
			{ID: "c", Type: "preview"},
			{ID: "d", Type: "preview"},
		},
		[]*Connection{
			conn("e1", "a", "b"),
			{ID: "e2", SourceID: "b", SourcePort: 0, TargetID: "c"},
			{ID: "e3", SourceID: "b", SourcePort: 1, TargetID: "d"},
		},
	)
	if g.FindNode("b").OutputPorts != 2 {
		t.Fatalf("decision-node output ports = %d, want pinned 2", g.FindNode("b").OutputPorts)
	}

	engine := NewEngine(EngineConfig{Handlers: registry})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result.Nodes["c"].State; got != StateCompleted {
		t.Errorf("yes-branch node state = %v, want completed", got)
	}
	if got := result.Nodes["d"].State; got != StateSkipped {
		t.Errorf("no-branch node state = %v, want skipped", got)
	}
}

func TestRunBranchNotTakenSettlesAtDrain(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "a", Type: "text-input", Config: map[string]any{"text": "yes"}},
			{ID: "b", Type: "yes-no"},
			{ID: "c", Type: "preview"},
			{ID: "d", Type: "preview"},
		},
		[]*Connection{
			conn("e1", "a", "b"),
			{ID: "e2", SourceID: "b", SourcePort: 0, TargetID: "c"},
			{ID: "e3", SourceID: "b", SourcePort: 1, TargetID: "d"},
		},
	)

	engine := NewEngine(EngineConfig{Handlers: registry})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	d := result.Nodes["d"]
	if d.State != StateSkipped {
		t.Fatalf("untaken branch target state = %v, want skipped", d.State)
	}
	if d.Reason != "no value arrived" {
		t.Errorf("skip reason = %q, want %q", d.Reason, "no value arrived")
	}
	if result.Nodes["c"].Value != "yes" {
		t.Errorf("taken branch value = %v, want yes", result.Nodes["c"].Value)
	}
}

func TestRunFailureSkipsExclusiveDescendants(t *testing.T) {
	registry := buildTestRegistry(newErrorHandler("boom"))
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "src", Type: "text-input", Config: map[string]any{"text": "x"}},
			{ID: "bad", Type: "boom"},
			{ID: "after-bad", Type: "preview"},
			{ID: "sibling", Type: "transform"},
			{ID: "after-sibling", Type: "preview"},
		},
		[]*Connection{
			conn("e1", "src", "bad"),
			conn("e2", "bad", "after-bad"),
			conn("e3", "src", "sibling"),
			conn("e4", "sibling", "after-sibling"),
		},
	)

	engine := NewEngine(EngineConfig{Handlers: registry})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Outcome != OutcomePartial {
		t.Errorf("outcome = %q, want partial", result.Outcome)
	}
	if result.Nodes["bad"].State != StateFailed {
		t.Errorf("failing node state = %v, want failed", result.Nodes["bad"].State)
	}
	ab := result.Nodes["after-bad"]
	if ab.State != StateSkipped || ab.Reason != "upstream failure" {
		t.Errorf("descendant = %v/%q, want skipped/upstream failure", ab.State, ab.Reason)
	}
	for _, id := range []string{"sibling", "after-sibling"} {
		if result.Nodes[id].State != StateCompleted {
			t.Errorf("unaffected node %s state = %v, want completed", id, result.Nodes[id].State)
		}
	}
	if got := result.Failed(); len(got) != 1 || got[0] != "bad" {
		t.Errorf("Failed() = %v, want [bad]", got)
	}
}

func TestRunHaltOnFailure(t *testing.T) {
	registry := buildTestRegistry(newErrorHandler("boom"))
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "bad", Type: "boom"},
			{ID: "after", Type: "preview"},
		},
		[]*Connection{conn("e1", "bad", "after")},
	)

	engine := NewEngine(EngineConfig{Handlers: registry, HaltOnFailure: true})
	result, err := engine.Run(context.Background(), g)
	if err == nil {
		t.Fatal("expected halt error, got nil")
	}
	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) {
		t.Fatalf("error %v does not wrap HandlerError", err)
	}
	if handlerErr.NodeID != "bad" {
		t.Errorf("HandlerError.NodeID = %q, want bad", handlerErr.NodeID)
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want failed", result.Outcome)
	}
}

func TestRunHaltOnFailureWithNodeInFlight(t *testing.T) {
	blocking := &testHandler{
		typeName: "block",
		inputs:   -1,
		outputs:  1,
		executeFn: func(ctx context.Context, inv *Invocation) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	registry := buildTestRegistry(blocking, newErrorHandler("boom"))
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "bad", Type: "boom"},
			{ID: "slow", Type: "block"},
		},
		nil,
	)

	engine := NewEngine(EngineConfig{Handlers: registry, HaltOnFailure: true})
	result, err := engine.Run(context.Background(), g)
	if err == nil {
		t.Fatal("expected halt error, got nil")
	}
	// The halt stops the in-flight node via cancellation, but the run
	// itself failed; it was not canceled.
	if errors.Is(err, ErrRunCanceled) {
		t.Errorf("halt error %v wraps ErrRunCanceled", err)
	}
	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) {
		t.Fatalf("error %v does not wrap HandlerError", err)
	}
	if handlerErr.NodeID != "bad" {
		t.Errorf("HandlerError.NodeID = %q, want bad", handlerErr.NodeID)
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want failed", result.Outcome)
	}
	if got := result.Nodes["slow"]; got.State != StateFailed || got.Reason != "canceled" {
		t.Errorf("slow = %+v, want failed with canceled reason", got)
	}
}

func TestRunCancellation(t *testing.T) {
	blocking := &testHandler{
		typeName: "block",
		inputs:   -1,
		outputs:  1,
		executeFn: func(ctx context.Context, inv *Invocation) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	registry := buildTestRegistry(blocking)
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "a", Type: "text-input", Config: map[string]any{"text": "x"}},
			{ID: "b", Type: "block"},
			{ID: "c", Type: "preview"},
			{ID: "d", Type: "preview"},
		},
		[]*Connection{conn("e1", "a", "b"), conn("e2", "b", "c"), conn("e3", "b", "d")},
	)

	engine := NewEngine(EngineConfig{Handlers: registry})
	run, err := engine.Start(context.Background(), g)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for b to start executing, then cancel.
	deadline := time.Now().Add(5 * time.Second)
	for run.Snapshot()["b"].State != StateExecuting {
		if time.Now().After(deadline) {
			t.Fatal("node b never started executing")
		}
		time.Sleep(time.Millisecond)
	}
	run.Cancel()

	result, err := run.Wait()
	if !errors.Is(err, ErrRunCanceled) {
		t.Fatalf("Wait error = %v, want ErrRunCanceled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait error %v does not wrap context.Canceled", err)
	}
	if result.Outcome != OutcomeCanceled {
		t.Errorf("outcome = %q, want canceled", result.Outcome)
	}

	b := result.Nodes["b"]
	if b.State != StateFailed || b.Reason != "canceled" {
		t.Errorf("in-flight node = %v/%q, want failed/canceled", b.State, b.Reason)
	}
	for _, id := range []string{"c", "d"} {
		if result.Nodes[id].State != StateSkipped {
			t.Errorf("pending node %s state = %v, want skipped", id, result.Nodes[id].State)
		}
	}
}

func TestRunContextCancellation(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "a", Type: "text-input", Config: map[string]any{"text": "x"}},
			{ID: "slow", Type: "delay", Config: map[string]any{"duration": "30s"}},
		},
		[]*Connection{conn("e1", "a", "slow")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(EngineConfig{Handlers: registry})
	run, err := engine.Start(ctx, g)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.AfterFunc(50*time.Millisecond, cancel)

	result, err := run.Wait()
	if !errors.Is(err, ErrRunCanceled) {
		t.Fatalf("Wait error = %v, want ErrRunCanceled", err)
	}
	if result.Outcome != OutcomeCanceled {
		t.Errorf("outcome = %q, want canceled", result.Outcome)
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	flaky := &testHandler{
		typeName: "flaky",
		inputs:   -1,
		outputs:  1,
		executeFn: func(ctx context.Context, inv *Invocation) (any, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 3 {
				return nil, fmt.Errorf("transient failure %d", n)
			}
			return "recovered", nil
		},
	}
	registry := buildTestRegistry(flaky)
	g := mustGraph(t, registry, []*Node{{ID: "f", Type: "flaky"}}, nil)

	engine := NewEngine(EngineConfig{Handlers: registry, DefaultRetry: RetryPolicy{MaxAttempts: 3}})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Nodes["f"].State != StateCompleted {
		t.Fatalf("node state = %v, want completed", result.Nodes["f"].State)
	}
	if result.Nodes["f"].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Nodes["f"].Attempts)
	}
	if result.Nodes["f"].Value != "recovered" {
		t.Errorf("value = %v, want recovered", result.Nodes["f"].Value)
	}
}

func TestRunRetriesExhausted(t *testing.T) {
	bad := newErrorHandler("boom")
	registry := buildTestRegistry(bad)
	g := mustGraph(t, registry, []*Node{{ID: "b", Type: "boom"}}, nil)

	engine := NewEngine(EngineConfig{Handlers: registry, DefaultRetry: RetryPolicy{MaxAttempts: 3}})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bad.calls() != 3 {
		t.Errorf("handler ran %d times, want 3", bad.calls())
	}
	if result.Nodes["b"].State != StateFailed {
		t.Errorf("node state = %v, want failed", result.Nodes["b"].State)
	}
}

func TestRunNodeRetryConfigOverridesDefault(t *testing.T) {
	bad := newErrorHandler("boom")
	registry := buildTestRegistry(bad)
	g := mustGraph(t, registry,
		[]*Node{{ID: "b", Type: "boom", Config: map[string]any{"retries": 0}}}, nil)

	engine := NewEngine(EngineConfig{Handlers: registry, DefaultRetry: RetryPolicy{MaxAttempts: 4}})
	if _, err := engine.Run(context.Background(), g); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bad.calls() != 1 {
		t.Errorf("handler ran %d times, want 1", bad.calls())
	}
}

func TestRunNodeTimeout(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "a", Type: "text-input", Config: map[string]any{"text": "x"}},
			{ID: "slow", Type: "delay", Config: map[string]any{"duration": "30s", "timeout": "50ms"}},
		},
		[]*Connection{conn("e1", "a", "slow")},
	)

	engine := NewEngine(EngineConfig{Handlers: registry})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	slow := result.Nodes["slow"]
	if slow.State != StateFailed {
		t.Fatalf("node state = %v, want failed", slow.State)
	}
	if slow.Reason != "timeout" {
		t.Errorf("reason = %q, want timeout", slow.Reason)
	}
	if result.Outcome != OutcomePartial {
		t.Errorf("outcome = %q, want partial", result.Outcome)
	}
}

func TestRunContinueOnSkip(t *testing.T) {
	registry := buildTestRegistry(newErrorHandler("boom"))
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "ok", Type: "text-input", Config: map[string]any{"text": "alive"}},
			{ID: "bad", Type: "boom"},
			{ID: "join", Type: "merge", Config: map[string]any{"mode": "concat"}},
		},
		[]*Connection{
			{ID: "e1", SourceID: "ok", TargetID: "join", TargetPort: 0},
			{ID: "e2", SourceID: "bad", TargetID: "join", TargetPort: 1},
		},
	)

	engine := NewEngine(EngineConfig{Handlers: registry, ContinueOnSkip: true})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	join := result.Nodes["join"]
	if join.State != StateCompleted {
		t.Fatalf("join state = %v, want completed; reason %q", join.State, join.Reason)
	}
	if join.Value != "alive" {
		t.Errorf("join value = %v, want alive", join.Value)
	}
}

func TestRunPanicContainment(t *testing.T) {
	panicky := &testHandler{
		typeName: "panicky",
		outputs:  1,
		executeFn: func(ctx context.Context, inv *Invocation) (any, error) {
			panic("handler exploded")
		},
	}
	registry := buildTestRegistry(panicky)
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "p", Type: "panicky"},
			{ID: "after", Type: "preview"},
		},
		[]*Connection{conn("e1", "p", "after")},
	)

	engine := NewEngine(EngineConfig{Handlers: registry})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	p := result.Nodes["p"]
	if p.State != StateFailed {
		t.Fatalf("node state = %v, want failed", p.State)
	}
	if !strings.Contains(p.Error, "handler panic") {
		t.Errorf("error %q does not mention the panic", p.Error)
	}
	if result.Nodes["after"].State != StateSkipped {
		t.Errorf("downstream state = %v, want skipped", result.Nodes["after"].State)
	}
}

func TestRunEmptyGraph(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry, nil, nil)

	engine := NewEngine(EngineConfig{Handlers: registry})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want completed", result.Outcome)
	}
	if len(result.Nodes) != 0 {
		t.Errorf("got %d node results, want 0", len(result.Nodes))
	}
}

func TestStartRejectsHardCycle(t *testing.T) {
	registry := buildTestRegistry()
	nodes := []*Node{
		{ID: "a", Type: "transform"},
		{ID: "b", Type: "transform"},
	}
	conns := []*Connection{conn("e1", "a", "b"), conn("e2", "b", "a")}
	g, err := BuildGraph("cyclic", nodes, conns, registry)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	engine := NewEngine(EngineConfig{Handlers: registry})
	_, err = engine.Start(context.Background(), g)
	var cycleErr *HardCycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Start error = %v, want HardCycleError", err)
	}
}

func TestRunEventCallbackObservesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []StatusChange
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{{ID: "a", Type: "text-input", Config: map[string]any{"text": "x"}}}, nil)

	engine := NewEngine(EngineConfig{
		Handlers: registry,
		EventCallback: func(ev StatusChange) {
			mu.Lock()
			seen = append(seen, ev)
			mu.Unlock()
		},
	})
	run, err := engine.Start(context.Background(), g)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := run.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	states := make([]ExecutionState, 0, len(seen))
	for _, ev := range seen {
		if ev.NodeID == "a" {
			states = append(states, ev.State)
		}
	}
	want := []ExecutionState{StateReady, StateExecuting, StateCompleted}
	if len(states) != len(want) {
		t.Fatalf("got states %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("got states %v, want %v", states, want)
		}
	}
}
