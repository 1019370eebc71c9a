// ABOUTME: Run state tracker: the single source of truth for per-node state within one run.
// ABOUTME: Owns state transitions, input-port bindings, readiness checks, and StatusChange emission.
package weft

import (
	"sort"
	"sync"
	"time"
)

// ExecutionState is the lifecycle state of a node within one run.
type ExecutionState int

const (
	StateIdle ExecutionState = iota
	StateReady
	StateExecuting
	StateCompleted
	StateFailed
	StateSkipped
)

// String returns the lowercase name used in JSON and logs.
func (s ExecutionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final for the run.
func (s ExecutionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkipped
}

// MarshalJSON encodes the state as its string name.
func (s ExecutionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a state from its string name.
func (s *ExecutionState) UnmarshalJSON(b []byte) error {
	name := string(b)
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	switch name {
	case "idle":
		*s = StateIdle
	case "ready":
		*s = StateReady
	case "executing":
		*s = StateExecuting
	case "completed":
		*s = StateCompleted
	case "failed":
		*s = StateFailed
	case "skipped":
		*s = StateSkipped
	default:
		*s = StateIdle
	}
	return nil
}

// NodeResult is an immutable snapshot of one node's outcome within a run.
type NodeResult struct {
	State     ExecutionState `json:"state"`
	Value     any            `json:"value,omitempty"`
	Error     string         `json:"error,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// RunOutcome summarizes how a run ended.
type RunOutcome string

const (
	OutcomeCompleted RunOutcome = "completed" // every node Completed or Skipped
	OutcomePartial   RunOutcome = "partial"   // some nodes Failed, run drained anyway
	OutcomeFailed    RunOutcome = "failed"    // halted on first failure
	OutcomeCanceled  RunOutcome = "canceled"  // stopped by cancellation
)

// RunResult holds the final state of one workflow run.
type RunResult struct {
	RunID      string                `json:"run_id"`
	Workflow   string                `json:"workflow,omitempty"`
	Outcome    RunOutcome            `json:"outcome"`
	Nodes      map[string]NodeResult `json:"nodes"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Failed returns the IDs of nodes that failed, sorted.
func (r *RunResult) Failed() []string {
	var ids []string
	for id, n := range r.Nodes {
		if n.State == StateFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// portStatus tracks what has arrived on one input port.
type portStatus int

const (
	portOpen      portStatus = iota // no ordinary inbound connection; always satisfied
	portWaiting                     // bound, value not yet delivered
	portDelivered                   // value arrived
	portNever                       // source terminally cannot deliver
)

// portBinding is the per-port delivery record. base is what the port resets
// to when a loop iteration clears it.
type portBinding struct {
	base     portStatus
	status   portStatus
	value    any
	sourceID string
}

type nodeRecord struct {
	node      *Node
	state     ExecutionState
	value     any
	err       error
	reason    string
	attempts  int
	startedAt time.Time
	endedAt   time.Time
	ports     []portBinding
}

// tracker is the single source of truth for a run. Every mutation goes
// through its methods; the run loop, workers, and observers never share
// node records directly.
type tracker struct {
	mu             sync.Mutex
	runID          string
	graph          *Graph
	nodes          map[string]*nodeRecord
	continueOnSkip bool
	emitter        *emitter
}

func newTracker(runID string, g *Graph, class *EdgeClassification, continueOnSkip bool, emitter *emitter) *tracker {
	t := &tracker{
		runID:          runID,
		graph:          g,
		nodes:          make(map[string]*nodeRecord, len(g.Nodes)),
		continueOnSkip: continueOnSkip,
		emitter:        emitter,
	}
	for id, n := range g.Nodes {
		rec := &nodeRecord{node: n, state: StateIdle, ports: make([]portBinding, n.InputPorts)}
		for p := range rec.ports {
			conn := g.InboundOn(id, p)
			if conn == nil || class.IsLoop(conn) {
				rec.ports[p] = portBinding{base: portOpen, status: portOpen}
			} else {
				rec.ports[p] = portBinding{base: portWaiting, status: portWaiting}
			}
		}
		t.nodes[id] = rec
	}
	return t
}

// emit records a status change with the event log and subscribers. Callers
// must hold t.mu; the emitter itself never blocks.
func (t *tracker) emit(nodeID string, rec *nodeRecord, attempt int) {
	if t.emitter == nil {
		return
	}
	ev := StatusChange{
		RunID:   t.runID,
		NodeID:  nodeID,
		State:   rec.state,
		Reason:  rec.reason,
		Attempt: attempt,
		At:      time.Now(),
	}
	if rec.state == StateCompleted {
		ev.Value = rec.value
	}
	if rec.err != nil {
		ev.Err = rec.err.Error()
	}
	t.emitter.emit(ev)
}

// markReady transitions an idle node to Ready.
func (t *tracker) markReady(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil || rec.state != StateIdle {
		return
	}
	rec.state = StateReady
	rec.reason = ""
	t.emit(id, rec, 0)
}

// markExecuting transitions a ready node to Executing and stamps the start time.
func (t *tracker) markExecuting(id string, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil || rec.state.Terminal() {
		return
	}
	rec.state = StateExecuting
	rec.attempts = attempt
	if rec.startedAt.IsZero() {
		rec.startedAt = time.Now()
	}
	t.emit(id, rec, attempt)
}

// markRetrying records a retry attempt without changing the node state.
func (t *tracker) markRetrying(id string, attempt int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil {
		return
	}
	rec.attempts = attempt
	prevReason, prevErr := rec.reason, rec.err
	rec.reason = "retrying"
	rec.err = err
	t.emit(id, rec, attempt)
	rec.reason, rec.err = prevReason, prevErr
}

// markCompleted stores the handler value and transitions to Completed.
func (t *tracker) markCompleted(id string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil || rec.state.Terminal() {
		return
	}
	rec.state = StateCompleted
	rec.value = value
	rec.err = nil
	rec.reason = ""
	rec.endedAt = time.Now()
	t.emit(id, rec, rec.attempts)
}

// markFailed records the error and transitions to Failed.
func (t *tracker) markFailed(id string, err error, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil || rec.state.Terminal() {
		return
	}
	rec.state = StateFailed
	rec.err = err
	rec.reason = reason
	rec.endedAt = time.Now()
	t.emit(id, rec, rec.attempts)
}

// markSkipped settles a non-terminal node as Skipped.
func (t *tracker) markSkipped(id, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil || rec.state.Terminal() || rec.state == StateExecuting {
		return
	}
	rec.state = StateSkipped
	rec.reason = reason
	t.emit(id, rec, rec.attempts)
}

// deliver binds a value to an input port. Readiness is recomputed by the run
// loop, not here.
func (t *tracker) deliver(targetID string, port int, value any, sourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[targetID]
	if rec == nil || port < 0 || port >= len(rec.ports) {
		return
	}
	rec.ports[port].status = portDelivered
	rec.ports[port].value = value
	rec.ports[port].sourceID = sourceID
}

// shadowDelivered overwrites the value on every delivered input port of a
// node except keepPort. Used by the loop controller so a re-admitted loop
// node sees the current iteration's value on whichever port its handler reads
// first. Port source IDs stay as bound: the original source still owns the
// port across iteration resets.
func (t *tracker) shadowDelivered(targetID string, keepPort int, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[targetID]
	if rec == nil {
		return
	}
	for p := range rec.ports {
		if p == keepPort || rec.ports[p].status != portDelivered {
			continue
		}
		rec.ports[p].value = value
	}
}

// markNever records that a port's source can never deliver.
func (t *tracker) markNever(targetID string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[targetID]
	if rec == nil || port < 0 || port >= len(rec.ports) {
		return
	}
	if rec.ports[port].status == portWaiting {
		rec.ports[port].status = portNever
	}
}

// starvedNodes returns the sorted IDs of idle nodes doomed by a port their
// source can never satisfy. Empty under ContinueOnSkip, where such ports
// count as satisfied instead.
func (t *tracker) starvedNodes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.continueOnSkip {
		return nil
	}
	var starved []string
	for id, rec := range t.nodes {
		if rec.state != StateIdle {
			continue
		}
		for _, p := range rec.ports {
			if p.status == portNever {
				starved = append(starved, id)
				break
			}
		}
	}
	sort.Strings(starved)
	return starved
}

// readyNodes returns the sorted IDs of idle nodes whose every input port is
// satisfied: open ports always are, bound ports once delivered, and never
// ports only under ContinueOnSkip.
func (t *tracker) readyNodes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ready []string
	for id, rec := range t.nodes {
		if rec.state != StateIdle {
			continue
		}
		if t.satisfiedLocked(rec) {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

func (t *tracker) satisfiedLocked(rec *nodeRecord) bool {
	for _, p := range rec.ports {
		switch p.status {
		case portOpen, portDelivered:
		case portNever:
			if !t.continueOnSkip {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// inputsFor assembles the handler's view of a node's inputs: a map keyed by
// source node ID and a positional slice keyed by target port. Ports without
// a delivered value hold nil.
func (t *tracker) inputsFor(id string) (map[string]any, []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil {
		return nil, nil
	}
	inputs := make(map[string]any)
	portInputs := make([]any, len(rec.ports))
	for i, p := range rec.ports {
		if p.status == portDelivered {
			portInputs[i] = p.value
			inputs[p.sourceID] = p.value
		}
	}
	return inputs, portInputs
}

// state returns the node's current execution state.
func (t *tracker) state(id string) ExecutionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil {
		return StateIdle
	}
	return rec.state
}

// valueOf returns the node's completed value.
func (t *tracker) valueOf(id string) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.nodes[id]
	if rec == nil {
		return nil
	}
	return rec.value
}

// resetForIteration returns the given nodes to Idle for another loop pass.
// Port bindings whose source lies inside the loop body revert to their base
// status; deliveries from outside the body survive iterations.
func (t *tracker) resetForIteration(ids []string, insideBody func(sourceID string) bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		rec := t.nodes[id]
		if rec == nil || rec.state == StateExecuting {
			continue
		}
		rec.state = StateIdle
		rec.value = nil
		rec.err = nil
		rec.reason = reason
		rec.attempts = 0
		rec.startedAt = time.Time{}
		rec.endedAt = time.Time{}
		for p := range rec.ports {
			b := &rec.ports[p]
			if b.status == portDelivered || b.status == portNever {
				if b.sourceID == "" || insideBody(b.sourceID) {
					b.status = b.base
					b.value = nil
					b.sourceID = ""
				}
			}
		}
		t.emit(id, rec, 0)
	}
}

// settlePending marks every non-terminal node Skipped. Called when the run
// drains or is canceled so no node is ever left hanging.
func (t *tracker) settlePending(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.sortedIDsLocked() {
		rec := t.nodes[id]
		if rec.state.Terminal() || rec.state == StateExecuting {
			continue
		}
		rec.state = StateSkipped
		rec.reason = reason
		t.emit(id, rec, rec.attempts)
	}
}

func (t *tracker) sortedIDsLocked() []string {
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// snapshot returns a read-only copy of every node's current result.
func (t *tracker) snapshot() map[string]NodeResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]NodeResult, len(t.nodes))
	for id, rec := range t.nodes {
		nr := NodeResult{
			State:    rec.state,
			Value:    rec.value,
			Reason:   rec.reason,
			Attempts: rec.attempts,
		}
		if rec.err != nil {
			nr.Error = rec.err.Error()
		}
		if !rec.startedAt.IsZero() {
			started := rec.startedAt
			nr.StartedAt = &started
		}
		if !rec.endedAt.IsZero() {
			ended := rec.endedAt
			nr.EndedAt = &ended
		}
		out[id] = nr
	}
	return out
}

// anyExecuting reports whether any of the given nodes is currently Executing
// or Ready; used by the loop controller's quiescence check. With no IDs given
// it checks the whole graph.
func (t *tracker) anyExecuting(ids []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ids == nil {
		for _, rec := range t.nodes {
			if rec.state == StateExecuting || rec.state == StateReady {
				return true
			}
		}
		return false
	}
	for _, id := range ids {
		rec := t.nodes[id]
		if rec != nil && (rec.state == StateExecuting || rec.state == StateReady) {
			return true
		}
	}
	return false
}
