// ABOUTME: Loop controller: bounded re-admission of loop bodies fed by loop edges.
// ABOUTME: Only this file and cycle.go know which node types are loop constructs.
package weft

import (
	"context"
	"fmt"
	"sort"
)

// DefaultLoopIterations bounds a loop node whose config declares no
// maxIterations. A loop always terminates even when its continuation
// condition never fails.
const DefaultLoopIterations = 10

// loopTypes are the node types that sanction a back-edge. A connection into
// one of these from a node it can reach is a loop edge, not a hard cycle.
var loopTypes = map[string]bool{
	"loop":      true,
	"loop-node": true,
}

func isLoopType(nodeType string) bool {
	return loopTypes[nodeType]
}

// LoopHandler passes its input through unchanged. Iteration counting and
// body re-admission live in the loop controller, not the handler.
type LoopHandler struct{}

func (h *LoopHandler) Type() string { return "loop" }

func (h *LoopHandler) Ports() (int, int) { return -1, 1 }

func (h *LoopHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return inv.FirstInput(), nil
}

// LoopContext tracks one loop construct's progress through its iterations.
// Re-initialized for every run.
type LoopContext struct {
	Iteration     int
	MaxIterations int
}

// loopState is the controller's view of one loop construct.
type loopState struct {
	node    *Node
	edges   []*Connection
	body    []string
	bodySet map[string]bool
	ctx     LoopContext
	frozen  bool
}

// admission is a loop-edge delivery waiting for its body to go quiescent.
type admission struct {
	state *loopState
	conn  *Connection
	value any
}

// loopController intercepts deliveries that cross a loop boundary. Loop-edge
// deliveries become iteration admissions; body-to-outside deliveries are held
// until the loop freezes so downstream nodes only ever see final values.
type loopController struct {
	graph   *Graph
	tracker *tracker
	loops   map[string]*loopState
	held    map[*Connection]delivery
	pending []admission
}

// newLoopController computes each loop's body and iteration bound. The body
// of a loop node is every node on a path from the loop node back to a loop
// edge's source. Overlapping bodies are rejected: two loops sharing a node
// could not honor the one-iteration-in-flight rule.
func newLoopController(g *Graph, class *EdgeClassification, t *tracker, defaultMax int) (*loopController, error) {
	if defaultMax < 1 {
		defaultMax = DefaultLoopIterations
	}
	lc := &loopController{
		graph:   g,
		tracker: t,
		loops:   make(map[string]*loopState),
		held:    make(map[*Connection]delivery),
	}

	byLoop := make(map[string][]*Connection)
	for _, c := range class.Loop {
		byLoop[c.TargetID] = append(byLoop[c.TargetID], c)
	}

	owner := make(map[string]string)
	for loopID, edges := range byLoop {
		node := g.FindNode(loopID)
		ls := &loopState{
			node:    node,
			edges:   edges,
			bodySet: make(map[string]bool),
			ctx:     LoopContext{MaxIterations: defaultMax},
		}
		if raw, ok := node.Config["maxIterations"]; ok {
			if max, numOK := asInt(raw); numOK && max >= 1 {
				ls.ctx.MaxIterations = max
			}
		}
		for _, edge := range edges {
			for _, id := range bodyNodes(g, loopID, edge) {
				ls.bodySet[id] = true
			}
		}
		for id := range ls.bodySet {
			if other, taken := owner[id]; taken {
				return nil, &ValidationError{Diagnostics: []Diagnostic{{
					Rule:     "overlapping-loops",
					Severity: SeverityError,
					Message:  fmt.Sprintf("node %q belongs to the bodies of loops %q and %q", id, other, loopID),
					NodeID:   id,
					Fix:      "restructure so each node is inside at most one loop",
				}}}
			}
			owner[id] = loopID
			ls.body = append(ls.body, id)
		}
		sort.Strings(ls.body)
		lc.loops[loopID] = ls
	}
	return lc, nil
}

// bodyNodes returns the nodes on any path from the loop node to the loop
// edge's source, following every connection except the loop edge itself.
func bodyNodes(g *Graph, loopID string, edge *Connection) []string {
	var body []string
	for id := range g.Nodes {
		if reaches(g, loopID, id, edge) && reaches(g, id, edge.SourceID, edge) {
			body = append(body, id)
		}
	}
	return body
}

// bodyOf returns the loop state whose body contains the node, or nil.
func (lc *loopController) bodyOf(nodeID string) *loopState {
	for _, ls := range lc.loops {
		if ls.bodySet[nodeID] {
			return ls
		}
	}
	return nil
}

// intercept claims deliveries the scheduler must not see yet. A loop-edge
// delivery queues an admission; a delivery escaping an active loop body is
// held until the loop freezes. Returns false for deliveries the run loop
// should bind immediately.
func (lc *loopController) intercept(d delivery) bool {
	if ls, isLoop := lc.loopEdgeState(d.conn); isLoop {
		if !ls.frozen {
			lc.pending = append(lc.pending, admission{state: ls, conn: d.conn, value: d.value})
		}
		return true
	}
	src := lc.bodyOf(d.conn.SourceID)
	if src != nil && !src.frozen && !src.bodySet[d.conn.TargetID] {
		lc.held[d.conn] = d
		return true
	}
	return false
}

func (lc *loopController) loopEdgeState(c *Connection) (*loopState, bool) {
	ls := lc.loops[c.TargetID]
	if ls == nil {
		return nil, false
	}
	for _, edge := range ls.edges {
		if edge == c {
			return ls, true
		}
	}
	return nil, false
}

// processAdmissions acts on queued loop-edge deliveries whose bodies have
// gone quiescent. Each admission either resets the body for another pass or
// freezes the loop. Admissions for busy bodies stay queued; only one
// iteration of a body is ever in flight.
func (lc *loopController) processAdmissions() {
	var remaining []admission
	for _, adm := range lc.pending {
		ls := adm.state
		if ls.frozen {
			continue
		}
		if lc.tracker.anyExecuting(ls.body) {
			remaining = append(remaining, adm)
			continue
		}

		ls.ctx.Iteration++
		cond := ""
		if s, ok := ls.node.Config["condition"].(string); ok {
			cond = s
		}
		if ls.ctx.Iteration < ls.ctx.MaxIterations && EvaluateCondition(cond, adm.value) {
			reason := fmt.Sprintf("loop iteration %d", ls.ctx.Iteration+1)
			lc.tracker.resetForIteration(ls.body, func(sourceID string) bool {
				return ls.bodySet[sourceID]
			}, reason)
			lc.tracker.deliver(adm.conn.TargetID, adm.conn.TargetPort, adm.value, adm.conn.SourceID)
			lc.tracker.shadowDelivered(adm.conn.TargetID, adm.conn.TargetPort, adm.value)
		} else {
			lc.freeze(ls, true)
		}
	}
	lc.pending = remaining
}

// freeze ends a loop's iterations. With release set, deliveries held at the
// body boundary reach their targets so execution proceeds past the loop exit.
func (lc *loopController) freeze(ls *loopState, release bool) {
	if ls.frozen {
		return
	}
	ls.frozen = true
	if !release {
		return
	}
	for conn, d := range lc.held {
		if ls.bodySet[conn.SourceID] {
			lc.tracker.deliver(conn.TargetID, conn.TargetPort, d.value, conn.SourceID)
			delete(lc.held, conn)
		}
	}
}

// drain freezes every still-active loop once the run has no work left,
// releasing held deliveries when the body finished cleanly. Returns true if
// anything changed, in which case the run loop re-evaluates readiness.
func (lc *loopController) drain() bool {
	progressed := false
	for _, ls := range lc.loops {
		if ls.frozen {
			continue
		}
		release := true
		for _, id := range ls.body {
			if lc.tracker.state(id) == StateFailed {
				release = false
				break
			}
		}
		lc.freeze(ls, release)
		progressed = true
	}
	if len(lc.pending) > 0 {
		lc.pending = nil
		progressed = true
	}
	return progressed
}

// contexts returns a snapshot of every loop's iteration progress, keyed by
// loop node ID.
func (lc *loopController) contexts() map[string]LoopContext {
	out := make(map[string]LoopContext, len(lc.loops))
	for id, ls := range lc.loops {
		out[id] = ls.ctx
	}
	return out
}
