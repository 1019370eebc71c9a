// ABOUTME: Cycle detection and edge classification run before scheduling.
// ABOUTME: Splits connections into ordinary and loop edges; any unsanctioned cycle aborts the run.
package weft

import (
	"fmt"
	"sort"
	"strings"
)

// EdgeClassification partitions a graph's connections for the scheduler.
// Ordinary edges form the dependency view; loop edges are invisible to
// readiness and only the loop controller acts on them.
type EdgeClassification struct {
	Ordinary []*Connection
	Loop     []*Connection

	loopSet map[*Connection]bool
}

// IsLoop reports whether the connection was classified as a loop edge.
func (ec *EdgeClassification) IsLoop(c *Connection) bool {
	return ec.loopSet[c]
}

// HardCycleError reports a cycle that no loop-construct node sanctions.
// Nodes holds the sorted IDs of every node on the offending cycle.
type HardCycleError struct {
	Nodes []string
}

func (e *HardCycleError) Error() string {
	return fmt.Sprintf("hard cycle involving nodes: %s", strings.Join(e.Nodes, ", "))
}

// Classify splits the graph's connections into ordinary and loop edges, then
// verifies the ordinary edges alone form a DAG. A connection into a
// loop-construct node is a loop edge when the loop node can reach the
// connection's source without it; the classification is therefore a property
// of the graph, not of any particular traversal order. Returns
// *HardCycleError when a cycle survives loop-edge removal.
func Classify(g *Graph) (*EdgeClassification, error) {
	ec := &EdgeClassification{loopSet: make(map[*Connection]bool)}

	for _, c := range g.Connections {
		target := g.FindNode(c.TargetID)
		if target == nil || !isLoopType(target.Type) {
			continue
		}
		if reaches(g, c.TargetID, c.SourceID, c) {
			ec.Loop = append(ec.Loop, c)
			ec.loopSet[c] = true
		}
	}

	for _, c := range g.Connections {
		if !ec.loopSet[c] {
			ec.Ordinary = append(ec.Ordinary, c)
		}
	}

	if cycle := findHardCycle(g, ec.loopSet); cycle != nil {
		return nil, &HardCycleError{Nodes: cycle}
	}
	return ec, nil
}

// reaches reports whether from can reach to following every connection
// except skip. A node trivially reaches itself.
func reaches(g *Graph, from, to string, skip *Connection) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	frontier := []string{from}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, c := range g.OutboundFrom(id) {
			if c == skip || seen[c.TargetID] {
				continue
			}
			if c.TargetID == to {
				return true
			}
			seen[c.TargetID] = true
			frontier = append(frontier, c.TargetID)
		}
	}
	return false
}

// findHardCycle runs a three-color depth-first walk over the graph with loop
// edges removed and returns the sorted node IDs of the first cycle found, or
// nil when the remaining edges form a DAG.
func findHardCycle(g *Graph, loopSet map[*Connection]bool) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.Nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, c := range g.OutboundFrom(id) {
			if loopSet[c] {
				continue
			}
			switch color[c.TargetID] {
			case grey:
				cycle = extractCycle(stack, c.TargetID)
				return true
			case white:
				if visit(c.TargetID) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.NodeIDs() {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// extractCycle slices the DFS stack from the first occurrence of start and
// sorts the result for a stable error message.
func extractCycle(stack []string, start string) []string {
	idx := 0
	for i, id := range stack {
		if id == start {
			idx = i
			break
		}
	}
	cycle := append([]string(nil), stack[idx:]...)
	sort.Strings(cycle)
	return cycle
}
