// ABOUTME: Core graph model for a workflow run: typed nodes and port-indexed connections.
// ABOUTME: BuildGraph assembles an immutable, validated adjacency view consumed by the scheduler and router.
package weft

import (
	"fmt"
	"sort"
)

// Node is one typed unit of work in a workflow graph. Config is the opaque
// per-node configuration authored in the workflow document; the engine never
// interprets it beyond the well-known keys (timeout, retries, condition,
// maxIterations). Execution results never live on the Node; the run tracker
// owns them.
type Node struct {
	ID          string
	Type        string
	Config      map[string]any
	InputPorts  int
	OutputPorts int
}

// Connection is a directed edge from an output port of one node to an input
// port of another. At most one connection may terminate at a given
// (TargetID, TargetPort) pair; an output port may fan out freely.
type Connection struct {
	ID         string
	SourceID   string
	SourcePort int
	TargetID   string
	TargetPort int
}

// Graph is the immutable node/connection view for one run. Built once by
// BuildGraph and never mutated afterwards; all per-run state lives in the
// tracker.
type Graph struct {
	Name        string
	Nodes       map[string]*Node
	Connections []*Connection

	inbound  map[string]map[int]*Connection   // targetID -> targetPort -> connection
	outbound map[string]map[int][]*Connection // sourceID -> sourcePort -> connections

	// normDiags collects findings discovered while assembling the graph,
	// before the lint rules run (duplicate IDs, slot-count overrides).
	normDiags []Diagnostic
}

// BuildGraph assembles and validates a graph from nodes and connections.
// Port counts are normalized against the registry: a node that declares no
// ports adopts its handler's declared counts, and branch-shaped types are
// forced to exactly two output slots. Returns *ValidationError when any
// error-severity diagnostic fires.
func BuildGraph(name string, nodes []*Node, connections []*Connection, registry *Registry) (*Graph, error) {
	g := assemble(name, nodes, connections, registry)

	if err := ValidateOrError(g, registry); err != nil {
		return nil, err
	}

	for _, c := range connections {
		in := g.inbound[c.TargetID]
		if in == nil {
			in = make(map[int]*Connection)
			g.inbound[c.TargetID] = in
		}
		in[c.TargetPort] = c

		out := g.outbound[c.SourceID]
		if out == nil {
			out = make(map[int][]*Connection)
			g.outbound[c.SourceID] = out
		}
		out[c.SourcePort] = append(out[c.SourcePort], c)
	}

	return g, nil
}

// Lint assembles the graph without failing and returns every diagnostic the
// rules produce. Used by validation surfaces that want warnings as well as
// errors; BuildGraph is the strict entry point.
func Lint(name string, nodes []*Node, connections []*Connection, registry *Registry) []Diagnostic {
	g := assemble(name, nodes, connections, registry)
	return Validate(g, registry)
}

// assemble builds the node map and normalizes ports, recording duplicate IDs
// as diagnostics rather than failing outright.
func assemble(name string, nodes []*Node, connections []*Connection, registry *Registry) *Graph {
	g := &Graph{
		Name:        name,
		Nodes:       make(map[string]*Node, len(nodes)),
		Connections: connections,
		inbound:     make(map[string]map[int]*Connection),
		outbound:    make(map[string]map[int][]*Connection),
	}
	for _, n := range nodes {
		if _, exists := g.Nodes[n.ID]; exists {
			g.normDiags = append(g.normDiags, Diagnostic{
				Rule:     "duplicate-node-id",
				Severity: SeverityError,
				Message:  fmt.Sprintf("node ID %q is declared more than once", n.ID),
				NodeID:   n.ID,
				Fix:      "give every node a unique ID",
			})
			continue
		}
		g.Nodes[n.ID] = n
	}

	normalizePorts(g, registry)
	return g
}

// normalizePorts fills unset port counts from handler declarations and pins
// slotted types to two outputs. Runs before validation so range checks see
// the final counts.
func normalizePorts(g *Graph, registry *Registry) {
	for _, n := range g.Nodes {
		var h Handler
		if registry != nil {
			h = registry.Get(n.Type)
		}
		if h != nil {
			in, out := h.Ports()
			if n.InputPorts == 0 && in >= 0 {
				n.InputPorts = in
			}
			if n.OutputPorts == 0 {
				n.OutputPorts = out
			}
		}
		if isSlotted(n.Type) && n.OutputPorts != slotCount {
			if n.OutputPorts != 0 {
				g.normDiags = append(g.normDiags, Diagnostic{
					Rule:     "branch-outputs",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("node %q declares %d output ports but type %q always has %d; normalized", n.ID, n.OutputPorts, n.Type, slotCount),
					NodeID:   n.ID,
				})
			}
			n.OutputPorts = slotCount
		}
		if n.InputPorts == 0 {
			n.InputPorts = maxInboundPort(g, n.ID) + 1
		}
	}
}

// maxInboundPort returns the highest target port referenced by any connection
// into the node, or -1 when nothing connects to it.
func maxInboundPort(g *Graph, nodeID string) int {
	max := -1
	for _, c := range g.Connections {
		if c.TargetID == nodeID && c.TargetPort > max {
			max = c.TargetPort
		}
	}
	return max
}

// FindNode returns the node with the given ID, or nil if not found.
func (g *Graph) FindNode(id string) *Node {
	if g.Nodes == nil {
		return nil
	}
	return g.Nodes[id]
}

// InboundTo returns the connections terminating at the node, keyed by target
// port. The map is shared; callers must not mutate it.
func (g *Graph) InboundTo(nodeID string) map[int]*Connection {
	return g.inbound[nodeID]
}

// InboundOn returns the single connection into the given input port, or nil.
func (g *Graph) InboundOn(nodeID string, port int) *Connection {
	return g.inbound[nodeID][port]
}

// OutboundFrom returns all connections originating at the node, in stable
// port order.
func (g *Graph) OutboundFrom(nodeID string) []*Connection {
	byPort := g.outbound[nodeID]
	if len(byPort) == 0 {
		return nil
	}
	ports := make([]int, 0, len(byPort))
	for p := range byPort {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	var result []*Connection
	for _, p := range ports {
		result = append(result, byPort[p]...)
	}
	return result
}

// OutboundOn returns the connections fanning out from one output port.
func (g *Graph) OutboundOn(nodeID string, port int) []*Connection {
	return g.outbound[nodeID][port]
}

// NodeIDs returns all node IDs in sorted order for deterministic output.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
