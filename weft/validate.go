// ABOUTME: Lint-rule validation for workflow graphs, run before any execution.
// ABOUTME: Defines Severity, Diagnostic, the LintRule interface, the built-in rules, and ValidationError.
package weft

import (
	"fmt"
	"sort"
)

// Severity indicates how serious a validation diagnostic is.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

// String returns the uppercase name of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON encodes the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Diagnostic is a single validation finding.
type Diagnostic struct {
	Rule         string   `json:"rule"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	NodeID       string   `json:"nodeId,omitempty"`
	ConnectionID string   `json:"connectionId,omitempty"`
	Fix          string   `json:"fix,omitempty"`
}

// LintRule is a single validation rule applied to a graph.
type LintRule interface {
	Name() string
	Apply(g *Graph) []Diagnostic
}

// ValidationError reports that a graph failed pre-execution validation.
// Diagnostics carries every finding, warnings included.
type ValidationError struct {
	Diagnostics []Diagnostic
}

// Error returns a summary counting only error-severity diagnostics.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow validation failed with %d error(s)", countErrors(e.Diagnostics))
}

// Errors returns only the error-severity diagnostics.
func (e *ValidationError) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

func countErrors(diags []Diagnostic) int {
	n := 0
	for _, d := range diags {
		if d.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Validate runs the built-in rules plus any extra rules against the graph
// and returns every diagnostic found, sorted by severity then node ID.
func Validate(g *Graph, registry *Registry, extraRules ...LintRule) []Diagnostic {
	rules := builtinRules(registry)
	rules = append(rules, extraRules...)

	diags := append([]Diagnostic(nil), g.normDiags...)
	for _, rule := range rules {
		diags = append(diags, rule.Apply(g)...)
	}

	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].Severity != diags[j].Severity {
			return diags[i].Severity < diags[j].Severity
		}
		return diags[i].NodeID < diags[j].NodeID
	})
	return diags
}

// ValidateOrError runs Validate and converts error-severity findings into a
// *ValidationError. Warnings alone do not fail validation.
func ValidateOrError(g *Graph, registry *Registry, extraRules ...LintRule) error {
	diags := Validate(g, registry, extraRules...)
	if countErrors(diags) > 0 {
		return &ValidationError{Diagnostics: diags}
	}
	return nil
}

// builtinRules returns the default rule set, in application order.
func builtinRules(registry *Registry) []LintRule {
	return []LintRule{
		&edgeEndpointsRule{},
		&portRangeRule{},
		&duplicateInboundRule{},
		&knownTypeRule{registry: registry},
		&conditionSyntaxRule{},
		&loopConfigRule{},
	}
}

// edgeEndpointsRule rejects connections whose source or target node does not exist.
type edgeEndpointsRule struct{}

func (r *edgeEndpointsRule) Name() string { return "edge-endpoints" }

func (r *edgeEndpointsRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, c := range g.Connections {
		if g.FindNode(c.SourceID) == nil {
			diags = append(diags, Diagnostic{
				Rule:         r.Name(),
				Severity:     SeverityError,
				Message:      fmt.Sprintf("connection %q references missing source node %q", c.ID, c.SourceID),
				ConnectionID: c.ID,
				Fix:          "remove the connection or add the missing node",
			})
		}
		if g.FindNode(c.TargetID) == nil {
			diags = append(diags, Diagnostic{
				Rule:         r.Name(),
				Severity:     SeverityError,
				Message:      fmt.Sprintf("connection %q references missing target node %q", c.ID, c.TargetID),
				ConnectionID: c.ID,
				Fix:          "remove the connection or add the missing node",
			})
		}
	}
	return diags
}

// portRangeRule rejects connections whose ports fall outside the declared
// port counts of their endpoints. Runs after port normalization.
type portRangeRule struct{}

func (r *portRangeRule) Name() string { return "port-range" }

func (r *portRangeRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, c := range g.Connections {
		if src := g.FindNode(c.SourceID); src != nil {
			if c.SourcePort < 0 || c.SourcePort >= src.OutputPorts {
				diags = append(diags, Diagnostic{
					Rule:         r.Name(),
					Severity:     SeverityError,
					Message:      fmt.Sprintf("connection %q uses output port %d of node %q, which has %d output port(s)", c.ID, c.SourcePort, c.SourceID, src.OutputPorts),
					NodeID:       c.SourceID,
					ConnectionID: c.ID,
				})
			}
		}
		if tgt := g.FindNode(c.TargetID); tgt != nil {
			if c.TargetPort < 0 || c.TargetPort >= tgt.InputPorts {
				diags = append(diags, Diagnostic{
					Rule:         r.Name(),
					Severity:     SeverityError,
					Message:      fmt.Sprintf("connection %q uses input port %d of node %q, which has %d input port(s)", c.ID, c.TargetPort, c.TargetID, tgt.InputPorts),
					NodeID:       c.TargetID,
					ConnectionID: c.ID,
				})
			}
		}
	}
	return diags
}

// duplicateInboundRule rejects graphs where two connections terminate at the
// same (target, port) pair. Each input port has at most one writer.
type duplicateInboundRule struct{}

func (r *duplicateInboundRule) Name() string { return "duplicate-inbound" }

func (r *duplicateInboundRule) Apply(g *Graph) []Diagnostic {
	type slot struct {
		node string
		port int
	}
	seen := make(map[slot]string)
	var diags []Diagnostic
	for _, c := range g.Connections {
		key := slot{c.TargetID, c.TargetPort}
		if firstID, ok := seen[key]; ok {
			diags = append(diags, Diagnostic{
				Rule:         r.Name(),
				Severity:     SeverityError,
				Message:      fmt.Sprintf("connections %q and %q both feed input port %d of node %q", firstID, c.ID, c.TargetPort, c.TargetID),
				NodeID:       c.TargetID,
				ConnectionID: c.ID,
				Fix:          "route one of the connections to a different port or remove it",
			})
			continue
		}
		seen[key] = c.ID
	}
	return diags
}

// knownTypeRule rejects nodes whose type has no registered handler. The
// registry is closed: unknown types fail at build time, not mid-run.
type knownTypeRule struct {
	registry *Registry
}

func (r *knownTypeRule) Name() string { return "known-type" }

func (r *knownTypeRule) Apply(g *Graph) []Diagnostic {
	if r.registry == nil {
		return nil
	}
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		if r.registry.Get(n.Type) == nil {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %q has unregistered type %q", n.ID, n.Type),
				NodeID:   n.ID,
				Fix:      "register a handler for the type or change the node type",
			})
		}
	}
	return diags
}

// conditionSyntaxRule checks that condition expressions parse.
type conditionSyntaxRule struct{}

func (r *conditionSyntaxRule) Name() string { return "condition-syntax" }

func (r *conditionSyntaxRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		cond, ok := n.Config["condition"].(string)
		if !ok || cond == "" {
			continue
		}
		if !ValidateConditionSyntax(cond) {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %q has malformed condition %q", n.ID, cond),
				NodeID:   n.ID,
				Fix:      "conditions are clauses of the form 'key = value' or 'key != value' joined by '&&'",
			})
		}
	}
	return diags
}

// loopConfigRule checks loop-construct node configuration.
type loopConfigRule struct{}

func (r *loopConfigRule) Name() string { return "loop-config" }

func (r *loopConfigRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		if !isLoopType(n.Type) {
			continue
		}
		raw, ok := n.Config["maxIterations"]
		if !ok {
			continue
		}
		max, numOK := asInt(raw)
		if !numOK || max < 1 {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %q has invalid maxIterations %v; must be a number >= 1", n.ID, raw),
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

// asInt coerces the numeric types JSON and YAML decoding produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	case float32:
		if n == float32(int(n)) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
