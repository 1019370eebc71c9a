// ABOUTME: Converts weft graphs to DOT text and renders to SVG/PNG via graphviz.
// ABOUTME: Provides ToDOT, ToDOTWithStatus (with execution status color overlay), and Render functions.
package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/2389-research/loom/weft"
)

// Status color constants used for node fill colors in status overlay rendering.
const (
	StatusColorCompleted = "#4CAF50" // green
	StatusColorFailed    = "#F44336" // red
	StatusColorExecuting = "#FFC107" // yellow
	StatusColorSkipped   = "#BDBDBD" // light gray
	StatusColorPending   = "#9E9E9E" // gray
)

// ToDOT serializes a weft Graph into valid DOT digraph text. Node order is
// deterministic (sorted by ID) for reproducible output. Branch edges are
// labeled with their slot (yes/no) so the rendered graph reads like the
// canvas.
func ToDOT(g *weft.Graph) string {
	return toDOT(g, nil)
}

// ToDOTWithStatus serializes a Graph to DOT text with fill colors overlaid
// from a node snapshot: green for completed, red for failed, yellow for
// executing, gray for skipped and pending.
func ToDOTWithStatus(g *weft.Graph, nodes map[string]weft.NodeResult) string {
	return toDOT(g, nodes)
}

func toDOT(g *weft.Graph, nodes map[string]weft.NodeResult) string {
	if g == nil {
		return ""
	}

	var buf strings.Builder
	name := g.Name
	if name == "" {
		name = "workflow"
	}
	buf.WriteString(fmt.Sprintf("digraph %q {\n", name))
	buf.WriteString("  rankdir=LR\n")
	buf.WriteString("  node [shape=box, style=rounded]\n")

	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		attrs := []string{fmt.Sprintf("label=%q", nodeLabel(n))}
		if nodes != nil {
			result, known := nodes[id]
			attrs = append(attrs,
				"style=\"rounded,filled\"",
				fmt.Sprintf("fillcolor=%q", statusColor(result, known)),
			)
		}
		buf.WriteString(fmt.Sprintf("  %q [%s]\n", id, strings.Join(attrs, ", ")))
	}

	for _, id := range g.NodeIDs() {
		for _, c := range g.OutboundFrom(id) {
			label := edgeLabel(g.Nodes[id], c)
			if label != "" {
				buf.WriteString(fmt.Sprintf("  %q -> %q [label=%q]\n", c.SourceID, c.TargetID, label))
			} else {
				buf.WriteString(fmt.Sprintf("  %q -> %q\n", c.SourceID, c.TargetID))
			}
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeLabel(n *weft.Node) string {
	if label, ok := n.Config["label"].(string); ok && label != "" {
		return fmt.Sprintf("%s\n(%s)", label, n.Type)
	}
	return fmt.Sprintf("%s\n(%s)", n.ID, n.Type)
}

// edgeLabel names branch slots on two-output nodes. Slot 0 is yes, slot 1 is
// no; single-output fan-out carries no label.
func edgeLabel(source *weft.Node, c *weft.Connection) string {
	if source == nil || source.OutputPorts < 2 {
		return ""
	}
	switch c.SourcePort {
	case 0:
		return "yes"
	case 1:
		return "no"
	default:
		return fmt.Sprintf("port %d", c.SourcePort)
	}
}

func statusColor(result weft.NodeResult, known bool) string {
	if !known {
		return StatusColorPending
	}
	switch result.State {
	case weft.StateCompleted:
		return StatusColorCompleted
	case weft.StateFailed:
		return StatusColorFailed
	case weft.StateExecuting:
		return StatusColorExecuting
	case weft.StateSkipped:
		return StatusColorSkipped
	default:
		return StatusColorPending
	}
}

// Render produces rendered output from a Graph in the specified format.
// Supported formats: "dot" (returns DOT text), "svg", "png" (shell out to
// the graphviz dot command). Returns an error if the format is unsupported
// or graphviz is not installed for svg/png.
func Render(ctx context.Context, g *weft.Graph, format string) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("cannot render nil graph")
	}

	switch format {
	case "dot":
		return []byte(ToDOT(g)), nil
	case "svg", "png":
		return renderWithGraphviz(ctx, ToDOT(g), format)
	default:
		return nil, fmt.Errorf("unsupported format %q: supported formats are dot, svg, png", format)
	}
}

// GraphvizAvailable checks whether the graphviz dot command is installed and reachable.
func GraphvizAvailable() bool {
	_, err := exec.LookPath("dot")
	return err == nil
}

// renderWithGraphviz pipes DOT text to the graphviz dot command and returns the output.
func renderWithGraphviz(ctx context.Context, dotText string, format string) ([]byte, error) {
	if !GraphvizAvailable() {
		return nil, fmt.Errorf("graphviz dot command not found: install graphviz to render %s output", format)
	}

	cmd := exec.CommandContext(ctx, "dot", "-T"+format)
	cmd.Stdin = strings.NewReader(dotText)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("graphviz dot command failed: %w: %s", err, stderr.String())
	}

	return stdout.Bytes(), nil
}
