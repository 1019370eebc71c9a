// ABOUTME: Value-shaping handlers: transform, merge, delay, increment, and preview.
// ABOUTME: These cover the plumbing between content sources and sinks in a workflow.
package weft

import (
	"context"
	"strings"
)

// TransformHandler substitutes input values into a template string. The
// token {input} expands to the first delivered input; {<sourceID>} expands
// to the value delivered by that node.
type TransformHandler struct{}

func (h *TransformHandler) Type() string { return "transform" }

func (h *TransformHandler) Ports() (int, int) { return 1, 1 }

func (h *TransformHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	template := inv.ConfigString("template", "{input}")
	out := strings.ReplaceAll(template, "{input}", stringify(inv.FirstInput()))
	for sourceID, v := range inv.Inputs {
		out = strings.ReplaceAll(out, "{"+sourceID+"}", stringify(v))
	}
	return out, nil
}

// MergeHandler collects every delivered input into one value. Modes:
// "array" (default) keeps port order, "concat" joins stringified values
// with a separator, "object" keys values by source node ID.
type MergeHandler struct{}

func (h *MergeHandler) Type() string { return "merge" }

func (h *MergeHandler) Ports() (int, int) { return -1, 1 }

func (h *MergeHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch inv.ConfigString("mode", "array") {
	case "concat":
		sep := inv.ConfigString("separator", "\n")
		var parts []string
		for _, v := range inv.PortInputs {
			if v != nil {
				parts = append(parts, stringify(v))
			}
		}
		return strings.Join(parts, sep), nil
	case "object":
		out := make(map[string]any, len(inv.Inputs))
		for sourceID, v := range inv.Inputs {
			out[sourceID] = v
		}
		return out, nil
	default:
		var out []any
		for _, v := range inv.PortInputs {
			if v != nil {
				out = append(out, v)
			}
		}
		return out, nil
	}
}

// DelayHandler sleeps for the configured duration, then passes its input
// through. The sleep honors cancellation.
type DelayHandler struct{}

func (h *DelayHandler) Type() string { return "delay" }

func (h *DelayHandler) Ports() (int, int) { return 1, 1 }

func (h *DelayHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	d, ok := asDuration(inv.Config["duration"])
	if !ok {
		d = 0
	}
	if err := sleepWithContext(ctx, d); err != nil {
		return nil, err
	}
	return inv.FirstInput(), nil
}

// IncrementHandler adds a step to a numeric input; non-numeric inputs count
// from zero. Used for iteration counters in loop bodies.
type IncrementHandler struct{}

func (h *IncrementHandler) Type() string { return "increment" }

func (h *IncrementHandler) Ports() (int, int) { return 1, 1 }

func (h *IncrementHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	by := 1.0
	if raw, ok := inv.Config["by"]; ok {
		if f, ok := asFloat(raw); ok {
			by = f
		}
	}
	current, _ := asFloat(inv.FirstInput())
	return current + by, nil
}

// PreviewHandler is a sink: it surfaces its input as the node's own value
// for observers and produces no outputs.
type PreviewHandler struct{}

func (h *PreviewHandler) Type() string { return "preview" }

func (h *PreviewHandler) Ports() (int, int) { return 1, 0 }

func (h *PreviewHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return inv.FirstInput(), nil
}

// asFloat coerces the numeric types JSON and YAML decoding produce.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
