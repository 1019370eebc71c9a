// ABOUTME: Tests for the port router: broadcast fan-out and two-slot branch routing.
// ABOUTME: Covers slot normalization, nil slots for untaken branches, and fan-out per slot.
package weft

import (
	"testing"
)

func TestRouteValueBroadcast(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "src", Type: "text-input", Config: map[string]any{"text": "x"}},
			{ID: "a", Type: "preview"},
			{ID: "b", Type: "preview"},
		},
		[]*Connection{conn("e1", "src", "a"), conn("e2", "src", "b")},
	)

	out := routeValue(g, g.FindNode("src"), "payload")
	if len(out) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(out))
	}
	for _, d := range out {
		if d.value != "payload" {
			t.Errorf("delivery to %s carries %v, want payload", d.conn.TargetID, d.value)
		}
	}
}

func TestRouteValueSlotted(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "branch", Type: "decision"},
			{ID: "yes", Type: "preview"},
			{ID: "no", Type: "preview"},
		},
		[]*Connection{
			{ID: "e1", SourceID: "branch", SourcePort: 0, TargetID: "yes"},
			{ID: "e2", SourceID: "branch", SourcePort: 1, TargetID: "no"},
		},
	)
	branch := g.FindNode("branch")

	tests := []struct {
		name       string
		value      any
		wantTarget string
		wantValue  any
	}{
		{"yes slot", []any{"v", nil}, "yes", "v"},
		{"no slot", []any{nil, "v"}, "no", "v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := routeValue(g, branch, tt.value)
			if len(out) != 1 {
				t.Fatalf("got %d deliveries, want 1", len(out))
			}
			if out[0].conn.TargetID != tt.wantTarget || out[0].value != tt.wantValue {
				t.Errorf("delivery = %s/%v, want %s/%v", out[0].conn.TargetID, out[0].value, tt.wantTarget, tt.wantValue)
			}
		})
	}
}

func TestRouteValueBothSlots(t *testing.T) {
	// file-input populates both slots; both targets receive a value.
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "file", Type: "file-input"},
			{ID: "raw", Type: "preview"},
			{ID: "lines", Type: "preview"},
		},
		[]*Connection{
			{ID: "e1", SourceID: "file", SourcePort: 0, TargetID: "raw"},
			{ID: "e2", SourceID: "file", SourcePort: 1, TargetID: "lines"},
		},
	)

	out := routeValue(g, g.FindNode("file"), []any{"content", []any{"l1"}})
	if len(out) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(out))
	}
}

func TestRouteValueSlotFanOut(t *testing.T) {
	// One populated slot fanning out to two targets produces two deliveries.
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{
			{ID: "branch", Type: "yes-no"},
			{ID: "a", Type: "preview"},
			{ID: "b", Type: "preview"},
		},
		[]*Connection{
			{ID: "e1", SourceID: "branch", SourcePort: 0, TargetID: "a"},
			{ID: "e2", SourceID: "branch", SourcePort: 0, TargetID: "b"},
		},
	)

	out := routeValue(g, g.FindNode("branch"), []any{"v", nil})
	if len(out) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(out))
	}
}

func TestRouteValueNoOutputs(t *testing.T) {
	registry := buildTestRegistry()
	g := mustGraph(t, registry,
		[]*Node{{ID: "sink", Type: "preview"}}, nil)

	if out := routeValue(g, g.FindNode("sink"), "ignored"); out != nil {
		t.Errorf("sink produced deliveries: %v", out)
	}
}

func TestSlotOutputs(t *testing.T) {
	tests := []struct {
		name  string
		value any
		ports int
		want  []any
	}{
		{"plain value to slot zero", "v", 2, []any{"v", nil}},
		{"slice passes through", []any{"a", "b"}, 2, []any{"a", "b"}},
		{"short slice padded", []any{"a"}, 2, []any{"a", nil}},
		{"long slice truncated", []any{"a", "b", "c"}, 2, []any{"a", "b"}},
		{"nil value", nil, 2, []any{nil, nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slotOutputs(tt.value, tt.ports)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
