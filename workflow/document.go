// ABOUTME: Persisted workflow documents: the JSON/YAML shape produced by the canvas editor.
// ABOUTME: Parses documents and converts them into validated weft graphs.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/loom/weft"
)

// Position is a node's canvas coordinate. The engine ignores it; it is
// carried so documents survive a load/export round trip.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NodeDoc is one node as persisted by the editor. Data is the node's opaque
// config; the well-known keys inputPortCount and outputPortCount override
// the handler's declared ports.
type NodeDoc struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Position Position       `json:"position" yaml:"position"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// ConnectionDoc is one port-indexed edge as persisted by the editor.
type ConnectionDoc struct {
	ID         string `json:"id" yaml:"id"`
	SourceID   string `json:"sourceId" yaml:"sourceId"`
	SourcePort int    `json:"sourcePort" yaml:"sourcePort"`
	TargetID   string `json:"targetId" yaml:"targetId"`
	TargetPort int    `json:"targetPort" yaml:"targetPort"`
}

// Document is a complete persisted workflow.
type Document struct {
	Name        string          `json:"name,omitempty" yaml:"name,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []NodeDoc       `json:"nodes" yaml:"nodes"`
	Connections []ConnectionDoc `json:"connections" yaml:"connections"`
}

// Parse decodes a workflow document from JSON or YAML. Documents starting
// with '{' parse as JSON; everything else parses as YAML.
func Parse(data []byte) (*Document, error) {
	var doc Document
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty workflow document")
	}
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse workflow JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse workflow YAML: %w", err)
		}
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("workflow document has no nodes")
	}
	return &doc, nil
}

// Load reads and parses a workflow document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(strings.TrimSuffix(baseName(path), ".json"), ".yaml")
	}
	return doc, nil
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// ToGraph converts the document into a validated engine graph. Port counts
// come from data overrides when present, otherwise from the registered
// handler's declaration.
func (d *Document) ToGraph(registry *weft.Registry) (*weft.Graph, error) {
	nodes, connections := d.engineShapes()
	return weft.BuildGraph(d.Name, nodes, connections, registry)
}

// Lint runs graph validation without failing, returning every diagnostic.
func (d *Document) Lint(registry *weft.Registry) []weft.Diagnostic {
	nodes, connections := d.engineShapes()
	return weft.Lint(d.Name, nodes, connections, registry)
}

func (d *Document) engineShapes() ([]*weft.Node, []*weft.Connection) {
	nodes := make([]*weft.Node, 0, len(d.Nodes))
	for _, nd := range d.Nodes {
		n := &weft.Node{
			ID:     nd.ID,
			Type:   nd.Type,
			Config: nd.Data,
		}
		if v, ok := portCount(nd.Data, "inputPortCount"); ok {
			n.InputPorts = v
		}
		if v, ok := portCount(nd.Data, "outputPortCount"); ok {
			n.OutputPorts = v
		}
		nodes = append(nodes, n)
	}
	connections := make([]*weft.Connection, 0, len(d.Connections))
	for _, cd := range d.Connections {
		connections = append(connections, &weft.Connection{
			ID:         cd.ID,
			SourceID:   cd.SourceID,
			SourcePort: cd.SourcePort,
			TargetID:   cd.TargetID,
			TargetPort: cd.TargetPort,
		})
	}
	return nodes, connections
}

// portCount reads a numeric port-count override, tolerating the numeric
// types JSON and YAML decoding produce.
func portCount(data map[string]any, key string) (int, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Save writes the document as indented JSON.
func (d *Document) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write workflow: %w", err)
	}
	return nil
}
