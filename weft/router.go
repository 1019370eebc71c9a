// ABOUTME: Port router mapping completed node values onto outbound connections.
// ABOUTME: Owns the two-slot branch convention: slotted types route by slot index, everything else broadcasts.
package weft

// slotCount is the number of output slots a branch-shaped node produces.
const slotCount = 2

// slottedTypes produce a fixed two-slot output array. Slot i routes only to
// connections with SourcePort == i, and a nil slot delivers nothing at all:
// its targets simply never receive a value on that port. Branch types leave
// exactly one slot populated; file-input populates both.
// Both the short names and the canvas's "-node" suffixed tags are recognized.
var slottedTypes = map[string]bool{
	"decision":        true,
	"decision-node":   true,
	"judgment":        true,
	"judgment-node":   true,
	"yes-no":          true,
	"yes-no-node":     true,
	"file-input":      true,
	"file-input-node": true,
}

func isSlotted(nodeType string) bool {
	return slottedTypes[nodeType]
}

// delivery is one value bound for the input port at the end of a connection.
// A nil slot produces no delivery; a delivery whose value is nil is a real
// empty value and still satisfies the target port.
type delivery struct {
	conn  *Connection
	value any
}

// routeValue maps a completed node's handler value onto its outbound
// connections. The caller decides what each delivery means (immediate
// binding, loop feedback, or held until a loop freezes); the router only
// applies the slot convention.
func routeValue(g *Graph, node *Node, value any) []delivery {
	if node.OutputPorts == 0 {
		return nil
	}

	conns := g.OutboundFrom(node.ID)
	if len(conns) == 0 {
		return nil
	}

	if !isSlotted(node.Type) {
		out := make([]delivery, 0, len(conns))
		for _, c := range conns {
			out = append(out, delivery{conn: c, value: value})
		}
		return out
	}

	slots := slotOutputs(value, node.OutputPorts)
	var out []delivery
	for _, c := range conns {
		if c.SourcePort >= len(slots) {
			continue
		}
		v := slots[c.SourcePort]
		if v == nil {
			continue
		}
		out = append(out, delivery{conn: c, value: v})
	}
	return out
}

// slotOutputs coerces a handler result into a fixed-size slot array. A plain
// value lands in slot 0; a short slice is padded with nil; extra slots beyond
// the declared port count are dropped.
func slotOutputs(value any, ports int) []any {
	slots := make([]any, ports)
	if vs, ok := value.([]any); ok {
		copy(slots, vs)
		return slots
	}
	if ports > 0 {
		slots[0] = value
	}
	return slots
}
