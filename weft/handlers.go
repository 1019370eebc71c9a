// ABOUTME: Handler contract for node execution and the closed type registry.
// ABOUTME: Unknown node types fail validation at build time; the engine never guesses mid-run.
package weft

import (
	"context"
	"sort"
)

// Handler executes one node type. Handlers are stateless with respect to the
// run: everything they may inspect arrives in the Invocation, and their only
// outputs are the returned value and error.
type Handler interface {
	// Type returns the node type string the handler serves.
	Type() string
	// Ports returns the declared input and output port counts. An input
	// count of -1 means the handler accepts any number of inputs and the
	// workflow document decides.
	Ports() (inputs, outputs int)
	// Execute runs the node and returns its value. Slotted types return a
	// two-element slice, one entry per output slot, with nil marking the
	// slot that produces no value. Execute must honor ctx cancellation.
	Execute(ctx context.Context, inv *Invocation) (any, error)
}

// Invocation carries everything a handler may inspect for one execution.
type Invocation struct {
	RunID   string
	Node    *Node
	Config  map[string]any
	APIKeys map[string]string
	// Inputs holds delivered input values keyed by source node ID.
	Inputs map[string]any
	// PortInputs holds the same values positionally by input port. A port
	// that never received a value holds nil.
	PortInputs []any
	Attempt    int
}

// FirstInput returns the lowest-port delivered input value, or nil.
func (inv *Invocation) FirstInput() any {
	for _, v := range inv.PortInputs {
		if v != nil {
			return v
		}
	}
	return nil
}

// ConfigString returns a string config value, or def when absent or not a string.
func (inv *Invocation) ConfigString(key, def string) string {
	if inv.Config == nil {
		return def
	}
	if s, ok := inv.Config[key].(string); ok {
		return s
	}
	return def
}

// Registry maps node types to handlers. The registry is closed once a graph
// builds against it: validation rejects types it does not know.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any existing handler for the same type.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Alias registers an additional type name for an already-registered handler.
// Canvas documents tag branch and loop nodes with "-node" suffixed names;
// aliases let both spellings resolve to the same handler.
func (r *Registry) Alias(alias, typeName string) {
	if h, ok := r.handlers[typeName]; ok {
		r.handlers[alias] = h
	}
}

// Get returns the handler for a node type, or nil if none is registered.
func (r *Registry) Get(nodeType string) Handler {
	if r == nil {
		return nil
	}
	return r.handlers[nodeType]
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry returns a registry with every built-in handler registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&TextInputHandler{})
	r.Register(&FileInputHandler{})
	r.Register(&DecisionHandler{})
	r.Register(&JudgmentHandler{})
	r.Register(&YesNoHandler{})
	r.Register(&TransformHandler{})
	r.Register(&MergeHandler{})
	r.Register(&DelayHandler{})
	r.Register(&IncrementHandler{})
	r.Register(&PreviewHandler{})
	r.Register(&LoopHandler{})
	r.Alias("decision-node", "decision")
	r.Alias("judgment-node", "judgment")
	r.Alias("yes-no-node", "yes-no")
	r.Alias("file-input-node", "file-input")
	r.Alias("loop-node", "loop")
	return r
}
