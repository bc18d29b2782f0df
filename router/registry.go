package router

import (
	"context"
	"sync"

	"github.com/BaSui01/agentmesh/message"
)

// Delivery is what a target receives: the envelope plus the ordered parts
// when the message is multipart.
type Delivery struct {
	Message *message.Message
	Parts   []message.Part
}

// IsMultiPart reports whether the delivery carries parts.
func (d Delivery) IsMultiPart() bool {
	return len(d.Parts) > 0
}

// Target is a delivery endpoint for an agent id. Implementations are
// supplied by the deployment; the router holds no agent-specific knowledge.
type Target interface {
	Deliver(ctx context.Context, delivery Delivery) error
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func(ctx context.Context, delivery Delivery) error

// Deliver implements Target.
func (f TargetFunc) Deliver(ctx context.Context, delivery Delivery) error {
	return f(ctx, delivery)
}

// Registry is the pluggable dispatch table mapping agent ids to delivery
// targets. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]Target)}
}

// Register binds an agent id to a target, replacing any previous binding.
func (r *Registry) Register(agentID string, target Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[agentID] = target
}

// Unregister removes an agent binding. Unknown ids are a no-op.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, agentID)
}

// Resolve looks up the target for an agent id.
func (r *Registry) Resolve(agentID string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[agentID]
	return t, ok
}

// AgentIDs returns the registered agent ids.
func (r *Registry) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	return ids
}
