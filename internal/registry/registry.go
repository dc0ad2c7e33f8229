// Package registry implements the Tool & Agent Registry (C3): in-memory,
// read-only-after-startup lookups from tool name to endpoint descriptor
// and agent name to its tool set and prompts.
//
// Grounded on the map-backed registry + Register/Get shape used
// throughout the teacher (pkg/llm/registry.go's providerRegistry,
// pkg/tools/tool.go's ToolRegistry), generalized to the gateway's
// config-loaded Agent/ToolDescriptor data instead of pluggable Go
// factories.
package registry

import (
	"sync"

	"archgw/internal/gatewayapi"
	"archgw/internal/gatewayerr"
)

// ToolRegistry is the read-only-after-Load lookup of tool name to its
// endpoint descriptor.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]gatewayapi.ToolDescriptor
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]gatewayapi.ToolDescriptor)}
}

func (r *ToolRegistry) Load(tools []gatewayapi.ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.tools[t.Name] = t
	}
}

// Get returns a value copy of the tool descriptor, per §4.7.
func (r *ToolRegistry) Get(name string) (gatewayapi.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// AgentRegistry is the read-only-after-Load lookup of agent name to its
// configuration.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]gatewayapi.Agent
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]gatewayapi.Agent)}
}

func (r *AgentRegistry) Load(agents []gatewayapi.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		r.agents[a.Name] = a
	}
}

func (r *AgentRegistry) Get(name string) (gatewayapi.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Single returns the lone configured agent, and true only if exactly one
// agent is configured. Used by ingress's agent-selection step 4.
func (r *AgentRegistry) Single() (gatewayapi.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.agents) != 1 {
		return gatewayapi.Agent{}, false
	}
	for _, a := range r.agents {
		return a, true
	}
	return gatewayapi.Agent{}, false
}

// ResolveAgentTools resolves every tool name declared by an agent into its
// descriptor, failing with LogicError if any name is unresolved. Used to
// validate an agent's declared tool set at config-load time (§3's
// invariant).
func (r *ToolRegistry) ResolveAgentTools(agent gatewayapi.Agent) ([]gatewayapi.ToolDescriptor, error) {
	resolved := make([]gatewayapi.ToolDescriptor, 0, len(agent.Tools))
	for _, name := range agent.Tools {
		t, ok := r.Get(name)
		if !ok {
			return nil, gatewayerr.LogicError("agent %q declares unknown tool %q", agent.Name, name)
		}
		resolved = append(resolved, t)
	}
	return resolved, nil
}

// AvailableAgentTools resolves the subset of an agent's declared tools
// that exist in the registry, silently omitting any that don't. Used by
// FC_REQUEST (§4.2): a missing tool shrinks the FC model's tool set, it
// never fails the request.
func (r *ToolRegistry) AvailableAgentTools(agent gatewayapi.Agent) []gatewayapi.ToolDescriptor {
	resolved := make([]gatewayapi.ToolDescriptor, 0, len(agent.Tools))
	for _, name := range agent.Tools {
		if t, ok := r.Get(name); ok {
			resolved = append(resolved, t)
		}
	}
	return resolved
}
