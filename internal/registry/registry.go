// Package registry provides the map-backed agent registry used to wire
// domain agents into the executor and confirmation services.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"aide/internal/ports"
)

// Registry is a concurrency-safe name-to-agent map implementing
// ports.Registry.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]ports.Agent
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{agents: make(map[string]ports.Agent)}
}

// Register adds an agent under name, rejecting duplicates.
func (r *Registry) Register(name string, agent ports.Agent) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if agent == nil {
		return fmt.Errorf("agent %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent already exists: %s", name)
	}
	r.agents[name] = agent
	return nil
}

// GetAgent returns the agent registered under name, or nil.
func (r *Registry) GetAgent(name string) ports.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[name]
}

// Unregister removes an agent; removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, name)
}

// List returns the registered agent names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
