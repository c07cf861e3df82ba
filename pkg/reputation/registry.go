package reputation

import "sync"

// Registry holds per-agent reputations for the lifetime of the process.
// Agents start at MaxScore on first sight; persisted scores can be seeded
// with Seed.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Reputation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Reputation)}
}

// Get returns the agent's reputation, creating a pristine one on first
// sight.
func (r *Registry) Get(agentID string) *Reputation {
	r.mu.RLock()
	rep, ok := r.agents[agentID]
	r.mu.RUnlock()
	if ok {
		return rep
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rep, ok := r.agents[agentID]; ok {
		return rep
	}
	rep = New()
	r.agents[agentID] = rep
	return rep
}

// GetOrSeed returns the agent's reputation, creating one at the given
// score on first sight. An auth layer handing over a persisted score uses
// this; locally recorded violations then keep accruing on top of it.
func (r *Registry) GetOrSeed(agentID string, score int) *Reputation {
	r.mu.RLock()
	rep, ok := r.agents[agentID]
	r.mu.RUnlock()
	if ok {
		return rep
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rep, ok := r.agents[agentID]; ok {
		return rep
	}
	rep = NewWithScore(score)
	r.agents[agentID] = rep
	return rep
}

// Seed installs a reputation at a specific score, replacing any existing
// entry for the agent.
func (r *Registry) Seed(agentID string, score int) *Reputation {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := NewWithScore(score)
	r.agents[agentID] = rep
	return rep
}

// Len reports the number of tracked agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
