package chat

import (
	"sort"
	"sync"
)

// TypingRegistry tracks which agents are composing a reply.
type TypingRegistry struct {
	mu     sync.RWMutex
	agents map[string]struct{}
}

// NewTypingRegistry creates an empty registry.
func NewTypingRegistry() *TypingRegistry {
	return &TypingRegistry{agents: make(map[string]struct{})}
}

// Set marks or clears the agent. Setting the current value is a no-op.
func (t *TypingRegistry) Set(agentID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if typing {
		t.agents[agentID] = struct{}{}
	} else {
		delete(t.agents, agentID)
	}
}

// IsTyping reports whether the agent is marked.
func (t *TypingRegistry) IsTyping(agentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.agents[agentID]
	return ok
}

// Snapshot returns the marked agent ids in sorted order.
func (t *TypingRegistry) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.agents))
	for id := range t.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
