package chat

import (
	"sync"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

// Cache holds the message list shown for each agent in one session.
// Writes are last-write-wins; nothing is merged or deduplicated.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]models.Message
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]models.Message)}
}

// Get returns a copy of the agent's messages.
func (c *Cache) Get(agentID string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMessages(c.entries[agentID])
}

// Replace sets the agent's messages.
func (c *Cache) Replace(agentID string, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[agentID] = cloneMessages(msgs)
}

// Append adds messages to the end of the agent's list.
func (c *Cache) Append(agentID string, msgs ...models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[agentID] = append(c.entries[agentID], cloneMessages(msgs)...)
}

// Update replaces the agent's list with fn applied to it, under the lock.
func (c *Cache) Update(agentID string, fn func([]models.Message) []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[agentID] = fn(c.entries[agentID])
}

// Len returns the number of cached messages for the agent.
func (c *Cache) Len(agentID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[agentID])
}

func cloneMessages(msgs []models.Message) []models.Message {
	if msgs == nil {
		return []models.Message{}
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Attachments != nil {
			out[i].Attachments = append([]models.Attachment(nil), out[i].Attachments...)
		}
	}
	return out
}
