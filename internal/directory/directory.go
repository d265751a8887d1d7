// Package directory lists the agents a user can chat with.
package directory

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

// Entry is one agent in the directory.
type Entry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Typing bool   `json:"typing"`
}

// Source lists the agents hosted by the agent API.
type Source interface {
	ListAgents(ctx context.Context) ([]models.RemoteAgent, error)
}

// Cache holds a recent listing. Implementations may be nil-safe no-ops.
type Cache interface {
	CachedDirectory(ctx context.Context) ([]models.RemoteAgent, bool)
	CacheDirectory(ctx context.Context, agents []models.RemoteAgent) error
}

// Typing reports which agents are composing a reply.
type Typing interface {
	IsTyping(agentID string) bool
}

// Directory fetches and filters agents.
type Directory struct {
	source Source
	cache  Cache
	logger zerolog.Logger
}

// New creates a directory. cache may be nil.
func New(source Source, cache Cache, logger zerolog.Logger) *Directory {
	return &Directory{source: source, cache: cache, logger: logger}
}

// List returns the agents whose name matches query, flagged with their
// typing state.
func (d *Directory) List(ctx context.Context, query string, typing Typing) ([]Entry, error) {
	agents, err := d.fetch(ctx)
	if err != nil {
		return nil, err
	}

	matched := Filter(agents, query)
	out := make([]Entry, 0, len(matched))
	for _, a := range matched {
		out = append(out, Entry{
			ID:     a.ID,
			Name:   a.Name,
			Typing: typing != nil && typing.IsTyping(a.ID),
		})
	}
	return out, nil
}

func (d *Directory) fetch(ctx context.Context) ([]models.RemoteAgent, error) {
	if d.cache != nil {
		if agents, ok := d.cache.CachedDirectory(ctx); ok {
			return agents, nil
		}
	}

	agents, err := d.source.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		if err := d.cache.CacheDirectory(ctx, agents); err != nil {
			d.logger.Warn().Err(err).Msg("failed to cache agent directory")
		}
	}
	return agents, nil
}

// Filter keeps the agents whose name contains the trimmed query,
// ignoring case. An empty query keeps everything.
func Filter(agents []models.RemoteAgent, query string) []models.RemoteAgent {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return agents
	}
	out := make([]models.RemoteAgent, 0, len(agents))
	for _, a := range agents {
		if strings.Contains(strings.ToLower(a.Name), q) {
			out = append(out, a)
		}
	}
	return out
}
