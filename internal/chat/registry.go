package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/agentdeck/internal/metrics"
)

// DefaultSessionID is used when a client does not name its session.
const DefaultSessionID = "default"

type sessionKey struct {
	user uuid.UUID
	id   string
}

// Registry holds the live sessions, keyed by user and client session id.
type Registry struct {
	deps Deps
	ttl  time.Duration

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	// dropped holds sessions removed by Drop while a send was in flight.
	dropped []*Session
}

// NewRegistry creates a registry whose sessions expire after ttl of inactivity.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	return &Registry{
		deps:     deps,
		ttl:      ttl,
		sessions: make(map[sessionKey]*Session),
	}
}

// Get returns the session for (userID, sessionID), creating it on first use.
func (r *Registry) Get(userID uuid.UUID, sessionID string) *Session {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	key := sessionKey{user: userID, id: sessionID}

	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		s = NewSession(userID, sessionID, r.deps)
		r.sessions[key] = s
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()

	s.Touch()
	return s
}

// Drop removes every session belonging to userID. Sends still in flight
// run to completion and are waited for by Wait.
func (r *Registry) Drop(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	n := 0
	for key, s := range r.sessions {
		if key.user == userID {
			delete(r.sessions, key)
			if s.Busy() {
				r.dropped = append(r.dropped, s)
			}
			n++
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return n
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle since before now-ttl. Sessions with a send in
// flight are kept.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, s := range r.sessions {
		if s.LastSeen().Before(cutoff) && !s.Busy() {
			delete(r.sessions, key)
			n++
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return n
}

// Run sweeps every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				r.deps.Logger.Debug().Int("evicted", n).Msg("expired chat sessions")
			}
		}
	}
}

// Wait blocks until every session's in-flight sends have settled,
// including sessions dropped at logout.
func (r *Registry) Wait() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions)+len(r.dropped))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sessions = append(sessions, r.dropped...)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Wait()
	}

	r.mu.Lock()
	r.pruneLocked()
	r.mu.Unlock()
}

// pruneLocked forgets dropped sessions that have gone idle.
func (r *Registry) pruneLocked() {
	kept := r.dropped[:0]
	for _, s := range r.dropped {
		if s.Busy() {
			kept = append(kept, s)
		}
	}
	clear(r.dropped[len(kept):])
	r.dropped = kept
}
