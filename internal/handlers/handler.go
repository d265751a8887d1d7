package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentdeck/internal/agentapi"
	"github.com/eldtechnologies/agentdeck/internal/auth"
	"github.com/eldtechnologies/agentdeck/internal/chat"
	"github.com/eldtechnologies/agentdeck/internal/deploy"
	"github.com/eldtechnologies/agentdeck/internal/directory"
	"github.com/eldtechnologies/agentdeck/internal/objstore"
	"github.com/eldtechnologies/agentdeck/internal/realtime"
	"github.com/eldtechnologies/agentdeck/internal/store"
)

// SessionHeader names the client's chat session. Clients without one share
// the default session.
const SessionHeader = "X-Session-ID"

// AgentAPI is the part of the agent API the handlers call directly.
type AgentAPI interface {
	GetAgent(ctx context.Context, agentID string) (*agentapi.AgentDetail, error)
	TTS(ctx context.Context, agentID, text string) ([]byte, string, error)
	Whisper(ctx context.Context, agentID string, audio []byte) (string, error)
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Store     store.DataStore
	Redis     *store.RedisStore
	Agents    AgentAPI
	Directory *directory.Directory
	Sessions  *chat.Registry
	Files     *objstore.Store
	Deployer  *deploy.Deployer
	Notifier  realtime.Notifier
	Auth      *auth.Authenticator
	Logger    zerolog.Logger

	AgentQuota    int
	WebhookToken  string
	SecureCookies bool
	StaticDir     string
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	Deps
	logger zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	if deps.AgentQuota <= 0 {
		deps.AgentQuota = 3
	}
	return &Handler{Deps: deps, logger: deps.Logger.With().Str("component", "http").Logger()}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// agentAPIError maps an agent API failure to a response.
func (h *Handler) agentAPIError(w http.ResponseWriter, err error) {
	var apiErr *agentapi.Error
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		if apiErr.Status == http.StatusNotFound {
			status = http.StatusNotFound
		}
		h.Error(w, status, apiErr.Message)
		return
	}
	h.Error(w, http.StatusBadGateway, "agent service unavailable")
}

// identity returns the signed-in user. Gated routes always have one.
func identity(r *http.Request) *auth.Identity {
	return auth.FromContext(r.Context())
}

// session returns the caller's chat session.
func (h *Handler) session(r *http.Request) *chat.Session {
	id := strings.TrimSpace(r.Header.Get(SessionHeader))
	if len(id) > 64 {
		id = id[:64]
	}
	return h.Sessions.Get(identity(r).UserID, id)
}

func agentParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "agentId"))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len([]rune(name)) > 100 {
		name = string([]rune(name)[:100])
	}

	return name
}

// splitTrim splits s on sep, trims every entry and drops empty ones.
func splitTrim(s, sep string) []string {
	out := []string{}
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
