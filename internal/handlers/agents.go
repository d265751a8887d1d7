package handlers

import (
	"net/http"
	"strings"
)

// ListAgents returns the agent directory filtered by ?q=, with each
// agent's typing state for the caller's session.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	entries, err := h.Directory.List(r.Context(), query, h.session(r).Typing())
	if err != nil {
		h.logger.Warn().Err(err).Msg("directory fetch failed")
		h.agentAPIError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"agents": entries,
		"query":  query,
		"total":  len(entries),
	})
}

// GetAgent returns an agent's detail from the agent API.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := agentParam(r)
	if agentID == "" {
		h.Error(w, http.StatusBadRequest, "agent id is required")
		return
	}

	detail, err := h.Agents.GetAgent(r.Context(), agentID)
	if err != nil {
		h.agentAPIError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, detail)
}

// Typing lists the agents currently composing a reply in the caller's session.
func (h *Handler) Typing(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]any{"typing": h.session(r).Typing().Snapshot()})
}
