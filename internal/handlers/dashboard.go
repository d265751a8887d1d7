package handlers

import (
	"net/http"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

// SettingsResponse is the account overview on the settings page.
type SettingsResponse struct {
	Email         string `json:"email"`
	AgentsCreated int    `json:"agents_created"`
	MaxAgents     int    `json:"max_agents"`
}

// Settings returns the caller's account settings.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	us, err := h.Store.GetUserSettings(r.Context(), id.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	resp := SettingsResponse{Email: id.Email, MaxAgents: h.AgentQuota}
	if us != nil {
		resp.AgentsCreated = us.AgentsCreated
		resp.MaxAgents = us.MaxAgents
	} else {
		n, err := h.Store.CountAgents(r.Context(), id.UserID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to load settings")
			return
		}
		resp.AgentsCreated = int(n)
	}
	h.JSON(w, http.StatusOK, resp)
}

// DashboardResponse summarizes the caller's account.
type DashboardResponse struct {
	DeployedAgents int64                `json:"deployed_agents"`
	Subscription   *models.Subscription `json:"subscription"`
	MessagesToday  *int64               `json:"messages_today,omitempty"`
}

// Dashboard returns the home page figures.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := identity(r).UserID

	deployed, err := h.Store.CountDeployed(r.Context(), user)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	sub, err := h.Store.GetSubscription(r.Context(), user)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	resp := DashboardResponse{DeployedAgents: deployed, Subscription: sub}
	if h.Redis != nil {
		if n, err := h.Redis.SendsToday(r.Context(), user.String()); err == nil {
			resp.MessagesToday = &n
		} else {
			h.logger.Warn().Err(err).Msg("failed to read send counter")
		}
	}
	h.JSON(w, http.StatusOK, resp)
}

// Integration is a messaging platform an agent can be connected to.
type Integration struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var integrations = []Integration{
	{"telegram", "Telegram", "Connect your agent to Telegram groups and channels"},
	{"discord", "Discord", "Add your agent to Discord servers"},
	{"whatsapp", "WhatsApp", "Enable your agent on WhatsApp"},
	{"github", "GitHub", "Integrate with GitHub repositories"},
	{"slack", "Slack", "Add your agent to Slack workspaces"},
	{"twitter", "Twitter/X", "Let your agent post and reply on Twitter/X"},
}

// Integrations lists the available platform integrations.
func (h *Handler) Integrations(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]any{"integrations": integrations})
}
