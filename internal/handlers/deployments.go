package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/agentdeck/internal/auth"
	"github.com/eldtechnologies/agentdeck/internal/deploy"
	"github.com/eldtechnologies/agentdeck/internal/models"
	"github.com/eldtechnologies/agentdeck/internal/realtime"
	"github.com/eldtechnologies/agentdeck/internal/store"
)

var planTypes = map[string]bool{"basic": true, "pro": true, "enterprise": true}

// DeploymentResponse is a deployment with its human readable status.
type DeploymentResponse struct {
	models.Deployment
	Message string `json:"message"`
}

func deploymentResponse(d *models.Deployment) DeploymentResponse {
	return DeploymentResponse{Deployment: *d, Message: d.Status.Message()}
}

type createDeploymentRequest struct {
	Name    string `json:"name"`
	Plan    string `json:"plan"`
	AgentID string `json:"agent_id,omitempty"`
}

// ownedDeployment loads the deployment in the URL if the caller owns it.
func (h *Handler) ownedDeployment(w http.ResponseWriter, r *http.Request) *models.Deployment {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid deployment id")
		return nil
	}
	d, err := h.Store.GetDeployment(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load deployment")
		return nil
	}
	if d == nil || d.UserID != identity(r).UserID {
		h.Error(w, http.StatusNotFound, "deployment not found")
		return nil
	}
	return d
}

// ListDeployments lists the caller's deployments.
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := h.Store.ListDeployments(r.Context(), identity(r).UserID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list deployments")
		h.Error(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}

	out := make([]DeploymentResponse, 0, len(deployments))
	for i := range deployments {
		out = append(out, deploymentResponse(&deployments[i]))
	}
	h.JSON(w, http.StatusOK, map[string]any{"deployments": out})
}

// CreateDeployment records a deployment in pending state.
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	in := store.DeploymentInput{Name: sanitizeName(req.Name), PlanType: strings.ToLower(strings.TrimSpace(req.Plan))}
	if in.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if in.PlanType == "" {
		in.PlanType = "basic"
	}
	if !planTypes[in.PlanType] {
		h.Error(w, http.StatusUnprocessableEntity, "plan must be basic, pro or enterprise")
		return
	}

	user := identity(r).UserID
	if req.AgentID != "" {
		agentID, err := uuid.Parse(req.AgentID)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid agent id")
			return
		}
		agent, err := h.Store.GetAgent(r.Context(), user, agentID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to load agent")
			return
		}
		if agent == nil {
			h.Error(w, http.StatusNotFound, "agent not found")
			return
		}
		in.AgentID = &agentID
	}

	d, err := h.Store.CreateDeployment(r.Context(), user, in)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create deployment")
		h.Error(w, http.StatusInternalServerError, "failed to create deployment")
		return
	}
	h.JSON(w, http.StatusCreated, deploymentResponse(d))
}

// GetDeployment returns one of the caller's deployments.
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	if d := h.ownedDeployment(w, r); d != nil {
		h.JSON(w, http.StatusOK, deploymentResponse(d))
	}
}

// Deploy ships the deployment to the container platform.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	d, err := h.Deployer.Deploy(r.Context(), identity(r).UserID, id)
	if err != nil {
		switch {
		case errors.Is(err, deploy.ErrNotFound):
			h.Error(w, http.StatusNotFound, "deployment not found")
		case errors.Is(err, deploy.ErrAlreadyRunning):
			h.Error(w, http.StatusConflict, err.Error())
		default:
			h.Error(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	h.JSON(w, http.StatusOK, deploymentResponse(d))
}

// DeploymentEvents streams status changes over a websocket, starting with
// the current status.
func (h *Handler) DeploymentEvents(w http.ResponseWriter, r *http.Request) {
	d := h.ownedDeployment(w, r)
	if d == nil {
		return
	}
	realtime.Stream(w, r, h.Notifier, realtime.DeploymentTopic(d.ID.String()), deploy.EventFor(d), h.logger)
}

type webhookRequest struct {
	Status    models.DeploymentStatus `json:"status"`
	ProjectID string                  `json:"project_id"`
}

// DeploymentWebhook lets the platform report the outcome of a deployment.
func (h *Handler) DeploymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.WebhookToken == "" {
		h.Error(w, http.StatusNotFound, "webhooks are not enabled")
		return
	}
	token := auth.TokenFromRequest(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.WebhookToken)) != 1 {
		h.Error(w, http.StatusUnauthorized, "invalid webhook token")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status != models.StatusDeployed && req.Status != models.StatusFailed && req.Status != models.StatusDeploying {
		h.Error(w, http.StatusUnprocessableEntity, "status must be deploying, deployed or failed")
		return
	}

	d, err := h.Deployer.SetStatus(r.Context(), id, req.Status, req.ProjectID)
	if err != nil {
		if errors.Is(err, deploy.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "deployment not found")
			return
		}
		h.logger.Error().Err(err).Str("deployment", id.String()).Msg("webhook update failed")
		h.Error(w, http.StatusInternalServerError, "failed to update deployment")
		return
	}
	h.JSON(w, http.StatusOK, deploymentResponse(d))
}
