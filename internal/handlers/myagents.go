package handlers

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/agentdeck/internal/metrics"
	"github.com/eldtechnologies/agentdeck/internal/models"
	"github.com/eldtechnologies/agentdeck/internal/objstore"
	"github.com/eldtechnologies/agentdeck/internal/store"
)

const maxLogoSize = 5 << 20

var logoTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var errUnsupportedLogo = errors.New("logo must be a JPEG, PNG, GIF or WebP image")

// agentForm is the create/edit form. Tags are comma separated; bio, lore
// and style take one entry per line.
type agentForm struct {
	Name          string `json:"name"`
	Tags          string `json:"tags"`
	Bio           string `json:"bio"`
	Lore          string `json:"lore"`
	Style         string `json:"style"`
	ModelProvider string `json:"model_provider"`
}

func (f agentForm) input() store.AgentInput {
	return store.AgentInput{
		Name:          sanitizeName(f.Name),
		Tags:          splitTrim(f.Tags, ","),
		Bio:           splitTrim(f.Bio, "\n"),
		Lore:          splitTrim(f.Lore, "\n"),
		Style:         splitTrim(f.Style, "\n"),
		ModelProvider: sanitizeName(f.ModelProvider),
	}
}

type logoUpload struct {
	name        string
	contentType string
	data        []byte
}

// parseAgentForm reads the form from JSON or multipart, with an optional
// "logo" file in the multipart case.
func parseAgentForm(r *http.Request) (agentForm, *logoUpload, error) {
	var form agentForm
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := decodeJSON(r, &form); err != nil {
			return form, nil, errors.New("invalid JSON body")
		}
		return form, nil, nil
	}

	if err := r.ParseMultipartForm(maxLogoSize); err != nil {
		return form, nil, errors.New("invalid multipart form")
	}
	form = agentForm{
		Name:          r.FormValue("name"),
		Tags:          r.FormValue("tags"),
		Bio:           r.FormValue("bio"),
		Lore:          r.FormValue("lore"),
		Style:         r.FormValue("style"),
		ModelProvider: r.FormValue("model_provider"),
	}

	file, header, err := r.FormFile("logo")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil, nil
	}
	if err != nil {
		return form, nil, errors.New("invalid logo upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxLogoSize+1))
	if err != nil {
		return form, nil, errors.New("failed to read logo")
	}
	if len(data) > maxLogoSize {
		return form, nil, objstore.ErrTooLarge
	}
	contentType := http.DetectContentType(data)
	if !logoTypes[contentType] {
		return form, nil, errUnsupportedLogo
	}
	return form, &logoUpload{name: header.Filename, contentType: contentType, data: data}, nil
}

func (h *Handler) formError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUnsupportedLogo):
		h.Error(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, objstore.ErrTooLarge):
		h.Error(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		h.Error(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) storeLogo(r *http.Request, logo *logoUpload) (string, error) {
	obj, err := h.Files.Put(r.Context(), objstore.BucketAgentLogos, objstore.ObjectName(logo.name), logo.contentType, bytes.NewReader(logo.data))
	if err != nil {
		return "", err
	}
	return obj.URL, nil
}

// MyAgentsResponse lists the caller's agents with their quota.
type MyAgentsResponse struct {
	Agents    []models.Agent `json:"agents"`
	MaxAgents int            `json:"max_agents"`
}

// ListMyAgents lists the agents the caller created.
func (h *Handler) ListMyAgents(w http.ResponseWriter, r *http.Request) {
	user := identity(r).UserID

	agents, err := h.Store.ListAgents(r.Context(), user)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list agents")
		h.Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	maxAgents := h.AgentQuota
	if us, err := h.Store.GetUserSettings(r.Context(), user); err == nil && us != nil {
		maxAgents = us.MaxAgents
	}

	h.JSON(w, http.StatusOK, MyAgentsResponse{Agents: agents, MaxAgents: maxAgents})
}

// CreateMyAgent creates an agent, subject to the caller's quota.
func (h *Handler) CreateMyAgent(w http.ResponseWriter, r *http.Request) {
	form, logo, err := parseAgentForm(r)
	if err != nil {
		h.formError(w, err)
		return
	}
	in := form.input()
	if in.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	user := identity(r).UserID
	if logo != nil {
		if in.Logo, err = h.storeLogo(r, logo); err != nil {
			h.logger.Error().Err(err).Msg("failed to store logo")
			h.Error(w, http.StatusInternalServerError, "failed to upload logo")
			return
		}
	}

	agent, err := h.Store.CreateAgent(r.Context(), user, in, h.AgentQuota)
	if err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			metrics.QuotaRejections.Inc()
			h.Error(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("failed to create agent")
		h.Error(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	metrics.AgentsCreated.Inc()
	h.logger.Info().Str("user", user.String()).Str("agent", agent.ID.String()).Msg("agent created")
	h.JSON(w, http.StatusCreated, agent)
}

// UpdateMyAgent edits an agent. The logo is kept unless a new one is uploaded.
func (h *Handler) UpdateMyAgent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	form, logo, err := parseAgentForm(r)
	if err != nil {
		h.formError(w, err)
		return
	}
	in := form.input()
	if in.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	user := identity(r).UserID
	existing, err := h.Store.GetAgent(r.Context(), user, id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load agent")
		return
	}
	if existing == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	in.Logo = existing.Logo
	if logo != nil {
		if in.Logo, err = h.storeLogo(r, logo); err != nil {
			h.logger.Error().Err(err).Msg("failed to store logo")
			h.Error(w, http.StatusInternalServerError, "failed to upload logo")
			return
		}
	}

	agent, err := h.Store.UpdateAgent(r.Context(), user, id, in)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "agent not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to update agent")
		return
	}
	h.JSON(w, http.StatusOK, agent)
}

// DeleteMyAgent deletes an agent and frees its quota slot.
func (h *Handler) DeleteMyAgent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	if err := h.Store.DeleteAgent(r.Context(), identity(r).UserID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "agent not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
