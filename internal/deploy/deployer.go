// Package deploy ships agents to the container platform and tracks their
// deployment status.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentdeck/internal/metrics"
	"github.com/eldtechnologies/agentdeck/internal/models"
	"github.com/eldtechnologies/agentdeck/internal/realtime"
	"github.com/eldtechnologies/agentdeck/internal/store"
)

var (
	ErrNotFound       = errors.New("deployment not found")
	ErrAlreadyRunning = errors.New("deployment already started")
	ErrInvalidStatus  = errors.New("invalid deployment status")
)

// Store is the persistence the deployer needs.
type Store interface {
	GetDeployment(ctx context.Context, id uuid.UUID) (*models.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, projectID string) (*models.Deployment, error)
	GetAgent(ctx context.Context, userID, id uuid.UUID) (*models.Agent, error)
}

// Config configures the platform API.
type Config struct {
	APIURL   string
	Token    string
	Template string
	Timeout  time.Duration
}

// Event is published on a deployment's topic whenever its status changes.
type Event struct {
	ID        string                  `json:"id"`
	Status    models.DeploymentStatus `json:"status"`
	Message   string                  `json:"message"`
	ProjectID string                  `json:"project_id,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// EventFor builds the status event for d.
func EventFor(d *models.Deployment) Event {
	return Event{
		ID:        d.ID.String(),
		Status:    d.Status,
		Message:   d.Status.Message(),
		ProjectID: d.ProjectID,
		UpdatedAt: d.UpdatedAt,
	}
}

// Deployer creates platform projects for deployments.
type Deployer struct {
	cfg        Config
	httpClient *http.Client
	store      Store
	notifier   realtime.Notifier
	logger     zerolog.Logger
}

// New creates a deployer.
func New(cfg Config, st Store, notifier realtime.Notifier, logger zerolog.Logger) *Deployer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Deployer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		store:      st,
		notifier:   notifier,
		logger:     logger.With().Str("component", "deploy").Logger(),
	}
}

type projectRequest struct {
	Name      string            `json:"name"`
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables"`
}

// Deploy creates the platform project for the user's deployment and moves
// it to deploying. A platform error moves it to failed.
func (d *Deployer) Deploy(ctx context.Context, userID, id uuid.UUID) (*models.Deployment, error) {
	dep, err := d.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if dep == nil || dep.UserID != userID {
		return nil, ErrNotFound
	}
	if dep.Status == models.StatusDeploying || dep.Status == models.StatusDeployed {
		return nil, ErrAlreadyRunning
	}

	character := models.Character{Name: dep.Name, Bio: []string{}, Lore: []string{}, Topics: []string{}, ModelProvider: models.DefaultModelProvider}
	if dep.AgentID != nil {
		agent, err := d.store.GetAgent(ctx, userID, *dep.AgentID)
		if err != nil {
			return nil, err
		}
		if agent != nil {
			character = agent.Character()
		}
	}

	projectID, err := d.createProject(ctx, dep.Name, character)
	if err != nil {
		d.logger.Error().Err(err).Str("deployment", id.String()).Msg("platform deploy failed")
		if _, uerr := d.SetStatus(ctx, id, models.StatusFailed, ""); uerr != nil {
			d.logger.Error().Err(uerr).Str("deployment", id.String()).Msg("failed to mark deployment failed")
		}
		return nil, err
	}

	return d.SetStatus(ctx, id, models.StatusDeploying, projectID)
}

func (d *Deployer) createProject(ctx context.Context, name string, character models.Character) (string, error) {
	config, err := json.Marshal(character)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(projectRequest{
		Name:      "agent-" + name,
		Template:  d.cfg.Template,
		Variables: map[string]string{"AGENT_CONFIG": string(config)},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	metrics.DeployAPILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("platform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("platform deployment failed: %s", strings.TrimSpace(string(respBody)))
	}

	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &project); err != nil {
		return "", fmt.Errorf("decode platform response: %w", err)
	}
	return project.ID, nil
}

// SetStatus records a status change and publishes it.
func (d *Deployer) SetStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, projectID string) (*models.Deployment, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	dep, err := d.store.UpdateDeploymentStatus(ctx, id, status, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	metrics.DeploymentTransitions.WithLabelValues(string(status)).Inc()
	d.logger.Info().
		Str("deployment", id.String()).
		Str("status", string(status)).
		Str("project", dep.ProjectID).
		Msg("deployment status changed")

	if d.notifier != nil {
		if err := d.notifier.Publish(ctx, realtime.DeploymentTopic(id.String()), EventFor(dep)); err != nil {
			d.logger.Warn().Err(err).Str("deployment", id.String()).Msg("failed to publish status")
		}
	}
	return dep, nil
}
