package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

var (
	// ErrQuotaExceeded is returned when a user already owns their maximum number of agents.
	ErrQuotaExceeded = errors.New("agent quota reached")
	// ErrNotFound is returned when an owned row does not exist.
	ErrNotFound = errors.New("not found")
)

// AgentInput carries the editable fields of an agent.
type AgentInput struct {
	Name          string
	Logo          string
	Tags          []string
	Bio           []string
	Lore          []string
	Style         []string
	ModelProvider string
}

// DeploymentInput carries the fields needed to create a deployment.
type DeploymentInput struct {
	AgentID  *uuid.UUID
	Name     string
	PlanType string
}

// DataStore defines the interface for persistent storage.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Profile and settings operations
	EnsureProfile(ctx context.Context, userID uuid.UUID, username string) (*models.Profile, error)
	EnsureUserSettings(ctx context.Context, userID uuid.UUID, maxAgents int) (*models.UserSettings, error)
	GetUserSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)

	// Agent operations
	CreateAgent(ctx context.Context, userID uuid.UUID, in AgentInput, defaultQuota int) (*models.Agent, error)
	UpdateAgent(ctx context.Context, userID, id uuid.UUID, in AgentInput) (*models.Agent, error)
	DeleteAgent(ctx context.Context, userID, id uuid.UUID) error
	GetAgent(ctx context.Context, userID, id uuid.UUID) (*models.Agent, error)
	ListAgents(ctx context.Context, userID uuid.UUID) ([]models.Agent, error)
	CountAgents(ctx context.Context, userID uuid.UUID) (int64, error)

	// Room and message operations
	GetOrCreateRoom(ctx context.Context, userID uuid.UUID, agentID string) (*models.Room, error)
	SaveMessage(ctx context.Context, roomID uuid.UUID, msg *models.Message) error
	ListMessages(ctx context.Context, roomID uuid.UUID) ([]models.Message, error)

	// Deployment operations
	CreateDeployment(ctx context.Context, userID uuid.UUID, in DeploymentInput) (*models.Deployment, error)
	GetDeployment(ctx context.Context, id uuid.UUID) (*models.Deployment, error)
	ListDeployments(ctx context.Context, userID uuid.UUID) ([]models.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, projectID string) (*models.Deployment, error)
	CountDeployed(ctx context.Context, userID uuid.UUID) (int64, error)
}
