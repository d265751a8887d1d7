package models

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus is the lifecycle state of a hosted agent.
type DeploymentStatus string

const (
	StatusPending   DeploymentStatus = "pending"
	StatusDeploying DeploymentStatus = "deploying"
	StatusDeployed  DeploymentStatus = "deployed"
	StatusFailed    DeploymentStatus = "failed"
)

// Valid reports whether s is a known status.
func (s DeploymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDeploying, StatusDeployed, StatusFailed:
		return true
	}
	return false
}

// Message returns the human readable description of s.
func (s DeploymentStatus) Message() string {
	switch s {
	case StatusPending:
		return "Preparing to deploy your agent..."
	case StatusDeploying:
		return "Deploying your agent..."
	case StatusDeployed:
		return "Your agent has been successfully deployed!"
	case StatusFailed:
		return "Failed to deploy your agent."
	default:
		return "Unknown status"
	}
}

// Deployment is a hosted instance of an agent on the container platform.
type Deployment struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	AgentID   *uuid.UUID       `json:"agent_id,omitempty"`
	Name      string           `json:"name"`
	PlanType  string           `json:"plan_type"`
	Status    DeploymentStatus `json:"status"`
	ProjectID string           `json:"project_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
