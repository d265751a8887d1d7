package models

import "github.com/google/uuid"

// UserSettings holds per-user limits.
type UserSettings struct {
	UserID        uuid.UUID `json:"user_id"`
	MaxAgents     int       `json:"max_agents"`
	AgentsCreated int       `json:"agents_created"`
}

// Subscription is the user's billing plan.
type Subscription struct {
	UserID   uuid.UUID `json:"user_id"`
	PlanType string    `json:"plan_type"`
	Status   string    `json:"status"`
}

// Profile is the public profile created on first sign-in.
type Profile struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}
