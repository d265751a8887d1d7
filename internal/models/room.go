package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is the persisted conversation between one user and one agent.
type Room struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	AgentID      string    `json:"agent_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int64     `json:"message_count"`
}
