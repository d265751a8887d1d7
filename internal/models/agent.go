package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultModelProvider is used when an agent is created without one.
const DefaultModelProvider = "mistral"

// Agent is an AI agent character created by a dashboard user.
type Agent struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Name          string    `json:"name"`
	Logo          string    `json:"logo"`
	Tags          []string  `json:"tags"`
	Bio           []string  `json:"bio"`
	Lore          []string  `json:"lore"`
	Style         []string  `json:"style,omitempty"`
	ModelProvider string    `json:"model_provider"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Character is the profile handed to the agent runtime when deploying.
type Character struct {
	Name          string   `json:"name"`
	Bio           []string `json:"bio"`
	Lore          []string `json:"lore"`
	Topics        []string `json:"topics"`
	Style         []string `json:"style,omitempty"`
	ModelProvider string   `json:"modelProvider"`
}

// Character builds the runtime character for a.
func (a *Agent) Character() Character {
	return Character{
		Name:          a.Name,
		Bio:           nonNil(a.Bio),
		Lore:          nonNil(a.Lore),
		Topics:        nonNil(a.Tags),
		Style:         a.Style,
		ModelProvider: a.ModelProvider,
	}
}

// RemoteAgent is an agent listed by the agent API.
type RemoteAgent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
