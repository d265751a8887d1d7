package store

import (
	"encoding/json"
	"strings"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

// encodeList serializes a string list for text columns.
func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func decodeList(raw string) []string {
	list := []string{}
	if raw == "" {
		return list
	}
	_ = json.Unmarshal([]byte(raw), &list)
	return list
}

func encodeAttachments(list []models.Attachment) string {
	if len(list) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func decodeAttachments(raw string) []models.Attachment {
	if raw == "" || raw == "[]" {
		return nil
	}
	var list []models.Attachment
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}

// normalizeAgentInput trims the name and fills defaults.
func normalizeAgentInput(in AgentInput) AgentInput {
	in.Name = strings.TrimSpace(in.Name)
	if in.ModelProvider == "" {
		in.ModelProvider = models.DefaultModelProvider
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	if in.Bio == nil {
		in.Bio = []string{}
	}
	if in.Lore == nil {
		in.Lore = []string{}
	}
	if in.Style == nil {
		in.Style = []string{}
	}
	return in
}
