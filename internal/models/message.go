package models

// Role identifies who authored a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Attachment is a file attached to a message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Title       string `json:"title"`
}

// Message represents a chat message in a room.
// IsLoading, IsTyping and Error only ever live in the session cache.
type Message struct {
	ID          string       `json:"id,omitempty"` // ULID
	RoomID      string       `json:"roomId,omitempty"`
	User        Role         `json:"user"`
	Text        string       `json:"text"`
	CreatedAt   int64        `json:"createdAt"` // Unix ms
	Attachments []Attachment `json:"attachments,omitempty"`
	Source      string       `json:"source,omitempty"`
	Action      string       `json:"action,omitempty"`

	IsLoading bool   `json:"isLoading,omitempty"`
	IsTyping  bool   `json:"isTyping,omitempty"`
	Error     string `json:"error,omitempty"`
	HTML      string `json:"html,omitempty"`
}

// IsPending reports whether m is an optimistic placeholder.
func (m Message) IsPending() bool {
	return m.IsLoading || m.IsTyping
}

// IsFailed reports whether m marks a send that did not complete.
func (m Message) IsFailed() bool {
	return m.Error != ""
}
