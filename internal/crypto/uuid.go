package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// roomNamespace scopes name-based room ids to this service.
var roomNamespace = uuid.MustParse("6f1c2a2e-5d0b-4b8e-9a57-0c3f1de5a9b4")

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewMessageID generates a lexically sortable message id.
func NewMessageID() string {
	return ulid.Make().String()
}

// RoomID derives the room id for a (user, agent) pair. The same pair
// always maps to the same id, so rooms can be created lazily.
func RoomID(userID uuid.UUID, agentID string) uuid.UUID {
	return uuid.NewSHA1(roomNamespace, []byte(userID.String()+":"+agentID))
}
