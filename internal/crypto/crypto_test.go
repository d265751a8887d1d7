package crypto

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("super-secret-jwt-token-with-at-least-32-characters")

func TestRoomIDDeterministic(t *testing.T) {
	user := uuid.New()

	a := RoomID(user, "agent-1")
	b := RoomID(user, "agent-1")
	c := RoomID(user, "agent-2")
	d := RoomID(uuid.New(), "agent-1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestSessionTokenRoundTrip(t *testing.T) {
	user := uuid.New()
	token, err := SignSessionToken(user, "ada@example.com", time.Hour, testSecret)
	require.NoError(t, err)

	id, err := VerifySessionToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, user, id.UserID)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.WithinDuration(t, time.Now().Add(time.Hour), id.ExpiresAt, 5*time.Second)
}

func TestVerifySessionTokenRejects(t *testing.T) {
	user := uuid.New()

	_, err := VerifySessionToken("", testSecret)
	assert.ErrorIs(t, err, ErrMissingToken)

	expired, err := SignSessionToken(user, "", -time.Minute, testSecret)
	require.NoError(t, err)
	_, err = VerifySessionToken(expired, testSecret)
	assert.ErrorIs(t, err, ErrTokenExpired)

	other, err := SignSessionToken(user, "", time.Hour, []byte("another-secret-another-secret-000"))
	require.NoError(t, err)
	_, err = VerifySessionToken(other, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = VerifySessionToken("not.a.token", testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
