package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// SessionClaims are the identity provider claims the dashboard relies on.
type SessionClaims struct {
	Email        string         `json:"email,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified user behind a session token.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	Username  string
	ExpiresAt time.Time
}

// VerifySessionToken validates an HS256 session token issued by the
// identity provider and returns the identity it carries.
func VerifySessionToken(token string, secret []byte) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	id := &Identity{
		UserID: userID,
		Email:  claims.Email,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	if name, ok := claims.UserMetadata["username"].(string); ok {
		id.Username = name
	}
	return id, nil
}

// SignSessionToken issues an HS256 session token. The server only uses it
// in tests and local development; production tokens come from the
// identity provider.
func SignSessionToken(userID uuid.UUID, email string, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
