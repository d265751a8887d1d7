// Package auth resolves the session state of a request from the identity
// provider's access token.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/agentdeck/internal/crypto"
)

// State is the gate state of a request.
type State string

const (
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

const (
	// AccessCookie carries the access token for browser sessions.
	AccessCookie = "sb-access-token"
	// RefreshCookie is cleared on sign out alongside the access cookie.
	RefreshCookie = "sb-refresh-token"
)

var (
	// ErrNoSession is returned when a request carries no valid session.
	ErrNoSession = errors.New("no session")
	// ErrProviderUnavailable is returned when sessions cannot be verified at all.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Identity is the authenticated user.
type Identity = crypto.Identity

// Result is the outcome of resolving a request's session.
type Result struct {
	State    State
	Identity *Identity
	Err      error
}

// Authenticator verifies access tokens issued by the identity provider.
type Authenticator struct {
	secret     []byte
	sessionTTL time.Duration
}

// NewAuthenticator creates an authenticator for tokens signed with secret.
func NewAuthenticator(secret string, sessionTTL time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), sessionTTL: sessionTTL}
}

// SessionTTL is the lifetime of the session cookie.
func (a *Authenticator) SessionTTL() time.Duration {
	return a.sessionTTL
}

// Resolve determines the gate state for r.
func (a *Authenticator) Resolve(r *http.Request) Result {
	if len(a.secret) == 0 {
		return Result{State: StateLoading, Err: ErrProviderUnavailable}
	}
	return a.Verify(TokenFromRequest(r))
}

// Verify checks a raw access token.
func (a *Authenticator) Verify(token string) Result {
	if len(a.secret) == 0 {
		return Result{State: StateLoading, Err: ErrProviderUnavailable}
	}
	id, err := crypto.VerifySessionToken(token, a.secret)
	if err != nil {
		return Result{State: StateUnauthenticated, Err: errors.Join(ErrNoSession, err)}
	}
	return Result{State: StateAuthenticated, Identity: id}
}

// TokenFromRequest returns the bearer token, falling back to the access cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(AccessCookie); err == nil {
		return c.Value
	}
	return ""
}

// SetSessionCookie stores token in the access cookie.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookies expires the access and refresh cookies.
func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the authenticated identity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
