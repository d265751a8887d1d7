package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agentdeck/internal/auth"
	"github.com/eldtechnologies/agentdeck/internal/crypto"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id := auth.FromContext(r.Context()); id != nil {
		w.Write([]byte(id.UserID.String()))
		return
	}
	w.Write([]byte("anonymous"))
})

func TestGatePages(t *testing.T) {
	gate := NewGate(auth.NewAuthenticator(testSecret, time.Hour), zerolog.Nop())
	h := gate.Pages(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/a1", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))

	user := uuid.New()
	token, err := crypto.SignSessionToken(user, "", time.Hour, []byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/chat/a1", nil)
	req.AddCookie(&http.Cookie{Name: auth.AccessCookie, Value: token})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.String(), rec.Body.String())
}

func TestGateLoading(t *testing.T) {
	gate := NewGate(auth.NewAuthenticator("", time.Hour), zerolog.Nop())

	rec := httptest.NewRecorder()
	gate.Pages(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `class="spinner"`)
	assert.Contains(t, rec.Body.String(), auth.ErrProviderUnavailable.Error())

	rec = httptest.NewRecorder()
	gate.API(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"state":"loading","error":"identity provider unavailable"}`, rec.Body.String())
}

func TestGateAPI(t *testing.T) {
	gate := NewGate(auth.NewAuthenticator(testSecret, time.Hour), zerolog.Nop())
	h := gate.API(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())

	token, err := crypto.SignSessionToken(uuid.New(), "", time.Hour, []byte(testSecret))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{})
	rl.limits = map[string]RateLimit{"POST /api/chat/": {2, time.Minute, userKey}}
	h := rl.Middleware(okHandler)

	send := func(user uuid.UUID) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/a1/messages", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: user}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	alice, bob := uuid.New(), uuid.New()
	assert.Equal(t, http.StatusOK, send(alice))
	assert.Equal(t, http.StatusOK, send(alice))
	assert.Equal(t, http.StatusTooManyRequests, send(alice))
	assert.Equal(t, http.StatusOK, send(bob))
}

func TestRateLimiterWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(okHandler)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/callback", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterBlockedIP(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{})
	rl.blocker.Block(t.Context(), "203.0.113.9", time.Hour, "test")

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	rl.Middleware(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFindLimitLongestPrefix(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	pattern, limit := rl.findLimit(httptest.NewRequest(http.MethodPut, "/api/my/agents/x", nil))
	require.NotNil(t, limit)
	assert.Equal(t, "PUT /api/my/agents/", pattern)

	pattern, _ = rl.findLimit(httptest.NewRequest(http.MethodPost, "/api/deployments/x/deploy", nil))
	assert.Equal(t, "POST /api/deployments", pattern)

	_, limit = rl.findLimit(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Nil(t, limit)
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(okHandler)

	cases := []struct {
		name        string
		path        string
		contentType string
		want        int
	}{
		{"json", "/api/my/agents", "application/json", http.StatusOK},
		{"multipart", "/api/chat/a1/messages", "multipart/form-data; boundary=x", http.StatusOK},
		{"form on auth", "/auth/callback", "application/x-www-form-urlencoded", http.StatusOK},
		{"form on api", "/api/my/agents", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"text", "/api/my/agents", "text/plain", http.StatusUnsupportedMediaType},
		{"traversal", "/storage/../etc/passwd", "application/json", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
			req.URL.Path = tc.path
			req.Header.Set("Content-Type", tc.contentType)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(4, 16)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersCSP(t *testing.T) {
	h := SecurityHeaders(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	assert.Equal(t, apiCSP, rec.Header().Get("Content-Security-Policy"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/a1", nil))
	assert.Equal(t, pageCSP, rec.Header().Get("Content-Security-Policy"))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/chat/:agent", normalizePath("/api/chat/abc/messages"))
	assert.Equal(t, "/health", normalizePath("/health"))
}

func TestLoggerRecordsUser(t *testing.T) {
	var buf bytes.Buffer
	gate := NewGate(auth.NewAuthenticator(testSecret, time.Hour), zerolog.Nop())
	h := Logger(zerolog.New(&buf))(gate.API(okHandler))

	user := uuid.New()
	token, err := crypto.SignSessionToken(user, "", time.Hour, []byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Session-ID", "tab-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, user.String(), line["user"])
	assert.Equal(t, "tab-1", line["session"])
	assert.EqualValues(t, 200, line["status"])

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.EqualValues(t, 401, line["status"])
}
