package middleware

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentdeck/internal/auth"
)

// LoginPath is where unauthenticated page requests are sent.
const LoginPath = "/auth/login"

// Gate admits requests according to their session state.
type Gate struct {
	auth   *auth.Authenticator
	logger zerolog.Logger
}

// NewGate creates a gate backed by a.
func NewGate(a *auth.Authenticator, logger zerolog.Logger) *Gate {
	return &Gate{auth: a, logger: logger}
}

// Pages guards page routes. Unauthenticated requests are redirected with
// 303 so the guarded page never becomes a history entry.
func (g *Gate) Pages(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.auth.Resolve(r)
		switch res.State {
		case auth.StateAuthenticated:
			noteUser(r.Context(), res.Identity.UserID)
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), res.Identity)))
		case auth.StateLoading:
			g.logger.Warn().Err(res.Err).Str("path", r.URL.Path).Msg("session state unavailable")
			LoadingPage(w, res.Err)
		default:
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
		}
	})
}

// API guards JSON routes.
func (g *Gate) API(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.auth.Resolve(r)
		switch res.State {
		case auth.StateAuthenticated:
			noteUser(r.Context(), res.Identity.UserID)
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), res.Identity)))
		case auth.StateLoading:
			msg := ""
			if res.Err != nil {
				msg = res.Err.Error()
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"state": string(auth.StateLoading),
				"error": msg,
			})
		default:
			jsonError(w, http.StatusUnauthorized, "authentication required")
		}
	})
}

const loadingTemplate = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>Loading</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;flex-direction:column;align-items:center;justify-content:center;min-height:100vh;margin:0;color:#334155}
.spinner{width:48px;height:48px;border:4px solid #e2e8f0;border-top-color:#6366f1;border-radius:50%%;animation:spin 1s linear infinite}
@keyframes spin{to{transform:rotate(360deg)}}
.error{color:#b91c1c;margin-top:1rem}
</style>
</head>
<body>
<div class="spinner"></div>
%s
<p><a href="">Refresh</a></p>
</body>
</html>`

// LoadingPage renders the spinner shown while the session cannot be
// resolved, with err inline when present.
func LoadingPage(w http.ResponseWriter, err error) {
	detail := ""
	if err != nil {
		detail = `<p class="error">` + html.EscapeString(err.Error()) + `</p>`
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, loadingTemplate, detail)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
