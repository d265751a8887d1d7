package handlers

import (
	"net/http"
	"strings"

	"github.com/eldtechnologies/agentdeck/internal/api/middleware"
	"github.com/eldtechnologies/agentdeck/internal/auth"
)

// SessionResponse reports the gate state of the caller.
type SessionResponse struct {
	State     auth.State `json:"state"`
	UserID    string     `json:"user_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt string     `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func sessionResponse(res auth.Result) SessionResponse {
	resp := SessionResponse{State: res.State}
	if res.Identity != nil {
		resp.UserID = res.Identity.UserID.String()
		resp.Email = res.Identity.Email
		if !res.Identity.ExpiresAt.IsZero() {
			resp.ExpiresAt = res.Identity.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	if res.State == auth.StateLoading && res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// Session reports whether the caller is signed in. It answers for every
// state so clients can decide where to go.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, sessionResponse(h.Auth.Resolve(r)))
}

type callbackRequest struct {
	AccessToken string `json:"access_token"`
}

// wantsJSON reports whether the caller is an API client rather than a browser.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// callbackToken reads the access token from a JSON body, a form field or
// the Authorization header.
func callbackToken(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req callbackRequest
		if err := decodeJSON(r, &req); err == nil && req.AccessToken != "" {
			return req.AccessToken
		}
	} else if v := r.FormValue("access_token"); v != "" {
		return v
	}
	return auth.TokenFromRequest(r)
}

// Callback completes sign in: it verifies the provider's token, makes sure
// the profile and settings rows exist, stores the session cookie and sends
// the browser to the dashboard.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	token := callbackToken(r)
	res := h.Auth.Verify(token)
	switch res.State {
	case auth.StateLoading:
		h.loading(w, r, res.Err)
		return
	case auth.StateUnauthenticated:
		if wantsJSON(r) {
			h.Error(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	id := res.Identity
	if _, err := h.Store.EnsureProfile(r.Context(), id.UserID, usernameFor(id)); err != nil {
		h.logger.Error().Err(err).Str("user", id.UserID.String()).Msg("profile bootstrap failed")
		h.loading(w, r, err)
		return
	}
	if _, err := h.Store.EnsureUserSettings(r.Context(), id.UserID, h.AgentQuota); err != nil {
		h.logger.Error().Err(err).Str("user", id.UserID.String()).Msg("settings bootstrap failed")
		h.loading(w, r, err)
		return
	}

	auth.SetSessionCookie(w, token, h.Auth.SessionTTL(), h.SecureCookies)
	h.logger.Info().Str("user", id.UserID.String()).Msg("signed in")

	if wantsJSON(r) {
		h.JSON(w, http.StatusOK, sessionResponse(res))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout clears the session cookies and drops the server side chat state.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if res := h.Auth.Resolve(r); res.Identity != nil {
		dropped := h.Sessions.Drop(res.Identity.UserID)
		h.logger.Info().Str("user", res.Identity.UserID.String()).Int("sessions", dropped).Msg("signed out")
	}
	auth.ClearSessionCookies(w, h.SecureCookies)

	if wantsJSON(r) {
		h.JSON(w, http.StatusOK, SessionResponse{State: auth.StateUnauthenticated})
		return
	}
	http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
}

func (h *Handler) loading(w http.ResponseWriter, r *http.Request, err error) {
	if wantsJSON(r) {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		h.JSON(w, http.StatusServiceUnavailable, map[string]string{"state": string(auth.StateLoading), "error": msg})
		return
	}
	middleware.LoadingPage(w, err)
}

// usernameFor picks the profile username: provider metadata, then the
// email's local part, then a short id.
func usernameFor(id *auth.Identity) string {
	if name := sanitizeName(id.Username); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(id.Email, "@"); ok && local != "" {
		return sanitizeName(local)
	}
	return "user-" + id.UserID.String()[:8]
}
