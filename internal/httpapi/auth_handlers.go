package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/audit"
	"fleetops.org/internal/auth"
)

var errRouteRequired = fmt.Errorf("%w: route query parameter is required", apperr.ErrValidation)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginResponse struct {
	User      auth.Principal `json:"user"`
	Redirect  string         `json:"redirect"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	// Keyed on the account alone: the client address comes from a header the
	// caller controls.
	if a.logins != nil && email != "" && !a.logins.allow(email) {
		writeError(w, r, auth.ErrTooManyAttempts)
		return
	}
	res, err := a.deps.Auth.Login(r.Context(), email, req.Password, req.RememberMe)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": email, "reason": apperr.Public(err)})
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, auth.SessionCookie(res.Token, res.TTLDays, a.secureCookie(r)))
	ctx := auth.ContextWithPrincipal(r.Context(), res.Principal)
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"remember_me": req.RememberMe})
	writeData(w, r, http.StatusOK, loginResponse{
		User:      res.Principal,
		Redirect:  res.Redirect,
		ExpiresAt: res.ExpiresAt.UTC(),
	})
}

// logout always succeeds and always clears the cookie.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Auth.Logout(r.Context(), sessionToken(r)); err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, auth.ClearSessionCookie(a.secureCookie(r)))
	writeData(w, r, http.StatusOK, map[string]any{"logged_out": true})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	writeData(w, r, http.StatusOK, map[string]any{
		"user":     p,
		"class":    p.Role.Class().String(),
		"redirect": auth.DefaultRoute(p.Role),
	})
}

// access answers the page layer: may the current user open route?
func (a *API) access(w http.ResponseWriter, r *http.Request) {
	route := strings.TrimSpace(r.URL.Query().Get("route"))
	if route == "" {
		writeError(w, r, errRouteRequired)
		return
	}
	writeData(w, r, http.StatusOK, auth.Authorize(principal(r).Role, route))
}

// secureCookie marks cookies Secure in production and on any TLS request.
func (a *API) secureCookie(r *http.Request) bool {
	return a.deps.SecureCookies || r.TLS != nil
}
