package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/auth"
)

// sessionToken reads the session cookie.
func sessionToken(r *http.Request) string {
	c, err := r.Cookie(auth.SessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// withSession resolves the session cookie to a principal. Requests without a
// live session are rejected with 401.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token := sessionToken(r)
		if token == "" {
			writeError(w, r, auth.ErrInvalidSession)
			return
		}
		principal, err := a.deps.Auth.Authenticate(r.Context(), token)
		if err != nil {
			if apperr.Code(err) == "UNAUTHENTICATED" {
				http.SetCookie(w, auth.ClearSessionCookie(a.secureCookie(r)))
			}
			writeError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated actor. withSession guarantees one on
// every route it wraps.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

// requireRoute applies the page access map to an API call, so the API never
// grants more than the page a route belongs to.
func requireRoute(r *http.Request, route string) (auth.Principal, error) {
	p := principal(r)
	if d := auth.Authorize(p.Role, route); !d.Allowed {
		return p, fmt.Errorf("%w: %s cannot access %s", apperr.ErrForbidden, p.Role, route)
	}
	return p, nil
}

// requirePermission narrows the built-in role checks with the role registry.
// Built-in roles keep their static access until a role of the same name is
// defined; from then on that definition must hold module.action.
func (a *API) requirePermission(r *http.Request, module, action string) error {
	if a.deps.Registry == nil {
		return nil
	}
	p := principal(r)
	defined, err := a.deps.Registry.Defines(r.Context(), string(p.Role))
	if err != nil || !defined {
		return err
	}
	ok, err := a.deps.Registry.Can(r.Context(), string(p.Role), module, action)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: role %s lacks %s", apperr.ErrForbidden, p.Role, auth.PermissionName(module, action))
	}
	return nil
}

// requireRoles allows only the listed roles.
func requireRoles(r *http.Request, roles ...auth.Role) (auth.Principal, error) {
	p := principal(r)
	if !p.HasRole(roles...) {
		return p, fmt.Errorf("%w: role %s is not allowed", apperr.ErrForbidden, p.Role)
	}
	return p, nil
}
