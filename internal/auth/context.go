package auth

import "context"

// Principal is the authenticated actor of a request, resolved from the session.
// Role and VesselID come from the user row, never from the request.
type Principal struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Role     Role   `json:"role"`
	VesselID string `json:"vessel_id,omitempty"`
}

// PrincipalFor builds the principal for a stored user.
func PrincipalFor(u User) Principal {
	return Principal{UserID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, VesselID: u.VesselID}
}

// IsShore reports whether the principal has fleet-wide visibility.
func (p Principal) IsShore() bool { return p.Role.IsShore() }

// IsVessel reports whether the principal is crew scoped to one vessel.
func (p Principal) IsVessel() bool { return p.Role.IsVessel() }

// HasRole reports whether the principal holds one of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// CanSeeVessel reports whether the principal may access data owned by vesselID.
func (p Principal) CanSeeVessel(vesselID string) bool {
	if p.IsShore() {
		return true
	}
	return p.IsVessel() && p.VesselID != "" && p.VesselID == vesselID
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw session token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the session token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
