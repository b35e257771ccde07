package httpapi

import (
	"fmt"
	"net/http"

	"fleetops.org/internal/audit"
	"fleetops.org/internal/auth"
)

type createRoleRequest struct {
	Name          string   `json:"name" validate:"required,max=100"`
	Description   string   `json:"description" validate:"max=500"`
	PermissionIDs []string `json:"permission_ids"`
}

type rolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=200"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required"`
	VesselID string `json:"vessel_id"`
}

type userStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE DISABLED"`
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoute(r, "/roles"); err != nil {
		writeError(w, r, err)
		return
	}
	roles, err := a.deps.Registry.ListRoles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.RoleDefinition{}
	}
	writeData(w, r, http.StatusOK, roles)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoute(r, "/roles"); err != nil {
		writeError(w, r, err)
		return
	}
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := a.deps.Registry.CreateRole(r.Context(), req.Name, req.Description, req.PermissionIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": len(role.Permissions),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeData(w, r, http.StatusCreated, role)
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoute(r, "/roles"); err != nil {
		writeError(w, r, err)
		return
	}
	var req rolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := a.deps.Registry.SetRolePermissions(r.Context(), vars(r, "id"), req.PermissionIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.update", map[string]any{
		"role_id":     role.ID,
		"permissions": len(role.Permissions),
	})
	writeData(w, r, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoute(r, "/roles"); err != nil {
		writeError(w, r, err)
		return
	}
	id := vars(r, "id")
	if err := a.deps.Registry.DeleteRole(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{"role_id": id})
	writeData(w, r, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoute(r, "/roles"); err != nil {
		writeError(w, r, err)
		return
	}
	groups, err := a.deps.Registry.ListPermissions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, groups)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoute(r, "/users"); err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := auth.UserFilter{VesselID: q.Get("vessel_id"), Status: q.Get("status")}
	if raw := q.Get("role"); raw != "" {
		role, err := auth.ParseRole(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Role = role
	}
	users, err := a.deps.Users.ListUsers(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeData(w, r, http.StatusOK, users)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoute(r, "/users"); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := a.deps.Users.GetUser(r.Context(), vars(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, u)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoles(r, auth.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := a.deps.Users.CreateUser(r.Context(), auth.NewUser{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     req.Role,
		VesselID: req.VesselID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
		"target_user": u.ID,
		"target_role": string(u.Role),
		"vessel":      u.VesselID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", u.ID))
	writeData(w, r, http.StatusCreated, u)
}

func (a *API) setUserStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := requireRoles(r, auth.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}
	var req userStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := a.deps.Users.SetStatus(r.Context(), vars(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.status", map[string]any{"target_user": u.ID, "status": u.Status})
	writeData(w, r, http.StatusOK, u)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	actor, err := requireRoles(r, auth.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := vars(r, "id")
	if id == actor.UserID {
		writeError(w, r, errSelfDelete)
		return
	}
	if err := a.deps.Users.DeleteUser(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{"target_user": id})
	writeData(w, r, http.StatusOK, map[string]any{"deleted": id})
}
