package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"halolight.org/internal/audit"
	"halolight.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type createPermissionRequest struct {
	Action      string `json:"action"`
	Resource    string `json:"resource"`
	Description string `json:"description"`
}

type updateRolePermissionsRequest struct {
	PermissionIDs []string `json:"permissionIds"`
}

type assignRoleRequest struct {
	RoleID string `json:"roleId"`
}

type updateUserStatusRequest struct {
	Status string `json:"status"`
}

type permissionCheckRequest struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

type permissionCheckAnyRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, "manage", "roles") {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	role := &auth.Role{Name: req.Name, Label: req.Label, Description: req.Description}
	if err := a.store.Roles().Create(r.Context(), role); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeData(w, http.StatusCreated, "Role created", role)
}

// handleRoleResource routes /v1/roles/{id}/permissions.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleID := parts[0]
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, "manage", "permissions") {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.Roles().SetPermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.update", map[string]any{
		"role_id": roleID,
		"count":   len(req.PermissionIDs),
	})
	writeData(w, http.StatusOK, "Role permissions updated", nil)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		perms, err := a.store.Permissions().List(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if perms == nil {
			perms = []auth.Permission{}
		}
		writeData(w, http.StatusOK, "", perms)
	case http.MethodPost:
		if !a.ensurePermission(w, r, "manage", "permissions") {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.Action = strings.TrimSpace(req.Action)
		req.Resource = strings.TrimSpace(req.Resource)
		if req.Action == "" || req.Resource == "" {
			writeError(w, r, http.StatusBadRequest, "action and resource are required")
			return
		}
		perm := &auth.Permission{Action: req.Action, Resource: req.Resource, Description: req.Description}
		if err := a.store.Permissions().Create(r.Context(), perm); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.permission.create", map[string]any{
			"permission_id": perm.ID,
			"action":        perm.Action,
			"resource":      perm.Resource,
		})
		writeData(w, http.StatusCreated, "Permission created", perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handlePermissionCheck answers whether the caller holds a permission
// matching the queried action/resource pair, wildcards included.
func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req permissionCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Action) == "" || strings.TrimSpace(req.Resource) == "" {
		writeError(w, r, http.StatusBadRequest, "action and resource are required")
		return
	}

	allowed, err := a.resolver.HasPermission(r.Context(), principal.UserID, req.Action, req.Resource)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]bool{"allowed": allowed})
}

func (a *API) handlePermissionCheckAny(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req permissionCheckAnyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, r, http.StatusBadRequest, "permissions are required")
		return
	}

	allowed, err := a.resolver.HasAnyPermission(r.Context(), principal.UserID, req.Permissions)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]bool{"allowed": allowed})
}

// handleUserResource routes /v1/users/{id}/permissions and
// /v1/users/{id}/roles.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "permissions":
		a.handleUserPermissions(w, r, userID)
	case "roles":
		a.handleUserRoles(w, r, userID)
	case "status":
		a.handleUserStatus(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	// Users may read their own set; anything else needs the admin grant.
	if principal.UserID != userID && !a.ensurePermission(w, r, "manage", "users") {
		return
	}

	perms, err := a.resolver.EffectivePermissions(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeData(w, http.StatusOK, "", perms)
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, "manage", "users") {
		return
	}
	var req updateUserStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Status {
	case auth.UserStatusActive, auth.UserStatusInactive, auth.UserStatusSuspended:
	default:
		writeError(w, r, http.StatusBadRequest, "status must be ACTIVE, INACTIVE or SUSPENDED")
		return
	}

	if err := a.store.Users().UpdateStatus(r.Context(), userID, req.Status); err != nil {
		handleAuthError(w, r, err)
		return
	}
	// Suspension also cuts every live refresh token.
	if req.Status != auth.UserStatusActive {
		if _, err := a.sessions.LogoutAllDevices(r.Context(), userID); err != nil {
			handleAuthError(w, r, err)
			return
		}
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.status.update", map[string]any{
		"user_id": userID,
		"status":  req.Status,
	})
	writeData(w, http.StatusOK, "User status updated", nil)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, "manage", "users") {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "roleId is required")
		return
	}

	if err := a.store.Roles().Assign(r.Context(), userID, req.RoleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.assign_role", map[string]any{
		"user_id": userID,
		"role_id": req.RoleID,
	})
	writeData(w, http.StatusCreated, "Role assigned", nil)
}
