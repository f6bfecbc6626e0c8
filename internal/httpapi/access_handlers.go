package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"toolgrid.org/internal/access"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

type addTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

type switchTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

type grantRequest struct {
	ToolID    string     `json:"tool_id"`
	Level     string     `json:"level"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.store.Users(r.Context()).FindByEmail(r.Context(), req.Email)
	if err != nil {
		// A uniform response keeps account probing blind.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := access.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := GenerateToken(user.ID, user.Role, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	a.recorder.Record(r.Context(), user.ID, "auth.token.issued", "user", user.ID, map[string]string{
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.members.CreateUser(r.Context(), actor.UserID, req.Email, req.Password, role, req.TenantID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

// handleUserResource routes /v1/users/{id} and its subresources.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a.handleGetUser(w, r, actor, userID)
		case http.MethodDelete:
			if err := a.members.DeleteUser(r.Context(), userID, actor.UserID); err != nil {
				handleAccessError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
		return
	}

	switch parts[1] {
	case "tenants":
		a.handleUserTenants(w, r, actor, userID, parts[2:])
	case "active-tenant":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleSwitchTenant(w, r, actor, userID)
	case "tools":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleAccessibleTools(w, r, actor, userID)
	case "access":
		if len(parts) != 3 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleResolve(w, r, actor, userID, parts[2])
	case "grants":
		a.handleUserGrants(w, r, actor, userID, parts[2:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request, actor access.Actor, userID string) {
	if !canReadUser(actor, userID) {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	user, err := a.store.Users(r.Context()).Find(r.Context(), userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserTenants(w http.ResponseWriter, r *http.Request, actor access.Actor, userID string, rest []string) {
	switch len(rest) {
	case 0:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req addTenantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.members.AddUserToTenant(r.Context(), userID, req.TenantID, actor.UserID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.members.RemoveUserFromTenant(r.Context(), userID, rest[0], actor.UserID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleSwitchTenant(w http.ResponseWriter, r *http.Request, actor access.Actor, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	// Switching is a self-service operation.
	if actor.UserID != userID && actor.Role != access.RoleSuperAdmin {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	var req switchTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.members.SwitchActiveTenant(r.Context(), userID, req.TenantID, actor.UserID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAccessibleTools(w http.ResponseWriter, r *http.Request, actor access.Actor, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !canReadUser(actor, userID) {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	tools, err := a.resolver.AccessibleTools(r.Context(), userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
	})
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request, actor access.Actor, userID, toolID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !canReadUser(actor, userID) {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	decision, err := a.resolver.Resolve(r.Context(), userID, toolID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleUserGrants(w http.ResponseWriter, r *http.Request, actor access.Actor, userID string, rest []string) {
	switch len(rest) {
	case 0:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		level, err := access.ParseAccessLevel(req.Level)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.grants.GrantUserAccess(r.Context(), userID, req.ToolID, level, req.ExpiresAt, actor.UserID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, grant)
	case 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.grants.RevokeUserAccess(r.Context(), userID, rest[0], actor.UserID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleTenantResource routes /v1/tenants/{id} subresources.
func (a *API) handleTenantResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	tenantID := parts[0]

	switch parts[1] {
	case "grants":
		a.handleCompanyGrants(w, r, actor, tenantID, parts[2:])
	case "group":
		a.handleGroup(w, r, actor, tenantID, parts[2:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleCompanyGrants(w http.ResponseWriter, r *http.Request, actor access.Actor, tenantID string, rest []string) {
	switch len(rest) {
	case 0:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		level, err := access.ParseAccessLevel(req.Level)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.grants.GrantCompanyAccess(r.Context(), tenantID, req.ToolID, level, actor.UserID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, grant)
	case 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.grants.RevokeCompanyAccess(r.Context(), tenantID, rest[0], actor.UserID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleGroup serves the matrix-administration reads. The pool exposes every
// member of the group, so it carries the same admin scope as the mutations.
func (a *API) handleGroup(w http.ResponseWriter, r *http.Request, actor access.Actor, tenantID string, rest []string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.members.AuthorizeTenantAdmin(r.Context(), actor.UserID, tenantID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	switch len(rest) {
	case 0:
		tenants, err := a.members.GroupedTenants(r.Context(), tenantID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tenants": tenants,
		})
	case 1:
		if rest[0] != "users" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		users, err := a.members.GroupUserPool(r.Context(), tenantID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"users": users,
		})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) requireActor(w http.ResponseWriter, r *http.Request) (access.Actor, bool) {
	actor, ok := access.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return access.Actor{}, false
	}
	return actor, true
}

// canReadUser allows self-reads and any admin-grade actor; per-tenant scope
// for admins is enforced by the services on mutation paths.
func canReadUser(actor access.Actor, userID string) bool {
	if actor.UserID == userID {
		return true
	}
	return actor.Role == access.RoleAdmin || actor.Role == access.RoleSuperAdmin
}
