package access

import (
	"fmt"
	"strings"
	"time"
)

// Role classifies a user account.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole normalizes and validates a role value.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleSuperAdmin:
		return RoleSuperAdmin, nil
	default:
		return "", fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, raw)
	}
}

// AccessLevel is the capability tier a grant confers on a tool.
type AccessLevel string

const (
	LevelRead  AccessLevel = "read"
	LevelWrite AccessLevel = "write"
	LevelAdmin AccessLevel = "admin"
)

// ParseAccessLevel normalizes and validates an access level value.
func ParseAccessLevel(raw string) (AccessLevel, error) {
	switch AccessLevel(strings.TrimSpace(strings.ToLower(raw))) {
	case LevelRead:
		return LevelRead, nil
	case LevelWrite:
		return LevelWrite, nil
	case LevelAdmin:
		return LevelAdmin, nil
	default:
		return "", fmt.Errorf("%w: unsupported access level %q", ErrInvalidInput, raw)
	}
}

// ToolStatus is the lifecycle state of a catalog tool.
type ToolStatus string

const (
	ToolActive      ToolStatus = "active"
	ToolInactive    ToolStatus = "inactive"
	ToolMaintenance ToolStatus = "maintenance"
)

// AccessSource identifies which rule produced an access decision.
type AccessSource string

const (
	SourceSuperAdmin AccessSource = "super_admin"
	SourceUser       AccessSource = "user"
	SourceCompany    AccessSource = "company"
)

// User is a platform account. Tenants preserves insertion order; the first
// remaining entry becomes the active tenant when the current one is removed.
// A super_admin never holds tenant membership.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	Tenants      []string  `json:"tenants"`
	ActiveTenant string    `json:"active_tenant,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MemberOf reports whether the user belongs to the given tenant.
func (u User) MemberOf(tenantID string) bool {
	for _, t := range u.Tenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

// Tenant is a company account, the unit of data isolation. Tenants sharing a
// non-empty GroupID pool their user base for matrix administration.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GroupID   string    `json:"group_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tool is a catalog entry users can be granted access to.
type Tool struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       ToolStatus `json:"status"`
	DisplayOrder int        `json:"display_order"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CompanyGrant authorizes every member of a tenant at a level. At most one
// active grant exists per (tenant, tool); re-granting updates it in place.
type CompanyGrant struct {
	TenantID  string      `json:"tenant_id"`
	ToolID    string      `json:"tool_id"`
	Level     AccessLevel `json:"level"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// UserGrant overrides the tenant default for one user. The record survives
// deactivation: an inactive UserGrant is an explicit revocation that beats
// any company grant, including one issued later.
type UserGrant struct {
	UserID    string      `json:"user_id"`
	ToolID    string      `json:"tool_id"`
	Level     AccessLevel `json:"level"`
	Active    bool        `json:"active"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Expired reports whether the grant carries an expiry in the past.
func (g UserGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

// AccessDecision is the resolver's answer for one (user, tool) pair.
type AccessDecision struct {
	Granted bool         `json:"granted"`
	Level   AccessLevel  `json:"level,omitempty"`
	Source  AccessSource `json:"source,omitempty"`
}
