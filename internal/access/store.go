package access

import "context"

// Store describes persistence operations required by the access engine.
// Implementations live under internal/store.
type Store interface {
	Users(ctx context.Context) UserStore
	Tenants(ctx context.Context) TenantStore
	Tools(ctx context.Context) ToolCatalog
	CompanyGrants(ctx context.Context) CompanyGrantStore
	UserGrants(ctx context.Context) UserGrantStore
}

// UserStore manages user accounts and their membership edges.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByTenants(ctx context.Context, tenantIDs []string) ([]*User, error)
	// Mutate applies fn to the user's membership state under a per-user
	// exclusion boundary. The last-tenant check and the active-tenant
	// reassignment must observe one consistent snapshot, so fn runs inside
	// a transaction (or equivalent lock) and its changes to Tenants and
	// ActiveTenant are persisted atomically.
	Mutate(ctx context.Context, id string, fn func(*User) error) (*User, error)
	Delete(ctx context.Context, id string) error
}

// TenantStore manages company accounts.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	ListByGroup(ctx context.Context, groupID string) ([]*Tenant, error)
}

// ToolCatalog provides tool status lookups. The engine never mutates tools.
type ToolCatalog interface {
	Find(ctx context.Context, id string) (*Tool, error)
	List(ctx context.Context) ([]*Tool, error)
}

// CompanyGrantStore manages tenant-scoped grants. Revocation is a true
// removal of active status; no override semantics depend on its tombstone.
type CompanyGrantStore interface {
	Upsert(ctx context.Context, g *CompanyGrant) error
	FindActive(ctx context.Context, tenantID, toolID string) (*CompanyGrant, error)
	ListActiveByTenant(ctx context.Context, tenantID string) ([]*CompanyGrant, error)
	Deactivate(ctx context.Context, tenantID, toolID string) error
}

// UserGrantStore manages user-scoped grants and revocations. Records are
// never physically removed: a row with Active=false is the explicit
// revocation signal the resolver depends on, so revoking upserts the flag.
type UserGrantStore interface {
	Upsert(ctx context.Context, g *UserGrant) error
	Find(ctx context.Context, userID, toolID string) (*UserGrant, error)
	ListByUser(ctx context.Context, userID string) ([]*UserGrant, error)
}
