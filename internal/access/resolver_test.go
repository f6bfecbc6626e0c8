package access_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"toolgrid.org/internal/access"
	"toolgrid.org/internal/store/memory"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func seedCatalog(store *memory.Store) {
	store.SeedTenant(access.Tenant{ID: "tn-alpha", Name: "Alpha", GroupID: "grp-1"})
	store.SeedTenant(access.Tenant{ID: "tn-beta", Name: "Beta", GroupID: "grp-1"})
	store.SeedTenant(access.Tenant{ID: "tn-solo", Name: "Solo"})
	store.SeedTool(access.Tool{ID: "tool-reports", Name: "Reports", Status: access.ToolActive, DisplayOrder: 10})
	store.SeedTool(access.Tool{ID: "tool-billing", Name: "Billing", Status: access.ToolActive, DisplayOrder: 20})
	store.SeedTool(access.Tool{ID: "tool-legacy", Name: "Legacy", Status: access.ToolInactive, DisplayOrder: 30})
}

func newResolverFixture(t *testing.T) (*memory.Store, *access.Resolver) {
	t.Helper()
	store := memory.New()
	seedCatalog(store)
	resolver, err := access.NewResolver(store, access.WithResolverClock(fixedClock))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return store, resolver
}

func seedMember(store *memory.Store, id string, role access.Role, tenants []string, active string) {
	store.SeedUser(access.User{
		ID:           id,
		Email:        id + "@example.com",
		Role:         role,
		Tenants:      tenants,
		ActiveTenant: active,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	})
}

func grantCompany(t *testing.T, store *memory.Store, tenantID, toolID string, level access.AccessLevel) {
	t.Helper()
	err := store.CompanyGrants(context.Background()).Upsert(context.Background(), &access.CompanyGrant{
		TenantID:  tenantID,
		ToolID:    toolID,
		Level:     level,
		Active:    true,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("company grant upsert: %v", err)
	}
}

func grantUser(t *testing.T, store *memory.Store, userID, toolID string, level access.AccessLevel, active bool, expiresAt *time.Time) {
	t.Helper()
	err := store.UserGrants(context.Background()).Upsert(context.Background(), &access.UserGrant{
		UserID:    userID,
		ToolID:    toolID,
		Level:     level,
		Active:    active,
		ExpiresAt: expiresAt,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("user grant upsert: %v", err)
	}
}

func TestResolveSuperAdminBypassesEverything(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "root", access.RoleSuperAdmin, nil, "")

	// No grants anywhere, tool not even active.
	decision, err := resolver.Resolve(context.Background(), "root", "tool-legacy")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !decision.Granted || decision.Level != access.LevelAdmin || decision.Source != access.SourceSuperAdmin {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestResolveUserGrantOverridesCompanyLevel(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")
	grantCompany(t, store, "tn-alpha", "tool-reports", access.LevelRead)
	grantUser(t, store, "u1", "tool-reports", access.LevelWrite, true, nil)

	decision, err := resolver.Resolve(context.Background(), "u1", "tool-reports")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !decision.Granted || decision.Level != access.LevelWrite || decision.Source != access.SourceUser {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestResolveRevokedUserGrantBeatsCompanyGrant(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")
	grantCompany(t, store, "tn-alpha", "tool-reports", access.LevelWrite)
	grantUser(t, store, "u1", "tool-reports", access.LevelWrite, false, nil)

	decision, err := resolver.Resolve(context.Background(), "u1", "tool-reports")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Granted {
		t.Fatalf("explicit revocation must deny, got %+v", decision)
	}
}

func TestResolveExpiredUserGrantDenies(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")
	expired := testNow.Add(-time.Hour)
	grantUser(t, store, "u1", "tool-reports", access.LevelRead, true, &expired)

	decision, err := resolver.Resolve(context.Background(), "u1", "tool-reports")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Granted {
		t.Fatalf("expired grant must deny, got %+v", decision)
	}
}

func TestResolveFutureExpiryStillGrants(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")
	future := testNow.Add(time.Hour)
	grantUser(t, store, "u1", "tool-reports", access.LevelRead, true, &future)

	decision, err := resolver.Resolve(context.Background(), "u1", "tool-reports")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !decision.Granted || decision.Source != access.SourceUser {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestResolveCompanyGrantFollowsActiveTenant(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha", "tn-beta"}, "tn-alpha")
	grantCompany(t, store, "tn-beta", "tool-reports", access.LevelRead)

	// Active tenant alpha has no grant.
	decision, err := resolver.Resolve(context.Background(), "u1", "tool-reports")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Granted {
		t.Fatalf("grant in a non-active tenant must not apply, got %+v", decision)
	}

	// Switch active context to beta and the same pair now resolves.
	if _, err := store.Users(context.Background()).Mutate(context.Background(), "u1", func(u *access.User) error {
		u.ActiveTenant = "tn-beta"
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	decision, err = resolver.Resolve(context.Background(), "u1", "tool-reports")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !decision.Granted || decision.Source != access.SourceCompany || decision.Level != access.LevelRead {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestResolveDeniesByDefault(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")

	decision, err := resolver.Resolve(context.Background(), "u1", "tool-reports")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Granted {
		t.Fatalf("expected default deny, got %+v", decision)
	}
}

func TestResolveUnknownEntities(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")

	if _, err := resolver.Resolve(context.Background(), "ghost", "tool-reports"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), "u1", "tool-ghost"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown tool, got %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), "", ""); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty ids, got %v", err)
	}
}

func TestAccessibleToolsOrderingAndVetoes(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")

	grantCompany(t, store, "tn-alpha", "tool-billing", access.LevelRead)
	grantCompany(t, store, "tn-alpha", "tool-reports", access.LevelRead)
	grantCompany(t, store, "tn-alpha", "tool-legacy", access.LevelRead)

	// Revocation vetoes billing even though the tenant grants it.
	grantUser(t, store, "u1", "tool-billing", access.LevelRead, false, nil)

	tools, err := resolver.AccessibleTools(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessibleTools: %v", err)
	}
	// tool-legacy is not active, tool-billing is vetoed.
	if len(tools) != 1 || tools[0].ID != "tool-reports" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestAccessibleToolsSortsByDisplayOrder(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")
	grantCompany(t, store, "tn-alpha", "tool-billing", access.LevelRead)
	grantUser(t, store, "u1", "tool-reports", access.LevelRead, true, nil)

	tools, err := resolver.AccessibleTools(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessibleTools: %v", err)
	}
	if len(tools) != 2 || tools[0].ID != "tool-reports" || tools[1].ID != "tool-billing" {
		t.Fatalf("unexpected order: %+v", tools)
	}
}

func TestAccessibleToolsSuperAdminSeesFullCatalog(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "root", access.RoleSuperAdmin, nil, "")

	tools, err := resolver.AccessibleTools(context.Background(), "root")
	if err != nil {
		t.Fatalf("AccessibleTools: %v", err)
	}
	// Full catalog regardless of status.
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %+v", tools)
	}
}

func TestAccessibleToolsExpiredGrantDropsOut(t *testing.T) {
	store, resolver := newResolverFixture(t)
	seedMember(store, "u1", access.RoleUser, []string{"tn-alpha"}, "tn-alpha")
	expired := testNow.Add(-time.Minute)
	grantUser(t, store, "u1", "tool-reports", access.LevelRead, true, &expired)

	tools, err := resolver.AccessibleTools(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessibleTools: %v", err)
	}
	if len(tools) != 0 {
		t.Fatalf("expected no tools, got %+v", tools)
	}
}
