package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"toolgrid.org/internal/access"
	"toolgrid.org/internal/audit"
	"toolgrid.org/internal/store/memory"
)

var (
	hashOnce     sync.Once
	testPassHash string
)

const testPassword = "rootpw-123456"

func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		hash, err := access.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		testPassHash = hash
	})
	return testPassHash
}

func newTestAPI(t *testing.T) (*memory.Store, http.Handler) {
	t.Helper()
	withSecret(t, "handlers-test-secret")

	store := memory.New()
	store.SeedTenant(access.Tenant{ID: "tn-alpha", Name: "Alpha", GroupID: "grp-1"})
	store.SeedTenant(access.Tenant{ID: "tn-beta", Name: "Beta", GroupID: "grp-1"})
	store.SeedTenant(access.Tenant{ID: "tn-solo", Name: "Solo"})
	store.SeedTool(access.Tool{ID: "tool-reports", Name: "Reports", Status: access.ToolActive, DisplayOrder: 10})
	store.SeedTool(access.Tool{ID: "tool-billing", Name: "Billing", Status: access.ToolActive, DisplayOrder: 20})
	store.SeedUser(access.User{
		ID:           "root",
		Email:        "root@example.com",
		Role:         access.RoleSuperAdmin,
		PasswordHash: passwordHash(t),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	})
	store.SeedUser(access.User{
		ID:           "u1",
		Email:        "u1@example.com",
		Role:         access.RoleUser,
		PasswordHash: passwordHash(t),
		Tenants:      []string{"tn-alpha", "tn-beta"},
		ActiveTenant: "tn-alpha",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	})

	resolver, err := access.NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	recorder := audit.NewRecorder(nil)
	members, err := access.NewMembershipService(store, recorder)
	if err != nil {
		t.Fatalf("NewMembershipService: %v", err)
	}
	grants, err := access.NewGrantService(store, recorder)
	if err != nil {
		t.Fatalf("NewGrantService: %v", err)
	}

	api := New(Deps{
		Store:    store,
		Resolver: resolver,
		Members:  members,
		Grants:   grants,
		Recorder: recorder,
		Version:  "test",
	})
	return store, api.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, email string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp.Token
}

func TestAuthTokenFlow(t *testing.T) {
	_, handler := newTestAPI(t)

	bad := doJSON(t, handler, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email":    "root@example.com",
		"password": "wrong",
	})
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", bad.Code)
	}
	unknown := doJSON(t, handler, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email":    "ghost@example.com",
		"password": testPassword,
	})
	if unknown.Code != http.StatusUnauthorized {
		t.Fatalf("unknown account: expected 401, got %d", unknown.Code)
	}

	token := login(t, handler, "root@example.com")
	me := doJSON(t, handler, http.MethodGet, "/v1/users/root", token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("self read: expected 200, got %d body %s", me.Code, me.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/v1/users/u1", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	health := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if health.Code != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", health.Code)
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	_, handler := newTestAPI(t)
	token := login(t, handler, "root@example.com")

	created := doJSON(t, handler, http.MethodPost, "/v1/users", token, map[string]string{
		"email":     "new@example.com",
		"password":  "pw-123456",
		"role":      "user",
		"tenant_id": "tn-alpha",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body %s", created.Code, created.Body.String())
	}
	if loc := created.Header().Get("Location"); loc == "" {
		t.Fatal("Location header missing")
	}

	dup := doJSON(t, handler, http.MethodPost, "/v1/users", token, map[string]string{
		"email":     "new@example.com",
		"password":  "pw-123456",
		"role":      "user",
		"tenant_id": "tn-alpha",
	})
	if dup.Code != http.StatusConflict {
		t.Fatalf("duplicate email: expected 409, got %d", dup.Code)
	}

	badRole := doJSON(t, handler, http.MethodPost, "/v1/users", token, map[string]string{
		"email":     "odd@example.com",
		"password":  "pw-123456",
		"role":      "owner",
		"tenant_id": "tn-alpha",
	})
	if badRole.Code != http.StatusBadRequest {
		t.Fatalf("bad role: expected 400, got %d", badRole.Code)
	}
}

func TestMembershipEndpoints(t *testing.T) {
	store, handler := newTestAPI(t)
	token := login(t, handler, "root@example.com")
	selfToken := login(t, handler, "u1@example.com")

	// Remove the active tenant; the engine reassigns and responds 204.
	removed := doJSON(t, handler, http.MethodDelete, "/v1/users/u1/tenants/tn-alpha", token, nil)
	if removed.Code != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d body %s", removed.Code, removed.Body.String())
	}
	user, err := store.Users(context.Background()).Find(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if user.ActiveTenant != "tn-beta" {
		t.Fatalf("active tenant must be reassigned, got %s", user.ActiveTenant)
	}

	// The final membership cannot be removed over HTTP either.
	last := doJSON(t, handler, http.MethodDelete, "/v1/users/u1/tenants/tn-beta", token, nil)
	if last.Code != http.StatusConflict {
		t.Fatalf("last tenant: expected 409, got %d body %s", last.Code, last.Body.String())
	}

	added := doJSON(t, handler, http.MethodPost, "/v1/users/u1/tenants", token, map[string]string{"tenant_id": "tn-alpha"})
	if added.Code != http.StatusNoContent {
		t.Fatalf("add: expected 204, got %d body %s", added.Code, added.Body.String())
	}

	switched := doJSON(t, handler, http.MethodPut, "/v1/users/u1/active-tenant", selfToken, map[string]string{"tenant_id": "tn-alpha"})
	if switched.Code != http.StatusNoContent {
		t.Fatalf("switch: expected 204, got %d body %s", switched.Code, switched.Body.String())
	}
	outside := doJSON(t, handler, http.MethodPut, "/v1/users/u1/active-tenant", selfToken, map[string]string{"tenant_id": "tn-solo"})
	if outside.Code != http.StatusForbidden {
		t.Fatalf("switch outside membership: expected 403, got %d", outside.Code)
	}
}

func TestGrantAndResolveEndpoints(t *testing.T) {
	_, handler := newTestAPI(t)
	token := login(t, handler, "root@example.com")

	granted := doJSON(t, handler, http.MethodPost, "/v1/tenants/tn-alpha/grants", token, map[string]string{
		"tool_id": "tool-reports",
		"level":   "read",
	})
	if granted.Code != http.StatusCreated {
		t.Fatalf("company grant: expected 201, got %d body %s", granted.Code, granted.Body.String())
	}

	resolve := doJSON(t, handler, http.MethodGet, "/v1/users/u1/access/tool-reports", token, nil)
	if resolve.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", resolve.Code)
	}
	var decision access.AccessDecision
	if err := json.Unmarshal(resolve.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if !decision.Granted || decision.Source != access.SourceCompany {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	// Individual revocation beats the standing company grant.
	revoked := doJSON(t, handler, http.MethodDelete, "/v1/users/u1/grants/tool-reports", token, nil)
	if revoked.Code != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d body %s", revoked.Code, revoked.Body.String())
	}
	resolve = doJSON(t, handler, http.MethodGet, "/v1/users/u1/access/tool-reports", token, nil)
	if err := json.Unmarshal(resolve.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decision.Granted {
		t.Fatalf("expected deny after revocation, got %+v", decision)
	}

	tools := doJSON(t, handler, http.MethodGet, "/v1/users/u1/tools", token, nil)
	if tools.Code != http.StatusOK {
		t.Fatalf("tools: expected 200, got %d", tools.Code)
	}
	var listing struct {
		Tools []access.Tool `json:"tools"`
	}
	if err := json.Unmarshal(tools.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(listing.Tools) != 0 {
		t.Fatalf("revoked tool must not be listed: %+v", listing.Tools)
	}
}

func TestGroupEndpoints(t *testing.T) {
	_, handler := newTestAPI(t)
	token := login(t, handler, "root@example.com")

	group := doJSON(t, handler, http.MethodGet, "/v1/tenants/tn-alpha/group", token, nil)
	if group.Code != http.StatusOK {
		t.Fatalf("group: expected 200, got %d", group.Code)
	}
	var tenants struct {
		Tenants []access.Tenant `json:"tenants"`
	}
	if err := json.Unmarshal(group.Body.Bytes(), &tenants); err != nil {
		t.Fatalf("decode tenants: %v", err)
	}
	if len(tenants.Tenants) != 2 {
		t.Fatalf("expected both group members, got %+v", tenants.Tenants)
	}

	pool := doJSON(t, handler, http.MethodGet, "/v1/tenants/tn-beta/group/users", token, nil)
	if pool.Code != http.StatusOK {
		t.Fatalf("pool: expected 200, got %d", pool.Code)
	}
	var users struct {
		Users []access.User `json:"users"`
	}
	if err := json.Unmarshal(pool.Body.Bytes(), &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users.Users) != 1 || users.Users[0].ID != "u1" {
		t.Fatalf("unexpected pool: %+v", users.Users)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, handler := newTestAPI(t)
	token := login(t, handler, "root@example.com")

	rec := doJSON(t, handler, http.MethodPut, "/v1/users", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") == "" {
		t.Fatal("Allow header missing")
	}
}

func TestGroupEndpointsRequireAdminScope(t *testing.T) {
	store, handler := newTestAPI(t)
	store.SeedUser(access.User{
		ID:           "solo",
		Email:        "solo@example.com",
		Role:         access.RoleUser,
		PasswordHash: passwordHash(t),
		Tenants:      []string{"tn-solo"},
		ActiveTenant: "tn-solo",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	})
	store.SeedUser(access.User{
		ID:           "beta-admin",
		Email:        "beta-admin@example.com",
		Role:         access.RoleAdmin,
		PasswordHash: passwordHash(t),
		Tenants:      []string{"tn-beta"},
		ActiveTenant: "tn-beta",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	})

	// A user from an unrelated tenant sees nothing of the group.
	soloToken := login(t, handler, "solo@example.com")
	for _, path := range []string{"/v1/tenants/tn-alpha/group", "/v1/tenants/tn-alpha/group/users"} {
		if rec := doJSON(t, handler, http.MethodGet, path, soloToken, nil); rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d body %s", path, rec.Code, rec.Body.String())
		}
	}

	// Membership alone is not enough; the admin role is required.
	u1Token := login(t, handler, "u1@example.com")
	if rec := doJSON(t, handler, http.MethodGet, "/v1/tenants/tn-alpha/group/users", u1Token, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain member, got %d", rec.Code)
	}

	// An admin reaches a sibling tenant through the group.
	adminToken := login(t, handler, "beta-admin@example.com")
	if rec := doJSON(t, handler, http.MethodGet, "/v1/tenants/tn-alpha/group/users", adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for in-group admin, got %d body %s", rec.Code, rec.Body.String())
	}
}
