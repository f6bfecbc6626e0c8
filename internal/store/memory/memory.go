// Package memory provides an in-process access.Store. It backs the service
// when no database DSN is configured and the engine's unit tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"toolgrid.org/internal/access"
)

type grantKey struct {
	subject string
	tool    string
}

// Store implements access.Store with in-process concurrency safety. All
// mutations run under one lock, which also gives Mutate its per-user
// exclusion boundary for free.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*access.User
	usersByEmail  map[string]string
	tenants       map[string]*access.Tenant
	tools         map[string]*access.Tool
	companyGrants map[grantKey]*access.CompanyGrant
	userGrants    map[grantKey]*access.UserGrant
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]*access.User),
		usersByEmail:  make(map[string]string),
		tenants:       make(map[string]*access.Tenant),
		tools:         make(map[string]*access.Tool),
		companyGrants: make(map[grantKey]*access.CompanyGrant),
		userGrants:    make(map[grantKey]*access.UserGrant),
	}
}

var _ access.Store = (*Store)(nil)

func (s *Store) Users(ctx context.Context) access.UserStore            { return (*userStore)(s) }
func (s *Store) Tenants(ctx context.Context) access.TenantStore        { return (*tenantStore)(s) }
func (s *Store) Tools(ctx context.Context) access.ToolCatalog          { return (*toolStore)(s) }
func (s *Store) CompanyGrants(ctx context.Context) access.CompanyGrantStore {
	return (*companyGrantStore)(s)
}
func (s *Store) UserGrants(ctx context.Context) access.UserGrantStore { return (*userGrantStore)(s) }

// SeedTenant inserts a tenant directly; intended for bootstrap and tests.
func (s *Store) SeedTenant(t access.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.tenants[t.ID] = &cp
}

// SeedTool inserts a tool directly; intended for bootstrap and tests.
func (s *Store) SeedTool(t access.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.tools[t.ID] = &cp
}

// SeedUser inserts a user directly; intended for bootstrap and tests.
func (s *Store) SeedUser(u access.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyUser(&u)
	s.users[u.ID] = cp
	s.usersByEmail[strings.ToLower(u.Email)] = u.ID
}

type userStore Store

func (s *userStore) Create(ctx context.Context, u *access.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return access.ErrConflict
	}
	email := strings.ToLower(u.Email)
	if _, ok := s.usersByEmail[email]; ok {
		return fmt.Errorf("%w: email already registered", access.ErrConflict)
	}
	s.users[u.ID] = copyUser(u)
	s.usersByEmail[email] = u.ID
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*access.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", access.ErrNotFound, id)
	}
	return copyUser(u), nil
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*access.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", access.ErrNotFound, email)
	}
	return copyUser(s.users[id]), nil
}

func (s *userStore) ListByTenants(ctx context.Context, tenantIDs []string) ([]*access.User, error) {
	wanted := make(map[string]struct{}, len(tenantIDs))
	for _, id := range tenantIDs {
		wanted[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*access.User
	for _, u := range s.users {
		for _, t := range u.Tenants {
			if _, ok := wanted[t]; ok {
				out = append(out, copyUser(u))
				break
			}
		}
	}
	return out, nil
}

func (s *userStore) Mutate(ctx context.Context, id string, fn func(*access.User) error) (*access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", access.ErrNotFound, id)
	}
	draft := copyUser(u)
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.UpdatedAt = time.Now().UTC()
	s.users[id] = copyUser(draft)
	return draft, nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", access.ErrNotFound, id)
	}
	delete(s.usersByEmail, strings.ToLower(u.Email))
	delete(s.users, id)
	for key := range s.userGrants {
		if key.subject == id {
			delete(s.userGrants, key)
		}
	}
	return nil
}

type tenantStore Store

func (s *tenantStore) Create(ctx context.Context, t *access.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; ok {
		return access.ErrConflict
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *tenantStore) Find(ctx context.Context, id string) (*access.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %s", access.ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (s *tenantStore) ListByGroup(ctx context.Context, groupID string) ([]*access.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*access.Tenant
	for _, t := range s.tenants {
		if t.GroupID == groupID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type toolStore Store

func (s *toolStore) Find(ctx context.Context, id string) (*access.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("%w: tool %s", access.ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (s *toolStore) List(ctx context.Context) ([]*access.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*access.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

type companyGrantStore Store

func (s *companyGrantStore) Upsert(ctx context.Context, g *access.CompanyGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{subject: g.TenantID, tool: g.ToolID}
	if existing, ok := s.companyGrants[key]; ok {
		g.CreatedAt = existing.CreatedAt
	}
	cp := *g
	s.companyGrants[key] = &cp
	return nil
}

func (s *companyGrantStore) FindActive(ctx context.Context, tenantID, toolID string) (*access.CompanyGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.companyGrants[grantKey{subject: tenantID, tool: toolID}]
	if !ok || !g.Active {
		return nil, fmt.Errorf("%w: company grant (%s, %s)", access.ErrNotFound, tenantID, toolID)
	}
	cp := *g
	return &cp, nil
}

func (s *companyGrantStore) ListActiveByTenant(ctx context.Context, tenantID string) ([]*access.CompanyGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*access.CompanyGrant
	for key, g := range s.companyGrants {
		if key.subject == tenantID && g.Active {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *companyGrantStore) Deactivate(ctx context.Context, tenantID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{subject: tenantID, tool: toolID}
	g, ok := s.companyGrants[key]
	if !ok || !g.Active {
		return fmt.Errorf("%w: company grant (%s, %s)", access.ErrNotFound, tenantID, toolID)
	}
	delete(s.companyGrants, key)
	return nil
}

type userGrantStore Store

func (s *userGrantStore) Upsert(ctx context.Context, g *access.UserGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{subject: g.UserID, tool: g.ToolID}
	if existing, ok := s.userGrants[key]; ok {
		g.CreatedAt = existing.CreatedAt
	}
	cp := *g
	s.userGrants[key] = &cp
	return nil
}

func (s *userGrantStore) Find(ctx context.Context, userID, toolID string) (*access.UserGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.userGrants[grantKey{subject: userID, tool: toolID}]
	if !ok {
		return nil, fmt.Errorf("%w: user grant (%s, %s)", access.ErrNotFound, userID, toolID)
	}
	cp := *g
	return &cp, nil
}

func (s *userGrantStore) ListByUser(ctx context.Context, userID string) ([]*access.UserGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*access.UserGrant
	for key, g := range s.userGrants {
		if key.subject == userID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func copyUser(u *access.User) *access.User {
	cp := *u
	cp.Tenants = append([]string(nil), u.Tenants...)
	return &cp
}
