package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"toolgrid.org/internal/audit"
	"toolgrid.org/internal/ids"
	"toolgrid.org/internal/obs"
)

// MembershipService enforces the tenant-membership invariants: a non-super
// user always belongs to at least one tenant, and the active tenant is
// always a member of the membership set.
type MembershipService struct {
	store Store
	audit *audit.Recorder
	now   func() time.Time
}

// MembershipOption configures MembershipService behavior.
type MembershipOption func(*MembershipService)

// WithMembershipClock overrides the time source (useful for tests).
func WithMembershipClock(fn func() time.Time) MembershipOption {
	return func(s *MembershipService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewMembershipService constructs the manager. The recorder may be nil, in
// which case audit events are dropped.
func NewMembershipService(store Store, recorder *audit.Recorder, opts ...MembershipOption) (*MembershipService, error) {
	if store == nil {
		return nil, errors.New("access: membership store is required")
	}
	s := &MembershipService{store: store, audit: recorder, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateUser provisions an account from the invite flow. Non-super roles
// require an initial tenant so the at-least-one-membership invariant holds
// from the first write; super_admin accounts never hold membership.
func (s *MembershipService) CreateUser(ctx context.Context, actorID, email, password string, role Role, tenantID string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	tenantID = strings.TrimSpace(tenantID)

	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return nil, err
	}
	switch role {
	case RoleSuperAdmin:
		if actor.Role != RoleSuperAdmin {
			return nil, fmt.Errorf("%w: only a super_admin may create super_admin accounts", ErrAccessDenied)
		}
		if tenantID != "" {
			return nil, fmt.Errorf("%w: super_admin accounts hold no tenant membership", ErrInvalidState)
		}
	case RoleUser, RoleAdmin:
		if tenantID == "" {
			return nil, fmt.Errorf("%w: an initial tenant is required", ErrInvalidInput)
		}
		if err := s.authorizeForTenant(ctx, actor, tenantID); err != nil {
			return nil, err
		}
		if _, err := s.store.Tenants(ctx).Find(ctx, tenantID); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if tenantID != "" {
		user.Tenants = []string{tenantID}
		user.ActiveTenant = tenantID
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor.ID, "user.create", "user", user.ID, map[string]string{
		"email":  user.Email,
		"role":   string(user.Role),
		"tenant": tenantID,
	})
	return user, nil
}

// DeleteUser removes the account entirely. This is the sanctioned path when
// an admin wants to take away a user's last membership.
func (s *MembershipService) DeleteUser(ctx context.Context, userID, actorID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return err
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.authorizeForUser(ctx, actor, user); err != nil {
		return err
	}
	if err := s.store.Users(ctx).Delete(ctx, userID); err != nil {
		return err
	}
	s.audit.Record(ctx, actor.ID, "user.delete", "user", userID, map[string]string{
		"email": user.Email,
	})
	return nil
}

// AddUserToTenant appends a membership edge. Idempotent: adding an existing
// membership succeeds as a no-op. The active tenant is left untouched unless
// the user had none.
func (s *MembershipService) AddUserToTenant(ctx context.Context, userID, tenantID, actorID string) error {
	userID = strings.TrimSpace(userID)
	tenantID = strings.TrimSpace(tenantID)
	if userID == "" || tenantID == "" {
		return fmt.Errorf("%w: user_id and tenant_id are required", ErrInvalidInput)
	}
	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return err
	}
	if err := s.authorizeForTenant(ctx, actor, tenantID); err != nil {
		return err
	}
	if _, err := s.store.Tenants(ctx).Find(ctx, tenantID); err != nil {
		return err
	}

	added := false
	_, err = s.store.Users(ctx).Mutate(ctx, userID, func(u *User) error {
		if u.Role == RoleSuperAdmin {
			return fmt.Errorf("%w: super_admin accounts hold no tenant membership", ErrInvalidState)
		}
		if u.MemberOf(tenantID) {
			return nil
		}
		u.Tenants = append(u.Tenants, tenantID)
		if u.ActiveTenant == "" {
			u.ActiveTenant = tenantID
		}
		added = true
		return nil
	})
	if err != nil {
		return err
	}
	if added {
		obs.ObserveMembershipMutation("add")
		s.audit.Record(ctx, actor.ID, "membership.add", "user", userID, map[string]string{
			"tenant_id": tenantID,
		})
	}
	return nil
}

// RemoveUserFromTenant drops a membership edge. Removing the only membership
// fails with ErrLastTenant; removing the active tenant reassigns the active
// context to the first remaining membership in insertion order, atomically
// with the removal.
func (s *MembershipService) RemoveUserFromTenant(ctx context.Context, userID, tenantID, actorID string) error {
	userID = strings.TrimSpace(userID)
	tenantID = strings.TrimSpace(tenantID)
	if userID == "" || tenantID == "" {
		return fmt.Errorf("%w: user_id and tenant_id are required", ErrInvalidInput)
	}
	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return err
	}
	if err := s.authorizeForTenant(ctx, actor, tenantID); err != nil {
		return err
	}

	_, err = s.store.Users(ctx).Mutate(ctx, userID, func(u *User) error {
		if !u.MemberOf(tenantID) {
			return fmt.Errorf("%w: user is not a member of tenant %s", ErrNotFound, tenantID)
		}
		if len(u.Tenants) == 1 {
			return fmt.Errorf("%w: delete the user instead", ErrLastTenant)
		}
		remaining := make([]string, 0, len(u.Tenants)-1)
		for _, t := range u.Tenants {
			if t != tenantID {
				remaining = append(remaining, t)
			}
		}
		u.Tenants = remaining
		if u.ActiveTenant == tenantID {
			u.ActiveTenant = remaining[0]
		}
		return nil
	})
	if err != nil {
		return err
	}
	obs.ObserveMembershipMutation("remove")
	s.audit.Record(ctx, actor.ID, "membership.remove", "user", userID, map[string]string{
		"tenant_id": tenantID,
	})
	return nil
}

// SwitchActiveTenant changes the user's working context. A super_admin may
// switch to any existing tenant; everyone else only within their own
// membership set. actorID attributes the audit event when someone else
// performs the switch; blank means the user acted for themselves.
func (s *MembershipService) SwitchActiveTenant(ctx context.Context, userID, newTenantID, actorID string) error {
	userID = strings.TrimSpace(userID)
	newTenantID = strings.TrimSpace(newTenantID)
	if userID == "" || newTenantID == "" {
		return fmt.Errorf("%w: user_id and tenant_id are required", ErrInvalidInput)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = userID
	}
	if _, err := s.store.Tenants(ctx).Find(ctx, newTenantID); err != nil {
		return err
	}

	_, err := s.store.Users(ctx).Mutate(ctx, userID, func(u *User) error {
		if u.Role != RoleSuperAdmin && !u.MemberOf(newTenantID) {
			return fmt.Errorf("%w: tenant %s is not in the membership set", ErrAccessDenied, newTenantID)
		}
		u.ActiveTenant = newTenantID
		return nil
	})
	if err != nil {
		return err
	}
	obs.ObserveMembershipMutation("switch")
	s.audit.Record(ctx, actorID, "membership.switch", "user", userID, map[string]string{
		"tenant_id": newTenantID,
	})
	return nil
}

// AuthorizeTenantAdmin reports whether actorID may administer tenantID:
// a super_admin always, an admin when their own memberships reach the tenant
// through its group. Read surfaces over the group matrix use this to apply
// the same scope as the mutation paths.
func (s *MembershipService) AuthorizeTenantAdmin(ctx context.Context, actorID, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return err
	}
	return authorizeForTenant(ctx, s.store, actor, tenantID)
}

// GroupedTenants returns the tenant itself plus all tenants sharing its
// group, or just the tenant when it is ungrouped.
func (s *MembershipService) GroupedTenants(ctx context.Context, tenantID string) ([]Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	tenant, err := s.store.Tenants(ctx).Find(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.GroupID == "" {
		return []Tenant{*tenant}, nil
	}
	peers, err := s.store.Tenants(ctx).ListByGroup(ctx, tenant.GroupID)
	if err != nil {
		return nil, err
	}
	out := make([]Tenant, 0, len(peers))
	for _, t := range peers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GroupUserPool returns the deduplicated union of users belonging to any
// tenant in the group. The result is the same whichever group member is
// queried, ordered by email for stable matrix rendering.
func (s *MembershipService) GroupUserPool(ctx context.Context, tenantID string) ([]User, error) {
	tenants, err := s.GroupedTenants(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tenantIDs := make([]string, 0, len(tenants))
	for _, t := range tenants {
		tenantIDs = append(tenantIDs, t.ID)
	}
	users, err := s.store.Users(ctx).ListByTenants(ctx, tenantIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(users))
	out := make([]User, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// authorizeForTenant allows a super_admin, or an admin whose own memberships
// reach tenantID through its group.
func (s *MembershipService) authorizeForTenant(ctx context.Context, actor *User, tenantID string) error {
	return authorizeForTenant(ctx, s.store, actor, tenantID)
}

// authorizeForUser allows a super_admin, or an admin sharing at least one
// grouped tenant with the target user.
func (s *MembershipService) authorizeForUser(ctx context.Context, actor, target *User) error {
	return authorizeForUser(ctx, s.store, actor, target)
}
