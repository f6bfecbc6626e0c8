package access

import (
	"context"
	"fmt"
)

// authorizeForTenant checks whether the actor may administer tenantID.
// A super_admin always may; an admin may when one of their own memberships
// belongs to the tenant's group (the shared matrix scope); plain users never.
func authorizeForTenant(ctx context.Context, store Store, actor *User, tenantID string) error {
	if actor == nil {
		return fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	switch actor.Role {
	case RoleSuperAdmin:
		return nil
	case RoleAdmin:
		scope, err := groupedTenantIDs(ctx, store, tenantID)
		if err != nil {
			return err
		}
		for _, id := range scope {
			if actor.MemberOf(id) {
				return nil
			}
		}
		return fmt.Errorf("%w: actor does not administer tenant %s", ErrAccessDenied, tenantID)
	default:
		return fmt.Errorf("%w: admin role required", ErrAccessDenied)
	}
}

// authorizeForUser checks whether the actor may administer the target user:
// super_admin, or an admin reaching any of the target's tenants via a group.
func authorizeForUser(ctx context.Context, store Store, actor, target *User) error {
	if actor == nil || target == nil {
		return fmt.Errorf("%w: actor and target are required", ErrInvalidInput)
	}
	if actor.Role == RoleSuperAdmin {
		return nil
	}
	if actor.Role != RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrAccessDenied)
	}
	for _, tenantID := range target.Tenants {
		if err := authorizeForTenant(ctx, store, actor, tenantID); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: actor does not administer user %s", ErrAccessDenied, target.ID)
}

// groupedTenantIDs resolves the tenant's group scope: the tenant itself plus
// every tenant sharing its non-empty group id.
func groupedTenantIDs(ctx context.Context, store Store, tenantID string) ([]string, error) {
	tenant, err := store.Tenants(ctx).Find(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.GroupID == "" {
		return []string{tenant.ID}, nil
	}
	peers, err := store.Tenants(ctx).ListByGroup(ctx, tenant.GroupID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(peers))
	for _, t := range peers {
		ids = append(ids, t.ID)
	}
	return ids, nil
}
