package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"toolgrid.org/internal/obs"
)

// Resolver answers "does user U have access to tool T, and at what level".
// It is a pure function of its stores and the passed identities; it never
// mutates state and never treats "no access" as an error.
type Resolver struct {
	store Store
	now   func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (useful for expiry tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("access: resolver store is required")
	}
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve evaluates the precedence rules for one (user, tool) pair.
// Strictly ordered, first match wins:
//
//  1. super_admin: unconditional grant at admin level.
//  2. UserGrant present: inactive means explicit revocation (deny even
//     against a later company grant); active but expired means deny;
//     active and current means grant at the user level.
//  3. Active CompanyGrant for the user's active tenant: grant at the
//     company level.
//  4. Deny.
func (r *Resolver) Resolve(ctx context.Context, userID, toolID string) (AccessDecision, error) {
	userID = strings.TrimSpace(userID)
	toolID = strings.TrimSpace(toolID)
	if userID == "" || toolID == "" {
		return AccessDecision{}, fmt.Errorf("%w: user_id and tool_id are required", ErrInvalidInput)
	}

	decision, err := r.resolve(ctx, userID, toolID)
	if err != nil {
		return AccessDecision{}, err
	}
	obs.ObserveAccessDecision(decision.Granted, string(decision.Source))
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, userID, toolID string) (AccessDecision, error) {
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return AccessDecision{}, err
	}
	if _, err := r.store.Tools(ctx).Find(ctx, toolID); err != nil {
		return AccessDecision{}, err
	}

	if user.Role == RoleSuperAdmin {
		return AccessDecision{Granted: true, Level: LevelAdmin, Source: SourceSuperAdmin}, nil
	}

	grant, err := r.store.UserGrants(ctx).Find(ctx, userID, toolID)
	switch {
	case err == nil:
		if !grant.Active {
			return AccessDecision{}, nil
		}
		if grant.Expired(r.now()) {
			return AccessDecision{}, nil
		}
		return AccessDecision{Granted: true, Level: grant.Level, Source: SourceUser}, nil
	case errors.Is(err, ErrNotFound):
		// fall through to the company grant
	default:
		return AccessDecision{}, err
	}

	if user.ActiveTenant != "" {
		cg, err := r.store.CompanyGrants(ctx).FindActive(ctx, user.ActiveTenant, toolID)
		switch {
		case err == nil:
			return AccessDecision{Granted: true, Level: cg.Level, Source: SourceCompany}, nil
		case errors.Is(err, ErrNotFound):
		default:
			return AccessDecision{}, err
		}
	}
	return AccessDecision{}, nil
}

// AccessibleTools lists the tools visible to a user, ordered by display
// order. Candidates are the active tenant's grants plus the user's own
// active grants; explicit revocations, expired grants and non-active tools
// drop out. Super-admins receive the entire catalog regardless of status.
func (r *Resolver) AccessibleTools(ctx context.Context, userID string) ([]Tool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Role == RoleSuperAdmin {
		all, err := r.store.Tools(ctx).List(ctx)
		if err != nil {
			return nil, err
		}
		tools := make([]Tool, 0, len(all))
		for _, t := range all {
			tools = append(tools, *t)
		}
		sortByDisplayOrder(tools)
		return tools, nil
	}

	candidates := make(map[string]struct{})
	if user.ActiveTenant != "" {
		grants, err := r.store.CompanyGrants(ctx).ListActiveByTenant(ctx, user.ActiveTenant)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			candidates[g.ToolID] = struct{}{}
		}
	}

	now := r.now()
	userGrants, err := r.store.UserGrants(ctx).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, g := range userGrants {
		if g.Active && !g.Expired(now) {
			candidates[g.ToolID] = struct{}{}
			continue
		}
		// A revoked or expired user grant vetoes the tool outright.
		delete(candidates, g.ToolID)
	}

	var tools []Tool
	catalog := r.store.Tools(ctx)
	for toolID := range candidates {
		tool, err := catalog.Find(ctx, toolID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if tool.Status != ToolActive {
			continue
		}
		tools = append(tools, *tool)
	}
	sortByDisplayOrder(tools)
	return tools, nil
}

func sortByDisplayOrder(tools []Tool) {
	sort.SliceStable(tools, func(i, j int) bool {
		if tools[i].DisplayOrder != tools[j].DisplayOrder {
			return tools[i].DisplayOrder < tools[j].DisplayOrder
		}
		return tools[i].ID < tools[j].ID
	})
}
