package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"toolgrid.org/internal/audit"
)

// GrantService owns the four grant mutations. Company grants upsert in
// place and revoke by clearing active status; user grants upsert and revoke
// by retaining (or creating) the record with Active=false, because that
// record is the explicit revocation the resolver honors.
type GrantService struct {
	store Store
	audit *audit.Recorder
	now   func() time.Time
}

// GrantOption configures GrantService behavior.
type GrantOption func(*GrantService)

// WithGrantClock overrides the time source (useful for tests).
func WithGrantClock(fn func() time.Time) GrantOption {
	return func(s *GrantService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewGrantService constructs the service. The recorder may be nil, in which
// case audit events are dropped.
func NewGrantService(store Store, recorder *audit.Recorder, opts ...GrantOption) (*GrantService, error) {
	if store == nil {
		return nil, errors.New("access: grant store is required")
	}
	s := &GrantService{store: store, audit: recorder, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GrantCompanyAccess upserts the single active grant for (tenant, tool).
// Re-granting an existing pair updates the level in place.
func (s *GrantService) GrantCompanyAccess(ctx context.Context, tenantID, toolID string, level AccessLevel, actorID string) (*CompanyGrant, error) {
	tenantID = strings.TrimSpace(tenantID)
	toolID = strings.TrimSpace(toolID)
	if tenantID == "" || toolID == "" {
		return nil, fmt.Errorf("%w: tenant_id and tool_id are required", ErrInvalidInput)
	}
	if _, err := ParseAccessLevel(string(level)); err != nil {
		return nil, err
	}
	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return nil, err
	}
	if err := authorizeForTenant(ctx, s.store, actor, tenantID); err != nil {
		return nil, err
	}
	if _, err := s.store.Tenants(ctx).Find(ctx, tenantID); err != nil {
		return nil, err
	}
	if err := s.requireGrantableTool(ctx, toolID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	grant := &CompanyGrant{
		TenantID:  tenantID,
		ToolID:    toolID,
		Level:     level,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CompanyGrants(ctx).Upsert(ctx, grant); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor.ID, "grant.company.create", "tenant", tenantID, map[string]string{
		"tool_id": toolID,
		"level":   string(level),
	})
	return grant, nil
}

// RevokeCompanyAccess removes the active grant for (tenant, tool). Unlike
// user revocations no tombstone is kept; nothing downstream depends on one.
func (s *GrantService) RevokeCompanyAccess(ctx context.Context, tenantID, toolID, actorID string) error {
	tenantID = strings.TrimSpace(tenantID)
	toolID = strings.TrimSpace(toolID)
	if tenantID == "" || toolID == "" {
		return fmt.Errorf("%w: tenant_id and tool_id are required", ErrInvalidInput)
	}
	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return err
	}
	if err := authorizeForTenant(ctx, s.store, actor, tenantID); err != nil {
		return err
	}
	if err := s.store.CompanyGrants(ctx).Deactivate(ctx, tenantID, toolID); err != nil {
		return err
	}
	s.audit.Record(ctx, actor.ID, "grant.company.revoke", "tenant", tenantID, map[string]string{
		"tool_id": toolID,
	})
	return nil
}

// GrantUserAccess upserts a user-level override, optionally expiring. It
// reactivates a previously revoked record in place.
func (s *GrantService) GrantUserAccess(ctx context.Context, userID, toolID string, level AccessLevel, expiresAt *time.Time, actorID string) (*UserGrant, error) {
	userID = strings.TrimSpace(userID)
	toolID = strings.TrimSpace(toolID)
	if userID == "" || toolID == "" {
		return nil, fmt.Errorf("%w: user_id and tool_id are required", ErrInvalidInput)
	}
	if _, err := ParseAccessLevel(string(level)); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if expiresAt != nil && expiresAt.Before(now) {
		return nil, fmt.Errorf("%w: expires_at is in the past", ErrInvalidInput)
	}
	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return nil, err
	}
	target, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := authorizeForUser(ctx, s.store, actor, target); err != nil {
		return nil, err
	}
	if err := s.requireGrantableTool(ctx, toolID); err != nil {
		return nil, err
	}

	grant := &UserGrant{
		UserID:    userID,
		ToolID:    toolID,
		Level:     level,
		Active:    true,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Re-grants keep the original creation timestamp, matching what the
	// stores persist.
	existing, err := s.store.UserGrants(ctx).Find(ctx, userID, toolID)
	switch {
	case err == nil:
		grant.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}
	if err := s.store.UserGrants(ctx).Upsert(ctx, grant); err != nil {
		return nil, err
	}
	meta := map[string]string{
		"tool_id": toolID,
		"level":   string(level),
	}
	if expiresAt != nil {
		meta["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	s.audit.Record(ctx, actor.ID, "grant.user.create", "user", userID, meta)
	return grant, nil
}

// RevokeUserAccess marks the user grant inactive, creating the record when
// none exists: the explicit revocation must be able to override a company
// grant even if the user never had an individual grant before.
func (s *GrantService) RevokeUserAccess(ctx context.Context, userID, toolID, actorID string) error {
	userID = strings.TrimSpace(userID)
	toolID = strings.TrimSpace(toolID)
	if userID == "" || toolID == "" {
		return fmt.Errorf("%w: user_id and tool_id are required", ErrInvalidInput)
	}
	actor, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return err
	}
	target, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := authorizeForUser(ctx, s.store, actor, target); err != nil {
		return err
	}
	if _, err := s.store.Tools(ctx).Find(ctx, toolID); err != nil {
		return err
	}

	now := s.now().UTC()
	grant := &UserGrant{
		UserID:    userID,
		ToolID:    toolID,
		Level:     LevelRead,
		Active:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	existing, err := s.store.UserGrants(ctx).Find(ctx, userID, toolID)
	switch {
	case err == nil:
		grant.Level = existing.Level
		grant.ExpiresAt = existing.ExpiresAt
		grant.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}
	if err := s.store.UserGrants(ctx).Upsert(ctx, grant); err != nil {
		return err
	}
	s.audit.Record(ctx, actor.ID, "grant.user.revoke", "user", userID, map[string]string{
		"tool_id": toolID,
	})
	return nil
}

// requireGrantableTool ensures the tool exists and is in the active
// lifecycle state; only active tools are grantable or toggleable.
func (s *GrantService) requireGrantableTool(ctx context.Context, toolID string) error {
	tool, err := s.store.Tools(ctx).Find(ctx, toolID)
	if err != nil {
		return err
	}
	if tool.Status != ToolActive {
		return fmt.Errorf("%w: tool %s is %s", ErrInvalidState, toolID, tool.Status)
	}
	return nil
}
