package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"toolgrid.org/internal/access"
)

type companyGrantStore struct {
	db *sql.DB
}

func (s *companyGrantStore) Upsert(ctx context.Context, g *access.CompanyGrant) error {
	if _, err := s.db.ExecContext(ctx, `
		insert into company_grants (tenant_id, tool_id, level, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (tenant_id, tool_id) do update
		set level = excluded.level, active = excluded.active, updated_at = excluded.updated_at
	`, g.TenantID, g.ToolID, string(g.Level), g.Active, g.CreatedAt, g.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *companyGrantStore) FindActive(ctx context.Context, tenantID, toolID string) (*access.CompanyGrant, error) {
	var g access.CompanyGrant
	err := s.db.QueryRowContext(ctx, `
		select tenant_id, tool_id, level, active, created_at, updated_at
		from company_grants
		where tenant_id = $1 and tool_id = $2 and active
	`, tenantID, toolID).Scan(&g.TenantID, &g.ToolID, (*string)(&g.Level), &g.Active, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: company grant (%s, %s)", access.ErrNotFound, tenantID, toolID)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *companyGrantStore) ListActiveByTenant(ctx context.Context, tenantID string) ([]*access.CompanyGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select tenant_id, tool_id, level, active, created_at, updated_at
		from company_grants
		where tenant_id = $1 and active
		order by tool_id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*access.CompanyGrant
	for rows.Next() {
		var g access.CompanyGrant
		if err := rows.Scan(&g.TenantID, &g.ToolID, (*string)(&g.Level), &g.Active, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}

// Deactivate removes the grant row outright. Company-level revocation is a
// plain removal, unlike user grants which keep an inactive record.
func (s *companyGrantStore) Deactivate(ctx context.Context, tenantID, toolID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from company_grants
		where tenant_id = $1 and tool_id = $2 and active
	`, tenantID, toolID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: company grant (%s, %s)", access.ErrNotFound, tenantID, toolID)
	}
	return nil
}

type userGrantStore struct {
	db *sql.DB
}

func (s *userGrantStore) Upsert(ctx context.Context, g *access.UserGrant) error {
	if _, err := s.db.ExecContext(ctx, `
		insert into user_grants (user_id, tool_id, level, active, expires_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (user_id, tool_id) do update
		set level = excluded.level, active = excluded.active,
		    expires_at = excluded.expires_at, updated_at = excluded.updated_at
	`, g.UserID, g.ToolID, string(g.Level), g.Active, g.ExpiresAt, g.CreatedAt, g.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *userGrantStore) Find(ctx context.Context, userID, toolID string) (*access.UserGrant, error) {
	var g access.UserGrant
	err := s.db.QueryRowContext(ctx, `
		select user_id, tool_id, level, active, expires_at, created_at, updated_at
		from user_grants
		where user_id = $1 and tool_id = $2
	`, userID, toolID).Scan(&g.UserID, &g.ToolID, (*string)(&g.Level), &g.Active, &g.ExpiresAt, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user grant (%s, %s)", access.ErrNotFound, userID, toolID)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *userGrantStore) ListByUser(ctx context.Context, userID string) ([]*access.UserGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, tool_id, level, active, expires_at, created_at, updated_at
		from user_grants
		where user_id = $1
		order by tool_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*access.UserGrant
	for rows.Next() {
		var g access.UserGrant
		if err := rows.Scan(&g.UserID, &g.ToolID, (*string)(&g.Level), &g.Active, &g.ExpiresAt, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}
