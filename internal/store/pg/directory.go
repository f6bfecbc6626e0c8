package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"toolgrid.org/internal/access"
)

type userStore struct {
	db *sql.DB
}

func (s *userStore) Create(ctx context.Context, u *access.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, email, role, password_hash, active_tenant, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, string(u.Role), u.PasswordHash, nullIfEmpty(u.ActiveTenant), u.CreatedAt, u.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	for pos, tenantID := range u.Tenants {
		if _, err := tx.ExecContext(ctx, `
			insert into user_tenants (user_id, tenant_id, position)
			values ($1, $2, $3)
		`, u.ID, tenantID, pos); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (s *userStore) Find(ctx context.Context, id string) (*access.User, error) {
	return findUser(ctx, s.db, `where id = $1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*access.User, error) {
	return findUser(ctx, s.db, `where email = $1`, strings.ToLower(email))
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findUser(ctx context.Context, q querier, where string, arg any) (*access.User, error) {
	var (
		u      access.User
		active sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		select id, email, role, password_hash, active_tenant, created_at, updated_at
		from users `+where,
		arg).Scan(&u.ID, &u.Email, (*string)(&u.Role), &u.PasswordHash, &active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", fmt.Sprint(arg))
	}
	if err != nil {
		return nil, err
	}
	u.ActiveTenant = fromNull(active)

	tenants, err := loadTenantEdges(ctx, q, u.ID)
	if err != nil {
		return nil, err
	}
	u.Tenants = tenants
	return &u, nil
}

func loadTenantEdges(ctx context.Context, q querier, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		select tenant_id
		from user_tenants
		where user_id = $1
		order by position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func (s *userStore) ListByTenants(ctx context.Context, tenantIDs []string) ([]*access.User, error) {
	if len(tenantIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(tenantIDs))
	args := make([]any, len(tenantIDs))
	for i, id := range tenantIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select distinct u.id, u.email, u.role, u.password_hash, u.active_tenant, u.created_at, u.updated_at
		from users u
		join user_tenants ut on ut.user_id = u.id
		where ut.tenant_id in (%s)
		order by u.email
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*access.User
	for rows.Next() {
		var (
			u      access.User
			active sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Email, (*string)(&u.Role), &u.PasswordHash, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.ActiveTenant = fromNull(active)
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, u := range users {
		tenants, err := loadTenantEdges(ctx, s.db, u.ID)
		if err != nil {
			return nil, err
		}
		u.Tenants = tenants
	}
	return users, nil
}

// Mutate locks the user row, applies fn to a snapshot, and persists the
// membership set and active tenant in the same transaction. Concurrent
// mutations on one user serialize on the row lock.
func (s *userStore) Mutate(ctx context.Context, id string, fn func(*access.User) error) (*access.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		u      access.User
		active sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		select id, email, role, password_hash, active_tenant, created_at, updated_at
		from users
		where id = $1
		for update
	`, id).Scan(&u.ID, &u.Email, (*string)(&u.Role), &u.PasswordHash, &active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	u.ActiveTenant = fromNull(active)
	tenants, err := loadTenantEdges(ctx, tx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Tenants = tenants

	if err := fn(&u); err != nil {
		return nil, err
	}
	u.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `delete from user_tenants where user_id = $1`, id); err != nil {
		return nil, err
	}
	for pos, tenantID := range u.Tenants {
		if _, err := tx.ExecContext(ctx, `
			insert into user_tenants (user_id, tenant_id, position)
			values ($1, $2, $3)
		`, id, tenantID, pos); err != nil {
			return nil, mapWriteError(err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		update users set active_tenant = $1, updated_at = $2 where id = $3
	`, nullIfEmpty(u.ActiveTenant), u.UpdatedAt, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notFound("user", id)
	}
	return nil
}

type tenantStore struct {
	db *sql.DB
}

func (s *tenantStore) Create(ctx context.Context, t *access.Tenant) error {
	if _, err := s.db.ExecContext(ctx, `
		insert into tenants (id, name, group_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, t.ID, t.Name, nullIfEmpty(t.GroupID), t.CreatedAt, t.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *tenantStore) Find(ctx context.Context, id string) (*access.Tenant, error) {
	var (
		t     access.Tenant
		group sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, group_id, created_at, updated_at
		from tenants
		where id = $1
	`, id).Scan(&t.ID, &t.Name, &group, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tenant", id)
	}
	if err != nil {
		return nil, err
	}
	t.GroupID = fromNull(group)
	return &t, nil
}

func (s *tenantStore) ListByGroup(ctx context.Context, groupID string) ([]*access.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, group_id, created_at, updated_at
		from tenants
		where group_id = $1
		order by id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*access.Tenant
	for rows.Next() {
		var (
			t     access.Tenant
			group sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Name, &group, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.GroupID = fromNull(group)
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

type toolStore struct {
	db *sql.DB
}

func (s *toolStore) Find(ctx context.Context, id string) (*access.Tool, error) {
	var t access.Tool
	err := s.db.QueryRowContext(ctx, `
		select id, name, status, display_order, created_at, updated_at
		from tools
		where id = $1
	`, id).Scan(&t.ID, &t.Name, (*string)(&t.Status), &t.DisplayOrder, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tool", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *toolStore) List(ctx context.Context) ([]*access.Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, status, display_order, created_at, updated_at
		from tools
		order by display_order, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []*access.Tool
	for rows.Next() {
		var t access.Tool
		if err := rows.Scan(&t.ID, &t.Name, (*string)(&t.Status), &t.DisplayOrder, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tools = append(tools, &t)
	}
	return tools, rows.Err()
}
