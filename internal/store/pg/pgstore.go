// Package pg implements access.Store on PostgreSQL via the pgx stdlib
// driver. Membership mutations run inside a transaction holding a row lock
// on the user, which provides the per-user exclusion the engine requires.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"toolgrid.org/internal/access"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store holds the shared connection pool.
type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

// Open connects to PostgreSQL and tunes pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool; used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(ctx context.Context) access.UserStore     { return &userStore{db: s.db} }
func (s *Store) Tenants(ctx context.Context) access.TenantStore { return &tenantStore{db: s.db} }
func (s *Store) Tools(ctx context.Context) access.ToolCatalog   { return &toolStore{db: s.db} }
func (s *Store) CompanyGrants(ctx context.Context) access.CompanyGrantStore {
	return &companyGrantStore{db: s.db}
}
func (s *Store) UserGrants(ctx context.Context) access.UserGrantStore {
	return &userGrantStore{db: s.db}
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNull(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", access.ErrNotFound, entity, id)
}
