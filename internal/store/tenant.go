package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

const sqlCreateTenant = `
INSERT INTO tenants (id, name, status, max_users, max_calls_per_month, max_storage_mb, features, settings, created_at, updated_at)
VALUES (:id, :name, :status, :max_users, :max_calls_per_month, :max_storage_mb, :features, :settings, :created_at, :updated_at)`

func (s *Store) CreateTenant(ctx context.Context, tenant Tenant) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, sqlCreateTenant, tenant)
	return err
}

const sqlSelectTenantByID = `
SELECT id, name, status, max_users, max_calls_per_month, max_storage_mb, features, settings, created_at, updated_at
FROM tenants
WHERE id = $1`

func (s *Store) GetTenantByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	if err := s.ready(); err != nil {
		return Tenant{}, err
	}
	var tenant Tenant
	err := s.db.GetContext(ctx, &tenant, sqlSelectTenantByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	return tenant, err
}

const sqlTenantNameExists = `SELECT EXISTS(SELECT 1 FROM tenants WHERE LOWER(name) = LOWER($1))`

func (s *Store) TenantNameExists(ctx context.Context, name string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.GetContext(ctx, &exists, sqlTenantNameExists, name)
	return exists, err
}

const sqlUpdateTenant = `
UPDATE tenants
SET name = :name, status = :status, max_users = :max_users, max_calls_per_month = :max_calls_per_month,
    max_storage_mb = :max_storage_mb, features = :features, settings = :settings, updated_at = :updated_at
WHERE id = :id`

func (s *Store) UpdateTenant(ctx context.Context, tenant Tenant) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, sqlUpdateTenant, tenant)
	if err != nil {
		return err
	}
	return expectRows(res)
}

const sqlDeleteTenant = `DELETE FROM tenants WHERE id = $1`

func (s *Store) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, sqlDeleteTenant, id)
	return err
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
