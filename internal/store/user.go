package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

const userColumns = `id, tenant_id, email, username, password_hash, role, status, email_verified,
    failed_login_attempts, locked_until, last_login_at, created_at, updated_at`

const sqlCreateUser = `
INSERT INTO users (` + userColumns + `)
VALUES (:id, :tenant_id, :email, :username, :password_hash, :role, :status, :email_verified,
    :failed_login_attempts, :locked_until, :last_login_at, :created_at, :updated_at)`

func (s *Store) CreateUser(ctx context.Context, user User) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, sqlCreateUser, user)
	return err
}

const sqlSelectUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	var user User
	err := s.db.GetContext(ctx, &user, sqlSelectUserByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

const sqlSelectUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = $1`

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	var user User
	err := s.db.GetContext(ctx, &user, sqlSelectUserByEmail, email)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

const sqlEmailExists = `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.GetContext(ctx, &exists, sqlEmailExists, email)
	return exists, err
}

const sqlCountUsersByTenant = `SELECT COUNT(*) FROM users WHERE tenant_id = $1`

func (s *Store) CountUsersByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountUsersByTenant, tenantID)
	return count, err
}

const sqlUpdateUser = `
UPDATE users
SET email = :email, username = :username, password_hash = :password_hash, role = :role, status = :status,
    email_verified = :email_verified, failed_login_attempts = :failed_login_attempts,
    locked_until = :locked_until, last_login_at = :last_login_at, updated_at = :updated_at
WHERE id = :id`

func (s *Store) UpdateUser(ctx context.Context, user User) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, sqlUpdateUser, user)
	if err != nil {
		return err
	}
	return expectRows(res)
}
