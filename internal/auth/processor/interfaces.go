package processor

//go:generate go run go.uber.org/mock/mockgen@latest -source=interfaces.go -destination=mocks_test.go -package=processor

import (
	"context"
	"time"

	"ai-hotline/internal/store"

	"github.com/google/uuid"
)

// AuthStore defines the database operations required by AuthProcessor
type AuthStore interface {
	TenantNameExists(ctx context.Context, name string) (bool, error)
	CreateTenant(ctx context.Context, tenant store.Tenant) error
	DeleteTenant(ctx context.Context, id uuid.UUID) error
	GetTenantByID(ctx context.Context, id uuid.UUID) (store.Tenant, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUser(ctx context.Context, user store.User) error
	CountUsersByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// TokenBlacklist tracks revoked token ids until they would have expired anyway.
type TokenBlacklist interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
