package store

import (
	"ai-hotline/internal/identity"
)

// ToIdentity converts a tenant row into the domain entity.
func (t Tenant) ToIdentity() *identity.Tenant {
	features := map[string]interface{}(t.Features)
	if features == nil {
		features = identity.DefaultFeatures()
	}
	settings := map[string]interface{}(t.Settings)
	if settings == nil {
		settings = identity.DefaultSettings()
	}
	return &identity.Tenant{
		ID:               t.ID,
		Name:             identity.TenantName(t.Name),
		Status:           identity.TenantStatus(t.Status),
		MaxUsers:         t.MaxUsers,
		MaxCallsPerMonth: t.MaxCallsPerMonth,
		MaxStorageMB:     t.MaxStorageMB,
		Features:         features,
		Settings:         settings,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func TenantFromIdentity(t *identity.Tenant) Tenant {
	return Tenant{
		ID:               t.ID,
		Name:             t.Name.String(),
		Status:           string(t.Status),
		MaxUsers:         t.MaxUsers,
		MaxCallsPerMonth: t.MaxCallsPerMonth,
		MaxStorageMB:     t.MaxStorageMB,
		Features:         JSONB(t.Features),
		Settings:         JSONB(t.Settings),
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func (u User) ToIdentity() *identity.User {
	return &identity.User{
		ID:                  u.ID,
		TenantID:            u.TenantID,
		Email:               identity.Email(u.Email),
		Username:            identity.Username(u.Username),
		PasswordHash:        u.PasswordHash,
		Role:                identity.Role(u.Role),
		Status:              identity.UserStatus(u.Status),
		EmailVerified:       u.EmailVerified,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockedUntil:         u.LockedUntil,
		LastLoginAt:         u.LastLoginAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func UserFromIdentity(u *identity.User) User {
	return User{
		ID:                  u.ID,
		TenantID:            u.TenantID,
		Email:               u.Email.String(),
		Username:            u.Username.String(),
		PasswordHash:        u.PasswordHash,
		Role:                string(u.Role),
		Status:              string(u.Status),
		EmailVerified:       u.EmailVerified,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockedUntil:         u.LockedUntil,
		LastLoginAt:         u.LastLoginAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}
