package identity

import (
	"strings"
	"time"

	"ai-hotline/internal/apperr"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleOperator    Role = "operator"
	RoleViewer      Role = "viewer"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSuperAdmin, RoleTenantAdmin, RoleOperator, RoleViewer:
		return r, nil
	}
	return "", apperr.Validationf("INVALID_ROLE", "unknown role: %s", s)
}

type UserStatus string

const (
	UserActive              UserStatus = "active"
	UserInactive            UserStatus = "inactive"
	UserSuspended           UserStatus = "suspended"
	UserPendingVerification UserStatus = "pending_verification"
)

// Permissions used by route guards.
const (
	PermUsersRead         = "users.read"
	PermUsersManage       = "users.manage"
	PermCallsRead         = "calls.read"
	PermCallsCreate       = "calls.create"
	PermCallsManage       = "calls.manage"
	PermKnowledgeRead     = "knowledge.read"
	PermKnowledgeManage   = "knowledge.manage"
	PermAutomationExecute = "automation.execute"
	PermAutomationManage  = "automation.manage"
	PermTenantManage      = "tenant.manage"
)

var rolePermissions = map[Role][]string{
	RoleSuperAdmin:  {"*"},
	RoleTenantAdmin: {"users.*", PermCallsRead, PermCallsCreate, PermCallsManage, PermKnowledgeRead, PermKnowledgeManage, PermAutomationExecute, PermAutomationManage, PermTenantManage},
	RoleOperator:    {PermCallsRead, PermCallsCreate, PermKnowledgeRead, PermAutomationExecute},
	RoleViewer:      {PermCallsRead, PermKnowledgeRead},
}

var roleLevels = map[Role]int{
	RoleViewer:      0,
	RoleOperator:    1,
	RoleTenantAdmin: 2,
	RoleSuperAdmin:  3,
}

// RoleHasPermission reports whether role grants perm. A trailing ".*" grants the whole group.
func RoleHasPermission(role Role, perm string) bool {
	for _, granted := range rolePermissions[role] {
		if granted == "*" || granted == perm {
			return true
		}
		if prefix, ok := strings.CutSuffix(granted, ".*"); ok && strings.HasPrefix(perm, prefix+".") {
			return true
		}
	}
	return false
}

func (r Role) Level() int { return roleLevels[r] }

type User struct {
	ID                  uuid.UUID  `json:"id"`
	TenantID            uuid.UUID  `json:"tenant_id"`
	Email               Email      `json:"email"`
	Username            Username   `json:"username"`
	PasswordHash        string     `json:"-"`
	Role                Role       `json:"role"`
	Status              UserStatus `json:"status"`
	EmailVerified       bool       `json:"email_verified"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewUser creates a user pending email verification.
func NewUser(tenantID uuid.UUID, email Email, username Username, passwordHash string, role Role) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		Status:       UserPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

var errUserSuspended = apperr.New(apperr.BusinessRule, "USER_SUSPENDED", "user is suspended")

func (u *User) touch() { u.UpdatedAt = time.Now().UTC() }

func (u *User) IsActive() bool { return u.Status == UserActive }

func (u *User) ChangeEmail(email Email) error {
	if u.Status == UserSuspended {
		return errUserSuspended
	}
	u.Email = email
	u.EmailVerified = false
	u.touch()
	return nil
}

func (u *User) ChangePasswordHash(hash string) error {
	if u.Status == UserSuspended {
		return errUserSuspended
	}
	u.PasswordHash = hash
	u.touch()
	return nil
}

func (u *User) ChangeRole(role Role) error {
	if u.Status == UserSuspended {
		return errUserSuspended
	}
	u.Role = role
	u.touch()
	return nil
}

func (u *User) Activate() {
	u.Status = UserActive
	u.touch()
}

func (u *User) Suspend() {
	u.Status = UserSuspended
	u.touch()
}

// VerifyEmail marks the email verified and activates a pending user.
func (u *User) VerifyEmail() {
	u.EmailVerified = true
	if u.Status == UserPendingVerification {
		u.Status = UserActive
	}
	u.touch()
}

// RecordFailedLogin increments the attempt counter and locks the account for lockout once max is reached.
func (u *User) RecordFailedLogin(max int, lockout time.Duration) {
	u.FailedLoginAttempts++
	if max > 0 && u.FailedLoginAttempts >= max {
		until := time.Now().UTC().Add(lockout)
		u.LockedUntil = &until
	}
	u.touch()
}

func (u *User) RecordSuccessfulLogin() {
	now := time.Now().UTC()
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
	u.touch()
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

func (u *User) Unlock() {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.touch()
}

func (u *User) CanAccessTenant(tenantID uuid.UUID) bool {
	return u.Role == RoleSuperAdmin || u.TenantID == tenantID
}

func (u *User) HasPermission(perm string) bool {
	return RoleHasPermission(u.Role, perm)
}

func (u *User) RoleLevel() int { return u.Role.Level() }
