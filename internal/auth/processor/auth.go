package processor

import (
	"context"
	"errors"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/config"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type AuthProcessor struct {
	store      AuthStore
	blacklist  TokenBlacklist
	authConfig config.AuthConfig
	hashCost   int
	logger     *observability.Logger
	now        func() time.Time
}

func New(store AuthStore, blacklist TokenBlacklist, authConfig config.AuthConfig, logger *observability.Logger) *AuthProcessor {
	if authConfig.AccessTokenTTL <= 0 {
		authConfig.AccessTokenTTL = 30 * time.Minute
	}
	if authConfig.RefreshTokenTTL <= 0 {
		authConfig.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if authConfig.Issuer == "" {
		authConfig.Issuer = "ai-hotline"
	}
	if authConfig.LockoutDuration <= 0 {
		authConfig.LockoutDuration = 30 * time.Minute
	}
	return &AuthProcessor{
		store:      store,
		blacklist:  blacklist,
		authConfig: authConfig,
		hashCost:   bcrypt.DefaultCost,
		logger:     logger,
		now:        time.Now,
	}
}

var (
	ErrInvalidCredentials = apperr.New(apperr.Authentication, "INVALID_CREDENTIALS", "invalid email or password")
	ErrAccountLocked      = apperr.New(apperr.Authentication, "ACCOUNT_LOCKED", "account is temporarily locked after too many failed logins")
	ErrAccountInactive    = apperr.New(apperr.Authentication, "ACCOUNT_INACTIVE", "account is not active")
	ErrTenantNameTaken    = apperr.New(apperr.AlreadyExists, "TENANT_EXISTS", "a tenant with this name already exists")
	ErrEmailAlreadyExists = apperr.New(apperr.AlreadyExists, "EMAIL_EXISTS", "a user with this email already exists")
	ErrTenantNotFound     = apperr.New(apperr.TenantNotFound, "TENANT_NOT_FOUND", "tenant not found")
	ErrUserNotFound       = apperr.New(apperr.NotFound, "USER_NOT_FOUND", "user not found")
	ErrUserLimitReached   = apperr.New(apperr.BusinessRule, "USER_LIMIT_REACHED", "tenant cannot add more users")
	ErrWrongPassword      = apperr.New(apperr.Validation, "INVALID_CURRENT_PASSWORD", "current password is incorrect")
	ErrInsufficientRole   = apperr.New(apperr.Authorization, "INSUFFICIENT_ROLE", "this action requires a tenant administrator")
	ErrDatabaseDown       = apperr.New(apperr.Database, "DATABASE_UNAVAILABLE", "authentication needs the database")
)

type UserView struct {
	ID            uuid.UUID           `json:"id"`
	TenantID      uuid.UUID           `json:"tenant_id"`
	Email         string              `json:"email"`
	Username      string              `json:"username"`
	Role          identity.Role       `json:"role"`
	Status        identity.UserStatus `json:"status"`
	EmailVerified bool                `json:"email_verified"`
	LastLoginAt   *time.Time          `json:"last_login_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func viewOf(u *identity.User) UserView {
	return UserView{
		ID:            u.ID,
		TenantID:      u.TenantID,
		Email:         u.Email.String(),
		Username:      u.Username.String(),
		Role:          u.Role,
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

type AuthResult struct {
	User   UserView         `json:"user"`
	Tenant *identity.Tenant `json:"tenant,omitempty"`
	Tokens TokenPair        `json:"tokens"`
}

// storeErr maps store failures onto the error kinds the API understands.
func (p *AuthProcessor) storeErr(ctx context.Context, msg string, err error) error {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return ErrDatabaseDown
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	}
	p.logger.Error(ctx, msg, err)
	return apperr.Wrap(apperr.Database, "DATABASE_ERROR", msg, err)
}

func (p *AuthProcessor) hash(ctx context.Context, password identity.Password) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password.String()), p.hashCost)
	if err != nil {
		p.logger.Error(ctx, "failed to hash password", err)
		return "", apperr.Wrap(apperr.Infrastructure, "HASH_FAILED", "failed to hash password", err)
	}
	return string(hashed), nil
}

// RegisterTenantWithAdmin creates a trial tenant and its first administrator. The tenant is removed
// again when the administrator cannot be created.
func (p *AuthProcessor) RegisterTenantWithAdmin(ctx context.Context, tenantName, adminEmail, username, password string) (AuthResult, error) {
	name, err := identity.NewTenantName(tenantName)
	if err != nil {
		return AuthResult{}, err
	}
	email, err := identity.NewEmail(adminEmail)
	if err != nil {
		return AuthResult{}, err
	}
	uname, err := identity.NewUsername(username)
	if err != nil {
		return AuthResult{}, err
	}
	pw, err := identity.NewPassword(password)
	if err != nil {
		return AuthResult{}, err
	}
	ctx = observability.WithFields(ctx, observability.Field{Key: "email", Value: email.String()})

	exists, err := p.store.TenantNameExists(ctx, name.String())
	if err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to check tenant name", err)
	}
	if exists {
		return AuthResult{}, ErrTenantNameTaken
	}
	exists, err = p.store.EmailExists(ctx, email.String())
	if err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to check email", err)
	}
	if exists {
		return AuthResult{}, ErrEmailAlreadyExists
	}

	hashed, err := p.hash(ctx, pw)
	if err != nil {
		return AuthResult{}, err
	}

	tenant := identity.NewTenant(name)
	if err := p.store.CreateTenant(ctx, store.TenantFromIdentity(tenant)); err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to create tenant", err)
	}

	admin := identity.NewUser(tenant.ID, email, uname, hashed, identity.RoleTenantAdmin)
	admin.VerifyEmail()
	if err := p.store.CreateUser(ctx, store.UserFromIdentity(admin)); err != nil {
		if delErr := p.store.DeleteTenant(ctx, tenant.ID); delErr != nil {
			p.logger.Error(ctx, "failed to roll back tenant after admin creation failed", delErr)
		}
		return AuthResult{}, p.storeErr(ctx, "failed to create tenant admin", err)
	}

	tokens, err := p.issueTokens(ctx, admin)
	if err != nil {
		return AuthResult{}, err
	}
	p.logger.Info(ctx, "tenant registered",
		observability.Field{Key: "tenant_id", Value: tenant.ID.String()},
		observability.Field{Key: "user_id", Value: admin.ID.String()},
	)
	return AuthResult{User: viewOf(admin), Tenant: tenant, Tokens: tokens}, nil
}

// RegisterTenantUser adds a user to an existing tenant. super_admin cannot be granted this way.
func (p *AuthProcessor) RegisterTenantUser(ctx context.Context, tenantID uuid.UUID, emailRaw, username, password, roleRaw string) (AuthResult, error) {
	email, err := identity.NewEmail(emailRaw)
	if err != nil {
		return AuthResult{}, err
	}
	uname, err := identity.NewUsername(username)
	if err != nil {
		return AuthResult{}, err
	}
	pw, err := identity.NewPassword(password)
	if err != nil {
		return AuthResult{}, err
	}
	if roleRaw == "" {
		roleRaw = string(identity.RoleOperator)
	}
	role, err := identity.ParseRole(roleRaw)
	if err != nil {
		return AuthResult{}, err
	}
	if role == identity.RoleSuperAdmin {
		return AuthResult{}, apperr.Validationf("INVALID_ROLE", "super_admin cannot be assigned")
	}

	rec, err := p.store.GetTenantByID(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, ErrTenantNotFound
	}
	if err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to load tenant", err)
	}
	tenant := rec.ToIdentity()

	count, err := p.store.CountUsersByTenant(ctx, tenantID)
	if err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to count users", err)
	}
	if !tenant.CanCreateUser(count) {
		return AuthResult{}, ErrUserLimitReached
	}
	exists, err := p.store.EmailExists(ctx, email.String())
	if err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to check email", err)
	}
	if exists {
		return AuthResult{}, ErrEmailAlreadyExists
	}

	hashed, err := p.hash(ctx, pw)
	if err != nil {
		return AuthResult{}, err
	}
	user := identity.NewUser(tenantID, email, uname, hashed, role)
	user.Activate()
	if err := p.store.CreateUser(ctx, store.UserFromIdentity(user)); err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to create user", err)
	}

	tokens, err := p.issueTokens(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: viewOf(user), Tokens: tokens}, nil
}

// Authenticate checks credentials, recording failed attempts and locking the account after too many.
func (p *AuthProcessor) Authenticate(ctx context.Context, emailRaw, password string) (AuthResult, error) {
	email, err := identity.NewEmail(emailRaw)
	if err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}
	ctx = observability.WithFields(ctx, observability.Field{Key: "email", Value: email.String()})

	rec, err := p.store.GetUserByEmail(ctx, email.String())
	if errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to get user by email", err)
	}
	user := rec.ToIdentity()

	if user.IsLocked(p.now()) {
		return AuthResult{}, ErrAccountLocked
	}
	if user.Status == identity.UserSuspended || user.Status == identity.UserInactive {
		return AuthResult{}, ErrAccountInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		user.RecordFailedLogin(p.authConfig.MaxLoginAttempts, p.authConfig.LockoutDuration)
		if err := p.store.UpdateUser(ctx, store.UserFromIdentity(user)); err != nil {
			p.logger.Error(ctx, "failed to record failed login", err)
		}
		p.logger.Warn(ctx, "failed login attempt",
			observability.Field{Key: "attempts", Value: user.FailedLoginAttempts})
		return AuthResult{}, ErrInvalidCredentials
	}

	user.RecordSuccessfulLogin()
	if err := p.store.UpdateUser(ctx, store.UserFromIdentity(user)); err != nil {
		return AuthResult{}, p.storeErr(ctx, "failed to record login", err)
	}
	tokens, err := p.issueTokens(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: viewOf(user), Tokens: tokens}, nil
}

func (p *AuthProcessor) loadUser(ctx context.Context, userID uuid.UUID) (*identity.User, error) {
	rec, err := p.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, p.storeErr(ctx, "failed to get user", err)
	}
	return rec.ToIdentity(), nil
}

func (p *AuthProcessor) Me(ctx context.Context, userID uuid.UUID) (UserView, error) {
	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	return viewOf(user), nil
}

func (p *AuthProcessor) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrWrongPassword
	}
	return p.setPassword(ctx, user, next)
}

// ResetPassword lets a tenant administrator set another user's password.
func (p *AuthProcessor) ResetPassword(ctx context.Context, actorID, userID uuid.UUID, next string) error {
	actor, err := p.loadUser(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := p.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if actor.RoleLevel() < identity.RoleTenantAdmin.Level() || !actor.CanAccessTenant(target.TenantID) {
		return ErrInsufficientRole
	}
	if err := p.setPassword(ctx, target, next); err != nil {
		return err
	}
	p.logger.Info(ctx, "password reset by administrator",
		observability.Field{Key: "actor_id", Value: actorID.String()},
		observability.Field{Key: "user_id", Value: userID.String()},
	)
	return nil
}

func (p *AuthProcessor) setPassword(ctx context.Context, user *identity.User, next string) error {
	pw, err := identity.NewPassword(next)
	if err != nil {
		return err
	}
	hashed, err := p.hash(ctx, pw)
	if err != nil {
		return err
	}
	if err := user.ChangePasswordHash(hashed); err != nil {
		return err
	}
	if err := p.store.UpdateUser(ctx, store.UserFromIdentity(user)); err != nil {
		return p.storeErr(ctx, "failed to update password", err)
	}
	return nil
}
