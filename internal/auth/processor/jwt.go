package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	tokenAudience = "ai-hotline-api"
)

var (
	ErrExpiredToken = apperr.New(apperr.TokenExpired, "TOKEN_EXPIRED", "token has expired")
	ErrInvalidToken = apperr.New(apperr.InvalidToken, "INVALID_TOKEN", "token is invalid")
	ErrRevokedToken = apperr.New(apperr.InvalidToken, "TOKEN_REVOKED", "token has been revoked")
	ErrSignToken    = apperr.New(apperr.Infrastructure, "TOKEN_SIGNING_FAILED", "failed to sign token")
)

// Claims carried by both access and refresh tokens. Subject is the user id.
type Claims struct {
	Username string   `json:"username"`
	TenantID string   `json:"tenant_id"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	Type     string   `json:"type"`
	jwt.RegisteredClaims
}

func (c Claims) UserID() (uuid.UUID, error) { return uuid.Parse(c.Subject) }

func (c Claims) Tenant() (uuid.UUID, error) { return uuid.Parse(c.TenantID) }

func (c Claims) Role() identity.Role {
	if len(c.Roles) == 0 {
		return ""
	}
	return identity.Role(c.Roles[0])
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (p *AuthProcessor) sign(ctx context.Context, user *identity.User, tokenType string, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		Username: user.Username.String(),
		TenantID: user.TenantID.String(),
		Email:    user.Email.String(),
		Roles:    []string{string(user.Role)},
		Type:     tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			Issuer:    p.authConfig.Issuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.authConfig.SecretKey))
	if err != nil {
		p.logger.Error(ctx, "failed to sign token", err)
		return "", ErrSignToken
	}
	return signed, nil
}

func (p *AuthProcessor) issueTokens(ctx context.Context, user *identity.User) (TokenPair, error) {
	access, err := p.sign(ctx, user, TokenTypeAccess, p.authConfig.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := p.sign(ctx, user, TokenTypeRefresh, p.authConfig.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(p.authConfig.AccessTokenTTL.Seconds()),
	}, nil
}

func (p *AuthProcessor) parse(ctx context.Context, token, wantType string) (Claims, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.authConfig.SecretKey), nil
	},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(p.authConfig.Issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		p.logger.WarnWithError(ctx, "failed to parse token", err)
		return Claims{}, ErrInvalidToken
	}
	if !t.Valid || claims.Type != wantType || claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}

	revoked, err := p.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		// fail open
		p.logger.WarnWithError(ctx, "failed to check token blacklist", err)
	}
	if revoked {
		return Claims{}, ErrRevokedToken
	}
	return claims, nil
}

// VerifyAccessToken validates signature, expiry, token type and revocation.
func (p *AuthProcessor) VerifyAccessToken(ctx context.Context, token string) (Claims, error) {
	return p.parse(ctx, token, TokenTypeAccess)
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair is issued.
func (p *AuthProcessor) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := p.parse(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	user, err := p.loadUser(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if !user.IsActive() {
		return TokenPair{}, ErrAccountInactive
	}

	p.revoke(ctx, claims)
	return p.issueTokens(ctx, user)
}

// Logout revokes the presented access token and, when given, its refresh token.
func (p *AuthProcessor) Logout(ctx context.Context, access Claims, refreshToken string) {
	p.revoke(ctx, access)
	if refreshToken == "" {
		return
	}
	if refresh, err := p.parse(ctx, refreshToken, TokenTypeRefresh); err == nil && refresh.Subject == access.Subject {
		p.revoke(ctx, refresh)
	}
}

func (p *AuthProcessor) revoke(ctx context.Context, claims Claims) {
	until := p.now().Add(p.authConfig.RefreshTokenTTL)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if err := p.blacklist.Revoke(ctx, claims.ID, until); err != nil {
		p.logger.Error(observability.WithFields(ctx, observability.Field{Key: "jti", Value: claims.ID}), "failed to revoke token", err)
	}
}
