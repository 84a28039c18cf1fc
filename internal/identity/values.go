package identity

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"ai-hotline/internal/apperr"
)

var (
	emailPattern      = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	usernamePattern   = regexp.MustCompile(`^[a-zA-Z0-9_\-]{3,50}$`)
	phonePattern      = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)
	tenantNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.&()]+$`)
)

// Email is a normalised, validated email address.
type Email string

func NewEmail(raw string) (Email, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return "", apperr.Validationf("INVALID_EMAIL", "email is required")
	}
	if len(v) > 255 {
		return "", apperr.Validationf("INVALID_EMAIL", "email must be at most 255 characters")
	}
	if !emailPattern.MatchString(v) {
		return "", apperr.Validationf("INVALID_EMAIL", "invalid email format: %s", raw)
	}
	return Email(v), nil
}

func (e Email) String() string { return string(e) }

func (e Email) Domain() string {
	_, domain, _ := strings.Cut(string(e), "@")
	return domain
}

func (e Email) LocalPart() string {
	local, _, _ := strings.Cut(string(e), "@")
	return local
}

type Username string

func NewUsername(raw string) (Username, error) {
	v := strings.TrimSpace(raw)
	if !usernamePattern.MatchString(v) {
		return "", apperr.Validationf("INVALID_USERNAME", "username must be 3-50 characters of letters, digits, '_' or '-'")
	}
	return Username(v), nil
}

func (u Username) String() string { return string(u) }

// Password is a plaintext password that passed the strength policy. It is never persisted.
type Password string

func NewPassword(raw string) (Password, error) {
	n := utf8.RuneCountInString(raw)
	if n < 8 || n > 128 {
		return "", apperr.Validationf("WEAK_PASSWORD", "password must be 8-128 characters")
	}
	if passwordClasses(raw) < 3 {
		return "", apperr.Validationf("WEAK_PASSWORD", "password must contain at least 3 of: uppercase, lowercase, digit, special character")
	}
	return Password(raw), nil
}

func (p Password) String() string { return string(p) }

// StrengthScore rates the password from 0 to 5.
func (p Password) StrengthScore() int {
	score := passwordClasses(string(p))
	if utf8.RuneCountInString(string(p)) >= 12 {
		score++
	}
	if score > 5 {
		score = 5
	}
	return score
}

func passwordClasses(s string) int {
	var upper, lower, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	count := 0
	for _, ok := range []bool{upper, lower, digit, special} {
		if ok {
			count++
		}
	}
	return count
}

type PhoneNumber string

func NewPhoneNumber(raw string) (PhoneNumber, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	v := b.String()
	if !phonePattern.MatchString(v) {
		return "", apperr.Validationf("INVALID_PHONE", "invalid phone number: %s", raw)
	}
	return PhoneNumber(v), nil
}

func (p PhoneNumber) String() string { return string(p) }

// E164 returns the number with a leading '+'.
func (p PhoneNumber) E164() string {
	if strings.HasPrefix(string(p), "+") {
		return string(p)
	}
	return "+" + string(p)
}

type TenantName string

func NewTenantName(raw string) (TenantName, error) {
	v := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(v)
	if n < 2 || n > 100 {
		return "", apperr.Validationf("INVALID_TENANT_NAME", "tenant name must be 2-100 characters")
	}
	if !tenantNamePattern.MatchString(v) {
		return "", apperr.Validationf("INVALID_TENANT_NAME", "tenant name contains invalid characters")
	}
	return TenantName(v), nil
}

func (t TenantName) String() string { return string(t) }
