package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt. The salt is random,
// so hashing the same input twice yields different strings.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches the stored hash. A
// malformed or unrecognized hash counts as a mismatch, not a fatal error.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordPolicy holds the strength requirements enforced when accounts are
// provisioned. Zero value requires nothing.
type PasswordPolicy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

const specialChars = "!@#$%^&*(),.?\":{}|<>"

// Validate checks password against the policy and describes every missing
// requirement in one error.
func (p PasswordPolicy) Validate(password string) error {
	var missing []string
	if len(password) < p.MinLength {
		missing = append(missing, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if p.RequireUpper && !strings.ContainsFunc(password, func(r rune) bool { return r >= 'A' && r <= 'Z' }) {
		missing = append(missing, "an uppercase letter")
	}
	if p.RequireLower && !strings.ContainsFunc(password, func(r rune) bool { return r >= 'a' && r <= 'z' }) {
		missing = append(missing, "a lowercase letter")
	}
	if p.RequireDigit && !strings.ContainsFunc(password, func(r rune) bool { return r >= '0' && r <= '9' }) {
		missing = append(missing, "a digit")
	}
	if p.RequireSpecial && !strings.ContainsAny(password, specialChars) {
		missing = append(missing, "a special character")
	}
	if len(missing) > 0 {
		return fmt.Errorf("password must contain %s", strings.Join(missing, ", "))
	}
	return nil
}

// MaskEmail obscures the local part of an email for log output.
// lucas@example.com -> l***s@example.com
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 0 {
		return "***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + "@" + domain
}
