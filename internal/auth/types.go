package auth

import (
	"strings"
	"time"
)

// Role is the closed set of access profiles an account can hold.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleManager     Role = "manager"
	RoleCoordinator Role = "coordinator"
	RoleReadOnly    Role = "readonly"
)

// ParseRole normalizes raw input into a known Role.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleManager:
		return RoleManager, true
	case RoleCoordinator:
		return RoleCoordinator, true
	case RoleReadOnly:
		return RoleReadOnly, true
	default:
		return "", false
	}
}

// CanManageUsers reports whether the role may administer accounts.
func (r Role) CanManageUsers() bool {
	return r == RoleAdmin
}

// CanManageProjects reports whether the role may mutate project records.
func (r Role) CanManageProjects() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCoordinator:
		return true
	default:
		return false
	}
}

// TokenKind discriminates what an issued token may be used for.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Account is a user identity capable of authenticating. Deactivation is a
// flag; accounts are never deleted by this core.
type Account struct {
	ID             string
	Name           string
	Email          string
	PasswordHash   string
	Role           Role
	Active         bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Locked reports whether the account is inside a lockout window at now.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// LockRemaining returns how long the lockout still lasts at now, or zero.
func (a *Account) LockRemaining(now time.Time) time.Duration {
	if !a.Locked(now) {
		return 0
	}
	return a.LockedUntil.Sub(now)
}

// Summary returns the caller-facing view of the account.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:          a.ID,
		Name:        a.Name,
		Email:       a.Email,
		Role:        a.Role,
		LastLoginAt: a.LastLoginAt,
	}
}

// AccountSummary is the subset of Account returned to authenticated callers.
type AccountSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Session tracks one issued token's validity independent of its
// cryptographic expiry. The only legal mutation is Revoked false -> true.
type Session struct {
	ID        string
	AccountID string
	TokenID   string
	LoginID   string
	Kind      TokenKind
	ExpiresAt time.Time
	Revoked   bool
	Origin    string
	Client    string
	CreatedAt time.Time
}

// AuditEntry is an immutable record of one authentication attempt.
// AccountID is empty when the attempted email resolved to no account.
type AuditEntry struct {
	ID        string
	AccountID string
	Email     string
	Success   bool
	Origin    string
	Client    string
	Reason    string
	CreatedAt time.Time
}
