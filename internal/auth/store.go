package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the authentication core.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Sessions(ctx context.Context) SessionStore
	Audit(ctx context.Context) AuditStore
}

// AccountStore manages account records.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// RecordFailure increments the failed-attempt counter and returns the
	// post-increment value. The increment must be atomic: concurrent login
	// attempts for one account must not lose updates.
	RecordFailure(ctx context.Context, id string) (int, error)

	// Lock sets the lockout expiry.
	Lock(ctx context.Context, id string, until time.Time) error

	// ResetFailures zeroes the counter and clears the lockout expiry.
	// A non-nil lastLogin also stamps the last successful login.
	ResetFailures(ctx context.Context, id string, lastLogin *time.Time) error
}

// SessionStore is the ledger of issued tokens, one row per token id.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByTokenID(ctx context.Context, tokenID string) (*Session, error)

	// Revoke marks the session revoked and reports whether a matching
	// unrevoked session existed. Revoking an absent or already-revoked
	// session is not an error.
	Revoke(ctx context.Context, tokenID string) (bool, error)

	// RevokeLogin revokes every session minted by one login and returns
	// how many flipped from unrevoked to revoked.
	RevokeLogin(ctx context.Context, loginID string) (int, error)
}

// AuditStore appends immutable authentication attempt records.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
