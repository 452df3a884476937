package auth

import "errors"

// Expected business outcomes are sentinel errors; callers branch with
// errors.Is. The login path never distinguishes an unknown email from a
// wrong password.
var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrAccountLocked      = errors.New("auth: account temporarily locked")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrSessionRevoked     = errors.New("auth: session revoked or unknown")
	ErrAccountNotFound    = errors.New("auth: account not found")

	// ErrNotFound is the store-level miss, never surfaced raw by the engine.
	ErrNotFound = errors.New("auth: not found")
)
