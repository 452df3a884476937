package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdifin.org/internal/ids"
	"pdifin.org/internal/obs"
)

const (
	defaultAccessTTL   = 30 * time.Minute
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultMaxAttempts = 5
	defaultLockout     = 15 * time.Minute
)

// LogoutScope selects how much of a login a logout revokes.
type LogoutScope string

const (
	// ScopeToken revokes only the session of the presented access token;
	// the paired refresh token stays usable.
	ScopeToken LogoutScope = "token"
	// ScopeLogin revokes every session minted by the originating login.
	ScopeLogin LogoutScope = "login"
)

// Engine orchestrates credential verification, lockout tracking, token
// issuance and session revocation. One instance serves concurrent requests;
// per-account counter consistency is the store's responsibility.
type Engine struct {
	store   Store
	ledger  SessionStore // optional override of store.Sessions
	codec   *Codec
	now     func() time.Time
	onAudit func(AuditEntry)

	accessTTL   time.Duration
	refreshTTL  time.Duration
	maxAttempts int
	lockout     time.Duration
	logoutScope LogoutScope
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) error {
		if fn != nil {
			e.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl > 0 {
			e.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl > 0 {
			e.refreshTTL = ttl
		}
		return nil
	}
}

// WithMaxAttempts configures how many consecutive failures trigger lockout.
func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) error {
		if n < 1 {
			return errors.New("auth: max attempts must be at least 1")
		}
		e.maxAttempts = n
		return nil
	}
}

// WithLockoutDuration configures the temporary block window.
func WithLockoutDuration(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d <= 0 {
			return errors.New("auth: lockout duration must be positive")
		}
		e.lockout = d
		return nil
	}
}

// WithLogoutScope selects logout semantics.
func WithLogoutScope(scope LogoutScope) EngineOption {
	return func(e *Engine) error {
		switch scope {
		case ScopeToken, ScopeLogin:
			e.logoutScope = scope
			return nil
		default:
			return fmt.Errorf("auth: unknown logout scope %q", scope)
		}
	}
}

// WithSessionLedger overrides where sessions are recorded (e.g. Redis)
// while accounts and audit stay in the primary store.
func WithSessionLedger(ledger SessionStore) EngineOption {
	return func(e *Engine) error {
		e.ledger = ledger
		return nil
	}
}

// WithAuditHook registers a callback invoked after every audit append,
// successful or not. Used to fan events out to live subscribers.
func WithAuditHook(fn func(AuditEntry)) EngineOption {
	return func(e *Engine) error {
		e.onAudit = fn
		return nil
	}
}

// NewEngine constructs an Engine over the given store and token codec.
func NewEngine(store Store, codec *Codec, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	e := &Engine{
		store:       store,
		codec:       codec,
		now:         time.Now,
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
		maxAttempts: defaultMaxAttempts,
		lockout:     defaultLockout,
		logoutScope: ScopeToken,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AccessTTL reports the configured access token lifetime.
func (e *Engine) AccessTTL() time.Duration { return e.accessTTL }

func (e *Engine) sessions(ctx context.Context) SessionStore {
	if e.ledger != nil {
		return e.ledger
	}
	return e.store.Sessions(ctx)
}

// LoginResult carries both freshly issued tokens.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	Account      AccountSummary
}

// RefreshResult carries the new access token minted from a refresh token.
type RefreshResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
}

// LogoutResult confirms a revocation.
type LogoutResult struct {
	Message     string
	LoggedOutAt time.Time
}

// Login authenticates credentials and issues an access/refresh token pair.
// Unknown email and wrong password are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, email, password, origin, client string) (LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	now := e.now().UTC()
	accounts := e.store.Accounts(ctx)

	account, err := accounts.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		e.audit(ctx, AuditEntry{Email: email, Origin: origin, Client: client, Reason: "account not found"})
		obs.LoginAttempts.WithLabelValues("invalid").Inc()
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup account: %w", err)
	}

	if !account.Active {
		e.audit(ctx, AuditEntry{AccountID: account.ID, Email: email, Origin: origin, Client: client, Reason: "account inactive"})
		obs.LoginAttempts.WithLabelValues("inactive").Inc()
		return LoginResult{}, ErrAccountInactive
	}

	if account.Locked(now) {
		minutes := lockMinutes(account, now)
		e.audit(ctx, AuditEntry{AccountID: account.ID, Email: email, Origin: origin, Client: client,
			Reason: fmt.Sprintf("account locked, %d minutes remaining", minutes)})
		obs.LoginAttempts.WithLabelValues("locked").Inc()
		return LoginResult{}, fmt.Errorf("%w: try again in %d minutes", ErrAccountLocked, minutes)
	}

	// Lockout expired: the counter resets before this attempt is evaluated.
	if account.LockedUntil != nil {
		if err := accounts.ResetFailures(e.persist(ctx), account.ID, nil); err != nil {
			return LoginResult{}, fmt.Errorf("clear expired lockout: %w", err)
		}
		account.FailedAttempts = 0
		account.LockedUntil = nil
	}

	if !VerifyPassword(account.PasswordHash, password) {
		attempts, err := accounts.RecordFailure(e.persist(ctx), account.ID)
		if err != nil {
			return LoginResult{}, fmt.Errorf("record failed attempt: %w", err)
		}
		if attempts >= e.maxAttempts {
			until := now.Add(e.lockout)
			if err := accounts.Lock(e.persist(ctx), account.ID, until); err != nil {
				return LoginResult{}, fmt.Errorf("lock account: %w", err)
			}
			obs.Lockouts.Inc()
			e.audit(ctx, AuditEntry{AccountID: account.ID, Email: email, Origin: origin, Client: client,
				Reason: fmt.Sprintf("account locked for %d minutes after %d failed attempts", int(e.lockout.Minutes()), attempts)})
		} else {
			e.audit(ctx, AuditEntry{AccountID: account.ID, Email: email, Origin: origin, Client: client,
				Reason: fmt.Sprintf("wrong password, %d attempts remaining", e.maxAttempts-attempts)})
		}
		obs.LoginAttempts.WithLabelValues("invalid").Inc()
		return LoginResult{}, ErrInvalidCredentials
	}

	lastLogin := now
	if err := accounts.ResetFailures(e.persist(ctx), account.ID, &lastLogin); err != nil {
		return LoginResult{}, fmt.Errorf("reset failed attempts: %w", err)
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &lastLogin

	e.audit(ctx, AuditEntry{AccountID: account.ID, Email: email, Success: true, Origin: origin, Client: client,
		Reason: "login succeeded"})
	obs.LoginAttempts.WithLabelValues("success").Inc()

	return e.mintLogin(ctx, account, origin, client)
}

// mintLogin issues the access+refresh pair and records both sessions before
// returning. If the second record fails the first is revoked, so no token
// reaches the caller without a backing ledger row.
func (e *Engine) mintLogin(ctx context.Context, account *Account, origin, client string) (LoginResult, error) {
	loginID := ids.New()
	sessions := e.sessions(ctx)

	access, accessClaims, err := e.codec.Issue(account, KindAccess, e.accessTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshClaims, err := e.codec.Issue(account, KindRefresh, e.refreshTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue refresh token: %w", err)
	}

	if err := sessions.Create(ctx, &Session{
		AccountID: account.ID,
		TokenID:   accessClaims.ID,
		LoginID:   loginID,
		Kind:      KindAccess,
		ExpiresAt: accessClaims.ExpiresAt.Time,
		Origin:    origin,
		Client:    client,
	}); err != nil {
		return LoginResult{}, fmt.Errorf("record access session: %w", err)
	}
	if err := sessions.Create(ctx, &Session{
		AccountID: account.ID,
		TokenID:   refreshClaims.ID,
		LoginID:   loginID,
		Kind:      KindRefresh,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
		Origin:    origin,
		Client:    client,
	}); err != nil {
		if _, revokeErr := sessions.Revoke(e.persist(ctx), accessClaims.ID); revokeErr != nil {
			obs.LogRequest(map[string]any{"level": "error", "msg": "orphan session revoke failed", "error": revokeErr.Error()})
		}
		return LoginResult{}, fmt.Errorf("record refresh session: %w", err)
	}

	obs.TokensIssued.WithLabelValues(string(KindAccess)).Inc()
	obs.TokensIssued.WithLabelValues(string(KindRefresh)).Inc()

	return LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(e.accessTTL.Seconds()),
		Account:      account.Summary(),
	}, nil
}

// Refresh mints a new access token from a valid, unrevoked refresh token.
// The refresh token itself is not rotated: it stays usable until its own
// expiry or an explicit logout.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	claims, err := e.codec.Decode(refreshToken)
	if err != nil {
		return RefreshResult{}, ErrInvalidToken
	}
	if !VerifyKind(claims, KindRefresh) {
		return RefreshResult{}, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}

	sessions := e.sessions(ctx)
	sess, err := sessions.FindByTokenID(ctx, claims.ID)
	if errors.Is(err, ErrNotFound) {
		return RefreshResult{}, ErrSessionRevoked
	}
	if err != nil {
		return RefreshResult{}, fmt.Errorf("lookup session: %w", err)
	}
	if sess.Revoked {
		return RefreshResult{}, ErrSessionRevoked
	}

	account, err := e.store.Accounts(ctx).Find(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return RefreshResult{}, ErrAccountNotFound
	}
	if err != nil {
		return RefreshResult{}, fmt.Errorf("lookup account: %w", err)
	}
	if !account.Active {
		return RefreshResult{}, ErrAccountInactive
	}

	access, accessClaims, err := e.codec.Issue(account, KindAccess, e.accessTTL)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("issue access token: %w", err)
	}
	if err := sessions.Create(ctx, &Session{
		AccountID: account.ID,
		TokenID:   accessClaims.ID,
		LoginID:   sess.LoginID,
		Kind:      KindAccess,
		ExpiresAt: accessClaims.ExpiresAt.Time,
		Origin:    sess.Origin,
		Client:    sess.Client,
	}); err != nil {
		return RefreshResult{}, fmt.Errorf("record access session: %w", err)
	}
	obs.TokensIssued.WithLabelValues(string(KindAccess)).Inc()

	return RefreshResult{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int(e.accessTTL.Seconds()),
	}, nil
}

// Logout revokes the session behind the presented access token. Revoking a
// missing or already-revoked session is a no-op success.
func (e *Engine) Logout(ctx context.Context, accessToken string) (LogoutResult, error) {
	claims, err := e.codec.Decode(accessToken)
	if err != nil {
		return LogoutResult{}, ErrInvalidToken
	}
	if !VerifyKind(claims, KindAccess) {
		return LogoutResult{}, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}

	sessions := e.sessions(ctx)
	switch e.logoutScope {
	case ScopeLogin:
		sess, err := sessions.FindByTokenID(ctx, claims.ID)
		if err == nil && ids.IsValid(sess.LoginID) {
			n, err := sessions.RevokeLogin(e.persist(ctx), sess.LoginID)
			if err != nil {
				return LogoutResult{}, fmt.Errorf("revoke login sessions: %w", err)
			}
			obs.SessionsRevoked.Add(float64(n))
			break
		}
		fallthrough
	default:
		revoked, err := sessions.Revoke(e.persist(ctx), claims.ID)
		if err != nil {
			return LogoutResult{}, fmt.Errorf("revoke session: %w", err)
		}
		if revoked {
			obs.SessionsRevoked.Inc()
		}
	}

	return LogoutResult{
		Message:     "logout successful",
		LoggedOutAt: e.now().UTC(),
	}, nil
}

// CurrentAccount resolves the account behind a valid access token.
func (e *Engine) CurrentAccount(ctx context.Context, accessToken string) (AccountSummary, error) {
	claims, err := e.codec.Decode(accessToken)
	if err != nil {
		return AccountSummary{}, ErrInvalidToken
	}
	if !VerifyKind(claims, KindAccess) {
		return AccountSummary{}, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}

	account, err := e.store.Accounts(ctx).Find(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return AccountSummary{}, ErrAccountNotFound
	}
	if err != nil {
		return AccountSummary{}, fmt.Errorf("lookup account: %w", err)
	}
	if !account.Active {
		return AccountSummary{}, ErrAccountInactive
	}
	now := e.now().UTC()
	if account.Locked(now) {
		return AccountSummary{}, fmt.Errorf("%w: try again in %d minutes", ErrAccountLocked, lockMinutes(account, now))
	}
	return account.Summary(), nil
}

// audit appends an attempt record. The write is best effort: a failure is
// logged and never blocks or fails the authentication decision.
func (e *Engine) audit(ctx context.Context, entry AuditEntry) {
	entry.CreatedAt = e.now().UTC()
	if err := e.store.Audit(ctx).Append(e.persist(ctx), &entry); err != nil {
		obs.LogRequest(map[string]any{
			"level": "error",
			"msg":   "audit append failed",
			"email": MaskEmail(entry.Email),
			"error": err.Error(),
		})
	}
	if e.onAudit != nil {
		e.onAudit(entry)
	}
}

// persist detaches security-relevant writes from request cancellation:
// a decided lockout or audit fact is committed even if the client is gone.
func (e *Engine) persist(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func lockMinutes(a *Account, now time.Time) int {
	remaining := a.LockRemaining(now)
	minutes := int(remaining.Minutes())
	if remaining > 0 && minutes == 0 {
		minutes = 1
	}
	return minutes
}
