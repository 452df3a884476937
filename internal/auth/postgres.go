package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pdifin.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore { return &accountStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore { return &sessionStore{db: s.db} }
func (s *PGStore) Audit(context.Context) AuditStore      { return &auditStore{db: s.db} }

// Account store ------------------------------------------------------------
type accountStore struct{ db *sql.DB }

const accountColumns = `id, name, email, password_hash, role, active, failed_attempts, locked_until, last_login_at, created_at, updated_at`

func (s *accountStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, name, email, password_hash, role, active) values($1,$2,$3,$4,$5,$6)`,
		a.ID, a.Name, a.Email, a.PasswordHash, string(a.Role), a.Active,
	)
	return err
}

func (s *accountStore) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, email)
	return scanAccount(row)
}

func (s *accountStore) RecordFailure(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`update accounts set failed_attempts = failed_attempts + 1, updated_at = now() where id=$1 returning failed_attempts`,
		id,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

func (s *accountStore) Lock(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set locked_until=$2, updated_at = now() where id=$1`,
		id, until,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *accountStore) ResetFailures(ctx context.Context, id string, lastLogin *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set failed_attempts=0, locked_until=null, last_login_at=coalesce($2, last_login_at), updated_at = now() where id=$1`,
		id, lastLogin,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a           Account
		role        string
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &role, &a.Active,
		&a.FailedAttempts, &lockedUntil, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Role = Role(role)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		a.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, account_id, token_id, login_id, kind, expires_at, revoked, origin, client)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sess.ID, sess.AccountID, sess.TokenID, sess.LoginID, string(sess.Kind),
		sess.ExpiresAt, sess.Revoked, sess.Origin, sess.Client,
	)
	return err
}

func (s *sessionStore) FindByTokenID(ctx context.Context, tokenID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, token_id, login_id, kind, expires_at, revoked, origin, client, created_at
		 from sessions where token_id=$1`, tokenID)
	var (
		sess Session
		kind string
	)
	err := row.Scan(&sess.ID, &sess.AccountID, &sess.TokenID, &sess.LoginID, &kind,
		&sess.ExpiresAt, &sess.Revoked, &sess.Origin, &sess.Client, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess.Kind = TokenKind(kind)
	return &sess, nil
}

func (s *sessionStore) Revoke(ctx context.Context, tokenID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true where token_id=$1 and revoked=false`, tokenID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sessionStore) RevokeLogin(ctx context.Context, loginID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true where login_id=$1 and revoked=false`, loginID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Audit store --------------------------------------------------------------
type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	var accountID any
	if entry.AccountID != "" {
		accountID = entry.AccountID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into login_audit(id, account_id, email, success, origin, client, reason)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, accountID, entry.Email, entry.Success, entry.Origin, entry.Client, entry.Reason,
	)
	return err
}
