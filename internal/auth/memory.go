package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"pdifin.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. It backs local development
// and tests; all mutations are serialized by one mutex, which also makes the
// failed-attempt counter increment atomic.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account // by id
	byEmail  map[string]string   // email -> id
	sessions map[string]*Session // by token id
	audit    []*AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		sessions: make(map[string]*Session),
	}
}

func (s *MemoryStore) Accounts(context.Context) AccountStore { return (*memAccounts)(s) }
func (s *MemoryStore) Sessions(context.Context) SessionStore { return (*memSessions)(s) }
func (s *MemoryStore) Audit(context.Context) AuditStore      { return (*memAudit)(s) }

// AuditEntries returns a copy of everything appended so far, oldest first.
func (s *MemoryStore) AuditEntries() []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AuditEntry, len(s.audit))
	for i, e := range s.audit {
		cp := *e
		out[i] = &cp
	}
	return out
}

// SessionCount reports how many ledger rows exist.
func (s *MemoryStore) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type memAccounts MemoryStore

func (s *memAccounts) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	now := time.Now().UTC()
	cp := *a
	cp.Email = strings.ToLower(cp.Email)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.accounts[cp.ID] = &cp
	s.byEmail[cp.Email] = cp.ID
	return nil
}

func (s *memAccounts) Find(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *memAccounts) RecordFailure(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, ErrNotFound
	}
	a.FailedAttempts++
	a.UpdatedAt = time.Now().UTC()
	return a.FailedAttempts, nil
}

func (s *memAccounts) Lock(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	t := until
	a.LockedUntil = &t
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memAccounts) ResetFailures(_ context.Context, id string, lastLogin *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	if lastLogin != nil {
		t := *lastLogin
		a.LastLoginAt = &t
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

type memSessions MemoryStore

func (s *memSessions) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	cp := *sess
	s.sessions[cp.TokenID] = &cp
	return nil
}

func (s *memSessions) FindByTokenID(_ context.Context, tokenID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessions) Revoke(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenID]
	if !ok || sess.Revoked {
		return false, nil
	}
	sess.Revoked = true
	return true, nil
}

func (s *memSessions) RevokeLogin(_ context.Context, loginID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, sess := range s.sessions {
		if sess.LoginID == loginID && !sess.Revoked {
			sess.Revoked = true
			n++
		}
	}
	return n, nil
}

type memAudit MemoryStore

func (s *memAudit) Append(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	s.audit = append(s.audit, &cp)
	return nil
}
