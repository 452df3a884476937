package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pdifin.org/internal/ids"
)

var _ SessionStore = (*RedisSessions)(nil)

// RedisSessions keeps the session ledger in Redis. Rows live under
// sess:<token id> with a TTL bound to the token expiry, so long-expired
// sessions are garbage-collected by Redis itself. A per-login set under
// login:<login id> supports pair revocation.
type RedisSessions struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisSessions(rdb *redis.Client) *RedisSessions {
	return &RedisSessions{rdb: rdb, now: time.Now}
}

const (
	sessionKeyPrefix = "sess:"
	loginKeyPrefix   = "login:"

	// Expired rows linger briefly so a just-expired token still resolves to
	// a ledger row instead of looking never-recorded.
	sessionGrace = time.Hour
)

func sessionKey(tokenID string) string { return sessionKeyPrefix + tokenID }
func loginKey(loginID string) string   { return loginKeyPrefix + loginID }

func (s *RedisSessions) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := sess.ExpiresAt.Sub(s.now()) + sessionGrace
	if ttl <= 0 {
		ttl = sessionGrace
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.TokenID), data, ttl)
	if sess.LoginID != "" {
		pipe.SAdd(ctx, loginKey(sess.LoginID), sess.TokenID)
		pipe.Expire(ctx, loginKey(sess.LoginID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisSessions) FindByTokenID(ctx context.Context, tokenID string) (*Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessions) Revoke(ctx context.Context, tokenID string) (bool, error) {
	sess, err := s.FindByTokenID(ctx, tokenID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sess.Revoked {
		return false, nil
	}
	sess.Revoked = true
	data, err := json.Marshal(sess)
	if err != nil {
		return false, fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(tokenID), data, redis.KeepTTL).Err(); err != nil {
		return false, fmt.Errorf("store session: %w", err)
	}
	return true, nil
}

func (s *RedisSessions) RevokeLogin(ctx context.Context, loginID string) (int, error) {
	tokenIDs, err := s.rdb.SMembers(ctx, loginKey(loginID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("load login set: %w", err)
	}
	var n int
	for _, tokenID := range tokenIDs {
		revoked, err := s.Revoke(ctx, tokenID)
		if err != nil {
			return n, err
		}
		if revoked {
			n++
		}
	}
	return n, nil
}
