package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisSessions(t *testing.T) (*RedisSessions, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSessions(rdb), mr
}

func TestRedisSessionsRoundTrip(t *testing.T) {
	sessions, _ := newRedisSessions(t)
	ctx := context.Background()

	sess := &Session{
		AccountID: "acc-1",
		TokenID:   "jti-1",
		LoginID:   "login-1",
		Kind:      KindAccess,
		ExpiresAt: time.Now().Add(30 * time.Minute).UTC(),
		Origin:    "127.0.0.1",
		Client:    "cli",
	}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session id must be assigned")
	}

	got, err := sessions.FindByTokenID(ctx, "jti-1")
	if err != nil {
		t.Fatalf("FindByTokenID: %v", err)
	}
	if got.AccountID != "acc-1" || got.Kind != KindAccess || got.LoginID != "login-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Revoked {
		t.Fatal("fresh session must not be revoked")
	}
}

func TestRedisSessionsMissing(t *testing.T) {
	sessions, _ := newRedisSessions(t)
	if _, err := sessions.FindByTokenID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRedisSessionsRevokeIdempotent(t *testing.T) {
	sessions, _ := newRedisSessions(t)
	ctx := context.Background()

	sess := &Session{
		AccountID: "acc-1",
		TokenID:   "jti-1",
		Kind:      KindAccess,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	revoked, err := sessions.Revoke(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("first revoke: revoked=%v err=%v", revoked, err)
	}
	revoked, err = sessions.Revoke(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("second revoke: revoked=%v err=%v", revoked, err)
	}
	revoked, err = sessions.Revoke(ctx, "never-existed")
	if err != nil || revoked {
		t.Fatalf("revoke of unknown token: revoked=%v err=%v", revoked, err)
	}

	got, err := sessions.FindByTokenID(ctx, "jti-1")
	if err != nil {
		t.Fatalf("FindByTokenID: %v", err)
	}
	if !got.Revoked {
		t.Fatal("session must stay revoked")
	}
}

func TestRedisSessionsRevokeLogin(t *testing.T) {
	sessions, _ := newRedisSessions(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	for _, tokenID := range []string{"jti-access", "jti-refresh"} {
		err := sessions.Create(ctx, &Session{
			AccountID: "acc-1",
			TokenID:   tokenID,
			LoginID:   "login-1",
			Kind:      KindAccess,
			ExpiresAt: expires,
		})
		if err != nil {
			t.Fatalf("Create %s: %v", tokenID, err)
		}
	}
	// A session from a different login stays untouched.
	err := sessions.Create(ctx, &Session{
		AccountID: "acc-1",
		TokenID:   "jti-other",
		LoginID:   "login-2",
		Kind:      KindAccess,
		ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := sessions.RevokeLogin(ctx, "login-1")
	if err != nil {
		t.Fatalf("RevokeLogin: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d sessions, want 2", n)
	}

	other, err := sessions.FindByTokenID(ctx, "jti-other")
	if err != nil {
		t.Fatalf("FindByTokenID: %v", err)
	}
	if other.Revoked {
		t.Fatal("unrelated login must not be revoked")
	}
}

func TestRedisSessionsExpiry(t *testing.T) {
	sessions, mr := newRedisSessions(t)
	ctx := context.Background()

	err := sessions.Create(ctx, &Session{
		AccountID: "acc-1",
		TokenID:   "jti-1",
		Kind:      KindAccess,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The row survives the token expiry by the grace period, then vanishes.
	mr.FastForward(30 * time.Minute)
	if _, err := sessions.FindByTokenID(ctx, "jti-1"); err != nil {
		t.Fatalf("within grace: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	if _, err := sessions.FindByTokenID(ctx, "jti-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after grace: got %v, want ErrNotFound", err)
	}
}

func TestEngineWithRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, store, _ := newTestEngine(t, WithSessionLedger(NewRedisSessions(rdb)))
	seedAccount(t, store, "alice@example.org", "Passw0rd!", true)
	ctx := context.Background()

	login, err := engine.Login(ctx, "alice@example.org", "Passw0rd!", "", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if n := store.SessionCount(); n != 0 {
		t.Fatalf("primary store holds %d sessions, want 0", n)
	}
	if _, err := engine.Refresh(ctx, login.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := engine.Logout(ctx, login.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
}
