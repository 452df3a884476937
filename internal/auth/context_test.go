package auth

import (
	"context"
	"testing"
)

func TestContextAccountHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := AccountFromContext(ctx); ok {
		t.Fatal("empty context must not carry an account")
	}

	summary := AccountSummary{ID: "acc-7", Email: "alice@example.org", Role: RoleAdmin}
	ctx = ContextWithAccount(ctx, summary)

	got, ok := AccountFromContext(ctx)
	if !ok || got.ID != "acc-7" || got.Role != RoleAdmin {
		t.Fatalf("got %+v, ok=%v", got, ok)
	}
}

func TestContextTokenHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := TokenFromContext(ctx); ok {
		t.Fatal("empty context must not carry a token")
	}

	ctx = ContextWithToken(ctx, "raw-token")
	got, ok := TokenFromContext(ctx)
	if !ok || got != "raw-token" {
		t.Fatalf("got %q, ok=%v", got, ok)
	}

	// Blank tokens are not stored.
	if _, ok := TokenFromContext(ContextWithToken(context.Background(), "")); ok {
		t.Fatal("blank token must not be stored")
	}
}
