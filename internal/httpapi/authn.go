package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"pdifin.org/internal/audit"
	"pdifin.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requireAuth resolves the bearer token into an account summary. On success
// it returns the request with the account and token attached to its context;
// on failure it writes the error response and reports false.
func (a *API) requireAuth(w http.ResponseWriter, r *http.Request) (*http.Request, auth.AccountSummary, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return r, auth.AccountSummary{}, false
	}
	account, err := a.engine.CurrentAccount(r.Context(), token)
	if err != nil {
		handleAuthError(w, r, err)
		return r, auth.AccountSummary{}, false
	}
	ctx := auth.ContextWithAccount(r.Context(), account)
	ctx = auth.ContextWithToken(ctx, token)
	return r.WithContext(ctx), account, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// handleAuthError maps engine sentinels onto HTTP status codes. Messages on
// the login path never reveal whether an email exists.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, r, http.StatusForbidden, strings.TrimPrefix(err.Error(), "auth: "))
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account inactive, contact an administrator")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrSessionRevoked):
		writeError(w, r, http.StatusUnauthorized, "session revoked or unknown")
	case errors.Is(err, auth.ErrAccountNotFound):
		writeError(w, r, http.StatusUnauthorized, "account no longer exists")
	default:
		_ = audit.LogEvent(r.Context(), "auth.error", map[string]any{"error": err.Error()})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
