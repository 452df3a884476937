package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload embedded in every signed token.
type Claims struct {
	Email string    `json:"email"`
	Role  Role      `json:"role"`
	Kind  TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// Codec signs and verifies compact HS256 tokens. The signing secret is
// injected at construction and read-only afterwards; swapping the key is a
// restart, not a code change.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec for the given symmetric secret.
func NewCodec(secret []byte, issuer string, opts ...CodecOption) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is empty")
	}
	c := &Codec{secret: secret, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token of the given kind for the account. Every call embeds a
// freshly generated unique token id so access and refresh tokens from one
// login are independently revocable.
func (c *Codec) Issue(account *Account, kind TokenKind, ttl time.Duration) (string, *Claims, error) {
	if account == nil || account.ID == "" {
		return "", nil, errors.New("auth: account is required")
	}
	if ttl <= 0 {
		return "", nil, errors.New("auth: ttl must be greater than zero")
	}

	now := c.now().UTC()
	claims := &Claims{
		Email: account.Email,
		Role:  account.Role,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Decode verifies the token signature and required claims. A successful
// decode does not imply the session is still valid; revocation is checked
// against the session ledger separately.
func (c *Codec) Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := c.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyKind is a pure comparison of the decoded kind against expectation.
func VerifyKind(claims *Claims, expected TokenKind) bool {
	return claims != nil && claims.Kind == expected
}

func (c *Codec) validateClaims(claims *Claims) error {
	if c.issuer != "" && claims.Issuer != c.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ID == "" {
		return errors.New("token id missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	switch claims.Kind {
	case KindAccess, KindRefresh:
	default:
		return fmt.Errorf("unknown token kind: %s", claims.Kind)
	}
	now := c.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
