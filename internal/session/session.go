// Package session resolves the signed-in user of a request.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie that carries the session token.
const CookieName = "token"

var (
	ErrNoToken      = errors.New("session: no token")
	ErrInvalidToken = errors.New("session: invalid token")
	// ErrNoStore means the token is valid but the user is not bound to a store.
	ErrNoStore = errors.New("session: user has no store")
)

// User is the identity a session token carries.
type User struct {
	ID      string `json:"userId"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	StoreID string `json:"storeId"`
}

type claims struct {
	User
	jwt.RegisteredClaims
}

// Verifier checks HS256 session tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify parses and checks a raw token.
func (v *Verifier) Verify(raw string) (User, error) {
	if raw == "" {
		return User{}, ErrNoToken
	}
	if len(v.secret) == 0 {
		return User{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.User.ID == "" {
		return User{}, fmt.Errorf("%w: missing userId", ErrInvalidToken)
	}
	if c.User.StoreID == "" {
		return User{}, ErrNoStore
	}
	return c.User, nil
}

// FromRequest reads the token from the session cookie, falling back to a bearer header.
func (v *Verifier) FromRequest(r *http.Request) (User, error) {
	return v.Verify(TokenFromRequest(r))
}

func TokenFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Issue signs a token for u. The HTTP layer only verifies; Issue serves tooling and tests.
func (v *Verifier) Issue(u User, ttl time.Duration) (string, error) {
	now := v.now()
	c := claims{
		User: u,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
