// Package session holds the bearer credential the client attaches to every
// backend request. Verification is the backend's job; the client only
// pre-checks expiry so a batch is not dispatched with a token that is
// guaranteed to bounce.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("session token expired")

type Session struct {
	token string
	now   func() time.Time
}

func New(token string) *Session {
	return &Session{token: token, now: time.Now}
}

func (s *Session) Token() string {
	return s.token
}

// Check returns ErrTokenExpired when the token is a JWT whose exp claim has
// passed. Opaque or empty tokens pass: the client cannot judge them, so the
// backend gets to.
func (s *Session) Check() error {
	if s.token == "" {
		return nil
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(s.token, jwt.MapClaims{})
	if err != nil {
		return nil
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}

	if exp.Before(s.now()) {
		return ErrTokenExpired
	}

	return nil
}
