package core

import (
	"context"
	"errors"
	"time"
)

type Session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
)

type AuthStore interface {
	// NewSession verifies the credentials and issues a signed token.
	// It returns ErrBadCredentials when the email or password is wrong.
	NewSession(ctx context.Context, email, password string) (*Session, error)

	// DestroySession invalidates the session's token.
	DestroySession(ctx context.Context, session Session) error

	// Session verifies a token and returns the session it represents.
	// It returns ErrUnauthenticated for expired, malformed or revoked tokens.
	Session(ctx context.Context, token string) (*Session, error)
}
