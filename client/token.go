package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty static token")
	}
	return string(s), nil
}

// HS256TokenSource signs short-lived tokens with a shared secret. It matches
// the stub backend's shared-secret mode and is meant for local runs.
type HS256TokenSource struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewHS256TokenSource returns a source issuing tokens for subject.
func NewHS256TokenSource(secret, subject string, ttl time.Duration) (*HS256TokenSource, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if subject == "" {
		return nil, errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HS256TokenSource{secret: []byte(secret), subject: subject, ttl: ttl, now: time.Now}, nil
}

// Token reuses the cached token until it is within a minute of expiry.
func (s *HS256TokenSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(time.Minute).Before(s.expires) {
		return s.cached, nil
	}
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": s.subject,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.cached = signed
	s.expires = expires
	return signed, nil
}
