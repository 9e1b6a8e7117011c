package stubapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"taskmanagement/config"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	clockSkew           = time.Minute
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// Authenticator resolves the owner partition from an Authorization header.
type Authenticator interface {
	OwnerFromAuthHeader(h string) (string, error)
}

// NoAuth accepts every request as the same owner. Local runs only.
type NoAuth struct {
	Owner string
}

func (n NoAuth) OwnerFromAuthHeader(string) (string, error) {
	if n.Owner == "" {
		return "local-user", nil
	}
	return n.Owner, nil
}

// Auth validates bearer JWTs, either HS256 with a shared secret or RS256
// against a JWKS. The token subject is the owner.
type Auth struct {
	jwks     *keyfunc.JWKS
	secret   []byte
	audience string
	issuer   string

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewHS256Auth validates tokens signed with secret.
func NewHS256Auth(secret []byte, audience, issuer string) (*Auth, error) {
	if len(secret) == 0 {
		return nil, errors.New("shared secret is required for hs256 auth")
	}
	return &Auth{
		secret:   secret,
		audience: audience,
		issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation()),
		now:      time.Now,
	}, nil
}

// NewJWKSAuth validates RS256 tokens against jwks. Resolved keys are cached
// per kid for keyTTL.
func NewJWKSAuth(jwks *keyfunc.JWKS, audience, issuer string, keyTTL time.Duration) *Auth {
	if keyTTL <= 0 {
		keyTTL = defaultJWKSCacheTTL
	}
	return &Auth{
		jwks:        jwks,
		audience:    audience,
		issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation()),
		keyCacheTTL: keyTTL,
		now:         time.Now,
	}
}

// NewAuthenticator builds the authenticator selected by cfg. The returned
// close function stops background JWKS refreshes.
func NewAuthenticator(ctx context.Context, cfg config.Auth, localOwner string) (Authenticator, func(), error) {
	switch strings.ToLower(cfg.Mode) {
	case config.AuthNone, "":
		return NoAuth{Owner: localOwner}, func() {}, nil
	case config.AuthHS256:
		a, err := NewHS256Auth([]byte(cfg.Secret), cfg.Audience, cfg.Issuer)
		return a, func() {}, err
	case config.AuthJWKS:
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("jwks: %w", err)
		}
		return NewJWKSAuth(jwks, cfg.Audience, cfg.Issuer, cfg.KeyTTL), jwks.EndBackground, nil
	}
	return nil, nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
}

// OwnerFromAuthHeader extracts the owner from the Authorization header.
func (a *Auth) OwnerFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.OwnerFromBearer(token)
}

// OwnerFromBearer validates a raw token and returns its subject.
func (a *Auth) OwnerFromBearer(token string) (string, error) {
	parsed, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if a.secret != nil {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.secret, nil
		}
		return a.keyForToken(t)
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := a.now()
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return "", errors.New("token expired")
	}
	skewed := now.Add(clockSkew).Unix()
	if !claims.VerifyNotBefore(skewed, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(skewed, false) {
		return "", errors.New("token used before issued")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, false) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || strings.TrimSpace(sub) == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// bearerToken returns the token of a "Bearer <jwt>" header. Anything that is
// not three dot-separated segments is rejected before parsing.
func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
