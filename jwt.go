package admitkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims JWTVerifier reads. The subject comes from "sub";
// roles from "roles", with a single "role" claim accepted as well.
type SessionClaims struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type jwtConfig struct {
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// JWTOption configures JWTVerifier.
type JWTOption func(*jwtConfig)

// JWTWithIssuer requires the "iss" claim to equal issuer.
func JWTWithIssuer(issuer string) JWTOption {
	return func(c *jwtConfig) {
		c.issuer = issuer
	}
}

// JWTWithAudience requires audience to be listed in the "aud" claim.
func JWTWithAudience(audience string) JWTOption {
	return func(c *jwtConfig) {
		c.audience = audience
	}
}

// JWTWithLeeway tolerates clock skew when checking exp, nbf and iat.
func JWTWithLeeway(d time.Duration) JWTOption {
	return func(c *jwtConfig) {
		c.leeway = d
	}
}

// JWTWithClock replaces time.Now for expiry checks.
func JWTWithClock(now func() time.Time) JWTOption {
	return func(c *jwtConfig) {
		c.now = now
	}
}

// JWTVerifier returns a SessionVerifier for HS256 tokens signed with secret by the
// identity provider. Tokens must carry "exp" and a non-empty "sub". Every parse or
// claim failure is reported as ErrInvalidSession, so Authenticate answers 401.
func JWTVerifier(secret []byte, opts ...JWTOption) SessionVerifier {
	cfg := &jwtConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.issuer))
	}
	if cfg.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.audience))
	}
	if cfg.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(cfg.leeway))
	}
	if cfg.now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(cfg.now))
	}
	parser := jwt.NewParser(parserOpts...)

	keyFunc := func(*jwt.Token) (any, error) {
		return secret, nil
	}

	return func(_ context.Context, token string) (Principal, error) {
		claims := &SessionClaims{}
		if _, err := parser.ParseWithClaims(token, claims, keyFunc); err != nil {
			return Principal{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
		}
		if claims.Subject == "" {
			return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidSession)
		}

		roles := claims.Roles
		if claims.Role != "" {
			roles = append(roles, claims.Role)
		}
		return Principal{Subject: claims.Subject, Roles: roles}, nil
	}
}

// SignSession issues an HS256 token for p that expires after ttl. It is the
// counterpart of JWTVerifier for tests and for tooling that mints admin sessions.
func SignSession(secret []byte, p Principal, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("admitkit: empty signing secret")
	}

	now := time.Now()
	claims := &SessionClaims{
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
