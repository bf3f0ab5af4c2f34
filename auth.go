package admitkit

// Authentication is delegated: the application supplies a SessionVerifier backed by
// its identity provider and Authenticate only extracts the credential, calls it and
// stores the resulting Principal. Authenticate runs before RateLimit on protected
// routes so anonymous traffic is turned away without consuming limiter slots.

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"
)

type authContextKey string

const principalKey authContextKey = "principal"

// ErrInvalidSession is returned by a SessionVerifier for an unknown, expired or
// revoked credential. Authenticate answers it with 401; any other verifier error
// is treated as an identity provider outage and answered with 503.
var ErrInvalidSession = errors.New("invalid session")

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Roles   []string
}

// HasRole reports whether p carries role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// SessionVerifier resolves a bearer token or session cookie value to a Principal.
//
// Thread safety: verifiers are called concurrently and must be safe for
// concurrent use.
type SessionVerifier func(ctx context.Context, token string) (Principal, error)

type authConfig struct {
	cookie string
	role   string
}

// AuthOption configures Authenticate.
type AuthOption func(*authConfig)

// WithSessionCookie also accepts the credential from the named cookie when no
// Authorization header is present.
func WithSessionCookie(name string) AuthOption {
	return func(c *authConfig) {
		c.cookie = name
	}
}

// WithRequiredRole rejects authenticated principals without role with 403.
func WithRequiredRole(role string) AuthOption {
	return func(c *authConfig) {
		c.role = role
	}
}

// Authenticate returns middleware that requires a valid session.
// The credential is read from "Authorization: Bearer <token>" or, if configured,
// the session cookie. Returns 401 (Unauthorized) when it is missing or rejected.
// The Principal is available to later handlers through PrincipalFromContext.
//
// Example:
//
//	verify := admitkit.StaticTokens(map[string]string{"s3cret": "admin"})
//	r.Group(func(r chi.Router) {
//		r.Use(admitkit.Authenticate(verify, admitkit.WithSessionCookie("session")))
//		r.Use(admitkit.RateLimit(reg.API))
//		r.Post("/api/admin/projects", createProject)
//	})
func Authenticate(verify SessionVerifier, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := &authConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := credential(r, cfg.cookie)
			if token == "" {
				reject(w, r, ErrUnauthorized.With("Missing credentials"))
				return
			}

			principal, err := verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInvalidSession) {
					reject(w, r, ErrUnauthorized.With("Invalid session"))
				} else {
					reject(w, r, ErrServiceUnavailable.With("Authentication unavailable"))
				}
				return
			}

			if cfg.role != "" && !principal.HasRole(cfg.role) {
				reject(w, r, ErrForbidden.With("Insufficient permissions"))
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the Principal stored by Authenticate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func credential(r *http.Request, cookie string) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if cookie != "" {
		if c, err := r.Cookie(cookie); err == nil {
			return c.Value
		}
	}
	return ""
}

// StaticTokens returns a SessionVerifier for a fixed token → subject table.
// Every principal it returns carries the "admin" role. Tokens are compared in
// constant time.
func StaticTokens(tokens map[string]string) SessionVerifier {
	type entry struct {
		token   []byte
		subject string
	}
	entries := make([]entry, 0, len(tokens))
	for token, subject := range tokens {
		entries = append(entries, entry{token: []byte(token), subject: subject})
	}

	return func(_ context.Context, token string) (Principal, error) {
		candidate := []byte(token)
		var match *entry
		for i := range entries {
			if subtle.ConstantTimeCompare(entries[i].token, candidate) == 1 {
				match = &entries[i]
			}
		}
		if match == nil {
			return Principal{}, ErrInvalidSession
		}
		return Principal{Subject: match.subject, Roles: []string{RoleAdmin}}, nil
	}
}

// RoleAdmin is the role StaticTokens grants.
const RoleAdmin = "admin"
