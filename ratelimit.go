// Rate limiting middleware for Chi and standard http.Handler.
//
// Each middleware consults one named Limiter, keyed by the client identifier from
// ClientIP unless another key function is configured. Rate limit headers
// (RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset) are set per the header
// mode and rejected requests get 429 (Too Many Requests) with Retry-After.
//
// Example:
//
//	reg, _ := admitkit.NewRegistry()
//	defer reg.Close()
//
//	r.With(admitkit.RateLimit(reg.Email)).Post("/api/contact", contact)
//
// Protected admin routes run authentication first, then the limiter:
//
//	r.Group(func(r chi.Router) {
//		r.Use(admitkit.Authenticate(verify))
//		r.Use(admitkit.RateLimit(reg.API))
//		r.Post("/api/admin/projects", createProject)
//	})
//
// The in-memory store keeps counters per process. With several instances each one
// enforces its own limit, so the effective ceiling is MaxRequests times the number
// of instances. Use a Redis store factory to share counters.

package admitkit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nhalm/canonlog"
)

// RateLimitHeaderMode controls when rate limit headers are included in responses.
type RateLimitHeaderMode int

const (
	// RateLimitHeadersAlways includes rate limit headers on all responses (default).
	// Headers: RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset
	// On 429: Also includes Retry-After
	RateLimitHeadersAlways RateLimitHeaderMode = iota

	// RateLimitHeadersOnLimitExceeded includes rate limit headers only on 429 responses.
	RateLimitHeadersOnLimitExceeded

	// RateLimitHeadersNever never includes rate limit headers in any response.
	// Use this when you want rate limiting without exposing limits to clients.
	RateLimitHeadersNever
)

type rateLimitConfig struct {
	keyFn      func(*http.Request) string
	headerMode RateLimitHeaderMode
}

// RateLimitOption configures RateLimit middleware.
type RateLimitOption func(*rateLimitConfig)

// RateLimitWithHeaderMode configures when rate limit headers are included in responses.
func RateLimitWithHeaderMode(mode RateLimitHeaderMode) RateLimitOption {
	return func(c *rateLimitConfig) {
		c.headerMode = mode
	}
}

// RateLimitWithKey replaces ClientIP as the source of the limiter key.
// Returning an empty string skips rate limiting for that request.
func RateLimitWithKey(fn func(*http.Request) string) RateLimitOption {
	return func(c *rateLimitConfig) {
		c.keyFn = fn
	}
}

// RateLimitWithRemoteAddr keys the limiter by the connection's RemoteAddr host.
// Use this for direct connections without a proxy.
func RateLimitWithRemoteAddr() RateLimitOption {
	return RateLimitWithKey(func(r *http.Request) string {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return ip
	})
}

// RateLimit returns middleware that admits requests through l.
// Returns 429 (Too Many Requests) when the limiter rejects the request and
// 500 (Internal Server Error) if the store fails.
//
// Sets the following headers based on header mode:
//   - RateLimit-Limit: The rate limit ceiling for the current window
//   - RateLimit-Remaining: Number of requests remaining in the current window
//   - RateLimit-Reset: Unix timestamp when the current window resets
//   - Retry-After: (only when limited) Seconds until the window resets
func RateLimit(l *Limiter, opts ...RateLimitOption) func(http.Handler) http.Handler {
	cfg := &rateLimitConfig{
		keyFn:      requestClientIP,
		headerMode: RateLimitHeadersAlways,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !admit(w, r, l, key, cfg.headerMode) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Admit consults l for the request's client identifier inside a handler.
// Returns true if the request may proceed. On rejection or store failure it sets
// ErrRateLimited or ErrInternal in the wrapper state (if available) and returns
// false; without the wrapper the caller writes the response.
//
//	func createProject(w http.ResponseWriter, r *http.Request) {
//		if !admitkit.Admit(r, reg.API) {
//			return
//		}
//		...
//	}
func Admit(r *http.Request, l *Limiter) bool {
	return admit(nil, r, l, requestClientIP(r), RateLimitHeadersAlways)
}

// admit runs one limiter check and reports the outcome through the wrapper state
// or, when w is non-nil and no state exists, directly to w.
func admit(w http.ResponseWriter, r *http.Request, l *Limiter, key string, mode RateLimitHeaderMode) bool {
	ctx := r.Context()
	useWrapper := HasState(ctx)

	setHeader := func(k, v string) {
		if useWrapper {
			SetHeader(r, k, v)
		} else if w != nil {
			w.Header().Set(k, v)
		}
	}
	fail := func(apiErr *APIError) {
		if useWrapper {
			SetError(r, apiErr)
		} else if w != nil {
			http.Error(w, apiErr.Message, apiErr.Status)
		}
	}

	res, err := l.Limit(ctx, key)
	if err != nil {
		if _, ok := canonlog.TryGetLogger(ctx); ok {
			canonlog.ErrorAdd(ctx, err)
		}
		fail(ErrInternal.With("Rate limit check failed"))
		return false
	}

	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.InfoAddMany(ctx, map[string]any{
			"ratelimit_limiter":   l.Name(),
			"ratelimit_remaining": res.Remaining,
			"ratelimit_rejected":  !res.Success,
		})
	}

	exceeded := !res.Success
	if mode == RateLimitHeadersAlways || (mode == RateLimitHeadersOnLimitExceeded && exceeded) {
		setHeader("RateLimit-Limit", strconv.Itoa(res.Limit))
		setHeader("RateLimit-Remaining", strconv.Itoa(res.Remaining))
		setHeader("RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
		if exceeded {
			setHeader("Retry-After", strconv.Itoa(retryAfterSeconds(res.Reset)))
		}
	}

	if exceeded {
		fail(ErrRateLimited.With(fmt.Sprintf("Rate limit exceeded: %s", l.Policy())))
		return false
	}
	return true
}

func retryAfterSeconds(reset time.Time) int {
	return max(0, int(math.Ceil(time.Until(reset).Seconds())))
}
