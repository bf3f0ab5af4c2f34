package admitkit

// Client identity extraction. The identifier derived here is the key every
// limiter partitions its state by.

import (
	"context"
	"net/http"
	"strings"
)

// LoopbackIP is returned by ClientIP when no proxy header is present.
const LoopbackIP = "127.0.0.1"

type clientIPContextKey string

const clientIPKey clientIPContextKey = "client_ip"

// ClientIP derives the caller's identifier from request headers:
//  1. the first comma-separated entry of X-Forwarded-For, trimmed
//  2. X-Real-IP, trimmed
//  3. LoopbackIP
//
// The first non-empty value wins, so the result is never empty.
//
// SECURITY: Both headers are client-controlled unless a trusted reverse proxy
// overwrites them. Deploy behind a proxy that sets X-Forwarded-For or X-Real-IP,
// otherwise clients can pick their own rate limit key.
func ClientIP(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(h.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return LoopbackIP
}

// ResolveClientIP returns middleware that stores ClientIP(r.Header) in the request
// context for ClientIPFromContext.
//
// Example:
//
//	r.Use(admitkit.ResolveClientIP())
func ResolveClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey, ClientIP(r.Header))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromContext returns the identifier stored by ResolveClientIP.
func ClientIPFromContext(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(clientIPKey).(string)
	return ip, ok
}

// requestClientIP prefers the identifier resolved earlier in the chain.
func requestClientIP(r *http.Request) string {
	if ip, ok := ClientIPFromContext(r.Context()); ok {
		return ip
	}
	return ClientIP(r.Header)
}
