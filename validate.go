// Request guards that run before binding.
//
//	r.Use(admitkit.MaxBodySize(64 << 10))
//	r.Use(admitkit.RequireContentType("application/json"))

package admitkit

import (
	"mime"
	"net/http"
	"strings"
)

// MaxBodySize returns middleware that limits request body size.
//
// Requests whose Content-Length exceeds maxBytes are rejected with 413 before the
// handler runs. Every body is also wrapped with http.MaxBytesReader so chunked or
// mislabelled bodies fail during Bind with ErrPayloadTooLarge.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				reject(w, r, ErrPayloadTooLarge.With("Request body too large"))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireContentType rejects requests that carry a body with a media type outside
// types with 415. Requests without a body pass through. Comparison ignores case
// and media type parameters such as charset.
func RequireContentType(types ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[strings.ToLower(t)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if _, ok := allowed[strings.ToLower(mediaType)]; err != nil || !ok {
				reject(w, r, ErrUnsupportedMediaType.WithParam(
					"Content-Type must be one of: "+strings.Join(types, ", "), "Content-Type"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reject reports apiErr through the wrapper state, or writes a plain error when
// Handler is not in the chain.
func reject(w http.ResponseWriter, r *http.Request, apiErr *APIError) {
	if HasState(r.Context()) {
		SetError(r, apiErr)
		return
	}
	http.Error(w, apiErr.Message, apiErr.Status)
}
