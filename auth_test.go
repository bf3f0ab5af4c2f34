package admitkit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthenticate(t *testing.T) {
	verify := StaticTokens(map[string]string{"s3cret": "owner"})

	tests := []struct {
		name       string
		setup      func(*http.Request)
		opts       []AuthOption
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "bearer token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") },
			wantStatus: http.StatusOK,
		},
		{
			name:       "scheme is case insensitive",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "bearer s3cret") },
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing credentials",
			setup:      func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Missing credentials",
		},
		{
			name:       "wrong scheme",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Basic czNjcmV0") },
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Missing credentials",
		},
		{
			name:       "unknown token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Invalid session",
		},
		{
			name: "session cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "session", Value: "s3cret"})
			},
			opts:       []AuthOption{WithSessionCookie("session")},
			wantStatus: http.StatusOK,
		},
		{
			name: "cookie ignored unless configured",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "session", Value: "s3cret"})
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "required role present",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") },
			opts:       []AuthOption{WithRequiredRole(RoleAdmin)},
			wantStatus: http.StatusOK,
		},
		{
			name:       "required role missing",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") },
			opts:       []AuthOption{WithRequiredRole("editor")},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Handler()(Authenticate(verify, tt.opts...)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				p, ok := PrincipalFromContext(r.Context())
				if !ok || p.Subject != "owner" {
					t.Errorf("expected principal owner in context, got %+v (ok=%v)", p, ok)
				}
				SetResponse(r, http.StatusOK, nil)
			})))

			req := httptest.NewRequest(http.MethodPost, "/api/admin/projects", http.NoBody)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantMsg != "" {
				if apiErr := decodeError(t, rec); apiErr.Message != tt.wantMsg {
					t.Errorf("expected message %q, got %q", tt.wantMsg, apiErr.Message)
				}
			}
		})
	}
}

func TestAuthenticate_VerifierOutage(t *testing.T) {
	verify := func(context.Context, string) (Principal, error) {
		return Principal{}, errors.New("identity provider timeout")
	}
	h := Handler()(Authenticate(verify)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestAuthenticate_WithoutHandler(t *testing.T) {
	h := Authenticate(StaticTokens(nil))(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// Anonymous requests are rejected before the limiter is consulted, so they do not
// use up an address's allowance.
func TestAuthenticate_BeforeRateLimit(t *testing.T) {
	l := newTestLimiter(t, newFakeClock(), Policy{MaxRequests: 1, Window: time.Minute})
	verify := StaticTokens(map[string]string{"s3cret": "owner"})
	h := Handler()(Authenticate(verify)(RateLimit(l)(okHandler())))

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.Header.Set("X-Forwarded-For", "10.1.1.1")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for range 3 {
		if code := send(""); code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", code)
		}
	}
	if code := send("s3cret"); code != http.StatusOK {
		t.Fatalf("expected authenticated request to be admitted, got %d", code)
	}
	if code := send("s3cret"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", code)
	}
}

func TestStaticTokens(t *testing.T) {
	verify := StaticTokens(map[string]string{"a": "alice", "b": "bob"})

	p, err := verify(context.Background(), "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Subject != "bob" || !p.HasRole(RoleAdmin) {
		t.Errorf("unexpected principal %+v", p)
	}

	if _, err := verify(context.Background(), "c"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := verify(context.Background(), ""); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession for empty token, got %v", err)
	}
}
