package admitkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"
)

type stateContextKey string

const stateKey stateContextKey = "admitkit_state"

// State holds the response state for a request. Middleware and handlers record
// the outcome with SetError, SetResponse and SetHeader; Handler writes it once the
// chain returns.
type State struct {
	mu      sync.Mutex
	err     *APIError
	status  int
	body    any
	headers http.Header
	slo     *sloConfig
}

// HasState returns true if Handler state exists in the context.
func HasState(ctx context.Context) bool {
	return getState(ctx) != nil
}

func getState(ctx context.Context) *State {
	state, _ := ctx.Value(stateKey).(*State)
	return state
}

// SetError sets an error response in the request context.
// No-op without Handler; use HasState to check.
func SetError(r *http.Request, err *APIError) {
	if state := getState(r.Context()); state != nil {
		state.mu.Lock()
		state.err = err
		state.mu.Unlock()
	}
}

// SetResponse sets a success response in the request context.
// No-op without Handler; use HasState to check.
func SetResponse(r *http.Request, status int, body any) {
	if state := getState(r.Context()); state != nil {
		state.mu.Lock()
		state.status = status
		state.body = body
		state.mu.Unlock()
	}
}

// SetHeader sets a response header in the request context.
// No-op without Handler; use HasState to check.
func SetHeader(r *http.Request, key, value string) {
	if state := getState(r.Context()); state != nil {
		state.mu.Lock()
		if state.headers == nil {
			state.headers = make(http.Header)
		}
		state.headers.Set(key, value)
		state.mu.Unlock()
	}
}

// HandlerOption configures the Handler middleware.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	canonlog       bool
	canonlogFields func(*http.Request) map[string]any
	clientIP       bool
	slos           bool
}

// WithCanonlog enables canonical logging for requests.
// Logs method, path, route, status and duration_ms once per request, together
// with errors set via SetError and the rate limit fields added by RateLimit.
func WithCanonlog() HandlerOption {
	return func(c *handlerConfig) {
		c.canonlog = true
	}
}

// WithCanonlogFields adds custom fields to each log entry.
// Called at request start, before the handler executes.
func WithCanonlogFields(fn func(*http.Request) map[string]any) HandlerOption {
	return func(c *handlerConfig) {
		c.canonlogFields = fn
	}
}

// WithCanonlogClientIP logs the client identifier (see ClientIP) as client_ip.
func WithCanonlogClientIP() HandlerOption {
	return func(c *handlerConfig) {
		c.clientIP = true
	}
}

// WithSLOs logs slo_class and slo_status (PASS or FAIL) for requests whose
// route declared an objective with SLO or SLOWithTarget. Requires WithCanonlog.
func WithSLOs() HandlerOption {
	return func(c *handlerConfig) {
		c.slos = true
	}
}

// Handler returns middleware that manages response state and writes responses.
// Use it as the outermost middleware. Panics in the chain are recovered and
// answered with ErrInternal.
func Handler(opts ...HandlerOption) func(http.Handler) http.Handler {
	cfg := &handlerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &State{}
			ctx := context.WithValue(r.Context(), stateKey, state)

			start := time.Now()
			if cfg.canonlog {
				ctx = canonlog.NewContext(ctx)
				canonlog.InfoAddMany(ctx, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				if cfg.clientIP {
					canonlog.InfoAdd(ctx, "client_ip", ClientIP(r.Header))
				}
				if cfg.canonlogFields != nil {
					canonlog.InfoAddMany(ctx, cfg.canonlogFields(r))
				}
			}

			r = r.WithContext(ctx)

			defer func() {
				if rec := recover(); rec != nil {
					state.mu.Lock()
					state.err = ErrInternal
					state.mu.Unlock()

					if cfg.canonlog {
						canonlog.ErrorAdd(ctx, fmt.Errorf("panic: %v", rec))
					}
				}

				if cfg.canonlog {
					logOutcome(ctx, r, state, time.Since(start), cfg.slos)
				}

				writeResponse(w, state)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func logOutcome(ctx context.Context, r *http.Request, state *State, elapsed time.Duration, slos bool) {
	state.mu.Lock()
	slo := state.slo
	status := state.status
	if status == 0 {
		status = http.StatusOK
	}
	if state.err != nil {
		status = state.err.Status
		canonlog.ErrorAdd(ctx, state.err)
	}
	state.mu.Unlock()

	route := r.URL.Path
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			route = pattern
		}
	}

	canonlog.InfoAddMany(ctx, map[string]any{
		"route":       route,
		"status":      status,
		"duration_ms": elapsed.Milliseconds(),
	})
	if slos && slo != nil {
		canonlog.InfoAddMany(ctx, map[string]any{
			"slo_class":  string(slo.class),
			"slo_status": sloStatus(elapsed, slo.target),
		})
	}
	canonlog.Flush(ctx)
}

func writeResponse(w http.ResponseWriter, state *State) {
	state.mu.Lock()
	defer state.mu.Unlock()

	for key, values := range state.headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	switch {
	case state.err != nil:
		writeJSON(w, state.err.Status, errorResponse{Error: state.err})
	case state.body != nil:
		writeJSON(w, state.status, state.body)
	case state.status != 0:
		w.WriteHeader(state.status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
