package admitkit

// Latency objectives. A route declares its class with SLO or SLOWithTarget and
// Handler (with WithSLOs) logs whether the request met it.

import (
	"context"
	"net/http"
	"time"
)

// SLOClass names a latency objective.
type SLOClass string

const (
	// SLOPublicRead covers cached or in-memory reads served to visitors.
	SLOPublicRead SLOClass = "public_read"

	// SLOPublicWrite covers visitor submissions such as the contact form.
	SLOPublicWrite SLOClass = "public_write"

	// SLOAdmin covers authenticated maintenance endpoints.
	SLOAdmin SLOClass = "admin"

	sloCustom SLOClass = "custom"
)

var sloTargets = map[SLOClass]time.Duration{
	SLOPublicRead:  100 * time.Millisecond,
	SLOPublicWrite: 500 * time.Millisecond,
	SLOAdmin:       time.Second,
}

// SLOTarget returns the latency target of class, or zero for an unknown class.
func SLOTarget(class SLOClass) time.Duration {
	return sloTargets[class]
}

type sloContextKey string

const sloKey sloContextKey = "slo"

type sloConfig struct {
	class  SLOClass
	target time.Duration
}

// SLO tags requests with one of the predefined classes.
func SLO(class SLOClass) func(http.Handler) http.Handler {
	return withSLO(&sloConfig{class: class, target: sloTargets[class]})
}

// SLOWithTarget tags requests with an explicit target. The class is logged as
// "custom".
func SLOWithTarget(target time.Duration) func(http.Handler) http.Handler {
	return withSLO(&sloConfig{class: sloCustom, target: target})
}

func withSLO(cfg *sloConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Handler logs from the outer context, so record the objective on its
			// state as well.
			if state := getState(r.Context()); state != nil {
				state.mu.Lock()
				state.slo = cfg
				state.mu.Unlock()
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sloKey, cfg)))
		})
	}
}

// GetSLO returns the class and target set by SLO or SLOWithTarget.
func GetSLO(ctx context.Context) (SLOClass, time.Duration, bool) {
	cfg, ok := ctx.Value(sloKey).(*sloConfig)
	if !ok {
		return "", 0, false
	}
	return cfg.class, cfg.target, true
}

// sloStatus is PASS when elapsed is within target.
func sloStatus(elapsed, target time.Duration) string {
	if elapsed > target {
		return "FAIL"
	}
	return "PASS"
}
