package admitkit

import (
	"context"
	"fmt"
	"time"

	"github.com/nhalm/admitkit/store"
)

// Policy is a fixed-window rate limit: at most MaxRequests per Window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

func (p Policy) String() string {
	return fmt.Sprintf("%d requests per %s", p.MaxRequests, p.Window)
}

// LimitResult is the outcome of Limiter.Limit.
type LimitResult struct {
	Success   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Outcomes passed to a DecisionObserver.
const (
	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// DecisionObserver is called once per Limit call with the limiter name and one of
// OutcomeAllowed, OutcomeRejected or OutcomeError. It runs on the request path and
// must not block.
type DecisionObserver func(limiter, outcome string)

// Limiter binds a Policy to a store under a name. The policy cannot change after
// construction. A Limiter owns its store and closes it in Close.
type Limiter struct {
	name     string
	policy   Policy
	store    store.Store
	observer DecisionObserver
}

// LimiterOption configures NewLimiter.
type LimiterOption func(*Limiter)

// LimiterWithObserver reports every decision to fn.
func LimiterWithObserver(fn DecisionObserver) LimiterOption {
	return func(l *Limiter) {
		l.observer = fn
	}
}

// NewLimiter creates a named limiter.
// Panics if the policy has a non-positive MaxRequests or Window.
func NewLimiter(name string, st store.Store, policy Policy, opts ...LimiterOption) *Limiter {
	if policy.MaxRequests <= 0 || policy.Window <= 0 {
		panic(fmt.Sprintf("admitkit: limiter %q needs a positive policy, got %s", name, policy))
	}
	l := &Limiter{
		name:   name,
		policy: policy,
		store:  st,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the limiter's name.
func (l *Limiter) Name() string { return l.name }

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Limit consults the store for identifier. A rejection is reported as
// Success == false, never as an error; errors come only from the store backend.
// With the memory store this does not block and never fails.
func (l *Limiter) Limit(ctx context.Context, identifier string) (LimitResult, error) {
	d, err := l.store.Check(ctx, identifier, int64(l.policy.MaxRequests), l.policy.Window)
	if err != nil {
		l.observe(OutcomeError)
		return LimitResult{}, fmt.Errorf("rate limiter %s: %w", l.name, err)
	}
	if d.Allowed {
		l.observe(OutcomeAllowed)
	} else {
		l.observe(OutcomeRejected)
	}
	return LimitResult{
		Success:   d.Allowed,
		Limit:     l.policy.MaxRequests,
		Remaining: int(d.Remaining),
		Reset:     d.ResetAt,
	}, nil
}

func (l *Limiter) observe(outcome string) {
	if l.observer != nil {
		l.observer(l.name, outcome)
	}
}

// Allow reports whether identifier is admitted. Store errors count as rejection.
func (l *Limiter) Allow(ctx context.Context, identifier string) bool {
	res, err := l.Limit(ctx, identifier)
	return err == nil && res.Success
}

// Stats returns the identifiers currently tracked by the limiter's store.
func (l *Limiter) Stats(ctx context.Context) (LimiterStats, error) {
	s, err := l.store.Stats(ctx)
	if err != nil {
		return LimiterStats{}, fmt.Errorf("rate limiter %s: %w", l.name, err)
	}
	ips := s.Keys
	if ips == nil {
		ips = []string{}
	}
	return LimiterStats{TotalEntries: s.TotalEntries, ActiveIPs: ips}, nil
}

// Close releases the limiter's store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
