package admitkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhalm/admitkit/store"
)

// Limiter names used by the Registry.
const (
	LimiterAPI     = "api"
	LimiterEmail   = "email"
	LimiterVisitor = "visitor"
)

// Default policies for the Registry's limiters.
var (
	DefaultAPIPolicy     = Policy{MaxRequests: 100, Window: time.Minute}
	DefaultEmailPolicy   = Policy{MaxRequests: 10, Window: time.Hour}
	DefaultVisitorPolicy = Policy{MaxRequests: 10, Window: time.Minute}
)

// LimiterStats describes the identifiers tracked by one limiter.
type LimiterStats struct {
	TotalEntries int      `json:"totalEntries"`
	ActiveIPs    []string `json:"activeIps"`
}

// RegistryStats holds LimiterStats for every limiter in a Registry.
type RegistryStats struct {
	Email   LimiterStats `json:"email"`
	API     LimiterStats `json:"api"`
	Visitor LimiterStats `json:"visitor"`
}

// StoreFactory builds the store for the named limiter.
type StoreFactory func(name string) (store.Store, error)

// Registry holds the process-wide named limiters. Build one at startup with
// NewRegistry and pass it to the handlers that need it; each limiter has its own
// store and, for the memory backend, its own sweeper.
type Registry struct {
	API     *Limiter
	Email   *Limiter
	Visitor *Limiter
}

type registryConfig struct {
	policies map[string]Policy
	factory  StoreFactory
	memOpts  []store.MemoryOption
	observer DecisionObserver
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*registryConfig)

// RegistryWithPolicy overrides the policy of the named limiter
// (LimiterAPI, LimiterEmail or LimiterVisitor).
func RegistryWithPolicy(name string, p Policy) RegistryOption {
	return func(c *registryConfig) {
		c.policies[name] = p
	}
}

// RegistryWithStoreFactory replaces the default in-memory stores, e.g. with
// Redis stores using a per-limiter prefix.
func RegistryWithStoreFactory(fn StoreFactory) RegistryOption {
	return func(c *registryConfig) {
		c.factory = fn
	}
}

// RegistryWithMemoryOptions passes options to each default in-memory store.
// Ignored when a store factory is set.
func RegistryWithMemoryOptions(opts ...store.MemoryOption) RegistryOption {
	return func(c *registryConfig) {
		c.memOpts = append(c.memOpts, opts...)
	}
}

// RegistryWithObserver reports every decision of every limiter to fn.
func RegistryWithObserver(fn DecisionObserver) RegistryOption {
	return func(c *registryConfig) {
		c.observer = fn
	}
}

// NewRegistry builds the API, email and visitor limiters.
// Panics if a configured policy is not positive (see NewLimiter).
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	cfg := &registryConfig{
		policies: map[string]Policy{
			LimiterAPI:     DefaultAPIPolicy,
			LimiterEmail:   DefaultEmailPolicy,
			LimiterVisitor: DefaultVisitorPolicy,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.factory == nil {
		cfg.factory = func(string) (store.Store, error) {
			return store.NewMemory(cfg.memOpts...), nil
		}
	}

	for name, p := range cfg.policies {
		if p.MaxRequests <= 0 || p.Window <= 0 {
			panic(fmt.Sprintf("admitkit: limiter %q needs a positive policy, got %s", name, p))
		}
	}

	reg := &Registry{}
	targets := []struct {
		name string
		dst  **Limiter
	}{
		{LimiterAPI, &reg.API},
		{LimiterEmail, &reg.Email},
		{LimiterVisitor, &reg.Visitor},
	}
	for _, tgt := range targets {
		st, err := cfg.factory(tgt.name)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("create %s store: %w", tgt.name, err)
		}
		var lopts []LimiterOption
		if cfg.observer != nil {
			lopts = append(lopts, LimiterWithObserver(cfg.observer))
		}
		*tgt.dst = NewLimiter(tgt.name, st, cfg.policies[tgt.name], lopts...)
	}
	return reg, nil
}

// Limiters returns the registry's limiters in a stable order.
func (r *Registry) Limiters() []*Limiter {
	return []*Limiter{r.API, r.Email, r.Visitor}
}

// Stats reports the identifiers tracked by each limiter. Diagnostic only.
func (r *Registry) Stats(ctx context.Context) (RegistryStats, error) {
	var out RegistryStats
	var err error
	if out.Email, err = r.Email.Stats(ctx); err != nil {
		return RegistryStats{}, err
	}
	if out.API, err = r.API.Stats(ctx); err != nil {
		return RegistryStats{}, err
	}
	if out.Visitor, err = r.Visitor.Stats(ctx); err != nil {
		return RegistryStats{}, err
	}
	return out, nil
}

// Close stops every limiter's store. Normal request handling never calls it.
func (r *Registry) Close() error {
	var errs []error
	for _, l := range r.Limiters() {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
