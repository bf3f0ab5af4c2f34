package server

import (
	"fmt"

	"github.com/nhalm/admitkit"
	"github.com/nhalm/admitkit/internal/config"
	"github.com/nhalm/admitkit/store"
)

// NewRegistry builds the limiter registry described by cfg. The memory backend
// gives every limiter its own swept map; the redis backend gives every limiter
// its own key prefix on a shared server.
func NewRegistry(cfg *config.Config, observer admitkit.DecisionObserver) (*admitkit.Registry, error) {
	opts := []admitkit.RegistryOption{
		admitkit.RegistryWithPolicy(admitkit.LimiterAPI, cfg.RateLimit.API.Policy()),
		admitkit.RegistryWithPolicy(admitkit.LimiterEmail, cfg.RateLimit.Email.Policy()),
		admitkit.RegistryWithPolicy(admitkit.LimiterVisitor, cfg.RateLimit.Visitor.Policy()),
	}
	if observer != nil {
		opts = append(opts, admitkit.RegistryWithObserver(observer))
	}

	switch cfg.RateLimit.Backend {
	case config.BackendMemory:
		opts = append(opts, admitkit.RegistryWithMemoryOptions(store.WithSweepInterval(cfg.RateLimit.SweepInterval)))
	case config.BackendRedis:
		opts = append(opts, admitkit.RegistryWithStoreFactory(redisFactory(cfg.Redis)))
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}

	return admitkit.NewRegistry(opts...)
}

func redisFactory(cfg config.RedisConfig) admitkit.StoreFactory {
	return func(name string) (store.Store, error) {
		st, err := store.NewRedis(store.RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix + name + ":",
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}
