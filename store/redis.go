package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript applies the fixed-window admission rule atomically. A missing key
// opens a new window with count 1 and a PX expiry of the window length. A full
// window is reported without incrementing. Returns {count, pttl_ms, allowed}.
var checkScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if not current then
    redis.call('SET', KEYS[1], 1, 'PX', window)
    return {1, window, 1}
end
local count = tonumber(current)
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], window)
    ttl = window
end
if count >= limit then
    return {count, ttl, 0}
end
count = redis.call('INCR', KEYS[1])
return {count, ttl, 1}
`)

// Redis is a Redis-backed implementation of Store suitable for distributed deployments.
// Every instance sharing the same Redis database and prefix enforces one shared limit.
// Expired records are removed by Redis key expiry, so no sweeper is needed.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// RedisConfig holds configuration for Redis connection.
// All fields should be populated explicitly by your application code from environment
// variables, config files, or other sources. Never reads environment variables directly.
type RedisConfig struct {
	// URL is the Redis server address (e.g., "localhost:6379")
	URL string

	// Password for Redis authentication (optional, leave empty if not needed)
	Password string

	// DB is the Redis database number (0-15, default: 0)
	DB int

	// Prefix is prepended to all keys to namespace rate limit data (default: "ratelimit:")
	Prefix string

	// PoolSize is the maximum number of connections (default: 10 * runtime.GOMAXPROCS)
	PoolSize int

	// DialTimeout is the timeout for establishing new connections (default: 5s)
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads (default: 3s)
	ReadTimeout time.Duration
}

// NewRedis creates a Redis store with the given configuration.
// Validates the connection with a ping before returning. Returns an error if
// the connection cannot be established within 5 seconds.
//
// Example:
//
//	st, err := store.NewRedis(store.RedisConfig{
//		URL:    "localhost:6379",
//		Prefix: "ratelimit:api:",
//	})
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Prefix == "" {
		config.Prefix = "ratelimit:"
	}

	opts := &redis.Options{
		Addr:     config.URL,
		Password: config.Password,
		DB:       config.DB,
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		prefix: config.Prefix,
		now:    time.Now,
	}, nil
}

// Check runs the fixed-window rule in a single Lua script so concurrent instances
// never lose an update.
func (r *Redis) Check(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	result, err := checkScript.Run(ctx, r.client, []string{r.prefix + key}, limit, window.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis check failed: %w", err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("unexpected result length: got %d, want 3", len(result))
	}

	count, ok := result[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected type for count: %T", result[0])
	}
	ttlMillis, ok := result[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected type for ttl: %T", result[1])
	}
	allowed, ok := result[2].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected type for allowed: %T", result[2])
	}

	resetAt := r.now().Add(time.Duration(ttlMillis) * time.Millisecond)
	return decide(count, limit, allowed == 1, resetAt), nil
}

// Get retrieves the current count for the given key without incrementing.
// Returns 0 if the key doesn't exist or has expired.
func (r *Redis) Get(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

// Reset removes the counter for the given key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis reset failed: %w", err)
	}
	return nil
}

// Stats scans the store's prefix. Keys are returned without the prefix, sorted.
func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	keys := make([]string, 0)
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("redis scan failed: %w", err)
	}

	slices.Sort(keys)
	keys = slices.Compact(keys)
	return Stats{TotalEntries: len(keys), Keys: keys}, nil
}

// Close releases the Redis client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
