package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis-backed locker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// TTL bounds how long a crashed holder can block a date.
	TTL time.Duration
	// RetryEvery is the polling interval while another holder has the key.
	RetryEvery time.Duration
	// Prefix namespaces the keys, e.g. "appt:lock".
	Prefix string
}

// Redis is a Locker shared by every instance talking to the same Redis.
type Redis struct {
	client *redis.Client
	opts   RedisOptions

	mu     sync.Mutex
	tokens map[string]string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedis(opts RedisOptions) (*Redis, error) {
	const op = "lock.NewRedis"

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewRedisWithClient(client, opts), nil
}

// NewRedisWithClient wraps an existing client, applying option defaults.
func NewRedisWithClient(client *redis.Client, opts RedisOptions) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = 25 * time.Millisecond
	}
	if opts.Prefix == "" {
		opts.Prefix = "lock"
	}
	return &Redis{client: client, opts: opts, tokens: make(map[string]string)}
}

func (r *Redis) Lock(ctx context.Context, key string) error {
	const op = "lock.Redis.Lock"

	token, err := newToken()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	redisKey := r.redisKey(key)

	ticker := time.NewTicker(r.opts.RetryEvery)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			r.mu.Lock()
			r.tokens[key] = token
			r.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for %s: %w", op, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) Unlock(ctx context.Context, key string) error {
	const op = "lock.Redis.Unlock"

	r.mu.Lock()
	token, ok := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotHeld)
	}

	n, err := releaseScript.Run(ctx, r.client, []string{r.redisKey(key)}, token).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		// TTL expired and someone else may hold it now.
		return fmt.Errorf("%s: %s: %w", op, key, ErrNotHeld)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) redisKey(key string) string {
	return r.opts.Prefix + ":" + key
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
