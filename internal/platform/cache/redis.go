package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/progrunhq/progrun/internal/platform/logger"
)

// Options configures the Redis output cache
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis caches node outputs in Redis as JSON with per-key TTLs
type Redis struct {
	client *redis.Client
	prefix string
	log    logger.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(opts Options, log logger.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "outputs"
	}
	return &Redis{client: client, prefix: prefix, log: log}, nil
}

func (c *Redis) Get(ctx context.Context, key string) (map[string]interface{}, bool) {
	raw, err := c.client.Get(ctx, c.prefix+":"+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("output cache lookup failed", "key", key, "error", err)
		}
		return nil, false
	}

	var outputs map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &outputs); err != nil {
		c.log.Warn("output cache entry corrupt, discarding", "key", key, "error", err)
		c.client.Del(ctx, c.prefix+":"+key)
		return nil, false
	}
	return outputs, true
}

func (c *Redis) Set(ctx context.Context, key string, outputs map[string]interface{}, ttl time.Duration) {
	raw, err := json.Marshal(outputs)
	if err != nil {
		c.log.Warn("output cache value not serializable", "key", key, "error", err)
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := c.client.Set(ctx, c.prefix+":"+key, raw, ttl).Err(); err != nil {
		c.log.Warn("output cache write failed", "key", key, "error", err)
	}
}

func (c *Redis) Close() error {
	return c.client.Close()
}
