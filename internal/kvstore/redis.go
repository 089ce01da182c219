package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the networked Store backend.
// The client is dialled lazily and re-created when it is observed closed.
type Redis struct {
	opts *redis.Options

	mu     sync.Mutex
	client *redis.Client
}

// NewRedis parses url (redis:// or rediss://) without connecting
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{opts: opts}, nil
}

func (r *Redis) conn() *redis.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		r.client = redis.NewClient(r.opts)
		log.Printf("[KV] redis client created for %s", r.opts.Addr)
	}
	return r.client
}

// reset drops a closed client so the next call dials again
func (r *Redis) reset(stale *redis.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == stale {
		r.client = nil
	}
}

// do runs op once, and once more on a fresh client if the first one was closed
func (r *Redis) do(op func(c *redis.Client) error) error {
	c := r.conn()
	err := op(c)
	if errors.Is(err, redis.ErrClosed) {
		log.Printf("[KV] redis connection closed, reconnecting")
		r.reset(c)
		err = op(r.conn())
	}
	return err
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.do(func(c *redis.Client) error {
		var err error
		value, err = c.Get(ctx, key).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	err := r.do(func(c *redis.Client) error {
		return c.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	err := r.do(func(c *redis.Client) error {
		return c.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close closes the current client; a later call reconnects.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
