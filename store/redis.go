package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRedisMaxRetries = 16

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces window keys inside the database.
	KeyPrefix string
	// KeyTTL expires idle keys. Zero keeps them forever; otherwise it must be
	// at least the limiter window, or keys vanish while their window is active.
	KeyTTL time.Duration
	// MaxRetries bounds optimistic transaction retries under contention.
	MaxRetries int
}

// RedisStore shares window state between processes. Each Update is a
// WATCH/MULTI transaction on the key, retried when another writer wins.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	maxRetries int
	logger     *zap.Logger
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %w", ErrStoreUnavailable, err)
	}

	return NewRedisStoreFromClient(client, cfg, logger), nil
}

// NewRedisStoreFromClient wraps an existing client. Closing the store closes the client.
func NewRedisStoreFromClient(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultRedisMaxRetries
	}
	return &RedisStore{
		client:     client,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.KeyTTL,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (r *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	redisKey := r.prefix + key

	txf := func(tx *redis.Tx) error {
		prev, err := r.read(ctx, tx, redisKey)
		if err != nil {
			return err
		}

		next := fn(prev)
		if next == nil {
			return nil
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug("window update conflicted, retrying",
				zap.String("key", key), zap.Int("attempt", attempt))
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, ErrCorruptState) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return fmt.Errorf("%w: window update for %q still conflicting after %d attempts",
		ErrStoreUnavailable, key, r.maxRetries)
}

func (r *RedisStore) Get(ctx context.Context, key string) (*WindowState, error) {
	state, err := r.read(ctx, r.client, r.prefix+key)
	if err != nil && !errors.Is(err, ErrCorruptState) {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return state, err
}

func (r *RedisStore) read(ctx context.Context, c stringGetter, redisKey string) (*WindowState, error) {
	raw, err := c.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state WindowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("%w: key %s: %w", ErrCorruptState, redisKey, err)
	}
	return &state, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
