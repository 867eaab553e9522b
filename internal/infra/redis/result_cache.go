package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"video-subtitler/internal/config"
	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/ports/repository"
	"video-subtitler/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

var _ repository.ResultCache = (*ResultCache)(nil)

var errCacheClosed = errors.New("result cache closed")

type CacheOptions struct {
	RetryCount          int
	RetryBaseDelay      time.Duration
	HealthCheckInterval time.Duration
}

// ResultCache is a JSON key/value store over Redis. The connection is
// health-checked at most once per interval and rebuilt after failures;
// transient errors are retried with exponential backoff.
type ResultCache struct {
	mu        sync.Mutex
	cli       *redis.Client
	dial      func() *redis.Client
	lastCheck time.Time
	closed    bool

	opts  CacheOptions
	log   *zerolog.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewResultCache(cfg *config.RedisConfig, logger *zerolog.Logger) *ResultCache {
	opts := Options(cfg)
	return newResultCache(func() *redis.Client { return redis.NewClient(opts) }, CacheOptions{
		RetryCount:          cfg.RetryCount,
		RetryBaseDelay:      cfg.RetryBaseDelay,
		HealthCheckInterval: cfg.HealthCheckInterval,
	}, logger)
}

func newResultCache(dial func() *redis.Client, opts CacheOptions, logger *zerolog.Logger) *ResultCache {
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 30 * time.Second
	}
	l := logger.With().Str("component", "result_cache").Logger()
	return &ResultCache{
		dial:  dial,
		opts:  opts,
		log:   &l,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// client returns a live client, dialing or probing it as needed.
func (c *ResultCache) client(ctx context.Context) (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errCacheClosed
	}
	if c.cli == nil {
		c.cli = c.dial()
		c.lastCheck = time.Time{}
	}
	if now := c.now(); now.Sub(c.lastCheck) >= c.opts.HealthCheckInterval {
		if err := c.cli.Ping(ctx).Err(); err != nil {
			c.teardownLocked()
			return nil, err
		}
		c.lastCheck = now
	}
	return c.cli, nil
}

func (c *ResultCache) teardownLocked() {
	if c.cli == nil {
		return
	}
	_ = c.cli.Close()
	c.cli = nil
	metrics.IncCacheReconnect()
}

// invalidate drops cli if it is still the current client.
func (c *ResultCache) invalidate(cli *redis.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cli != nil && c.cli == cli {
		c.teardownLocked()
	}
}

// do runs fn with retries on transient errors. redis.Nil is returned as-is.
// After the last attempt the error wraps domain.ErrCacheUnavailable.
func (c *ResultCache) do(ctx context.Context, op string, fn func(cli *redis.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < c.opts.RetryCount; attempt++ {
		cli, err := c.client(ctx)
		if err == nil {
			err = fn(cli)
			if err == nil || errors.Is(err, redis.Nil) {
				return err
			}
		}
		if !isTransient(ctx, err) {
			metrics.IncCacheFailure(op, "error")
			return fmt.Errorf("%w: %s: %v", domain.ErrCacheUnavailable, op, err)
		}
		lastErr = err
		c.invalidate(cli)
		c.log.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("transient cache error")
		if attempt < c.opts.RetryCount-1 {
			metrics.IncCacheRetry(op)
			if err := c.sleep(ctx, c.opts.RetryBaseDelay<<attempt); err != nil {
				return fmt.Errorf("%w: %s: %v", domain.ErrCacheUnavailable, op, err)
			}
		}
	}
	metrics.IncCacheFailure(op, "retries_exhausted")
	return fmt.Errorf("%w: %s failed after %d attempts: %v", domain.ErrCacheUnavailable, op, c.opts.RetryCount, lastErr)
}

func isTransient(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errCacheClosed) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// family labels metrics by key prefix, e.g. "result" for "result:<fp>".
func family(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}

func (c *ResultCache) Get(ctx context.Context, key string, dst any) bool {
	ok, _ := c.Lookup(ctx, key, dst)
	return ok
}

func (c *ResultCache) Lookup(ctx context.Context, key string, dst any) (bool, error) {
	var raw []byte
	err := c.do(ctx, "get", func(cli *redis.Client) error {
		b, err := cli.Get(ctx, key).Bytes()
		raw = b
		return err
	})
	if errors.Is(err, redis.Nil) {
		metrics.IncCacheRequest(family(key), "miss")
		return false, nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		metrics.IncCacheRequest(family(key), "error")
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache value not decodable")
		metrics.IncCacheFailure("get", "decode")
		return false, fmt.Errorf("%w: %s: %v", domain.ErrSerialization, key, err)
	}
	metrics.IncCacheRequest(family(key), "hit")
	return true, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	b, err := json.Marshal(value)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("cache value not serializable")
		metrics.IncCacheFailure("set", "serialize")
		return false
	}
	err = c.do(ctx, "set", func(cli *redis.Client) error {
		return cli.Set(ctx, key, b, ttl).Err()
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		return false
	}
	return true
}

func (c *ResultCache) Delete(ctx context.Context, key string) bool {
	err := c.do(ctx, "delete", func(cli *redis.Client) error {
		return cli.Del(ctx, key).Err()
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache delete failed")
		return false
	}
	return true
}

func (c *ResultCache) Exists(ctx context.Context, key string) bool {
	var n int64
	err := c.do(ctx, "exists", func(cli *redis.Client) error {
		v, err := cli.Exists(ctx, key).Result()
		n = v
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache exists failed")
		return false
	}
	return n > 0
}

// Healthy probes the connection immediately, bypassing the interval.
func (c *ResultCache) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.cli == nil {
		c.cli = c.dial()
	}
	if err := c.cli.Ping(ctx).Err(); err != nil {
		c.log.Warn().Err(err).Msg("cache health probe failed")
		c.teardownLocked()
		return false
	}
	c.lastCheck = c.now()
	return true
}

// Close releases the connection pool. It is safe to call more than once.
func (c *ResultCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.cli != nil {
		err := c.cli.Close()
		c.cli = nil
		return err
	}
	return nil
}
