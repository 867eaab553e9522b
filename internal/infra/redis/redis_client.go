package redis

import (
	"context"
	"strings"

	"video-subtitler/internal/config"

	"github.com/go-redis/redis/v8"
)

// Client is a shared connection used by the queue, locker and rate limiter.
type Client struct {
	cli *redis.Client
}

// Options translates config into go-redis options. Client-side retries are
// disabled; callers that want retries implement them explicitly.
func Options(cfg *config.RedisConfig) *redis.Options {
	opts := &redis.Options{Addr: cfg.URL}
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		if parsed, err := redis.ParseURL(cfg.URL); err == nil {
			opts = parsed
		}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.PoolSize = cfg.MaxConnections
	opts.DialTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.SocketTimeout
	opts.WriteTimeout = cfg.SocketTimeout
	opts.MaxRetries = -1
	return opts
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	c := redis.NewClient(Options(cfg))
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &Client{cli: c}, nil
}

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *Client) Close() error { return c.cli.Close() }
