package redis

import (
	"context"
	"time"

	"video-subtitler/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.RateLimiter = (*RateLimiter)(nil)

// luaFixedWindow refuses without counting once the ceiling is reached, so
// rejected attempts do not extend the window.
var luaFixedWindow = redis.NewScript(`
local c = tonumber(redis.call("GET", KEYS[1]) or "0")
if c >= tonumber(ARGV[1]) then
	return 0
end
c = redis.call("INCR", KEYS[1])
if c == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1`)

// RateLimiter is a fixed-window limiter shared by every API replica.
type RateLimiter struct {
	cli    *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{cli: c.cli, limit: limit, window: window}
}

func (r *RateLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	n, err := luaFixedWindow.Run(ctx, r.cli, []string{RateLimitKey(identity)}, r.limit, r.window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func RateLimitKey(identity string) string {
	return "rate-limit:" + identity
}
