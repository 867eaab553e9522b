// Package ratelimit holds the in-process fixed-window limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/repository"
)

var _ repository.RateLimiter = (*WindowLimiter)(nil)

// WindowLimiter keeps one RateWindow per identity. Each identity's window
// expires on its own schedule.
type WindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*model.RateWindow
	limit   int
	length  time.Duration
	now     func() time.Time
}

func NewWindowLimiter(limit int, length time.Duration) *WindowLimiter {
	return &WindowLimiter{
		windows: make(map[string]*model.RateWindow),
		limit:   limit,
		length:  length,
		now:     time.Now,
	}
}

func (l *WindowLimiter) Allow(_ context.Context, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[identity]
	if !ok {
		w = &model.RateWindow{Identity: identity, WindowStart: now}
		l.windows[identity] = w
	}
	return w.Take(now, l.length, l.limit), nil
}

// Sweep drops expired windows and returns how many were removed.
func (l *WindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for id, w := range l.windows {
		if w.Expired(now, l.length) {
			delete(l.windows, id)
			n++
		}
	}
	return n
}

func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
