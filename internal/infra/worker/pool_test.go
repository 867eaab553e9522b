//go:build !integration

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"video-subtitler/internal/domain"
)

func TestPool(t *testing.T) {
	t.Run("runs submitted tasks", func(t *testing.T) {
		p := NewPool(2, newTestLogger())
		p.Start(context.Background())
		defer p.Stop()

		var ran atomic.Int32
		done := make(chan struct{}, 3)
		for i := 0; i < 3; i++ {
			err := p.Submit(context.Background(), func(context.Context) error {
				ran.Add(1)
				done <- struct{}{}
				return nil
			})
			if err != nil {
				t.Fatalf("submit %d: %v", i, err)
			}
		}
		for i := 0; i < 3; i++ {
			<-done
		}
		if ran.Load() != 3 {
			t.Errorf("expected 3 tasks, got %d", ran.Load())
		}
	})

	t.Run("submit blocks while every worker is busy", func(t *testing.T) {
		p := NewPool(1, newTestLogger())
		p.Start(context.Background())
		release := make(chan struct{})
		_ = p.Submit(context.Background(), func(context.Context) error { <-release; return nil })

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := p.Submit(ctx, func(context.Context) error { return nil })

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected submit to wait for a free worker, got %v", err)
		}
		close(release)
		p.Stop()
	})

	t.Run("survives a panicking task", func(t *testing.T) {
		p := NewPool(1, newTestLogger())
		p.Start(context.Background())
		defer p.Stop()

		_ = p.Submit(context.Background(), func(context.Context) error { panic("boom") })
		done := make(chan struct{})
		err := p.Submit(context.Background(), func(context.Context) error { close(done); return nil })

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		<-done
	})

	t.Run("submit after stop fails", func(t *testing.T) {
		p := NewPool(1, newTestLogger())
		p.Start(context.Background())
		p.Stop()
		p.Stop()

		if err := p.Submit(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrPoolStopped) {
			t.Errorf("expected ErrPoolStopped, got %v", err)
		}
	})
}

func TestMemQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers in order and tracks in-flight ids", func(t *testing.T) {
		q := NewMemQueue(10 * time.Millisecond)
		_ = q.Enqueue(ctx, "a", 0)
		_ = q.Enqueue(ctx, "b", 0)

		first, _ := q.Dequeue(ctx)
		second, _ := q.Dequeue(ctx)
		_, inflight := q.Len()
		_ = q.Ack(ctx, first)
		_, after := q.Len()

		if first != "a" || second != "b" {
			t.Errorf("expected a then b, got %s then %s", first, second)
		}
		if inflight != 2 || after != 1 {
			t.Errorf("expected 2 then 1 in flight, got %d then %d", inflight, after)
		}
	})

	t.Run("empty queue times out with not found", func(t *testing.T) {
		q := NewMemQueue(10 * time.Millisecond)
		if _, err := q.Dequeue(ctx); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("delayed ids become ready later", func(t *testing.T) {
		q := NewMemQueue(time.Second)
		_ = q.Enqueue(ctx, "late", 20*time.Millisecond)

		if ready, _ := q.Len(); ready != 0 {
			t.Fatal("delayed id must not be ready immediately")
		}
		id, err := q.Dequeue(ctx)

		if err != nil || id != "late" {
			t.Errorf("expected late, got %q (%v)", id, err)
		}
	})
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if _, err := l.TryLock(ctx, "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := l.TryLock(ctx, "k", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("expected held lock, got %v", err)
	}

	_ = l.Unlock(ctx, "k", "someone-else")
	if _, err := l.TryLock(ctx, "k", time.Minute); err == nil {
		t.Error("foreign token must not release the lock")
	}

	now = now.Add(2 * time.Minute)
	if _, err := l.TryLock(ctx, "k", time.Minute); err != nil {
		t.Errorf("expected expired lock to be reacquired, got %v", err)
	}
}
