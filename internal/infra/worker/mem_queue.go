package worker

import (
	"context"
	"sync"
	"time"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/ports/repository"

	"github.com/google/uuid"
)

var (
	_ repository.JobQueue = (*MemQueue)(nil)
	_ repository.Locker   = (*LocalLocker)(nil)
)

// MemQueue is an in-process JobQueue for single-process deployments.
// Delayed ids live in timers and are lost on exit.
type MemQueue struct {
	mu       sync.Mutex
	ready    []string
	inflight map[string]int
	notify   chan struct{}
	poll     time.Duration
}

func NewMemQueue(pollTimeout time.Duration) *MemQueue {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &MemQueue{inflight: map[string]int{}, notify: make(chan struct{}, 1), poll: pollTimeout}
}

func (q *MemQueue) Enqueue(_ context.Context, jobID string, delay time.Duration) error {
	if delay > 0 {
		time.AfterFunc(delay, func() { q.push(jobID) })
		return nil
	}
	q.push(jobID)
	return nil
}

func (q *MemQueue) push(jobID string) {
	q.mu.Lock()
	q.ready = append(q.ready, jobID)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemQueue) Dequeue(ctx context.Context) (string, error) {
	timeout := time.NewTimer(q.poll)
	defer timeout.Stop()
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			id := q.ready[0]
			q.ready = q.ready[1:]
			q.inflight[id]++
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout.C:
			return "", domain.ErrNotFound
		case <-q.notify:
		}
	}
}

func (q *MemQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight[jobID] <= 1 {
		delete(q.inflight, jobID)
	} else {
		q.inflight[jobID]--
	}
	return nil
}

// Len reports ready and in-flight ids.
func (q *MemQueue) Len() (ready, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.inflight)
}

type heldLock struct {
	token   string
	expires time.Time
}

// LocalLocker is a process-local Locker with expiring entries.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]heldLock{}, now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.locks[key]; ok && now.Before(h.expires) {
		return "", domain.ErrLockHeld
	}
	token := uuid.NewString()
	l.locks[key] = heldLock{token: token, expires: now.Add(ttl)}
	return token, nil
}

// Unlock releases key only when token still owns it.
func (l *LocalLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.locks[key]; ok && h.token == token {
		delete(l.locks, key)
	}
	return nil
}
