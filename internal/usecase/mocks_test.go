// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memCache is an in-memory ResultCache storing JSON like the real one.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	down    bool // simulates an unreachable cache
	setErrs int  // number of upcoming Set calls to fail
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(_ context.Context, key string, dst any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if m.down || !ok {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

func (m *memCache) Lookup(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, domain.ErrCacheUnavailable
	}
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, domain.ErrSerialization
	}
	return true, nil
}

func (m *memCache) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false
	}
	if m.setErrs > 0 {
		m.setErrs--
		return false
	}
	b, err := json.Marshal(value)
	if err != nil {
		return false
	}
	m.data[key] = b
	m.ttls[key] = ttl
	return true
}

func (m *memCache) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return !m.down
}

func (m *memCache) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok && !m.down
}

func (m *memCache) Healthy(context.Context) bool { return !m.down }
func (m *memCache) Close() error                  { return nil }

func (m *memCache) ttl(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

// memJobRepo stores job copies.
type memJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	saveErr error
	getErr  error
}

func newMemJobRepo() *memJobRepo { return &memJobRepo{jobs: map[string]*model.Job{}} }

func (m *memJobRepo) Get(_ context.Context, id string) (*model.Job, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (m *memJobRepo) Save(_ context.Context, job *model.Job) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	return nil
}

type enqueued struct {
	id    string
	delay time.Duration
}

type mockQueue struct {
	mu         sync.Mutex
	items      []enqueued
	EnqueueErr error
}

func (q *mockQueue) Enqueue(_ context.Context, id string, delay time.Duration) error {
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, enqueued{id, delay})
	return nil
}

func (q *mockQueue) Dequeue(context.Context) (string, error) { return "", domain.ErrNotFound }
func (q *mockQueue) Ack(context.Context, string) error       { return nil }

type mockArchive struct {
	FindByIDFunc func(ctx context.Context, id string) (*model.Job, error)
}

func (m *mockArchive) Archive(context.Context, *model.Job) error { return nil }
func (m *mockArchive) FindByID(ctx context.Context, id string) (*model.Job, error) {
	return m.FindByIDFunc(ctx, id)
}

type mockLimiter struct {
	AllowFunc func(ctx context.Context, identity string) (bool, error)
	calls     int
}

func (m *mockLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	m.calls++
	if m.AllowFunc == nil {
		return true, nil
	}
	return m.AllowFunc(ctx, identity)
}

type mockInspector struct {
	InspectFunc func(ctx context.Context, path string) (adapter.MediaInfo, error)
	calls       int
}

func (m *mockInspector) Inspect(ctx context.Context, path string) (adapter.MediaInfo, error) {
	m.calls++
	return m.InspectFunc(ctx, path)
}
