package worker

import (
	"context"
	"io"
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

type memJobRepo struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	progress []int
	getErr   error
}

func newMemJobRepo(jobs ...*model.Job) *memJobRepo {
	r := &memJobRepo{jobs: map[string]*model.Job{}}
	for _, j := range jobs {
		r.jobs[j.ID] = j.Clone()
	}
	return r
}

func (r *memJobRepo) Get(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (r *memJobRepo) Save(_ context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.State == model.JobStateRunning {
		r.progress = append(r.progress, job.Progress)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *memJobRepo) mustGet(id string) *model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		return j.Clone()
	}
	return nil
}

type enqueued struct {
	id    string
	delay time.Duration
}

type fakeQueue struct {
	mu        sync.Mutex
	items     []enqueued
	acks      []string
	onEnqueue func(id string)
}

func (q *fakeQueue) Enqueue(_ context.Context, id string, delay time.Duration) error {
	if q.onEnqueue != nil {
		q.onEnqueue(id)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, enqueued{id, delay})
	return nil
}

func (q *fakeQueue) Dequeue(context.Context) (string, error) { return "", domain.ErrNotFound }

func (q *fakeQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acks = append(q.acks, id)
	return nil
}

// rejectingQueue fails every enqueue.
type rejectingQueue struct{ *fakeQueue }

func (q *rejectingQueue) Enqueue(context.Context, string, time.Duration) error {
	return domain.ErrQueueUnavailable
}

type fakeStore struct {
	mu      sync.Mutex
	missing bool
	deletes map[string]int
}

func newFakeStore() *fakeStore { return &fakeStore{deletes: map[string]int{}} }

func (s *fakeStore) Put(context.Context, string, io.Reader) error { return nil }

func (s *fakeStore) Fetch(_ context.Context, ref string) (string, func(), error) {
	if s.missing {
		return "", nil, domain.ErrArtifactNotFound
	}
	return "/staged/" + ref, func() {}, nil
}

func (s *fakeStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes[ref]++
	return nil
}

func (s *fakeStore) deleteCount(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes[ref]
}

type fakeArchive struct {
	mu   sync.Mutex
	jobs []*model.Job
}

func (a *fakeArchive) Archive(_ context.Context, job *model.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job.Clone())
	return nil
}

func (a *fakeArchive) FindByID(context.Context, string) (*model.Job, error) {
	return nil, domain.ErrNotFound
}

type processorFunc func(ctx context.Context, job *model.Job, report func(int)) ([]model.Segment, error)

func (f processorFunc) Process(ctx context.Context, job *model.Job, report func(int)) ([]model.Segment, error) {
	return f(ctx, job, report)
}

type mockInspector struct {
	info adapter.MediaInfo
	err  error
}

func (m *mockInspector) Inspect(context.Context, string) (adapter.MediaInfo, error) {
	return m.info, m.err
}

type mockNormalizer struct {
	input, out string
	targetDB   float64
	err        error
}

func (m *mockNormalizer) Normalize(_ context.Context, input, out string, targetDB float64) error {
	m.input, m.out, m.targetDB = input, out, targetDB
	return m.err
}

type mockTranscriber struct {
	segs []model.Segment
	err  error
	// streamErr is returned by Next after segs are exhausted.
	streamErr error
	closed    bool
	path      string
}

func (m *mockTranscriber) Name() string { return "mock" }

func (m *mockTranscriber) Transcribe(_ context.Context, path string) (adapter.SegmentStream, error) {
	m.path = path
	if m.err != nil {
		return nil, m.err
	}
	return &mockStream{t: m}, nil
}

type mockStream struct {
	t *mockTranscriber
	i int
}

func (s *mockStream) Next() (model.Segment, error) {
	if s.i < len(s.t.segs) {
		s.i++
		return s.t.segs[s.i-1], nil
	}
	if s.t.streamErr != nil {
		return model.Segment{}, s.t.streamErr
	}
	return model.Segment{}, io.EOF
}

func (s *mockStream) Close() error {
	s.t.closed = true
	return nil
}
