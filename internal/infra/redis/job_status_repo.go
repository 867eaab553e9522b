package redis

import (
	"context"
	"time"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/repository"
)

var _ repository.JobStatusRepository = (*JobStatusRepo)(nil)

// JobStatusRepo stores job records under job-status:<id>.
type JobStatusRepo struct {
	cache repository.ResultCache
	ttl   time.Duration
}

func NewJobStatusRepo(cache repository.ResultCache, ttl time.Duration) *JobStatusRepo {
	return &JobStatusRepo{cache: cache, ttl: ttl}
}

// Get returns domain.ErrJobNotFound only when the record is absent; an
// unreachable cache surfaces as domain.ErrCacheUnavailable.
func (r *JobStatusRepo) Get(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	found, err := r.cache.Lookup(ctx, repository.JobStatusKey(jobID), &job)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (r *JobStatusRepo) Save(ctx context.Context, job *model.Job) error {
	if !r.cache.Set(ctx, repository.JobStatusKey(job.ID), job, r.ttl) {
		return domain.ErrCacheUnavailable
	}
	return nil
}
