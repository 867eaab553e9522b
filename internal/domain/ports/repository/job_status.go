package repository

import (
	"context"

	"video-subtitler/internal/domain/model"
)

// JobStatusRepository stores the ephemeral job record.
// Get returns domain.ErrJobNotFound when the record is absent or expired;
// Save returns domain.ErrCacheUnavailable when the write was not persisted.
type JobStatusRepository interface {
	Get(ctx context.Context, jobID string) (*model.Job, error)
	Save(ctx context.Context, job *model.Job) error
}

// JobArchive keeps terminal jobs beyond the status TTL.
type JobArchive interface {
	Archive(ctx context.Context, job *model.Job) error
	FindByID(ctx context.Context, jobID string) (*model.Job, error)
}
