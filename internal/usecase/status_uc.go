package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/repository"
	"video-subtitler/internal/domain/subtitle"
	"video-subtitler/internal/infra/logging"
	"video-subtitler/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// MaxTimingOffset bounds AdjustTiming in either direction, in seconds.
const MaxTimingOffset = 3600

type StatusPolicy struct {
	StatusTTL  time.Duration
	ResultTTL  time.Duration
	MaxRetries int
}

type NewJobRequest struct {
	Fingerprint    string
	InputRef       string
	FileName       string
	ClientID       string
	NormalizeAudio bool
	TargetDB       float64
}

type ScheduleResult struct {
	JobID string
	// Deduplicated is set when a live job for the same content already existed.
	Deduplicated bool
}

// StatusUseCase is the request-facing side of job execution.
type StatusUseCase interface {
	CreateAndSchedule(ctx context.Context, req NewJobRequest) (ScheduleResult, error)
	// Poll returns the job; the first time it is seen SUCCEEDED its result is
	// persisted under the content fingerprint.
	Poll(ctx context.Context, jobID string) (*model.Job, error)
	// AdjustTiming shifts a stored result. Concurrent adjustments are not
	// serialized; the last write wins.
	AdjustTiming(ctx context.Context, fingerprint string, offset float64) ([]model.Segment, error)
	Export(ctx context.Context, fingerprint string, format subtitle.Format, opts subtitle.Options) (string, error)
}

var _ StatusUseCase = (*statusUC)(nil)

type statusUC struct {
	jobs    repository.JobStatusRepository
	cache   repository.ResultCache
	queue   repository.JobQueue
	archive repository.JobArchive
	policy  StatusPolicy
	log     *zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewStatusUseCase wires the orchestrator. archive may be nil.
func NewStatusUseCase(
	jobs repository.JobStatusRepository,
	cache repository.ResultCache,
	queue repository.JobQueue,
	archive repository.JobArchive,
	policy StatusPolicy,
	logger *zerolog.Logger,
) StatusUseCase {
	l := logger.With().Str("component", "status").Logger()
	return &statusUC{
		jobs:    jobs,
		cache:   cache,
		queue:   queue,
		archive: archive,
		policy:  policy,
		log:     &l,
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}
}

func (s *statusUC) CreateAndSchedule(ctx context.Context, req NewJobRequest) (ScheduleResult, error) {
	defer logging.TraceDuration(s.log, "StatusUC.CreateAndSchedule")()
	if req.Fingerprint == "" || req.InputRef == "" {
		return ScheduleResult{}, domain.ErrInvalidArgument
	}
	if req.NormalizeAudio && req.TargetDB != 0 && !model.ValidTargetDB(req.TargetDB) {
		return ScheduleResult{}, fmt.Errorf("%w: target_db must be within [%g, %g]", domain.ErrInvalidArgument, model.MinTargetDB, model.MaxTargetDB)
	}

	fpKey := repository.JobFingerprintKey(req.Fingerprint)
	var liveID string
	if s.cache.Get(ctx, fpKey, &liveID) {
		if job, err := s.jobs.Get(ctx, liveID); err == nil && job.State != model.JobStateFailed {
			return ScheduleResult{JobID: liveID, Deduplicated: true}, nil
		}
	}

	now := s.now()
	job, err := model.NewJob(s.newID(), req.Fingerprint, req.InputRef, s.policy.MaxRetries, now)
	if err != nil {
		return ScheduleResult{}, err
	}
	job.FileName = req.FileName
	job.ClientID = req.ClientID
	if req.NormalizeAudio {
		job.NormalizeAudio = true
		job.TargetDB = req.TargetDB
		if job.TargetDB == 0 {
			job.TargetDB = model.DefaultTargetDB
		}
	}

	if err := s.jobs.Save(ctx, job); err != nil {
		return ScheduleResult{}, fmt.Errorf("record job: %w", err)
	}
	if !s.cache.Set(ctx, fpKey, job.ID, s.policy.StatusTTL) {
		s.log.Warn().Str("job_id", job.ID).Msg("fingerprint index not written")
	}
	if err := s.queue.Enqueue(ctx, job.ID, 0); err != nil {
		_ = job.Fail(model.JobError{
			Kind:    domain.KindProcessingFatal,
			Code:    "schedule_failed",
			Message: "job could not be queued",
		}, s.now())
		_ = s.jobs.Save(ctx, job)
		s.cache.Delete(ctx, fpKey)
		return ScheduleResult{}, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.IncJobScheduled()
	s.log.Info().Str("job_id", job.ID).Str("fingerprint", job.Fingerprint).Msg("job scheduled")
	return ScheduleResult{JobID: job.ID}, nil
}

func (s *statusUC) Poll(ctx context.Context, jobID string) (*model.Job, error) {
	defer logging.TraceDuration(s.log, "StatusUC.Poll")()
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) && s.archive != nil {
		job, err = s.archive.FindByID(ctx, jobID)
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.ErrJobNotFound
		}
	}
	if err != nil {
		return nil, err
	}
	if job.State == model.JobStateSucceeded {
		s.publishResult(ctx, job)
	}
	return job, nil
}

// publishResult stores the result under its fingerprint unless an entry
// already exists; an existing entry may carry a timing adjustment.
func (s *statusUC) publishResult(ctx context.Context, job *model.Job) {
	key := repository.ResultKey(job.Fingerprint)
	if s.cache.Exists(ctx, key) {
		return
	}
	result := job.Result
	if result == nil {
		result = []model.Segment{}
	}
	if !s.cache.Set(ctx, key, result, s.policy.ResultTTL) {
		s.log.Warn().Str("job_id", job.ID).Msg("result not persisted, will retry on next poll")
		return
	}
	s.log.Info().Str("job_id", job.ID).Str("fingerprint", job.Fingerprint).Int("segments", len(result)).Msg("result persisted")
}

func (s *statusUC) loadResult(ctx context.Context, fingerprint string) ([]model.Segment, error) {
	if fingerprint == "" {
		return nil, domain.ErrInvalidArgument
	}
	var segs []model.Segment
	found, err := s.cache.Lookup(ctx, repository.ResultKey(fingerprint), &segs)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrResultNotFound
	}
	return segs, nil
}

func (s *statusUC) AdjustTiming(ctx context.Context, fingerprint string, offset float64) ([]model.Segment, error) {
	defer logging.TraceDuration(s.log, "StatusUC.AdjustTiming")()
	if math.IsNaN(offset) || math.IsInf(offset, 0) || math.Abs(offset) > MaxTimingOffset {
		return nil, fmt.Errorf("%w: offset must be within ±%d seconds", domain.ErrInvalidArgument, MaxTimingOffset)
	}
	segs, err := s.loadResult(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	shifted := model.ShiftSegments(segs, offset)
	if !s.cache.Set(ctx, repository.ResultKey(fingerprint), shifted, s.policy.ResultTTL) {
		return nil, domain.ErrCacheUnavailable
	}
	return shifted, nil
}

func (s *statusUC) Export(ctx context.Context, fingerprint string, format subtitle.Format, opts subtitle.Options) (string, error) {
	defer logging.TraceDuration(s.log, "StatusUC.Export")()
	segs, err := s.loadResult(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	return subtitle.Render(segs, format, opts)
}
