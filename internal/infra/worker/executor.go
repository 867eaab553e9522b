// File: internal/infra/worker/executor.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/repository"
	"video-subtitler/internal/infra/logging"
	"video-subtitler/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const lockGrace = time.Minute

// Processor performs the work of one attempt. report receives monotonic
// progress percentages and may be called from any goroutine.
type Processor interface {
	Process(ctx context.Context, job *model.Job, report func(progress int)) ([]model.Segment, error)
}

type ExecutorConfig struct {
	RetryBaseDelay time.Duration
	SoftTimeout    time.Duration
	HardTimeout    time.Duration
	// IdleBackoff is the pause after a failed dequeue.
	IdleBackoff time.Duration
	// RedeliverDelay postpones a delivery whose job record could not be
	// read because the status store was unreachable.
	RedeliverDelay time.Duration
}

// Executor drives jobs from the queue through the job state machine.
type Executor struct {
	jobs      repository.JobStatusRepository
	queue     repository.JobQueue
	locker    repository.Locker
	artifacts repository.ArtifactStore
	archive   repository.JobArchive
	proc      Processor
	gov       *MemoryGovernor
	cfg       ExecutorConfig
	log       *zerolog.Logger
	now       func() time.Time
}

// NewExecutor wires an executor. archive and gov may be nil.
func NewExecutor(
	jobs repository.JobStatusRepository,
	queue repository.JobQueue,
	locker repository.Locker,
	artifacts repository.ArtifactStore,
	archive repository.JobArchive,
	proc Processor,
	gov *MemoryGovernor,
	cfg ExecutorConfig,
	logger *zerolog.Logger,
) *Executor {
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = time.Second
	}
	if cfg.RedeliverDelay <= 0 {
		cfg.RedeliverDelay = 5 * time.Second
	}
	l := logger.With().Str("component", "executor").Logger()
	return &Executor{
		jobs:      jobs,
		queue:     queue,
		locker:    locker,
		artifacts: artifacts,
		archive:   archive,
		proc:      proc,
		gov:       gov,
		cfg:       cfg,
		log:       &l,
		now:       time.Now,
	}
}

func lockKey(jobID string) string { return "job-lock:" + jobID }

// Schedule hands jobID to the queue for immediate execution.
func (e *Executor) Schedule(ctx context.Context, jobID string) error {
	return e.queue.Enqueue(ctx, jobID, 0)
}

// Start feeds dequeued job ids into pool until ctx is done.
// It should be run in a goroutine.
func (e *Executor) Start(ctx context.Context, pool *Pool) {
	e.log.Info().Int("workers", pool.Size()).Msg("job executor started")
	for {
		if ctx.Err() != nil {
			e.log.Info().Msg("job executor stopping")
			return
		}
		jobID, err := e.queue.Dequeue(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			e.log.Error().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.IdleBackoff):
			}
			continue
		}
		id := jobID
		if err := pool.Submit(ctx, func(ctx context.Context) error { return e.Run(ctx, id) }); err != nil {
			// The id stays in the in-flight list and is recovered on restart.
			e.log.Warn().Err(err).Str("job_id", id).Msg("job not dispatched")
			return
		}
	}
}

// Run executes one attempt of jobID.
func (e *Executor) Run(ctx context.Context, jobID string) error {
	ctx = logging.WithJobID(ctx, jobID)
	log := logging.With(ctx, e.log)

	token, err := e.locker.TryLock(ctx, lockKey(jobID), e.cfg.HardTimeout+lockGrace)
	if errors.Is(err, domain.ErrLockHeld) {
		log.Info().Msg("attempt already in flight, dropping duplicate delivery")
		return e.queue.Ack(ctx, jobID)
	}
	if err != nil {
		return fmt.Errorf("acquire job lock: %w", err)
	}
	var unlockOnce sync.Once
	release := func() {
		unlockOnce.Do(func() {
			if err := e.locker.Unlock(context.WithoutCancel(ctx), lockKey(jobID), token); err != nil {
				log.Warn().Err(err).Msg("job lock release failed")
			}
		})
	}
	defer release()

	job, err := e.jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		log.Warn().Msg("job record expired before execution")
		return e.queue.Ack(ctx, jobID)
	}
	if errors.Is(err, domain.ErrCacheUnavailable) {
		log.Warn().Err(err).Dur("delay", e.cfg.RedeliverDelay).Msg("job record unreachable, redelivering later")
		release()
		return e.redeliver(ctx, jobID, e.cfg.RedeliverDelay)
	}
	if err != nil {
		log.Error().Err(err).Msg("job record unreadable, dropping delivery")
		return e.queue.Ack(ctx, jobID)
	}
	if job.State.IsTerminal() {
		return e.queue.Ack(ctx, jobID)
	}

	// A RUNNING record under a free lock means the previous owner died.
	if job.State == model.JobStateRunning {
		log.Warn().Int("retry_count", job.RetryCount).Msg("recovering job from lost worker")
		e.handleFailure(ctx, job, domain.ErrWorkerLost, release)
		return e.queue.Ack(ctx, jobID)
	}

	if err := job.Start(e.now()); err != nil {
		log.Error().Err(err).Str("state", string(job.State)).Msg("job cannot start")
		return e.queue.Ack(ctx, jobID)
	}
	if err := e.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("save running job: %w", err)
	}

	log.Info().Int("retry_count", job.RetryCount).Str("input_ref", job.InputRef).Msg("attempt started")
	metrics.JobStarted()
	start := e.now()
	a := &attempt{job: job, save: e.jobs.Save, now: e.now, log: log}
	res := e.execute(ctx, a)
	metrics.JobFinished()

	job = a.finish()
	segs, runErr := res.segs, res.err
	if runErr != nil && ctx.Err() != nil && !res.memCritical {
		// Shutdown interrupted the attempt. Leave the job RUNNING and the
		// queue entry unacknowledged so the next process picks it up.
		log.Warn().Err(runErr).Msg("attempt interrupted by shutdown")
		return runErr
	}

	if runErr == nil {
		metrics.ObserveJobAttempt("succeeded", e.now().Sub(start))
		if err := job.Succeed(segs, e.now()); err != nil {
			return err
		}
		e.saveFinal(ctx, job, log)
		e.finalize(ctx, job, log)
		log.Info().Int("segments", len(segs)).Dur("duration", e.now().Sub(start)).Msg("job succeeded")
	} else {
		metrics.ObserveJobAttempt(errorCode(runErr), e.now().Sub(start))
		log.Warn().Err(runErr).Msg("attempt failed")
		e.handleFailure(ctx, job, runErr, release)
	}

	ackErr := e.queue.Ack(context.WithoutCancel(ctx), jobID)
	if res.memCritical {
		e.gov.Terminate()
	}
	return ackErr
}

type outcome struct {
	segs        []model.Segment
	err         error
	memCritical bool
}

// execute runs the processor under the soft and hard deadlines and the
// memory governor. The processor goroutine is abandoned on hard timeout.
func (e *Executor) execute(ctx context.Context, a *attempt) outcome {
	procCtx, cancel := context.WithTimeoutCause(ctx, e.cfg.SoftTimeout, domain.ErrSoftTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	snapshot := a.snapshot()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("processor panic: %v", r)}
			}
		}()
		segs, err := e.proc.Process(procCtx, snapshot, a.report)
		done <- outcome{segs: segs, err: err}
	}()

	hard := time.NewTimer(e.cfg.HardTimeout)
	defer hard.Stop()
	mem := e.gov.Watch(procCtx, snapshot.ID)

	select {
	case o := <-done:
		if o.err != nil && errors.Is(context.Cause(procCtx), domain.ErrSoftTimeout) {
			o.err = fmt.Errorf("%w: %v", domain.ErrSoftTimeout, o.err)
		}
		return o
	case <-hard.C:
		return outcome{err: domain.ErrHardTimeout}
	case pct := <-mem:
		return outcome{err: fmt.Errorf("%w: %.1f%%", domain.ErrMemoryExceeded, pct), memCritical: true}
	case <-ctx.Done():
		return outcome{err: ctx.Err()}
	}
}

// redeliver puts jobID back on the queue after delay and acknowledges the
// current delivery. If the enqueue fails the delivery stays in flight.
func (e *Executor) redeliver(ctx context.Context, jobID string, delay time.Duration) error {
	ctx = context.WithoutCancel(ctx)
	if err := e.queue.Enqueue(ctx, jobID, delay); err != nil {
		return fmt.Errorf("redeliver job: %w", err)
	}
	return e.queue.Ack(ctx, jobID)
}

// handleFailure retries job when the error allows it and budget remains,
// otherwise fails it with the last error. release drops the job lock and
// runs before the retry is queued, so the next delivery can take it.
func (e *Executor) handleFailure(ctx context.Context, job *model.Job, cause error, release func()) {
	log := logging.With(ctx, e.log)
	code := errorCode(cause)
	if domain.Retryable(cause) && job.CanRetry() {
		delay := e.cfg.RetryBaseDelay * time.Duration(1<<job.RetryCount)
		if err := job.Retry(e.now()); err == nil {
			e.saveFinal(ctx, job, log)
			release()
			err := e.queue.Enqueue(context.WithoutCancel(ctx), job.ID, delay)
			if err == nil {
				metrics.IncJobRetry(code)
				log.Info().Str("reason", code).Int("retry_count", job.RetryCount).Dur("delay", delay).Msg("retry scheduled")
				return
			}
			log.Error().Err(err).Msg("retry could not be queued")
			cause = fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
			code = "schedule_failed"
		}
	}

	if err := job.Fail(model.JobError{Kind: domain.KindOf(cause), Code: code, Message: cause.Error()}, e.now()); err != nil {
		log.Error().Err(err).Str("state", string(job.State)).Msg("job cannot fail")
		return
	}
	e.saveFinal(ctx, job, log)
	e.finalize(ctx, job, log)
	log.Error().Str("reason", code).Int("retry_count", job.RetryCount).Msg("job failed")
}

func (e *Executor) saveFinal(ctx context.Context, job *model.Job, log *zerolog.Logger) {
	if err := e.jobs.Save(context.WithoutCancel(ctx), job); err != nil {
		log.Error().Err(err).Str("state", string(job.State)).Msg("job state not persisted")
	}
}

// finalize runs once per job, after it reached a terminal state.
func (e *Executor) finalize(ctx context.Context, job *model.Job, log *zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	if err := e.artifacts.Delete(ctx, job.InputRef); err != nil {
		log.Warn().Err(err).Str("input_ref", job.InputRef).Msg("input cleanup failed")
	}
	if e.archive != nil {
		if err := e.archive.Archive(ctx, job); err != nil {
			log.Warn().Err(err).Msg("job archive failed")
		}
	}
	metrics.IncJobProcessed(string(job.State))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSoftTimeout):
		return "soft_timeout"
	case errors.Is(err, domain.ErrHardTimeout):
		return "hard_timeout"
	case errors.Is(err, domain.ErrMemoryExceeded):
		return "memory_exceeded"
	case errors.Is(err, domain.ErrWorkerLost):
		return "worker_lost"
	case errors.Is(err, domain.ErrArtifactNotFound):
		return "input_missing"
	case errors.Is(err, domain.ErrTranscriberFailed):
		return "transcriber_failed"
	case errors.Is(err, domain.ErrCacheUnavailable):
		return "cache_unavailable"
	case errors.Is(err, domain.ErrQueueUnavailable):
		return "schedule_failed"
	default:
		return "processing_error"
	}
}

// attempt serializes progress writes against the final state write.
type attempt struct {
	mu       sync.Mutex
	job      *model.Job
	finished bool
	save     func(context.Context, *model.Job) error
	now      func() time.Time
	log      *zerolog.Logger
}

func (a *attempt) snapshot() *model.Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.job.Clone()
}

func (a *attempt) report(progress int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished || !a.job.SetProgress(progress, a.now()) {
		return
	}
	if err := a.save(context.Background(), a.job); err != nil {
		a.log.Debug().Err(err).Int("progress", progress).Msg("progress not persisted")
	}
}

// finish stops further progress writes and hands the job back.
func (a *attempt) finish() *model.Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = true
	return a.job
}
