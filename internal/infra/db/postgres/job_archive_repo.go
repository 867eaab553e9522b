package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/repository"
	"video-subtitler/internal/infra/metrics"
)

var _ repository.JobArchive = (*jobArchiveRepo)(nil)

type jobArchiveRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobArchiveRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobArchiveRepo {
	return &jobArchiveRepo{pool: pool, tm: tm}
}

// Archive upserts a terminal job and replaces its segments in one transaction.
func (r *jobArchiveRepo) Archive(ctx context.Context, job *model.Job) error {
	if job == nil || !job.State.IsTerminal() {
		return fmt.Errorf("%w: only terminal jobs are archived", domain.ErrInvalidArgument)
	}

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}

		const upsert = `
INSERT INTO subtitle_jobs (id, content_fingerprint, input_ref, file_name, client_id, state, progress,
  retry_count, max_retries, error_kind, error_code, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  progress = EXCLUDED.progress,
  retry_count = EXCLUDED.retry_count,
  error_kind = EXCLUDED.error_kind,
  error_code = EXCLUDED.error_code,
  error_message = EXCLUDED.error_message,
  updated_at = EXCLUDED.updated_at,
  archived_at = now();`

		var kind, code, msg *string
		if job.Error != nil {
			k := string(job.Error.Kind)
			kind, code, msg = &k, &job.Error.Code, &job.Error.Message
		}
		if _, err := ex.Exec(ctx, upsert,
			job.ID, job.Fingerprint, job.InputRef, job.FileName, job.ClientID, string(job.State), job.Progress,
			job.RetryCount, job.MaxRetries, kind, code, msg, job.CreatedAt, job.UpdatedAt); err != nil {
			return pgError("upsert job", err)
		}

		if _, err := ex.Exec(ctx, `DELETE FROM subtitle_segments WHERE job_id = $1`, job.ID); err != nil {
			return pgError("clear segments", err)
		}
		const insertSeg = `
INSERT INTO subtitle_segments (job_id, seq, start_sec, end_sec, text, confidence)
VALUES ($1, $2, $3, $4, $5, $6);`
		for i, s := range job.Result {
			if _, err := ex.Exec(ctx, insertSeg, job.ID, i, s.Start, s.End, s.Text, s.Confidence); err != nil {
				return pgError("insert segment", err)
			}
		}
		return nil
	})

	if err != nil {
		metrics.IncArchiveWrite("error")
		return err
	}
	metrics.IncArchiveWrite("ok")
	return nil
}

// FindByID returns domain.ErrNotFound when the job was never archived.
func (r *jobArchiveRepo) FindByID(ctx context.Context, jobID string) (*model.Job, error) {
	const q = `
SELECT id, content_fingerprint, input_ref, file_name, client_id, state, progress, retry_count, max_retries,
  error_kind, error_code, error_message, created_at, updated_at
FROM subtitle_jobs WHERE id = $1;`

	var (
		job             model.Job
		state           string
		kind, code, msg *string
	)
	err := r.pool.QueryRow(ctx, q, jobID).Scan(
		&job.ID, &job.Fingerprint, &job.InputRef, &job.FileName, &job.ClientID, &state, &job.Progress,
		&job.RetryCount, &job.MaxRetries, &kind, &code, &msg, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, pgError("select job", err)
	}
	job.State = model.JobState(state)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	if kind != nil {
		job.Error = &model.JobError{Kind: domain.ErrorKind(*kind), Code: deref(code), Message: deref(msg)}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT start_sec, end_sec, text, confidence FROM subtitle_segments WHERE job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		return nil, pgError("select segments", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s model.Segment
		if err := rows.Scan(&s.Start, &s.End, &s.Text, &s.Confidence); err != nil {
			return nil, pgError("scan segment", err)
		}
		job.Result = append(job.Result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("iterate segments", err)
	}
	if job.State == model.JobStateSucceeded && job.Result == nil {
		job.Result = []model.Segment{}
	}
	return &job, nil
}

// pgError adds the server-side code to driver errors.
func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("archive %s: %s (SQLSTATE %s): %w", op, pgErr.Message, pgErr.Code, err)
	}
	return fmt.Errorf("archive %s: %w", op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
