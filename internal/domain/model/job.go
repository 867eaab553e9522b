package model

import (
	"fmt"
	"time"

	"video-subtitler/internal/domain"
)

type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateRetrying  JobState = "RETRYING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
)

func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// jobTransitions lists every legal edge of the job lifecycle.
var jobTransitions = map[JobState][]JobState{
	JobStatePending:  {JobStateRunning, JobStateFailed},
	JobStateRunning:  {JobStateSucceeded, JobStateFailed, JobStateRetrying},
	JobStateRetrying: {JobStateRunning, JobStateFailed},
}

func CanTransition(from, to JobState) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobError is the structured cause stored on a failed job.
type JobError struct {
	Kind    domain.ErrorKind `json:"kind"`
	Code    string           `json:"code"`
	Message string           `json:"message"`
}

// Integrated loudness targets accepted for audio normalization.
const (
	DefaultTargetDB = -20.0
	MinTargetDB     = -70.0
	MaxTargetDB     = -5.0
)

func ValidTargetDB(db float64) bool { return db >= MinTargetDB && db <= MaxTargetDB }

type Job struct {
	ID          string `json:"id"`
	Fingerprint string `json:"content_fingerprint"`
	InputRef    string `json:"input_ref"`
	FileName    string `json:"file_name,omitempty"`
	ClientID    string `json:"client_id,omitempty"`

	// NormalizeAudio asks for a loudness pass to TargetDB before transcription.
	NormalizeAudio bool    `json:"normalize_audio,omitempty"`
	TargetDB       float64 `json:"target_db,omitempty"`

	State      JobState  `json:"state"`
	Progress   int       `json:"progress"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	Result     []Segment `json:"result"`
	Error      *JobError `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewJob(id, fingerprint, inputRef string, maxRetries int, now time.Time) (*Job, error) {
	if id == "" || fingerprint == "" || inputRef == "" || maxRetries < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now = now.UTC()
	return &Job{
		ID:          id,
		Fingerprint: fingerprint,
		InputRef:    inputRef,
		State:       JobStatePending,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (j *Job) transition(to JobState, now time.Time) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.State, to)
	}
	j.State = to
	j.UpdatedAt = now.UTC()
	return nil
}

// Start moves a pending or retrying job into RUNNING.
func (j *Job) Start(now time.Time) error {
	return j.transition(JobStateRunning, now)
}

// SetProgress records p if the job is running and p advances progress.
// Values are clamped to [0,100].
func (j *Job) SetProgress(p int, now time.Time) bool {
	if j.State != JobStateRunning {
		return false
	}
	p = max(0, min(p, 100))
	if p <= j.Progress {
		return false
	}
	j.Progress = p
	j.UpdatedAt = now.UTC()
	return true
}

// CanRetry reports whether another attempt is allowed.
func (j *Job) CanRetry() bool { return j.RetryCount < j.MaxRetries }

// Retry records a failed attempt and parks the job until it is re-enqueued.
func (j *Job) Retry(now time.Time) error {
	if !j.CanRetry() {
		return domain.ErrRetriesExhausted
	}
	if err := j.transition(JobStateRetrying, now); err != nil {
		return err
	}
	j.RetryCount++
	return nil
}

func (j *Job) Succeed(result []Segment, now time.Time) error {
	if err := j.transition(JobStateSucceeded, now); err != nil {
		return err
	}
	if result == nil {
		result = []Segment{}
	}
	j.Result = result
	j.Progress = 100
	j.Error = nil
	return nil
}

func (j *Job) Fail(cause JobError, now time.Time) error {
	if err := j.transition(JobStateFailed, now); err != nil {
		return err
	}
	j.Error = &cause
	j.Result = nil
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	c := *j
	if j.Result != nil {
		c.Result = make([]Segment, len(j.Result))
		copy(c.Result, j.Result)
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}
