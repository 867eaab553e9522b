package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrJobNotFound       = errors.New("job not found")
	ErrResultNotFound    = errors.New("result not found")
	ErrUnsupportedFormat = errors.New("unsupported subtitle format")
	ErrInvalidTransition = errors.New("invalid job state transition")

	// Infrastructure
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrSerialization    = errors.New("serialization failed")
	ErrQueueUnavailable = errors.New("job queue unavailable")
	ErrLockHeld         = errors.New("lock held by another owner")

	// Admission
	ErrRateLimited = errors.New("rate limit exceeded")

	// Execution
	ErrSoftTimeout       = errors.New("soft time limit exceeded")
	ErrHardTimeout       = errors.New("hard time limit exceeded")
	ErrMemoryExceeded    = errors.New("memory usage above critical threshold")
	ErrWorkerLost        = errors.New("previous attempt did not finish")
	ErrRetriesExhausted  = errors.New("max retries exceeded")
	ErrArtifactNotFound  = errors.New("input artifact not found")
	ErrTranscriberFailed = errors.New("transcriber failed")
)

// ErrorKind classifies failures for callers that must decide between
// reject, retry and fail.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindRateLimit           ErrorKind = "rate_limit"
	KindCacheUnavailable    ErrorKind = "cache_unavailable"
	KindProcessingTransient ErrorKind = "processing_transient"
	KindProcessingFatal     ErrorKind = "processing_fatal"
	KindSerialization       ErrorKind = "serialization"
)

// ValidationError is a rejected admission with a stable reason code.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// KindOf maps an execution error to its taxonomy bucket.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrCacheUnavailable):
		return KindCacheUnavailable
	case errors.Is(err, ErrSerialization):
		return KindSerialization
	case errors.Is(err, ErrInvalidArgument):
		return KindValidation
	case errors.Is(err, ErrHardTimeout), IsPermanent(err):
		return KindProcessingFatal
	default:
		return KindProcessingTransient
	}
}

// Retryable reports whether an execution attempt that failed with err may be retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProcessingTransient, KindCacheUnavailable:
		return true
	}
	return false
}
