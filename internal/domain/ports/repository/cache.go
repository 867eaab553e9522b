package repository

import (
	"context"
	"time"
)

// Key families persisted in the result cache.
const (
	JobStatusKeyPrefix      = "job-status:"
	ResultKeyPrefix         = "result:"
	JobFingerprintKeyPrefix = "job-fingerprint:"
)

func JobStatusKey(jobID string) string { return JobStatusKeyPrefix + jobID }

func ResultKey(fingerprint string) string { return ResultKeyPrefix + fingerprint }

func JobFingerprintKey(fingerprint string) string { return JobFingerprintKeyPrefix + fingerprint }

// ResultCache is a TTL key/value store of JSON values. Implementations
// absorb transport failures: reads report a miss and writes report false.
// Lookup is the exception for callers that must tell an absent key apart
// from an unreachable store: it reports (false, nil) only for a real miss
// and wraps domain.ErrCacheUnavailable otherwise.
type ResultCache interface {
	Get(ctx context.Context, key string, dst any) bool
	Lookup(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	Healthy(ctx context.Context) bool
	Close() error
}
