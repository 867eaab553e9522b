package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/domain/ports/repository"
	"video-subtitler/internal/infra/logging"
	"video-subtitler/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/wailsapp/mimetype"
)

// AdmissionRequest describes one staged upload.
type AdmissionRequest struct {
	Path         string // local file holding the uploaded bytes
	DeclaredName string // client-supplied file name
	ClientID     string // rate-limit identity
}

type AdmissionPolicy struct {
	AllowedExtensions []string
	AllowedMIMETypes  []string
	MaxFileSize       int64
	MaxDuration       time.Duration
	RequireAudio      bool
	ChunkSize         int
}

// AdmissionUseCase decides whether an upload may become a job.
type AdmissionUseCase interface {
	// Admit never fails for validation, cache or inspection problems; those
	// are reported through the result. It returns an error only when ctx ends.
	Admit(ctx context.Context, req AdmissionRequest) (model.AdmissionResult, error)
}

var _ AdmissionUseCase = (*admissionUC)(nil)

type admissionUC struct {
	policy    AdmissionPolicy
	cache     repository.ResultCache
	limiter   repository.RateLimiter
	inspector adapter.MediaInspector
	sniff     func(path string, allowed []string) (detected string, ok bool, err error)
	log       *zerolog.Logger
}

func NewAdmissionUseCase(
	policy AdmissionPolicy,
	cache repository.ResultCache,
	limiter repository.RateLimiter,
	inspector adapter.MediaInspector,
	logger *zerolog.Logger,
) AdmissionUseCase {
	if policy.ChunkSize <= 0 {
		policy.ChunkSize = 8192
	}
	l := logger.With().Str("component", "admission").Logger()
	return &admissionUC{
		policy:    policy,
		cache:     cache,
		limiter:   limiter,
		inspector: inspector,
		sniff:     sniffMIME,
		log:       &l,
	}
}

func sniffMIME(path string, allowed []string) (string, bool, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false, err
	}
	for _, a := range allowed {
		if m.Is(a) {
			return m.String(), true, nil
		}
	}
	return m.String(), false, nil
}

func (a *admissionUC) reject(reason, msg string) (model.AdmissionResult, error) {
	metrics.IncAdmission(reason)
	return model.AdmissionResult{Accepted: false, Reason: reason, Message: msg}, nil
}

func (a *admissionUC) Admit(ctx context.Context, req AdmissionRequest) (model.AdmissionResult, error) {
	defer logging.TraceDuration(a.log, "AdmissionUC.Admit")()
	log := logging.With(ctx, a.log)

	if err := ctx.Err(); err != nil {
		return model.AdmissionResult{}, err
	}

	// Every attempt consumes a slot, whatever the validation outcome.
	allowed, err := a.limiter.Allow(ctx, req.ClientID)
	if err != nil {
		log.Warn().Err(err).Msg("rate limiter unavailable, admitting")
	} else if !allowed {
		return a.reject(model.ReasonRateLimited, "too many uploads, try again later")
	}

	ext := strings.ToLower(filepath.Ext(req.DeclaredName))
	if !slices.Contains(a.policy.AllowedExtensions, ext) {
		return a.reject(model.ReasonUnsupportedExt,
			fmt.Sprintf("file type %q is not allowed; accepted: %s", ext, strings.Join(a.policy.AllowedExtensions, ", ")))
	}
	detected, ok, err := a.sniff(req.Path, a.policy.AllowedMIMETypes)
	if err != nil {
		log.Warn().Err(err).Msg("cannot sniff upload")
		return a.reject(model.ReasonUnreadableInput, "uploaded file could not be read")
	}
	if !ok {
		return a.reject(model.ReasonUnsupportedMIMEType, fmt.Sprintf("content type %q is not allowed", detected))
	}

	st, err := os.Stat(req.Path)
	if err != nil {
		return a.reject(model.ReasonUnreadableInput, "uploaded file could not be read")
	}
	if st.Size() == 0 {
		return a.reject(model.ReasonEmptyFile, "uploaded file is empty")
	}
	if st.Size() > a.policy.MaxFileSize {
		return a.reject(model.ReasonFileTooLarge,
			fmt.Sprintf("file exceeds the %d MB limit", a.policy.MaxFileSize>>20))
	}

	info, err := a.inspector.Inspect(ctx, req.Path)
	if err != nil {
		if ctx.Err() != nil {
			return model.AdmissionResult{}, ctx.Err()
		}
		log.Warn().Err(err).Msg("media inspection failed")
		return a.reject(model.ReasonMediaUnreadable, "media could not be inspected")
	}
	if info.DurationSec > a.policy.MaxDuration.Seconds() {
		return a.reject(model.ReasonDurationTooLong,
			fmt.Sprintf("media is %.0fs long; the limit is %.0fs", info.DurationSec, a.policy.MaxDuration.Seconds()))
	}
	if a.policy.RequireAudio && !info.HasAudio {
		return a.reject(model.ReasonNoAudioStream, "media has no audio track")
	}

	fp, err := Fingerprint(req.Path, a.policy.ChunkSize)
	if err != nil {
		log.Warn().Err(err).Msg("fingerprint failed")
		return a.reject(model.ReasonUnreadableInput, "uploaded file could not be read")
	}

	res := model.AdmissionResult{Accepted: true, Fingerprint: fp, DurationSec: info.DurationSec}
	var existing []model.Segment
	if a.cache.Get(ctx, repository.ResultKey(fp), &existing) {
		if existing == nil {
			existing = []model.Segment{}
		}
		res.ExistingResult = existing
		metrics.IncAdmission("deduplicated")
		log.Info().Str("fingerprint", fp).Msg("served cached result")
		return res, nil
	}
	metrics.IncAdmission("accepted")
	return res, nil
}

// Fingerprint returns the hex SHA-256 of the file, read chunkSize bytes at a time.
func Fingerprint(path string, chunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, make([]byte, chunkSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
