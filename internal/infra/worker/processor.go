package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/domain/ports/repository"
	"video-subtitler/internal/infra/logging"

	"github.com/rs/zerolog"
)

// maxRunningProgress keeps 100 for the SUCCEEDED transition.
const maxRunningProgress = 99

// TranscriptionProcessor turns a staged upload into subtitle segments.
// normalizer may be nil, in which case normalization requests are ignored.
type TranscriptionProcessor struct {
	artifacts      repository.ArtifactStore
	inspector      adapter.MediaInspector
	transcriber    adapter.Transcriber
	normalizer     adapter.AudioNormalizer
	mergeThreshold float64
	log            *zerolog.Logger
}

func NewTranscriptionProcessor(
	artifacts repository.ArtifactStore,
	inspector adapter.MediaInspector,
	transcriber adapter.Transcriber,
	normalizer adapter.AudioNormalizer,
	mergeThreshold float64,
	logger *zerolog.Logger,
) *TranscriptionProcessor {
	l := logger.With().Str("component", "processor").Str("transcriber", transcriber.Name()).Logger()
	return &TranscriptionProcessor{
		artifacts:      artifacts,
		inspector:      inspector,
		transcriber:    transcriber,
		normalizer:     normalizer,
		mergeThreshold: mergeThreshold,
		log:            &l,
	}
}

func (p *TranscriptionProcessor) Process(ctx context.Context, job *model.Job, report func(int)) ([]model.Segment, error) {
	log := logging.With(ctx, p.log)
	path, release, err := p.artifacts.Fetch(ctx, job.InputRef)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return nil, domain.Permanent(err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch input: %w", err)
	}
	defer release()

	info, err := p.inspector.Inspect(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("inspect input: %w", err)
	}

	if job.NormalizeAudio {
		if normalized, cleanup, ok := p.normalize(ctx, job, path, info); ok {
			defer cleanup()
			path = normalized
		}
	}

	stream, err := p.transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	defer stream.Close()

	var segs []model.Segment
	for {
		seg, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, err
		}
		segs = append(segs, seg)
		if info.DurationSec > 0 {
			pct := int(seg.End / info.DurationSec * 100)
			report(min(pct, maxRunningProgress))
		}
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	raw := len(segs)
	if p.mergeThreshold > 0 {
		segs = model.MergeNearby(segs, p.mergeThreshold)
	}
	if segs == nil {
		segs = []model.Segment{}
	}
	log.Debug().Int("raw_segments", raw).Int("segments", len(segs)).Float64("duration_sec", info.DurationSec).Msg("transcription complete")
	return segs, nil
}

// normalize writes a loudness-normalized copy of path. Failures are logged
// and the caller keeps transcribing the original input.
func (p *TranscriptionProcessor) normalize(ctx context.Context, job *model.Job, path string, info adapter.MediaInfo) (string, func(), bool) {
	log := logging.With(ctx, p.log)
	switch {
	case p.normalizer == nil:
		log.Warn().Msg("audio normalization requested but not configured")
		return "", nil, false
	case !info.HasAudio:
		log.Warn().Msg("audio normalization requested but input has no audio")
		return "", nil, false
	}

	tmp, err := os.CreateTemp("", "normalized-*"+filepath.Ext(path))
	if err != nil {
		log.Warn().Err(err).Msg("audio normalization skipped")
		return "", nil, false
	}
	out := tmp.Name()
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(out) }

	target := job.TargetDB
	if target == 0 {
		target = model.DefaultTargetDB
	}
	if err := p.normalizer.Normalize(ctx, path, out, target); err != nil {
		cleanup()
		log.Warn().Err(err).Float64("target_db", target).Msg("audio normalization failed, using original input")
		return "", nil, false
	}
	log.Info().Float64("target_db", target).Msg("audio normalized")
	return out, cleanup, true
}
