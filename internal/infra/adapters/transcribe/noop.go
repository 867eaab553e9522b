package transcribe

import (
	"context"

	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/adapter"
)

var _ adapter.Transcriber = (*NoopTranscriber)(nil)

// NoopTranscriber returns a single placeholder segment. Used in dev.
type NoopTranscriber struct{}

func NewNoopTranscriber() *NoopTranscriber { return &NoopTranscriber{} }

func (NoopTranscriber) Name() string { return "noop" }

func (NoopTranscriber) Transcribe(_ context.Context, _ string) (adapter.SegmentStream, error) {
	return &sliceStream{segs: []model.Segment{{Start: 0, End: 1, Text: "[transcription disabled]", Confidence: 1}}}, nil
}
