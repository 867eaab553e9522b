// File: internal/domain/ports/adapter/transcriber.go
package adapter

import (
	"context"

	"video-subtitler/internal/domain/model"
)

// SegmentStream yields segments in order. Next returns io.EOF once the
// stream is exhausted. Streams are single-use; Close releases the
// underlying process or connection and may be called more than once.
type SegmentStream interface {
	Next() (model.Segment, error)
	Close() error
}

// Transcriber turns a media file into timed text segments.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, mediaPath string) (SegmentStream, error)
}
