// File: internal/domain/ports/adapter/media.go
package adapter

import (
	"context"
	"fmt"
)

type MediaInfo struct {
	DurationSec float64
	HasAudio    bool
	Width       int
	Height      int
	FormatName  string
}

// MediaInspector reads container metadata without decoding the payload.
type MediaInspector interface {
	Inspect(ctx context.Context, path string) (MediaInfo, error)
}

// InspectionError describes a failed inspection.
type InspectionError struct {
	Path    string
	Message string
	Err     error
}

func (e *InspectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inspect %s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("inspect %s: %s", e.Path, e.Message)
}

func (e *InspectionError) Unwrap() error { return e.Err }

// AudioNormalizer writes a copy of input to out with its audio track
// brought to targetDB integrated loudness. Video streams are copied as-is.
type AudioNormalizer interface {
	Normalize(ctx context.Context, input, out string, targetDB float64) error
}
