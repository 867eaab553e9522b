package transcribe

import (
	"io"

	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/adapter"
)

var _ adapter.SegmentStream = (*sliceStream)(nil)

// sliceStream serves segments already held in memory.
type sliceStream struct {
	segs    []model.Segment
	pos     int
	onClose func()
}

func (s *sliceStream) Next() (model.Segment, error) {
	if s.pos >= len(s.segs) {
		return model.Segment{}, io.EOF
	}
	seg := s.segs[s.pos]
	s.pos++
	return seg, nil
}

func (s *sliceStream) Close() error {
	if s.onClose != nil {
		s.onClose()
		s.onClose = nil
	}
	return nil
}
