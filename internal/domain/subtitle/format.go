// Package subtitle renders transcription segments as SRT or WebVTT.
package subtitle

import (
	"fmt"
	"math"
	"strings"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
)

type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

// Colors accepted for cue styling.
var Colors = []string{"white", "yellow", "green", "cyan", "red"}

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatSRT, "":
		return FormatSRT, nil
	case FormatVTT:
		return FormatVTT, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, s)
}

// ContentType is the media type exports are served with.
func (f Format) ContentType() string { return "text/plain; charset=utf-8" }

func (f Format) Extension() string { return "." + string(f) }

type Options struct {
	Color string // empty leaves cues unstyled
}

func (o Options) validate() error {
	if o.Color == "" {
		return nil
	}
	for _, c := range Colors {
		if o.Color == c {
			return nil
		}
	}
	return fmt.Errorf("%w: color %q", domain.ErrInvalidArgument, o.Color)
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm (SRT) or HH:MM:SS.mmm (VTT).
func FormatTimestamp(seconds float64, f Format) string {
	ms := int64(math.Round(math.Max(0, seconds) * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	ms %= 1000
	sep := ","
	if f == FormatVTT {
		sep = "."
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}

func Render(segs []model.Segment, f Format, opts Options) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	switch f {
	case FormatSRT:
		for i, s := range segs {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n", i+1,
				FormatTimestamp(s.Start, f), FormatTimestamp(s.End, f), styleSRT(s.Text, opts.Color))
		}
	case FormatVTT:
		b.WriteString("WEBVTT\n")
		for i, s := range segs {
			fmt.Fprintf(&b, "\ncue-%d\n%s --> %s\n%s\n", i+1,
				FormatTimestamp(s.Start, f), FormatTimestamp(s.End, f), styleVTT(s.Text, opts.Color))
		}
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, f)
	}
	return b.String(), nil
}

func styleSRT(text, color string) string {
	if color == "" {
		return text
	}
	return fmt.Sprintf(`<font color="%s">%s</font>`, color, text)
}

func styleVTT(text, color string) string {
	if color == "" {
		return text
	}
	return fmt.Sprintf("<c.%s>%s</c>", color, text)
}
