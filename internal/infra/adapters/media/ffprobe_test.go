//go:build !integration

package media

import (
	"context"
	"errors"
	"testing"

	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/infra/adapters/cmdexec"
)

type fakeRunner struct {
	result cmdexec.Result
	err    error
	name   string
	args   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (cmdexec.Result, error) {
	f.name, f.args = name, args
	return f.result, f.err
}

const probeJSON = `{
  "streams": [
    {"codec_type": "video", "width": 1280, "height": 720},
    {"codec_type": "audio", "duration": "12.5"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.480000"}
}`

func TestFFprobeInspector(t *testing.T) {
	ctx := context.Background()

	t.Run("should parse duration and streams", func(t *testing.T) {
		// Arrange
		r := &fakeRunner{result: cmdexec.Result{Stdout: probeJSON}}
		insp := NewFFprobeInspectorWithRunner("ffprobe", r)

		// Act
		info, err := insp.Inspect(ctx, "/tmp/a.mp4")

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.DurationSec != 12.48 || !info.HasAudio || info.Width != 1280 {
			t.Errorf("unexpected info: %+v", info)
		}
		if r.name != "ffprobe" || r.args[len(r.args)-1] != "/tmp/a.mp4" {
			t.Errorf("unexpected invocation: %s %v", r.name, r.args)
		}
	})

	t.Run("should report a structured error when ffprobe fails", func(t *testing.T) {
		r := &fakeRunner{result: cmdexec.Result{Stderr: "moov atom not found\n", ExitCode: 1}, err: errors.New("exit status 1")}
		insp := NewFFprobeInspectorWithRunner("ffprobe", r)

		_, err := insp.Inspect(ctx, "/tmp/a.mp4")

		var ie *adapter.InspectionError
		if !errors.As(err, &ie) {
			t.Fatalf("expected InspectionError, got %T %v", err, err)
		}
		if ie.Path != "/tmp/a.mp4" {
			t.Errorf("expected path recorded, got %q", ie.Path)
		}
	})

	t.Run("should fall back to stream duration", func(t *testing.T) {
		r := &fakeRunner{result: cmdexec.Result{Stdout: `{"streams":[{"codec_type":"audio","duration":"3.0"}],"format":{}}`}}
		info, err := NewFFprobeInspectorWithRunner("ffprobe", r).Inspect(ctx, "a.webm")

		if err != nil || info.DurationSec != 3 {
			t.Errorf("expected duration 3, got %+v (%v)", info, err)
		}
	})

	t.Run("should reject output without streams", func(t *testing.T) {
		r := &fakeRunner{result: cmdexec.Result{Stdout: `{"streams":[],"format":{"duration":"1"}}`}}
		_, err := NewFFprobeInspectorWithRunner("ffprobe", r).Inspect(ctx, "a.webm")

		var ie *adapter.InspectionError
		if !errors.As(err, &ie) {
			t.Errorf("expected InspectionError, got %v", err)
		}
	})
}
