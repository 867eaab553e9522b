//go:build !integration

package media

import (
	"context"
	"errors"
	"strings"
	"testing"

	"video-subtitler/internal/infra/adapters/cmdexec"
)

func TestLoudnormNormalizer(t *testing.T) {
	ctx := context.Background()

	t.Run("should pass the target loudness to the filter", func(t *testing.T) {
		// Arrange
		r := &fakeRunner{}
		n := NewLoudnormNormalizerWithRunner("ffmpeg", r)

		// Act
		err := n.Normalize(ctx, "/tmp/in.mp4", "/tmp/out.mp4", -23.5)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		joined := strings.Join(r.args, " ")
		if r.name != "ffmpeg" || !strings.Contains(joined, "-af loudnorm=I=-23.5:TP=-1.5:LRA=11") {
			t.Errorf("unexpected invocation: %s %s", r.name, joined)
		}
		if !strings.Contains(joined, "-i /tmp/in.mp4") || r.args[len(r.args)-1] != "/tmp/out.mp4" {
			t.Errorf("unexpected input/output: %s", joined)
		}
	})

	t.Run("should surface ffmpeg stderr on failure", func(t *testing.T) {
		r := &fakeRunner{result: cmdexec.Result{Stderr: "Invalid data found\n", ExitCode: 1}, err: errors.New("exit status 1")}

		err := NewLoudnormNormalizerWithRunner("ffmpeg", r).Normalize(ctx, "a.mp4", "b.mp4", -20)

		if err == nil || !strings.Contains(err.Error(), "Invalid data found") {
			t.Errorf("expected stderr in error, got %v", err)
		}
	})
}
