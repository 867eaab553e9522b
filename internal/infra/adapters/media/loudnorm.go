package media

import (
	"context"
	"fmt"
	"strconv"

	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/infra/adapters/cmdexec"
)

var _ adapter.AudioNormalizer = (*LoudnormNormalizer)(nil)

// LoudnormNormalizer runs a single-pass ffmpeg loudnorm filter.
type LoudnormNormalizer struct {
	path   string
	runner cmdexec.Runner
}

func NewLoudnormNormalizer(ffmpegPath string) *LoudnormNormalizer {
	return &LoudnormNormalizer{path: ffmpegPath, runner: cmdexec.ExecRunner{}}
}

func NewLoudnormNormalizerWithRunner(ffmpegPath string, r cmdexec.Runner) *LoudnormNormalizer {
	return &LoudnormNormalizer{path: ffmpegPath, runner: r}
}

func buildLoudnormArgs(input, out string, targetDB float64) []string {
	filter := "loudnorm=I=" + strconv.FormatFloat(targetDB, 'f', -1, 64) + ":TP=-1.5:LRA=11"
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-c:v", "copy",
		"-af", filter,
		out,
	}
}

func (n *LoudnormNormalizer) Normalize(ctx context.Context, input, out string, targetDB float64) error {
	res, err := n.runner.Run(ctx, n.path, buildLoudnormArgs(input, out, targetDB)...)
	if err != nil {
		return fmt.Errorf("ffmpeg loudnorm failed (exit %d): %s: %w", res.ExitCode, cmdexec.Tail(res.Stderr, 3), err)
	}
	return nil
}
