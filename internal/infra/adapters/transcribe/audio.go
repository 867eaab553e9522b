// Package transcribe adapts speech-to-text engines to the Transcriber port.
package transcribe

import (
	"context"
	"fmt"
	"strings"

	"video-subtitler/internal/infra/adapters/cmdexec"
)

// audioExtractor writes the audio track of input to out.
type audioExtractor func(ctx context.Context, input, out string) error

// buildFFmpegArgs builds args for mono 16 kHz output; the codec follows
// the output extension (PCM for .wav, MP3 for .mp3).
func buildFFmpegArgs(inputPath, outPath string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
	}
	if strings.HasSuffix(outPath, ".mp3") {
		args = append(args, "-b:a", "64k")
	} else {
		args = append(args, "-c:a", "pcm_s16le")
	}
	return append(args, outPath)
}

func ffmpegExtractor(r cmdexec.Runner, ffmpegPath string) audioExtractor {
	return func(ctx context.Context, input, out string) error {
		res, err := r.Run(ctx, ffmpegPath, buildFFmpegArgs(input, out)...)
		if err != nil {
			return fmt.Errorf("ffmpeg audio extraction failed (exit %d): %s: %w",
				res.ExitCode, cmdexec.Tail(res.Stderr, 3), err)
		}
		return nil
	}
}
