package transcribe

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/infra/adapters/cmdexec"
)

var _ adapter.Transcriber = (*WhisperCLI)(nil)

// WhisperCLI runs whisper.cpp and streams segments from its stdout as
// they are printed.
type WhisperCLI struct {
	whisperPath string
	modelPath   string
	language    string
	extract     audioExtractor
	command     func(ctx context.Context, name string, args ...string) *exec.Cmd
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
}

func NewWhisperCLI(whisperPath, ffmpegPath, modelPath, language string) *WhisperCLI {
	return &WhisperCLI{
		whisperPath: whisperPath,
		modelPath:   modelPath,
		language:    language,
		extract:     ffmpegExtractor(cmdexec.ExecRunner{}, ffmpegPath),
		command:     exec.CommandContext,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
	}
}

func (w *WhisperCLI) Name() string { return "whisper.cpp" }

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

func buildWhisperArgs(modelPath, audioPath, language string) []string {
	args := []string{"-m", modelPath, "-f", audioPath}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}

func (w *WhisperCLI) Transcribe(ctx context.Context, mediaPath string) (adapter.SegmentStream, error) {
	tempDir, err := w.mkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	wav := filepath.Join(tempDir, "audio-16k-mono.wav")
	if err := w.extract(ctx, mediaPath, wav); err != nil {
		_ = w.removeAll(tempDir)
		return nil, err
	}

	cmd := w.command(ctx, w.whisperPath, buildWhisperArgs(w.modelPath, wav, w.language)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = w.removeAll(tempDir)
		return nil, err
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		_ = w.removeAll(tempDir)
		return nil, fmt.Errorf("%w: start %s: %v", domain.ErrTranscriberFailed, w.whisperPath, err)
	}
	return &cliStream{
		cmd:     cmd,
		scanner: bufio.NewScanner(stdout),
		stderr:  stderr,
		cleanup: func() { _ = w.removeAll(tempDir) },
	}, nil
}

// [00:00:01.240 --> 00:00:03.960]   text
var whisperLine = regexp.MustCompile(`^\[(\d+):(\d{2}):(\d{2})[.,](\d{3}) --> (\d+):(\d{2}):(\d{2})[.,](\d{3})\]\s*(.*)$`)

func parseWhisperLine(line string) (model.Segment, bool) {
	m := whisperLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return model.Segment{}, false
	}
	text := strings.TrimSpace(m[9])
	if text == "" {
		return model.Segment{}, false
	}
	return model.Segment{
		Start: clockSeconds(m[1], m[2], m[3], m[4]),
		End:   clockSeconds(m[5], m[6], m[7], m[8]),
		Text:  text,
	}, true
}

func clockSeconds(h, m, s, ms string) float64 {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	mss, _ := strconv.Atoi(ms)
	return float64(hh*3600+mm*60+ss) + float64(mss)/1000
}

type cliStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *bytes.Buffer

	done      bool
	closeOnce sync.Once
	cleanup   func()
}

func (s *cliStream) Next() (model.Segment, error) {
	if s.done {
		return model.Segment{}, io.EOF
	}
	for s.scanner.Scan() {
		if seg, ok := parseWhisperLine(s.scanner.Text()); ok {
			return seg, nil
		}
	}
	s.done = true
	scanErr := s.scanner.Err()
	if err := s.cmd.Wait(); err != nil {
		return model.Segment{}, fmt.Errorf("%w: %v: %s", domain.ErrTranscriberFailed, err, cmdexec.Tail(s.stderr.String(), 3))
	}
	if scanErr != nil {
		return model.Segment{}, scanErr
	}
	return model.Segment{}, io.EOF
}

func (s *cliStream) Close() error {
	s.closeOnce.Do(func() {
		if !s.done {
			s.done = true
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			_ = s.cmd.Wait()
		}
		s.cleanup()
	})
	return nil
}
