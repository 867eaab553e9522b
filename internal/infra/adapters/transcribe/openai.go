package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/infra/adapters/cmdexec"
)

var _ adapter.Transcriber = (*OpenAITranscriber)(nil)

// OpenAITranscriber calls an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAITranscriber struct {
	apiKey   string
	base     string // e.g., https://api.openai.com/v1
	model    string
	language string
	client   *http.Client
	extract  audioExtractor
}

func NewOpenAITranscriber(apiKey, baseURL, model, language, ffmpegPath string, timeout time.Duration) (*OpenAITranscriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAITranscriber{
		apiKey:   apiKey,
		base:     strings.TrimRight(baseURL, "/"),
		model:    model,
		language: normalizeLanguage(language),
		client:   &http.Client{Timeout: timeout},
		extract:  ffmpegExtractor(cmdexec.ExecRunner{}, ffmpegPath),
	}, nil
}

func (o *OpenAITranscriber) Name() string { return "openai:" + o.model }

type verboseTranscription struct {
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (o *OpenAITranscriber) Transcribe(ctx context.Context, mediaPath string) (adapter.SegmentStream, error) {
	tempDir, err := os.MkdirTemp("", "openai-stt-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	audio := filepath.Join(tempDir, "audio.mp3")
	if err := o.extract(ctx, mediaPath, audio); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(o.writeForm(mw, audio))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/audio/transcriptions", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: openai http %d: %s", domain.ErrTranscriberFailed, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, domain.Permanent(err)
		}
		return nil, err
	}

	var payload verboseTranscription
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	segs := make([]model.Segment, 0, len(payload.Segments))
	for _, s := range payload.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segs = append(segs, model.Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       text,
			Confidence: math.Exp(s.AvgLogprob),
		})
	}
	return &sliceStream{segs: segs}, nil
}

func (o *OpenAITranscriber) writeForm(mw *multipart.Writer, audioPath string) error {
	fields := [][2]string{
		{"model", o.model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	}
	if o.language != "" {
		fields = append(fields, [2]string{"language", o.language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return err
	}
	f, err := os.Open(audioPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}
