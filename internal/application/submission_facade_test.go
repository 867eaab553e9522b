//go:build !integration

package application_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"video-subtitler/internal/application"
	"video-subtitler/internal/config"
	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/domain/subtitle"
	"video-subtitler/internal/infra/ratelimit"
	infraredis "video-subtitler/internal/infra/redis"
	"video-subtitler/internal/infra/storage"
	"video-subtitler/internal/infra/worker"
	"video-subtitler/internal/usecase"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

const maxUpload = 1 << 20

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// mp4Bytes returns a minimal ISO BMFF header followed by payload.
func mp4Bytes(payload string) []byte {
	b := []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2', 0, 0, 0, 0, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}
	return append(b, payload...)
}

type staticInspector struct{}

func (staticInspector) Inspect(context.Context, string) (adapter.MediaInfo, error) {
	return adapter.MediaInfo{DurationSec: 12, HasAudio: true, FormatName: "mov,mp4"}, nil
}

type stubProcessor struct{ segs []model.Segment }

func (p stubProcessor) Process(_ context.Context, _ *model.Job, report func(int)) ([]model.Segment, error) {
	report(50)
	return p.segs, nil
}

type pipeline struct {
	facade   *application.SubmissionFacade
	status   usecase.StatusUseCase
	exec     *worker.Executor
	storeDir string
	tempDir  string
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	log := newTestLogger()

	mr := miniredis.RunT(t)
	rcfg := &config.RedisConfig{URL: mr.Addr(), RetryCount: 1, RetryBaseDelay: time.Millisecond}
	cache := infraredis.NewResultCache(rcfg, log)
	t.Cleanup(func() { _ = cache.Close() })
	client, err := infraredis.NewClient(ctx, rcfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	p := &pipeline{storeDir: t.TempDir(), tempDir: t.TempDir()}
	store, err := storage.NewLocalStore(p.storeDir)
	if err != nil {
		t.Fatal(err)
	}
	jobs := infraredis.NewJobStatusRepo(cache, time.Hour)
	queue := infraredis.NewJobQueue(client, 50*time.Millisecond)

	admission := usecase.NewAdmissionUseCase(usecase.AdmissionPolicy{
		AllowedExtensions: []string{".mp4", ".mov"},
		AllowedMIMETypes:  []string{"video/mp4", "video/quicktime"},
		MaxFileSize:       maxUpload,
		MaxDuration:       10 * time.Minute,
		RequireAudio:      true,
	}, cache, ratelimit.NewWindowLimiter(100, time.Hour), staticInspector{}, log)
	p.status = usecase.NewStatusUseCase(jobs, cache, queue, nil, usecase.StatusPolicy{
		StatusTTL:  time.Hour,
		ResultTTL:  24 * time.Hour,
		MaxRetries: 3,
	}, log)
	p.facade = application.NewSubmissionFacade(admission, p.status, store, p.tempDir, maxUpload, log)
	p.exec = worker.NewExecutor(jobs, queue, worker.NewLocalLocker(), store, nil,
		stubProcessor{segs: []model.Segment{{Start: 0, End: 2.5, Text: "hello", Confidence: 0.9}}}, nil,
		worker.ExecutorConfig{RetryBaseDelay: time.Second, SoftTimeout: time.Minute, HardTimeout: 2 * time.Minute},
		log)
	return p
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestSubmissionFacade_IdenticalContentServedFromCache(t *testing.T) {
	// Arrange
	ctx := context.Background()
	p := newPipeline(t)
	body := mp4Bytes("same bytes")

	// Act: first admission creates a job which runs to completion.
	first, err := p.facade.Submit(ctx, application.SubmitRequest{Body: bytes.NewReader(body), FileName: "talk.mp4", ClientID: "10.0.0.1"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !first.Admission.Accepted || first.JobID == "" || first.Admission.Deduplicated() {
		t.Fatalf("expected a new job, got %+v", first)
	}
	job, _ := p.status.Poll(ctx, first.JobID)
	if job.State != model.JobStatePending {
		t.Fatalf("expected PENDING, got %s", job.State)
	}
	if err := p.exec.Run(ctx, first.JobID); err != nil {
		t.Fatalf("run: %v", err)
	}
	job, err = p.status.Poll(ctx, first.JobID)
	if err != nil || job.State != model.JobStateSucceeded {
		t.Fatalf("expected SUCCEEDED, got %+v (%v)", job, err)
	}

	// Act: the same bytes under another name.
	second, err := p.facade.Submit(ctx, application.SubmitRequest{Body: bytes.NewReader(body), FileName: "copy.MOV", ClientID: "10.0.0.2"})

	// Assert
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.Admission.Deduplicated() || second.JobID != "" {
		t.Fatalf("expected cached result and no job, got %+v", second)
	}
	if second.Admission.Fingerprint != first.Admission.Fingerprint {
		t.Errorf("fingerprints differ: %s vs %s", second.Admission.Fingerprint, first.Admission.Fingerprint)
	}
	if len(second.Admission.ExistingResult) != 1 || second.Admission.ExistingResult[0].Text != "hello" {
		t.Errorf("unexpected cached result %+v", second.Admission.ExistingResult)
	}
	if n := countFiles(t, p.storeDir); n != 0 {
		t.Errorf("expected no staged artifacts, found %d", n)
	}
	if n := countFiles(t, p.tempDir); n != 0 {
		t.Errorf("expected temp uploads removed, found %d", n)
	}

	out, err := p.status.Export(ctx, first.Admission.Fingerprint, subtitle.FormatVTT, subtitle.Options{})
	if err != nil || !bytes.HasPrefix([]byte(out), []byte("WEBVTT")) {
		t.Errorf("unexpected export %q (%v)", out, err)
	}
}

func TestSubmissionFacade_ReusesInFlightJob(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	body := mp4Bytes("in flight")

	first, _ := p.facade.Submit(ctx, application.SubmitRequest{Body: bytes.NewReader(body), FileName: "a.mp4", ClientID: "c"})
	second, err := p.facade.Submit(ctx, application.SubmitRequest{Body: bytes.NewReader(body), FileName: "b.mp4", ClientID: "c"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.InFlight || second.JobID != first.JobID {
		t.Errorf("expected in-flight job %s, got %+v", first.JobID, second)
	}
	if n := countFiles(t, p.storeDir); n != 1 {
		t.Errorf("expected one staged artifact, found %d", n)
	}
}

func TestSubmissionFacade_RejectsOversizedUpload(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	body := mp4Bytes(string(bytes.Repeat([]byte{'x'}, maxUpload)))

	out, err := p.facade.Submit(ctx, application.SubmitRequest{Body: bytes.NewReader(body), FileName: "big.mp4", ClientID: "c"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Admission.Accepted || out.Admission.Reason != model.ReasonFileTooLarge {
		t.Errorf("expected file_too_large, got %+v", out.Admission)
	}
	if countFiles(t, p.storeDir) != 0 || countFiles(t, p.tempDir) != 0 {
		t.Error("rejected upload must leave no files behind")
	}
}

type acceptingAdmission struct{}

func (acceptingAdmission) Admit(context.Context, usecase.AdmissionRequest) (model.AdmissionResult, error) {
	return model.AdmissionResult{Accepted: true, Fingerprint: "fp"}, nil
}

type failingStatus struct{ usecase.StatusUseCase }

func (failingStatus) CreateAndSchedule(context.Context, usecase.NewJobRequest) (usecase.ScheduleResult, error) {
	return usecase.ScheduleResult{}, domain.ErrQueueUnavailable
}

func TestSubmissionFacade_RemovesArtifactWhenSchedulingFails(t *testing.T) {
	storeDir := t.TempDir()
	store, _ := storage.NewLocalStore(storeDir)
	f := application.NewSubmissionFacade(acceptingAdmission{}, failingStatus{}, store, t.TempDir(), maxUpload, newTestLogger())

	_, err := f.Submit(context.Background(), application.SubmitRequest{Body: bytes.NewReader(mp4Bytes("x")), FileName: "a.mp4"})

	if !errors.Is(err, domain.ErrQueueUnavailable) {
		t.Errorf("expected ErrQueueUnavailable, got %v", err)
	}
	if n := countFiles(t, storeDir); n != 0 {
		t.Errorf("expected artifact removed, found %d", n)
	}
}

func TestSubmissionFacade_NormalizationOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("options reach the scheduled job", func(t *testing.T) {
		// Arrange
		p := newPipeline(t)

		// Act
		out, err := p.facade.Submit(ctx, application.SubmitRequest{
			Body:           bytes.NewReader(mp4Bytes("quiet talk")),
			FileName:       "quiet.mp4",
			ClientID:       "c",
			NormalizeAudio: true,
			TargetDB:       -18,
		})

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		job, err := p.status.Poll(ctx, out.JobID)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if !job.NormalizeAudio || job.TargetDB != -18 {
			t.Errorf("expected normalization to -18, got %v/%v", job.NormalizeAudio, job.TargetDB)
		}
	})

	t.Run("invalid target is rejected before staging", func(t *testing.T) {
		p := newPipeline(t)

		_, err := p.facade.Submit(ctx, application.SubmitRequest{
			Body:           bytes.NewReader(mp4Bytes("x")),
			FileName:       "a.mp4",
			NormalizeAudio: true,
			TargetDB:       -90,
		})

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if countFiles(t, p.storeDir) != 0 || countFiles(t, p.tempDir) != 0 {
			t.Error("rejected request must leave no files behind")
		}
	})
}
