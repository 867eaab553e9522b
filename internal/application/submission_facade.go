package application

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/ports/repository"
	"video-subtitler/internal/infra/logging"
	"video-subtitler/internal/usecase"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// SubmitRequest is one upload as received from a client.
type SubmitRequest struct {
	Body     io.Reader
	FileName string
	ClientID string
	// NormalizeAudio requests a loudness pass before transcription;
	// TargetDB of 0 selects model.DefaultTargetDB.
	NormalizeAudio bool
	TargetDB       float64
}

// SubmitOutcome carries the admission verdict and, for new work, the job.
type SubmitOutcome struct {
	Admission model.AdmissionResult
	JobID     string
	// InFlight is set when the job already existed for the same content.
	InFlight bool
}

// SubmissionFacade stages uploads, runs admission and schedules jobs.
type SubmissionFacade struct {
	admission   usecase.AdmissionUseCase
	status      usecase.StatusUseCase
	artifacts   repository.ArtifactStore
	tempDir     string
	maxFileSize int64
	log         *zerolog.Logger
	newRef      func(ext string) string
}

func NewSubmissionFacade(
	admission usecase.AdmissionUseCase,
	status usecase.StatusUseCase,
	artifacts repository.ArtifactStore,
	tempDir string,
	maxFileSize int64,
	logger *zerolog.Logger,
) *SubmissionFacade {
	l := logger.With().Str("component", "submission").Logger()
	return &SubmissionFacade{
		admission:   admission,
		status:      status,
		artifacts:   artifacts,
		tempDir:     tempDir,
		maxFileSize: maxFileSize,
		log:         &l,
		newRef:      func(ext string) string { return ulid.Make().String() + ext },
	}
}

// Submit never stores more than maxFileSize+1 bytes of the body; the extra
// byte lets admission report the file as too large.
func (f *SubmissionFacade) Submit(ctx context.Context, req SubmitRequest) (SubmitOutcome, error) {
	defer logging.TraceDuration(f.log, "SubmissionFacade.Submit")()
	log := logging.With(ctx, f.log)

	if req.NormalizeAudio && req.TargetDB != 0 && !model.ValidTargetDB(req.TargetDB) {
		return SubmitOutcome{}, fmt.Errorf("%w: target_db must be within [%g, %g]", domain.ErrInvalidArgument, model.MinTargetDB, model.MaxTargetDB)
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	tmp, err := os.CreateTemp(f.tempDir, "upload-*"+ext)
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("stage upload: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, io.LimitReader(req.Body, f.maxFileSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("stage upload: %w", err)
	}
	log.Debug().Int64("bytes", n).Str("file_name", req.FileName).Msg("upload staged")

	res, err := f.admission.Admit(ctx, usecase.AdmissionRequest{
		Path:         tmpPath,
		DeclaredName: req.FileName,
		ClientID:     req.ClientID,
	})
	if err != nil {
		return SubmitOutcome{}, err
	}
	out := SubmitOutcome{Admission: res}
	if !res.Accepted || res.Deduplicated() {
		return out, nil
	}

	ref := f.newRef(ext)
	if err := f.putArtifact(ctx, ref, tmpPath); err != nil {
		return SubmitOutcome{}, err
	}

	sched, err := f.status.CreateAndSchedule(ctx, usecase.NewJobRequest{
		Fingerprint:    res.Fingerprint,
		InputRef:       ref,
		FileName:       req.FileName,
		ClientID:       req.ClientID,
		NormalizeAudio: req.NormalizeAudio,
		TargetDB:       req.TargetDB,
	})
	if err != nil {
		f.dropArtifact(ctx, ref, log)
		return SubmitOutcome{}, err
	}
	if sched.Deduplicated {
		f.dropArtifact(ctx, ref, log)
	}
	out.JobID = sched.JobID
	out.InFlight = sched.Deduplicated
	log.Info().Str("job_id", sched.JobID).Bool("in_flight", sched.Deduplicated).Msg("upload submitted")
	return out, nil
}

func (f *SubmissionFacade) putArtifact(ctx context.Context, ref, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open staged upload: %w", err)
	}
	defer src.Close()
	if err := f.artifacts.Put(ctx, ref, src); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	return nil
}

func (f *SubmissionFacade) dropArtifact(ctx context.Context, ref string, log *zerolog.Logger) {
	if err := f.artifacts.Delete(context.WithoutCancel(ctx), ref); err != nil {
		log.Warn().Err(err).Str("input_ref", ref).Msg("staged artifact not removed")
	}
}
