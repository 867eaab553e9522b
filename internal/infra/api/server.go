package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"video-subtitler/internal/application"
	"video-subtitler/internal/domain/model"
	"video-subtitler/internal/domain/subtitle"
	"video-subtitler/internal/infra/logging"
	"video-subtitler/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Submitter accepts uploads. Implemented by application.SubmissionFacade.
type Submitter interface {
	Submit(ctx context.Context, req application.SubmitRequest) (application.SubmitOutcome, error)
}

// HealthChecker probes a dependency needed to serve traffic.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

type Options struct {
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	MaxUploadBytes int64
}

type Server struct {
	submit Submitter
	status usecase.StatusUseCase
	health HealthChecker
	auth   *Authenticator
	opts   Options
	log    *zerolog.Logger
}

func NewServer(
	submit Submitter,
	status usecase.StatusUseCase,
	health HealthChecker,
	auth *Authenticator,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "http").Logger()
	return &Server{submit: submit, status: status, health: health, auth: auth, opts: opts, log: &l}
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Get("/health/liveness", s.handleHealth)
	r.Get("/health/readiness", s.handleReadiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ClientIdentity(s.auth, s.log))
		r.With(Timeout(s.opts.UploadTimeout)).Post("/jobs", s.handleSubmit)
		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.opts.RequestTimeout))
			r.Get("/jobs/{jobID}", s.handlePoll)
			r.Post("/results/{fingerprint}/adjust-timing", s.handleAdjust)
			r.Get("/results/{fingerprint}/export", s.handleExport)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.health.Healthy(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "cache": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "cache": "up"})
}

type submitResponse struct {
	JobID       string          `json:"job_id,omitempty"`
	State       model.JobState  `json:"state,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Cached      bool            `json:"cached"`
	Subtitles   []model.Segment `json:"subtitles"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.With(ctx, s.log)

	// Multipart overhead on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)
	part, fields, err := filePart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", typeValidation, err.Error())
		return
	}
	defer part.Close()
	normalize, targetDB, err := normalizeOptions(r, fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", typeValidation, err.Error())
		return
	}

	out, err := s.submit.Submit(ctx, application.SubmitRequest{
		Body:           part,
		FileName:       part.FileName(),
		ClientID:       logging.ClientID(ctx),
		NormalizeAudio: normalize,
		TargetDB:       targetDB,
	})
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", typeValidation, "upload exceeds the size limit")
			return
		}
		writeDomainError(w, log, err)
		return
	}

	res := out.Admission
	switch {
	case !res.Accepted:
		writeRejection(w, res)
	case res.Deduplicated():
		subs := res.ExistingResult
		if subs == nil {
			subs = []model.Segment{}
		}
		writeJSON(w, http.StatusOK, submitResponse{Fingerprint: res.Fingerprint, Cached: true, Subtitles: subs})
	default:
		state := model.JobStatePending
		if out.InFlight {
			if job, err := s.status.Poll(ctx, out.JobID); err == nil {
				state = job.State
			}
		}
		writeJSON(w, http.StatusAccepted, submitResponse{JobID: out.JobID, State: state, Fingerprint: res.Fingerprint})
	}
}

// maxFieldBytes bounds each form field read ahead of the file part.
const maxFieldBytes = 256

// filePart advances the multipart stream to the "file" field without
// buffering the upload. Plain fields sent before it are returned in fields.
func filePart(r *http.Request) (*multipart.Part, map[string]string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, fmt.Errorf("expected multipart/form-data body: %w", err)
	}
	fields := map[string]string{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New(`missing "file" field`)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read multipart body: %w", err)
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, fields, nil
		}
		if part.FileName() == "" && part.FormName() != "" {
			b, _ := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			fields[part.FormName()] = strings.TrimSpace(string(b))
		}
		_ = part.Close()
	}
}

// normalizeOptions reads normalize_sound and target_db from the form
// fields, falling back to the query string.
func normalizeOptions(r *http.Request, fields map[string]string) (bool, float64, error) {
	get := func(name string) string {
		if v, ok := fields[name]; ok {
			return v
		}
		return r.URL.Query().Get(name)
	}
	var (
		normalize bool
		targetDB  float64
		err       error
	)
	if v := get("normalize_sound"); v != "" {
		if normalize, err = strconv.ParseBool(v); err != nil {
			return false, 0, errors.New("normalize_sound must be a boolean")
		}
	}
	if v := get("target_db"); v != "" {
		if targetDB, err = strconv.ParseFloat(v, 64); err != nil {
			return false, 0, errors.New("target_db must be a number")
		}
	}
	return normalize, targetDB, nil
}

type jobView struct {
	JobID       string          `json:"job_id"`
	State       model.JobState  `json:"state"`
	Progress    int             `json:"progress"`
	RetryCount  int             `json:"retry_count"`
	Fingerprint string          `json:"fingerprint"`
	FileName    string          `json:"file_name,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Error       *model.JobError `json:"error,omitempty"`
	Result      []model.Segment `json:"result"`
}

func newJobView(j *model.Job) jobView {
	v := jobView{
		JobID:       j.ID,
		State:       j.State,
		Progress:    j.Progress,
		RetryCount:  j.RetryCount,
		Fingerprint: j.Fingerprint,
		FileName:    j.FileName,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		Error:       j.Error,
	}
	if j.State == model.JobStateSucceeded {
		v.Result = j.Result
		if v.Result == nil {
			v.Result = []model.Segment{}
		}
	}
	return v
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	job, err := s.status.Poll(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, logging.With(r.Context(), s.log), err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

type adjustRequest struct {
	Offset *float64 `json:"offset"`
}

type adjustResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Offset      float64         `json:"offset"`
	Subtitles   []model.Segment `json:"subtitles"`
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil || req.Offset == nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", typeValidation, `body must be {"offset": <seconds>}`)
		return
	}
	fp := chi.URLParam(r, "fingerprint")
	segs, err := s.status.AdjustTiming(r.Context(), fp, *req.Offset)
	if err != nil {
		writeDomainError(w, logging.With(r.Context(), s.log), err)
		return
	}
	writeJSON(w, http.StatusOK, adjustResponse{Fingerprint: fp, Offset: *req.Offset, Subtitles: segs})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)
	format, err := subtitle.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	fp := chi.URLParam(r, "fingerprint")
	body, err := s.status.Export(r.Context(), fp, format, subtitle.Options{Color: r.URL.Query().Get("color")})
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	name := fp
	if len(name) > 12 {
		name = name[:12]
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="subtitles-%s%s"`, name, format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}
