package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/model"

	"github.com/rs/zerolog"
)

// Error types group codes for clients that only care about the category.
const (
	typeValidation  = "validation_error"
	typeRateLimit   = "rate_limit_error"
	typeNotFound    = "not_found"
	typeAuth        = "authentication_error"
	typeUnavailable = "service_unavailable"
	typeInternal    = "internal_error"
)

type apiError struct {
	Code       string `json:"code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, typ, msg string) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Type: typ, Message: msg, StatusCode: status}})
}

type admissionStatus struct {
	status int
	code   string
	typ    string
}

var admissionErrors = map[string]admissionStatus{
	model.ReasonRateLimited:         {http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", typeRateLimit},
	model.ReasonUnsupportedExt:      {http.StatusUnsupportedMediaType, "UNSUPPORTED_EXTENSION", typeValidation},
	model.ReasonUnsupportedMIMEType: {http.StatusUnsupportedMediaType, "UNSUPPORTED_MIME_TYPE", typeValidation},
	model.ReasonEmptyFile:           {http.StatusBadRequest, "EMPTY_FILE", typeValidation},
	model.ReasonFileTooLarge:        {http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", typeValidation},
	model.ReasonDurationTooLong:     {http.StatusUnprocessableEntity, "DURATION_TOO_LONG", typeValidation},
	model.ReasonMediaUnreadable:     {http.StatusUnprocessableEntity, "MEDIA_UNREADABLE", typeValidation},
	model.ReasonNoAudioStream:       {http.StatusUnprocessableEntity, "NO_AUDIO_STREAM", typeValidation},
	model.ReasonUnreadableInput:     {http.StatusBadRequest, "UNREADABLE_INPUT", typeValidation},
}

func writeRejection(w http.ResponseWriter, res model.AdmissionResult) {
	st, ok := admissionErrors[res.Reason]
	if !ok {
		st = admissionStatus{http.StatusBadRequest, "VALIDATION_FAILED", typeValidation}
	}
	if st.status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, st.status, st.code, st.typ, res.Message)
}

// writeDomainError maps use case errors onto the HTTP error envelope.
func writeDomainError(w http.ResponseWriter, log *zerolog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", typeNotFound, "job not found")
	case errors.Is(err, domain.ErrResultNotFound):
		writeError(w, http.StatusNotFound, "RESULT_NOT_FOUND", typeNotFound, "no subtitles stored for this fingerprint")
	case errors.Is(err, domain.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", typeValidation, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", typeValidation, err.Error())
	case errors.Is(err, domain.ErrCacheUnavailable):
		writeError(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", typeUnavailable, "storage temporarily unavailable")
	case errors.Is(err, domain.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", typeUnavailable, "job could not be scheduled")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", typeUnavailable, "request timed out")
	default:
		log.Error().Err(err).Msg("unhandled request error")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", typeInternal, "internal error")
	}
}
