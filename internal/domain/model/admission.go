package model

// Admission rejection reasons. Values are stable and surface in API errors.
const (
	ReasonRateLimited         = "rate_limited"
	ReasonUnsupportedExt      = "unsupported_extension"
	ReasonUnsupportedMIMEType = "unsupported_mime_type"
	ReasonEmptyFile           = "empty_file"
	ReasonFileTooLarge        = "file_too_large"
	ReasonDurationTooLong     = "duration_too_long"
	ReasonMediaUnreadable     = "media_unreadable"
	ReasonNoAudioStream       = "no_audio_stream"
	ReasonUnreadableInput     = "unreadable_input"
)

// AdmissionResult is the gate's verdict on one upload.
type AdmissionResult struct {
	Accepted       bool
	Reason         string
	Message        string
	Fingerprint    string
	ExistingResult []Segment
	DurationSec    float64
}

// Deduplicated reports whether a cached result made a new job unnecessary.
func (r AdmissionResult) Deduplicated() bool {
	return r.Accepted && r.ExistingResult != nil
}
