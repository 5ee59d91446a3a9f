package jobs

import (
	"errors"
	"fmt"
)

// ErrKind classifies a pipeline failure. The orchestrator decides retry
// eligibility from the kind alone; stages never retry themselves.
type ErrKind string

const (
	KindSourceUnavailable      ErrKind = "source_unavailable"
	KindAccessRestricted       ErrKind = "access_restricted"
	KindNetworkFailure         ErrKind = "network_failure"
	KindUnsupportedMedia       ErrKind = "unsupported_media"
	KindServiceAuth            ErrKind = "service_auth"
	KindServiceQuotaExceeded   ErrKind = "service_quota_exceeded"
	KindServiceRejectedPayload ErrKind = "service_rejected_payload"
	KindStorageFailure         ErrKind = "storage_failure"
	KindCancelled              ErrKind = "cancelled"
)

func (k ErrKind) Retryable() bool {
	return k == KindNetworkFailure || k == KindServiceQuotaExceeded
}

// Describe is the human-readable form stored in error_message. It never
// carries provider payloads or stack traces.
func (k ErrKind) Describe() string {
	switch k {
	case KindSourceUnavailable:
		return "video source is unavailable or has been removed"
	case KindAccessRestricted:
		return "video is private or age-restricted"
	case KindNetworkFailure:
		return "network or service failure"
	case KindUnsupportedMedia:
		return "media format is not supported for audio extraction"
	case KindServiceAuth:
		return "transcription service rejected the configured credential"
	case KindServiceQuotaExceeded:
		return "transcription service quota or rate limit exceeded"
	case KindServiceRejectedPayload:
		return "transcription service rejected the audio payload"
	case KindStorageFailure:
		return "failed to write to local storage"
	case KindCancelled:
		return "cancelled"
	default:
		return string(k)
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind    ErrKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classified kind from err, or KindNetworkFailure when
// the failure was never classified (unknown failures stay retryable rather
// than burning a job on a transient).
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetworkFailure
}

func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
