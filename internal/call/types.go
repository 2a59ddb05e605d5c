package call

import (
	"errors"
	"time"

	"MorningCall/internal/plan"
)

var (
	// ErrPrecondition is matched by every *PreconditionError
	ErrPrecondition = errors.New("call precondition failed")

	ErrNoCredential         = errors.New("no API key configured")
	ErrNoActiveInstructions = errors.New("no active instructions")
	ErrCallActive           = errors.New("a call is already active")

	// ErrLogAccessDenied means the current plan does not include call logs
	ErrLogAccessDenied = errors.New("call logs are not available on this plan")
)

// PreconditionError reports why a call could not be started
type PreconditionError struct {
	Reason error
}

func (e *PreconditionError) Error() string {
	return ErrPrecondition.Error() + ": " + e.Reason.Error()
}

func (e *PreconditionError) Unwrap() []error {
	return []error{ErrPrecondition, e.Reason}
}

type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Reason records why a call ended
type Reason string

const (
	ReasonUser          Reason = "user"
	ReasonTimeout       Reason = "timeout"
	ReasonUpstreamError Reason = "upstream_error"
	ReasonRecognition   Reason = "recognition_failures"
)

// Status is a snapshot of the controller
type Status struct {
	State     State
	StartedAt time.Time
	Remaining time.Duration
	Plan      plan.ID
}

type NoticeKind string

const (
	NoticeCallStarted       NoticeKind = "call_started"
	NoticeCallEnded         NoticeKind = "call_ended"
	NoticeTimeLimit         NoticeKind = "time_limit"
	NoticeRecognitionFailed NoticeKind = "recognition_failed"
	NoticeRecognitionGaveUp NoticeKind = "recognition_gave_up"
	NoticeSpeechFailed      NoticeKind = "speech_failed"
	NoticeUpstreamError     NoticeKind = "upstream_error"
	NoticeSearchUnavailable NoticeKind = "search_unavailable"
	NoticeLogWriteFailed    NoticeKind = "log_write_failed"
)

// Notice is a transient user-facing message
type Notice struct {
	Kind    NoticeKind
	Message string
}

// Notifier receives notices. It is called from the call's goroutines and must not block.
type Notifier func(Notice)
