package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
)

// FailureKind 区分转写失败的类型，调用方据此决定提示用户重录还是报告故障。
type FailureKind string

const (
	AuthFailure      FailureKind = "auth_failure"
	BadInput         FailureKind = "bad_input"
	EmptyResult      FailureKind = "empty_result"
	TransportFailure FailureKind = "transport_failure"
)

// TranscriptionError is the typed failure returned by Transcribe.
type TranscriptionError struct {
	Kind FailureKind
	Err  error
}

func (e *TranscriptionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transcription failed: %s", e.Kind)
	}
	return fmt.Sprintf("transcription failed (%s): %v", e.Kind, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err, or "" when err is not a transcription failure.
func KindOf(err error) FailureKind {
	var terr *TranscriptionError
	if errors.As(err, &terr) {
		return terr.Kind
	}
	return ""
}

// IsEmptyResult reports whether the provider heard no speech.
func IsEmptyResult(err error) bool {
	return KindOf(err) == EmptyResult
}

func classify(err error) *TranscriptionError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &TranscriptionError{Kind: AuthFailure, Err: err}
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
			return &TranscriptionError{Kind: BadInput, Err: err}
		}
		return &TranscriptionError{Kind: TransportFailure, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TranscriptionError{Kind: TransportFailure, Err: err}
	}
	return &TranscriptionError{Kind: TransportFailure, Err: err}
}
