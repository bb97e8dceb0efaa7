package apierr

import (
	"context"
	"errors"
	"log"
	"net/http"

	avatarservice "github.com/zhouzirui/trauma-sim/backend/internal/service/avatar"
	chatservice "github.com/zhouzirui/trauma-sim/backend/internal/service/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/speech"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
	"github.com/zhouzirui/trauma-sim/backend/pkg/utils"
)

// Status maps pipeline errors onto HTTP status codes.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, turn.ErrAudioTooSmall),
		errors.Is(err, turn.ErrAudioTooLarge),
		errors.Is(err, turn.ErrEmptyMessage),
		errors.Is(err, turn.ErrUnknownPersona),
		errors.Is(err, chatservice.ErrSessionRequired),
		errors.Is(err, avatarservice.ErrMissingStreamingToken),
		errors.Is(err, avatarservice.ErrMissingSessionID):
		return http.StatusBadRequest
	case errors.Is(err, chatservice.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatservice.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, turn.ErrNothingToSay):
		return http.StatusUnprocessableEntity
	case errors.Is(err, avatarservice.ErrConfigurationMissing),
		errors.Is(err, turn.ErrTranscriptionUnavailable),
		errors.Is(err, turn.ErrPatientUnavailable),
		errors.Is(err, turn.ErrInstructorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, avatarservice.ErrAuthFailure),
		errors.Is(err, avatarservice.ErrProviderResponse):
		return http.StatusBadGateway
	}

	switch speech.KindOf(err) {
	case speech.BadInput:
		return http.StatusBadRequest
	case speech.EmptyResult:
		return http.StatusUnprocessableEntity
	case speech.AuthFailure:
		return http.StatusBadGateway
	case speech.TransportFailure:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing text for err.
func Message(err error) string {
	switch speech.KindOf(err) {
	case speech.EmptyResult:
		return "no speech detected, please record again"
	case speech.BadInput:
		return "the recording could not be processed, please record again"
	case speech.AuthFailure, speech.TransportFailure:
		return "speech recognition is unavailable right now"
	}
	if Status(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// Respond writes err as a JSON error body.
func Respond(w http.ResponseWriter, tag string, err error) {
	Log(tag, err)
	utils.RespondError(w, Status(err), Message(err))
}

// Log records server-side failures; client errors are not logged.
func Log(tag string, err error) {
	if status := Status(err); status >= http.StatusInternalServerError {
		log.Printf("[%s] request failed status=%d: %v", tag, status, err)
	}
}
