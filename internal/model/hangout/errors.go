package hangout

import (
	"context"
	"errors"
)

var (
	ErrExtraction       = errors.New("participant extraction failed")
	ErrPlanGeneration   = errors.New("plan generation failed")
	ErrConversation     = errors.New("conversational reply failed")
	ErrGeocoding        = errors.New("geocoding failed")
	ErrNotFound         = errors.New("location not found")
	ErrInsufficientData = errors.New("not enough participants to plan")
	ErrTimeout          = errors.New("external call timed out")
	ErrSessionNotFound  = errors.New("session not found")
)

// ErrorKind maps an error to the stable label used in API payloads and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrExtraction):
		return "extraction_error"
	case errors.Is(err, ErrPlanGeneration):
		return "plan_generation_error"
	case errors.Is(err, ErrConversation):
		return "conversation_error"
	case errors.Is(err, ErrGeocoding), errors.Is(err, ErrNotFound):
		return "geocoding_failure"
	default:
		return "internal"
	}
}
