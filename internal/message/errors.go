package message

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the stable, serializable name of an interpretation error.
type ErrorKind string

const (
	KindNoMatch             ErrorKind = "no_match"
	KindMissingSlot         ErrorKind = "missing_slot"
	KindUnresolvedReference ErrorKind = "unresolved_reference"
	KindModelTimeout        ErrorKind = "model_timeout"
	KindModelUnavailable    ErrorKind = "model_unavailable"
	KindModelValidation     ErrorKind = "model_validation"
	KindHandlerExecution    ErrorKind = "handler_execution"
	KindInternal            ErrorKind = "internal"
)

var (
	// ErrNoMatch means the rule tier found nothing above the accept threshold.
	ErrNoMatch = errors.New("no rule matched")

	// ErrModelTimeout means the fallback classifier exceeded its deadline.
	ErrModelTimeout = errors.New("fallback model timed out")

	// ErrModelUnavailable means the fallback classifier could not be reached
	// or its circuit breaker is open.
	ErrModelUnavailable = errors.New("fallback model unavailable")
)

// MissingSlotError reports required slots that neither the utterance nor
// history could fill. Command is the partial match.
type MissingSlotError struct {
	Command ResolvedCommand
	Slots   []string
}

func (e *MissingSlotError) Error() string {
	return fmt.Sprintf("intent %s: missing required slot(s) %s", e.Command.IntentID, strings.Join(e.Slots, ", "))
}

// UnresolvedReferenceError reports a pronoun ("it", "that") with no eligible
// antecedent in history.
type UnresolvedReferenceError struct {
	Command ResolvedCommand
	Slot    string
	Word    string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("intent %s: cannot resolve %q for slot %s", e.Command.IntentID, e.Word, e.Slot)
}

// ModelValidationError reports a fallback prediction that does not fit the
// intent table.
type ModelValidationError struct {
	Reason string
}

func (e *ModelValidationError) Error() string {
	return "invalid model prediction: " + e.Reason
}

// HandlerExecutionError wraps a handler failure.
type HandlerExecutionError struct {
	IntentID string
	Reason   string
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("handler for %s failed: %s", e.IntentID, e.Reason)
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	var (
		missing    *MissingSlotError
		unresolved *UnresolvedReferenceError
		invalid    *ModelValidationError
		handler    *HandlerExecutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoMatch):
		return KindNoMatch
	case errors.Is(err, ErrModelTimeout):
		return KindModelTimeout
	case errors.Is(err, ErrModelUnavailable):
		return KindModelUnavailable
	case errors.As(err, &missing):
		return KindMissingSlot
	case errors.As(err, &unresolved):
		return KindUnresolvedReference
	case errors.As(err, &invalid):
		return KindModelValidation
	case errors.As(err, &handler):
		return KindHandlerExecution
	default:
		return KindInternal
	}
}
