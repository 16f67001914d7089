package dialog

import "errors"

var (
	// ErrValidationFailed means the input does not fit the current step.
	ErrValidationFailed = errors.New("validation failed")
	// ErrUnresolvedReference means a referenced user does not exist.
	ErrUnresolvedReference = errors.New("unresolved reference")
	// ErrUnauthorized means the acting user may not do this.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransient wraps store and transport failures. The event may be
	// delivered again.
	ErrTransient = errors.New("transient failure")
)

// Outcome tells the caller what processing an event did.
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeAnswered     Outcome = "answered"
	OutcomeStarted      Outcome = "started"
	OutcomeAdvanced     Outcome = "advanced"
	OutcomeCompleted    Outcome = "completed"
	OutcomeAbandoned    Outcome = "abandoned"
	OutcomeRetry        Outcome = "validation_failed"
	OutcomeUnresolved   Outcome = "unresolved_reference"
	OutcomeUnauthorized Outcome = "unauthorized"
)

// Mutates reports whether the outcome changes the stored dialog.
func (o Outcome) Mutates() bool {
	switch o {
	case OutcomeStarted, OutcomeAdvanced, OutcomeCompleted, OutcomeAbandoned:
		return true
	}
	return false
}

func outcomeFor(err error) Outcome {
	switch {
	case errors.Is(err, ErrValidationFailed):
		return OutcomeRetry
	case errors.Is(err, ErrUnresolvedReference):
		return OutcomeUnresolved
	case errors.Is(err, ErrUnauthorized):
		return OutcomeUnauthorized
	}
	return ""
}
