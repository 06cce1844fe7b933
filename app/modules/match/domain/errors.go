package matchdomain

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrAuthorization  = errors.New("authorization error")
	ErrStateConflict  = errors.New("state conflict")
	ErrIntegrity      = errors.New("integrity error")
	ErrTransientInfra = errors.New("transient infrastructure error")
)

// Common failures.
var (
	ErrNotParticipant      = Authorization("caller is not a participant in this match")
	ErrSelfConfirm         = StateConflict("the reporting participant cannot confirm their own score")
	ErrTiedScore           = StateConflict("scores are tied; a winner cannot be determined")
	ErrNegativeScore       = Validation("scores must be non-negative")
	ErrReasonRequired      = Validation("a dispute reason is required")
	ErrUnsupportedFormat   = Validation("unsupported bracket format")
	ErrNoOpenSlot          = Integrity("next round has no open slot")
	ErrNotEnoughEntrants   = Validation("at least two participants are required")
	ErrWinnerNotInMatch    = Validation("winner is not a participant in this match")
	ErrDisputeNotOpen      = StateConflict("dispute is not open")
	ErrOpponentNotSeated   = StateConflict("both participants must be seated before the match is played")
	ErrBracketAlreadyBuilt = StateConflict("tournament is not accepting a new bracket")
)

// Error is the single error type returned by match operations. Kind is one of
// the sentinels above; Err is an optional underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Is matches another *Error with the same kind and message, so package-level
// failures like ErrTiedScore work with errors.Is after being wrapped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

func newError(kind error, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) *Error    { return newError(ErrValidation, msg, nil) }
func Authorization(msg string) *Error { return newError(ErrAuthorization, msg, nil) }
func StateConflict(msg string) *Error { return newError(ErrStateConflict, msg, nil) }
func Integrity(msg string) *Error     { return newError(ErrIntegrity, msg, nil) }

// NotFound reports a missing entity, keeping the repository error as the cause.
func NotFound(entity string, err error) *Error {
	return newError(ErrNotFound, entity+" not found", err)
}

// Transient wraps an infrastructure failure as retryable.
func Transient(op string, err error) *Error {
	return newError(ErrTransientInfra, op, err)
}

// StateConflictf formats a state conflict message.
func StateConflictf(format string, args ...any) *Error {
	return newError(ErrStateConflict, fmt.Sprintf(format, args...), nil)
}

// IsRetryable reports whether err is an infrastructure failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientInfra)
}

// IsDomain reports whether err is a typed match error.
func IsDomain(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
