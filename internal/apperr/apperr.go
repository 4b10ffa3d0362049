// README: Error taxonomy shared by every module; kinds are stable and machine readable.
package apperr

import "errors"

type Kind string

const (
	Unauthenticated    Kind = "unauthenticated"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not_found"
	PartnerNotFound    Kind = "partner_not_found"
	InvalidInput       Kind = "invalid_input"
	InvalidState       Kind = "invalid_state"
	InvalidTransition  Kind = "invalid_transition"
	AlreadyAssigned    Kind = "already_assigned"
	InvalidRole        Kind = "invalid_role"
	PartnerUnavailable Kind = "partner_unavailable"
	PartnerBusy        Kind = "partner_busy"
	PrepTimeRequired   Kind = "prep_time_required"
	HasActiveOrder     Kind = "has_active_order"
	Conflict           Kind = "conflict"
	AssignmentFailed   Kind = "assignment_failed"
	Internal           Kind = "internal"
)

// Error carries a kind, a human readable message and, for lifecycle errors,
// the states the caller may move to instead.
type Error struct {
	Kind    Kind
	Message string
	Allowed []string
	Err     error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so package sentinels work with errors.Is
// even when the returned error has a more specific message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// WithMessage returns a copy with a different message.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// WithAllowed returns a copy listing the allowed next states.
func (e *Error) WithAllowed(allowed ...string) *Error {
	c := *e
	c.Allowed = append([]string{}, allowed...)
	if len(allowed) == 0 {
		c.Allowed = []string{}
	}
	return &c
}

// Wrap attaches a cause to a copy of e.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// KindOf reports the kind of err, defaulting to Internal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
