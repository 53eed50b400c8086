package reservation

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNetwork            ErrorKind = "network"
	KindUpstream           ErrorKind = "upstream"
	KindSlotUnavailable    ErrorKind = "slot_unavailable"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindRejected           ErrorKind = "rejected"
	KindMalformed          ErrorKind = "malformed"
	KindUncertain          ErrorKind = "uncertain"
	KindConfig             ErrorKind = "config"
)

type Step string

const (
	StepLoginPage       Step = "login_page"
	StepLogin           Step = "login"
	StepSlotPage        Step = "slot_page"
	StepCustomerInfo    Step = "customer_info"
	StepCustomerConfirm Step = "customer_confirm"
)

const (
	ReasonAlreadyReserved  = "already_reserved"
	ReasonNotOpen          = "not_open"
	ReasonCalendarRedirect = "calendar_redirect"
	ReasonLoginRequired    = "login_required"
)

// BookingError is returned by the portal client for every failed step.
type BookingError struct {
	Kind   ErrorKind
	Step   Step
	Status int
	Reason string
	Msg    string
	Err    error
}

func (e *BookingError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Step, e.Kind)
	if e.Reason != "" {
		s += " (" + e.Reason + ")"
	}
	if e.Status != 0 {
		s += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *BookingError) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, step Step, msg string) *BookingError {
	return &BookingError{Kind: kind, Step: step, Msg: msg}
}

// StatusError classifies an unexpected HTTP status. Any 5xx is upstream and
// so retryable on every step, including the login page and slot page GETs
// that a stricter client would treat as final; those requests are safe to
// repeat. Other statuses are rejections.
func StatusError(step Step, status int) *BookingError {
	kind := KindRejected
	if status >= 500 {
		kind = KindUpstream
	}
	return &BookingError{Kind: kind, Step: step, Status: status}
}

func Unavailable(step Step, reason string) *BookingError {
	return &BookingError{Kind: KindSlotUnavailable, Step: step, Reason: reason}
}

func NetworkError(step Step, err error) *BookingError {
	return &BookingError{Kind: KindNetwork, Step: step, Err: err}
}

// KindOf reports the kind of the first BookingError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsSlotUnavailable(err error) bool    { return IsKind(err, KindSlotUnavailable) }
func IsInvalidCredentials(err error) bool { return IsKind(err, KindInvalidCredentials) }
func IsUncertain(err error) bool          { return IsKind(err, KindUncertain) }
