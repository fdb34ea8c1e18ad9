package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies booking failures for callers
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation_error"
	KindScheduleNotFound ErrorKind = "schedule_not_found"
	KindSeatsUnavailable ErrorKind = "seats_unavailable"
	KindPaymentFailed    ErrorKind = "payment_failed"
	KindAlreadyCancelled ErrorKind = "already_cancelled"
	KindForbidden        ErrorKind = "forbidden"
	KindNotFound         ErrorKind = "not_found"
	KindInfrastructure   ErrorKind = "infrastructure_error"
)

// Sentinels, one per kind. errors.Is(err, ErrSeatsUnavailable) holds for any
// *BookingError of that kind.
var (
	ErrValidation       = errors.New("invalid booking request")
	ErrScheduleNotFound = errors.New("no schedule for train and date")
	ErrSeatsUnavailable = errors.New("no seats available")
	ErrPaymentFailed    = errors.New("payment failed")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	ErrForbidden        = errors.New("booking belongs to another user")
	ErrNotFound         = errors.New("booking not found")
	ErrInfrastructure   = errors.New("booking infrastructure failure")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:       ErrValidation,
	KindScheduleNotFound: ErrScheduleNotFound,
	KindSeatsUnavailable: ErrSeatsUnavailable,
	KindPaymentFailed:    ErrPaymentFailed,
	KindAlreadyCancelled: ErrAlreadyCancelled,
	KindForbidden:        ErrForbidden,
	KindNotFound:         ErrNotFound,
	KindInfrastructure:   ErrInfrastructure,
}

// BookingError is returned by every orchestrator operation
type BookingError struct {
	Op     string // "create", "cancel", "list", "get"
	Kind   ErrorKind
	Code   string // reservation code, when known
	Detail string
	Err    error
}

func (e *BookingError) Error() string {
	msg := fmt.Sprintf("%s booking", e.Op)
	if e.Code != "" {
		msg += " " + e.Code
	}
	msg += ": " + kindSentinels[e.Kind].Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BookingError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *BookingError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newBookingError(op string, kind ErrorKind, code, detail string, err error) *BookingError {
	return &BookingError{Op: op, Kind: kind, Code: code, Detail: detail, Err: err}
}

// KindOf returns the kind of err. Errors that did not come from the
// orchestrator are treated as infrastructure failures.
func KindOf(err error) ErrorKind {
	var bookingErr *BookingError
	if errors.As(err, &bookingErr) {
		return bookingErr.Kind
	}
	return KindInfrastructure
}
