package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrScheduleNotFound is returned when no inventory row exists for a train and date
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrInsufficientSeats is returned when a decrement would take inventory below zero
	ErrInsufficientSeats = errors.New("insufficient seats")

	// ErrBookingNotFound is returned when no booking exists for a reservation code
	ErrBookingNotFound = errors.New("booking not found")

	// ErrBookingNotCancellable is returned when a booking is already cancelled
	ErrBookingNotCancellable = errors.New("booking is not in a cancellable state")

	// ErrReservationCodeTaken is returned when an insert hits an existing reservation code
	ErrReservationCodeTaken = errors.New("reservation code already in use")

	// ErrMirrorRecordNotFound is returned when the mirror holds no record for a code
	ErrMirrorRecordNotFound = errors.New("mirror record not found")

	// ErrMirrorStatusRegression is returned when a mirror write would undo a cancellation
	ErrMirrorStatusRegression = errors.New("mirror record is already cancelled")
)

const pgUniqueViolationCode = "23505"

// isUniqueViolation recognises unique constraint failures from either driver
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolationCode
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
