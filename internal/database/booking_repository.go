package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/railconnect/booking-backend/internal/models"
	"github.com/shopspring/decimal"
)

// BookingRepository is the canonical store for inventory rows and booking
// records. Both tables live behind one transactional boundary.
type BookingRepository struct {
	db DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// SeatTx is the set of writes available while an inventory row lock is held.
// The lock lasts until the surrounding transaction commits or rolls back.
type SeatTx interface {
	CodeExists(code string) (bool, error)
	DecrementSeats(key models.ScheduleKey, seats int) error
	IncrementSeats(key models.ScheduleKey, seats int) error
	InsertBooking(b *models.Booking) error
	MarkCancelled(code string, at time.Time) error
}

type seatTx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

// bookingRow mirrors the bookings table
type bookingRow struct {
	PNR                  string          `db:"pnr"`
	UserID               string          `db:"user_id"`
	TrainID              int64           `db:"train_id"`
	TravelDate           string          `db:"travel_date"`
	PassengerName        string          `db:"passenger_name"`
	PassengerAge         int             `db:"passenger_age"`
	PassengerGender      string          `db:"passenger_gender"`
	SeatPreference       string          `db:"seat_preference"`
	Fare                 decimal.Decimal `db:"fare"`
	PaymentTransactionID sql.NullString  `db:"payment_transaction_id"`
	Status               string          `db:"status"`
	ContactEmail         string          `db:"contact_email"`
	ContactPhone         string          `db:"contact_phone"`
	CreatedAt            time.Time       `db:"created_at"`
	CancelledAt          sql.NullTime    `db:"cancelled_at"`
}

func (r *bookingRow) toModel() *models.Booking {
	b := &models.Booking{
		ReservationCode: r.PNR,
		UserID:          r.UserID,
		TrainID:         r.TrainID,
		TravelDate:      r.TravelDate,
		Passenger: models.Passenger{
			Name:   r.PassengerName,
			Age:    r.PassengerAge,
			Gender: r.PassengerGender,
		},
		SeatPreference: r.SeatPreference,
		Fare:           r.Fare,
		Status:         models.BookingStatus(r.Status),
		Contact:        models.Contact{Email: r.ContactEmail, Phone: r.ContactPhone},
		CreatedAt:      r.CreatedAt,
	}
	if r.PaymentTransactionID.Valid {
		ref := r.PaymentTransactionID.String
		b.PaymentReference = &ref
	}
	if r.CancelledAt.Valid {
		at := r.CancelledAt.Time
		b.CancelledAt = &at
	}
	return b
}

const bookingColumns = `
	pnr, user_id, train_id, to_char(travel_date, 'YYYY-MM-DD') AS travel_date,
	passenger_name, passenger_age, passenger_gender, seat_preference, fare,
	payment_transaction_id, status, contact_email, contact_phone, created_at, cancelled_at`

// ============================================================================
// TRANSACTION BOUNDARY
// ============================================================================

// inTx runs fn inside a transaction bound to ctx. The transaction commits
// only when fn returns nil; a cancelled ctx rolls it back.
func (r *BookingRepository) inTx(ctx context.Context, fn func(tx *seatTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&seatTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithSeatLock opens a transaction, locks the inventory row for key and runs
// fn with the locked row. Concurrent callers on the same key are serialized
// until this transaction ends; different keys never contend.
func (r *BookingRepository) WithSeatLock(
	ctx context.Context,
	key models.ScheduleKey,
	fn func(tx SeatTx, inventory *models.InventoryRow) error,
) error {
	return r.inTx(ctx, func(tx *seatTx) error {
		inventory, err := tx.lockInventory(key)
		if err != nil {
			return err
		}
		return fn(tx, inventory)
	})
}

// WithBookingLock opens a transaction and locks both the inventory row of the
// booking's schedule and the booking row itself, in that order, so that it
// serializes with WithSeatLock on the same key.
func (r *BookingRepository) WithBookingLock(
	ctx context.Context,
	code string,
	fn func(tx SeatTx, booking *models.Booking, inventory *models.InventoryRow) error,
) error {
	return r.inTx(ctx, func(tx *seatTx) error {
		var key struct {
			TrainID    int64  `db:"train_id"`
			TravelDate string `db:"travel_date"`
		}
		err := tx.tx.GetContext(tx.ctx, &key, `
			SELECT train_id, to_char(travel_date, 'YYYY-MM-DD') AS travel_date
			FROM bookings WHERE pnr = $1`, code)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBookingNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read booking schedule: %w", err)
		}

		inventory, err := tx.lockInventory(models.ScheduleKey{TrainID: key.TrainID, TravelDate: key.TravelDate})
		if err != nil {
			return err
		}

		var row bookingRow
		err = tx.tx.GetContext(tx.ctx, &row, `SELECT`+bookingColumns+`
			FROM bookings WHERE pnr = $1 FOR UPDATE`, code)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBookingNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock booking: %w", err)
		}

		booking := row.toModel()
		booking.Schedule = inventory.ScheduleInfo
		return fn(tx, booking, inventory)
	})
}

// ============================================================================
// LOCKED OPERATIONS
// ============================================================================

func (t *seatTx) lockInventory(key models.ScheduleKey) (*models.InventoryRow, error) {
	var inventory models.InventoryRow
	err := t.tx.GetContext(t.ctx, &inventory, `
		SELECT train_id, to_char(travel_date, 'YYYY-MM-DD') AS travel_date, available_seats,
		       train_number, train_name, source, destination
		FROM train_schedules
		WHERE train_id = $1 AND travel_date = $2::date
		FOR UPDATE`, key.TrainID, key.TravelDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory %s: %w", key, err)
	}
	return &inventory, nil
}

// CodeExists reports whether a booking already uses code
func (t *seatTx) CodeExists(code string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(t.ctx, &exists, `SELECT EXISTS(SELECT 1 FROM bookings WHERE pnr = $1)`, code)
	if err != nil {
		return false, fmt.Errorf("failed to check reservation code uniqueness: %w", err)
	}
	return exists, nil
}

// DecrementSeats removes seats from the locked inventory row. The guard in
// the WHERE clause keeps available_seats non-negative.
func (t *seatTx) DecrementSeats(key models.ScheduleKey, seats int) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE train_schedules
		SET available_seats = available_seats - $3
		WHERE train_id = $1 AND travel_date = $2::date AND available_seats >= $3`,
		key.TrainID, key.TravelDate, seats)
	if err != nil {
		return fmt.Errorf("failed to decrement seats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to decrement seats: %w", err)
	}
	if affected != 1 {
		return ErrInsufficientSeats
	}
	return nil
}

// IncrementSeats releases seats back to the locked inventory row
func (t *seatTx) IncrementSeats(key models.ScheduleKey, seats int) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE train_schedules
		SET available_seats = available_seats + $3
		WHERE train_id = $1 AND travel_date = $2::date`,
		key.TrainID, key.TravelDate, seats)
	if err != nil {
		return fmt.Errorf("failed to increment seats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to increment seats: %w", err)
	}
	if affected != 1 {
		return ErrScheduleNotFound
	}
	return nil
}

// InsertBooking inserts a new booking record and fills in CreatedAt.
// A reservation code that already exists yields ErrReservationCodeTaken.
func (t *seatTx) InsertBooking(b *models.Booking) error {
	var paymentRef sql.NullString
	if b.PaymentReference != nil {
		paymentRef = sql.NullString{String: *b.PaymentReference, Valid: true}
	}

	err := t.tx.QueryRowxContext(t.ctx, `
		INSERT INTO bookings (
			pnr, user_id, train_id, travel_date,
			passenger_name, passenger_age, passenger_gender, seat_preference,
			fare, payment_transaction_id, status, contact_email, contact_phone, created_at
		) VALUES (
			$1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW()
		) RETURNING created_at`,
		b.ReservationCode, b.UserID, b.TrainID, b.TravelDate,
		b.Passenger.Name, b.Passenger.Age, b.Passenger.Gender, b.SeatPreference,
		b.Fare, paymentRef, string(b.Status), b.Contact.Email, b.Contact.Phone,
	).Scan(&b.CreatedAt)
	if isUniqueViolation(err) {
		return ErrReservationCodeTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// MarkCancelled flips a CONFIRMED or PENDING booking to CANCELLED
func (t *seatTx) MarkCancelled(code string, at time.Time) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE bookings
		SET status = 'CANCELLED', cancelled_at = $2
		WHERE pnr = $1 AND status IN ('CONFIRMED', 'PENDING')`,
		code, at)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if affected != 1 {
		return ErrBookingNotCancellable
	}
	return nil
}

// ============================================================================
// READS
// ============================================================================

// GetBooking reads a canonical booking without locking it
func (r *BookingRepository) GetBooking(ctx context.Context, code string) (*models.Booking, error) {
	var row bookingRow
	err := r.db.GetContext(ctx, &row, `SELECT`+bookingColumns+` FROM bookings WHERE pnr = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return row.toModel(), nil
}

// GetInventory reads an inventory row without locking it
func (r *BookingRepository) GetInventory(ctx context.Context, key models.ScheduleKey) (*models.InventoryRow, error) {
	var inventory models.InventoryRow
	err := r.db.GetContext(ctx, &inventory, `
		SELECT train_id, to_char(travel_date, 'YYYY-MM-DD') AS travel_date, available_seats,
		       train_number, train_name, source, destination
		FROM train_schedules
		WHERE train_id = $1 AND travel_date = $2::date`, key.TrainID, key.TravelDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	return &inventory, nil
}

// Ping verifies the canonical store is reachable
func (r *BookingRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
