package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/railconnect/booking-backend/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// BookingMirrorRepository keeps a denormalized copy of each booking in Redis.
//
// Layout:
//
//	{prefix}booking:{code}          hash of booking fields
//	{prefix}user:{userId}:bookings  sorted set of codes scored by created_at (ms)
//	{prefix}booking-session:{code}  JSON session entry with a TTL
//
// Writes are keyed by reservation code and idempotent. A record that is
// CANCELLED is never moved back to another status.
type BookingMirrorRepository struct {
	client     redis.Cmdable
	prefix     string
	sessionTTL time.Duration
}

// NewBookingMirrorRepository creates a new BookingMirrorRepository
func NewBookingMirrorRepository(client redis.Cmdable, prefix string, sessionTTL time.Duration) *BookingMirrorRepository {
	return &BookingMirrorRepository{client: client, prefix: prefix, sessionTTL: sessionTTL}
}

// putScript writes the hash and the user index unless the stored record is
// already CANCELLED and the incoming one is not.
// KEYS: booking, user index. ARGV: score, code, status, field/value pairs...
var putScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'status')
if current == 'CANCELLED' and ARGV[3] ~= 'CANCELLED' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], unpack(ARGV, 4))
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// updateStatusScript changes status on an existing record.
// Returns -1 when the record is missing and 0 when the change would regress
// a cancellation. KEYS: booking. ARGV: status, timestamp (RFC3339Nano).
var updateStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local current = redis.call('HGET', KEYS[1], 'status')
if current == ARGV[1] then
  return 1
end
if current == 'CANCELLED' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
if ARGV[1] == 'CANCELLED' then
  redis.call('HSET', KEYS[1], 'cancelled_at', ARGV[2])
end
return 1
`)

func (m *BookingMirrorRepository) bookingKey(code string) string {
	return m.prefix + "booking:" + code
}

func (m *BookingMirrorRepository) userIndexKey(userID string) string {
	return m.prefix + "user:" + userID + ":bookings"
}

func (m *BookingMirrorRepository) sessionKey(code string) string {
	return m.prefix + "booking-session:" + code
}

// ============================================================================
// WRITES
// ============================================================================

// Put stores the record and indexes it under its user
func (m *BookingMirrorRepository) Put(ctx context.Context, b *models.Booking) error {
	keys := []string{m.bookingKey(b.ReservationCode), m.userIndexKey(b.UserID)}
	applied, err := putScript.Run(ctx, m.client, keys, putArgs(b)...).Int()
	if err != nil {
		return fmt.Errorf("failed to write mirror record %s: %w", b.ReservationCode, err)
	}
	if applied == 0 {
		return ErrMirrorStatusRegression
	}
	return nil
}

// PutSession records the short-lived booking session entry
func (m *BookingMirrorRepository) PutSession(ctx context.Context, b *models.Booking) error {
	if m.sessionTTL <= 0 {
		return nil
	}
	payload, err := sessionPayload(b)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.sessionKey(b.ReservationCode), payload, m.sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to write booking session %s: %w", b.ReservationCode, err)
	}
	return nil
}

// UpdateStatus moves an existing record to status
func (m *BookingMirrorRepository) UpdateStatus(ctx context.Context, code string, status models.BookingStatus, at time.Time) error {
	result, err := updateStatusScript.Run(ctx, m.client,
		[]string{m.bookingKey(code)},
		string(status), at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to update mirror status %s: %w", code, err)
	}
	switch result {
	case -1:
		return ErrMirrorRecordNotFound
	case 0:
		return ErrMirrorStatusRegression
	}
	return nil
}

// ============================================================================
// READS
// ============================================================================

// Get reads one record by reservation code
func (m *BookingMirrorRepository) Get(ctx context.Context, code string) (*models.Booking, error) {
	fields, err := m.client.HGetAll(ctx, m.bookingKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror record %s: %w", code, err)
	}
	if len(fields) == 0 {
		return nil, ErrMirrorRecordNotFound
	}
	return bookingFromHash(fields)
}

// ListByUser returns the user's records, newest first. Index entries whose
// record is gone are skipped.
func (m *BookingMirrorRepository) ListByUser(ctx context.Context, userID string) ([]*models.Booking, error) {
	codes, err := m.client.ZRevRange(ctx, m.userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read booking index for user %s: %w", userID, err)
	}
	if len(codes) == 0 {
		return []*models.Booking{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(codes))
	_, err = m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, code := range codes {
			cmds[i] = pipe.HGetAll(ctx, m.bookingKey(code))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror records for user %s: %w", userID, err)
	}

	bookings := make([]*models.Booking, 0, len(codes))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		b, err := bookingFromHash(fields)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

// Remove drops a booking's record, session entry and index entry.
// Used by maintenance tooling only; the booking paths never delete.
func (m *BookingMirrorRepository) Remove(ctx context.Context, code, userID string) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.bookingKey(code), m.sessionKey(code))
		pipe.ZRem(ctx, m.userIndexKey(userID), code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove mirror record %s: %w", code, err)
	}
	return nil
}

// KeyPatterns returns SCAN patterns covering every key the mirror owns
func (m *BookingMirrorRepository) KeyPatterns() []string {
	return []string{
		m.bookingKey("*"),
		m.userIndexKey("*"),
		m.sessionKey("*"),
	}
}

// Ping verifies the mirror is reachable
func (m *BookingMirrorRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// ============================================================================
// ENCODING
// ============================================================================

// putArgs lays out the script arguments: score, code, status, then pairs
func putArgs(b *models.Booking) []interface{} {
	args := []interface{}{
		strconv.FormatInt(b.CreatedAt.UnixMilli(), 10),
		b.ReservationCode,
		string(b.Status),
		"pnr", b.ReservationCode,
		"user_id", b.UserID,
		"train_id", strconv.FormatInt(b.TrainID, 10),
		"travel_date", b.TravelDate,
		"passenger_name", b.Passenger.Name,
		"passenger_age", strconv.Itoa(b.Passenger.Age),
		"passenger_gender", b.Passenger.Gender,
		"seat_preference", b.SeatPreference,
		"fare", b.Fare.String(),
		"contact_email", b.Contact.Email,
		"contact_phone", b.Contact.Phone,
		"train_number", b.Schedule.TrainNumber,
		"train_name", b.Schedule.TrainName,
		"source", b.Schedule.Source,
		"destination", b.Schedule.Destination,
		"created_at", b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if b.PaymentReference != nil {
		args = append(args, "payment_reference", *b.PaymentReference)
	}
	if b.CancelledAt != nil {
		args = append(args, "cancelled_at", b.CancelledAt.UTC().Format(time.RFC3339Nano))
	}
	return args
}

func bookingFromHash(fields map[string]string) (*models.Booking, error) {
	code := fields["pnr"]

	trainID, err := strconv.ParseInt(fields["train_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mirror record %s: invalid train_id: %w", code, err)
	}
	age, err := strconv.Atoi(fields["passenger_age"])
	if err != nil {
		return nil, fmt.Errorf("mirror record %s: invalid passenger_age: %w", code, err)
	}
	fare, err := decimal.NewFromString(fields["fare"])
	if err != nil {
		return nil, fmt.Errorf("mirror record %s: invalid fare: %w", code, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("mirror record %s: invalid created_at: %w", code, err)
	}

	b := &models.Booking{
		ReservationCode: code,
		UserID:          fields["user_id"],
		TrainID:         trainID,
		TravelDate:      fields["travel_date"],
		Passenger: models.Passenger{
			Name:   fields["passenger_name"],
			Age:    age,
			Gender: fields["passenger_gender"],
		},
		SeatPreference: fields["seat_preference"],
		Fare:           fare,
		Status:         models.BookingStatus(fields["status"]),
		Contact: models.Contact{
			Email: fields["contact_email"],
			Phone: fields["contact_phone"],
		},
		Schedule: models.ScheduleInfo{
			TrainNumber: fields["train_number"],
			TrainName:   fields["train_name"],
			Source:      fields["source"],
			Destination: fields["destination"],
		},
		CreatedAt: createdAt,
	}

	if ref, ok := fields["payment_reference"]; ok {
		b.PaymentReference = &ref
	}
	if raw, ok := fields["cancelled_at"]; ok && raw != "" {
		cancelledAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("mirror record %s: invalid cancelled_at: %w", code, err)
		}
		b.CancelledAt = &cancelledAt
	}

	return b, nil
}

type bookingSession struct {
	SessionID string `json:"session_id"`
	PNR       string `json:"pnr"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
}

func sessionPayload(b *models.Booking) (string, error) {
	payload, err := json.Marshal(bookingSession{
		SessionID: "booking-" + b.ReservationCode,
		PNR:       b.ReservationCode,
		UserID:    b.UserID,
		Status:    string(b.Status),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode booking session: %w", err)
	}
	return string(payload), nil
}
