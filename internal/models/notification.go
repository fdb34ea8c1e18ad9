package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind names a booking state change that is announced to the user
type EventKind string

const (
	EventBookingConfirmed EventKind = "BOOKING_CONFIRMED"
	EventBookingPending   EventKind = "BOOKING_PENDING"
	EventBookingCancelled EventKind = "BOOKING_CANCELLED"
)

// NotificationChannel is a delivery channel of the notifier
type NotificationChannel string

const (
	ChannelSMS      NotificationChannel = "sms"
	ChannelEmail    NotificationChannel = "email"
	ChannelBroker   NotificationChannel = "broker"
	ChannelRealtime NotificationChannel = "realtime"
)

// NotificationEvent carries the subset of a booking that channels render.
// Events are never persisted by the service.
type NotificationEvent struct {
	ID              string          `json:"event_id"`
	Kind            EventKind       `json:"type"`
	ReservationCode string          `json:"pnr"`
	UserID          string          `json:"user_id"`
	TrainID         int64           `json:"train_id"`
	TravelDate      string          `json:"travel_date"`
	PassengerName   string          `json:"passenger_name"`
	Fare            decimal.Decimal `json:"fare"`
	Status          BookingStatus   `json:"status"`
	Schedule        ScheduleInfo    `json:"schedule"`
	Contact         Contact         `json:"-"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// NewNotificationEvent builds an event of the given kind from a booking
func NewNotificationEvent(kind EventKind, b *Booking, at time.Time) NotificationEvent {
	return NotificationEvent{
		ID:              uuid.NewString(),
		Kind:            kind,
		ReservationCode: b.ReservationCode,
		UserID:          b.UserID,
		TrainID:         b.TrainID,
		TravelDate:      b.TravelDate,
		PassengerName:   b.Passenger.Name,
		Fare:            b.Fare,
		Status:          b.Status,
		Schedule:        b.Schedule,
		Contact:         b.Contact,
		OccurredAt:      at.UTC(),
	}
}

// DeliveryResult reports the outcome of one channel for one event
type DeliveryResult struct {
	Channel NotificationChannel
	Err     error
}
