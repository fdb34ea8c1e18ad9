package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ============================================================================
// BOOKING STATUS
// ============================================================================

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// IsValid reports whether s is a known status
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusPending, BookingStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a booking in status s may move to next.
// The only legal transition is CONFIRMED|PENDING -> CANCELLED.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	return next == BookingStatusCancelled &&
		(s == BookingStatusConfirmed || s == BookingStatusPending)
}

// TravelDateLayout is the wire and storage format of a travel date
const TravelDateLayout = "2006-01-02"

// SeatsPerBooking is the number of seats one reservation code holds
const SeatsPerBooking = 1

// ============================================================================
// BOOKING RECORD
// ============================================================================

// Passenger holds the traveller details of a booking
type Passenger struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// Contact holds the optional notification addresses of a booking
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// IsEmpty reports whether no contact address was supplied
func (c Contact) IsEmpty() bool {
	return c.Email == "" && c.Phone == ""
}

// ScheduleInfo is the descriptive part of a schedule, copied into the mirror
// so that booking lists never need the relational store
type ScheduleInfo struct {
	TrainNumber string `json:"train_number,omitempty" db:"train_number"`
	TrainName   string `json:"train_name,omitempty" db:"train_name"`
	Source      string `json:"source,omitempty" db:"source"`
	Destination string `json:"destination,omitempty" db:"destination"`
}

// InventoryRow is the per-train, per-date seat counter
type InventoryRow struct {
	TrainID        int64  `json:"train_id" db:"train_id"`
	TravelDate     string `json:"travel_date" db:"travel_date"`
	AvailableSeats int    `json:"available_seats" db:"available_seats"`
	ScheduleInfo
}

// Booking is the canonical booking record and, denormalized, the mirror record
type Booking struct {
	ReservationCode  string          `json:"reservation_code"`
	UserID           string          `json:"user_id"`
	TrainID          int64           `json:"train_id"`
	TravelDate       string          `json:"travel_date"`
	Passenger        Passenger       `json:"passenger"`
	SeatPreference   string          `json:"seat_preference,omitempty"`
	Fare             decimal.Decimal `json:"fare"`
	PaymentReference *string         `json:"payment_reference"`
	Status           BookingStatus   `json:"status"`
	Contact          Contact         `json:"contact"`
	Schedule         ScheduleInfo    `json:"schedule"`
	CreatedAt        time.Time       `json:"created_at"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
}

// IsCancelled reports whether the booking has been cancelled
func (b *Booking) IsCancelled() bool {
	return b.Status == BookingStatusCancelled
}

// ============================================================================
// REQUESTS & RESULTS
// ============================================================================

// Column widths of the bookings table
const (
	MaxUserIDLength         = 64
	MaxPassengerNameLength  = 100
	MaxGenderLength         = 16
	MaxSeatPreferenceLength = 32
)

// MaxFare is the largest value NUMERIC(12,2) holds
var MaxFare = decimal.RequireFromString("9999999999.99")

// CreateBookingRequest is the input of the create workflow
type CreateBookingRequest struct {
	UserID         string          `json:"-"`
	TrainID        int64           `json:"train_id"`
	TravelDate     string          `json:"travel_date"`
	Passenger      Passenger       `json:"passenger"`
	SeatPreference string          `json:"seat_preference,omitempty"`
	Fare           decimal.Decimal `json:"fare"`
	Contact        Contact         `json:"contact"`
	DeferPayment   bool            `json:"defer_payment,omitempty"`
}

// Validate checks that the request is complete and well-formed
func (r *CreateBookingRequest) Validate() error {
	var problems []string

	if strings.TrimSpace(r.UserID) == "" {
		problems = append(problems, "user id is required")
	} else if utf8.RuneCountInString(r.UserID) > MaxUserIDLength {
		problems = append(problems, fmt.Sprintf("user id must be at most %d characters", MaxUserIDLength))
	}
	if r.TrainID <= 0 {
		problems = append(problems, "train_id must be a positive integer")
	}
	if _, err := time.Parse(TravelDateLayout, r.TravelDate); err != nil {
		problems = append(problems, "travel_date must be formatted as YYYY-MM-DD")
	}
	if strings.TrimSpace(r.Passenger.Name) == "" {
		problems = append(problems, "passenger.name is required")
	} else if utf8.RuneCountInString(r.Passenger.Name) > MaxPassengerNameLength {
		problems = append(problems, fmt.Sprintf("passenger.name must be at most %d characters", MaxPassengerNameLength))
	}
	if r.Passenger.Age <= 0 || r.Passenger.Age > 125 {
		problems = append(problems, "passenger.age must be between 1 and 125")
	}
	if strings.TrimSpace(r.Passenger.Gender) == "" {
		problems = append(problems, "passenger.gender is required")
	} else if utf8.RuneCountInString(r.Passenger.Gender) > MaxGenderLength {
		problems = append(problems, fmt.Sprintf("passenger.gender must be at most %d characters", MaxGenderLength))
	}
	if utf8.RuneCountInString(r.SeatPreference) > MaxSeatPreferenceLength {
		problems = append(problems, fmt.Sprintf("seat_preference must be at most %d characters", MaxSeatPreferenceLength))
	}
	if !r.Fare.IsPositive() {
		problems = append(problems, "fare must be greater than zero")
	} else if r.Fare.GreaterThan(MaxFare) {
		problems = append(problems, "fare exceeds the maximum of "+MaxFare.StringFixed(2))
	}
	if r.Fare.Exponent() < -2 {
		problems = append(problems, "fare must have at most two decimal places")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// BookingResult is returned by a successful create
type BookingResult struct {
	ReservationCode  string        `json:"reservation_code"`
	Status           BookingStatus `json:"status"`
	PaymentReference *string       `json:"payment_reference"`
	// MirrorSynced is false when the booking committed but the mirror write
	// failed; reads served by the mirror may miss it until reconciled.
	MirrorSynced bool     `json:"mirror_synced"`
	Booking      *Booking `json:"booking,omitempty"`
}

// CancelResult is returned by a successful cancel
type CancelResult struct {
	ReservationCode string        `json:"reservation_code"`
	Status          BookingStatus `json:"status"`
	CancelledAt     time.Time     `json:"cancelled_at"`
	MirrorSynced    bool          `json:"mirror_synced"`
}

// ScheduleKey identifies an inventory row
type ScheduleKey struct {
	TrainID    int64
	TravelDate string
}

func (k ScheduleKey) String() string {
	return fmt.Sprintf("%d/%s", k.TrainID, k.TravelDate)
}
