package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventCaptured PaymentEventType = "payment_captured"
	PaymentEventDeclined PaymentEventType = "payment_declined"
	PaymentEventError    PaymentEventType = "payment_error"
	// A captured charge whose booking never committed. Needs a manual refund.
	PaymentEventRefundRequired PaymentEventType = "refund_required"
)

// PaymentAudit is an append-only record of one gateway outcome. Entries are
// written outside the booking transaction so they survive its rollback.
type PaymentAudit struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	ReservationCode  string           `json:"reservation_code" db:"pnr"`
	UserID           string           `json:"user_id" db:"user_id"`
	EventType        PaymentEventType `json:"event_type" db:"event_type"`
	Gateway          string           `json:"gateway" db:"gateway"`
	Amount           decimal.Decimal  `json:"amount" db:"amount"`
	GatewayReference *string          `json:"gateway_reference,omitempty" db:"gateway_reference"`
	ErrorMessage     *string          `json:"error_message,omitempty" db:"error_message"`
	ProcessingTimeMs int64            `json:"processing_time_ms" db:"processing_time_ms"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}
