package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/railconnect/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends a payment audit entry, filling in ID and CreatedAt when unset
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_audits (
			id, pnr, user_id, event_type, gateway, amount,
			gateway_reference, error_message, processing_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		audit.ID, audit.ReservationCode, audit.UserID, string(audit.EventType), audit.Gateway, audit.Amount,
		audit.GatewayReference, audit.ErrorMessage, audit.ProcessingTimeMs, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":       audit.EventType,
			"reservation_code": audit.ReservationCode,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":         audit.ID,
		"event_type":       audit.EventType,
		"reservation_code": audit.ReservationCode,
	}).Debug("Payment audit logged")

	return nil
}

// GetRecentByEventType returns entries of one type newer than since, newest first
func (r *PaymentAuditRepository) GetRecentByEventType(
	ctx context.Context,
	eventType models.PaymentEventType,
	since time.Time,
	limit int,
) ([]*models.PaymentAudit, error) {
	audits := []*models.PaymentAudit{}
	err := r.db.SelectContext(ctx, &audits, `
		SELECT id, pnr, user_id, event_type, gateway, amount,
		       gateway_reference, error_message, processing_time_ms, created_at
		FROM payment_audits
		WHERE event_type = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`, string(eventType), since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s payment audits: %w", eventType, err)
	}
	return audits, nil
}
