package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/railconnect/booking-backend/internal/database"
	"github.com/railconnect/booking-backend/internal/models"
	"github.com/railconnect/booking-backend/internal/monitoring"
	"github.com/railconnect/booking-backend/internal/utils"
	"github.com/railconnect/booking-backend/pkg/payment"
	"github.com/railconnect/booking-backend/pkg/validator"
	"github.com/sirupsen/logrus"
)

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	PaymentTimeout         time.Duration // Bound on one gateway charge (default 15s)
	TransactionTimeout     time.Duration // Bound on the whole locked transaction (default 30s)
	MirrorTimeout          time.Duration // Bound on each post-commit mirror write (default 2s)
	AuditTimeout           time.Duration // Bound on each payment audit write (default 2s)
	DeferPayment           bool          // Create every booking as PENDING without charging
	CodeGenerationAttempts int           // Reservation code draws before giving up (default 5)
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		PaymentTimeout:         15 * time.Second,
		TransactionTimeout:     30 * time.Second,
		MirrorTimeout:          2 * time.Second,
		AuditTimeout:           2 * time.Second,
		CodeGenerationAttempts: 5,
	}
}

// BookingStore is the canonical relational store. Both callbacks run inside
// one transaction holding the inventory row lock for the booking's schedule.
type BookingStore interface {
	WithSeatLock(ctx context.Context, key models.ScheduleKey,
		fn func(tx database.SeatTx, inventory *models.InventoryRow) error) error
	WithBookingLock(ctx context.Context, code string,
		fn func(tx database.SeatTx, booking *models.Booking, inventory *models.InventoryRow) error) error
}

// BookingMirror is the fast-lookup copy of bookings
type BookingMirror interface {
	Put(ctx context.Context, b *models.Booking) error
	PutSession(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, code string) (*models.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Booking, error)
	UpdateStatus(ctx context.Context, code string, status models.BookingStatus, at time.Time) error
}

// Notifier fans booking events out, best-effort
type Notifier interface {
	ChannelsFor(event models.NotificationEvent) []models.NotificationChannel
	Notify(ctx context.Context, event models.NotificationEvent, channels []models.NotificationChannel) []models.DeliveryResult
}

// PaymentAuditor keeps the durable trail of gateway outcomes
type PaymentAuditor interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// BookingOrchestratorService runs the create and cancel workflows across the
// canonical store, the payment gateway, the mirror and the notifier
type BookingOrchestratorService struct {
	store    BookingStore
	mirror   BookingMirror
	gateway  payment.Gateway
	notifier Notifier
	auditor  PaymentAuditor
	metrics  *monitoring.Metrics
	config   BookingOrchestratorConfig
	logger   *logrus.Logger

	phoneValidator *validator.PhoneValidator
	now            func() time.Time
	newCode        func() (string, error)
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	store BookingStore,
	mirror BookingMirror,
	gateway payment.Gateway,
	notifier Notifier,
	auditor PaymentAuditor,
	metrics *monitoring.Metrics,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	if config.CodeGenerationAttempts <= 0 {
		config.CodeGenerationAttempts = 1
	}
	return &BookingOrchestratorService{
		store:          store,
		mirror:         mirror,
		gateway:        gateway,
		notifier:       notifier,
		auditor:        auditor,
		metrics:        metrics,
		config:         config,
		logger:         logger,
		phoneValidator: validator.NewPhoneValidator(),
		now:            func() time.Time { return time.Now().UTC() },
		newCode:        utils.GenerateReservationCode,
	}
}

// ============================================================================
// CREATE
// ============================================================================

// CreateBooking reserves one seat, charges the fare and records the booking.
// A non-nil result always means the booking committed; MirrorSynced reports
// whether the mirror caught up.
func (s *BookingOrchestratorService) CreateBooking(
	ctx context.Context,
	req *models.CreateBookingRequest,
) (*models.BookingResult, error) {
	const op = "create"

	result, err := s.createBooking(ctx, req)
	if err != nil {
		s.metrics.RecordOperation(op, string(KindOf(err)))
		return nil, err
	}
	outcome := "success"
	if !result.MirrorSynced {
		outcome = "degraded"
	}
	s.metrics.RecordOperation(op, outcome)
	return result, nil
}

func (s *BookingOrchestratorService) createBooking(
	ctx context.Context,
	req *models.CreateBookingRequest,
) (*models.BookingResult, error) {
	const op = "create"

	// 1. Validate request
	if err := req.Validate(); err != nil {
		return nil, newBookingError(op, KindValidation, "", err.Error(), nil)
	}
	contact, err := s.normalizeContact(req.Contact)
	if err != nil {
		return nil, newBookingError(op, KindValidation, "", err.Error(), nil)
	}

	// 2. Generate a reservation code
	code, err := s.newCode()
	if err != nil {
		return nil, newBookingError(op, KindInfrastructure, "", "reservation code generation failed", err)
	}

	key := models.ScheduleKey{TrainID: req.TrainID, TravelDate: req.TravelDate}
	deferPayment := s.config.DeferPayment || req.DeferPayment

	log := s.logger.WithFields(logrus.Fields{
		"user_id":       req.UserID,
		"train_id":      key.TrainID,
		"travel_date":   key.TravelDate,
		"defer_payment": deferPayment,
	})

	booking := &models.Booking{
		UserID:         req.UserID,
		TrainID:        req.TrainID,
		TravelDate:     req.TravelDate,
		Passenger:      req.Passenger,
		SeatPreference: req.SeatPreference,
		Fare:           req.Fare,
		Status:         models.BookingStatusConfirmed,
		Contact:        contact,
	}
	if deferPayment {
		booking.Status = models.BookingStatusPending
	}

	// charge is set once the gateway has settled, so a later failure in the
	// same transaction can be reported for refund
	var (
		charge      *payment.ChargeResult
		chargeAudit *models.PaymentAudit
	)

	txCtx, cancel := s.withTimeout(ctx, s.config.TransactionTimeout)
	defer cancel()

	lockStart := time.Now()
	err = s.store.WithSeatLock(txCtx, key, func(tx database.SeatTx, inventory *models.InventoryRow) error {
		// 3. Check capacity under the row lock
		if inventory.AvailableSeats < models.SeatsPerBooking {
			return newBookingError(op, KindSeatsUnavailable, "",
				fmt.Sprintf("train %d on %s is fully booked", key.TrainID, key.TravelDate), nil)
		}

		// 4. Make sure the code is unused before it reaches the gateway
		claimed, err := s.claimCode(tx, code)
		if err != nil {
			return err
		}
		booking.ReservationCode = claimed
		booking.Schedule = inventory.ScheduleInfo

		// 5. Charge the fare unless payment is deferred
		if !deferPayment {
			result, audit, err := s.charge(txCtx, claimed, booking)
			chargeAudit = audit
			if err != nil {
				return err
			}
			charge = result
			ref := result.TransactionID
			booking.PaymentReference = &ref
		}

		// 6. Take the seat and record the booking
		if err := tx.DecrementSeats(key, models.SeatsPerBooking); err != nil {
			return err
		}
		return tx.InsertBooking(booking)
	})
	s.metrics.SeatLockDuration.WithLabelValues(op).Observe(time.Since(lockStart).Seconds())

	if chargeAudit != nil {
		s.auditPayment(ctx, chargeAudit, log)
	}

	if err != nil {
		bookingErr := s.storeError(op, booking.ReservationCode, err)
		if charge.Succeeded() {
			log.WithFields(logrus.Fields{
				"reservation_code":  booking.ReservationCode,
				"payment_reference": charge.TransactionID,
				"fare":              booking.Fare.StringFixed(2),
			}).WithError(err).Error("Payment captured but booking did not commit, refund required")
			reason := err.Error()
			s.auditPayment(ctx, &models.PaymentAudit{
				ReservationCode:  booking.ReservationCode,
				UserID:           booking.UserID,
				EventType:        models.PaymentEventRefundRequired,
				Gateway:          s.gateway.GetName(),
				Amount:           booking.Fare,
				GatewayReference: &charge.TransactionID,
				ErrorMessage:     &reason,
				CreatedAt:        s.now(),
			}, log)
		} else {
			log.WithField("reservation_code", booking.ReservationCode).WithError(err).Info("Booking not created")
		}
		return nil, bookingErr
	}

	log = log.WithField("reservation_code", booking.ReservationCode)
	log.WithField("status", booking.Status).Info("Booking committed")

	// 7. Project into the mirror
	mirrorSynced := s.putMirror(ctx, op, booking, log)

	// 8. Notify, best-effort
	kind := models.EventBookingConfirmed
	if booking.Status == models.BookingStatusPending {
		kind = models.EventBookingPending
	}
	s.notify(ctx, models.NewNotificationEvent(kind, booking, booking.CreatedAt))

	return &models.BookingResult{
		ReservationCode:  booking.ReservationCode,
		Status:           booking.Status,
		PaymentReference: booking.PaymentReference,
		MirrorSynced:     mirrorSynced,
		Booking:          booking,
	}, nil
}

// claimCode returns code, or a fresh one when code is already in use
func (s *BookingOrchestratorService) claimCode(tx database.SeatTx, code string) (string, error) {
	for attempt := 1; ; attempt++ {
		exists, err := tx.CodeExists(code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
		if attempt >= s.config.CodeGenerationAttempts {
			return "", newBookingError("create", KindInfrastructure, "",
				fmt.Sprintf("no unused reservation code after %d attempts", attempt), nil)
		}
		s.logger.WithField("reservation_code", code).Warn("Reservation code collision, regenerating")
		if code, err = s.newCode(); err != nil {
			return "", err
		}
	}
}

// charge calls the gateway once with the reservation code as idempotency key.
// The returned audit entry describes the outcome whether or not err is nil.
func (s *BookingOrchestratorService) charge(
	ctx context.Context,
	code string,
	booking *models.Booking,
) (*payment.ChargeResult, *models.PaymentAudit, error) {
	payCtx, cancel := s.withTimeout(ctx, s.config.PaymentTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.gateway.Charge(payCtx, code, booking.Fare, payment.Contact{
		Email: booking.Contact.Email,
		Phone: booking.Contact.Phone,
	})

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case !result.Succeeded():
		status = "declined"
	}
	elapsed := time.Since(start)
	s.metrics.PaymentDuration.WithLabelValues(status).Observe(elapsed.Seconds())

	audit := &models.PaymentAudit{
		ReservationCode:  code,
		UserID:           booking.UserID,
		EventType:        models.PaymentEventCaptured,
		Gateway:          s.gateway.GetName(),
		Amount:           booking.Fare,
		ProcessingTimeMs: elapsed.Milliseconds(),
		CreatedAt:        s.now(),
	}

	if err != nil {
		detail := err.Error()
		if errors.Is(err, payment.ErrGatewayTimeout) || errors.Is(err, context.DeadlineExceeded) {
			detail = payment.ErrGatewayTimeout.Error()
		}
		s.logger.WithFields(logrus.Fields{
			"reservation_code": code,
			"gateway":          s.gateway.GetName(),
		}).WithError(err).Warn("Payment gateway call failed")
		audit.EventType = models.PaymentEventError
		audit.ErrorMessage = &detail
		return nil, audit, newBookingError("create", KindPaymentFailed, code, detail, err)
	}
	if result == nil {
		result = &payment.ChargeResult{Status: payment.StatusFailure, Detail: "empty gateway response"}
	}
	if result.TransactionID != "" {
		ref := result.TransactionID
		audit.GatewayReference = &ref
	}
	if !result.Succeeded() {
		detail := result.Detail
		audit.EventType = models.PaymentEventDeclined
		audit.ErrorMessage = &detail
		return nil, audit, newBookingError("create", KindPaymentFailed, code, result.Detail, nil)
	}
	return result, audit, nil
}

// auditPayment writes a payment audit entry, best-effort. It runs after the
// transaction has finished so the entry outlives a rollback.
func (s *BookingOrchestratorService) auditPayment(ctx context.Context, audit *models.PaymentAudit, log *logrus.Entry) {
	if s.auditor == nil {
		return
	}
	auditCtx, cancel := s.withTimeout(context.WithoutCancel(ctx), s.config.AuditTimeout)
	defer cancel()

	if err := s.auditor.Log(auditCtx, audit); err != nil {
		log.WithError(err).WithField("event_type", audit.EventType).Error("Payment audit entry lost")
	}
}

// ============================================================================
// CANCEL
// ============================================================================

// CancelBooking cancels a CONFIRMED or PENDING booking owned by userID and
// releases its seat
func (s *BookingOrchestratorService) CancelBooking(
	ctx context.Context,
	code string,
	userID string,
) (*models.CancelResult, error) {
	const op = "cancel"

	result, err := s.cancelBooking(ctx, code, userID)
	if err != nil {
		s.metrics.RecordOperation(op, string(KindOf(err)))
		return nil, err
	}
	outcome := "success"
	if !result.MirrorSynced {
		outcome = "degraded"
	}
	s.metrics.RecordOperation(op, outcome)
	return result, nil
}

func (s *BookingOrchestratorService) cancelBooking(
	ctx context.Context,
	code string,
	userID string,
) (*models.CancelResult, error) {
	const op = "cancel"

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.TrimSpace(userID) == "" {
		return nil, newBookingError(op, KindValidation, code, "reservation code and user id are required", nil)
	}

	log := s.logger.WithFields(logrus.Fields{
		"reservation_code": code,
		"user_id":          userID,
	})

	// 1. Pre-check against the mirror. The locked transaction re-validates,
	// so a mirror outage only skips the fast path.
	if err := s.precheckCancel(ctx, code, userID); err != nil {
		var bookingErr *BookingError
		if errors.As(err, &bookingErr) {
			return nil, err
		}
		log.WithError(err).Warn("Mirror pre-check unavailable, relying on canonical store")
	}

	// 2. Flip status and release the seat under the inventory and booking locks
	txCtx, cancel := s.withTimeout(ctx, s.config.TransactionTimeout)
	defer cancel()

	var cancelled *models.Booking
	lockStart := time.Now()
	err := s.store.WithBookingLock(txCtx, code, func(tx database.SeatTx, booking *models.Booking, inventory *models.InventoryRow) error {
		if booking.UserID != userID {
			return newBookingError(op, KindForbidden, code, "", nil)
		}
		if !booking.Status.CanTransitionTo(models.BookingStatusCancelled) {
			return newBookingError(op, KindAlreadyCancelled, code, "", nil)
		}

		at := s.now()
		if err := tx.MarkCancelled(code, at); err != nil {
			return err
		}
		key := models.ScheduleKey{TrainID: booking.TrainID, TravelDate: booking.TravelDate}
		if err := tx.IncrementSeats(key, models.SeatsPerBooking); err != nil {
			return err
		}

		booking.Status = models.BookingStatusCancelled
		booking.CancelledAt = &at
		cancelled = booking
		return nil
	})
	s.metrics.SeatLockDuration.WithLabelValues(op).Observe(time.Since(lockStart).Seconds())

	if err != nil {
		log.WithError(err).Info("Booking not cancelled")
		return nil, s.storeError(op, code, err)
	}
	log.Info("Booking cancelled")

	// 3. Update the mirror
	mirrorSynced := s.cancelMirror(ctx, cancelled, log)

	// 4. Notify, best-effort
	s.notify(ctx, models.NewNotificationEvent(models.EventBookingCancelled, cancelled, *cancelled.CancelledAt))

	return &models.CancelResult{
		ReservationCode: code,
		Status:          cancelled.Status,
		CancelledAt:     *cancelled.CancelledAt,
		MirrorSynced:    mirrorSynced,
	}, nil
}

// precheckCancel returns a *BookingError for a definite refusal and a plain
// error when the mirror could not be read
func (s *BookingOrchestratorService) precheckCancel(ctx context.Context, code, userID string) error {
	mirrorCtx, cancel := s.withTimeout(ctx, s.config.MirrorTimeout)
	defer cancel()

	record, err := s.mirror.Get(mirrorCtx, code)
	if errors.Is(err, database.ErrMirrorRecordNotFound) {
		return newBookingError("cancel", KindNotFound, code, "", nil)
	}
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return newBookingError("cancel", KindForbidden, code, "", nil)
	}
	if record.IsCancelled() {
		return newBookingError("cancel", KindAlreadyCancelled, code, "", nil)
	}
	return nil
}

// ============================================================================
// READS (served from the mirror)
// ============================================================================

// ListBookings returns the user's bookings, newest first
func (s *BookingOrchestratorService) ListBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newBookingError("list", KindValidation, "", "user id is required", nil)
	}

	bookings, err := s.mirror.ListByUser(ctx, userID)
	if err != nil {
		return nil, newBookingError("list", KindInfrastructure, "", "", err)
	}
	return bookings, nil
}

// GetBooking returns one booking owned by userID
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, code, userID string) (*models.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.TrimSpace(userID) == "" {
		return nil, newBookingError("get", KindValidation, code, "reservation code and user id are required", nil)
	}

	booking, err := s.mirror.Get(ctx, code)
	if errors.Is(err, database.ErrMirrorRecordNotFound) {
		return nil, newBookingError("get", KindNotFound, code, "", nil)
	}
	if err != nil {
		return nil, newBookingError("get", KindInfrastructure, code, "", err)
	}
	if booking.UserID != userID {
		return nil, newBookingError("get", KindForbidden, code, "", nil)
	}
	return booking, nil
}

// ============================================================================
// HELPERS
// ============================================================================

// putMirror writes the new booking and its session entry. Only the booking
// write decides MirrorSynced.
func (s *BookingOrchestratorService) putMirror(ctx context.Context, op string, booking *models.Booking, log *logrus.Entry) bool {
	mirrorCtx, cancel := s.withTimeout(context.WithoutCancel(ctx), s.config.MirrorTimeout)
	defer cancel()

	synced := true
	if err := s.mirror.Put(mirrorCtx, booking); err != nil && !errors.Is(err, database.ErrMirrorStatusRegression) {
		synced = false
		s.metrics.RecordMirrorFailure(op)
		log.WithError(err).Warn("Mirror write failed after commit, booking served from canonical store only")
	}

	if err := s.mirror.PutSession(mirrorCtx, booking); err != nil {
		log.WithError(err).Debug("Booking session write failed")
	}
	return synced
}

// cancelMirror moves the mirror record to CANCELLED, rewriting it in full
// when the record is missing
func (s *BookingOrchestratorService) cancelMirror(ctx context.Context, booking *models.Booking, log *logrus.Entry) bool {
	mirrorCtx, cancel := s.withTimeout(context.WithoutCancel(ctx), s.config.MirrorTimeout)
	defer cancel()

	err := s.mirror.UpdateStatus(mirrorCtx, booking.ReservationCode, booking.Status, *booking.CancelledAt)
	if errors.Is(err, database.ErrMirrorRecordNotFound) {
		log.Warn("Mirror record missing on cancel, rewriting from canonical record")
		err = s.mirror.Put(mirrorCtx, booking)
	}
	if errors.Is(err, database.ErrMirrorStatusRegression) {
		err = nil
	}
	if err != nil {
		s.metrics.RecordMirrorFailure("cancel")
		log.WithError(err).Warn("Mirror status update failed after commit")
		return false
	}

	if err := s.mirror.PutSession(mirrorCtx, booking); err != nil {
		log.WithError(err).Debug("Booking session write failed")
	}
	return true
}

func (s *BookingOrchestratorService) notify(ctx context.Context, event models.NotificationEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), event, s.notifier.ChannelsFor(event))
}

// normalizeContact validates the optional contact addresses
func (s *BookingOrchestratorService) normalizeContact(contact models.Contact) (models.Contact, error) {
	var normalized models.Contact
	if strings.TrimSpace(contact.Phone) != "" {
		phone, err := s.phoneValidator.Validate(contact.Phone)
		if err != nil {
			return normalized, fmt.Errorf("contact.phone: %w", err)
		}
		normalized.Phone = phone
	}
	if strings.TrimSpace(contact.Email) != "" {
		email, err := validator.ValidateEmail(contact.Email)
		if err != nil {
			return normalized, fmt.Errorf("contact.email: %w", err)
		}
		normalized.Email = email
	}
	return normalized, nil
}

// storeError classifies an error returned from a locked transaction
func (s *BookingOrchestratorService) storeError(op, code string, err error) error {
	var bookingErr *BookingError
	switch {
	case errors.As(err, &bookingErr):
		if bookingErr.Code == "" {
			bookingErr.Code = code
		}
		return bookingErr
	case errors.Is(err, database.ErrScheduleNotFound):
		return newBookingError(op, KindScheduleNotFound, code, "", err)
	case errors.Is(err, database.ErrInsufficientSeats):
		return newBookingError(op, KindSeatsUnavailable, code, "", err)
	case errors.Is(err, database.ErrBookingNotFound):
		return newBookingError(op, KindNotFound, code, "", err)
	case errors.Is(err, database.ErrBookingNotCancellable):
		return newBookingError(op, KindAlreadyCancelled, code, "", err)
	default:
		return newBookingError(op, KindInfrastructure, code, "", err)
	}
}

func (s *BookingOrchestratorService) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
