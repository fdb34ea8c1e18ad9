package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/railconnect/booking-backend/internal/middleware"
	"github.com/railconnect/booking-backend/internal/models"
	"github.com/railconnect/booking-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// BookingService is the part of the orchestrator the HTTP layer needs
type BookingService interface {
	CreateBooking(ctx context.Context, req *models.CreateBookingRequest) (*models.BookingResult, error)
	CancelBooking(ctx context.Context, code, userID string) (*models.CancelResult, error)
	ListBookings(ctx context.Context, userID string) ([]*models.Booking, error)
	GetBooking(ctx context.Context, code, userID string) (*models.Booking, error)
}

// BookingOrchestratorHandler exposes the booking endpoints
type BookingOrchestratorHandler struct {
	bookings BookingService
	logger   *logrus.Logger
}

// NewBookingOrchestratorHandler creates a new BookingOrchestratorHandler
func NewBookingOrchestratorHandler(bookings BookingService, logger *logrus.Logger) *BookingOrchestratorHandler {
	return &BookingOrchestratorHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// RegisterRoutes mounts the booking endpoints on an authenticated group
func (h *BookingOrchestratorHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/bookings", h.CreateBooking)
	group.GET("/bookings", h.ListBookings)
	group.GET("/bookings/:pnr", h.GetBooking)
	group.DELETE("/bookings/:pnr", h.CancelBooking)
}

// ============================================================================
// CREATE - POST /api/v1/bookings
// ============================================================================

// CreateBooking books one seat for the authenticated user
// @Summary Create booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} models.BookingResult
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 402 {object} map[string]interface{} "Payment failed"
// @Failure 409 {object} map[string]interface{} "Seats unavailable"
// @Router /bookings [post]
func (h *BookingOrchestratorHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "User not authenticated"})
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(services.KindValidation),
			"message": "Invalid request body: " + err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}
	// the owner always comes from the token
	req.UserID = userCtx.UserID

	result, err := h.bookings.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ============================================================================
// CANCEL - DELETE /api/v1/bookings/:pnr
// ============================================================================

// CancelBooking cancels one of the user's bookings
// @Summary Cancel booking
// @Tags Bookings
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param pnr path string true "Reservation code"
// @Success 200 {object} models.CancelResult
// @Failure 403 {object} map[string]interface{} "Booking belongs to another user"
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Failure 409 {object} map[string]interface{} "Already cancelled"
// @Router /bookings/{pnr} [delete]
func (h *BookingOrchestratorHandler) CancelBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "User not authenticated"})
		return
	}

	result, err := h.bookings.CancelBooking(c.Request.Context(), c.Param("pnr"), userCtx.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ============================================================================
// READS
// ============================================================================

// ListBookings returns the user's bookings, newest first
// @Router /bookings [get]
func (h *BookingOrchestratorHandler) ListBookings(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "User not authenticated"})
		return
	}

	bookings, err := h.bookings.ListBookings(c.Request.Context(), userCtx.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// GetBooking returns one of the user's bookings
// @Router /bookings/{pnr} [get]
func (h *BookingOrchestratorHandler) GetBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "User not authenticated"})
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), c.Param("pnr"), userCtx.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

var kindStatus = map[services.ErrorKind]int{
	services.KindValidation:       http.StatusBadRequest,
	services.KindScheduleNotFound: http.StatusNotFound,
	services.KindNotFound:         http.StatusNotFound,
	services.KindSeatsUnavailable: http.StatusConflict,
	services.KindAlreadyCancelled: http.StatusConflict,
	services.KindPaymentFailed:    http.StatusPaymentRequired,
	services.KindForbidden:        http.StatusForbidden,
	services.KindInfrastructure:   http.StatusInternalServerError,
}

// HTTPStatusFor maps an orchestrator error to its response status
func HTTPStatusFor(err error) int {
	if status, ok := kindStatus[services.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *BookingOrchestratorHandler) respondError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status := HTTPStatusFor(err)

	message := err.Error()
	if kind == services.KindInfrastructure {
		h.logger.WithError(err).WithField("request_id", middleware.GetRequestID(c)).
			Error("Booking request failed")
		message = "The booking service is temporarily unavailable. Please try again."
	} else {
		var bookingErr *services.BookingError
		if errors.As(err, &bookingErr) && bookingErr.Detail != "" {
			message = bookingErr.Detail
		}
	}

	c.JSON(status, gin.H{
		"error":   string(kind),
		"message": message,
		"code":    strings.ToUpper(string(kind)),
	})
}
