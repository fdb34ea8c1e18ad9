package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Status is the settlement outcome reported by the gateway
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Contact identifies the payer to the gateway
type Contact struct {
	Email string
	Phone string
}

// ChargeResult is the gateway's answer to a charge
type ChargeResult struct {
	Status        Status
	TransactionID string
	Detail        string
}

// Succeeded reports whether the charge settled
func (r *ChargeResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Gateway charges a payer once per reference. Implementations never retry;
// the reference is the idempotency key the processor deduplicates on.
type Gateway interface {
	Charge(ctx context.Context, reference string, amount decimal.Decimal, contact Contact) (*ChargeResult, error)
	GetName() string
}

// ErrGatewayTimeout is returned when the charge did not complete before the
// caller's deadline. The outcome at the processor is unknown.
var ErrGatewayTimeout = errors.New("payment gateway timeout")

// HTTPGateway calls a JSON payment processor endpoint
type HTTPGateway struct {
	endpoint string
	apiKey   string
	currency string
	client   *http.Client
	logger   *logrus.Logger
}

// NewHTTPGateway creates a gateway client for baseURL
func NewHTTPGateway(baseURL, apiKey, currency string, logger *logrus.Logger) *HTTPGateway {
	return &HTTPGateway{
		endpoint: strings.TrimRight(baseURL, "/") + "/charges",
		apiKey:   apiKey,
		currency: currency,
		// Upper bound only; the caller's context carries the real deadline
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

type chargeRequest struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	OrderID       string `json:"orderId"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	CustomerPhone string `json:"customerPhone,omitempty"`
}

type chargeResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	Message       string `json:"message"`
}

// GetName returns the gateway name
func (g *HTTPGateway) GetName() string {
	return "http"
}

// Signature returns the request check value: uppercase hex SHA-512 over the
// API key digest and the charge fields
func (g *HTTPGateway) Signature(reference, amount string) string {
	keyDigest := sha512.Sum512([]byte(g.apiKey))
	data := fmt.Sprintf("%s|%s|%s|%s",
		reference,
		amount,
		g.currency,
		strings.ToUpper(hex.EncodeToString(keyDigest[:])),
	)
	sum := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Charge submits one charge. A declined charge is a FAILURE result with a nil
// error; transport problems and unexpected responses are errors.
func (g *HTTPGateway) Charge(ctx context.Context, reference string, amount decimal.Decimal, contact Contact) (*ChargeResult, error) {
	amountStr := amount.StringFixed(2)

	body, err := json.Marshal(chargeRequest{
		Amount:        amountStr,
		Currency:      g.currency,
		OrderID:       reference,
		CustomerEmail: contact.Email,
		CustomerPhone: contact.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Idempotency-Key", reference)
	req.Header.Set("X-Check-Value", g.Signature(reference, amountStr))

	g.logger.WithFields(logrus.Fields{
		"reference": reference,
		"amount":    amountStr,
		"currency":  g.currency,
	}).Info("Submitting payment charge")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrGatewayTimeout
		}
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrGatewayTimeout
		}
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"reference":   reference,
		"status_code": resp.StatusCode,
	}).Debug("Payment gateway response received")

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chargeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse gateway response (status %d): %w", resp.StatusCode, err)
	}

	result := &ChargeResult{
		Status:        StatusFailure,
		TransactionID: parsed.TransactionID,
		Detail:        parsed.Message,
	}
	if resp.StatusCode < http.StatusMultipleChoices && strings.EqualFold(parsed.Status, string(StatusSuccess)) {
		result.Status = StatusSuccess
	}
	if result.Status == StatusFailure && result.Detail == "" {
		result.Detail = fmt.Sprintf("gateway declined (http %d, status %q)", resp.StatusCode, parsed.Status)
	}
	if result.Status == StatusSuccess && result.TransactionID == "" {
		return nil, fmt.Errorf("payment gateway reported success without a transaction id")
	}

	return result, nil
}
