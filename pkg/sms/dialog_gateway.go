package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DialogGateway implements SMS sending via Dialog eSMS API v2
type DialogGateway struct {
	apiURL   string
	username string
	password string
	mask     string
	client   *http.Client

	// Token management
	token       string
	tokenMutex  sync.RWMutex
	tokenExpiry time.Time
}

// DialogConfig holds configuration for Dialog SMS Gateway
type DialogConfig struct {
	APIURL   string
	Username string
	Password string
	Mask     string
}

// NewDialogGateway creates a new Dialog SMS Gateway client
func NewDialogGateway(config DialogConfig) *DialogGateway {
	return &DialogGateway{
		apiURL:   strings.TrimRight(config.APIURL, "/"),
		username: config.Username,
		password: config.Password,
		mask:     config.Mask,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LoginRequest represents the login request structure
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents the login response structure
type LoginResponse struct {
	Status     string `json:"status"`
	Comment    string `json:"comment"`
	Token      string `json:"token"`
	Expiration int    `json:"expiration"` // seconds
	ErrCode    string `json:"errCode"`
}

// SMSRecipient represents a single SMS recipient
type SMSRecipient struct {
	Mobile string `json:"mobile"`
}

// SendSMSRequest represents the SMS sending request structure
type SendSMSRequest struct {
	MSISDN        []SMSRecipient `json:"msisdn"`
	Message       string         `json:"message"`
	SourceAddress string         `json:"sourceAddress,omitempty"`
	TransactionID int64          `json:"transaction_id"`
	PaymentMethod int            `json:"payment_method"` // 0 = wallet, 4 = package
}

// SendSMSResponse represents the SMS sending response structure
type SendSMSResponse struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Data    struct {
		CampaignID   int     `json:"campaignId"`
		CampaignCost float64 `json:"campaignCost"`
	} `json:"data"`
	ErrCode string `json:"errCode"`
}

// GetName returns the name of this SMS gateway
func (d *DialogGateway) GetName() string {
	return "Dialog API v2 Gateway"
}

func (d *DialogGateway) postJSON(ctx context.Context, path string, payload interface{}, authorized bool, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		d.tokenMutex.RLock()
		req.Header.Set("Authorization", "Bearer "+d.token)
		d.tokenMutex.RUnlock()
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// GetAccessToken logs in and retrieves an access token
func (d *DialogGateway) GetAccessToken(ctx context.Context) error {
	var loginResp LoginResponse
	err := d.postJSON(ctx, "/login", LoginRequest{Username: d.username, Password: d.password}, false, &loginResp)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}

	if loginResp.Status != "success" {
		return fmt.Errorf("login failed: %s (error code: %s)", loginResp.Comment, loginResp.ErrCode)
	}

	d.tokenMutex.Lock()
	d.token = loginResp.Token
	d.tokenExpiry = time.Now().Add(time.Duration(loginResp.Expiration) * time.Second)
	d.tokenMutex.Unlock()

	return nil
}

// isTokenValid checks if the current token is still valid
func (d *DialogGateway) isTokenValid() bool {
	d.tokenMutex.RLock()
	defer d.tokenMutex.RUnlock()

	if d.token == "" {
		return false
	}

	// Consider token invalid 5 minutes before actual expiry
	return time.Now().Before(d.tokenExpiry.Add(-5 * time.Minute))
}

func (d *DialogGateway) ensureValidToken(ctx context.Context) error {
	if d.isTokenValid() {
		return nil
	}
	return d.GetAccessToken(ctx)
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// FormatPhoneForDialog converts phone number to Dialog's 9-digit format
// Input: "0771234567" (10 digits) or "94771234567" (11 digits) or "+94771234567"
// Output: "771234567" (9 digits without prefix)
func FormatPhoneForDialog(phone string) (string, error) {
	phone = nonDigits.ReplaceAllString(phone, "")

	if strings.HasPrefix(phone, "94") && len(phone) == 11 {
		phone = phone[2:]
	}

	if strings.HasPrefix(phone, "0") && len(phone) == 10 {
		phone = phone[1:]
	}

	if len(phone) != 9 {
		return "", fmt.Errorf("invalid phone number length after formatting: %d digits (expected 9)", len(phone))
	}

	if !strings.HasPrefix(phone, "7") {
		return "", fmt.Errorf("invalid Sri Lankan mobile prefix: must start with 7")
	}

	return phone, nil
}

// Send sends message to a single phone number
func (d *DialogGateway) Send(ctx context.Context, phone, message string) (int64, error) {
	formattedPhone, err := FormatPhoneForDialog(phone)
	if err != nil {
		return 0, fmt.Errorf("failed to format phone number: %w", err)
	}

	if err := d.ensureValidToken(ctx); err != nil {
		return 0, fmt.Errorf("failed to get access token: %w", err)
	}

	transactionID := time.Now().UnixMicro()

	smsReq := SendSMSRequest{
		MSISDN:        []SMSRecipient{{Mobile: formattedPhone}},
		Message:       message,
		SourceAddress: d.mask,
		TransactionID: transactionID,
		PaymentMethod: 0,
	}

	var smsResp SendSMSResponse
	if err := d.postJSON(ctx, "/sms", smsReq, true, &smsResp); err != nil {
		return 0, fmt.Errorf("SMS request failed: %w", err)
	}

	if smsResp.Status != "success" {
		return 0, fmt.Errorf("SMS sending failed: %s (error code: %s)", smsResp.Comment, smsResp.ErrCode)
	}

	return transactionID, nil
}
