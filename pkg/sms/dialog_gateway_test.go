package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDialogGateway(t *testing.T) {
	config := DialogConfig{
		APIURL:   "https://e-sms.dialog.lk/api/v2/",
		Username: "testuser",
		Password: "testpass",
		Mask:     "RailConnect",
	}

	gateway := NewDialogGateway(config)

	assert.NotNil(t, gateway)
	assert.Equal(t, "https://e-sms.dialog.lk/api/v2", gateway.apiURL)
	assert.Equal(t, config.Username, gateway.username)
	assert.Equal(t, config.Mask, gateway.mask)
	assert.NotNil(t, gateway.client)
	assert.False(t, gateway.isTokenValid())
}

func TestFormatPhoneForDialog(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{"10-digit format with leading 0", "0771234567", "771234567", false},
		{"11-digit format with country code 94", "94771234567", "771234567", false},
		{"12-digit format with +94", "+94771234567", "771234567", false},
		{"Already 9-digit format", "771234567", "771234567", false},
		{"With spaces", "077 123 4567", "771234567", false},
		{"With dashes", "077-123-4567", "771234567", false},
		{"Invalid - too short", "077123", "", true},
		{"Invalid - too long", "0771234567890", "", true},
		{"Invalid - landline", "0112345678", "", true},
		{"Multiple country codes", "949477123456", "", true},
		{"Empty string", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := FormatPhoneForDialog(tt.input)

			if tt.expectError {
				assert.Error(t, err)
				assert.Empty(t, result)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestDialogGateway_Send(t *testing.T) {
	logins := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			logins++
			_ = json.NewEncoder(w).Encode(LoginResponse{Status: "success", Token: "tok", Expiration: 3600})
		case "/sms":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

			var req SendSMSRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.MSISDN, 1)
			assert.Equal(t, "771234567", req.MSISDN[0].Mobile)
			assert.Equal(t, "RailConnect", req.SourceAddress)
			assert.Contains(t, req.Message, "PNR")

			_ = json.NewEncoder(w).Encode(SendSMSResponse{Status: "success"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	gateway := NewDialogGateway(DialogConfig{APIURL: server.URL, Username: "u", Password: "p", Mask: "RailConnect"})

	t.Run("logs in once and sends", func(t *testing.T) {
		id, err := gateway.Send(context.Background(), "0771234567", "Booking confirmed. PNR ABC")
		require.NoError(t, err)
		assert.Greater(t, id, int64(0))

		_, err = gateway.Send(context.Background(), "0771234567", "Booking cancelled. PNR ABC")
		require.NoError(t, err)
		assert.Equal(t, 1, logins)
	})

	t.Run("rejects invalid phone before calling the API", func(t *testing.T) {
		_, err := gateway.Send(context.Background(), "123", "PNR")
		assert.Error(t, err)
	})
}

func TestDialogGateway_SendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			_ = json.NewEncoder(w).Encode(LoginResponse{Status: "failed", Comment: "bad credentials", ErrCode: "104"})
			return
		}
		t.Errorf("unexpected call to %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	gateway := NewDialogGateway(DialogConfig{APIURL: server.URL, Username: "u", Password: "wrong"})

	_, err := gateway.Send(context.Background(), "0771234567", "PNR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestDialogURLGateway_Send(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		expectError bool
	}{
		{"success", "1", false},
		{"error id", "2001", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				assert.Equal(t, "key", q.Get("esmsqk"))
				assert.Equal(t, "771234567", q.Get("list"))
				assert.Equal(t, "RailConnect", q.Get("source_address"))
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			gateway := NewDialogURLGateway(server.URL, "key", "RailConnect")
			_, err := gateway.Send(context.Background(), "+94 77 123 4567", "PNR ABC")
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
