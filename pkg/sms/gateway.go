package sms

import "context"

// Gateway defines the interface for sending SMS messages
type Gateway interface {
	// Send delivers message to a single phone number.
	// Returns the gateway transaction ID and an error if the send failed
	Send(ctx context.Context, phone, message string) (int64, error)

	// GetName returns the name of the SMS gateway implementation
	GetName() string
}
