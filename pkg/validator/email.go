package validator

import (
	"errors"
	"net/mail"
	"strings"
)

// MaxEmailLength is the longest address a mail path accepts
const MaxEmailLength = 254

var (
	// ErrEmptyEmail indicates the email address is empty
	ErrEmptyEmail = errors.New("email address cannot be empty")

	// ErrInvalidEmail indicates the address is not a bare user@domain address
	ErrInvalidEmail = errors.New("email address is invalid")
)

// ValidateEmail checks a contact address and returns it trimmed and with a
// lower-cased domain. Display names such as "Asha <a@b.lk>" are rejected.
func ValidateEmail(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", ErrEmptyEmail
	}
	if len(address) > MaxEmailLength {
		return "", ErrInvalidEmail
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Name != "" || parsed.Address != address {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(address, "@")
	domain := address[at+1:]
	if !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", ErrInvalidEmail
	}
	return address[:at+1] + strings.ToLower(domain), nil
}
