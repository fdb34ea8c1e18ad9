package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates the phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates the phone number contains non-digit characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrInvalidLength indicates the phone number is not 10 digits
	ErrInvalidLength = errors.New("phone number must be exactly 10 digits")

	// ErrInvalidPrefix indicates the number is not a Sri Lankan mobile number
	ErrInvalidPrefix = errors.New("phone number must start with 070, 071, 072, 074, 075, 076, 077 or 078")
)

// mobileOperators maps Sri Lankan mobile prefixes to their operator
var mobileOperators = map[string]string{
	"070": "Mobitel",
	"071": "Mobitel",
	"072": "Hutch",
	"078": "Hutch",
	"074": "Dialog",
	"076": "Dialog",
	"077": "Dialog",
	"075": "Airtel",
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "")

// PhoneValidator validates the contact phone of a booking
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate checks a Sri Lankan mobile number and returns it in local form.
// Accepts 0771234567, 077 123 4567, 077-123-4567 and +94771234567.
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)
	if !digitsOnly.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}
	if len(sanitized) != 10 {
		return "", ErrInvalidLength
	}
	if _, ok := mobileOperators[sanitized[:3]]; !ok {
		return "", ErrInvalidPrefix
	}
	return sanitized, nil
}

// Sanitize strips separators and rewrites a 94 country code to a leading 0
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = phoneSeparators.Replace(phone)
	if strings.HasPrefix(phone, "94") && len(phone) == 11 {
		phone = "0" + phone[2:]
	}
	return phone
}

// GetOperator returns the mobile operator name for a valid number
func (v *PhoneValidator) GetOperator(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	return mobileOperators[sanitized[:3]], nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
