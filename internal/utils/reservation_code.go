package utils

import (
	"crypto/rand"
	"fmt"
)

// reservationAlphabet omits 0/O and 1/I so codes survive being read aloud
const reservationAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ReservationCodeLength gives 50 bits of randomness per code
const ReservationCodeLength = 10

// GenerateReservationCode returns a random PNR such as "K7MQ2XH9TD"
func GenerateReservationCode() (string, error) {
	buf := make([]byte, ReservationCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	code := make([]byte, ReservationCodeLength)
	for i, b := range buf {
		// len(reservationAlphabet) divides 256, so masking is unbiased
		code[i] = reservationAlphabet[b&31]
	}
	return string(code), nil
}

// IsReservationCode reports whether s has the shape of a generated PNR
func IsReservationCode(s string) bool {
	if len(s) != ReservationCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		found := false
		for j := 0; j < len(reservationAlphabet); j++ {
			if s[i] == reservationAlphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
