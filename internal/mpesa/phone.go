package mpesa

import (
	"errors"
	"regexp"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid_phone")

var msisdnPattern = regexp.MustCompile(`^254(7|1)\d{8}$`)

// NormalizePhone converts a Kenyan subscriber number to the
// 254XXXXXXXXX form the gateway accepts. Accepted inputs are
// "07...", "01...", "+254...", "254..." and bare "7..."/"1..."
// local forms. Every call site uses this one function.
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")

	switch {
	case strings.HasPrefix(phone, "+254"):
		phone = "254" + phone[4:]
	case strings.HasPrefix(phone, "0"):
		phone = "254" + phone[1:]
	case strings.HasPrefix(phone, "7"), strings.HasPrefix(phone, "1"):
		phone = "254" + phone
	}

	if !msisdnPattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}
