package deal

import (
	"strings"

	"github.com/turtacn/loan-portal/pkg/errors"
)

// NormalizePhone brings a Russian phone number to the +7XXXXXXXXXX form the
// CRM indexes contacts by: non-digits are dropped, a leading 8 becomes 7 and
// a missing country code is prepended.
func NormalizePhone(raw string) (string, error) {
	var sb strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	digits := sb.String()
	switch {
	case digits == "":
		return "", errors.New(errors.ErrCodePhoneInvalid, "phone number is empty")
	case strings.HasPrefix(digits, "8") && len(digits) == 11:
		digits = "7" + digits[1:]
	case len(digits) == 10:
		digits = "7" + digits
	}
	if len(digits) != 11 || digits[0] != '7' {
		return "", errors.New(errors.ErrCodePhoneInvalid, "phone number must have 10 or 11 digits").
			WithDetail("input=" + raw)
	}
	return "+" + digits, nil
}
