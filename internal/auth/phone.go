package auth

import (
	"strings"

	"github.com/partnerdesk/backend/internal/faults"
)

// NormalizePhone reduces a free-form phone number to the canonical 11-digit
// "8XXXXXXXXXX" form stored in the auth sheet:
//
//	"+7 (910) 123-45-67" -> "89101234567"
//	"910 123 45 67"      -> "89101234567"
//	"123"                -> rejected
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 11 && digits[0] == '7':
		return "8" + digits[1:], nil
	case len(digits) == 11 && digits[0] == '8':
		return digits, nil
	case len(digits) == 10:
		return "8" + digits, nil
	default:
		return "", faults.Validation("phone %q does not normalize to 11 digits", raw)
	}
}
