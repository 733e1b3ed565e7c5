package common

import (
	"strings"
)

// NormalizePhone strips a phone value down to its digits.
// "+1 (205) 555-0100" -> "12055550100"
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneSuffix returns the last n digits of a phone value, or all of them
// when fewer exist. Suffix comparison sidesteps country-code and formatting
// differences between the telephony platform and the CRM.
func PhoneSuffix(phone string, n int) string {
	digits := NormalizePhone(phone)
	if len(digits) <= n {
		return digits
	}
	return digits[len(digits)-n:]
}

// PhonesMatch compares two phone values by their last suffixDigits digits.
// Values with fewer digits than suffixDigits must match exactly.
func PhonesMatch(a, b string, suffixDigits int) bool {
	da := NormalizePhone(a)
	db := NormalizePhone(b)
	if da == "" || db == "" {
		return false
	}
	if len(da) < suffixDigits || len(db) < suffixDigits {
		return da == db
	}
	return da[len(da)-suffixDigits:] == db[len(db)-suffixDigits:]
}

// IsShortExtension reports whether a value looks like an internal extension
// rather than an external phone number.
func IsShortExtension(value string) bool {
	digits := NormalizePhone(value)
	return len(digits) > 0 && len(digits) <= 5
}
