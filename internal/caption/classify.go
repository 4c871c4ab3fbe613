package caption

import (
	"strings"
	"unicode"
)

// sensitiveKeywords flags text that should trigger a privacy warning.
var sensitiveKeywords = []string{
	"ssn", "social security", "password", "pin", "secret",
	"username", "login", "account",
}

// IsCardNumber reports whether text looks like a payment card number.
// Visa/Mastercard numbers carry 16 digits, Amex carries 15; spaces and
// separators are ignored.
func IsCardNumber(text string) bool {
	digits := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits == 15 || digits == 16
}

// IsSensitive reports whether text mentions credentials or identity
// information that the wearer may not want exposed on camera.
func IsSensitive(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ClassifyText returns both flags for a piece of recognized text.
func ClassifyText(text string) (isCard, isSensitive bool) {
	return IsCardNumber(text), IsSensitive(text)
}
