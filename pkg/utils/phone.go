package utils

import (
	"fmt"
	"strings"
)

// CleanPhone reduces a raw phone value from a provider webhook or an import
// file to a bare 10-digit national number. Returns "" when the input cannot
// be reduced to exactly 10 digits.
//
// Handles the spreadsheet float artifact ("2345678901.0"), punctuation and
// the leading "1"/"+1" country code.
func CleanPhone(raw string) string {
	// Excel exports sometimes carry a float decimal; drop everything after it.
	if idx := strings.Index(raw, "."); idx >= 0 && strings.Count(raw, ".") == 1 {
		raw = raw[:idx]
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	// Strip the leading country code by keeping the last 10 digits.
	if strings.HasPrefix(digits, "1") && len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}

	if len(digits) != 10 {
		return ""
	}
	return digits
}

// DisplayPhone renders a cleaned number in the "(206) 888-7773" form used in
// agent-facing notification texts.
func DisplayPhone(raw string) string {
	cleaned := CleanPhone(raw)
	if cleaned == "" {
		return raw
	}
	return fmt.Sprintf("(%s) %s-%s", cleaned[:3], cleaned[3:6], cleaned[6:])
}

// E164 renders a cleaned 10-digit number with the +1 prefix providers expect.
// Input that is already prefixed passes through unchanged.
func E164(raw string) string {
	if strings.HasPrefix(raw, "+1") {
		return raw
	}
	cleaned := CleanPhone(raw)
	if cleaned == "" {
		return raw
	}
	return "+1" + cleaned
}
