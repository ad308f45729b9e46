package telephony

import (
	"fmt"
	"strings"
)

// DefaultCountryCode is applied to domestic numbers written with a leading 0.
const DefaultCountryCode = "+82"

// NormalizeNumber converts user-entered phone numbers to E.164. Spaces,
// hyphens and parentheses are stripped; an explicit + prefix is kept as-is;
// a leading 0 marks a domestic number and is replaced by the country code.
func NormalizeNumber(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+':
			if b.Len() != 0 {
				return "", fmt.Errorf("telephony: misplaced + in %q", raw)
			}
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separators
		default:
			return "", fmt.Errorf("telephony: invalid character %q in %q", r, raw)
		}
	}
	n := b.String()
	switch {
	case n == "" || n == "+":
		return "", fmt.Errorf("telephony: empty number")
	case strings.HasPrefix(n, "+"):
		if len(n) < 9 {
			return "", fmt.Errorf("telephony: number too short: %q", raw)
		}
		return n, nil
	case strings.HasPrefix(n, "0"):
		if len(n) < 9 {
			return "", fmt.Errorf("telephony: number too short: %q", raw)
		}
		return countryCode + n[1:], nil
	default:
		return "", fmt.Errorf("telephony: cannot normalize %q, expected + or leading 0", raw)
	}
}
