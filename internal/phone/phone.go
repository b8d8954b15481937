// Package phone normalizes contact phone numbers.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers written without a country code.
const DefaultRegion = "PE"

// NormalizeE164 formats input as E.164 using region for national numbers.
// If the number cannot be parsed or is not valid, the trimmed input is
// returned unchanged.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return trimmed
	}
	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// Digits returns the E.164 form without the leading plus, as used by
// wa.me links and the WhatsApp backend route.
func Digits(input, region string) string {
	return strings.TrimPrefix(NormalizeE164(input, region), "+")
}

// Mask hides all but the last four digits for logging.
func Mask(input string) string {
	s := strings.TrimSpace(input)
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
