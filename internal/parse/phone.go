package parse

import (
	"fmt"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone parses a free-form phone number and returns its E.164
// representation, defaulting the country code when the input carries none.
func NormalizePhone(input, defaultRegion string) (string, error) {
	num, err := phonenumbers.Parse(input, defaultRegion)
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", input, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", input)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
