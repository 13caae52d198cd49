// internal/mpesa/phone.go
package mpesa

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var kenyanPhoneRe = regexp.MustCompile(`^254[17][0-9]{8}$`)

// FormatPhone normalizes a Kenyan MSISDN to the 254XXXXXXXXX form the
// gateway expects: leading zero or plus stripped, 254 prefix ensured.
func FormatPhone(phone string) string {
	formatted := strings.TrimSpace(phone)

	if strings.HasPrefix(formatted, "0") {
		formatted = "254" + formatted[1:]
	} else if strings.HasPrefix(formatted, "+") {
		formatted = formatted[1:]
	}

	if !strings.HasPrefix(formatted, "254") {
		formatted = "254" + formatted
	}

	return formatted
}

func ValidatePhone(phone string) error {
	if !kenyanPhoneRe.MatchString(phone) {
		return fmt.Errorf("%w: invalid phone number: %s", ErrValidation, phone)
	}
	return nil
}

// ValidateAmount enforces the gateway's deposit bounds and returns the
// amount truncated to whole shillings.
func ValidateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThan(decimal.NewFromInt(1)) || amount.GreaterThan(decimal.NewFromInt(150000)) {
		return decimal.Zero, fmt.Errorf("%w: amount must be between 1 and 150,000 KES", ErrValidation)
	}
	return amount.Floor(), nil
}

// Charges returns the gateway's fee tier for an amount in KES.
func Charges(amount decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case amount.LessThanOrEqual(decimal.NewFromInt(1000)):
		return decimal.Zero, nil
	case amount.LessThanOrEqual(decimal.NewFromInt(50000)):
		return decimal.RequireFromString("27.5"), nil
	case amount.LessThanOrEqual(decimal.NewFromInt(100000)):
		return decimal.RequireFromString("52.5"), nil
	case amount.LessThanOrEqual(decimal.NewFromInt(150000)):
		return decimal.RequireFromString("72.5"), nil
	default:
		return decimal.Zero, fmt.Errorf("mpesa: amount exceeds gateway limit")
	}
}
