package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const defaultScale int32 = 2

// Amounts and balances must fit the NUMERIC(20, 8) columns in schema.sql:
// at most 12 integer digits. Exponents beyond maxPrecision are refused before
// any rescaling so a hostile exponent cannot force huge big.Int arithmetic.
const (
	MaxIntegerDigits = 12
	maxPrecision     = 20
)

// MaxBalance is the exclusive upper bound for amounts and wallet balances.
var MaxBalance = decimal.New(1, MaxIntegerDigits)

var currencyScales = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"XAF": 0,
	"JPY": 0,
}

// Scale returns the number of minor-unit digits for a currency code.
func Scale(currency string) int32 {
	if s, ok := currencyScales[strings.ToUpper(currency)]; ok {
		return s
	}
	return defaultScale
}

// ValidateAmount checks that amount is strictly positive and fits the currency scale.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if int64(amount.NumDigits())+int64(amount.Exponent()) > MaxIntegerDigits {
		return fmt.Errorf("%w: amount must be below %s", ErrInvalidArgument, MaxBalance.String())
	}
	scale := Scale(currency)
	if amount.Exponent() < -maxPrecision {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidArgument, scale)
	}
	if amount.Exponent() < -scale && !amount.Equal(amount.Round(scale)) {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidArgument, scale)
	}
	return nil
}

// ParseAmount parses a decimal string and validates it for currency.
func ParseAmount(s, currency string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: malformed amount %q", ErrInvalidArgument, s)
	}
	if err := ValidateAmount(amount, currency); err != nil {
		return decimal.Decimal{}, err
	}
	return amount, nil
}

// Format renders an amount with the currency's fixed scale, e.g. "100.00".
func Format(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Scale(currency))
}

// NormalizeEmail is the canonical form used for uniqueness and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
