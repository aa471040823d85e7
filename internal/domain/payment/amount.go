package payment

import (
	"fmt"

	"github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency POS stations settle in.
const DefaultCurrency = "BRL"

// Amount represents a monetary amount in the smallest currency unit (e.g. centavos).
type Amount struct {
	ValueCents int64
	Currency   string
}

// NewAmount builds an amount in the default currency.
func NewAmount(cents int64) Amount {
	return Amount{ValueCents: cents, Currency: DefaultCurrency}
}

// AmountFromDecimal converts a decimal value (e.g. 120.5) to an amount, rounding
// half away from zero to the cent.
func AmountFromDecimal(d decimal.Decimal, currency string) Amount {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Amount{
		ValueCents: d.Shift(2).Round(0).IntPart(),
		Currency:   currency,
	}
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Decimal().StringFixed(2), a.Currency)
}

// Decimal returns the amount in currency units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.ValueCents, -2)
}

// ProviderString formats the amount the way terminal providers expect it ("120.00").
func (a Amount) ProviderString() string {
	return a.Decimal().StringFixed(2)
}

// IsZero reports whether there is nothing to charge.
func (a Amount) IsZero() bool {
	return a.ValueCents == 0
}

// Equal compares value and currency.
func (a Amount) Equal(other Amount) bool {
	return a.ValueCents == other.ValueCents && a.Currency == other.Currency
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if a.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if a.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
