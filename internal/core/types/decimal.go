// Package types provides common value types for analytical attributes.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal represents an exact numeric value.
// Uses decimal.Decimal to avoid floating-point errors in aggregates.
type Decimal = decimal.Decimal

// NewDecimal creates a Decimal from a float.
// WARNING: Use ParseDecimal for precise values.
func NewDecimal(f float64) Decimal {
	return decimal.NewFromFloat(f)
}

// ParseDecimal creates a Decimal from its textual representation.
// This is the preferred method for exact values.
func ParseDecimal(s string) (Decimal, error) {
	return decimal.NewFromString(s)
}

// MustDecimal creates a Decimal from a string, panics on error.
// Use only for constants and tests.
func MustDecimal(s string) Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns the zero Decimal value.
func Zero() Decimal {
	return decimal.Zero
}

// Monetary is a decimal amount tagged with a currency code.
//
// Backing views carry no conversion logic, so a Monetary value is only
// comparable against attributes expressed in the same currency. Cross-currency
// sums remain permitted; cross-currency comparisons are rejected upstream.
type Monetary struct {
	Amount   Decimal `json:"amount"`
	Currency string  `json:"currency"`
}

// NewMonetary creates a Monetary value from a textual amount.
func NewMonetary(amount, currency string) (Monetary, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Monetary{}, fmt.Errorf("parse monetary amount %q: %w", amount, err)
	}
	return Monetary{Amount: d, Currency: currency}, nil
}

// SameCurrency reports whether both values share a currency code.
// An empty code on either side means "unspecified" and matches anything.
func (m Monetary) SameCurrency(code string) bool {
	return m.Currency == "" || code == "" || m.Currency == code
}

func (m Monetary) String() string {
	if m.Currency == "" {
		return m.Amount.String()
	}
	return m.Amount.String() + " " + m.Currency
}
