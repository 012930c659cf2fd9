// Package amountpkg provides fixed-point money amount parsing and validation.
package amountpkg

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every amount.
const Scale = 4

// Limit is the exclusive upper bound of an amount's magnitude, matching NUMERIC(19,4).
var Limit = decimal.New(1, 19-Scale)

var (
	// ErrMalformed indicates that the amount is not a decimal number.
	ErrMalformed = errors.New("malformed amount")
	// ErrNotPositive indicates zero or negative amount.
	ErrNotPositive = errors.New("amount must be positive")
	// ErrTooPrecise indicates more fractional digits than Scale.
	ErrTooPrecise = errors.New("amount has too many fractional digits")
	// ErrTooLarge indicates an amount of Limit or more.
	ErrTooLarge = errors.New("amount is too large")
)

// Parse converts s into a positive amount with at most Scale fractional digits.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrMalformed
	}

	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}

	return d, nil
}

// Validate checks that d is positive, below Limit and fits Scale.
func Validate(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNotPositive
	}

	if !FitsRange(d) {
		return ErrTooLarge
	}

	if !FitsScale(d) {
		return ErrTooPrecise
	}

	return nil
}

// FitsRange reports whether the magnitude of d is below Limit.
func FitsRange(d decimal.Decimal) bool {
	return d.Abs().LessThan(Limit)
}

// FitsScale reports whether d has at most Scale fractional digits.
func FitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// String formats d with exactly Scale fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
