// Package money represents monetary values as int64 minor units (cents).
// All risk arithmetic happens on integers; decimal is only used to parse
// and render amounts at the API boundary.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units (cents for USD).
type Amount int64

const minorUnitsPerMajor = 100

// FromDecimal converts a decimal major-unit value to minor units,
// rounding half away from zero at two fractional digits.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Shift(2).Round(0).IntPart())
}

// FromString parses a decimal string such as "199.99" into minor units.
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// FromMajor converts whole major units (dollars) to minor units.
func FromMajor(major int64) Amount {
	return Amount(major * minorUnitsPerMajor)
}

// Decimal renders the amount as a two-digit decimal in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount as a decimal string, e.g. "199.99".
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// FractionalPart returns the minor-unit remainder within the major unit,
// always in [0, 100).
func (a Amount) FractionalPart() int64 {
	f := int64(a) % minorUnitsPerMajor
	if f < 0 {
		f += minorUnitsPerMajor
	}
	return f
}

// IsNearRound reports whether the amount sits within tolerance minor units
// of a whole major unit, from either side. 100.00 and 99.99 are both "round"
// at tolerance 1.
func (a Amount) IsNearRound(tolerance int64) bool {
	f := a.FractionalPart()
	return f <= tolerance || minorUnitsPerMajor-f <= tolerance
}

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}
