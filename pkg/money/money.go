// Package money implements exact arithmetic over monetary amounts kept in
// integer minor units (cents). Amounts cross the package boundary as decimals
// with two fraction digits.
package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value expressed in cents.
type Amount int64

const centsExp = -2

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ErrOutOfRange is returned for amounts whose cent count does not fit in an
// int64.
var ErrOutOfRange = errors.New("amount out of range")

// Zero is the zero amount.
const Zero Amount = 0

// FromCents wraps a raw cent count.
func FromCents(cents int64) Amount {
	return Amount(cents)
}

// FromFloat converts a floating decimal to cents, rounding half-up.
func FromFloat(f float64) Amount {
	return RoundToCents(f)
}

// FromDecimal converts a decimal to cents, rounding half-up to two digits.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	cents := d.Round(2).Shift(2)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d)
	}
	return Amount(cents.IntPart()), nil
}

// ParseAmount parses a decimal string such as "12.34".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// Cents returns the raw cent count.
func (a Amount) Cents() int64 {
	return int64(a)
}

// Decimal returns the amount as a decimal with two fraction digits.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), centsExp)
}

// Float64 returns the amount for display. Use cents for arithmetic.
func (a Amount) Float64() float64 {
	return a.Decimal().InexactFloat64()
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a > 0
}

// MarshalJSON encodes the amount as a JSON number with two fraction digits.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	data = bytes.Trim(data, `"`)
	parsed, err := ParseAmount(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// RoundToCents rounds value half-up to two decimal digits. The float is first
// converted to its shortest decimal representation, so binary artefacts such
// as 1.005 being stored as 1.00499999... do not round the wrong way.
// NaN, infinities and values outside the int64 cent range yield Zero.
func RoundToCents(value float64) Amount {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Zero
	}
	a, err := FromDecimal(decimal.NewFromFloat(value))
	if err != nil {
		return Zero
	}
	return a
}

// Sum adds amounts exactly. An empty input sums to zero.
func Sum(values ...Amount) Amount {
	var total Amount
	for _, v := range values {
		total += v
	}
	return total
}

// SumFloats converts each value to cents before adding, so the result carries
// no sub-cent drift.
func SumFloats(values []float64) Amount {
	var total Amount
	for _, v := range values {
		total += RoundToCents(v)
	}
	return total
}

// SumBy sums the amount selected from each item. Items for which the selector
// reports ok == false contribute nothing.
func SumBy[T any](items []T, field func(T) (Amount, bool)) Amount {
	var total Amount
	for _, item := range items {
		if v, ok := field(item); ok {
			total += v
		}
	}
	return total
}

// Percentage returns part/total as a percent with two decimal digits. A zero
// total yields 0.
func Percentage(part, total Amount) float64 {
	if total == 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(part)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(total))).
		Round(2)
	return pct.InexactFloat64()
}
