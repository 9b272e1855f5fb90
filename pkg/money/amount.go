// Package money represents rupee amounts as integer paise.
//
// All arithmetic on balances happens on Amount. Decimal conversion only
// happens at the edges (JSON, CSV, spreadsheets) through shopspring/decimal.
package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places of the minor unit (paise).
const Scale = 2

// Amount is a monetary value in paise.
type Amount int64

var (
	// ErrInvalid is returned when the input is not a decimal number
	ErrInvalid = errors.New("money: invalid amount")

	// ErrPrecision is returned when the input has more than two decimals
	ErrPrecision = errors.New("money: more than two decimal places")

	// ErrOverflow is returned when the value does not fit in an Amount
	ErrOverflow = errors.New("money: amount out of range")
)

var (
	maxAmount = decimal.NewFromInt(math.MaxInt64)
	minAmount = decimal.NewFromInt(math.MinInt64)
)

// Rupees returns the Amount for a whole number of rupees.
func Rupees(r int64) Amount {
	return Amount(r * 100)
}

// FromDecimal converts a rupee value to paise. Fractions below one paisa are
// rejected rather than rounded.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.Equal(d.Truncate(Scale)) {
		return 0, ErrPrecision
	}
	paise := d.Shift(Scale)
	if paise.GreaterThan(maxAmount) || paise.LessThan(minAmount) {
		return 0, ErrOverflow
	}
	return Amount(paise.IntPart()), nil
}

// Parse parses a rupee string such as "12", "12.5" or "12.50".
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalid
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return FromDecimal(d)
}

// Decimal returns the amount in rupees.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String formats the amount in rupees with exactly two decimals.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

// Positive reports whether a is greater than zero.
func (a Amount) Positive() bool {
	return a > 0
}

// MarshalJSON encodes the amount as a JSON number in rupees.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string in rupees.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return ErrInvalid
	}
	s := string(bytes.Trim(data, `"`))
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
