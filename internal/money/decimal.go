// Package money provides the exact decimal type used for every price, amount and
// profit value in the trading core.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DivisionPrecision is the number of fractional digits kept by Div.
// Add, Sub and Mul are exact.
const DivisionPrecision int32 = 32

var (
	// ErrArithmetic marks misuse of decimal arithmetic.
	ErrArithmetic = errors.New("arithmetic error")
	// ErrDivisionByZero is returned by Div when the divisor is zero.
	ErrDivisionByZero = fmt.Errorf("%w: division by zero", ErrArithmetic)
	// ErrInvalidFormat is returned when a string cannot be parsed as a decimal.
	ErrInvalidFormat = fmt.Errorf("%w: invalid decimal format", ErrArithmetic)
)

// Decimal is an immutable fixed-precision number. The zero value is 0.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{}

// One is the multiplicative identity.
var One = NewFromInt(1)

// New returns mantissa * 10^-scale, e.g. New(1001, 3) == 1.001.
func New(mantissa int64, scale int32) Decimal {
	return Decimal{d: decimal.New(mantissa, -scale)}
}

// NewFromInt returns an integral decimal.
func NewFromInt(i int64) Decimal {
	return Decimal{d: decimal.NewFromInt(i)}
}

// Parse reads a decimal string such as "100.001" or "-3e-2".
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, s, err)
	}
	return Decimal{d: d}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Decimal {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromFloat converts a float at an I/O boundary (configuration, exchange payloads)
// using the shortest decimal representation of f.
func FromFloat(f float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(f)}
}

func (a Decimal) Add(b Decimal) Decimal { return Decimal{d: a.d.Add(b.d)} }
func (a Decimal) Sub(b Decimal) Decimal { return Decimal{d: a.d.Sub(b.d)} }
func (a Decimal) Mul(b Decimal) Decimal { return Decimal{d: a.d.Mul(b.d)} }
func (a Decimal) Neg() Decimal          { return Decimal{d: a.d.Neg()} }
func (a Decimal) Abs() Decimal          { return Decimal{d: a.d.Abs()} }

// Div divides a by b rounding half-up at DivisionPrecision fractional digits.
func (a Decimal) Div(b Decimal) (Decimal, error) {
	if b.d.IsZero() {
		return Zero, ErrDivisionByZero
	}
	return Decimal{d: a.d.DivRound(b.d, DivisionPrecision)}, nil
}

// Cmp returns -1, 0 or +1.
func (a Decimal) Cmp(b Decimal) int { return a.d.Cmp(b.d) }

func (a Decimal) Equal(b Decimal) bool              { return a.d.Equal(b.d) }
func (a Decimal) GreaterThan(b Decimal) bool        { return a.d.GreaterThan(b.d) }
func (a Decimal) GreaterThanOrEqual(b Decimal) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Decimal) LessThan(b Decimal) bool           { return a.d.LessThan(b.d) }
func (a Decimal) LessThanOrEqual(b Decimal) bool    { return a.d.LessThanOrEqual(b.d) }
func (a Decimal) IsZero() bool                      { return a.d.IsZero() }
func (a Decimal) IsPositive() bool                  { return a.d.IsPositive() }
func (a Decimal) IsNegative() bool                  { return a.d.IsNegative() }
func (a Decimal) Sign() int                         { return a.d.Sign() }

// Ceil returns the nearest integer greater than or equal to a.
func (a Decimal) Ceil() Decimal { return Decimal{d: a.d.Ceil()} }

// Round rounds half away from zero to places fractional digits. It is the explicit
// display-rounding step; core computations never call it.
func (a Decimal) Round(places int32) Decimal { return Decimal{d: a.d.Round(places)} }

// Float64 is lossy and meant for presentation and metrics only.
func (a Decimal) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// IntPart truncates toward zero.
func (a Decimal) IntPart() int64 { return a.d.IntPart() }

func (a Decimal) String() string { return a.d.String() }

// StringFixed formats with exactly places fractional digits.
func (a Decimal) StringFixed(places int32) string { return a.d.StringFixed(places) }

// Min returns the smallest of the given values.
func Min(first Decimal, rest ...Decimal) Decimal {
	m := first
	for _, v := range rest {
		if v.LessThan(m) {
			m = v
		}
	}
	return m
}

// Max returns the largest of the given values.
func Max(first Decimal, rest ...Decimal) Decimal {
	m := first
	for _, v := range rest {
		if v.GreaterThan(m) {
			m = v
		}
	}
	return m
}

// Sum adds all values.
func Sum(values ...Decimal) Decimal {
	s := Zero
	for _, v := range values {
		s = s.Add(v)
	}
	return s
}

// MarshalJSON encodes the value as a quoted string so no precision is lost.
func (a Decimal) MarshalJSON() ([]byte, error) {
	return a.d.MarshalJSON()
}

func (a *Decimal) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	a.d = d
	return nil
}

// Value stores the decimal as TEXT.
func (a Decimal) Value() (driver.Value, error) {
	return a.d.String(), nil
}

// Scan accepts TEXT, BLOB, INTEGER and REAL columns.
func (a *Decimal) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	a.d = d
	return nil
}
