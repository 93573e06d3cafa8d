package credit

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// RawPerUnit is the number of raw units in one display currency unit.
const RawPerUnit int64 = 1_000_000

// rawScale is log10(RawPerUnit).
const rawScale int32 = 6

var (
	// ErrCreditPrecision is returned when a display amount has more precision than a raw unit.
	ErrCreditPrecision = errors.New("credit: amount exceeds raw unit precision")
	// ErrCreditOverflow is returned when a display amount does not fit into the raw range.
	ErrCreditOverflow = errors.New("credit: amount out of range")
)

var (
	rawPerUnitDecimal = decimal.NewFromInt(RawPerUnit)
	maxRawDecimal     = decimal.NewFromInt(math.MaxInt64)
	minRawDecimal     = decimal.NewFromInt(math.MinInt64)
)

// Credit is a signed amount of credit in raw units.
// All ledger arithmetic happens on this type, never on floating point.
type Credit int64

// Zero is the zero amount.
const Zero Credit = 0

// FromRaw wraps a raw unit count.
func FromRaw(raw int64) Credit {
	return Credit(raw)
}

// FromUnits converts whole display units into a Credit. It panics when the result
// does not fit the raw range. Intended for constants and tests; use FromDecimal for input.
func FromUnits(units int64) Credit {
	c, err := Credit(RawPerUnit).MulInt(units)
	if err != nil {
		panic(err)
	}
	return c
}

// FromDecimal converts a display amount into a Credit without rounding.
func FromDecimal(d decimal.Decimal) (Credit, error) {
	raw := d.Mul(rawPerUnitDecimal)
	if !raw.Equal(raw.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrCreditPrecision, d.String())
	}
	if raw.GreaterThan(maxRawDecimal) || raw.LessThan(minRawDecimal) {
		return 0, fmt.Errorf("%w: %s", ErrCreditOverflow, d.String())
	}
	return Credit(raw.IntPart()), nil
}

// ParseCredit parses a display string such as "10.50".
func ParseCredit(s string) (Credit, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("credit: invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParseCredit is ParseCredit that panics on error. Intended for constants and tests.
func MustParseCredit(s string) Credit {
	c, err := ParseCredit(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Raw returns the raw unit count.
func (c Credit) Raw() int64 {
	return int64(c)
}

// Decimal returns the exact display amount.
func (c Credit) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -rawScale)
}

// String returns the display amount with trailing zeros trimmed.
func (c Credit) String() string {
	return c.Decimal().String()
}

// StringFixed returns the display amount rounded to the given number of places.
func (c Credit) StringFixed(places int32) string {
	return c.Decimal().StringFixed(places)
}

func (c Credit) Add(o Credit) Credit { return c + o }
func (c Credit) Sub(o Credit) Credit { return c - o }
func (c Credit) Neg() Credit         { return -c }

// CheckedAdd returns c + o, or ErrCreditOverflow when the sum leaves the raw range.
func (c Credit) CheckedAdd(o Credit) (Credit, error) {
	sum := c + o
	if (o > 0 && sum < c) || (o < 0 && sum > c) {
		return 0, fmt.Errorf("%w: %d + %d", ErrCreditOverflow, c, o)
	}
	return sum, nil
}

// MulInt multiplies the amount by a count, or returns ErrCreditOverflow when the
// product leaves the raw range.
func (c Credit) MulInt(n int64) (Credit, error) {
	if c == 0 || n == 0 {
		return Zero, nil
	}
	product := c * Credit(n)
	if product/Credit(n) != c || (c == math.MinInt64 && n == -1) {
		return 0, fmt.Errorf("%w: %d * %d", ErrCreditOverflow, c, n)
	}
	return product, nil
}

// Abs returns the absolute amount.
func (c Credit) Abs() Credit {
	if c < 0 {
		return -c
	}
	return c
}

func (c Credit) IsZero() bool     { return c == 0 }
func (c Credit) IsPositive() bool { return c > 0 }
func (c Credit) IsNegative() bool { return c < 0 }

// Min returns the smaller of two amounts.
func Min(a, b Credit) Credit {
	if a < b {
		return a
	}
	return b
}

// Share returns floor(pool * part / whole). It returns Zero when whole is not positive.
func Share(pool Credit, part, whole int64) Credit {
	if whole <= 0 || part <= 0 || pool <= 0 {
		return Zero
	}
	if part >= whole {
		return pool
	}
	share := decimal.NewFromInt(int64(pool)).
		Mul(decimal.NewFromInt(part)).
		Div(decimal.NewFromInt(whole)).
		Floor()
	return Credit(share.IntPart())
}
