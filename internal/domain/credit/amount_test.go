package credit

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimal(t *testing.T) {
	t.Run("converts display units to raw", func(t *testing.T) {
		c, err := FromDecimal(decimal.RequireFromString("10.50"))
		require.NoError(t, err)
		assert.Equal(t, int64(10_500_000), c.Raw())
	})

	t.Run("keeps the smallest raw unit", func(t *testing.T) {
		c, err := FromDecimal(decimal.RequireFromString("0.000001"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Raw())
	})

	t.Run("rejects sub-raw precision", func(t *testing.T) {
		_, err := FromDecimal(decimal.RequireFromString("0.0000001"))
		assert.ErrorIs(t, err, ErrCreditPrecision)
	})

	t.Run("rejects out of range amounts", func(t *testing.T) {
		_, err := FromDecimal(decimal.RequireFromString("100000000000000"))
		assert.ErrorIs(t, err, ErrCreditOverflow)
	})

	t.Run("negative amounts round trip", func(t *testing.T) {
		c, err := ParseCredit("-3.25")
		require.NoError(t, err)
		assert.Equal(t, int64(-3_250_000), c.Raw())
		assert.Equal(t, "-3.25", c.String())
	})
}

func TestParseCredit(t *testing.T) {
	_, err := ParseCredit("ten")
	assert.Error(t, err)

	c := MustParseCredit("9.5")
	assert.Equal(t, "9.50", c.StringFixed(2))
	assert.True(t, c.Decimal().Equal(decimal.RequireFromString("9.5")))
}

func TestCreditArithmetic(t *testing.T) {
	a := FromUnits(5)
	b := FromRaw(250_000)

	assert.Equal(t, FromRaw(5_250_000), a.Add(b))
	assert.Equal(t, FromRaw(4_750_000), a.Sub(b))
	assert.Equal(t, FromRaw(-5_000_000), a.Neg())
	tripled, err := a.MulInt(3)
	require.NoError(t, err)
	assert.Equal(t, FromUnits(15), tripled)
	assert.Equal(t, a, a.Neg().Abs())
	assert.Equal(t, b, Min(a, b))
	assert.True(t, Zero.IsZero())
	assert.True(t, a.IsPositive())
	assert.True(t, a.Neg().IsNegative())
}

func TestCreditOverflow(t *testing.T) {
	t.Run("MulInt", func(t *testing.T) {
		_, err := FromUnits(1).MulInt(math.MaxInt64 / 1000)
		assert.ErrorIs(t, err, ErrCreditOverflow)

		_, err = FromRaw(math.MinInt64).MulInt(-1)
		assert.ErrorIs(t, err, ErrCreditOverflow)

		_, err = FromRaw(-1).MulInt(math.MinInt64)
		assert.ErrorIs(t, err, ErrCreditOverflow)

		got, err := FromRaw(-3).MulInt(4)
		require.NoError(t, err)
		assert.Equal(t, FromRaw(-12), got)

		got, err = FromRaw(7).MulInt(0)
		require.NoError(t, err)
		assert.Equal(t, Zero, got)
	})

	t.Run("CheckedAdd", func(t *testing.T) {
		_, err := FromRaw(math.MaxInt64).CheckedAdd(FromRaw(1))
		assert.ErrorIs(t, err, ErrCreditOverflow)

		_, err = FromRaw(math.MinInt64).CheckedAdd(FromRaw(-1))
		assert.ErrorIs(t, err, ErrCreditOverflow)

		got, err := FromRaw(math.MaxInt64).CheckedAdd(FromRaw(-1))
		require.NoError(t, err)
		assert.Equal(t, FromRaw(math.MaxInt64-1), got)
	})

	t.Run("FromUnits panics out of range", func(t *testing.T) {
		assert.Panics(t, func() { FromUnits(math.MaxInt64 / 100) })
		assert.NotPanics(t, func() { FromUnits(math.MaxInt64 / RawPerUnit) })
	})
}

func TestShare(t *testing.T) {
	tests := []struct {
		name        string
		pool        Credit
		part, whole int64
		want        Credit
	}{
		{"even split", FromRaw(100), 1, 4, FromRaw(25)},
		{"floors remainder", FromRaw(100), 1, 3, FromRaw(33)},
		{"whole pool", FromRaw(100), 3, 3, FromRaw(100)},
		{"zero whole", FromRaw(100), 1, 0, Zero},
		{"zero part", FromRaw(100), 0, 10, Zero},
		{"no overflow on large pool", FromRaw(math.MaxInt64 / 2), 999_999, 1_000_000, FromRaw(4611681406741369475)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Share(tt.pool, tt.part, tt.whole))
		})
	}
}

func TestCreditJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Credit `json:"amount"`
	}{Amount: FromRaw(42)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":42}`, string(data))
}
