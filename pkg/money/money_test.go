package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundToCents(t *testing.T) {
	cases := []struct {
		in   float64
		want Amount
	}{
		{0, 0},
		{1, 100},
		{1.005, 101},
		{1.004, 100},
		{0.1 + 0.2, 30},
		{33.335, 3334},
		{100.01, 10001},
		{-1.005, -101},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundToCents(tc.in), "RoundToCents(%v)", tc.in)
	}
}

func TestSum(t *testing.T) {
	assert.Equal(t, Zero, Sum())
	assert.Equal(t, Amount(10000), Sum(3333, 3333, 3334))
}

func TestSumFloats(t *testing.T) {
	assert.Equal(t, Zero, SumFloats(nil))
	// 0.1 added ten times drifts in binary floating point.
	values := make([]float64, 10)
	for i := range values {
		values[i] = 0.1
	}
	assert.Equal(t, Amount(100), SumFloats(values))
	assert.Equal(t, Amount(60), SumFloats([]float64{0.1, 0.2, 0.3}))
}

func TestSumBy(t *testing.T) {
	type row struct {
		amount *float64
	}
	v1, v2 := 10.10, 0.20
	rows := []row{{&v1}, {nil}, {&v2}}

	total := SumBy(rows, func(r row) (Amount, bool) {
		if r.amount == nil {
			return 0, false
		}
		return FromFloat(*r.amount), true
	})
	assert.Equal(t, Amount(1030), total)
	assert.Equal(t, Zero, SumBy([]row{}, func(row) (Amount, bool) { return 1, true }))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 33.33, Percentage(3333, 10000))
	assert.Equal(t, 0.0, Percentage(500, 0))
	assert.Equal(t, 100.0, Percentage(12000, 12000))
	assert.Equal(t, 66.67, Percentage(2, 3))
	assert.Equal(t, 25.0, Percentage(3000, 12000))
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "0.00", Zero.String())
	assert.Equal(t, "33.34", Amount(3334).String())
	assert.Equal(t, "-0.05", Amount(-5).String())
	assert.Equal(t, 120.5, Amount(12050).Float64())
}

func TestFromDecimal(t *testing.T) {
	a, err := FromDecimal(decimal.RequireFromString("12.345"))
	require.NoError(t, err)
	assert.Equal(t, Amount(1235), a)
	a, err = FromDecimal(decimal.RequireFromString("12.344"))
	require.NoError(t, err)
	assert.Equal(t, Amount(1234), a)

	a, err = FromDecimal(decimal.RequireFromString("92233720368547758.07"))
	require.NoError(t, err)
	assert.Equal(t, Amount(math.MaxInt64), a)
	_, err = FromDecimal(decimal.RequireFromString("92233720368547758.08"))
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = FromDecimal(decimal.RequireFromString("-92233720368547758.09"))
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.True(t, Amount(1234).Decimal().Equal(decimal.RequireFromString("12.34")))
}

func TestAmountJSON(t *testing.T) {
	type payload struct {
		Amount Amount `json:"amount"`
	}

	out, err := json.Marshal(payload{Amount: 10001})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 100.01}`, string(out))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 100.005}`), &p))
	assert.Equal(t, Amount(10001), p.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount": "42.5"}`), &p))
	assert.Equal(t, Amount(4250), p.Amount)

	assert.Error(t, json.Unmarshal([]byte(`{"amount": "abc"}`), &p))

	// Too large for int64 cents: rejected, previous value kept.
	err = json.Unmarshal([]byte(`{"amount": 200000000000000000}`), &p)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, Amount(4250), p.Amount)
}

func TestRoundToCentsOutOfRange(t *testing.T) {
	assert.Equal(t, Zero, RoundToCents(2e17))
	assert.Equal(t, Zero, RoundToCents(-2e17))
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("150")
	require.NoError(t, err)
	assert.Equal(t, Amount(15000), a)

	_, err = ParseAmount("1.2.3")
	assert.Error(t, err)
}
