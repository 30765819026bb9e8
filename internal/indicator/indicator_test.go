package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vals(xs ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(xs))
	for i, x := range xs {
		out[i] = decimal.NewFromFloat(x)
	}
	return out
}

func TestSMAComputesTrailingAverage(t *testing.T) {
	got, ok := SMA(vals(1, 2, 3, 4, 5), 3)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(4)), "got %s", got) // (3+4+5)/3
}

func TestSMAInsufficientDataIsNotOK(t *testing.T) {
	_, ok := SMA(vals(1, 2), 3)
	assert.False(t, ok)
}

func TestEMASeedsFromSMAAndSmooths(t *testing.T) {
	out := EMA(vals(1, 2, 3, 4, 5), 3)
	require.Len(t, out, 3)
	assert.True(t, out[0].Equal(decimal.NewFromInt(2)), "seed got %s", out[0]) // SMA(1,2,3)
	// k = 2/4 = 0.5; ema1 = (4-2)*0.5+2 = 3
	assert.True(t, out[1].Equal(decimal.NewFromInt(3)), "got %s", out[1])
	// ema2 = (5-3)*0.5+3 = 4
	assert.True(t, out[2].Equal(decimal.NewFromInt(4)), "got %s", out[2])
}

func TestRSIAllGainsIsOneHundred(t *testing.T) {
	got, ok := RSI(vals(1, 2, 3, 4, 5), 4)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(100)))
}

func TestRSIAllLossesIsZero(t *testing.T) {
	got, ok := RSI(vals(5, 4, 3, 2, 1), 4)
	require.True(t, ok)
	assert.True(t, got.IsZero())
}

func TestRSINoChangeIsFifty(t *testing.T) {
	got, ok := RSI(vals(5, 5, 5, 5, 5), 4)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(50)))
}

func TestBollingerBandsFlatSeriesHasZeroWidth(t *testing.T) {
	mid, upper, lower, ok := BollingerBands(vals(10, 10, 10, 10), 4, decimal.NewFromInt(2))
	require.True(t, ok)
	assert.True(t, mid.Equal(decimal.NewFromInt(10)))
	assert.True(t, upper.Equal(decimal.NewFromInt(10)))
	assert.True(t, lower.Equal(decimal.NewFromInt(10)))
}

func TestBollingerBandsInsufficientDataIsNotOK(t *testing.T) {
	_, _, _, ok := BollingerBands(vals(1, 2), 5, decimal.NewFromInt(2))
	assert.False(t, ok)
}
