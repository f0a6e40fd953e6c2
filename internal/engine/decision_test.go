package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssperling5/IBBot/internal/models"
	"github.com/ssperling5/IBBot/internal/strategy"
)

func TestTargetQuantity(t *testing.T) {
	tests := []struct {
		weight float64
		want   int
	}{
		{100, 1},
		{300, 1},
		{301, 2}, // 301/300 + 0.5 = 1.503, rounds to 2
		{600, 2}, // 2.5 rounds half-to-even down to 2
		{601, 3},
		{900, 4}, // 3.5 rounds half-to-even up to 4
		{1200, 4},
	}
	for _, tt := range tests {
		if got := TargetQuantity(tt.weight); got != tt.want {
			t.Errorf("TargetQuantity(%v) = %d, want %d", tt.weight, got, tt.want)
		}
	}
}

func quoteAt(price float64) models.Quote {
	return models.Quote{Last: models.Float(price)}
}

func shortOpt(ticker string, right models.Right, qty float64) models.Position {
	return models.Position{Ticker: ticker, Type: models.PositionOption, Right: right, Quantity: qty}
}

var decInst = models.Instrument{
	Ticker:       "NUE",
	TargetBuy:    100,
	TargetSell:   130,
	WeightTarget: 600,
}

const (
	buyThreshold  = 0.02
	sellThreshold = 0.01
)

func TestDecideNoStockNearBuyTargetSellsPut(t *testing.T) {
	// price 98 against targetBuy 100: buyDiff -2% < +2% threshold.
	got, err := Decide(decInst, nil, nil, quoteAt(98), buyThreshold, sellThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, strategy.KindPut, got[0].Kind)
	assert.Equal(t, 2, got[0].Quantity)
}

func TestDecideNoStockPutExposureBlocks(t *testing.T) {
	opts := []models.Position{shortOpt("NUE", models.RightPut, -2)}
	got, err := Decide(decInst, nil, opts, quoteAt(98), buyThreshold, sellThreshold)
	require.NoError(t, err)
	assert.Empty(t, got, "existing put exposure must block a second put")
}

func TestDecideNoStockFarFromBuyTarget(t *testing.T) {
	// price 110: buyDiff +10%, well above the 2% threshold.
	got, err := Decide(decInst, nil, nil, quoteAt(110), buyThreshold, sellThreshold)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecideAccumulatingFiresBothRights(t *testing.T) {
	stock := &models.Position{Ticker: "NUE", Type: models.PositionStock, Quantity: 200, Cost: 101}
	got, err := Decide(decInst, stock, nil, quoteAt(98), buyThreshold, sellThreshold)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byKind := map[strategy.Kind]int{}
	for _, d := range got {
		byKind[d.Kind] = d.Quantity
	}
	assert.Equal(t, 2, byKind[strategy.KindStrangleCall], "calls cover the 200 held shares")
	assert.Equal(t, 2, byKind[strategy.KindPut], "puts capped at the per-trade target quantity")
}

func TestDecideAccumulatingExistingExposureSuppresses(t *testing.T) {
	stock := &models.Position{Ticker: "NUE", Type: models.PositionStock, Quantity: 200, Cost: 101}
	opts := []models.Position{
		shortOpt("NUE", models.RightCall, -2),
		shortOpt("NUE", models.RightPut, -2),
	}
	got, err := Decide(decInst, stock, opts, quoteAt(98), buyThreshold, sellThreshold)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecideAccumulatingPutCappedByRemainingWeight(t *testing.T) {
	// 500 of 600 held: only one contract's worth of weight remains.
	stock := &models.Position{Ticker: "NUE", Type: models.PositionStock, Quantity: 500, Cost: 101}
	opts := []models.Position{shortOpt("NUE", models.RightCall, -5)}
	got, err := Decide(decInst, stock, opts, quoteAt(98), buyThreshold, sellThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, strategy.KindPut, got[0].Kind)
	assert.Equal(t, 1, got[0].Quantity)
}

func TestDecideFullPositionNearSellTargetSellsExitCall(t *testing.T) {
	// price 129 against targetSell 130: sellDiff ~0.77% < 1% threshold.
	stock := &models.Position{Ticker: "NUE", Type: models.PositionStock, Quantity: 600, Cost: 101}
	got, err := Decide(decInst, stock, nil, quoteAt(129), buyThreshold, sellThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, strategy.KindExitCall, got[0].Kind)
	assert.Equal(t, 2, got[0].Quantity)
}

func TestDecideFullPositionCallExposureBlocksExit(t *testing.T) {
	stock := &models.Position{Ticker: "NUE", Type: models.PositionStock, Quantity: 600, Cost: 101}
	opts := []models.Position{shortOpt("NUE", models.RightCall, -2)}
	got, err := Decide(decInst, stock, opts, quoteAt(129), buyThreshold, sellThreshold)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecideFullPositionFarFromSellTarget(t *testing.T) {
	stock := &models.Position{Ticker: "NUE", Type: models.PositionStock, Quantity: 600, Cost: 101}
	got, err := Decide(decInst, stock, nil, quoteAt(115), buyThreshold, sellThreshold)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecideNoUsablePrice(t *testing.T) {
	_, err := Decide(decInst, nil, nil, models.Quote{}, buyThreshold, sellThreshold)
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestDecideFallsBackToClosePrice(t *testing.T) {
	q := models.Quote{Close: models.Float(98)}
	got, err := Decide(decInst, nil, nil, q, buyThreshold, sellThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, strategy.KindPut, got[0].Kind)
}
