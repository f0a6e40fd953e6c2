package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssperling5/IBBot/internal/broker"
	"github.com/ssperling5/IBBot/internal/models"
)

var testNow = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

// chainBroker serves a scripted option chain.
type chainBroker struct {
	expiries   []time.Time
	strikes    map[time.Time][]float64
	quotes     map[string]models.Quote
	strikesErr map[time.Time]error
	quoteErr   map[string]error
}

var _ broker.Broker = (*chainBroker)(nil)

func quoteKey(expiry time.Time, right models.Right, strike float64) string {
	return fmt.Sprintf("%s%s%.2f", expiry.Format("20060102"), right, strike)
}

func newChainBroker() *chainBroker {
	return &chainBroker{
		strikes:    make(map[time.Time][]float64),
		quotes:     make(map[string]models.Quote),
		strikesErr: make(map[time.Time]error),
		quoteErr:   make(map[string]error),
	}
}

func (c *chainBroker) setOption(expiry time.Time, right models.Right, strike, last float64) {
	c.quotes[quoteKey(expiry, right, strike)] = models.Quote{Last: models.Float(last)}
}

func (c *chainBroker) GetQuote(context.Context, string) (models.Quote, error) {
	return models.Quote{}, nil
}

func (c *chainBroker) GetOptionQuote(_ context.Context, _ string, expiry time.Time,
	right models.Right, strike float64) (models.Quote, error) {
	key := quoteKey(expiry, right, strike)
	if err := c.quoteErr[key]; err != nil {
		return models.Quote{}, err
	}
	return c.quotes[key], nil
}

func (c *chainBroker) GetExpiries(context.Context, string) ([]time.Time, error) {
	return c.expiries, nil
}

func (c *chainBroker) GetStrikes(_ context.Context, _ string, expiry time.Time) ([]float64, error) {
	if err := c.strikesErr[expiry]; err != nil {
		return nil, err
	}
	return c.strikes[expiry], nil
}

func (c *chainBroker) GetPositions(context.Context) ([]models.Position, error) { return nil, nil }

func (c *chainBroker) GetOpenOrderIDs(context.Context) (map[int64]struct{}, error) {
	return nil, nil
}

func (c *chainBroker) GetOrderStatus(context.Context, int64) (*broker.OrderState, error) {
	return nil, nil
}

func (c *chainBroker) PlaceOrder(context.Context, broker.OrderRequest) (int64, error) {
	return 0, errors.New("not supported")
}

func (c *chainBroker) CancelOrder(context.Context, int64) (broker.CancelResult, error) {
	return broker.CancelResult{}, errors.New("not supported")
}

func (c *chainBroker) Close() error { return nil }

func newTestSelector(b broker.Broker) *Selector {
	s := NewSelector(b, log.New(os.Stderr, "test: ", 0), Config{
		ExpiryWindowDays: 31,
		CallTimeout:      time.Second,
	})
	s.now = func() time.Time { return testNow }
	return s
}

func day(offset int) time.Time {
	return testNow.Truncate(24 * time.Hour).AddDate(0, 0, offset)
}

const testTicker = "NUE"

var testInst = models.Instrument{
	Ticker:       "NUE",
	TargetBuy:    95,
	TargetSell:   120,
	WeightTarget: 600,
}

func TestSelectWeeklyWinsTieBreak(t *testing.T) {
	cb := newChainBroker()
	weekly, biweekly := day(3), day(9)
	cb.expiries = []time.Time{weekly, biweekly}
	cb.strikes[weekly] = []float64{95, 100, 105}
	cb.strikes[biweekly] = []float64{95, 100, 105}
	// Price 100: both candidates resolve to the 100 put.
	cb.setOption(weekly, models.RightPut, 100, 1.00)
	cb.setOption(biweekly, models.RightPut, 100, 1.70) // <= 1.8x the weekly

	s := newTestSelector(cb)
	got, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	require.NoError(t, err)
	assert.True(t, got.Expiry.Equal(weekly), "weekly wins when the bi-weekly premium is not disproportionate")
	assert.InDelta(t, 1.00, got.Price, 1e-9)
}

func TestSelectBiweeklyOverridesOnRichPremium(t *testing.T) {
	cb := newChainBroker()
	weekly, biweekly := day(3), day(9)
	cb.expiries = []time.Time{weekly, biweekly}
	cb.strikes[weekly] = []float64{95, 100, 105}
	cb.strikes[biweekly] = []float64{95, 100, 105}
	cb.setOption(weekly, models.RightPut, 100, 1.00)
	cb.setOption(biweekly, models.RightPut, 100, 1.90) // > 1.8x the weekly

	s := newTestSelector(cb)
	got, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	require.NoError(t, err)
	assert.True(t, got.Expiry.Equal(biweekly))
	assert.InDelta(t, 1.90, got.Price, 1e-9)
}

func TestSelectBiweeklyTakenWhenNoWeekly(t *testing.T) {
	cb := newChainBroker()
	weekly, biweekly := day(3), day(9)
	cb.expiries = []time.Time{weekly, biweekly}
	cb.strikes[weekly] = []float64{95, 100, 105}
	cb.strikes[biweekly] = []float64{95, 100, 105}
	cb.setOption(weekly, models.RightPut, 100, 0.40)   // below the 0.5% floor
	cb.setOption(biweekly, models.RightPut, 100, 0.85) // clears the 0.8% floor

	s := newTestSelector(cb)
	got, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	require.NoError(t, err)
	assert.True(t, got.Expiry.Equal(biweekly))
}

func TestSelectFartherTierFirstPastOnePercentWins(t *testing.T) {
	cb := newChainBroker()
	near, far1, far2 := day(9), day(16), day(23)
	cb.expiries = []time.Time{near, far1, far2}
	for _, e := range cb.expiries {
		cb.strikes[e] = []float64{95, 100, 105}
	}
	cb.setOption(near, models.RightPut, 100, 0.50) // fails the bi-weekly floor
	cb.setOption(far1, models.RightPut, 100, 1.05)
	cb.setOption(far2, models.RightPut, 100, 2.50) // richer but never reached

	s := newTestSelector(cb)
	got, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	require.NoError(t, err)
	assert.True(t, got.Expiry.Equal(far1), "first expiry past 1%% wins outright")
}

func TestSelectNothingAcceptable(t *testing.T) {
	cb := newChainBroker()
	e := day(9)
	cb.expiries = []time.Time{e}
	cb.strikes[e] = []float64{95, 100, 105}
	cb.setOption(e, models.RightPut, 100, 0.10)

	s := newTestSelector(cb)
	_, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelectSkipsExpiriesOutsideWindow(t *testing.T) {
	cb := newChainBroker()
	past, farOut, good := day(-3), day(45), day(9)
	cb.expiries = []time.Time{past, farOut, good}
	for _, e := range cb.expiries {
		cb.strikes[e] = []float64{95, 100, 105}
	}
	cb.setOption(past, models.RightPut, 100, 9.99)
	cb.setOption(farOut, models.RightPut, 100, 9.99)
	cb.setOption(good, models.RightPut, 100, 0.90)

	s := newTestSelector(cb)
	got, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	require.NoError(t, err)
	assert.True(t, got.Expiry.Equal(good))
}

func TestSelectSkipsEmptyQuoteExpiry(t *testing.T) {
	cb := newChainBroker()
	weekly, biweekly := day(3), day(9)
	cb.expiries = []time.Time{weekly, biweekly}
	cb.strikes[weekly] = []float64{95, 100, 105}
	cb.strikes[biweekly] = []float64{95, 100, 105}
	// No quote registered for the weekly: stale chain data.
	cb.setOption(biweekly, models.RightPut, 100, 0.90)

	s := newTestSelector(cb)
	got, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	require.NoError(t, err)
	assert.True(t, got.Expiry.Equal(biweekly))
}

func TestSelectSkipsStrikeFetchFailure(t *testing.T) {
	cb := newChainBroker()
	weekly, biweekly := day(3), day(9)
	cb.expiries = []time.Time{weekly, biweekly}
	cb.strikesErr[weekly] = errors.New("gateway hiccup")
	cb.strikes[biweekly] = []float64{95, 100, 105}
	cb.setOption(biweekly, models.RightPut, 100, 0.90)

	s := newTestSelector(cb)
	got, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	require.NoError(t, err)
	assert.True(t, got.Expiry.Equal(biweekly))
}

func TestSelectUsesCloseWhenLastMissing(t *testing.T) {
	cb := newChainBroker()
	e := day(9)
	cb.expiries = []time.Time{e}
	cb.strikes[e] = []float64{95, 100, 105}
	cb.quotes[quoteKey(e, models.RightPut, 100)] = models.Quote{Close: models.Float(0.95)}

	s := newTestSelector(cb)
	got, err := s.Select(context.Background(), testTicker, 100, KindPut, testInst, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, got.Price, 1e-9)
}
