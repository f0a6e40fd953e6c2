package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssperling5/IBBot/internal/models"
)

// flakyBroker fails every call with a configurable error.
type flakyBroker struct {
	err    error
	closed bool
}

var _ Broker = (*flakyBroker)(nil)

func (f *flakyBroker) GetQuote(context.Context, string) (models.Quote, error) {
	if f.err != nil {
		return models.Quote{}, f.err
	}
	return models.Quote{Last: models.Float(100)}, nil
}

func (f *flakyBroker) GetOptionQuote(context.Context, string, time.Time, models.Right, float64) (models.Quote, error) {
	if f.err != nil {
		return models.Quote{}, f.err
	}
	return models.Quote{Last: models.Float(1.25)}, nil
}

func (f *flakyBroker) GetExpiries(context.Context, string) ([]time.Time, error) {
	return nil, f.err
}

func (f *flakyBroker) GetStrikes(context.Context, string, time.Time) ([]float64, error) {
	return []float64{95, 100, 105}, f.err
}

func (f *flakyBroker) GetPositions(context.Context) ([]models.Position, error) {
	return nil, f.err
}

func (f *flakyBroker) GetOpenOrderIDs(context.Context) (map[int64]struct{}, error) {
	return map[int64]struct{}{7: {}}, f.err
}

func (f *flakyBroker) GetOrderStatus(context.Context, int64) (*OrderState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &OrderState{Status: models.StatusSubmitted}, nil
}

func (f *flakyBroker) PlaceOrder(context.Context, OrderRequest) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 42, nil
}

func (f *flakyBroker) CancelOrder(context.Context, int64) (CancelResult, error) {
	if f.err != nil {
		return CancelResult{}, f.err
	}
	return CancelResult{Confirmed: true}, nil
}

func (f *flakyBroker) Close() error {
	f.closed = true
	return nil
}

func testBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	cb := NewCircuitBreakerBroker(&flakyBroker{})
	ctx := context.Background()

	q, err := cb.GetQuote(ctx, "NUE")
	require.NoError(t, err)
	price, ok := q.EffectivePrice()
	require.True(t, ok)
	assert.Equal(t, 100.0, price)

	id, err := cb.PlaceOrder(ctx, OrderRequest{
		Action: models.ActionSell, Ticker: "NUE", Right: models.RightPut,
		Strike: 100, Price: 1, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	st, err := cb.GetOrderStatus(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.StatusSubmitted, st.Status)
}

func TestBreakerTripsOnRepeatedFailure(t *testing.T) {
	fb := &flakyBroker{err: errors.New("gateway down")}
	cb := NewCircuitBreakerBrokerWithSettings(fb, testBreakerSettings())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := cb.GetQuote(ctx, "NUE")
		require.Error(t, err)
	}

	// The breaker is now open: calls fail fast without reaching the gateway.
	_, err := cb.GetQuote(ctx, "NUE")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerIgnoresTimeouts(t *testing.T) {
	fb := &flakyBroker{err: fmt.Errorf("%w: getQuote", ErrTimeout)}
	cb := NewCircuitBreakerBrokerWithSettings(fb, testBreakerSettings())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := cb.GetQuote(ctx, "NUE")
		require.Error(t, err)
		assert.True(t, IsTimeout(err), "timeouts pass through, the breaker stays closed")
	}
}

func TestBreakerCloseBypassesBreaker(t *testing.T) {
	fb := &flakyBroker{err: errors.New("gateway down")}
	cb := NewCircuitBreakerBrokerWithSettings(fb, testBreakerSettings())

	require.NoError(t, cb.Close())
	assert.True(t, fb.closed)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(ErrTimeout))
	assert.True(t, IsTimeout(fmt.Errorf("wrapped: %w", ErrTimeout)))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(errors.New("gateway down")))
	assert.False(t, IsTimeout(nil))
}

func TestOrderRequestValidate(t *testing.T) {
	valid := OrderRequest{
		Action: models.ActionSell, Ticker: "NUE", Right: models.RightPut,
		Strike: 100, Price: 1, Quantity: 1,
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Action = "HOLD"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Right = "X"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Ticker = ""
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Quantity = 0
	assert.Error(t, bad.Validate())
}
