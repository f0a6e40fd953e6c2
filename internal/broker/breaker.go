package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ssperling5/IBBot/internal/models"
)

// CircuitBreakerBroker wraps a Broker so that a misbehaving gateway trips
// open instead of stalling every trade cycle.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(b Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(b Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Timeouts degrade per-item, they should not trip the
			// whole gateway open on their own.
			return err == nil || IsTimeout(err)
		},
	}

	return &CircuitBreakerBroker{
		broker:  b,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	b Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(b) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetQuote wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, ticker string) (models.Quote, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (models.Quote, error) {
		return b.GetQuote(ctx, ticker)
	})
}

// GetOptionQuote wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetOptionQuote(ctx context.Context, ticker string, expiry time.Time,
	right models.Right, strike float64) (models.Quote, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (models.Quote, error) {
		return b.GetOptionQuote(ctx, ticker, expiry, right, strike)
	})
}

// GetExpiries wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetExpiries(ctx context.Context, ticker string) ([]time.Time, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) ([]time.Time, error) {
		return b.GetExpiries(ctx, ticker)
	})
}

// GetStrikes wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetStrikes(ctx context.Context, ticker string, expiry time.Time) ([]float64, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) ([]float64, error) {
		return b.GetStrikes(ctx, ticker, expiry)
	})
}

// GetPositions wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) ([]models.Position, error) {
		return b.GetPositions(ctx)
	})
}

// GetOpenOrderIDs wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetOpenOrderIDs(ctx context.Context) (map[int64]struct{}, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (map[int64]struct{}, error) {
		return b.GetOpenOrderIDs(ctx)
	})
}

// GetOrderStatus wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID int64) (*OrderState, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (*OrderState, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}

// PlaceOrder wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req OrderRequest) (int64, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (int64, error) {
		return b.PlaceOrder(ctx, req)
	})
}

// CancelOrder wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID int64) (CancelResult, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (CancelResult, error) {
		return b.CancelOrder(ctx, orderID)
	})
}

// Close releases the underlying gateway directly, bypassing the breaker.
func (c *CircuitBreakerBroker) Close() error {
	return c.broker.Close()
}
