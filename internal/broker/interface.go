// Package broker defines the brokerage gateway contract consumed by the
// trading core, plus resilience wrappers around it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ssperling5/IBBot/internal/models"
)

// ErrTimeout marks a gateway operation that ran out of time. Callers treat it
// as "no new information this cycle", never as fatal.
var ErrTimeout = errors.New("broker: operation timed out")

// IsTimeout reports whether err is a gateway timeout, either our sentinel or
// a context deadline surfacing from the transport.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// OrderState is the venue's answer to a status query.
type OrderState struct {
	Status         models.OrderStatus
	FilledQuantity int
}

// CancelResult reports the outcome of a cancel request. Confirmed=false with
// a nil error is a real, ambiguous outcome: the order may still be live.
type CancelResult struct {
	Confirmed      bool
	FilledQuantity int
}

// OrderRequest carries everything needed to place (or amend) a limit order.
// OrderID zero means a fresh order; a nonzero OrderID amends the existing
// order in place, which is how the venue expresses price modification.
type OrderRequest struct {
	OrderID  int64
	Action   models.OrderAction
	Ticker   string
	Expiry   time.Time
	Right    models.Right
	Strike   float64
	Price    float64
	Quantity int
}

// Validate rejects requests the venue would refuse outright.
func (r OrderRequest) Validate() error {
	if !r.Action.Valid() {
		return fmt.Errorf("broker: action must be BUY or SELL, got %q", r.Action)
	}
	if !r.Right.Valid() {
		return fmt.Errorf("broker: right must be P or C, got %q", r.Right)
	}
	if r.Ticker == "" {
		return fmt.Errorf("broker: ticker is required")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("broker: quantity must be > 0, got %d", r.Quantity)
	}
	return nil
}

// Broker is the gateway contract. Every call is bounded by its context; a
// deadline hit must surface as a timeout, distinct from operation failure.
type Broker interface {
	// Market data. Data unavailability is not an error: the venue answers
	// with an all-empty quote.
	GetQuote(ctx context.Context, ticker string) (models.Quote, error)
	GetOptionQuote(ctx context.Context, ticker string, expiry time.Time,
		right models.Right, strike float64) (models.Quote, error)
	GetExpiries(ctx context.Context, ticker string) ([]time.Time, error)
	GetStrikes(ctx context.Context, ticker string, expiry time.Time) ([]float64, error)

	// Account state.
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetOpenOrderIDs(ctx context.Context) (map[int64]struct{}, error)

	// GetOrderStatus returns nil (with a nil error) when the venue no
	// longer reports the order, meaning it is already closed.
	GetOrderStatus(ctx context.Context, orderID int64) (*OrderState, error)

	// Order placement. Returns the venue order id.
	PlaceOrder(ctx context.Context, req OrderRequest) (int64, error)
	CancelOrder(ctx context.Context, orderID int64) (CancelResult, error)

	// Close releases gateway resources after the engine stops.
	Close() error
}
