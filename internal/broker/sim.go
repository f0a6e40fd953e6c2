package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math"
	"math/big"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ssperling5/IBBot/internal/models"
	"github.com/ssperling5/IBBot/internal/util"
)

// SimBroker is an in-process paper venue. It serves random-walk quotes,
// generated option chains, and rests limit orders that fill against a crude
// premium model. It exists so the bot can run end-to-end without a live
// gateway connection.
type SimBroker struct {
	mu        sync.Mutex
	logger    *log.Logger
	prices    map[string]float64
	vol       float64
	positions []models.Position
	orders    map[int64]*simOrder
	nextID    int64
}

type simOrder struct {
	req    OrderRequest
	status models.OrderStatus
	filled int
	ticks  int // status polls since placement, drives acknowledgment
}

// Ensure SimBroker implements Broker at compile time.
var _ Broker = (*SimBroker)(nil)

// secureFloat64 generates a cryptographically secure random float64 in [0,1).
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// NewSimBroker creates a paper venue seeded with a starting price per ticker.
func NewSimBroker(startPrices map[string]float64, logger *log.Logger) *SimBroker {
	if logger == nil {
		logger = log.New(os.Stderr, "sim: ", log.LstdFlags)
	}
	prices := make(map[string]float64, len(startPrices))
	for t, p := range startPrices {
		prices[t] = p
	}
	return &SimBroker{
		logger: logger,
		prices: prices,
		vol:    0.25,
		orders: make(map[int64]*simOrder),
		nextID: 1000,
	}
}

// SeedPosition installs a holding, for paper runs that start mid-campaign.
func (s *SimBroker) SeedPosition(pos models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, pos)
}

func (s *SimBroker) price(ticker string) float64 {
	p, ok := s.prices[ticker]
	if !ok {
		p = 50 + secureFloat64()*100
	}
	// Small random walk per observation.
	p += (secureFloat64() - 0.5) * p * 0.002
	s.prices[ticker] = p
	return p
}

// premium prices an option with intrinsic value plus a volatility-scaled
// time component. Not a real pricing model, just plausible enough to trade.
func (s *SimBroker) premium(ticker string, expiry time.Time, right models.Right, strike float64) float64 {
	spot := s.prices[ticker]
	if spot == 0 {
		spot = s.price(ticker)
	}
	dte := expiry.Sub(time.Now()).Hours() / 24
	if dte < 0.5 {
		dte = 0.5
	}
	intrinsic := 0.0
	if right == models.RightPut {
		intrinsic = math.Max(strike-spot, 0)
	} else {
		intrinsic = math.Max(spot-strike, 0)
	}
	timeValue := 0.4 * spot * s.vol * math.Sqrt(dte/365)
	// Decay time value with distance from the money.
	moneyness := math.Abs(strike-spot) / spot
	timeValue *= math.Exp(-8 * moneyness)
	return util.RoundToTick(intrinsic+timeValue, 0.01)
}

// GetQuote returns a stock quote. Unknown tickers get an invented price so
// paper runs never stall on data availability.
func (s *SimBroker) GetQuote(ctx context.Context, ticker string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, fmt.Errorf("%w: getQuote %s", ErrTimeout, ticker)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.price(ticker)
	spread := math.Max(util.RoundToTick(p*0.0005, 0.01), 0.01)
	return models.Quote{
		Ticker: ticker,
		Bid:    models.Float(util.RoundToTick(p-spread, 0.01)),
		Ask:    models.Float(util.RoundToTick(p+spread, 0.01)),
		Last:   models.Float(util.RoundToTick(p, 0.01)),
		Close:  models.Float(util.RoundToTick(p*(1+(secureFloat64()-0.5)*0.01), 0.01)),
		Volume: models.Int(int64(1e5 + secureFloat64()*1e6)),
	}, nil
}

// GetOptionQuote returns an option quote built from the premium model.
func (s *SimBroker) GetOptionQuote(ctx context.Context, ticker string, expiry time.Time,
	right models.Right, strike float64) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, fmt.Errorf("%w: getOptionQuote %s", ErrTimeout, ticker)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mid := s.premium(ticker, expiry, right, strike)
	if mid <= 0 {
		// Deep OTM with no bid: venue has nothing to say.
		return models.Quote{Ticker: ticker}, nil
	}
	spread := math.Max(util.RoundToTick(mid*0.05, 0.01), 0.01)
	return models.Quote{
		Ticker: ticker,
		Bid:    models.Float(math.Max(util.RoundToTick(mid-spread, 0.01), 0.01)),
		Ask:    models.Float(util.RoundToTick(mid+spread, 0.01)),
		Last:   models.Float(mid),
		Close:  models.Float(mid),
		Volume: models.Int(int64(secureFloat64() * 5000)),
	}, nil
}

// GetExpiries lists the next six weekly (Friday) expirations.
func (s *SimBroker) GetExpiries(ctx context.Context, ticker string) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: getExpiries %s", ErrTimeout, ticker)
	}
	day := time.Now().Truncate(24 * time.Hour)
	for day.Weekday() != time.Friday {
		day = day.AddDate(0, 0, 1)
	}
	expiries := make([]time.Time, 0, 6)
	for i := 0; i < 6; i++ {
		expiries = append(expiries, day.AddDate(0, 0, 7*i))
	}
	return expiries, nil
}

// GetStrikes returns a strike grid bracketing the current price.
func (s *SimBroker) GetStrikes(ctx context.Context, ticker string, expiry time.Time) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: getStrikes %s", ErrTimeout, ticker)
	}
	s.mu.Lock()
	spot := s.prices[ticker]
	if spot == 0 {
		spot = s.price(ticker)
	}
	s.mu.Unlock()

	step := 1.0
	switch {
	case spot > 200:
		step = 5.0
	case spot > 50:
		step = 2.5
	}
	base := math.Floor(spot/step) * step
	strikes := make([]float64, 0, 21)
	for i := -10; i <= 10; i++ {
		k := base + float64(i)*step
		if k > 0 {
			strikes = append(strikes, k)
		}
	}
	sort.Float64s(strikes)
	return strikes, nil
}

// GetPositions returns the current paper holdings.
func (s *SimBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: getPositions", ErrTimeout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Position, len(s.positions))
	copy(out, s.positions)
	return out, nil
}

// GetOpenOrderIDs returns the ids of orders still working at the venue.
func (s *SimBroker) GetOpenOrderIDs(ctx context.Context) (map[int64]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: getOpenOrderIDs", ErrTimeout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	open := make(map[int64]struct{})
	for id, o := range s.orders {
		if o.status == models.StatusPendingSubmit || o.status == models.StatusSubmitted {
			open[id] = struct{}{}
		}
	}
	return open, nil
}

// GetOrderStatus answers a status query. Orders the venue has already closed
// and forgotten report nil, matching the gateway contract.
func (s *SimBroker) GetOrderStatus(ctx context.Context, orderID int64) (*OrderState, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: getOrderStatus %d", ErrTimeout, orderID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	s.stepOrder(orderID, o)
	return &OrderState{Status: o.status, FilledQuantity: o.filled}, nil
}

// stepOrder advances a resting order: acknowledge first, then try to fill
// against the premium model. Caller holds the lock.
func (s *SimBroker) stepOrder(id int64, o *simOrder) {
	o.ticks++
	switch o.status {
	case models.StatusPendingSubmit:
		if o.ticks >= 1 {
			o.status = models.StatusSubmitted
		}
	case models.StatusSubmitted:
		mid := s.premium(o.req.Ticker, o.req.Expiry, o.req.Right, o.req.Strike)
		// A sell limit fills when the market trades at or through it.
		if o.req.Action == models.ActionSell && mid >= o.req.Price {
			remaining := o.req.Quantity - o.filled
			if remaining > 1 && secureFloat64() < 0.15 {
				// Occasional partial fill to exercise the caller's
				// cancel-and-resubmit path.
				o.filled += 1 + int(secureFloat64()*float64(remaining-1))
				return
			}
			o.filled = o.req.Quantity
			o.status = models.StatusFilled
			s.applyFill(o.req)
			s.logger.Printf("sim: order %d filled %d %s %s %.2f@%.2f",
				id, o.req.Quantity, o.req.Ticker, o.req.Right, o.req.Strike, o.req.Price)
		}
	}
}

// applyFill books the position effect of a filled option order. Caller holds
// the lock. Sold contracts show up as negative quantities, as a real
// brokerage reports short option positions.
func (s *SimBroker) applyFill(req OrderRequest) {
	qty := float64(req.Quantity)
	if req.Action == models.ActionSell {
		qty = -qty
	}
	for i := range s.positions {
		p := &s.positions[i]
		if p.Type == models.PositionOption && p.Ticker == req.Ticker &&
			p.Right == req.Right && p.Expiry.Equal(req.Expiry) && p.Strike == req.Strike {
			p.Quantity += qty
			if p.Quantity == 0 {
				s.positions = append(s.positions[:i], s.positions[i+1:]...)
			}
			return
		}
	}
	s.positions = append(s.positions, models.Position{
		Ticker:   req.Ticker,
		Type:     models.PositionOption,
		Quantity: qty,
		Cost:     req.Price * 100,
		Right:    req.Right,
		Expiry:   req.Expiry,
		Strike:   req.Strike,
	})
}

// PlaceOrder accepts a validated limit order. A request carrying an existing
// order id amends that order's price and quantity in place.
func (s *SimBroker) PlaceOrder(ctx context.Context, req OrderRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: placeOrder %s", ErrTimeout, req.Ticker)
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.OrderID != 0 {
		o, ok := s.orders[req.OrderID]
		if !ok {
			return 0, fmt.Errorf("sim: amend for unknown order %d", req.OrderID)
		}
		o.req.Price = req.Price
		o.req.Quantity = req.Quantity
		s.logger.Printf("sim: order %d amended to %.2f x%d", req.OrderID, req.Price, req.Quantity)
		return req.OrderID, nil
	}

	s.nextID++
	id := s.nextID
	s.orders[id] = &simOrder{req: req, status: models.StatusPendingSubmit}
	s.logger.Printf("sim: order %d placed: %s %d %s %s %.2f@%.2f exp %s",
		id, req.Action, req.Quantity, req.Ticker, req.Right, req.Strike, req.Price,
		req.Expiry.Format("2006-01-02"))
	return id, nil
}

// CancelOrder cancels a resting order. Orders the venue no longer knows
// report an unconfirmed cancel, the ambiguous case callers must respect.
func (s *SimBroker) CancelOrder(ctx context.Context, orderID int64) (CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return CancelResult{}, fmt.Errorf("%w: cancelOrder %d", ErrTimeout, orderID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return CancelResult{Confirmed: false}, nil
	}
	switch o.status {
	case models.StatusFilled:
		return CancelResult{Confirmed: false, FilledQuantity: o.filled}, nil
	case models.StatusCancelled:
		return CancelResult{Confirmed: true, FilledQuantity: o.filled}, nil
	default:
		o.status = models.StatusCancelled
		s.logger.Printf("sim: order %d cancelled, filled %d", orderID, o.filled)
		return CancelResult{Confirmed: true, FilledQuantity: o.filled}, nil
	}
}

// Close releases the paper venue. Nothing to tear down.
func (s *SimBroker) Close() error {
	return nil
}
