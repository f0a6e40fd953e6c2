package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssperling5/IBBot/internal/broker"
	"github.com/ssperling5/IBBot/internal/models"
	"github.com/ssperling5/IBBot/internal/orders"
	"github.com/ssperling5/IBBot/internal/retry"
	"github.com/ssperling5/IBBot/internal/storage"
	"github.com/ssperling5/IBBot/internal/strategy"
)

// Config holds the engine tunables.
type Config struct {
	CycleInterval time.Duration
	CallTimeout   time.Duration
	BuyThreshold  float64
	SellThreshold float64
	CancelOrphans bool
}

// Engine is the trade cycle scheduler plus the per-symbol decision logic.
// A single worker owns all mutable state; only the published snapshot is
// shared with readers.
type Engine struct {
	cfg         Config
	broker      broker.Broker
	instruments []models.Instrument
	selector    *strategy.Selector
	manager     *orders.Manager
	journal     storage.Interface
	logger      *log.Logger

	// Cycle-local caches, replaced wholesale each refresh.
	quotes    map[string]models.Quote
	positions []models.Position

	snapMu sync.RWMutex
	snap   Snapshot
}

// Snapshot is the read-only view of engine state published after each cycle
// for the dashboard.
type Snapshot struct {
	Time      time.Time             `json:"time"`
	Quotes    []models.Quote        `json:"quotes"`
	Positions []models.Position     `json:"positions"`
	Orders    []models.WorkingOrder `json:"orders"`
}

// New creates an engine over the given gateway and instrument basket.
func New(cfg Config, b broker.Broker, instruments []models.Instrument,
	selector *strategy.Selector, manager *orders.Manager,
	journal storage.Interface, logger *log.Logger) (*Engine, error) {
	if b == nil {
		return nil, fmt.Errorf("engine: broker is required")
	}
	if selector == nil || manager == nil {
		return nil, fmt.Errorf("engine: selector and order manager are required")
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("engine: no instruments configured")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "engine: ", log.LstdFlags)
	}
	if journal == nil {
		journal = storage.NopJournal{}
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.BuyThreshold == 0 {
		cfg.BuyThreshold = 0.02
	}
	if cfg.SellThreshold == 0 {
		cfg.SellThreshold = 0.01
	}
	return &Engine{
		cfg:         cfg,
		broker:      b,
		instruments: instruments,
		selector:    selector,
		manager:     manager,
		journal:     journal,
		logger:      logger,
		quotes:      make(map[string]models.Quote),
	}, nil
}

// Run executes trade cycles on the configured interval until the context is
// cancelled. A cycle that fails in an unexpected way stops the engine so the
// caller can shut down cleanly rather than continue from inconsistent state.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Printf("Engine starting: %d instruments, cycle every %v",
		len(e.instruments), e.cfg.CycleInterval)

	if e.cfg.CancelOrphans {
		e.manager.CancelOrphans(ctx)
	}

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	// Run immediately on start, then on every tick.
	if err := e.safeCycle(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			e.logger.Printf("Engine stopping: %v", ctx.Err())
			return nil
		case <-ticker.C:
			if err := e.safeCycle(ctx); err != nil {
				return err
			}
		}
	}
}

// safeCycle converts a panicking cycle into an error return, triggering an
// orderly shutdown instead of running on in a possibly-inconsistent state.
func (e *Engine) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: trade cycle panicked: %v", r)
		}
	}()
	e.runCycle(ctx)
	return nil
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func (e *Engine) runCycle(ctx context.Context) {
	e.logger.Printf("Starting trade cycle")

	e.refreshQuotes(ctx)
	e.refreshPositions(ctx)
	e.manager.Reconcile(ctx)

	for _, inst := range e.instruments {
		if ctx.Err() != nil {
			break
		}
		ticker := inst.Ticker
		if e.manager.Book().HasTicker(ticker) {
			e.logger.Printf("Order is open for %s, moving on", ticker)
			continue
		}

		// Refresh positions once more so a fill between reconciliation
		// and now is not missed.
		e.refreshPositions(ctx)

		quote, ok := e.quotes[ticker]
		if !ok {
			e.logger.Printf("No quote for %s this cycle, skipping", ticker)
			continue
		}
		stockPos := e.stockPosition(ticker)
		optPositions := e.optionPositions(ticker)

		decisions, err := Decide(inst, stockPos, optPositions, quote,
			e.cfg.BuyThreshold, e.cfg.SellThreshold)
		if err != nil {
			if errors.Is(err, ErrNoQuote) {
				e.logger.Printf("Quote for %s has no usable price, skipping", ticker)
			} else {
				e.logger.Printf("Decision for %s failed: %v", ticker, err)
			}
			continue
		}
		if len(decisions) == 0 {
			e.logger.Printf("Nothing to do for %s", ticker)
			continue
		}

		price, _ := quote.EffectivePrice()
		for _, d := range decisions {
			e.execute(ctx, inst, d, price, stockPos)
		}
	}

	e.publishSnapshot()
	e.logger.Printf("Trade cycle complete, %d working orders", e.manager.Book().Len())
}

// refreshQuotes rebuilds the quote cache. A symbol whose quote fails is
// absent from the cache and skipped downstream.
func (e *Engine) refreshQuotes(ctx context.Context) {
	fresh := make(map[string]models.Quote, len(e.instruments))
	for _, inst := range e.instruments {
		callCtx, cancel := e.callCtx(ctx)
		q, err := e.broker.GetQuote(callCtx, inst.Ticker)
		cancel()
		if err != nil {
			e.logger.Printf("Quote refresh for %s failed: %v", inst.Ticker, err)
			continue
		}
		if q.IsEmpty() {
			e.logger.Printf("Empty quote for %s, possible data problem", inst.Ticker)
			continue
		}
		q.Ticker = inst.Ticker
		fresh[inst.Ticker] = q
	}
	e.quotes = fresh
}

// refreshPositions replaces the position cache wholesale. On failure the
// previous cache is kept: better a slightly stale view than none.
func (e *Engine) refreshPositions(ctx context.Context) {
	var fresh []models.Position
	err := retry.Do(ctx, e.logger, retry.DefaultConfig, "position refresh",
		func(ctx context.Context) error {
			callCtx, cancel := e.callCtx(ctx)
			defer cancel()
			ps, err := e.broker.GetPositions(callCtx)
			if err != nil {
				return err
			}
			fresh = ps
			return nil
		})
	if err != nil {
		e.logger.Printf("Position refresh failed, keeping previous view: %v", err)
		return
	}
	e.positions = fresh
}

func (e *Engine) stockPosition(ticker string) *models.Position {
	for i := range e.positions {
		p := &e.positions[i]
		if p.Ticker == ticker && p.Type == models.PositionStock {
			return p
		}
	}
	return nil
}

func (e *Engine) optionPositions(ticker string) []models.Position {
	var out []models.Position
	for _, p := range e.positions {
		if p.Ticker == ticker && p.Type == models.PositionOption {
			out = append(out, p)
		}
	}
	return out
}

// execute turns one decision into a working order: chain search, placement,
// book entry, journal line.
func (e *Engine) execute(ctx context.Context, inst models.Instrument, d Decision,
	price float64, stockPos *models.Position) {
	ticker := inst.Ticker
	e.logger.Printf("Selling %s on %s, quantity %d", d.Kind, ticker, d.Quantity)

	cand, err := e.selector.Select(ctx, ticker, price, d.Kind, inst, stockPos)
	if err != nil {
		if errors.Is(err, strategy.ErrNotFound) {
			e.logger.Printf("No suitable %s found to sell for %s", d.Kind, ticker)
		} else {
			e.logger.Printf("Option search for %s failed: %v", ticker, err)
		}
		return
	}

	req := broker.OrderRequest{
		Action:   models.ActionSell,
		Ticker:   ticker,
		Expiry:   cand.Expiry,
		Right:    d.Kind.Right(),
		Strike:   cand.Strike,
		Price:    cand.Price,
		Quantity: d.Quantity,
	}
	callCtx, cancel := e.callCtx(ctx)
	id, err := e.broker.PlaceOrder(callCtx, req)
	cancel()
	if err != nil {
		e.logger.Printf("Order placement for %s failed: %v", ticker, err)
		return
	}

	wo := &models.WorkingOrder{
		ID:       id,
		Tag:      uuid.NewString(),
		Ticker:   ticker,
		Action:   models.ActionSell,
		Right:    req.Right,
		Expiry:   cand.Expiry,
		Strike:   cand.Strike,
		Price:    cand.Price,
		Quantity: d.Quantity,
	}
	e.manager.Book().Insert(wo)
	e.logger.Printf("Selling %s on %s: strike %.2f expiry %s for %.2f, order %d",
		req.Right, ticker, cand.Strike, cand.Expiry.Format("2006-01-02"), cand.Price, id)

	ev := storage.TradeEvent{
		Type:     storage.EventPlaced,
		OrderID:  id,
		Tag:      wo.Tag,
		Ticker:   ticker,
		Right:    wo.Right,
		Action:   wo.Action,
		Expiry:   wo.Expiry,
		Strike:   wo.Strike,
		Price:    wo.Price,
		Quantity: wo.Quantity,
	}
	if err := e.journal.Record(ev); err != nil {
		e.logger.Printf("Journal write failed for order %d: %v", id, err)
	}
}

// publishSnapshot copies the cycle's end state for concurrent readers.
func (e *Engine) publishSnapshot() {
	snap := Snapshot{
		Time:      time.Now(),
		Quotes:    make([]models.Quote, 0, len(e.quotes)),
		Positions: make([]models.Position, len(e.positions)),
	}
	for _, q := range e.quotes {
		snap.Quotes = append(snap.Quotes, q)
	}
	copy(snap.Positions, e.positions)
	for _, o := range e.manager.Book().All() {
		snap.Orders = append(snap.Orders, *o)
	}

	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
}

// Snapshot returns the most recently published cycle state.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}
