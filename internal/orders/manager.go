package orders

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ssperling5/IBBot/internal/broker"
	"github.com/ssperling5/IBBot/internal/models"
	"github.com/ssperling5/IBBot/internal/storage"
	"github.com/ssperling5/IBBot/internal/util"
)

// Config contains the tunables of the modify/cancel ladder.
type Config struct {
	// LoopMax is how many reconciliation cycles an order rests at a price
	// before it becomes eligible for a concession.
	LoopMax int
	// ModMax is how many price concessions an order gets before being
	// abandoned.
	ModMax int
	// PriceTick is the size of one concession.
	PriceTick float64
	// CallTimeout bounds each individual gateway call.
	CallTimeout time.Duration
}

// DefaultConfig is the default ladder configuration: two idle cycles between
// cuts, two one-cent cuts, then cancel.
var DefaultConfig = Config{
	LoopMax:     2,
	ModMax:      2,
	PriceTick:   0.01,
	CallTimeout: 5 * time.Second,
}

// StepResult reports what the modify/cancel state machine did to an order.
type StepResult int

const (
	// StepUnchanged means the order was left resting at its price.
	StepUnchanged StepResult = iota
	// StepModified means the order's limit price was cut by one tick.
	StepModified
	// StepCancelled means the order exhausted its improvement budget.
	StepCancelled
)

// Manager reconciles the order book against live broker state each cycle and
// drives the modify/cancel/resubmit state machine.
type Manager struct {
	broker  broker.Broker
	book    *Book
	journal storage.Interface
	logger  *log.Logger
	cfg     Config
}

// NewManager creates an order lifecycle manager around the given book.
func NewManager(b broker.Broker, book *Book, journal storage.Interface,
	logger *log.Logger, cfg ...Config) *Manager {
	c := DefaultConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.LoopMax < 0 {
		c.LoopMax = DefaultConfig.LoopMax
	}
	if c.ModMax < 0 {
		c.ModMax = DefaultConfig.ModMax
	}
	if c.PriceTick <= 0 {
		c.PriceTick = DefaultConfig.PriceTick
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultConfig.CallTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}
	if book == nil {
		book = NewBook()
	}
	if journal == nil {
		journal = storage.NopJournal{}
	}
	return &Manager{broker: b, book: book, journal: journal, logger: logger, cfg: c}
}

// Book exposes the order book this manager owns.
func (m *Manager) Book() *Book {
	return m.book
}

func (m *Manager) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.CallTimeout)
}

// Reconcile synchronizes the book with the venue's open-order set and steps
// every surviving order through the lifecycle state machine.
//
// A failed or timed-out open-order query yields no new information, so the
// book is left untouched for this cycle rather than risk dropping orders
// that are still live.
func (m *Manager) Reconcile(ctx context.Context) {
	callCtx, cancel := m.callCtx(ctx)
	open, err := m.broker.GetOpenOrderIDs(callCtx)
	cancel()
	if err != nil {
		if broker.IsTimeout(err) {
			m.logger.Printf("Open order query timed out; keeping book unchanged this cycle")
		} else {
			m.logger.Printf("Open order query failed: %v; keeping book unchanged this cycle", err)
		}
		return
	}

	// Step 1: drop orders the venue no longer reports as open.
	for _, o := range m.book.All() {
		if _, stillOpen := open[o.ID]; !stillOpen {
			m.logger.Printf("Order %d (%s %s %.2f) no longer open at venue, dropping from book",
				o.ID, o.Ticker, o.Right, o.Strike)
			m.book.Remove(o.ID)
		}
	}

	// Step 2: fetch status for each survivor and act on it.
	for _, o := range m.book.All() {
		callCtx, cancel := m.callCtx(ctx)
		st, err := m.broker.GetOrderStatus(callCtx, o.ID)
		cancel()
		if err != nil {
			if broker.IsTimeout(err) {
				m.logger.Printf("Status query for order %d timed out, skipping this cycle", o.ID)
			} else {
				m.logger.Printf("Status query for order %d failed: %v", o.ID, err)
			}
			continue
		}
		if st == nil {
			// Already closed at the venue; the open-order pass will
			// resolve it next reconciliation.
			m.logger.Printf("Order %d returned no status, must be closed already", o.ID)
			continue
		}

		switch {
		case st.FilledQuantity > 0 && st.FilledQuantity < o.Quantity:
			m.handlePartialFill(ctx, o)
		case st.Status == models.StatusSubmitted:
			m.StepOrder(ctx, o)
		case st.Status == models.StatusFilled:
			// Filled between the open-order query and now; the
			// position cache reflects it next refresh.
			m.logger.Printf("Order %d filled: %d %s %s %.2f @ %.2f",
				o.ID, o.Quantity, o.Ticker, o.Right, o.Strike, o.Price)
			m.recordEvent(storage.EventFilled, o, o.Quantity)
			m.book.Remove(o.ID)
		default:
			m.logger.Printf("Order %d not yet acknowledged by venue (%s), doing nothing", o.ID, st.Status)
		}
	}
}

// StepOrder advances one working order through the fixed price-concession
// ladder: rest for LoopMax cycles, cut the price one tick up to ModMax
// times, then cancel.
func (m *Manager) StepOrder(ctx context.Context, o *models.WorkingOrder) StepResult {
	if o.LoopCount < m.cfg.LoopMax {
		o.LoopCount++
		return StepUnchanged
	}

	if o.ModCount < m.cfg.ModMax {
		newPrice := util.TickDown(o.Price, m.cfg.PriceTick)
		req := broker.OrderRequest{
			OrderID:  o.ID, // same id: the venue amends price in place
			Action:   o.Action,
			Ticker:   o.Ticker,
			Expiry:   o.Expiry,
			Right:    o.Right,
			Strike:   o.Strike,
			Price:    newPrice,
			Quantity: o.Quantity,
		}
		callCtx, cancel := m.callCtx(ctx)
		_, err := m.broker.PlaceOrder(callCtx, req)
		cancel()
		if err != nil {
			// Leave the counters alone so the concession is retried
			// next cycle instead of silently skipped.
			m.logger.Printf("Price modification for order %d failed: %v", o.ID, err)
			return StepUnchanged
		}
		m.logger.Printf("Order %d price cut %.2f -> %.2f (mod %d/%d)",
			o.ID, o.Price, newPrice, o.ModCount+1, m.cfg.ModMax)
		o.Price = newPrice
		o.LoopCount = 0
		o.ModCount++
		m.recordEvent(storage.EventModified, o, 0)
		return StepModified
	}

	// Improvement budget exhausted.
	callCtx, cancel := m.callCtx(ctx)
	res, err := m.broker.CancelOrder(callCtx, o.ID)
	cancel()
	if err != nil {
		m.logger.Printf("Cancel of exhausted order %d failed: %v; retrying next cycle", o.ID, err)
		return StepUnchanged
	}
	if !res.Confirmed {
		m.logger.Printf("Cancel of exhausted order %d not confirmed (filled %d), dropping from book anyway",
			o.ID, res.FilledQuantity)
	} else {
		m.logger.Printf("Order %d cancelled after exhausting its improvement budget", o.ID)
	}
	m.recordEvent(storage.EventCancelled, o, res.FilledQuantity)
	m.book.Remove(o.ID)
	return StepCancelled
}

// handlePartialFill cancels a partially filled order and resubmits the
// remainder as a fresh order with reset counters. Modifying a partially
// filled order has unknown venue semantics, so cancel-and-resubmit is the
// only path whose outcome is certain.
func (m *Manager) handlePartialFill(ctx context.Context, o *models.WorkingOrder) {
	callCtx, cancel := m.callCtx(ctx)
	res, err := m.broker.CancelOrder(callCtx, o.ID)
	cancel()
	if err != nil {
		m.logger.Printf("Cancel of partially filled order %d failed: %v; leaving book unchanged", o.ID, err)
		return
	}
	if !res.Confirmed {
		// The true post-cancel fill state is unknown. Resubmitting here
		// could double our exposure, so leave the book unchanged and
		// re-evaluate next cycle.
		if res.FilledQuantity == o.Quantity {
			m.logger.Printf("Order %d was filled completely before cancellation", o.ID)
		} else {
			m.logger.Printf("Order %d cancel unconfirmed with partial fill %d/%d; leaving book unchanged",
				o.ID, res.FilledQuantity, o.Quantity)
		}
		return
	}

	remaining := o.Quantity - res.FilledQuantity
	if remaining <= 0 {
		m.logger.Printf("Order %d had no remainder after cancel (filled %d)", o.ID, res.FilledQuantity)
		m.recordEvent(storage.EventFilled, o, res.FilledQuantity)
		m.book.Remove(o.ID)
		return
	}

	req := broker.OrderRequest{
		Action:   o.Action,
		Ticker:   o.Ticker,
		Expiry:   o.Expiry,
		Right:    o.Right,
		Strike:   o.Strike,
		Price:    o.Price,
		Quantity: remaining,
	}
	callCtx, cancel = m.callCtx(ctx)
	newID, err := m.broker.PlaceOrder(callCtx, req)
	cancel()
	if err != nil {
		// The original is cancelled at the venue, so the stale entry
		// falls out of the book on the next open-order pass.
		m.logger.Printf("Resubmission after partial fill of order %d failed: %v", o.ID, err)
		return
	}

	replacement := &models.WorkingOrder{
		ID:       newID,
		Tag:      o.Tag,
		Ticker:   o.Ticker,
		Action:   o.Action,
		Right:    o.Right,
		Expiry:   o.Expiry,
		Strike:   o.Strike,
		Price:    o.Price,
		Quantity: remaining,
	}
	m.book.Remove(o.ID)
	m.book.Insert(replacement)
	m.logger.Printf("Order %d partially filled (%d/%d); remainder resubmitted as order %d",
		o.ID, res.FilledQuantity, o.Quantity, newID)
	m.recordEvent(storage.EventResubmitted, replacement, res.FilledQuantity)
}

// CancelOrphans cancels venue orders the book does not know about. Used at
// startup when the operator wants a clean slate instead of adopting orders
// left over from a previous run.
func (m *Manager) CancelOrphans(ctx context.Context) {
	callCtx, cancel := m.callCtx(ctx)
	open, err := m.broker.GetOpenOrderIDs(callCtx)
	cancel()
	if err != nil {
		m.logger.Printf("Orphan sweep: open order query failed: %v", err)
		return
	}
	for id := range open {
		if m.book.Get(id) != nil {
			continue
		}
		callCtx, cancel := m.callCtx(ctx)
		res, err := m.broker.CancelOrder(callCtx, id)
		cancel()
		if err != nil {
			m.logger.Printf("Orphan sweep: cancel of order %d failed: %v", id, err)
			continue
		}
		m.logger.Printf("Orphan sweep: cancelled order %d (confirmed=%t, filled %d)",
			id, res.Confirmed, res.FilledQuantity)
	}
}

func (m *Manager) recordEvent(t storage.EventType, o *models.WorkingOrder, filled int) {
	ev := storage.TradeEvent{
		Type:     t,
		OrderID:  o.ID,
		Tag:      o.Tag,
		Ticker:   o.Ticker,
		Right:    o.Right,
		Action:   o.Action,
		Expiry:   o.Expiry,
		Strike:   o.Strike,
		Price:    o.Price,
		Quantity: o.Quantity,
		Filled:   filled,
	}
	if err := m.journal.Record(ev); err != nil {
		m.logger.Printf("Journal write failed for order %d: %v", o.ID, err)
	}
}
