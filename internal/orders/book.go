// Package orders holds the in-memory order book and the lifecycle manager
// that nurses working orders through fill, partial fill, price improvement,
// and cancellation.
package orders

import (
	"sort"

	"github.com/ssperling5/IBBot/internal/models"
)

// Book is the in-memory record of every order the engine considers working.
// It is owned and mutated by the single engine worker only; no locking.
type Book struct {
	orders map[int64]*models.WorkingOrder
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{orders: make(map[int64]*models.WorkingOrder)}
}

// Insert adds a working order, keyed by its broker order id.
func (b *Book) Insert(o *models.WorkingOrder) {
	b.orders[o.ID] = o
}

// Remove drops the order with the given id, if present.
func (b *Book) Remove(id int64) {
	delete(b.orders, id)
}

// Get returns the order with the given id, or nil.
func (b *Book) Get(id int64) *models.WorkingOrder {
	return b.orders[id]
}

// HasTicker reports whether any working order, put or call, references the
// ticker. The decision engine skips such symbols until the order resolves.
func (b *Book) HasTicker(ticker string) bool {
	for _, o := range b.orders {
		if o.Ticker == ticker {
			return true
		}
	}
	return false
}

// Len returns the number of working orders.
func (b *Book) Len() int {
	return len(b.orders)
}

// All returns the working orders sorted by id, so reconciliation walks the
// book in a deterministic order.
func (b *Book) All() []*models.WorkingOrder {
	out := make([]*models.WorkingOrder, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
