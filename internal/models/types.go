// Package models defines the fixed-shape records shared by the trading core.
package models

import (
	"fmt"
	"time"
)

// Right identifies an option contract right.
type Right string

const (
	// RightPut is a put option.
	RightPut Right = "P"
	// RightCall is a call option.
	RightCall Right = "C"
)

// Valid returns true if the Right is one of the defined constants.
func (r Right) Valid() bool {
	return r == RightPut || r == RightCall
}

// OrderAction identifies the side of an order.
type OrderAction string

const (
	// ActionBuy opens or closes a position by buying.
	ActionBuy OrderAction = "BUY"
	// ActionSell opens or closes a position by selling.
	ActionSell OrderAction = "SELL"
)

// Valid returns true if the OrderAction is one of the defined constants.
func (a OrderAction) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// OrderStatus is the venue-reported status of an order.
type OrderStatus string

const (
	// StatusPendingSubmit means the order has not been acknowledged yet.
	StatusPendingSubmit OrderStatus = "pending_submit"
	// StatusSubmitted means the order is working at the venue.
	StatusSubmitted OrderStatus = "submitted"
	// StatusFilled means the order executed in full.
	StatusFilled OrderStatus = "filled"
	// StatusCancelled means the order was cancelled at the venue.
	StatusCancelled OrderStatus = "cancelled"
)

// PositionType distinguishes stock from option holdings.
type PositionType string

const (
	// PositionStock is a plain share holding.
	PositionStock PositionType = "STK"
	// PositionOption is an option contract holding.
	PositionOption PositionType = "OPT"
)

// Instrument is one row of the configured basket. Immutable once loaded.
type Instrument struct {
	Ticker       string  `csv:"ticker"`
	TargetBuy    float64 `csv:"targetBuy"`
	TargetSell   float64 `csv:"targetSell"`
	WeightTarget float64 `csv:"weightTarget"`
}

// Validate checks an instrument row for values the engine cannot act on.
func (i Instrument) Validate() error {
	if i.Ticker == "" {
		return fmt.Errorf("instrument has empty ticker")
	}
	if i.TargetBuy <= 0 {
		return fmt.Errorf("instrument %s: targetBuy must be > 0, got %v", i.Ticker, i.TargetBuy)
	}
	if i.TargetSell <= 0 {
		return fmt.Errorf("instrument %s: targetSell must be > 0, got %v", i.Ticker, i.TargetSell)
	}
	if i.WeightTarget <= 0 {
		return fmt.Errorf("instrument %s: weightTarget must be > 0, got %v", i.Ticker, i.WeightTarget)
	}
	return nil
}

// Quote holds market data for a stock or an option contract. Any field may be
// absent when the venue has no data, so price fields are pointers.
type Quote struct {
	Ticker string
	Bid    *float64
	Ask    *float64
	Last   *float64
	Close  *float64
	Open   *float64
	Volume *int64
}

// IsEmpty reports whether the venue returned no data at all.
func (q Quote) IsEmpty() bool {
	return q.Bid == nil && q.Ask == nil && q.Last == nil &&
		q.Close == nil && q.Open == nil && q.Volume == nil
}

// EffectivePrice returns the tradeable price: last if present, else close.
// ok is false when neither is available.
func (q Quote) EffectivePrice() (price float64, ok bool) {
	if q.Last != nil {
		return *q.Last, true
	}
	if q.Close != nil {
		return *q.Close, true
	}
	return 0, false
}

// Float returns a pointer to v, for building quotes with optional fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building quotes with optional fields.
func Int(v int64) *int64 { return &v }

// Position is one holding reported by the brokerage. Positions are replaced
// wholesale each cycle, never merged.
type Position struct {
	Ticker   string
	Type     PositionType
	Quantity float64
	Cost     float64

	// Option fields, only meaningful when Type == PositionOption.
	Right  Right
	Expiry time.Time
	Strike float64
}

// OptionCandidate is the transient result of an option chain search.
type OptionCandidate struct {
	Expiry time.Time
	Strike float64
	Price  float64
}

// WorkingOrder is an order the engine considers live at the venue. Owned
// exclusively by the order book; destroyed when filled, cancelled, or
// confirmed absent from the broker's open-order set.
type WorkingOrder struct {
	ID       int64
	Tag      string
	Ticker   string
	Action   OrderAction
	Right    Right
	Expiry   time.Time
	Strike   float64
	Price    float64
	Quantity int

	// LoopCount counts reconciliation cycles since the last price
	// adjustment; ModCount counts price adjustments already applied.
	LoopCount int
	ModCount  int
}
