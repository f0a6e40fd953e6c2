// Package storage persists the bot's trade journal to disk.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ssperling5/IBBot/internal/models"
)

// EventType labels a journal entry.
type EventType string

const (
	// EventPlaced records a fresh order submission.
	EventPlaced EventType = "placed"
	// EventModified records a price concession applied to a working order.
	EventModified EventType = "modified"
	// EventResubmitted records the cancel-and-resubmit after a partial fill.
	EventResubmitted EventType = "resubmitted"
	// EventFilled records a complete fill.
	EventFilled EventType = "filled"
	// EventCancelled records a confirmed cancellation.
	EventCancelled EventType = "cancelled"
)

// TradeEvent is one line of the journal.
type TradeEvent struct {
	Time     time.Time          `json:"time"`
	Type     EventType          `json:"type"`
	OrderID  int64              `json:"order_id"`
	Tag      string             `json:"tag,omitempty"`
	Ticker   string             `json:"ticker"`
	Right    models.Right       `json:"right"`
	Action   models.OrderAction `json:"action"`
	Expiry   time.Time          `json:"expiry"`
	Strike   float64            `json:"strike"`
	Price    float64            `json:"price"`
	Quantity int                `json:"quantity"`
	Filled   int                `json:"filled,omitempty"`
}

// Statistics summarizes the journal for the dashboard.
type Statistics struct {
	OrdersPlaced     int     `json:"orders_placed"`
	OrdersModified   int     `json:"orders_modified"`
	OrdersFilled     int     `json:"orders_filled"`
	OrdersCancelled  int     `json:"orders_cancelled"`
	PartialResubmits int     `json:"partial_resubmits"`
	PremiumSold      float64 `json:"premium_sold"`
}

// Interface is the journal contract. Implementations must be safe for
// concurrent use: the engine writes while the dashboard reads.
type Interface interface {
	Record(ev TradeEvent) error
	Events() []TradeEvent
	GetStatistics() *Statistics
	Save() error
	Load() error
}

// JSONJournal is a file-backed journal with atomic saves.
type JSONJournal struct {
	mu       sync.RWMutex
	filepath string
	data     *journalData
}

type journalData struct {
	Events      []TradeEvent `json:"events"`
	Statistics  *Statistics  `json:"statistics"`
	LastUpdated time.Time    `json:"last_updated"`
}

// Ensure JSONJournal implements Interface.
var _ Interface = (*JSONJournal)(nil)

// NewJSONJournal opens (or creates) the journal at path.
func NewJSONJournal(path string) (*JSONJournal, error) {
	j := &JSONJournal{
		filepath: path,
		data:     &journalData{Statistics: &Statistics{}},
	}
	if _, err := os.Stat(path); err == nil {
		if err := j.Load(); err != nil {
			return nil, fmt.Errorf("loading journal: %w", err)
		}
	}
	return j, nil
}

// Record appends an event, updates statistics, and saves.
func (j *JSONJournal) Record(ev TradeEvent) error {
	j.mu.Lock()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	j.data.Events = append(j.data.Events, ev)
	st := j.data.Statistics
	switch ev.Type {
	case EventPlaced:
		st.OrdersPlaced++
	case EventModified:
		st.OrdersModified++
	case EventResubmitted:
		st.PartialResubmits++
	case EventFilled:
		st.OrdersFilled++
		if ev.Action == models.ActionSell {
			st.PremiumSold += ev.Price * float64(ev.Filled) * 100
		}
	case EventCancelled:
		st.OrdersCancelled++
	}
	j.mu.Unlock()

	return j.Save()
}

// Events returns a copy of the journal entries.
func (j *JSONJournal) Events() []TradeEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]TradeEvent, len(j.data.Events))
	copy(out, j.data.Events)
	return out
}

// GetStatistics returns a copy of the running statistics.
func (j *JSONJournal) GetStatistics() *Statistics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	st := *j.data.Statistics
	return &st
}

// Load reads the journal file.
func (j *JSONJournal) Load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.filepath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &j.data); err != nil {
		return err
	}
	if j.data.Statistics == nil {
		j.data.Statistics = &Statistics{}
	}
	return nil
}

// Save writes the journal atomically via a temp file rename.
func (j *JSONJournal) Save() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data.LastUpdated = time.Now()
	data, err := json.MarshalIndent(j.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := j.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, j.filepath)
}

// NopJournal discards events, for tests and journal-less runs.
type NopJournal struct{}

// Ensure NopJournal implements Interface.
var _ Interface = (*NopJournal)(nil)

// Record discards the event.
func (NopJournal) Record(TradeEvent) error { return nil }

// Events reports an empty journal.
func (NopJournal) Events() []TradeEvent { return nil }

// GetStatistics reports empty statistics.
func (NopJournal) GetStatistics() *Statistics { return &Statistics{} }

// Save is a no-op.
func (NopJournal) Save() error { return nil }

// Load is a no-op.
func (NopJournal) Load() error { return nil }
