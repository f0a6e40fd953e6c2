package strategy

import (
	"context"
	"log"
	"os"
	"sort"
	"time"

	"github.com/ssperling5/IBBot/internal/broker"
	"github.com/ssperling5/IBBot/internal/models"
)

// Premium acceptance tiers by days to expiry. A weekly must pay at least
// 0.5% of the share price, a bi-weekly 0.8%, anything longer 1.0%.
const (
	weeklyMaxDTE   = 4
	biweeklyMaxDTE = 11

	weeklyMinPremium   = 0.005
	biweeklyMinPremium = 0.008
	fartherMinPremium  = 0.010

	// A bi-weekly only displaces an already-accepted weekly when its
	// premium is disproportionate: shorter-dated theta decay wins ties.
	biweeklyOverrideRatio = 1.8
)

// Config holds selector tunables.
type Config struct {
	// ExpiryWindowDays bounds how far out expiries are considered.
	ExpiryWindowDays int
	// CallTimeout bounds each gateway call made during the search.
	CallTimeout time.Duration
}

// Selector searches the option chain for the best expiry/strike/price.
type Selector struct {
	broker broker.Broker
	logger *log.Logger
	cfg    Config
	now    func() time.Time
}

// NewSelector creates a chain searcher over the given gateway.
func NewSelector(b broker.Broker, logger *log.Logger, cfg Config) *Selector {
	if logger == nil {
		logger = log.New(os.Stderr, "strategy: ", log.LstdFlags)
	}
	if cfg.ExpiryWindowDays <= 0 {
		cfg.ExpiryWindowDays = 31
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Selector{broker: b, logger: logger, cfg: cfg, now: time.Now}
}

func (s *Selector) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

func (s *Selector) today() time.Time {
	return s.now().Truncate(24 * time.Hour)
}

func daysTo(today, expiry time.Time) int {
	return int(expiry.Truncate(24 * time.Hour).Sub(today).Hours() / 24)
}

// Select finds the expiry/strike/price to sell for the given strategy, or
// ErrNotFound when nothing in the scanned window pays enough premium.
//
// Expiries within the window are scanned in date order. Weeklies that clear
// their premium floor are held provisionally while the scan continues; a
// bi-weekly takes over only when the weekly tier produced nothing or when
// its premium beats the weekly by more than the override ratio. Past the
// bi-weekly tier the first expiry clearing 1% of the share price wins
// outright.
func (s *Selector) Select(ctx context.Context, ticker string, price float64, kind Kind,
	inst models.Instrument, stockPos *models.Position) (models.OptionCandidate, error) {
	callCtx, cancel := s.callCtx(ctx)
	expiries, err := s.broker.GetExpiries(callCtx, ticker)
	cancel()
	if err != nil {
		return models.OptionCandidate{}, err
	}

	today := s.today()
	window := s.cfg.ExpiryWindowDays
	inWindow := expiries[:0:0]
	for _, e := range expiries {
		if d := daysTo(today, e); d >= 0 && d <= window {
			inWindow = append(inWindow, e)
		}
	}
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })

	right := kind.Right()
	var best *models.OptionCandidate

	for _, expiry := range inWindow {
		callCtx, cancel := s.callCtx(ctx)
		strikes, err := s.broker.GetStrikes(callCtx, ticker, expiry)
		cancel()
		if err != nil {
			s.logger.Printf("Strike fetch for %s %s failed: %v, skipping expiry",
				ticker, expiry.Format("2006-01-02"), err)
			continue
		}

		strike, err := BestStrike(price, strikes, kind, inst, stockPos)
		if err != nil {
			s.logger.Printf("No usable strike for %s %s (%s): %v",
				ticker, expiry.Format("2006-01-02"), kind, err)
			continue
		}

		callCtx, cancel = s.callCtx(ctx)
		quote, err := s.broker.GetOptionQuote(callCtx, ticker, expiry, right, strike)
		cancel()
		if err != nil {
			s.logger.Printf("Option quote for %s %.2f%s %s failed: %v, skipping expiry",
				ticker, strike, right, expiry.Format("2006-01-02"), err)
			continue
		}
		if quote.IsEmpty() {
			// Stale data, possible problem with the data connection.
			s.logger.Printf("Empty quote for %s %.2f%s %s, skipping expiry",
				ticker, strike, right, expiry.Format("2006-01-02"))
			continue
		}
		offer, ok := quote.EffectivePrice()
		if !ok {
			continue
		}

		d := daysTo(today, expiry)
		cand := models.OptionCandidate{Expiry: expiry, Strike: strike, Price: offer}

		switch {
		case d <= weeklyMaxDTE:
			if offer >= weeklyMinPremium*price {
				// Provisional: keep scanning, a rich bi-weekly may
				// still override.
				best = &cand
			}
		case d <= biweeklyMaxDTE:
			if offer >= biweeklyMinPremium*price {
				if best == nil {
					return cand, nil
				}
				if offer > biweeklyOverrideRatio*best.Price {
					s.logger.Printf("Bi-weekly premium %.2f trumps weekly %.2f on %s",
						offer, best.Price, ticker)
					return cand, nil
				}
				// Rich enough to pass the floor but not to beat the
				// weekly; keep scanning.
			} else if best != nil {
				return *best, nil
			}
		default:
			if offer >= fartherMinPremium*price {
				return cand, nil
			}
		}
	}

	if best != nil {
		return *best, nil
	}
	return models.OptionCandidate{}, ErrNotFound
}
