// Package strategy searches option chains for the contract that best matches
// a selling strategy's pricing and moneyness rules.
package strategy

import (
	"errors"
	"fmt"

	"github.com/ssperling5/IBBot/internal/models"
)

// Kind names a selling strategy. It decides both the contract right and how
// a strike is picked from the chain.
type Kind string

const (
	// KindPut sells cash-secured puts to enter a position.
	KindPut Kind = "put"
	// KindStrangleCall sells calls against held shares while still
	// accumulating toward the weight target.
	KindStrangleCall Kind = "strangle_call"
	// KindExitCall sells calls to unwind a full position near the sell
	// target.
	KindExitCall Kind = "exit_call"
)

// Right returns the option right this strategy trades.
func (k Kind) Right() models.Right {
	if k == KindStrangleCall || k == KindExitCall {
		return models.RightCall
	}
	return models.RightPut
}

// ErrNoStrike means the chain had no strike satisfying the strategy's
// comparator for this expiry.
var ErrNoStrike = errors.New("strategy: no suitable strike")

// ErrNotFound means no expiry in the scanned window produced an acceptable
// premium. It is a valid "no trade this cycle" outcome, not a failure.
var ErrNotFound = errors.New("strategy: no suitable option found")

// lowestAbove returns the smallest strike greater than x (or >= x when
// strict is false).
func lowestAbove(strikes []float64, x float64, strict bool) (float64, bool) {
	best, found := 0.0, false
	for _, s := range strikes {
		if s > x || (!strict && s >= x) {
			if !found || s < best {
				best, found = s, true
			}
		}
	}
	return best, found
}

// highestBelow returns the largest strike less than x (or <= x when strict
// is false).
func highestBelow(strikes []float64, x float64, strict bool) (float64, bool) {
	best, found := 0.0, false
	for _, s := range strikes {
		if s < x || (!strict && s <= x) {
			if !found || s > best {
				best, found = s, true
			}
		}
	}
	return best, found
}

// BestStrike picks exactly one strike from the chain for the given strategy.
//
//   - strangle_call: below cost basis sell the first strike above cost,
//     otherwise the first strike above the current price.
//   - exit_call: above the sell target go deep ITM (highest strike strictly
//     below price) to accelerate the exit, otherwise the lowest strike at or
//     above price.
//   - put: above the buy target stay OTM (highest strike at or below price),
//     otherwise the lowest strike strictly above price.
func BestStrike(price float64, strikes []float64, kind Kind,
	inst models.Instrument, stockPos *models.Position) (float64, error) {
	var (
		strike float64
		ok     bool
	)
	switch kind {
	case KindStrangleCall:
		if stockPos == nil {
			return 0, fmt.Errorf("strategy: strangle_call requires a stock position")
		}
		if price < stockPos.Cost {
			strike, ok = lowestAbove(strikes, stockPos.Cost, true)
		} else {
			strike, ok = lowestAbove(strikes, price, true)
		}
	case KindExitCall:
		if price > inst.TargetSell {
			strike, ok = highestBelow(strikes, price, true)
		} else {
			strike, ok = lowestAbove(strikes, price, false)
		}
	case KindPut:
		if price > inst.TargetBuy {
			strike, ok = highestBelow(strikes, price, false)
		} else {
			strike, ok = lowestAbove(strikes, price, true)
		}
	default:
		return 0, fmt.Errorf("strategy: unknown kind %q", kind)
	}
	if !ok {
		return 0, fmt.Errorf("%w for %s at price %.2f", ErrNoStrike, kind, price)
	}
	return strike, nil
}
