// Package engine drives the trade cycle: it refreshes market state, recon-
// ciles the order book, and decides per symbol whether a new option should
// be sold.
package engine

import (
	"errors"
	"math"

	"github.com/ssperling5/IBBot/internal/models"
	"github.com/ssperling5/IBBot/internal/strategy"
)

// ErrNoQuote means the symbol's quote carried neither a last nor a close
// price, so no decision can be made this cycle.
var ErrNoQuote = errors.New("engine: quote has no usable price")

// Decision is one selling action the engine wants to take for a symbol. An
// empty decision slice means no action.
type Decision struct {
	Kind     strategy.Kind
	Quantity int
}

// sharesPerContract is the equity option multiplier.
const sharesPerContract = 100

// TargetQuantity converts a notional weight target into a per-trade contract
// count. Positions up to 300 shares are handled one contract at a time;
// larger targets are worked in thirds, rounded half-to-even so a clean
// 600-share target stays at two contracts.
func TargetQuantity(weightTarget float64) int {
	if weightTarget <= 300 {
		return 1
	}
	return int(math.RoundToEven(weightTarget/300 + 0.5))
}

// Decide applies the tiered decision rules for one symbol. First match wins,
// except that strangle calls and puts may both fire while a position is
// still below its weight target, since they trade different rights.
func Decide(inst models.Instrument, stockPos *models.Position, optPositions []models.Position,
	quote models.Quote, buyThreshold, sellThreshold float64) ([]Decision, error) {
	price, ok := quote.EffectivePrice()
	if !ok {
		return nil, ErrNoQuote
	}

	buyDiff := (price - inst.TargetBuy) / inst.TargetBuy
	sellDiff := (inst.TargetSell - price) / inst.TargetSell

	var (
		putExposure, callExposure float64
		hasPuts, hasCalls         bool
	)
	for _, p := range optPositions {
		switch p.Right {
		case models.RightPut:
			putExposure += p.Quantity
			hasPuts = true
		case models.RightCall:
			callExposure += p.Quantity
			hasCalls = true
		}
	}

	targetQuantity := TargetQuantity(inst.WeightTarget)

	// Rule 1: no stock held. Sell puts when near the buy target and not
	// already short puts.
	if stockPos == nil {
		if buyDiff < buyThreshold && putExposure == 0 {
			return []Decision{{Kind: strategy.KindPut, Quantity: targetQuantity}}, nil
		}
		return nil, nil
	}

	held := stockPos.Quantity

	// Rule 2: accumulating. Sell calls on everything held, and puts for
	// the remaining distance to the weight target; both rights may fire
	// in the same cycle.
	if held < inst.WeightTarget {
		var decisions []Decision
		if !hasCalls {
			if qty := int(held / sharesPerContract); qty > 0 {
				decisions = append(decisions, Decision{Kind: strategy.KindStrangleCall, Quantity: qty})
			}
		}
		if !hasPuts {
			remaining := (inst.WeightTarget - held) / sharesPerContract
			qty := int(math.Min(remaining, float64(targetQuantity)))
			if qty > 0 {
				decisions = append(decisions, Decision{Kind: strategy.KindPut, Quantity: qty})
			}
		}
		return decisions, nil
	}

	// Rule 3: at or above target. Near the sell target, sell exit calls
	// if not already short calls.
	if callExposure == 0 && sellDiff < sellThreshold {
		qty := int(math.Min(held/sharesPerContract, float64(targetQuantity)))
		if qty > 0 {
			return []Decision{{Kind: strategy.KindExitCall, Quantity: qty}}, nil
		}
	}

	return nil, nil
}
