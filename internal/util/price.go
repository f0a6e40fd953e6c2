// Package util provides common utility functions for price arithmetic.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// TickDown lowers x by exactly one tick, keeping the result aligned to the
// tick grid so repeated concessions do not accumulate float drift.
func TickDown(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return RoundToTick(x-tick, tick)
}
