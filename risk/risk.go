// Package risk implements the pure pre-trade checks the strategy runner
// applies before submitting a BUY intent, grounded on RiskRules in
// original_source/lib/strategy_runner.py. These checks are advisory: the
// execution engine re-checks buying power against the freshly loaded wallet
// in Engine.Submit (engine package), so risk.Gate is a cheap early filter
// rather than the sole line of defense. That re-check, the order insert and
// the balance reservation run as separate statements, not as one
// transaction.
package risk

import (
	"papertrader/domain"
	"papertrader/money"
)

const (
	// MaxPositionPct caps a single position at 20% of the wallet's
	// starting capital (R2, spec.md §4.6).
	MaxPositionPct = 0.20
	// MaxConcurrentPositions caps open positions per wallet (R1).
	MaxConcurrentPositions = 5
	// MinBuyingPowerPct reserves 10% of starting capital as cash (R3).
	MinBuyingPowerPct = 0.10
)

// Gate evaluates R1-R3 against a proposed order.
type Gate struct {
	MaxPositionPct         float64
	MaxConcurrentPositions int
	MinBuyingPowerPct      float64
}

// NewGate builds a Gate with the default thresholds. Config overrides are
// applied by the caller via the returned struct's fields.
func NewGate() *Gate {
	return &Gate{
		MaxPositionPct:         MaxPositionPct,
		MaxConcurrentPositions: MaxConcurrentPositions,
		MinBuyingPowerPct:      MinBuyingPowerPct,
	}
}

// Validate checks a proposed BUY of estimatedCost against the wallet's
// starting capital and current buying power, given how many positions are
// already open. It returns (true, "") when the order passes.
func (g *Gate) Validate(wallet domain.Wallet, estimatedCost money.Amount, currentPositions int) (bool, domain.ReasonCode) {
	if currentPositions >= g.MaxConcurrentPositions {
		return false, domain.ReasonMaxPositionsReached
	}

	maxPositionSize := wallet.InitialBalance.Pct(g.MaxPositionPct)
	if estimatedCost.GreaterThan(maxPositionSize) {
		return false, domain.ReasonPositionTooLarge
	}

	minBuyingPower := wallet.InitialBalance.Pct(g.MinBuyingPowerPct)
	remaining := wallet.BuyingPower().Sub(estimatedCost)
	if remaining.LessThan(minBuyingPower) {
		return false, domain.ReasonInsufficientBuyingPower
	}

	return true, ""
}
