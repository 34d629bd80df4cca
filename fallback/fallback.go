// Package fallback produces safe synthetic order intents when the
// upstream signal source is starved, grounded on
// original_source/lib/fallback_strategy.py and fallback_asx.py.
package fallback

import (
	"hash/fnv"
	"time"

	"papertrader/domain"
	"papertrader/money"
)

// Policy is a per-venue-class fallback strategy (spec.md §9's
// "FallbackPolicy variants: US daily, ASX proof-of-life, none").
type Policy interface {
	// ShouldActivate reports whether noSignalCycles has crossed this
	// venue's starvation threshold.
	ShouldActivate(noSignalCycles int) bool

	// Generate produces a fallback order intent for wallet, given its
	// already-held tickers. Returns ok=false if no safe intent can be
	// produced (e.g. every pool ticker already held).
	Generate(wallet domain.Wallet, heldTickers map[string]bool) (domain.OrderIntent, bool)
}

// NonePolicy never activates, for venues with no fallback defined
// (spec.md §9's "none" variant).
type NonePolicy struct{}

func (NonePolicy) ShouldActivate(int) bool { return false }
func (NonePolicy) Generate(domain.Wallet, map[string]bool) (domain.OrderIntent, bool) {
	return domain.OrderIntent{}, false
}

// usTickerPool is a small per-capital-tier pool so different wallets
// don't all pile into a single name, supplementing the original's
// single-ticker "AAPL only" proof-of-life with the richer pool
// spec.md §4.6 calls for ("preferred ticker pool, small fixed table").
// Prices are conservative estimates, shared with market.fallbackPrices
// in spirit (kept separate since this package must not import market).
var usTickerPool = map[string][]string{
	"large":  {"AAPL", "MSFT", "GOOGL", "NVDA"},
	"medium": {"JPM", "JNJ", "PG", "V"},
	"small":  {"KO", "XLF", "XLV"},
}

var usEstimatedPrices = map[string]float64{
	"AAPL": 180, "MSFT": 410, "GOOGL": 140, "NVDA": 480,
	"JPM": 200, "JNJ": 150, "PG": 170, "V": 270,
	"KO": 63, "XLF": 42, "XLV": 145,
}

const usProofQty = 1

// USPolicy is the US daily fallback: pick the first pool ticker (by the
// wallet's capital tier) not already held, buy a minimal quantity at
// MARKET (original_source/lib/fallback_strategy.py).
type USPolicy struct {
	ThresholdCycles int
}

func (p USPolicy) ShouldActivate(noSignalCycles int) bool {
	return noSignalCycles >= p.ThresholdCycles
}

func (p USPolicy) Generate(wallet domain.Wallet, heldTickers map[string]bool) (domain.OrderIntent, bool) {
	pool := usTickerPool[wallet.CapitalTier]
	if pool == nil {
		pool = usTickerPool["large"]
	}
	for _, ticker := range pool {
		if heldTickers[ticker] {
			continue
		}
		return domain.OrderIntent{
			WalletID: wallet.ID,
			Ticker:   ticker,
			Venue:    domain.VenueNASDAQ,
			Side:     domain.Buy,
			Type:     domain.Market,
			Quantity: usProofQty,
		}, true
	}
	return domain.OrderIntent{}, false
}

// asxTickerPool is the literal blue-chip ASX pool from
// original_source/lib/fallback_asx.py::ASX_TICKERS.
var asxTickerPool = []string{
	"BHP.AX", "CBA.AX", "NAB.AX", "WBC.AX", "ANZ.AX",
	"WES.AX", "WOW.AX", "RIO.AX", "CSL.AX", "FMG.AX",
}

var asxEstimatedPrices = map[string]float64{
	"BHP.AX": 42.00, "CBA.AX": 130.00, "NAB.AX": 35.00, "WBC.AX": 28.00,
	"ANZ.AX": 29.00, "WES.AX": 65.00, "WOW.AX": 35.00, "RIO.AX": 120.00,
	"CSL.AX": 280.00, "FMG.AX": 18.00,
}

const asxDefaultEstimatedPrice = 50.00

var minParcelAUD = money.New(500.00)

// ASXPolicy is the ASX proof-of-life fallback: one LIMIT order, deterministic
// wallet-hash ticker selection, enforcing the $500 AUD minimum marketable
// parcel (original_source/lib/fallback_asx.py::ASXFallbackStrategy).
type ASXPolicy struct {
	ThresholdCycles int
}

func (p ASXPolicy) ShouldActivate(noSignalCycles int) bool {
	return noSignalCycles >= p.ThresholdCycles
}

// pickTicker selects a pool ticker deterministically from the wallet name
// using FNV-1a, replacing Python's salted built-in hash() (which the
// original never relied on for cross-run stability — this supplements
// that latent bug rather than reproducing it, per spec.md §4.6).
func pickTicker(walletName string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(walletName))
	idx := int(h.Sum32()) % len(asxTickerPool)
	if idx < 0 {
		idx += len(asxTickerPool)
	}
	return asxTickerPool[idx]
}

func estimatedPrice(ticker string) money.Amount {
	if p, ok := asxEstimatedPrices[ticker]; ok {
		return money.New(p)
	}
	return money.New(asxDefaultEstimatedPrice)
}

func (p ASXPolicy) Generate(wallet domain.Wallet, heldTickers map[string]bool) (domain.OrderIntent, bool) {
	if wallet.FallbackActivated {
		// One trade per wallet lifetime, per "SAFETY: only 1 trade" in
		// the Python original.
		return domain.OrderIntent{}, false
	}

	ticker := pickTicker(wallet.Name)
	price := estimatedPrice(ticker)

	quantity := minParcelAUD.Div(price).ToIntShares() + 1
	if !validateParcel(quantity, price) {
		return domain.OrderIntent{}, false
	}

	return domain.OrderIntent{
		WalletID:   wallet.ID,
		Ticker:     ticker,
		Venue:      domain.VenueASX,
		Side:       domain.Buy,
		Type:       domain.Limit,
		Quantity:   quantity,
		LimitPrice: &price,
	}, true
}

// validateParcel enforces the $500 AUD minimum marketable parcel
// (original_source/lib/fallback_asx.py::validate_parcel).
func validateParcel(quantity int64, price money.Amount) bool {
	parcelValue := price.MulInt(quantity)
	return parcelValue.GreaterOrEqual(minParcelAUD)
}

// AlreadyTradedToday reports whether wallet has a trade filled since the
// start of the current UTC day, the "already traded today" guard from
// execute_strategy_for_wallet's fallback branch.
func AlreadyTradedToday(trades []domain.Trade, now time.Time) bool {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, t := range trades {
		if !t.FilledAt.Before(startOfDay) {
			return true
		}
	}
	return false
}
