package fallback

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"papertrader/domain"
	"papertrader/money"
)

func TestNonePolicy_NeverActivates(t *testing.T) {
	p := NonePolicy{}
	assert.False(t, p.ShouldActivate(1000))
	_, ok := p.Generate(domain.Wallet{}, nil)
	assert.False(t, ok)
}

func TestUSPolicy_ShouldActivate(t *testing.T) {
	p := USPolicy{ThresholdCycles: 1}
	assert.False(t, p.ShouldActivate(0))
	assert.True(t, p.ShouldActivate(1))
	assert.True(t, p.ShouldActivate(5))
}

func TestUSPolicy_Generate_PicksFirstUnheldPoolTicker(t *testing.T) {
	p := USPolicy{ThresholdCycles: 1}
	wallet := domain.Wallet{ID: uuid.New(), CapitalTier: "large"}
	intent, ok := p.Generate(wallet, map[string]bool{"AAPL": true})
	assert.True(t, ok)
	assert.Equal(t, "MSFT", intent.Ticker)
	assert.Equal(t, domain.Market, intent.Type)
	assert.Equal(t, int64(usProofQty), intent.Quantity)
}

func TestUSPolicy_Generate_UnknownTierFallsBackToLarge(t *testing.T) {
	p := USPolicy{ThresholdCycles: 1}
	wallet := domain.Wallet{ID: uuid.New(), CapitalTier: "unknown"}
	intent, ok := p.Generate(wallet, nil)
	assert.True(t, ok)
	assert.Equal(t, "AAPL", intent.Ticker)
}

func TestUSPolicy_Generate_NoSafeTickerWhenAllHeld(t *testing.T) {
	p := USPolicy{ThresholdCycles: 1}
	wallet := domain.Wallet{ID: uuid.New(), CapitalTier: "small"}
	held := map[string]bool{"KO": true, "XLF": true, "XLV": true}
	_, ok := p.Generate(wallet, held)
	assert.False(t, ok)
}

func TestASXPolicy_ShouldActivate(t *testing.T) {
	p := ASXPolicy{ThresholdCycles: 3}
	assert.False(t, p.ShouldActivate(2))
	assert.True(t, p.ShouldActivate(3))
}

func TestASXPolicy_Generate_Deterministic(t *testing.T) {
	p := ASXPolicy{ThresholdCycles: 3}
	wallet := domain.Wallet{ID: uuid.New(), Name: "ASX-Wallet-Alpha"}

	first, ok1 := p.Generate(wallet, nil)
	second, ok2 := p.Generate(wallet, nil)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, first.Ticker, second.Ticker)
	assert.Equal(t, domain.Limit, first.Type)
	assert.Equal(t, domain.VenueASX, first.Venue)
	assert.NotNil(t, first.LimitPrice)
}

func TestASXPolicy_Generate_MeetsMinimumParcel(t *testing.T) {
	p := ASXPolicy{ThresholdCycles: 3}
	wallet := domain.Wallet{ID: uuid.New(), Name: "ASX-Wallet-Beta"}
	intent, ok := p.Generate(wallet, nil)
	assert.True(t, ok)
	parcelValue := intent.LimitPrice.MulInt(intent.Quantity)
	assert.True(t, parcelValue.GreaterOrEqual(money.New(500.00)))
}

func TestASXPolicy_Generate_RefusesSecondLifetimeTrade(t *testing.T) {
	p := ASXPolicy{ThresholdCycles: 3}
	wallet := domain.Wallet{ID: uuid.New(), Name: "ASX-Wallet-Gamma", FallbackActivated: true}
	_, ok := p.Generate(wallet, nil)
	assert.False(t, ok)
}

func TestAlreadyTradedToday(t *testing.T) {
	now := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)

	tradedToday := []domain.Trade{{FilledAt: time.Date(2026, 3, 3, 1, 0, 0, 0, time.UTC)}}
	assert.True(t, AlreadyTradedToday(tradedToday, now))

	tradedYesterday := []domain.Trade{{FilledAt: time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)}}
	assert.False(t, AlreadyTradedToday(tradedYesterday, now))

	assert.False(t, AlreadyTradedToday(nil, now))
}
