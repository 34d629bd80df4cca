package runner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"papertrader/domain"
	"papertrader/engine"
	"papertrader/fallback"
	"papertrader/money"
	"papertrader/risk"
	"papertrader/session"
	"papertrader/signal"
	"papertrader/store"
)

// fakeProvider serves fixed quotes from a map, with no network calls.
type fakeProvider struct {
	quotes map[string]domain.Quote
}

func (f *fakeProvider) GetQuote(_ context.Context, ticker string, venue domain.Venue) (*domain.Quote, error) {
	q, ok := f.quotes[ticker]
	if !ok {
		return nil, nil
	}
	q.Venue = venue
	return &q, nil
}

func bidAsk(price, bid, ask float64) domain.Quote {
	b, a := money.New(bid), money.New(ask)
	return domain.Quote{Price: money.New(price), Bid: &b, Ask: &a}
}

// alwaysOpen and alwaysClosed are fixed-result session gates, avoiding any
// dependency on wall-clock trading hours in these tests.
func alwaysOpen() *session.Gate {
	return session.NewGate(func() time.Time {
		// 2026-03-03 is a Tuesday; 15:00 UTC is inside the NYSE window.
		return time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)
	})
}

func alwaysClosed() *session.Gate {
	return session.NewGate(func() time.Time {
		return time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC) // Saturday
	})
}

type testHarness struct {
	store    *store.Store
	engine   *engine.Engine
	provider *fakeProvider
	gdb      *gorm.DB
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.Exec(`CREATE TABLE instruments (
		ticker TEXT, score REAL, price TEXT, regime TEXT,
		confidence REAL, market TEXT, timestamp DATETIME
	)`).Error)

	st, err := store.NewFromGorm(gdb)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider := &fakeProvider{quotes: map[string]domain.Quote{}}
	eng := engine.New(st, provider, money.New(1.00), false)
	return &testHarness{store: st, engine: eng, provider: provider, gdb: gdb}
}

func (h *testHarness) newWallet(t *testing.T, class domain.VenueClass, balance money.Amount) domain.Wallet {
	t.Helper()
	w := domain.Wallet{
		Name: "Wallet-" + time.Now().Format("150405.000000000"), VenueClass: class,
		InitialBalance: balance, CurrentBalance: balance, CapitalTier: "large",
	}
	require.NoError(t, h.store.Ledger().CreateWallet(&w))
	return w
}

func (h *testHarness) insertInstrument(t *testing.T, ticker string, score float64, price string, market domain.VenueClass) {
	t.Helper()
	require.NoError(t, h.gdb.Exec(
		`INSERT INTO instruments (ticker, score, price, regime, confidence, market, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ticker, score, price, "TRENDING", 0.8, string(market), time.Now().UTC(),
	).Error)
}

func newTestRunner(h *testHarness, gate *session.Gate, policy fallback.Policy) *Runner {
	reader := signal.NewReaderFromGorm(h.gdb, 70, 5)
	return New(Config{
		Class:   domain.ClassUS,
		Store:   h.store,
		Engine:  h.engine,
		Gate:    gate,
		Risk:    risk.NewGate(),
		Signals: reader,
		Policy:  policy,
		// 20% of buying power keeps a single-signal buy inside the default
		// R2 cap; equal weight would size one signal at the whole wallet.
		Sizing: PercentBuyingPower,
	})
}

func TestExecuteForWallet_RejectsWhenMarketClosed(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	r := newTestRunner(h, alwaysClosed(), fallback.NonePolicy{})

	result := r.ExecuteForWallet(context.Background(), w.ID)
	assert.Equal(t, domain.ReasonMarketClosed, result.Error)
}

func TestExecuteForWallet_RejectsUnknownWallet(t *testing.T) {
	h := newHarness(t)
	r := newTestRunner(h, alwaysOpen(), fallback.NonePolicy{})

	result := r.ExecuteForWallet(context.Background(), uuid.New())
	assert.Equal(t, domain.ReasonWalletNotFound, result.Error)
}

func TestExecuteForWallet_SubmitsOrderForTopSignal(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	h.insertInstrument(t, "AAPL", 90, "150.00", domain.ClassUS)
	h.provider.quotes["AAPL"] = bidAsk(150, 149.90, 150.10)

	r := newTestRunner(h, alwaysOpen(), fallback.NonePolicy{})
	result := r.ExecuteForWallet(context.Background(), w.ID)

	assert.Equal(t, domain.ReasonCode(""), result.Error)
	assert.Equal(t, 1, result.SignalsProcessed)
	assert.Equal(t, 1, result.OrdersSubmitted)
	assert.Equal(t, 0, result.OrdersRejected)

	positions, err := h.store.Ledger().GetOpenPositions(w.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Ticker)
}

// TestExecuteForWallet_RefreshesPositionCountWithinCycle covers the R1
// max-concurrent-positions check being re-evaluated after every accepted
// submission within a single cycle, not just once before the loop: with
// MaxConcurrentPositions=1 and two distinct signals in the same cycle,
// only the first should be accepted.
func TestExecuteForWallet_RefreshesPositionCountWithinCycle(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(100000))
	h.provider.quotes["AAPL"] = bidAsk(150, 149.90, 150.10)
	h.provider.quotes["MSFT"] = bidAsk(300, 299.90, 300.10)
	h.insertInstrument(t, "AAPL", 95, "150.00", domain.ClassUS)
	h.insertInstrument(t, "MSFT", 90, "300.00", domain.ClassUS)

	reader := signal.NewReaderFromGorm(h.gdb, 70, 5)
	r := New(Config{
		Class:   domain.ClassUS,
		Store:   h.store,
		Engine:  h.engine,
		Gate:    alwaysOpen(),
		Risk:    &risk.Gate{MaxPositionPct: 1.0, MaxConcurrentPositions: 1, MinBuyingPowerPct: 0},
		Signals: reader,
		Policy:  fallback.NonePolicy{},
		Sizing:  EqualWeight,
	})

	result := r.ExecuteForWallet(context.Background(), w.ID)

	assert.Equal(t, 2, result.SignalsProcessed)
	assert.Equal(t, 1, result.OrdersSubmitted)
	assert.Equal(t, 1, result.OrdersRejected)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, domain.ReasonMaxPositionsReached, result.Rejections[0].Reason)

	positions, err := h.store.Ledger().GetOpenPositions(w.ID)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestExecuteForWallet_SkipsAlreadyHeldTicker(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	h.provider.quotes["AAPL"] = bidAsk(150, 149.90, 150.10)
	h.insertInstrument(t, "AAPL", 90, "150.00", domain.ClassUS)

	r := newTestRunner(h, alwaysOpen(), fallback.NonePolicy{})
	first := r.ExecuteForWallet(context.Background(), w.ID)
	require.Equal(t, 1, first.OrdersSubmitted)

	second := r.ExecuteForWallet(context.Background(), w.ID)
	assert.Equal(t, 0, second.OrdersSubmitted)
	assert.Equal(t, 1, second.OrdersRejected)
	require.Len(t, second.Rejections, 1)
	assert.Equal(t, domain.ReasonDuplicatePosition, second.Rejections[0].Reason)
}

func TestExecuteForWallet_NoSignalsWithoutFallbackPolicy(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	r := newTestRunner(h, alwaysOpen(), fallback.NonePolicy{})

	result := r.ExecuteForWallet(context.Background(), w.ID)
	assert.Equal(t, domain.ReasonNoSignals, result.Error)
	assert.False(t, result.FallbackDaily)
}

func TestExecuteForWallet_ActivatesFallbackWhenStarved(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	// The "large" tier pool starts with AAPL, the ticker the policy picks.
	h.provider.quotes["AAPL"] = bidAsk(180, 179.82, 180.18)

	policy := fallback.USPolicy{ThresholdCycles: 1}
	r := newTestRunner(h, alwaysOpen(), policy)

	result := r.ExecuteForWallet(context.Background(), w.ID)
	assert.True(t, result.FallbackDaily)
	assert.Equal(t, 1, result.OrdersSubmitted)

	journals, err := h.store.Journal().ListForWallet(w.ID)
	require.NoError(t, err)
	require.Len(t, journals, 1)
	assert.Equal(t, domain.ModeFallback, journals[0].Mode)
	assert.Equal(t, domain.JournalSubmitted, journals[0].Status)
}

func TestExecuteForWallet_FallbackSkippedWhenAlreadyTradedToday(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	h.provider.quotes["MSFT"] = bidAsk(410, 409.90, 410.10)

	trade := domain.Trade{WalletID: w.ID, Ticker: "MSFT", Venue: domain.VenueNASDAQ,
		Side: domain.Buy, Quantity: 1, FillPrice: money.New(410), Commission: money.New(1),
		GrossAmount: money.New(410), NetAmount: money.New(411), QuoteMid: money.New(410),
		FilledAt: time.Now().UTC()}
	require.NoError(t, h.store.Ledger().CreateTrade(&trade))

	policy := fallback.USPolicy{ThresholdCycles: 1}
	r := newTestRunner(h, alwaysOpen(), policy)

	result := r.ExecuteForWallet(context.Background(), w.ID)
	assert.Equal(t, domain.ReasonAlreadyTradedToday, result.Error)
	assert.False(t, result.FallbackDaily)
}

func TestExecuteForWallet_ResetsStarvationOnceSignalsReturn(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	policy := fallback.USPolicy{ThresholdCycles: 3}
	r := newTestRunner(h, alwaysOpen(), policy)

	// Two starved cycles, then signals resume: the counter must reset so a
	// later starvation run starts back at cycle 1, not cycle 3.
	r.ExecuteForWallet(context.Background(), w.ID)
	// The counter ticks at most once per wall-clock minute; step the last
	// check back a minute so the second starved cycle counts.
	past := time.Now().Add(-time.Minute)
	r.lastSignalCheckTime = &past
	r.ExecuteForWallet(context.Background(), w.ID)
	assert.Equal(t, 2, r.noSignalCycles)

	h.insertInstrument(t, "AAPL", 90, "150.00", domain.ClassUS)
	h.provider.quotes["AAPL"] = bidAsk(150, 149.90, 150.10)
	result := r.ExecuteForWallet(context.Background(), w.ID)
	require.Equal(t, 1, result.OrdersSubmitted)
	assert.Equal(t, 0, r.noSignalCycles)
}

func TestSnapshotMetrics_RecordsEquityAndPnL(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	h.provider.quotes["AAPL"] = bidAsk(150, 149.90, 150.10)
	h.insertInstrument(t, "AAPL", 90, "150.00", domain.ClassUS)

	r := newTestRunner(h, alwaysOpen(), fallback.NonePolicy{})
	result := r.ExecuteForWallet(context.Background(), w.ID)
	require.Equal(t, 1, result.OrdersSubmitted)

	require.NoError(t, r.SnapshotMetrics(context.Background(), w.ID))

	snap, err := h.store.Metrics().Latest(w.ID)
	require.NoError(t, err)
	assert.True(t, snap.Equity.GreaterThan(money.Zero))
	assert.Equal(t, 0, snap.TradeCount) // position still open, not yet closed
}

func TestSnapshotMetrics_ComputesWinRateFromClosedPositions(t *testing.T) {
	h := newHarness(t)
	w := h.newWallet(t, domain.ClassUS, money.New(10000))
	h.provider.quotes["KO"] = bidAsk(60, 59.90, 60.10)

	_, reason, err := h.engine.Submit(context.Background(), domain.OrderIntent{
		WalletID: w.ID, Ticker: "KO", Venue: domain.VenueNYSE, Side: domain.Buy, Type: domain.Market, Quantity: 10,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ReasonCode(""), reason)

	// Sell at a higher price for a winning, closed trade.
	h.provider.quotes["KO"] = bidAsk(70, 69.90, 70.10)
	_, reason, err = h.engine.Submit(context.Background(), domain.OrderIntent{
		WalletID: w.ID, Ticker: "KO", Venue: domain.VenueNYSE, Side: domain.Sell, Type: domain.Market, Quantity: 10,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ReasonCode(""), reason)

	r := newTestRunner(h, alwaysOpen(), fallback.NonePolicy{})
	require.NoError(t, r.SnapshotMetrics(context.Background(), w.ID))

	snap, err := h.store.Metrics().Latest(w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TradeCount)
	assert.Equal(t, 1, snap.WinningTrades)
	assert.Equal(t, 0, snap.LosingTrades)
	require.NotNil(t, snap.WinRate)
	assert.Equal(t, 1.0, *snap.WinRate)
}
