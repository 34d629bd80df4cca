package cycle

import (
	"context"
	"testing"
	"time"

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
	"papertrader/runner"
	"papertrader/session"
	"papertrader/signal"
	"papertrader/store"
)

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

func fixedGate(open bool) *session.Gate {
	if open {
		return session.NewGate(func() time.Time { return time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC) })
	}
	return session.NewGate(func() time.Time { return time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC) })
}

type harness struct {
	store    *store.Store
	engine   *engine.Engine
	runner   *runner.Runner
	provider *fakeProvider
	gdb      *gorm.DB
}

func newHarness(t *testing.T, open bool) *harness {
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
	gate := fixedGate(open)
	r := runner.New(runner.Config{
		Class:   domain.ClassUS,
		Store:   st,
		Engine:  eng,
		Gate:    gate,
		Risk:    risk.NewGate(),
		Signals: signal.NewReaderFromGorm(gdb, 70, 5),
		Policy:  fallback.NonePolicy{},
		// 20% of buying power keeps a single-signal buy inside the default
		// R2 cap; equal weight would size one signal at the whole wallet.
		Sizing: runner.PercentBuyingPower,
	})
	return &harness{store: st, engine: eng, runner: r, provider: provider, gdb: gdb}
}

func (h *harness) newWallet(t *testing.T, name string, balance money.Amount) domain.Wallet {
	t.Helper()
	w := domain.Wallet{Name: name, VenueClass: domain.ClassUS, InitialBalance: balance, CurrentBalance: balance, CapitalTier: "large"}
	require.NoError(t, h.store.Ledger().CreateWallet(&w))
	return w
}

func newDriver(h *harness, open bool, interval time.Duration) *Driver {
	return New(Config{
		Class:    domain.ClassUS,
		Store:    h.store,
		Engine:   h.engine,
		Runner:   h.runner,
		Gate:     fixedGate(open),
		Interval: interval,
	})
}

func TestDriver_RunCycle_SkipsWhenMarketClosed(t *testing.T) {
	h := newHarness(t, false)
	w := h.newWallet(t, "wallet-closed", money.New(10000))
	d := newDriver(h, false, time.Hour)

	cycleNumber := 0
	d.runCycle(context.Background(), &cycleNumber)

	// The gate closed check returns before the wallet loop runs, so no
	// metrics snapshot is ever taken for this cycle.
	_, err := h.store.Metrics().Latest(w.ID)
	assert.Error(t, err)
}

func TestDriver_RunCycle_ExecutesWalletAndSnapshotsMetrics(t *testing.T) {
	h := newHarness(t, true)
	w := h.newWallet(t, "wallet-open", money.New(10000))
	h.provider.quotes["AAPL"] = bidAsk(150, 149.90, 150.10)
	require.NoError(t, h.gdb.Exec(
		`INSERT INTO instruments (ticker, score, price, regime, confidence, market, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"AAPL", 90.0, "150.00", "TRENDING", 0.8, "US", time.Now().UTC(),
	).Error)

	d := newDriver(h, true, time.Hour)
	cycleNumber := 0
	d.runCycle(context.Background(), &cycleNumber)

	positions, err := h.store.Ledger().GetOpenPositions(w.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Ticker)

	snap, err := h.store.Metrics().Latest(w.ID)
	require.NoError(t, err)
	assert.True(t, snap.Equity.GreaterThan(money.Zero))
}

func TestDriver_ExecuteWallet_RematchesRestingLimitOrder(t *testing.T) {
	h := newHarness(t, true)
	w := h.newWallet(t, "wallet-limit", money.New(10000))
	h.provider.quotes["IBM"] = bidAsk(140, 139.90, 140.10)

	limit := money.New(139.00)
	order, reason, err := h.engine.Submit(context.Background(), domain.OrderIntent{
		WalletID: w.ID, Ticker: "IBM", Venue: domain.VenueNYSE, Side: domain.Buy, Type: domain.Limit,
		Quantity: 5, LimitPrice: &limit,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ReasonCode(""), reason)
	require.Equal(t, domain.StatusSubmitted, order.Status)

	// Market drops below the limit: the next cycle's rematch pass should fill it.
	h.provider.quotes["IBM"] = bidAsk(138, 137.90, 138.90)

	d := newDriver(h, true, time.Hour)
	d.executeWallet(context.Background(), w)

	got, err := h.store.Ledger().GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, got.Status)
}

func TestDriver_Run_StopsOnContextCancel(t *testing.T) {
	h := newHarness(t, true)
	d := newDriver(h, true, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestDriver_Run_StopsOnStopCall(t *testing.T) {
	h := newHarness(t, true)
	d := newDriver(h, true, 10*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	// Give Run a moment to enter its select loop before stopping it.
	time.Sleep(20 * time.Millisecond)
	d.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
