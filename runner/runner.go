// Package runner implements the per-wallet strategy cycle (StrategyRunner,
// C6): pull signals, size positions, validate risk, submit orders, fall
// back to a safe synthetic trade when signals are starved, and snapshot
// metrics. Grounded on
// StrategyRunner.execute_strategy_for_wallet/snapshot_metrics in
// original_source/lib/strategy_runner.py.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"papertrader/domain"
	"papertrader/engine"
	"papertrader/fallback"
	"papertrader/logger"
	"papertrader/risk"
	"papertrader/session"
	"papertrader/signal"
	"papertrader/store"
)

// PositionSizing selects how buying power is allocated across signals.
type PositionSizing string

const (
	EqualWeight       PositionSizing = "equal_weight"
	PercentBuyingPower PositionSizing = "percent_buying_power"
)

const percentBuyingPowerFraction = 0.20

// Result summarizes one execute-for-wallet call (spec.md §4.5).
type Result struct {
	WalletID        uuid.UUID
	Error           domain.ReasonCode
	SignalsProcessed int
	OrdersSubmitted  int
	OrdersRejected   int
	Rejections       []Rejection
	FallbackDaily    bool
}

// Rejection records why a single candidate was skipped.
type Rejection struct {
	Ticker string
	Reason domain.ReasonCode
}

// Runner is the strategy cycle for one venue class.
type Runner struct {
	class   domain.VenueClass
	store   *store.Store
	engine  *engine.Engine
	gate    *session.Gate
	risk    *risk.Gate
	signals *signal.Reader
	policy  fallback.Policy
	sizing  PositionSizing

	mu                  sync.Mutex
	noSignalCycles      int
	lastSignalCheckTime *time.Time
}

// Config wires a Runner's collaborators and tunables.
type Config struct {
	Class   domain.VenueClass
	Store   *store.Store
	Engine  *engine.Engine
	Gate    *session.Gate
	Risk    *risk.Gate
	Signals *signal.Reader
	Policy  fallback.Policy
	Sizing  PositionSizing
}

// New builds a Runner.
func New(cfg Config) *Runner {
	sizing := cfg.Sizing
	if sizing == "" {
		sizing = EqualWeight
	}
	return &Runner{
		class:   cfg.Class,
		store:   cfg.Store,
		engine:  cfg.Engine,
		gate:    cfg.Gate,
		risk:    cfg.Risk,
		signals: cfg.Signals,
		policy:  cfg.Policy,
		sizing:  sizing,
	}
}

// ExecuteForWallet runs one strategy cycle for a single wallet (spec.md
// §4.5).
func (r *Runner) ExecuteForWallet(ctx context.Context, walletID uuid.UUID) Result {
	result := Result{WalletID: walletID}
	logger.WithWallet(walletID).Info("executing strategy cycle")

	wallet, err := r.engine.GetWallet(walletID)
	if err != nil {
		result.Error = domain.ReasonWalletNotFound
		return result
	}

	if !r.gate.IsOpen(r.class) {
		result.Error = domain.ReasonMarketClosed
		return result
	}

	positions, err := r.engine.GetOpenPositions(walletID)
	if err != nil {
		result.Error = domain.SystemError(err.Error())
		return result
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Ticker] = true
	}
	openPositions := len(positions)

	signals, err := r.signals.TopSignals(ctx, r.class)
	if err != nil {
		logger.Warnf("signal query failed for %s: %v", r.class, err)
		signals = nil
	}

	if len(signals) == 0 {
		return r.handleStarvation(ctx, *wallet, held, &result)
	}

	r.resetStarvation()

	for _, sig := range signals {
		if held[sig.Ticker] {
			logger.Infof("skipping %s (already have position)", sig.Ticker)
			result.Rejections = append(result.Rejections, Rejection{Ticker: sig.Ticker, Reason: domain.ReasonDuplicatePosition})
			result.OrdersRejected++
			continue
		}

		shares := r.positionSize(*wallet, sig, len(signals))
		estimatedCost := sig.Price.MulInt(shares)

		ok, reason := r.risk.Validate(*wallet, estimatedCost, openPositions)
		if !ok {
			logger.Warnf("order rejected: %s - %s", sig.Ticker, reason)
			result.Rejections = append(result.Rejections, Rejection{Ticker: sig.Ticker, Reason: reason})
			result.OrdersRejected++
			continue
		}

		venue := domain.VenueNASDAQ
		if sig.Market != domain.ClassUS {
			venue = domain.Venue(sig.Market)
		}

		sigCopy := sig
		intent := domain.OrderIntent{
			WalletID:       walletID,
			Ticker:         sig.Ticker,
			Venue:          venue,
			Side:           domain.Buy,
			Type:           domain.Market,
			Quantity:       shares,
			SignalSnapshot: &sigCopy,
		}

		logger.Infof("submitting: BUY %d %s @ MARKET (score: %.1f)", shares, sig.Ticker, sig.Score)
		order, rejection, err := r.engine.Submit(ctx, intent)
		if err != nil {
			result.Rejections = append(result.Rejections, Rejection{Ticker: sig.Ticker, Reason: domain.SystemError(err.Error())})
			result.OrdersRejected++
			continue
		}
		if rejection != "" {
			logger.Warnf("order rejected: %s - %s", sig.Ticker, rejection)
			result.Rejections = append(result.Rejections, Rejection{Ticker: sig.Ticker, Reason: rejection})
			result.OrdersRejected++
			continue
		}

		logger.Infof("order submitted: %s (%s)", order.ID, order.Status)
		result.OrdersSubmitted++
		held[sig.Ticker] = true
		openPositions++
	}

	result.SignalsProcessed = len(signals)
	return result
}

// positionSize implements calculate_position_size (spec.md §4.5, floor to
// at least one share).
func (r *Runner) positionSize(wallet domain.Wallet, sig domain.Signal, numSignals int) int64 {
	var allocation = wallet.BuyingPower()
	if r.sizing == EqualWeight {
		allocation = allocation.DivInt(int64(numSignals))
	} else {
		allocation = allocation.Pct(percentBuyingPowerFraction)
	}
	shares := allocation.Div(sig.Price).ToIntShares()
	if shares < 1 {
		shares = 1
	}
	return shares
}

// resetStarvation clears the no-signal counter once signals reappear.
func (r *Runner) resetStarvation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noSignalCycles = 0
	r.lastSignalCheckTime = nil
}

// handleStarvation increments the shared no-signal counter at most once
// per wall-clock minute, then consults the fallback policy (spec.md
// §4.5 step 4, §4.6).
func (r *Runner) handleStarvation(ctx context.Context, wallet domain.Wallet, held map[string]bool, result *Result) Result {
	cycles := r.tickStarvation()
	logger.Warnf("no signals found (cycle %d)", cycles)

	if !r.policy.ShouldActivate(cycles) {
		result.Error = domain.ReasonNoSignals
		return *result
	}

	trades, err := r.store.Ledger().ListTradesSince(wallet.ID, startOfUTCDay(time.Now()))
	if err == nil && fallback.AlreadyTradedToday(trades, time.Now().UTC()) {
		logger.Infof("%s: already traded today (fallback skipped)", wallet.Name)
		result.Error = domain.ReasonAlreadyTradedToday
		return *result
	}

	intent, ok := r.policy.Generate(wallet, held)
	if !ok {
		result.Error = domain.ReasonNoSignals
		return *result
	}

	logger.Infof("fallback activated for %s - placing proof-of-life trade", wallet.Name)
	order, rejection, err := r.engine.Submit(ctx, intent)

	journalErr := r.journalFallback(wallet.ID, intent, order, rejection, err)
	if journalErr != nil {
		logger.Warnf("failed to journal fallback attempt for %s: %v", wallet.Name, journalErr)
	}

	if err != nil || rejection != "" {
		reason := rejection
		if reason == "" {
			reason = domain.SystemError(err.Error())
		}
		logger.Errorf("fallback order failed for %s: %s", wallet.Name, reason)
		result.Error = domain.ReasonFallbackOrderFailed
		result.OrdersRejected = 1
		return *result
	}

	if wallet.VenueClass == domain.ClassASX {
		if err := r.store.Ledger().MarkFallbackActivated(wallet.ID); err != nil {
			logger.Warnf("failed to mark fallback activated for %s: %v", wallet.Name, err)
		}
	}

	logger.Infof("fallback order placed: %s -> %s x%d (order %s)", wallet.Name, intent.Ticker, intent.Quantity, order.ID)
	result.FallbackDaily = true
	result.OrdersSubmitted = 1
	return *result
}

func (r *Runner) tickStarvation() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if r.lastSignalCheckTime == nil || now.Sub(*r.lastSignalCheckTime) >= time.Minute {
		r.noSignalCycles++
		r.lastSignalCheckTime = &now
	}
	return r.noSignalCycles
}

func startOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// journalFallback records the fallback attempt in the append-only journal,
// one row per attempt whether SUBMITTED or FAILED (spec.md §4.5 step 4).
func (r *Runner) journalFallback(walletID uuid.UUID, intent domain.OrderIntent, order *domain.Order, rejection domain.ReasonCode, submitErr error) error {
	status := domain.JournalSubmitted
	var errStr *string
	if submitErr != nil || rejection != "" {
		status = domain.JournalFailed
		s := string(rejection)
		if submitErr != nil {
			s = submitErr.Error()
		}
		errStr = &s
	}

	reasonCodes, _ := json.Marshal([]string{string(rejection)})
	orderRequest, _ := json.Marshal(intent)

	var orderResponse []byte
	if order != nil {
		orderResponse, _ = json.Marshal(order)
	}

	entry := &domain.TradeJournal{
		ID:             uuid.New(),
		WalletID:       walletID,
		Mode:           domain.ModeFallback,
		Status:         status,
		ReasonCodes:    string(reasonCodes),
		OrderRequest:   string(orderRequest),
		OrderResponse:  string(orderResponse),
		Error:          errStr,
	}
	return r.store.Journal().Append(entry)
}

// SnapshotMetrics computes and upserts today's metrics row for wallet,
// grounded on StrategyRunner.snapshot_metrics.
func (r *Runner) SnapshotMetrics(ctx context.Context, walletID uuid.UUID) error {
	wallet, err := r.engine.GetWallet(walletID)
	if err != nil {
		return err
	}

	equity, err := r.engine.GetWalletEquity(ctx, walletID)
	if err != nil {
		return err
	}

	allPositions, err := r.allPositionsEverOpened(walletID)
	if err != nil {
		return fmt.Errorf("runner: load positions for metrics: %w", err)
	}

	var totalTrades, winningTrades int
	for _, p := range allPositions {
		if p.ClosedAt == nil {
			continue
		}
		totalTrades++
		if p.RealisedPnL.IsPositive() {
			winningTrades++
		}
	}

	var winRate *float64
	if totalTrades > 0 {
		wr := float64(winningTrades) / float64(totalTrades)
		winRate = &wr
	}

	pnl := equity.Sub(wallet.InitialBalance)
	var pnlPct float64
	if !wallet.InitialBalance.IsZero() {
		pnlPct = pnl.Div(wallet.InitialBalance).Float64() * 100
	}

	// losing_trades conflates "flat" trades into "losing" by design — see
	// DESIGN.md Open Question disposition 2.
	losingTrades := totalTrades - winningTrades

	snapshot := &domain.MetricsSnapshot{
		WalletID:      walletID,
		Date:          startOfUTCDay(time.Now()),
		Equity:        equity,
		PnL:           pnl,
		PnLPct:        pnlPct,
		WinRate:       winRate,
		TradeCount:    totalTrades,
		WinningTrades: winningTrades,
		LosingTrades:  losingTrades,
	}
	if err := r.store.Metrics().Upsert(*snapshot); err != nil {
		return err
	}
	logger.Infof("metrics snapshot: equity=%s pnl=%s", equity, pnl)
	return nil
}

// allPositionsEverOpened loads every position row (open or closed) for
// realised-PnL/win-rate accounting, unlike GetOpenPositions which filters
// to closed_at IS NULL.
func (r *Runner) allPositionsEverOpened(walletID uuid.UUID) ([]domain.Position, error) {
	return r.store.Ledger().ListAllPositions(walletID)
}
