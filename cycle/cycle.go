// Package cycle drives the periodic per-venue trading loop (CycleDriver,
// C8): sleep when the market is closed, otherwise fan out one strategy
// execution per tradable wallet, scan resting LIMIT/STOP orders for a
// fill, and snapshot metrics. Grounded on run_us_trading.py/
// run_asx_trading.py's cycle loop and the teacher's
// trader/auto_trader.go::Run ticker-and-stop-channel shape.
package cycle

import (
	"context"
	"sync"
	"time"

	"papertrader/domain"
	"papertrader/engine"
	"papertrader/logger"
	"papertrader/runner"
	"papertrader/session"
	"papertrader/store"
)

// Driver runs the cycle loop for one venue class.
type Driver struct {
	class    domain.VenueClass
	store    *store.Store
	engine   *engine.Engine
	runner   *runner.Runner
	gate     *session.Gate
	interval time.Duration

	stopCh  chan struct{}
	running bool
	mu      sync.Mutex
}

// Config wires a Driver's collaborators and interval.
type Config struct {
	Class    domain.VenueClass
	Store    *store.Store
	Engine   *engine.Engine
	Runner   *runner.Runner
	Gate     *session.Gate
	Interval time.Duration
}

// New builds a Driver. A zero Interval defaults to 60 seconds.
func New(cfg Config) *Driver {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Driver{
		class:    cfg.Class,
		store:    cfg.Store,
		engine:   cfg.Engine,
		runner:   cfg.Runner,
		gate:     cfg.Gate,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Run executes cycles until ctx is cancelled or Stop is called, mirroring
// run_us_trading.py's while-True loop, rewritten against a ticker plus a
// select on ctx.Done()/stop channel per the teacher's AutoTrader.Run.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	logger.Infof("%s cycle driver started (interval=%s)", d.class, d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	cycleNumber := 0
	d.runCycle(ctx, &cycleNumber)

	for {
		select {
		case <-ticker.C:
			d.runCycle(ctx, &cycleNumber)
		case <-ctx.Done():
			logger.Infof("%s cycle driver stopping: %v", d.class, ctx.Err())
			return ctx.Err()
		case <-d.stopCh:
			logger.Infof("%s cycle driver stopped", d.class)
			return nil
		}
	}
}

// Stop signals Run to exit gracefully after its current cycle.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.stopCh)
}

func (d *Driver) runCycle(ctx context.Context, cycleNumber *int) {
	*cycleNumber++
	logger.Infof("cycle %d (%s)", *cycleNumber, d.class)

	if !d.gate.IsOpen(d.class) {
		logger.Infof("market closed (%s) - simulation paused", d.class)
		return
	}

	wallets, err := d.store.Ledger().ListTradableWallets(d.class)
	if err != nil {
		logger.Errorf("failed to list tradable wallets for %s: %v", d.class, err)
		return
	}
	logger.Infof("found %d strategy wallets (%s)", len(wallets), d.class)

	for _, wallet := range wallets {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.executeWallet(ctx, wallet)
	}
}

func (d *Driver) executeWallet(ctx context.Context, wallet domain.Wallet) {
	d.rematchOpenOrders(ctx, wallet)

	result := d.runner.ExecuteForWallet(ctx, wallet.ID)
	if result.Error != "" {
		logger.Infof("%s: %s", wallet.Name, result.Error)
	} else {
		logger.Infof("%s: %d submitted, %d rejected", wallet.Name, result.OrdersSubmitted, result.OrdersRejected)
	}

	if err := d.runner.SnapshotMetrics(ctx, wallet.ID); err != nil {
		logger.Warnf("failed to snapshot metrics for %s: %v", wallet.Name, err)
	}
}

// rematchOpenOrders scans a wallet's resting non-MARKET orders every
// cycle so a LIMIT order can fill once the market moves to its price,
// per DESIGN.md Open Question disposition 4 (spec.md §9's SHOULD).
func (d *Driver) rematchOpenOrders(ctx context.Context, wallet domain.Wallet) {
	orders, err := d.store.Ledger().ListOpenNonMarketOrders(wallet.ID)
	if err != nil {
		logger.Warnf("failed to list open orders for %s: %v", wallet.Name, err)
		return
	}
	for _, o := range orders {
		if _, err := d.engine.MatchAndFill(ctx, o.ID); err != nil {
			logger.Warnf("failed to re-match order %s: %v", o.ID, err)
		}
	}
}
