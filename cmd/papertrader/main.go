package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"papertrader/config"
	"papertrader/cycle"
	"papertrader/domain"
	"papertrader/engine"
	"papertrader/fallback"
	"papertrader/logger"
	"papertrader/market"
	"papertrader/money"
	"papertrader/risk"
	"papertrader/runner"
	"papertrader/session"
	signalsrc "papertrader/signal"
	"papertrader/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	config.Init()
	cfg := config.Get()
	logger.Init(&logger.Config{Level: cfg.LogLevel, Dir: cfg.LogDir})

	logger.Info("╔════════════════════════════════════════════════════════════╗")
	logger.Info("║              Paper Trading Execution Engine                 ║")
	logger.Info("╚════════════════════════════════════════════════════════════╝")
	logger.Info("configuration loaded")

	if len(os.Args) < 2 {
		printUsage()
		return 1
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Errorf("failed to initialize database: %v", err)
		return 1
	}
	defer st.Close()

	switch os.Args[1] {
	case "run":
		if len(os.Args) < 3 {
			printUsage()
			return 1
		}
		return cmdRun(st, cfg, os.Args[2])
	case "simulate":
		return cmdSimulate(st, cfg, os.Args[2:])
	case "metrics":
		return cmdMetrics(st, os.Args[2:])
	case "history":
		return cmdHistory(st, os.Args[2:])
	default:
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println("usage:")
	fmt.Println("  papertrader run <us|asx>")
	fmt.Println("  papertrader simulate --venue <us|asx> --cycles N [--dry-run]")
	fmt.Println("  papertrader metrics --wallet <name>")
	fmt.Println("  papertrader history --wallet <name> [--limit N] [--offset N]")
}

func openStore(cfg *config.Config) (*store.Store, error) {
	dbType := store.DBTypeSQLite
	if cfg.DBType == "postgres" {
		dbType = store.DBTypePostgres
	}
	if dbType == store.DBTypeSQLite {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				logger.Warnf("failed to create data directory: %v", err)
			}
		}
	}
	return store.NewWithConfig(store.DBConfig{
		Type:     dbType,
		Path:     cfg.DBPath,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
}

// venueCommission mirrors run_us_trading.py ($1.00) vs run_asx_trading.py
// ($10.00) — ASX carries a materially higher simulated commission.
func venueCommission(class domain.VenueClass) money.Amount {
	if class == domain.ClassASX {
		return money.New(10.00)
	}
	return money.New(1.00)
}

func buildRunner(st *store.Store, cfg *config.Config, class domain.VenueClass) (*runner.Runner, *engine.Engine, *session.Gate, error) {
	marketCfg := market.Config{
		CacheTTL:        time.Duration(cfg.QuoteCacheTTLSeconds) * time.Second,
		SpreadBps:       cfg.SpreadBps,
		RequireRealtime: cfg.RequireRealtime,
	}

	var marketData market.Provider
	if class == domain.ClassASX && cfg.TwelveDataAPIKey != "" {
		marketCfg.APIKey = cfg.TwelveDataAPIKey
		marketData = market.NewTwelveDataProvider(marketCfg)
	} else {
		marketCfg.APIKey = cfg.AlphaVantageAPIKey
		marketData = market.NewAlphaVantageProvider(marketCfg)
	}

	eng := engine.New(st, marketData, venueCommission(class), cfg.EnableSlippage)
	gate := session.NewGate(nil)
	riskGate := risk.NewGate()
	riskGate.MaxPositionPct = cfg.MaxPositionPct
	riskGate.MaxConcurrentPositions = cfg.MaxConcurrentPositions
	riskGate.MinBuyingPowerPct = cfg.MinBuyingPowerPct

	signalReader, err := buildSignalReader(st, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	var policy fallback.Policy
	switch class {
	case domain.ClassUS:
		policy = fallback.USPolicy{ThresholdCycles: cfg.USFallbackThresholdCycles}
	case domain.ClassASX:
		policy = fallback.ASXPolicy{ThresholdCycles: cfg.ASXFallbackThresholdCycles}
	default:
		policy = fallback.NonePolicy{}
	}

	r := runner.New(runner.Config{
		Class:   class,
		Store:   st,
		Engine:  eng,
		Gate:    gate,
		Risk:    riskGate,
		Signals: signalReader,
		Policy:  policy,
		Sizing:  runner.PositionSizing(cfg.PositionSizing),
	})
	return r, eng, gate, nil
}

// buildSignalReader opens a signalsrc.Reader against ORACLE_DATABASE_URL
// when set, falling back to the main ledger connection (spec.md §6 allows
// a single database to serve both roles in development).
func buildSignalReader(st *store.Store, cfg *config.Config) (*signalsrc.Reader, error) {
	if cfg.OracleDatabaseURL != "" {
		return signalsrc.NewReader(cfg.OracleDatabaseURL, cfg.MinSignalScore, cfg.MaxSignals)
	}
	return signalsrc.NewReaderFromGorm(st.GormDB(), cfg.MinSignalScore, cfg.MaxSignals), nil
}

func parseVenueClass(v string) (domain.VenueClass, error) {
	switch v {
	case "us", "US":
		return domain.ClassUS, nil
	case "asx", "ASX":
		return domain.ClassASX, nil
	default:
		return "", fmt.Errorf("unknown venue %q (expected us or asx)", v)
	}
}

func cmdRun(st *store.Store, cfg *config.Config, venueArg string) int {
	class, err := parseVenueClass(venueArg)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}

	r, eng, gate, err := buildRunner(st, cfg, class)
	if err != nil {
		logger.Errorf("failed to build runner: %v", err)
		return 1
	}

	driver := cycle.New(cycle.Config{
		Class:    class,
		Store:    st,
		Engine:   eng,
		Runner:   r,
		Gate:     gate,
		Interval: time.Duration(cfg.CycleIntervalSeconds) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutdown signal received, stopping cycle driver")
		cancel()
	}()

	logger.Infof("starting %s trading loop (%ds cycle, market-hours only)", class, cfg.CycleIntervalSeconds)
	if err := driver.Run(ctx); err != nil && err != context.Canceled {
		logger.Errorf("cycle driver exited with error: %v", err)
		return 1
	}
	return 130
}

// cmdSimulate runs a fixed number of cycles against both venue loops (or
// one, if --venue is given) without waiting for real market hours between
// ticks — intended for local development and the end-to-end test harness.
func cmdSimulate(st *store.Store, cfg *config.Config, args []string) int {
	venueArg, cycles, dryRun := parseSimulateFlags(args)

	classes := []domain.VenueClass{domain.ClassUS, domain.ClassASX}
	if venueArg != "" {
		class, err := parseVenueClass(venueArg)
		if err != nil {
			logger.Errorf("%v", err)
			return 1
		}
		classes = []domain.VenueClass{class}
	}

	g, ctx := errgroup.WithContext(context.Background())
	for _, class := range classes {
		class := class
		g.Go(func() error {
			r, eng, gate, err := buildRunner(st, cfg, class)
			if err != nil {
				return err
			}
			_ = eng
			for i := 0; i < cycles; i++ {
				if !gate.IsOpen(class) && !dryRun {
					logger.Infof("(%s) market closed, skipping simulated cycle %d", class, i+1)
					continue
				}
				wallets, err := st.Ledger().ListTradableWallets(class)
				if err != nil {
					return err
				}
				for _, w := range wallets {
					result := r.ExecuteForWallet(ctx, w.ID)
					logger.Infof("(%s) cycle %d/%d wallet %s: submitted=%d rejected=%d error=%s",
						class, i+1, cycles, w.Name, result.OrdersSubmitted, result.OrdersRejected, result.Error)
					if !dryRun {
						_ = r.SnapshotMetrics(ctx, w.ID)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Errorf("simulate failed: %v", err)
		return 1
	}
	return 0
}

func parseSimulateFlags(args []string) (venue string, cycles int, dryRun bool) {
	cycles = 1
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--venue":
			if i+1 < len(args) {
				venue = args[i+1]
				i++
			}
		case "--cycles":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &cycles)
				i++
			}
		case "--dry-run":
			dryRun = true
		}
	}
	return
}

func cmdMetrics(st *store.Store, args []string) int {
	var walletName string
	for i := 0; i < len(args); i++ {
		if args[i] == "--wallet" && i+1 < len(args) {
			walletName = args[i+1]
			i++
		}
	}
	if walletName == "" {
		fmt.Println("usage: papertrader metrics --wallet <name>")
		return 1
	}

	wallet, err := findWalletByName(st, walletName)
	if err != nil {
		logger.Errorf("failed to look up wallet: %v", err)
		return 1
	}
	if wallet == nil {
		fmt.Printf("wallet %q not found\n", walletName)
		return 1
	}

	snap, err := st.Metrics().Latest(wallet.ID)
	if err != nil {
		logger.Errorf("no metrics snapshot for %s: %v", walletName, err)
		return 1
	}
	fmt.Printf("wallet=%s equity=%s pnl=%s pnl_pct=%.2f%% trades=%d wins=%d losses=%d\n",
		wallet.Name, snap.Equity, snap.PnL, snap.PnLPct, snap.TradeCount, snap.WinningTrades, snap.LosingTrades)
	return 0
}

// cmdHistory prints a paginated view of a wallet's recent orders and
// fallback-journal entries, newest first.
func cmdHistory(st *store.Store, args []string) int {
	var walletName string
	limit, offset := 20, 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--wallet":
			if i+1 < len(args) {
				walletName = args[i+1]
				i++
			}
		case "--limit":
			if i+1 < len(args) {
				if n, err := strconv.Atoi(args[i+1]); err == nil {
					limit = n
				}
				i++
			}
		case "--offset":
			if i+1 < len(args) {
				if n, err := strconv.Atoi(args[i+1]); err == nil {
					offset = n
				}
				i++
			}
		}
	}
	if walletName == "" {
		fmt.Println("usage: papertrader history --wallet <name> [--limit N] [--offset N]")
		return 1
	}

	wallet, err := findWalletByName(st, walletName)
	if err != nil {
		logger.Errorf("failed to look up wallet: %v", err)
		return 1
	}
	if wallet == nil {
		fmt.Printf("wallet %q not found\n", walletName)
		return 1
	}

	orders, err := st.Ledger().ListRecentOrders(wallet.ID, limit)
	if err != nil {
		logger.Errorf("failed to list orders: %v", err)
		return 1
	}
	fmt.Printf("orders for %s (most recent first):\n", walletName)
	for _, o := range orders {
		fmt.Printf("  %s %s %d %s status=%s updated=%s\n", o.ID, o.Side, o.Quantity, o.Ticker, o.Status, o.UpdatedAt.Format(time.RFC3339))
	}

	entries, err := st.Journal().ListForWalletPage(wallet.ID, limit, offset)
	if err != nil {
		logger.Errorf("failed to list journal entries: %v", err)
		return 1
	}
	fmt.Printf("journal entries for %s (most recent first, offset %d):\n", walletName, offset)
	for _, e := range entries {
		fmt.Printf("  %s mode=%s status=%s created=%s\n", e.ID, e.Mode, e.Status, e.CreatedAt.Format(time.RFC3339))
	}
	return 0
}

// findWalletByName looks up a tradable wallet by name across both venue
// classes, matching cmdMetrics's lookup shape.
func findWalletByName(st *store.Store, name string) (*domain.Wallet, error) {
	wallets, err := st.Ledger().ListTradableWallets(domain.ClassUS)
	if err != nil {
		return nil, err
	}
	asxWallets, err := st.Ledger().ListTradableWallets(domain.ClassASX)
	if err != nil {
		return nil, err
	}
	wallets = append(wallets, asxWallets...)
	for _, w := range wallets {
		if w.Name == name {
			wc := w
			return &wc, nil
		}
	}
	return nil, nil
}
