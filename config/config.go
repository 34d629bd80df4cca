// Package config loads the service's environment-variable configuration,
// grounded on the teacher's config.Init pattern (os.Getenv + strconv,
// defaults baked in, then overridden when set).
package config

import (
	"os"
	"strconv"
	"strings"
)

// Global configuration instance
var global *Config

// Config is the global configuration (loaded from .env via godotenv, then
// the process environment).
type Config struct {
	// Database configuration
	DBType     string // sqlite or postgres
	DBPath     string // SQLite database file path
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Oracle signal source (separate Postgres instance, read-only)
	OracleDatabaseURL string

	// Market data provider
	AlphaVantageAPIKey string
	TwelveDataAPIKey   string // when set, ASX quotes are served by Twelve Data instead of Alpha Vantage
	RequireRealtime    bool   // when false, circuit-open falls back to synthetic quotes

	// Cycle timing
	CycleIntervalSeconds int
	QuoteCacheTTLSeconds int

	// Strategy
	MinSignalScore int
	MaxSignals     int
	PositionSizing string // "equal_weight" or "percent_buying_power"

	// Fallback activation thresholds (consecutive no-signal cycles),
	// distinct per venue class — see DESIGN.md Open Question disposition 1.
	USFallbackThresholdCycles  int
	ASXFallbackThresholdCycles int

	// Risk
	MaxPositionPct         float64
	MaxConcurrentPositions int
	MinBuyingPowerPct      float64

	// Execution
	CommissionPerTrade float64
	SpreadBps          int
	EnableSlippage     bool

	// Logging
	LogLevel string
	LogDir   string
}

// Init builds the global configuration from defaults overridden by the
// process environment.
func Init() *Config {
	cfg := &Config{
		DBType:    "sqlite",
		DBPath:    "data/papertrader.db",
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "postgres",
		DBName:    "papertrader",
		DBSSLMode: "disable",

		RequireRealtime: false,

		CycleIntervalSeconds: 60,
		QuoteCacheTTLSeconds: 30,

		MinSignalScore: 70,
		MaxSignals:     5,
		PositionSizing: "equal_weight",

		USFallbackThresholdCycles:  1,
		ASXFallbackThresholdCycles: 3,

		MaxPositionPct:         0.20,
		MaxConcurrentPositions: 5,
		MinBuyingPowerPct:      0.10,

		CommissionPerTrade: 0,
		SpreadBps:          10,
		EnableSlippage:     true,

		LogLevel: "info",
		LogDir:   "data",
	}

	if v := os.Getenv("DB_TYPE"); v != "" {
		cfg.DBType = strings.ToLower(v)
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.DBPort = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.DBSSLMode = v
	}

	cfg.OracleDatabaseURL = os.Getenv("ORACLE_DATABASE_URL")
	cfg.AlphaVantageAPIKey = os.Getenv("ALPHAVANTAGE_API_KEY")
	cfg.TwelveDataAPIKey = os.Getenv("TWELVEDATA_API_KEY")

	if v := os.Getenv("REQUIRE_REALTIME"); v != "" {
		cfg.RequireRealtime = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("CYCLE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CycleIntervalSeconds = n
		}
	}
	if v := os.Getenv("QUOTE_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QuoteCacheTTLSeconds = n
		}
	}
	if v := os.Getenv("MIN_SIGNAL_SCORE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinSignalScore = n
		}
	}
	if v := os.Getenv("MAX_SIGNALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSignals = n
		}
	}
	if v := os.Getenv("POSITION_SIZING"); v != "" {
		cfg.PositionSizing = v
	}
	if v := os.Getenv("US_FALLBACK_THRESHOLD_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.USFallbackThresholdCycles = n
		}
	}
	if v := os.Getenv("ASX_FALLBACK_THRESHOLD_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ASXFallbackThresholdCycles = n
		}
	}
	if v := os.Getenv("MAX_POSITION_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.MaxPositionPct = f
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_POSITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentPositions = n
		}
	}
	if v := os.Getenv("MIN_BUYING_POWER_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.MinBuyingPowerPct = f
		}
	}
	if v := os.Getenv("COMMISSION_PER_TRADE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.CommissionPerTrade = f
		}
	}
	if v := os.Getenv("SPREAD_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SpreadBps = n
		}
	}
	if v := os.Getenv("ENABLE_SLIPPAGE"); v != "" {
		cfg.EnableSlippage = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}

	global = cfg
	return cfg
}

// Get returns the global configuration, initializing defaults if Init
// has not yet been called (mirrors the teacher's lazy-global pattern).
func Get() *Config {
	if global == nil {
		return Init()
	}
	return global
}
