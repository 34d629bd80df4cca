// Package signal reads trade candidates from the upstream Oracle signal
// source: a separate, read-only Postgres database exposing an
// `instruments` table. Grounded on
// StrategyRunner.get_oracle_signals in original_source/lib/strategy_runner.py.
package signal

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"papertrader/domain"
	"papertrader/money"
)

// Reader queries the Oracle instruments table for top-scoring signals.
type Reader struct {
	gdb            *gorm.DB
	minSignalScore int
	maxSignals     int
}

// NewReader opens a dedicated read-only connection to the Oracle database.
func NewReader(databaseURL string, minSignalScore, maxSignals int) (*Reader, error) {
	gdb, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return &Reader{gdb: gdb, minSignalScore: minSignalScore, maxSignals: maxSignals}, nil
}

// NewReaderFromGorm wraps an existing connection. cmd/papertrader uses it
// to read signals from the ledger database when ORACLE_DATABASE_URL is
// unset; tests use it with an in-memory database.
func NewReaderFromGorm(gdb *gorm.DB, minSignalScore, maxSignals int) *Reader {
	return &Reader{gdb: gdb, minSignalScore: minSignalScore, maxSignals: maxSignals}
}

type instrumentRow struct {
	Ticker     string
	Score      float64
	Price      money.Amount
	Regime     string
	Confidence *float64
	Market     string
}

// TopSignals returns up to maxSignals instruments for market scored
// at or above minSignalScore within the last 24 hours, ordered best-first
// (spec.md §6, upstream signal source contract).
func (r *Reader) TopSignals(ctx context.Context, class domain.VenueClass) ([]domain.Signal, error) {
	var rows []instrumentRow
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	err := r.gdb.WithContext(ctx).
		Table("instruments").
		Select("ticker, score, price, regime, confidence, market").
		Where("market = ?", string(class)).
		Where("score >= ?", r.minSignalScore).
		Where("timestamp > ?", cutoff).
		Order("score DESC").
		Limit(r.maxSignals).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	signals := make([]domain.Signal, 0, len(rows))
	for _, row := range rows {
		signals = append(signals, domain.Signal{
			Ticker:     row.Ticker,
			Score:      row.Score,
			Price:      row.Price,
			Regime:     row.Regime,
			Confidence: row.Confidence,
			Market:     domain.VenueClass(row.Market),
		})
	}
	return signals, nil
}

// Close releases the underlying connection pool.
func (r *Reader) Close() error {
	sqlDB, err := r.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
