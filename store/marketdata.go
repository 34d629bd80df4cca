package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrader/domain"
)

// MarketDataStore persists the quote history table (spec.md §3, §4.4.1):
// every quote fetched while submitting or matching an order is upserted
// here, keyed on (ticker, venue, timestamp), for later mark-to-market.
type MarketDataStore struct {
	gdb *gorm.DB
}

// NewMarketDataStore builds a MarketDataStore bound to gdb.
func NewMarketDataStore(gdb *gorm.DB) *MarketDataStore {
	return &MarketDataStore{gdb: gdb}
}

func (m *MarketDataStore) initTables() error {
	return m.gdb.AutoMigrate(&domain.MarketDataQuote{})
}

// Upsert records quote for ticker/venue, keyed on (ticker, venue,
// timestamp). Grounded on original_source/lib/engine.py's
// _store_market_quote, which is non-fatal on the caller's side: a failed
// upsert here should be logged and swallowed by the caller, never used to
// abort order submission.
func (m *MarketDataStore) Upsert(ticker string, venue domain.Venue, quote domain.Quote) error {
	row := domain.MarketDataQuote{
		Ticker:    ticker,
		Venue:     venue,
		Timestamp: quote.Timestamp,
		Price:     quote.Price,
		Bid:       quote.Bid,
		Ask:       quote.Ask,
		Volume:    quote.Volume,
		Provider:  quote.Provider,
		FetchedAt: time.Now().UTC(),
	}
	return m.gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}, {Name: "venue"}, {Name: "timestamp"}},
		UpdateAll: true,
	}).Create(&row).Error
}
