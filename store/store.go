package store

import (
	"database/sql"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"papertrader/logger"
)

// Store is the unified persistence layer. All access goes through its
// sub-stores (lazily constructed, grounded on the teacher's Store pattern).
type Store struct {
	gdb *gorm.DB
	db  *sql.DB

	ledger     *LedgerStore
	metrics    *MetricsStore
	journal    *JournalStore
	marketData *MarketDataStore

	mu sync.RWMutex
}

// New opens a SQLite-backed Store at dbPath.
func New(dbPath string) (*Store, error) {
	return NewWithConfig(DBConfig{Type: DBTypeSQLite, Path: dbPath})
}

// NewWithConfig opens a Store using the given connection configuration.
func NewWithConfig(cfg DBConfig) (*Store, error) {
	gdb, err := InitGormWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	s := &Store{gdb: gdb, db: sqlDB}

	if err := s.initTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	dbTypeStr := "SQLite"
	if cfg.Type == DBTypePostgres {
		dbTypeStr = "PostgreSQL"
	}
	logger.Infof("database initialized (GORM, %s)", dbTypeStr)
	return s, nil
}

// NewFromGorm adopts an existing GORM connection (used by tests against an
// in-memory SQLite database).
func NewFromGorm(gdb *gorm.DB) (*Store, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	s := &Store{gdb: gdb, db: sqlDB}
	if err := s.initTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables() error {
	if err := s.Ledger().initTables(); err != nil {
		return fmt.Errorf("failed to initialize ledger tables: %w", err)
	}
	if err := s.Metrics().initTables(); err != nil {
		return fmt.Errorf("failed to initialize metrics tables: %w", err)
	}
	if err := s.Journal().initTables(); err != nil {
		return fmt.Errorf("failed to initialize journal tables: %w", err)
	}
	if err := s.MarketData().initTables(); err != nil {
		return fmt.Errorf("failed to initialize market data tables: %w", err)
	}
	return nil
}

// Ledger gets the wallet/position/order/trade storage.
func (s *Store) Ledger() *LedgerStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger == nil {
		s.ledger = NewLedgerStore(s.gdb)
	}
	return s.ledger
}

// Metrics gets the strategy metrics storage.
func (s *Store) Metrics() *MetricsStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		s.metrics = NewMetricsStore(s.gdb)
	}
	return s.metrics
}

// Journal gets the trade journal storage.
func (s *Store) Journal() *JournalStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		s.journal = NewJournalStore(s.gdb)
	}
	return s.journal
}

// MarketData gets the quote history storage.
func (s *Store) MarketData() *MarketDataStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marketData == nil {
		s.marketData = NewMarketDataStore(s.gdb)
	}
	return s.marketData
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GormDB returns the underlying GORM connection, for callers (e.g. the
// signal reader) that need a second read-only connection shape.
func (s *Store) GormDB() *gorm.DB {
	return s.gdb
}

// Transaction runs fn inside a single GORM transaction.
func (s *Store) Transaction(fn func(tx *gorm.DB) error) error {
	return s.gdb.Transaction(fn)
}
