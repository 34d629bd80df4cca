package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"papertrader/domain"
	"papertrader/money"
)

// newTestStore opens a fresh in-memory SQLite store per test, so tests
// never share state or depend on execution order.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + uuid.New().String() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	st, err := NewFromGorm(gdb)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// uuidNew is a tiny alias used throughout the package's tests to keep
// fixture construction terse.
func uuidNew() uuid.UUID { return uuid.New() }

func newTestWallet(t *testing.T, st *Store, class domain.VenueClass, balance money.Amount) domain.Wallet {
	t.Helper()
	w := domain.Wallet{
		Name:           "Wallet-" + uuid.New().String()[:8],
		VenueClass:     class,
		InitialBalance: balance,
		CurrentBalance: balance,
	}
	require.NoError(t, st.Ledger().CreateWallet(&w))
	return w
}
