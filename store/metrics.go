package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrader/domain"
)

// MetricsStore persists the per-wallet, per-day strategy_metrics snapshot
// taken at the end of every cycle (spec.md §4.5.1).
type MetricsStore struct {
	gdb *gorm.DB
}

// NewMetricsStore builds a MetricsStore bound to gdb.
func NewMetricsStore(gdb *gorm.DB) *MetricsStore {
	return &MetricsStore{gdb: gdb}
}

func (m *MetricsStore) initTables() error {
	return m.gdb.AutoMigrate(&domain.MetricsSnapshot{})
}

// Upsert writes or replaces today's snapshot for a wallet. gorm.Save
// would issue an UPDATE keyed on the composite primary key even when no
// row exists yet for (wallet_id, date), silently affecting zero rows on
// a wallet's first snapshot of the day, so this uses an explicit
// ON CONFLICT upsert instead.
func (m *MetricsStore) Upsert(snap domain.MetricsSnapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	return m.gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_id"}, {Name: "date"}},
		UpdateAll: true,
	}).Create(&snap).Error
}

// Latest returns the most recent snapshot for a wallet, if any.
func (m *MetricsStore) Latest(walletID uuid.UUID) (*domain.MetricsSnapshot, error) {
	var snap domain.MetricsSnapshot
	err := m.gdb.Where("wallet_id = ?", walletID).Order("date DESC").First(&snap).Error
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
