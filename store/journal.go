package store

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"papertrader/domain"
)

// JournalStore is the append-only side channel recording fallback policy
// decisions (spec.md §4.7, grounded on _journal_proof_of_life in
// original_source/lib/strategy_runner.py).
type JournalStore struct {
	gdb *gorm.DB
}

// NewJournalStore builds a JournalStore bound to gdb.
func NewJournalStore(gdb *gorm.DB) *JournalStore {
	return &JournalStore{gdb: gdb}
}

func (j *JournalStore) initTables() error {
	return j.gdb.AutoMigrate(&domain.TradeJournal{})
}

// Append writes a new journal entry. IDs are assigned if absent.
func (j *JournalStore) Append(entry *domain.TradeJournal) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return j.gdb.Create(entry).Error
}

// ListForWallet returns a wallet's journal entries, most recent first.
func (j *JournalStore) ListForWallet(walletID uuid.UUID) ([]domain.TradeJournal, error) {
	var entries []domain.TradeJournal
	err := j.gdb.Scopes(ForWallet(walletID), OrderByCreatedDesc()).Find(&entries).Error
	return entries, err
}

// ListForWalletPage returns a page of a wallet's journal entries, most
// recent first, for the "history" CLI command.
func (j *JournalStore) ListForWalletPage(walletID uuid.UUID, limit, offset int) ([]domain.TradeJournal, error) {
	var entries []domain.TradeJournal
	err := j.gdb.Scopes(ForWallet(walletID), OrderByCreatedDesc(), Paginate(limit, offset)).Find(&entries).Error
	return entries, err
}
