package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"papertrader/domain"
	"papertrader/money"
)

// LedgerStore persists wallets, positions, orders and trades. It is the
// sole writer of the conservation-law entities the execution engine
// mutates atomically (spec invariants I1/I2).
type LedgerStore struct {
	gdb *gorm.DB
}

// NewLedgerStore builds a LedgerStore bound to gdb.
func NewLedgerStore(gdb *gorm.DB) *LedgerStore {
	return &LedgerStore{gdb: gdb}
}

// WithTx returns a LedgerStore scoped to an in-flight transaction, so the
// execution engine can read and write wallet/position/order/trade rows
// inside one atomic unit of work.
func (l *LedgerStore) WithTx(tx *gorm.DB) *LedgerStore {
	return &LedgerStore{gdb: tx}
}

func (l *LedgerStore) initTables() error {
	return l.gdb.AutoMigrate(&domain.Wallet{}, &domain.Position{}, &domain.Order{}, &domain.Trade{})
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrNoPosition is wrapped into the error returned by ApplySellFill when
// there is no open position to sell against.
var ErrNoPosition = errors.New("no open position")

// ErrOversell is wrapped into the error returned by ApplySellFill when the
// fill quantity exceeds the open position's quantity.
var ErrOversell = errors.New("sell exceeds position")

// -----------------------------------------------------------------------
// Wallets
// -----------------------------------------------------------------------

// CreateWallet inserts a new wallet with current_balance = initial_balance.
func (l *LedgerStore) CreateWallet(w *domain.Wallet) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CurrentBalance.IsZero() {
		w.CurrentBalance = w.InitialBalance
	}
	return l.gdb.Create(w).Error
}

// GetWallet loads a wallet by ID.
func (l *LedgerStore) GetWallet(id uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := l.gdb.Where("id = ?", id).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListTradableWallets returns wallets whose name does not carry the
// reserved test prefix, per the venue cycle's wallet fan-out (spec.md §6).
func (l *LedgerStore) ListTradableWallets(class domain.VenueClass) ([]domain.Wallet, error) {
	var wallets []domain.Wallet
	err := l.gdb.
		Where("venue_class = ?", class).
		Where("name NOT LIKE ?", "Test-Wallet-%").
		Find(&wallets).Error
	return wallets, err
}

// ReserveBalance increases a wallet's reserved_balance by amount (BUY order
// submission, spec.md §4.4.1 step 6).
func (l *LedgerStore) ReserveBalance(walletID uuid.UUID, amount money.Amount) error {
	w, err := l.GetWallet(walletID)
	if err != nil {
		return err
	}
	w.ReservedBalance = w.ReservedBalance.Add(amount)
	return l.gdb.Model(&domain.Wallet{}).Where("id = ?", walletID).Updates(map[string]interface{}{
		"reserved_balance": w.ReservedBalance,
		"updated_at":       time.Now().UTC(),
	}).Error
}

// GetOpenPositions returns every open position for a wallet.
func (l *LedgerStore) GetOpenPositions(walletID uuid.UUID) ([]domain.Position, error) {
	var positions []domain.Position
	err := l.gdb.Scopes(OpenPositions()).Where("wallet_id = ?", walletID).Find(&positions).Error
	return positions, err
}

// ListAllPositions returns every position ever opened for a wallet,
// open or closed, for realised-PnL/win-rate accounting.
func (l *LedgerStore) ListAllPositions(walletID uuid.UUID) ([]domain.Position, error) {
	var positions []domain.Position
	err := l.gdb.Where("wallet_id = ?", walletID).Find(&positions).Error
	return positions, err
}

// GetPosition returns the open position for (wallet, ticker, venue), if any.
func (l *LedgerStore) GetPosition(walletID uuid.UUID, ticker string, venue domain.Venue) (*domain.Position, error) {
	var p domain.Position
	err := l.gdb.Scopes(OpenPositions()).
		Where("wallet_id = ? AND ticker = ? AND venue = ?", walletID, ticker, venue).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -----------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------

// CreateOrder inserts a new order with the status the caller set on it.
func (l *LedgerStore) CreateOrder(o *domain.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return l.gdb.Create(o).Error
}

// GetOrder loads an order by ID.
func (l *LedgerStore) GetOrder(id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	err := l.gdb.Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOpenNonMarketOrders returns the wallet's still-active LIMIT/STOP
// orders, scanned each cycle so resting orders get a chance to fill
// (spec.md Open Question 4, disposed in DESIGN.md).
func (l *LedgerStore) ListOpenNonMarketOrders(walletID uuid.UUID) ([]domain.Order, error) {
	var orders []domain.Order
	err := l.gdb.
		Where("wallet_id = ?", walletID).
		Where("type <> ?", domain.Market).
		Where("status IN ?", []domain.OrderStatus{domain.StatusPending, domain.StatusSubmitted, domain.StatusPartial}).
		Find(&orders).Error
	return orders, err
}

// ListRecentOrders returns a wallet's most recently updated orders, newest
// first, for the "history" CLI command.
func (l *LedgerStore) ListRecentOrders(walletID uuid.UUID, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := l.gdb.Scopes(ForWallet(walletID), OrderByUpdatedDesc(), Paginate(limit, 0)).Find(&orders).Error
	return orders, err
}

// UpdateOrderAfterFill persists the post-fill status/quantity/avg price.
func (l *LedgerStore) UpdateOrderAfterFill(o *domain.Order) error {
	return l.gdb.Model(&domain.Order{}).Where("id = ?", o.ID).Updates(map[string]interface{}{
		"filled_quantity": o.FilledQuantity,
		"avg_fill_price":  o.AvgFillPrice,
		"status":          o.Status,
		"filled_at":       o.FilledAt,
		"updated_at":      time.Now().UTC(),
	}).Error
}

// RejectOrder marks a pending order rejected with a reason code.
func (l *LedgerStore) RejectOrder(id uuid.UUID, reason domain.ReasonCode) error {
	return l.gdb.Model(&domain.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           domain.StatusRejected,
		"rejection_reason": reason,
		"updated_at":       time.Now().UTC(),
	}).Error
}

// -----------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------

// CreateTrade inserts an immutable fill record.
func (l *LedgerStore) CreateTrade(t *domain.Trade) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return l.gdb.Create(t).Error
}

// ListTradesSince returns a wallet's trades filled at or after since,
// used by the fallback policy's "already traded today" guard.
func (l *LedgerStore) ListTradesSince(walletID uuid.UUID, since time.Time) ([]domain.Trade, error) {
	var trades []domain.Trade
	err := l.gdb.
		Where("wallet_id = ?", walletID).
		Where("filled_at >= ?", since).
		Find(&trades).Error
	return trades, err
}

// MarkFallbackActivated flips the wallet's one-shot fallback flag, used
// by ASXPolicy to enforce a single lifetime trade per wallet.
func (l *LedgerStore) MarkFallbackActivated(walletID uuid.UUID) error {
	return l.gdb.Model(&domain.Wallet{}).Where("id = ?", walletID).Updates(map[string]interface{}{
		"fallback_activated": true,
		"updated_at":         time.Now().UTC(),
	}).Error
}

// -----------------------------------------------------------------------
// Atomic fill application (spec.md §4.4.3)
// -----------------------------------------------------------------------

// ApplyBuyFill deducts net_amount from current_balance, releases
// min(net_amount, reserved_balance) from reserved_balance (never driving it
// negative), and applies the fill to the wallet's position in (ticker,
// venue) — creating it if none is open, averaging up if one exists.
func (l *LedgerStore) ApplyBuyFill(order domain.Order, trade domain.Trade) error {
	w, err := l.GetWallet(order.WalletID)
	if err != nil {
		return err
	}
	release := money.Min(trade.NetAmount, w.ReservedBalance)
	newBalance := w.CurrentBalance.Sub(trade.NetAmount)
	newReserved := money.MaxZero(w.ReservedBalance.Sub(release))
	now := time.Now().UTC()
	if err := l.gdb.Model(&domain.Wallet{}).Where("id = ?", w.ID).Updates(map[string]interface{}{
		"current_balance":  newBalance,
		"reserved_balance":  newReserved,
		"updated_at":        now,
	}).Error; err != nil {
		return err
	}

	pos, err := l.GetPosition(order.WalletID, order.Ticker, order.Venue)
	if errors.Is(err, ErrNotFound) {
		newPos := domain.Position{
			ID:            uuid.New(),
			WalletID:      order.WalletID,
			Ticker:        order.Ticker,
			Venue:         order.Venue,
			Quantity:      trade.Quantity,
			AvgEntryPrice: trade.NetAmount.DivInt(trade.Quantity),
			TotalCost:     trade.NetAmount,
			OpenedAt:      now,
		}
		return l.gdb.Create(&newPos).Error
	}
	if err != nil {
		return err
	}

	newQty := pos.Quantity + trade.Quantity
	newCost := pos.TotalCost.Add(trade.NetAmount)
	newAvg := newCost.DivInt(newQty)
	return l.gdb.Model(&domain.Position{}).Where("id = ?", pos.ID).Updates(map[string]interface{}{
		"quantity":        newQty,
		"avg_entry_price": newAvg,
		"total_cost":      newCost,
	}).Error
}

// ApplySellFill credits net_amount to current_balance and reduces (or
// closes) the matching position, recording realised PnL. It returns an
// error wrapping ErrOversell if the position cannot cover the fill and one
// wrapping ErrNoPosition if there is nothing open to sell against.
func (l *LedgerStore) ApplySellFill(order domain.Order, trade domain.Trade) error {
	w, err := l.GetWallet(order.WalletID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := l.gdb.Model(&domain.Wallet{}).Where("id = ?", w.ID).Updates(map[string]interface{}{
		"current_balance": w.CurrentBalance.Add(trade.NetAmount),
		"updated_at":      now,
	}).Error; err != nil {
		return err
	}

	pos, err := l.GetPosition(order.WalletID, order.Ticker, order.Venue)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("store: %w: no open position for %s/%s", ErrNoPosition, order.Ticker, order.Venue)
	}
	if err != nil {
		return err
	}
	if trade.Quantity > pos.Quantity {
		return fmt.Errorf("store: %w: sell %d exceeds position %d", ErrOversell, trade.Quantity, pos.Quantity)
	}

	costBasisSold := pos.AvgEntryPrice.MulInt(trade.Quantity)
	realisedPnL := trade.GrossAmount.Sub(costBasisSold).Sub(trade.Commission)

	newQty := pos.Quantity - trade.Quantity
	newCost := pos.TotalCost.Sub(costBasisSold)
	newRealised := pos.RealisedPnL.Add(realisedPnL)

	updates := map[string]interface{}{
		"quantity":     newQty,
		"total_cost":   newCost,
		"realised_pnl": newRealised,
	}
	if newQty == 0 {
		updates["closed_at"] = now
	}
	return l.gdb.Model(&domain.Position{}).Where("id = ?", pos.ID).Updates(updates).Error
}
