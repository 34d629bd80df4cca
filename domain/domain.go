// Package domain holds the core entity types shared across the paper
// trading engine: Wallet, Position, Order, Trade, Quote, MetricsSnapshot
// and TradeJournal, plus their enumerated fields. Field layout and
// invariants are grounded on spec.md §3 and the teacher's store/order.go
// and store/position.go column conventions.
package domain

import (
	"time"

	"github.com/google/uuid"

	"papertrader/money"
)

// Side is the direction of an order or trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType enumerates supported order lifecycles (spec.md §3).
type OrderType string

const (
	Market    OrderType = "MARKET"
	Limit     OrderType = "LIMIT"
	Stop      OrderType = "STOP"
	StopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the order can no longer be mutated.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// IsActive reports whether match_and_fill may still advance the order.
func (s OrderStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusPartial:
		return true
	}
	return false
}

// Venue is a trading venue, one of the four enumerated in spec.md §6.
type Venue string

const (
	VenueASX    Venue = "ASX"
	VenueNASDAQ Venue = "NASDAQ"
	VenueNYSE   Venue = "NYSE"
	VenueTSX    Venue = "TSX"
)

// VenueClass groups NASDAQ/NYSE under the "US" session and signal market
// label, per spec.md's MarketSessionGate table and oracle signal "market"
// column (which uses "US", not the specific exchange).
type VenueClass string

const (
	ClassUS  VenueClass = "US"
	ClassASX VenueClass = "ASX"
	ClassTSX VenueClass = "TSX"
)

// Class maps a concrete venue to its session/signal class.
func (v Venue) Class() VenueClass {
	switch v {
	case VenueNASDAQ, VenueNYSE:
		return ClassUS
	case VenueASX:
		return ClassASX
	case VenueTSX:
		return ClassTSX
	}
	return VenueClass(v)
}

// ReasonCode is a stable string identifying why an operation was rejected
// or why a fallback path triggered (spec.md §7).
type ReasonCode string

const (
	ReasonWalletNotFound           ReasonCode = "WALLET_NOT_FOUND"
	ReasonNoMarketData             ReasonCode = "NO_MARKET_DATA"
	ReasonInsufficientFunds        ReasonCode = "INSUFFICIENT_FUNDS"
	ReasonMaxPositionsReached      ReasonCode = "MAX_POSITIONS_REACHED"
	ReasonPositionTooLarge         ReasonCode = "POSITION_TOO_LARGE"
	ReasonInsufficientBuyingPower  ReasonCode = "INSUFFICIENT_BUYING_POWER"
	ReasonDuplicatePosition        ReasonCode = "DUPLICATE_POSITION"
	ReasonMarketClosed             ReasonCode = "MARKET_CLOSED"
	ReasonNoSignals                ReasonCode = "NO_SIGNALS"
	ReasonAlreadyTradedToday       ReasonCode = "ALREADY_TRADED_TODAY"
	ReasonFallbackOrderFailed      ReasonCode = "FALLBACK_ORDER_FAILED"
	ReasonOversell                 ReasonCode = "OVERSELL"
	ReasonNoPosition               ReasonCode = "NO_POSITION"
)

// SystemError formats an unexpected internal failure per spec.md §7
// ("SYSTEM_ERROR:<detail>").
func SystemError(detail string) ReasonCode {
	return ReasonCode("SYSTEM_ERROR:" + detail)
}

// Wallet is a strategy's capital envelope (spec.md §3).
type Wallet struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name             string    `gorm:"uniqueIndex;not null"`
	CapitalTier      string    `gorm:"column:capital_tier"`
	VenueClass       VenueClass `gorm:"column:venue_class;not null"`
	InitialBalance   money.Amount `gorm:"column:initial_balance;not null"`
	CurrentBalance   money.Amount `gorm:"column:current_balance;not null"`
	ReservedBalance  money.Amount `gorm:"column:reserved_balance;not null"`
	FallbackActivated bool       `gorm:"column:fallback_activated;default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Wallet) TableName() string { return "wallets" }

// BuyingPower is current_balance - reserved_balance (spec.md §3, derived).
func (w Wallet) BuyingPower() money.Amount {
	return w.CurrentBalance.Sub(w.ReservedBalance)
}

// CanAfford reports whether buying power covers a required amount.
func (w Wallet) CanAfford(required money.Amount) bool {
	return w.BuyingPower().GreaterOrEqual(required)
}

// Position is an open long holding per (wallet, ticker, venue) (spec.md §3).
type Position struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	WalletID      uuid.UUID `gorm:"column:wallet_id;not null;index:idx_positions_wallet_ticker_venue"`
	Ticker        string    `gorm:"not null;index:idx_positions_wallet_ticker_venue"`
	Venue         Venue     `gorm:"not null;index:idx_positions_wallet_ticker_venue"`
	Quantity      int64     `gorm:"not null"`
	AvgEntryPrice money.Amount `gorm:"column:avg_entry_price;not null"`
	TotalCost     money.Amount `gorm:"column:total_cost;not null"`
	RealisedPnL   money.Amount `gorm:"column:realised_pnl;not null"`
	OpenedAt      time.Time    `gorm:"column:opened_at"`
	ClosedAt      *time.Time   `gorm:"column:closed_at"`
}

func (Position) TableName() string { return "positions" }

// IsOpen reports whether the position is open: closed_at=nil and quantity>0.
func (p Position) IsOpen() bool {
	return p.ClosedAt == nil && p.Quantity > 0
}

// UnrealisedPnL computes mark-to-market PnL for the open quantity at the
// given mark price (glossary: "Unrealised PnL").
func (p Position) UnrealisedPnL(mark money.Amount) money.Amount {
	marketValue := mark.MulInt(p.Quantity)
	return marketValue.Sub(p.TotalCost)
}

// MarketValue returns quantity * mark, used by equity computation.
func (p Position) MarketValue(mark money.Amount) money.Amount {
	return mark.MulInt(p.Quantity)
}

// Order is a submitted trading intent, possibly multi-fill (spec.md §3).
type Order struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey"`
	WalletID        uuid.UUID   `gorm:"column:wallet_id;not null;index"`
	Ticker          string      `gorm:"not null;index"`
	Venue           Venue       `gorm:"not null"`
	Side            Side        `gorm:"not null"`
	Type            OrderType   `gorm:"column:type;not null"`
	Quantity        int64       `gorm:"not null"`
	FilledQuantity  int64       `gorm:"column:filled_quantity;not null;default:0"`
	LimitPrice      *money.Amount `gorm:"column:limit_price"`
	StopPrice       *money.Amount `gorm:"column:stop_price"`
	AvgFillPrice    *money.Amount `gorm:"column:avg_fill_price"`
	Status          OrderStatus `gorm:"not null;index"`
	RejectionReason ReasonCode  `gorm:"column:rejection_reason"`
	SignalSnapshot  string      `gorm:"column:signal_snapshot"` // JSON, see SignalSnapshot
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SubmittedAt     *time.Time `gorm:"column:submitted_at"`
	FilledAt        *time.Time `gorm:"column:filled_at"`
}

func (Order) TableName() string { return "orders" }

// IsFilled reports invariant O2.
func (o Order) IsFilled() bool { return o.Status == StatusFilled }

// RemainingQuantity is quantity - filled_quantity.
func (o Order) RemainingQuantity() int64 { return o.Quantity - o.FilledQuantity }

// Trade is an immutable fill record (spec.md §3, invariant T1).
type Trade struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID     uuid.UUID `gorm:"column:order_id;not null;index"`
	WalletID    uuid.UUID `gorm:"column:wallet_id;not null;index"`
	Ticker      string    `gorm:"not null"`
	Venue       Venue     `gorm:"not null"`
	Side        Side      `gorm:"not null"`
	Quantity    int64     `gorm:"not null"`
	FillPrice   money.Amount `gorm:"column:fill_price;not null"`
	SlippageBps *int         `gorm:"column:slippage_bps"`
	Commission  money.Amount `gorm:"column:commission;not null"`
	GrossAmount money.Amount `gorm:"column:gross_amount;not null"`
	NetAmount   money.Amount `gorm:"column:net_amount;not null"`
	QuoteBid    *money.Amount `gorm:"column:quote_bid"`
	QuoteAsk    *money.Amount `gorm:"column:quote_ask"`
	QuoteMid    money.Amount  `gorm:"column:quote_mid;not null"`
	FilledAt    time.Time     `gorm:"column:filled_at"`
}

func (Trade) TableName() string { return "trades" }

// Quote is a venue snapshot for (ticker, venue) at an instant (spec.md §3).
type Quote struct {
	Ticker    string
	Venue     Venue
	Price     money.Amount
	Bid       *money.Amount
	Ask       *money.Amount
	Volume    *int64
	Timestamp time.Time
	Provider  string
	Synthetic bool // tagged when served by the circuit-breaker fallback path
}

// Mid returns (bid+ask)/2 when both present, else Price (spec.md §3).
func (q Quote) Mid() money.Amount {
	if q.Bid != nil && q.Ask != nil {
		return q.Bid.Add(*q.Ask).DivInt(2)
	}
	return q.Price
}

// Spread returns ask-bid when both present.
func (q Quote) Spread() (money.Amount, bool) {
	if q.Bid != nil && q.Ask != nil {
		return q.Ask.Sub(*q.Bid), true
	}
	return money.Zero, false
}

// MarketDataQuote is one row per (ticker, venue, timestamp), upserted on
// every quote fetch during order submission and matching so later
// mark-to-market and equity calculations have a persisted quote history
// to read back (spec.md §3, §4.4.1).
type MarketDataQuote struct {
	Ticker    string       `gorm:"primaryKey"`
	Venue     Venue        `gorm:"primaryKey"`
	Timestamp time.Time    `gorm:"primaryKey"`
	Price     money.Amount `gorm:"not null"`
	Bid       *money.Amount
	Ask       *money.Amount
	Volume    *int64
	Provider  string    `gorm:"column:provider"`
	FetchedAt time.Time `gorm:"column:fetched_at"`
}

func (MarketDataQuote) TableName() string { return "market_data" }

// MetricsSnapshot is one row per (wallet, date), upserted each cycle
// (spec.md §3, §4.5.1).
type MetricsSnapshot struct {
	WalletID      uuid.UUID `gorm:"column:wallet_id;primaryKey"`
	Date          time.Time `gorm:"primaryKey"` // truncated to UTC day
	Equity        money.Amount `gorm:"not null"`
	PnL           money.Amount `gorm:"column:pnl;not null"`
	PnLPct        float64      `gorm:"column:pnl_pct;not null"`
	WinRate       *float64     `gorm:"column:win_rate"`
	TradeCount    int          `gorm:"column:trade_count;not null"`
	WinningTrades int          `gorm:"column:winning_trades;not null"`
	LosingTrades  int          `gorm:"column:losing_trades;not null"`
	UpdatedAt     time.Time
}

func (MetricsSnapshot) TableName() string { return "strategy_metrics" }

// JournalMode distinguishes normal vs. fallback journal entries.
type JournalMode string

const (
	ModeFallback JournalMode = "FALLBACK"
	ModeNormal   JournalMode = "NORMAL"
)

// JournalStatus mirrors the Python original's SUBMITTED/FAILED tags.
type JournalStatus string

const (
	JournalSubmitted JournalStatus = "SUBMITTED"
	JournalFailed    JournalStatus = "FAILED"
)

// TradeJournal is an append-only side channel recording policy decisions,
// especially fallback attempts (spec.md §3).
type TradeJournal struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey"`
	WalletID       uuid.UUID     `gorm:"column:wallet_id;not null;index"`
	Mode           JournalMode   `gorm:"not null"`
	Status         JournalStatus `gorm:"not null"`
	ReasonCodes    string        `gorm:"column:reason_codes"` // JSON array of strings
	SignalSnapshot string        `gorm:"column:signal_snapshot"`
	OrderRequest   string        `gorm:"column:order_request"`
	OrderResponse  string        `gorm:"column:order_response"`
	Fill           string        `gorm:"column:fill"`
	Error          *string       `gorm:"column:error"`
	CreatedAt      time.Time
}

func (TradeJournal) TableName() string { return "trade_journal" }

// Signal is one row projected from the upstream signal source contract
// (spec.md §6): ticker, score, price, regime, confidence, market.
type Signal struct {
	Ticker     string
	Score      float64
	Price      money.Amount
	Regime     string
	Confidence *float64
	Market     VenueClass
}

// OrderIntent is the input to ExecutionEngine.Submit (spec.md §4.4).
type OrderIntent struct {
	WalletID       uuid.UUID
	Ticker         string
	Venue          Venue
	Side           Side
	Type           OrderType
	Quantity       int64
	LimitPrice     *money.Amount
	StopPrice      *money.Amount
	SignalSnapshot *Signal
}
