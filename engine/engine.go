// Package engine is the paper trading execution core: order admission,
// fill simulation, and atomic wallet/position mutation. It is grounded on
// PaperTradingEngine in original_source/lib/engine.py, rewritten against
// papertrader/store's GORM-transactional LedgerStore instead of raw
// psycopg2 cursors.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"papertrader/domain"
	"papertrader/logger"
	"papertrader/market"
	"papertrader/money"
	"papertrader/store"
)

// Engine is the core execution component (spec.md §4.4, ~30% of the
// system's behavior).
type Engine struct {
	store          *store.Store
	marketData     market.Provider
	commission     money.Amount
	enableSlippage bool
}

// New builds an Engine. commission is charged per fill, added to cost for
// BUY and subtracted from proceeds for SELL (spec.md §4.4, Trade.from_fill).
func New(st *store.Store, marketData market.Provider, commission money.Amount, enableSlippage bool) *Engine {
	return &Engine{store: st, marketData: marketData, commission: commission, enableSlippage: enableSlippage}
}

// Submit validates an order intent, reserves buying power (BUY only),
// persists the order, and for MARKET orders immediately attempts a fill.
// On rejection it returns (nil, reason) with no order row created beyond
// a rejected marker is unnecessary — the caller never sees a half-written
// order (spec.md §4.4.1).
func (e *Engine) Submit(ctx context.Context, intent domain.OrderIntent) (*domain.Order, domain.ReasonCode, error) {
	wallet, err := e.store.Ledger().GetWallet(intent.WalletID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, domain.ReasonWalletNotFound, nil
		}
		return nil, "", err
	}

	quote, err := e.marketData.GetQuote(ctx, intent.Ticker, intent.Venue)
	if err != nil || quote == nil {
		return nil, domain.ReasonNoMarketData, nil
	}
	e.storeQuote(intent.Ticker, intent.Venue, *quote)

	estimatedPrice := e.estimatedPrice(intent, *quote)
	estimatedAmount := estimatedPrice.MulInt(intent.Quantity)

	var required money.Amount
	if intent.Side == domain.Buy {
		required = estimatedAmount.Add(e.commission)
		if !wallet.CanAfford(required) {
			return nil, domain.ReasonInsufficientFunds, nil
		}
	}

	order := &domain.Order{
		ID:         uuid.New(),
		WalletID:   intent.WalletID,
		Ticker:     intent.Ticker,
		Venue:      intent.Venue,
		Side:       intent.Side,
		Type:       intent.Type,
		Quantity:   intent.Quantity,
		LimitPrice: intent.LimitPrice,
		StopPrice:  intent.StopPrice,
		Status:     domain.StatusSubmitted,
	}
	now := time.Now().UTC()
	order.SubmittedAt = &now
	if intent.SignalSnapshot != nil {
		if snap, err := json.Marshal(intent.SignalSnapshot); err == nil {
			order.SignalSnapshot = string(snap)
		}
	}

	if err := e.store.Ledger().CreateOrder(order); err != nil {
		return nil, "", fmt.Errorf("engine: create order: %w", err)
	}

	if intent.Side == domain.Buy {
		if err := e.store.Ledger().ReserveBalance(wallet.ID, required); err != nil {
			return nil, "", fmt.Errorf("engine: reserve balance: %w", err)
		}
	}

	logger.Infof("order submitted: %s %d %s (%s)", order.Side, order.Quantity, order.Ticker, order.ID)

	if intent.Type == domain.Market {
		if _, err := e.MatchAndFill(ctx, order.ID); err != nil {
			logger.Warnf("engine: immediate fill failed for %s: %v", order.ID, err)
		}
	}

	return order, "", nil
}

// MatchAndFill attempts to fill an active order against the current quote.
// MARKET orders always fill (at bid/ask with optional slippage); LIMIT
// orders fill only when the limit price is breached. Returns whether a
// fill occurred.
func (e *Engine) MatchAndFill(ctx context.Context, orderID uuid.UUID) (bool, error) {
	order, err := e.store.Ledger().GetOrder(orderID)
	if err != nil {
		return false, err
	}
	if !order.Status.IsActive() {
		return false, nil
	}

	quote, err := e.marketData.GetQuote(ctx, order.Ticker, order.Venue)
	if err != nil || quote == nil {
		return false, nil
	}
	e.storeQuote(order.Ticker, order.Venue, *quote)

	fillPrice, ok := e.calculateFillPrice(*order, *quote)
	if !ok {
		return false, nil
	}

	fillQuantity := order.RemainingQuantity()
	trade := buildTrade(*order, fillQuantity, fillPrice, *quote, e.commission)

	filled := false
	err = e.store.Transaction(func(tx *gorm.DB) error {
		ledger := e.store.Ledger().WithTx(tx)

		if err := ledger.CreateTrade(&trade); err != nil {
			return err
		}

		newFilledQty := order.FilledQuantity + fillQuantity
		newStatus := domain.StatusPartial
		var filledAt *time.Time
		if newFilledQty >= order.Quantity {
			newStatus = domain.StatusFilled
			now := time.Now().UTC()
			filledAt = &now
			filled = true
		}

		avgFill := weightedAvgFill(order.AvgFillPrice, order.FilledQuantity, fillPrice, fillQuantity, newFilledQty)

		order.FilledQuantity = newFilledQty
		order.AvgFillPrice = &avgFill
		order.Status = newStatus
		order.FilledAt = filledAt
		if err := ledger.UpdateOrderAfterFill(order); err != nil {
			return err
		}

		if order.Side == domain.Buy {
			return ledger.ApplyBuyFill(*order, trade)
		}
		return ledger.ApplySellFill(*order, trade)
	})
	if err != nil {
		return false, fmt.Errorf("engine: apply fill: %w", err)
	}

	logger.WithOrder(order.ID, order.Ticker).Infof("order filled: %d @ %s (%s)", fillQuantity, fillPrice, order.Status)
	return filled || order.Status == domain.StatusPartial, nil
}

// storeQuote persists quote into the quote history table for later
// mark-to-market (spec.md §3, §4.4.1). Grounded on
// original_source/lib/engine.py's _store_market_quote: a failure here is
// logged and swallowed, never propagated to the order flow.
func (e *Engine) storeQuote(ticker string, venue domain.Venue, quote domain.Quote) {
	if err := e.store.MarketData().Upsert(ticker, venue, quote); err != nil {
		logger.Warnf("engine: failed to store market quote for %s: %v", ticker, err)
	}
}

// estimatedPrice mirrors submit_order's pre-fill cost estimate: ask for
// BUY / bid for SELL on MARKET orders, limit_price on LIMIT orders.
func (e *Engine) estimatedPrice(intent domain.OrderIntent, quote domain.Quote) money.Amount {
	if intent.Type == domain.Market {
		if intent.Side == domain.Buy && quote.Ask != nil {
			return *quote.Ask
		}
		if intent.Side == domain.Sell && quote.Bid != nil {
			return *quote.Bid
		}
		return quote.Price
	}
	if intent.LimitPrice != nil {
		return *intent.LimitPrice
	}
	return quote.Price
}

// calculateFillPrice applies the MARKET/LIMIT fill rule (spec.md §4.4.2).
// STOP and STOP_LIMIT orders are not yet fillable by this engine.
func (e *Engine) calculateFillPrice(order domain.Order, quote domain.Quote) (money.Amount, bool) {
	switch order.Type {
	case domain.Market:
		var base money.Amount
		if order.Side == domain.Buy {
			if quote.Ask != nil {
				base = *quote.Ask
			} else {
				base = quote.Price
			}
		} else {
			if quote.Bid != nil {
				base = *quote.Bid
			} else {
				base = quote.Price
			}
		}
		if e.enableSlippage {
			if spread, ok := quote.Spread(); ok {
				factor := rand.Float64() - 0.5 // uniform in [-0.5, 0.5), matches random.uniform(-0.5, 0.5)
				slippage := spread.Mul(money.New(factor))
				base = base.Add(slippage)
			}
		}
		return money.Round(base.Decimal()), true

	case domain.Limit:
		if order.LimitPrice == nil {
			return money.Zero, false
		}
		if order.Side == domain.Buy {
			if quote.Ask != nil && quote.Ask.LessOrEqual(*order.LimitPrice) {
				return *quote.Ask, true
			}
			return money.Zero, false
		}
		if quote.Bid != nil && quote.Bid.GreaterOrEqual(*order.LimitPrice) {
			return *quote.Bid, true
		}
		return money.Zero, false

	default:
		// STOP / STOP_LIMIT: not yet implemented (spec.md §4.4.2).
		return money.Zero, false
	}
}

func weightedAvgFill(existing *money.Amount, existingQty int64, fillPrice money.Amount, fillQty, totalQty int64) money.Amount {
	if existing == nil {
		return fillPrice
	}
	weighted := existing.MulInt(existingQty).Add(fillPrice.MulInt(fillQty))
	return weighted.DivInt(totalQty)
}

func buildTrade(order domain.Order, quantity int64, fillPrice money.Amount, quote domain.Quote, commission money.Amount) domain.Trade {
	gross := fillPrice.MulInt(quantity)
	var net money.Amount
	if order.Side == domain.Buy {
		net = gross.Add(commission)
	} else {
		net = gross.Sub(commission)
	}

	mid := quote.Mid()
	var slippageBps *int
	if !mid.IsZero() {
		bps := fillPrice.Sub(mid).Div(mid).Mul(money.FromInt(10000))
		v := int(bps.Float64())
		slippageBps = &v
	}

	return domain.Trade{
		ID:          uuid.New(),
		OrderID:     order.ID,
		WalletID:    order.WalletID,
		Ticker:      order.Ticker,
		Venue:       order.Venue,
		Side:        order.Side,
		Quantity:    quantity,
		FillPrice:   fillPrice,
		SlippageBps: slippageBps,
		Commission:  commission,
		GrossAmount: gross,
		NetAmount:   net,
		QuoteBid:    quote.Bid,
		QuoteAsk:    quote.Ask,
		QuoteMid:    mid,
		FilledAt:    time.Now().UTC(),
	}
}

// GetWallet exposes a read-only wallet lookup for the strategy runner.
func (e *Engine) GetWallet(id uuid.UUID) (*domain.Wallet, error) {
	return e.store.Ledger().GetWallet(id)
}

// GetOpenPositions exposes a read-only position lookup.
func (e *Engine) GetOpenPositions(walletID uuid.UUID) ([]domain.Position, error) {
	return e.store.Ledger().GetOpenPositions(walletID)
}

// GetWalletEquity sums current_balance plus the mark-to-market value of
// every open position (glossary: "Equity").
func (e *Engine) GetWalletEquity(ctx context.Context, walletID uuid.UUID) (money.Amount, error) {
	wallet, err := e.store.Ledger().GetWallet(walletID)
	if err != nil {
		return money.Zero, err
	}
	positions, err := e.store.Ledger().GetOpenPositions(walletID)
	if err != nil {
		return money.Zero, err
	}
	equity := wallet.CurrentBalance
	for _, pos := range positions {
		quote, err := e.marketData.GetQuote(ctx, pos.Ticker, pos.Venue)
		if err != nil || quote == nil {
			equity = equity.Add(pos.TotalCost) // conservative: carry cost basis if no quote
			continue
		}
		equity = equity.Add(pos.MarketValue(quote.Price))
	}
	return equity, nil
}
