// TwelveDataProvider adapts provider/twelvedata/kline.go's REST client
// (originally a crypto/kline fetcher) into a second market.Provider
// backend. Alpha Vantage's GLOBAL_QUOTE has patchy coverage for
// non-US listings; Twelve Data's /quote endpoint accepts an "exchange"
// parameter and understands ASX tickers directly, so it is wired in as
// the ASX venue's provider (see cmd/papertrader's buildRunner) rather
// than dropped.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"papertrader/domain"
	"papertrader/logger"
	"papertrader/money"
)

const twelveDataBaseURL = "https://api.twelvedata.com"

// twelveDataQuote mirrors provider/twelvedata/kline.go's QuoteResponse,
// trimmed to the quote and error fields; Symbol and Previous are decoded
// but not read.
type twelveDataQuote struct {
	Symbol   string `json:"symbol"`
	Close    string `json:"close"`
	Previous string `json:"previous_close"`
	Status   string `json:"status,omitempty"`
	Code     int    `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TwelveDataProvider implements Provider against Twelve Data's /quote
// endpoint. It shares the same synthetic-fallback and circuit-breaker
// shape as AlphaVantageProvider, grounded on the same
// original_source/lib/market_data.py behaviour, but its own request
// budget: Twelve Data's free/basic tiers cap at 8 requests/minute, far
// below Alpha Vantage Premium's 150, so the rate limiter here is
// configured separately rather than shared.
type TwelveDataProvider struct {
	client *resty.Client
	apiKey string

	cacheTTL  time.Duration
	spreadBps int

	requireRealtime bool

	mu    sync.Mutex
	cache map[string]cacheEntry

	minRequestInterval time.Duration
	lastRequestTime    time.Time
	requestsThisMinute int
	minuteStart        time.Time
	requestSafetyMargin int

	consecutiveFailures    int
	maxConsecutiveFailures int
	open                   bool
}

// NewTwelveDataProvider builds a provider against the free/basic tier's
// 8 requests/minute budget (safety margin of 6) and the same 5-failure
// circuit breaker threshold as AlphaVantageProvider.
func NewTwelveDataProvider(cfg Config) *TwelveDataProvider {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = 10
	}
	return &TwelveDataProvider{
		client:                 resty.New().SetTimeout(10 * time.Second),
		apiKey:                 cfg.APIKey,
		cacheTTL:               cfg.CacheTTL,
		spreadBps:              cfg.SpreadBps,
		requireRealtime:        cfg.RequireRealtime,
		cache:                  make(map[string]cacheEntry),
		minRequestInterval:     7500 * time.Millisecond,
		minuteStart:            time.Now(),
		requestSafetyMargin:    6,
		maxConsecutiveFailures: 5,
	}
}

// GetQuote returns a cached, live, or synthetic quote for ticker, per
// the same precedence as AlphaVantageProvider.GetQuote.
func (p *TwelveDataProvider) GetQuote(ctx context.Context, ticker string, venue domain.Venue) (*domain.Quote, error) {
	p.mu.Lock()
	if p.open {
		p.mu.Unlock()
		if !p.requireRealtime {
			logger.Infof("market: twelvedata circuit open, serving synthetic quote for %s", ticker)
			q := p.syntheticQuote(ticker, venue)
			return &q, nil
		}
		return nil, fmt.Errorf("market: twelvedata circuit breaker open after %d consecutive failures", p.maxConsecutiveFailures)
	}

	if cached, ok := p.cache[cacheKey(ticker, venue)]; ok && time.Since(cached.fetchedAt) < p.cacheTTL {
		p.mu.Unlock()
		return &cached.quote, nil
	}
	p.mu.Unlock()

	p.rateLimit()

	quote, err := p.fetch(ctx, ticker, venue)
	if err != nil {
		p.recordFailure()
		return nil, err
	}

	p.mu.Lock()
	p.consecutiveFailures = 0
	p.cache[cacheKey(ticker, venue)] = cacheEntry{quote: *quote, fetchedAt: time.Now()}
	p.mu.Unlock()

	return quote, nil
}

func (p *TwelveDataProvider) rateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.minuteStart) >= time.Minute {
		p.requestsThisMinute = 0
		p.minuteStart = now
	}

	if p.requestsThisMinute >= p.requestSafetyMargin {
		sleepFor := time.Minute - now.Sub(p.minuteStart)
		if sleepFor > 0 {
			time.Sleep(sleepFor)
		}
		p.requestsThisMinute = 0
		p.minuteStart = time.Now()
	}

	elapsed := time.Since(p.lastRequestTime)
	if elapsed < p.minRequestInterval {
		time.Sleep(p.minRequestInterval - elapsed)
	}
	p.lastRequestTime = time.Now()
	p.requestsThisMinute++
}

func (p *TwelveDataProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures++
	if p.consecutiveFailures >= p.maxConsecutiveFailures {
		p.open = true
		logger.Errorf("market: twelvedata circuit breaker OPEN after %d consecutive failures", p.consecutiveFailures)
	}
}

// Reset closes the circuit breaker, the only path back to CLOSED.
func (p *TwelveDataProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.consecutiveFailures = 0
}

func (p *TwelveDataProvider) fetch(ctx context.Context, ticker string, venue domain.Venue) (*domain.Quote, error) {
	var env twelveDataQuote
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": ticker,
			"apikey": p.apiKey,
		}).
		SetResult(&env).
		Get(twelveDataBaseURL + "/quote")
	if err != nil {
		return nil, fmt.Errorf("market: twelvedata request failed for %s: %w", ticker, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market: twelvedata http %d for %s", resp.StatusCode(), ticker)
	}
	if env.Status == "error" {
		return nil, fmt.Errorf("market: twelvedata api error for %s (code %d): %s", ticker, env.Code, env.Message)
	}
	if env.Close == "" {
		return nil, fmt.Errorf("market: twelvedata empty quote for %s", ticker)
	}

	price, err := money.NewFromString(env.Close)
	if err != nil {
		return nil, fmt.Errorf("market: twelvedata parse price for %s: %w", ticker, err)
	}

	bid, ask := p.spreadModel(price)
	return &domain.Quote{
		Ticker:    ticker,
		Venue:     venue,
		Price:     price,
		Bid:       &bid,
		Ask:       &ask,
		Timestamp: time.Now().UTC(),
		Provider:  "twelvedata-realtime",
	}, nil
}

func (p *TwelveDataProvider) spreadModel(price money.Amount) (bid, ask money.Amount) {
	offset := money.BpsOf(price, p.spreadBps)
	return price.Sub(offset), price.Add(offset)
}

func (p *TwelveDataProvider) syntheticQuote(ticker string, venue domain.Venue) domain.Quote {
	price := fallbackPrice(ticker)
	bid, ask := p.spreadModel(price)
	return domain.Quote{
		Ticker:    ticker,
		Venue:     venue,
		Price:     price,
		Bid:       &bid,
		Ask:       &ask,
		Timestamp: time.Now().UTC(),
		Provider:  "synthetic-fallback",
		Synthetic: true,
	}
}
