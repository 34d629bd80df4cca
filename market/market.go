// Package market provides quote data for tickers: a live Alpha Vantage
// client with caching, rate limiting and a circuit breaker, grounded on
// original_source/lib/market_data.py's AlphaVantageProvider, rewritten
// against go-resty/resty/v2 instead of requests and papertrader/money
// instead of decimal.Decimal.
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

// Provider fetches a current quote for a ticker on a venue.
type Provider interface {
	GetQuote(ctx context.Context, ticker string, venue domain.Venue) (*domain.Quote, error)
}

const baseURL = "https://www.alphavantage.co/query"

type cacheEntry struct {
	quote    domain.Quote
	fetchedAt time.Time
}

// AlphaVantageProvider implements Provider against Alpha Vantage's
// GLOBAL_QUOTE endpoint, with a synthetic bid/ask spread model (Alpha
// Vantage doesn't return one) and a circuit breaker that falls back to a
// fixed reference-price table when the caller has declared
// require_realtime=false (spec.md §4.1).
type AlphaVantageProvider struct {
	client *resty.Client
	apiKey string

	cacheTTL  time.Duration
	spreadBps int

	requireRealtime bool

	mu    sync.Mutex
	cache map[string]cacheEntry

	// Rate limiting: Premium tier is 150 req/min; mirrors the dual
	// minimum-interval + rolling-counter scheme in the original.
	minRequestInterval time.Duration
	lastRequestTime    time.Time
	requestsThisMinute int
	minuteStart        time.Time
	requestSafetyMargin int

	// Circuit breaker (spec.md §4.1): CLOSED/OPEN, explicit-reset-only.
	consecutiveFailures    int
	maxConsecutiveFailures int
	open                   bool
}

// Config controls AlphaVantageProvider construction.
type Config struct {
	APIKey          string
	CacheTTL        time.Duration
	SpreadBps       int
	RequireRealtime bool
}

// NewAlphaVantageProvider builds a provider with the Premium-tier rate
// limit (150 req/min, 0.4s minimum interval, 145-request safety margin)
// and a 5-consecutive-failure circuit breaker threshold.
func NewAlphaVantageProvider(cfg Config) *AlphaVantageProvider {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = 10
	}
	return &AlphaVantageProvider{
		client:                 resty.New().SetTimeout(10 * time.Second),
		apiKey:                 cfg.APIKey,
		cacheTTL:               cfg.CacheTTL,
		spreadBps:              cfg.SpreadBps,
		requireRealtime:        cfg.RequireRealtime,
		cache:                  make(map[string]cacheEntry),
		minRequestInterval:     400 * time.Millisecond,
		minuteStart:            time.Now(),
		requestSafetyMargin:    145,
		maxConsecutiveFailures: 5,
	}
}

func cacheKey(ticker string, venue domain.Venue) string {
	return fmt.Sprintf("%s:%s", ticker, venue)
}

// GetQuote returns a cached, live, or (when the circuit is open and
// require_realtime is false) synthetic quote for ticker.
func (p *AlphaVantageProvider) GetQuote(ctx context.Context, ticker string, venue domain.Venue) (*domain.Quote, error) {
	p.mu.Lock()
	if p.open {
		p.mu.Unlock()
		if !p.requireRealtime {
			logger.Infof("market: circuit open, serving synthetic quote for %s", ticker)
			q := p.syntheticQuote(ticker, venue)
			return &q, nil
		}
		return nil, fmt.Errorf("market: circuit breaker open after %d consecutive failures", p.maxConsecutiveFailures)
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

// rateLimit enforces both the per-minute request counter (with a 145-req
// safety margin against the 150/min Premium ceiling) and the 0.4s minimum
// spacing between requests.
func (p *AlphaVantageProvider) rateLimit() {
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

func (p *AlphaVantageProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures++
	if p.consecutiveFailures >= p.maxConsecutiveFailures {
		p.open = true
		logger.Errorf("market: circuit breaker OPEN after %d consecutive failures", p.consecutiveFailures)
	}
}

// Reset closes the circuit breaker. The original has no automatic
// half-open recovery; this is the only path back to CLOSED (spec.md §4.1).
func (p *AlphaVantageProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.consecutiveFailures = 0
}

type globalQuoteEnvelope struct {
	GlobalQuote struct {
		Price  string `json:"05. price"`
		Volume string `json:"06. volume"`
	} `json:"Global Quote"`
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
}

func (p *AlphaVantageProvider) fetch(ctx context.Context, ticker string, venue domain.Venue) (*domain.Quote, error) {
	var env globalQuoteEnvelope
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"function":    "GLOBAL_QUOTE",
			"symbol":      ticker,
			"entitlement": "realtime",
			"apikey":      p.apiKey,
		}).
		SetResult(&env).
		Get(baseURL)
	if err != nil {
		return nil, fmt.Errorf("market: request failed for %s: %w", ticker, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market: http %d for %s", resp.StatusCode(), ticker)
	}
	if env.ErrorMessage != "" {
		return nil, fmt.Errorf("market: api error for %s: %s", ticker, env.ErrorMessage)
	}
	if env.Note != "" {
		return nil, fmt.Errorf("market: rate limited for %s: %s", ticker, env.Note)
	}
	if env.GlobalQuote.Price == "" {
		return nil, fmt.Errorf("market: empty quote for %s", ticker)
	}

	price, err := money.NewFromString(env.GlobalQuote.Price)
	if err != nil {
		return nil, fmt.Errorf("market: parse price for %s: %w", ticker, err)
	}

	bid, ask := p.spreadModel(price)
	return &domain.Quote{
		Ticker:    ticker,
		Venue:     venue,
		Price:     price,
		Bid:       &bid,
		Ask:       &ask,
		Timestamp: time.Now().UTC(),
		Provider:  "alphavantage-realtime",
	}, nil
}

// spreadModel synthesizes a bid/ask around price using the configured
// basis-point spread, since Alpha Vantage's GLOBAL_QUOTE has no spread.
func (p *AlphaVantageProvider) spreadModel(price money.Amount) (bid, ask money.Amount) {
	offset := money.BpsOf(price, p.spreadBps)
	return price.Sub(offset), price.Add(offset)
}

func (p *AlphaVantageProvider) syntheticQuote(ticker string, venue domain.Venue) domain.Quote {
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
