package market

import "papertrader/money"

// fallbackPrices is the conservative reference table served when the
// circuit breaker is open and require_realtime=false, grounded verbatim
// on AlphaVantageProvider._generate_fallback_quote in
// original_source/lib/market_data.py.
var fallbackPrices = map[string]float64{
	"AAPL":  180,
	"MSFT":  410,
	"GOOGL": 140,
	"AMZN":  180,
	"NVDA":  480,
	"META":  490,
	"TSLA":  200,
	"AMD":   160,
	"BRK.B": 420,
	"JPM":   200,
	"JNJ":   150,
	"PG":    170,
	"KO":    63,
	"V":     270,
	"SPY":   550,
	"QQQ":   480,
	"DIA":   430,
	"IWM":   215,
	"XLK":   220,
	"XLF":   42,
	"XLE":   85,
	"XLV":   145,
	"XLI":   125,
	"VXX":   45,
	"UVXY":  18,
	"VIXY":  16,
}

const defaultFallbackPrice = 150

func fallbackPrice(ticker string) money.Amount {
	if p, ok := fallbackPrices[ticker]; ok {
		return money.New(p)
	}
	return money.New(defaultFallbackPrice)
}
