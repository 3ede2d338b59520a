// Package finance implements the market lookups and calculators that
// back the assistant's tool calls: crypto quotes from CoinMarketCap,
// end-of-day stock closes from marketstack, currency rates from
// frankfurter, and amortized loan payments.
package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/nugget/penny/internal/httpkit"
)

// ErrNoData is returned when a provider answers but has nothing for
// the requested symbol or currency pair.
var ErrNoData = errors.New("no data for symbol")

// MarketConfig configures a Market.
type MarketConfig struct {
	CoinMarketCapURL string
	CoinMarketCapKey string
	MarketstackURL   string
	MarketstackKey   string
	FrankfurterURL   string

	// CacheTTL is how long a quote is reused. Zero disables caching.
	CacheTTL time.Duration

	Logger *slog.Logger
}

// Market fetches quotes from the configured providers.
type Market struct {
	cfg    MarketConfig
	crypto *http.Client
	plain  *http.Client
	quotes *cache.Cache
	logger *slog.Logger
}

// NewMarket builds a Market with one HTTP client per credential style.
func NewMarket(cfg MarketConfig) *Market {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "market")

	m := &Market{
		cfg: cfg,
		crypto: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithHeader("X-CMC_PRO_API_KEY", cfg.CoinMarketCapKey),
			httpkit.WithLogger(logger),
		),
		plain: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
	if cfg.CacheTTL > 0 {
		m.quotes = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return m
}

// CryptoQuote is the latest USD price of a cryptocurrency.
type CryptoQuote struct {
	Symbol   string
	PriceUSD decimal.Decimal
}

// Sentence renders the quote for the assistant.
func (q CryptoQuote) Sentence() string {
	return fmt.Sprintf("The current price of %s is **$%s USD**.", q.Symbol, q.PriceUSD.StringFixed(2))
}

// StockClose is the most recent end-of-day close for a ticker.
type StockClose struct {
	Symbol string
	Close  decimal.Decimal
	Date   string // YYYY-MM-DD
}

// Sentence renders the close for the assistant.
func (s StockClose) Sentence() string {
	return fmt.Sprintf("The last closing price of %s was **$%s** on %s.", s.Symbol, s.Close.String(), s.Date)
}

// ExchangeRate is the value of one unit of Base in Target.
type ExchangeRate struct {
	Base   string
	Target string
	Rate   decimal.Decimal
	Date   string
}

// Sentence renders the rate for the assistant.
func (r ExchangeRate) Sentence() string {
	return fmt.Sprintf("1 %s = %s %s (as of %s)", r.Base, r.Rate.StringFixed(2), r.Target, r.Date)
}

type cmcResponse struct {
	Data map[string]struct {
		Quote map[string]struct {
			Price decimal.Decimal `json:"price"`
		} `json:"quote"`
	} `json:"data"`
}

// CryptoPrice returns the latest USD price for symbol.
func (m *Market) CryptoPrice(ctx context.Context, symbol string) (CryptoQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := "crypto:" + symbol
	if q, ok := m.cached(key); ok {
		return q.(CryptoQuote), nil
	}

	u := m.cfg.CoinMarketCapURL + "/v1/cryptocurrency/quotes/latest?" + url.Values{
		"symbol":  {symbol},
		"convert": {"USD"},
	}.Encode()

	var resp cmcResponse
	if err := httpkit.GetJSON(ctx, m.crypto, u, &resp); err != nil {
		return CryptoQuote{}, fmt.Errorf("coinmarketcap %s: %w", symbol, err)
	}
	entry, ok := resp.Data[symbol]
	if !ok {
		return CryptoQuote{}, fmt.Errorf("coinmarketcap %s: %w", symbol, ErrNoData)
	}
	usd, ok := entry.Quote["USD"]
	if !ok {
		return CryptoQuote{}, fmt.Errorf("coinmarketcap %s: no USD quote: %w", symbol, ErrNoData)
	}

	q := CryptoQuote{Symbol: symbol, PriceUSD: usd.Price}
	m.store(key, q)
	return q, nil
}

type marketstackResponse struct {
	Data []struct {
		Symbol string          `json:"symbol"`
		Close  decimal.Decimal `json:"close"`
		Date   string          `json:"date"`
	} `json:"data"`
}

// StockClose returns the most recent end-of-day close for symbol.
func (m *Market) StockClose(ctx context.Context, symbol string) (StockClose, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := "stock:" + symbol
	if q, ok := m.cached(key); ok {
		return q.(StockClose), nil
	}

	u := m.cfg.MarketstackURL + "/v1/eod?" + url.Values{
		"access_key": {m.cfg.MarketstackKey},
		"symbols":    {symbol},
	}.Encode()

	var resp marketstackResponse
	if err := httpkit.GetJSON(ctx, m.plain, u, &resp); err != nil {
		return StockClose{}, fmt.Errorf("marketstack %s: %w", symbol, err)
	}
	if len(resp.Data) == 0 {
		return StockClose{}, fmt.Errorf("marketstack %s: %w", symbol, ErrNoData)
	}

	latest := resp.Data[0]
	date, _, _ := strings.Cut(latest.Date, "T")
	s := StockClose{Symbol: symbol, Close: latest.Close, Date: date}
	m.store(key, s)
	return s, nil
}

type frankfurterResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// ExchangeRate returns the latest rate from base to target.
func (m *Market) ExchangeRate(ctx context.Context, base, target string) (ExchangeRate, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	target = strings.ToUpper(strings.TrimSpace(target))
	key := "fx:" + base + ":" + target
	if q, ok := m.cached(key); ok {
		return q.(ExchangeRate), nil
	}

	u := m.cfg.FrankfurterURL + "/latest?" + url.Values{
		"from": {base},
		"to":   {target},
	}.Encode()

	var resp frankfurterResponse
	if err := httpkit.GetJSON(ctx, m.plain, u, &resp); err != nil {
		return ExchangeRate{}, fmt.Errorf("frankfurter %s/%s: %w", base, target, err)
	}
	rate, ok := resp.Rates[target]
	if !ok {
		return ExchangeRate{}, fmt.Errorf("frankfurter %s/%s: %w", base, target, ErrNoData)
	}

	r := ExchangeRate{Base: base, Target: target, Rate: rate, Date: resp.Date}
	m.store(key, r)
	return r, nil
}

func (m *Market) cached(key string) (any, bool) {
	if m.quotes == nil {
		return nil, false
	}
	v, ok := m.quotes.Get(key)
	if ok {
		m.logger.Debug("quote cache hit", "key", key)
	}
	return v, ok
}

func (m *Market) store(key string, v any) {
	if m.quotes != nil {
		m.quotes.Set(key, v, cache.DefaultExpiration)
	}
}
