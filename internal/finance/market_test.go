package finance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newFakeProviders(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/cryptocurrency/quotes/latest", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-CMC_PRO_API_KEY") != "cmc-key" {
			http.Error(w, `{"status":{"error_message":"bad key"}}`, http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("symbol") != "BTC" {
			w.Write([]byte(`{"data":{}}`))
			return
		}
		w.Write([]byte(`{"data":{"BTC":{"quote":{"USD":{"price":64123.456}}}}}`))
	})

	mux.HandleFunc("GET /v1/eod", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("access_key") != "ms-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("symbols") != "AAPL" {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		w.Write([]byte(`{"data":[
			{"symbol":"AAPL","close":189.84,"date":"2024-01-05T00:00:00+0000"},
			{"symbol":"AAPL","close":181.18,"date":"2024-01-04T00:00:00+0000"}
		]}`))
	})

	mux.HandleFunc("GET /latest", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		if q.Get("from") != "USD" || q.Get("to") != "THB" {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"amount":1.0,"base":"USD","date":"2024-01-05","rates":{"THB":35.118}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testMarket(t *testing.T, ttl time.Duration) (*Market, *atomic.Int32) {
	t.Helper()
	srv, hits := newFakeProviders(t)
	return NewMarket(MarketConfig{
		CoinMarketCapURL: srv.URL,
		CoinMarketCapKey: "cmc-key",
		MarketstackURL:   srv.URL,
		MarketstackKey:   "ms-key",
		FrankfurterURL:   srv.URL,
		CacheTTL:         ttl,
	}), hits
}

func TestMarket_CryptoPrice(t *testing.T) {
	m, _ := testMarket(t, 0)

	q, err := m.CryptoPrice(context.Background(), "btc")
	if err != nil {
		t.Fatalf("CryptoPrice: %v", err)
	}
	want := "The current price of BTC is **$64123.46 USD**."
	if got := q.Sentence(); got != want {
		t.Errorf("Sentence() = %q, want %q", got, want)
	}

	if _, err := m.CryptoPrice(context.Background(), "NOPE"); !errors.Is(err, ErrNoData) {
		t.Errorf("CryptoPrice(NOPE) error = %v, want ErrNoData", err)
	}
}

func TestMarket_StockClose(t *testing.T) {
	m, _ := testMarket(t, 0)

	s, err := m.StockClose(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("StockClose: %v", err)
	}
	want := "The last closing price of AAPL was **$189.84** on 2024-01-05."
	if got := s.Sentence(); got != want {
		t.Errorf("Sentence() = %q, want %q", got, want)
	}

	if _, err := m.StockClose(context.Background(), "ZZZZ"); !errors.Is(err, ErrNoData) {
		t.Errorf("StockClose(ZZZZ) error = %v, want ErrNoData", err)
	}
}

func TestMarket_ExchangeRate(t *testing.T) {
	m, _ := testMarket(t, 0)

	r, err := m.ExchangeRate(context.Background(), "usd", "thb")
	if err != nil {
		t.Fatalf("ExchangeRate: %v", err)
	}
	want := "1 USD = 35.12 THB (as of 2024-01-05)"
	if got := r.Sentence(); got != want {
		t.Errorf("Sentence() = %q, want %q", got, want)
	}

	if _, err := m.ExchangeRate(context.Background(), "EUR", "XXX"); err == nil {
		t.Error("ExchangeRate(EUR, XXX) should error")
	}
}

func TestMarket_CachesQuotes(t *testing.T) {
	m, hits := testMarket(t, time.Minute)
	ctx := context.Background()

	for range 3 {
		if _, err := m.ExchangeRate(ctx, "USD", "THB"); err != nil {
			t.Fatalf("ExchangeRate: %v", err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("provider hits = %d, want 1", n)
	}
}

func TestMarket_UpstreamError(t *testing.T) {
	srv, _ := newFakeProviders(t)
	m := NewMarket(MarketConfig{CoinMarketCapURL: srv.URL, CoinMarketCapKey: "wrong"})

	if _, err := m.CryptoPrice(context.Background(), "BTC"); err == nil {
		t.Fatal("CryptoPrice with bad key should error")
	}
}

func TestMarket_NetworkErrorOmitsKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	m := NewMarket(MarketConfig{MarketstackURL: base, MarketstackKey: "ms-secret-key"})
	_, err := m.StockClose(context.Background(), "AAPL")
	if err == nil {
		t.Fatal("StockClose against a closed server should fail")
	}
	if strings.Contains(err.Error(), "ms-secret-key") {
		t.Errorf("error leaks marketstack key: %v", err)
	}
}
