package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/penny/internal/finance"
)

// Failure sentences returned as tool output when a provider errors.
const (
	CryptoUnavailableOutput = "Sorry, I couldn't fetch the cryptocurrency price at the moment."
	StockFailedOutput       = "Failed to retrieve stock price data."
	StockNoDataOutput       = "Stock price data is unavailable."
)

// Default currency pair for getExchangeRate.
const (
	DefaultBaseCurrency   = "USD"
	DefaultTargetCurrency = "THB"
)

// Quoter is the market-data surface the finance tools need.
type Quoter interface {
	CryptoPrice(ctx context.Context, symbol string) (finance.CryptoQuote, error)
	StockClose(ctx context.Context, symbol string) (finance.StockClose, error)
	ExchangeRate(ctx context.Context, base, target string) (finance.ExchangeRate, error)
}

// NewFinanceRegistry returns a registry holding the four finance tools.
func NewFinanceRegistry(q Quoter, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	RegisterFinance(r, q)
	return r
}

// RegisterFinance adds getStockPrice, getCryptoPrice,
// calculateLoanPayment and getExchangeRate to r.
func RegisterFinance(r *Registry, q Quoter) {
	r.Register(newTool("getStockPrice",
		"Get the most recent stock price",
		objectSchema(map[string]any{
			"symbol": stringProp("Stock ticker symbol (e.g. AAPL, TSLA)"),
		}, "symbol"),
		func(ctx context.Context, a symbolArgs) (string, error) {
			s, err := q.StockClose(ctx, a.Symbol)
			if errors.Is(err, finance.ErrNoData) {
				return StockNoDataOutput, err
			}
			if err != nil {
				return StockFailedOutput, err
			}
			return s.Sentence(), nil
		}))

	r.Register(newTool("getCryptoPrice",
		"Get the latest cryptocurrency price",
		objectSchema(map[string]any{
			"symbol": stringProp("Cryptocurrency symbol (e.g. BTC, ETH)"),
		}, "symbol"),
		func(ctx context.Context, a symbolArgs) (string, error) {
			c, err := q.CryptoPrice(ctx, a.Symbol)
			if err != nil {
				return CryptoUnavailableOutput, err
			}
			return c.Sentence(), nil
		}))

	r.Register(newTool("calculateLoanPayment",
		"Calculate monthly loan payment",
		objectSchema(map[string]any{
			"loanAmount":   numberProp("Loan principal amount"),
			"interestRate": numberProp("Annual interest rate (percent)"),
			"years":        numberProp("Loan term in years"),
		}, "loanAmount", "interestRate", "years"),
		func(_ context.Context, a loanArgs) (string, error) {
			quote, err := finance.LoanPayment(a.LoanAmount, a.InterestRate, a.Years)
			if err != nil {
				return "Loan amount and term must be greater than zero and the interest rate cannot be negative.", err
			}
			return quote.Sentence(), nil
		}))

	r.Register(newTool("getExchangeRate",
		"Get exchange rate between two currencies",
		objectSchema(map[string]any{
			"from": stringProp("Base currency code (e.g. USD, EUR, GBP)"),
			"to":   stringProp("Target currency code (e.g. THB, JPY, CAD)"),
		}),
		func(ctx context.Context, a fxArgs) (string, error) {
			rate, err := q.ExchangeRate(ctx, a.From, a.To)
			if err != nil {
				return fmt.Sprintf("Failed to fetch exchange rate from %s to %s.", a.From, a.To), err
			}
			return rate.Sentence(), nil
		}))
}

type symbolArgs struct {
	Symbol string `json:"symbol"`
}

func (a *symbolArgs) Validate() error {
	a.Symbol = strings.TrimSpace(a.Symbol)
	if a.Symbol == "" {
		return errors.New("symbol is required")
	}
	return nil
}

type loanArgs struct {
	LoanAmount   float64 `json:"loanAmount"`
	InterestRate float64 `json:"interestRate"`
	Years        float64 `json:"years"`
}

func (a *loanArgs) Validate() error {
	if a.LoanAmount <= 0 {
		return errors.New("loanAmount must be positive")
	}
	if a.Years <= 0 {
		return errors.New("years must be positive")
	}
	if a.Years > finance.MaxLoanYears {
		return fmt.Errorf("years cannot exceed %d", finance.MaxLoanYears)
	}
	if a.InterestRate < 0 {
		return errors.New("interestRate cannot be negative")
	}
	return nil
}

type fxArgs struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (a *fxArgs) Validate() error {
	a.From = strings.TrimSpace(a.From)
	a.To = strings.TrimSpace(a.To)
	if a.From == "" {
		a.From = DefaultBaseCurrency
	}
	if a.To == "" {
		a.To = DefaultTargetCurrency
	}
	return nil
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}
