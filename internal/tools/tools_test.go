package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nugget/penny/internal/finance"
)

type fakeQuoter struct {
	cryptoErr error
	stockErr  error
	fxErr     error

	mu      sync.Mutex
	fxCalls [][2]string
}

func (f *fakeQuoter) CryptoPrice(_ context.Context, symbol string) (finance.CryptoQuote, error) {
	if f.cryptoErr != nil {
		return finance.CryptoQuote{}, f.cryptoErr
	}
	return finance.CryptoQuote{Symbol: strings.ToUpper(symbol), PriceUSD: decimal.RequireFromString("64000.5")}, nil
}

func (f *fakeQuoter) StockClose(_ context.Context, symbol string) (finance.StockClose, error) {
	if f.stockErr != nil {
		return finance.StockClose{}, f.stockErr
	}
	return finance.StockClose{Symbol: strings.ToUpper(symbol), Close: decimal.RequireFromString("189.84"), Date: "2024-01-05"}, nil
}

func (f *fakeQuoter) ExchangeRate(_ context.Context, base, target string) (finance.ExchangeRate, error) {
	f.mu.Lock()
	f.fxCalls = append(f.fxCalls, [2]string{base, target})
	f.mu.Unlock()
	if f.fxErr != nil {
		return finance.ExchangeRate{}, f.fxErr
	}
	return finance.ExchangeRate{Base: base, Target: target, Rate: decimal.RequireFromString("35.118"), Date: "2024-01-05"}, nil
}

type recordingObserver struct {
	calls []string
}

func (o *recordingObserver) ToolCall(name, outcome string) {
	o.calls = append(o.calls, name+":"+outcome)
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name  string
		quote *fakeQuoter
		tool  string
		args  string
		want  string
	}{
		{
			name: "crypto", quote: &fakeQuoter{}, tool: "getCryptoPrice", args: `{"symbol":"eth"}`,
			want: "The current price of ETH is **$64000.50 USD**.",
		},
		{
			name: "crypto upstream failure", quote: &fakeQuoter{cryptoErr: errors.New("boom")},
			tool: "getCryptoPrice", args: `{"symbol":"BTC"}`,
			want: CryptoUnavailableOutput,
		},
		{
			name: "stock", quote: &fakeQuoter{}, tool: "getStockPrice", args: `{"symbol":"aapl"}`,
			want: "The last closing price of AAPL was **$189.84** on 2024-01-05.",
		},
		{
			name: "stock no data", quote: &fakeQuoter{stockErr: finance.ErrNoData},
			tool: "getStockPrice", args: `{"symbol":"ZZZ"}`,
			want: StockNoDataOutput,
		},
		{
			name: "stock failure", quote: &fakeQuoter{stockErr: errors.New("503")},
			tool: "getStockPrice", args: `{"symbol":"AAPL"}`,
			want: StockFailedOutput,
		},
		{
			name: "loan", quote: &fakeQuoter{}, tool: "calculateLoanPayment",
			args: `{"loanAmount":200000,"interestRate":5,"years":30}`,
			want: "For a loan of **$200000.00** at an interest rate of **5%**, your estimated monthly payment for **30 years** is **$1073.64** per month.",
		},
		{
			name: "loan zero term", quote: &fakeQuoter{}, tool: "calculateLoanPayment",
			args: `{"loanAmount":1000,"interestRate":5,"years":0}`,
			want: "Invalid arguments for calculateLoanPayment: years must be positive.",
		},
		{
			name: "loan term too long", quote: &fakeQuoter{}, tool: "calculateLoanPayment",
			args: `{"loanAmount":1000,"interestRate":100,"years":1000000}`,
			want: "Invalid arguments for calculateLoanPayment: years cannot exceed 100.",
		},
		{
			name: "exchange rate", quote: &fakeQuoter{}, tool: "getExchangeRate", args: `{"from":"USD","to":"THB"}`,
			want: "1 USD = 35.12 THB (as of 2024-01-05)",
		},
		{
			name: "exchange rate failure", quote: &fakeQuoter{fxErr: errors.New("down")},
			tool: "getExchangeRate", args: `{"from":"EUR","to":"JPY"}`,
			want: "Failed to fetch exchange rate from EUR to JPY.",
		},
		{
			name: "unknown", quote: &fakeQuoter{}, tool: "getWeather", args: `{"city":"Bangkok"}`,
			want: UnknownFunctionOutput,
		},
		{
			name: "malformed json", quote: &fakeQuoter{}, tool: "getCryptoPrice", args: `{"symbol":`,
			want: "Invalid arguments for getCryptoPrice.",
		},
		{
			name: "missing symbol", quote: &fakeQuoter{}, tool: "getStockPrice", args: `{}`,
			want: "Invalid arguments for getStockPrice: symbol is required.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFinanceRegistry(tt.quote, nil)
			if got := r.Dispatch(context.Background(), tt.tool, tt.args); got != tt.want {
				t.Errorf("Dispatch(%s) = %q, want %q", tt.tool, got, tt.want)
			}
		})
	}
}

func TestDispatch_ExchangeRateDefaults(t *testing.T) {
	q := &fakeQuoter{}
	r := NewFinanceRegistry(q, nil)

	r.Dispatch(context.Background(), "getExchangeRate", `{}`)
	r.Dispatch(context.Background(), "getExchangeRate", "")

	for i, call := range q.fxCalls {
		if call != [2]string{"USD", "THB"} {
			t.Errorf("call %d = %v, want [USD THB]", i, call)
		}
	}
	if len(q.fxCalls) != 2 {
		t.Errorf("fx calls = %d, want 2", len(q.fxCalls))
	}
}

func TestDispatch_Observer(t *testing.T) {
	r := NewFinanceRegistry(&fakeQuoter{cryptoErr: errors.New("x")}, nil)
	obs := &recordingObserver{}
	r.SetObserver(obs)

	r.Dispatch(context.Background(), "getStockPrice", `{"symbol":"AAPL"}`)
	r.Dispatch(context.Background(), "getCryptoPrice", `{"symbol":"BTC"}`)
	r.Dispatch(context.Background(), "nope", `{}`)
	r.Dispatch(context.Background(), "getStockPrice", `{}`)

	want := []string{
		"getStockPrice:ok",
		"getCryptoPrice:upstream_error",
		"nope:unknown",
		"getStockPrice:invalid_args",
	}
	if strings.Join(obs.calls, ",") != strings.Join(want, ",") {
		t.Errorf("observer calls = %v, want %v", obs.calls, want)
	}
}

func TestDefinitions(t *testing.T) {
	r := NewFinanceRegistry(&fakeQuoter{}, nil)
	defs := r.Definitions()

	wantNames := []string{"calculateLoanPayment", "getCryptoPrice", "getExchangeRate", "getStockPrice"}
	if len(defs) != len(wantNames) {
		t.Fatalf("Definitions() len = %d, want %d", len(defs), len(wantNames))
	}
	for i, d := range defs {
		if d.Name != wantNames[i] {
			t.Errorf("defs[%d].Name = %q, want %q", i, d.Name, wantNames[i])
		}
		if d.Parameters["type"] != "object" {
			t.Errorf("%s schema type = %v, want object", d.Name, d.Parameters["type"])
		}
		if d.Description == "" {
			t.Errorf("%s has no description", d.Name)
		}
	}

	loan := r.Get("calculateLoanPayment")
	req, _ := loan.Parameters["required"].([]string)
	if len(req) != 3 {
		t.Errorf("calculateLoanPayment required = %v, want 3 fields", req)
	}
	if _, ok := r.Get("getExchangeRate").Parameters["required"]; ok {
		t.Error("getExchangeRate should not require from/to")
	}
}

func TestDispatch_LoanEdgeInputs(t *testing.T) {
	r := NewFinanceRegistry(&fakeQuoter{}, nil)

	out := r.Dispatch(context.Background(), "calculateLoanPayment", `{"loanAmount":1200,"interestRate":1e-300,"years":1}`)
	if !strings.HasPrefix(out, "For a loan of **$1200.00**") || !strings.HasSuffix(out, "is **$100.00** per month.") {
		t.Errorf("tiny rate output = %q", out)
	}

	out = r.Dispatch(context.Background(), "calculateLoanPayment", `{"loanAmount":1000,"interestRate":1000000,"years":100}`)
	if !strings.HasSuffix(out, "is **$833333.33** per month.") {
		t.Errorf("overflowing growth output = %q", out)
	}

	out = r.Dispatch(context.Background(), "calculateLoanPayment", `{"loanAmount":1e400,"interestRate":5,"years":10}`)
	if !strings.HasPrefix(out, "Invalid arguments for calculateLoanPayment") && !strings.HasPrefix(out, "Loan amount and term") {
		t.Errorf("out-of-range amount output = %q", out)
	}
}

type panicArgs struct{}

func (panicArgs) Validate() error { return nil }

func TestDispatch_RecoversFromPanic(t *testing.T) {
	r := NewRegistry(nil)
	obs := &recordingObserver{}
	r.SetObserver(obs)
	r.Register(newTool("explode", "always panics", objectSchema(nil),
		func(context.Context, panicArgs) (string, error) {
			panic("boom")
		}))

	if got := r.Dispatch(context.Background(), "explode", `{}`); got != CrashedOutput {
		t.Errorf("Dispatch = %q, want %q", got, CrashedOutput)
	}
	if len(obs.calls) != 1 || obs.calls[0] != "explode:panic" {
		t.Errorf("observer calls = %v, want [explode:panic]", obs.calls)
	}
}
