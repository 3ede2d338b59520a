package finance

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidLoan is returned for a non-positive principal or term, a
// term over MaxLoanYears, or a negative rate.
var ErrInvalidLoan = errors.New("invalid loan terms")

// MaxLoanYears is the longest term LoanPayment accepts.
const MaxLoanYears = 100

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// LoanQuote is a fixed-rate amortized monthly payment.
type LoanQuote struct {
	Principal    decimal.Decimal
	AnnualRate   decimal.Decimal // percent
	Years        decimal.Decimal
	MonthlyTotal decimal.Decimal
}

// Sentence renders the payment for the assistant.
func (q LoanQuote) Sentence() string {
	return fmt.Sprintf(
		"For a loan of **$%s** at an interest rate of **%s%%**, your estimated monthly payment for **%s years** is **$%s** per month.",
		q.Principal.StringFixed(2), q.AnnualRate.String(), q.Years.String(), q.MonthlyTotal.StringFixed(2),
	)
}

// LoanPayment computes the monthly payment P*r/(1-(1+r)^-n) where r is
// the monthly rate and n the number of months. A zero rate, or one too
// small to register, spreads the principal evenly. When (1+r)^n
// overflows the payment converges to P*r.
func LoanPayment(principal, annualRatePct, years float64) (LoanQuote, error) {
	if principal <= 0 || years <= 0 || years > MaxLoanYears || annualRatePct < 0 ||
		math.IsNaN(principal) || math.IsNaN(years) || math.IsNaN(annualRatePct) ||
		math.IsInf(principal, 0) || math.IsInf(years, 0) || math.IsInf(annualRatePct, 0) {
		return LoanQuote{}, ErrInvalidLoan
	}

	p := decimal.NewFromFloat(principal)
	rate := decimal.NewFromFloat(annualRatePct)
	y := decimal.NewFromFloat(years)
	months := y.Mul(twelve)

	q := LoanQuote{Principal: p, AnnualRate: rate, Years: y}
	if rate.IsZero() {
		q.MonthlyTotal = p.Div(months)
		return q, nil
	}

	r := rate.Div(hundred).Div(twelve)
	// (1+r)^n for fractional n; decimal has no general real exponent.
	g := math.Pow(1+r.InexactFloat64(), months.InexactFloat64())
	switch {
	case math.IsInf(g, 1):
		q.MonthlyTotal = p.Mul(r)
	case !(g > 1):
		q.MonthlyTotal = p.Div(months)
	default:
		growth := decimal.NewFromFloat(g)
		q.MonthlyTotal = p.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	}
	return q, nil
}
