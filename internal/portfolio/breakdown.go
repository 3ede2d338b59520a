// Package portfolio computes allocation breakdowns, diversification
// scores and risk alignment for a set of holdings, and stores each
// user's holdings.
package portfolio

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Input errors. ErrEmpty and ErrZeroTotal wrap ErrInvalidInput.
var (
	ErrInvalidInput = errors.New("invalid portfolio input")
	ErrEmpty        = fmt.Errorf("%w: no holdings", ErrInvalidInput)
	ErrZeroTotal    = fmt.Errorf("%w: total value is zero", ErrInvalidInput)
)

// Risk tolerance tags.
const (
	Conservative = "conservative"
	Moderate     = "moderate"
	Aggressive   = "aggressive"
)

// Alignment verdicts.
const (
	Aligned    = "Aligned"
	Misaligned = "Misaligned"
)

// Holding is one (asset type, value) pair.
type Holding struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// Allocation is one asset class's share of the total, in whole percent.
type Allocation struct {
	Label   string
	Percent int
}

// Breakdown lists allocations in order of first appearance. It
// marshals as a JSON object keyed by label.
type Breakdown []Allocation

// MarshalJSON renders the breakdown as an ordered object.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(a.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", a.Percent)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Percent returns the share for label, or 0.
func (b Breakdown) Percent(label string) int {
	for _, a := range b {
		if a.Label == label {
			return a.Percent
		}
	}
	return 0
}

// Result is the analysis of a set of holdings.
type Result struct {
	Total                float64   `json:"total"`
	Breakdown            Breakdown `json:"breakdown"`
	DiversificationScore int       `json:"diversificationScore"`
	RiskAlignment        string    `json:"riskAlignment"`
}

var hundred = decimal.NewFromInt(100)

// Analyze computes the breakdown of holdings against riskTolerance.
// Asset types are merged case-insensitively; entries with a blank
// type still count toward the total. Non-finite values are skipped.
// An empty riskTolerance means moderate.
func Analyze(holdings []Holding, riskTolerance string) (Result, error) {
	if len(holdings) == 0 {
		return Result{}, ErrEmpty
	}

	total := decimal.Zero
	sums := map[string]decimal.Decimal{}
	var order []string
	for _, h := range holdings {
		if !Finite(h.Value) {
			continue
		}
		v := decimal.NewFromFloat(h.Value)
		total = total.Add(v)

		key := strings.ToLower(strings.TrimSpace(h.Type))
		if key == "" {
			continue
		}
		if _, seen := sums[key]; !seen {
			order = append(order, key)
		}
		sums[key] = sums[key].Add(v)
	}
	if total.IsZero() {
		return Result{}, ErrZeroTotal
	}
	sum := total.InexactFloat64()
	if !Finite(sum) {
		return Result{}, fmt.Errorf("%w: total out of range", ErrInvalidInput)
	}

	breakdown := make(Breakdown, 0, len(order))
	for _, key := range order {
		pct := sums[key].Mul(hundred).Div(total).Round(0)
		breakdown = append(breakdown, Allocation{Label: capitalize(key), Percent: int(pct.IntPart())})
	}

	return Result{
		Total:                sum,
		Breakdown:            breakdown,
		DiversificationScore: diversification(breakdown),
		RiskAlignment:        alignment(breakdown, riskTolerance),
	}, nil
}

// Finite reports whether v is neither NaN nor an infinity.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func diversification(b Breakdown) int {
	concentrated := false
	for _, a := range b {
		if a.Percent > 70 {
			concentrated = true
		}
	}
	switch {
	case len(b) >= 3 && !concentrated:
		return 9
	case len(b) == 2:
		return 6
	default:
		return 3
	}
}

func alignment(b Breakdown, riskTolerance string) string {
	crypto := b.Percent("Crypto")
	bonds := b.Percent("Bond")

	var misaligned bool
	switch NormalizeRisk(riskTolerance) {
	case Conservative:
		misaligned = crypto > 10
	case Moderate:
		misaligned = crypto > 30
	case Aggressive:
		misaligned = bonds > 50
	}
	if misaligned {
		return Misaligned
	}
	return Aligned
}

// NormalizeRisk lower-cases a risk tag; empty means moderate. Unknown
// tags are returned as-is and match no alignment rule.
func NormalizeRisk(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return Moderate
	}
	return tag
}

// KnownRisk reports whether tag is one of the three risk tolerances.
func KnownRisk(tag string) bool {
	switch NormalizeRisk(tag) {
	case Conservative, Moderate, Aggressive:
		return true
	}
	return false
}

// FormatInsight renders the summary prepended to a chat prompt.
func FormatInsight(r Result) string {
	parts := make([]string, 0, len(r.Breakdown))
	for _, a := range r.Breakdown {
		parts = append(parts, fmt.Sprintf("%d%% %s", a.Percent, a.Label))
	}
	return fmt.Sprintf("Portfolio Summary:\n- Allocation: %s\n- Diversification Score: %d/10\n- Risk Alignment: %s",
		strings.Join(parts, ", "), r.DiversificationScore, r.RiskAlignment)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
