package portfolio

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/goccy/go-json"

	"github.com/nugget/penny/internal/database"
	"github.com/nugget/penny/internal/users"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		holdings  []Holding
		risk      string
		wantPct   map[string]int
		wantScore int
		wantAlign string
	}{
		{
			name:     "stock bond aggressive",
			holdings: []Holding{{"Stock", 60}, {"Bond", 40}},
			risk:     "aggressive",
			wantPct:  map[string]int{"Stock": 60, "Bond": 40}, wantScore: 6, wantAlign: Aligned,
		},
		{
			name:     "crypto heavy conservative",
			holdings: []Holding{{"crypto", 90}, {"stock", 10}},
			risk:     "conservative",
			wantPct:  map[string]int{"Crypto": 90, "Stock": 10}, wantScore: 6, wantAlign: Misaligned,
		},
		{
			name:     "case-insensitive merge",
			holdings: []Holding{{" STOCK ", 30}, {"stock", 30}, {"Bond", 20}, {"crypto", 20}},
			risk:     "moderate",
			wantPct:  map[string]int{"Stock": 60, "Bond": 20, "Crypto": 20}, wantScore: 9, wantAlign: Aligned,
		},
		{
			name:     "three classes but concentrated",
			holdings: []Holding{{"stock", 80}, {"bond", 10}, {"cash", 10}},
			risk:     "moderate",
			wantPct:  map[string]int{"Stock": 80, "Bond": 10, "Cash": 10}, wantScore: 3, wantAlign: Aligned,
		},
		{
			name:     "single class",
			holdings: []Holding{{"bond", 100}},
			risk:     "aggressive",
			wantPct:  map[string]int{"Bond": 100}, wantScore: 3, wantAlign: Misaligned,
		},
		{
			name:     "moderate crypto over thirty",
			holdings: []Holding{{"crypto", 35}, {"stock", 65}},
			risk:     "",
			wantPct:  map[string]int{"Crypto": 35, "Stock": 65}, wantScore: 6, wantAlign: Misaligned,
		},
		{
			name:     "rounding",
			holdings: []Holding{{"stock", 1}, {"bond", 1}, {"cash", 1}},
			risk:     "moderate",
			wantPct:  map[string]int{"Stock": 33, "Bond": 33, "Cash": 33}, wantScore: 9, wantAlign: Aligned,
		},
		{
			name:     "NaN value skipped",
			holdings: []Holding{{"stock", 50}, {"crypto", math.NaN()}, {"bond", 50}},
			risk:     "moderate",
			wantPct:  map[string]int{"Stock": 50, "Bond": 50}, wantScore: 6, wantAlign: Aligned,
		},
		{
			name:     "infinite values skipped",
			holdings: []Holding{{"stock", math.Inf(1)}, {"crypto", 25}, {"bond", math.Inf(-1)}, {"bond", 75}},
			risk:     "conservative",
			wantPct:  map[string]int{"Crypto": 25, "Bond": 75}, wantScore: 6, wantAlign: Misaligned,
		},
		{
			name:     "unknown risk tag",
			holdings: []Holding{{"crypto", 100}},
			risk:     "yolo",
			wantPct:  map[string]int{"Crypto": 100}, wantScore: 3, wantAlign: Aligned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Analyze(tt.holdings, tt.risk)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if len(got.Breakdown) != len(tt.wantPct) {
				t.Fatalf("Breakdown = %v, want %v", got.Breakdown, tt.wantPct)
			}
			for label, pct := range tt.wantPct {
				if got.Breakdown.Percent(label) != pct {
					t.Errorf("%s = %d%%, want %d%%", label, got.Breakdown.Percent(label), pct)
				}
			}
			if got.DiversificationScore != tt.wantScore {
				t.Errorf("DiversificationScore = %d, want %d", got.DiversificationScore, tt.wantScore)
			}
			if got.RiskAlignment != tt.wantAlign {
				t.Errorf("RiskAlignment = %q, want %q", got.RiskAlignment, tt.wantAlign)
			}
		})
	}
}

func TestAnalyze_InvalidInput(t *testing.T) {
	if _, err := Analyze(nil, "moderate"); !errors.Is(err, ErrEmpty) || !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Analyze(nil) error = %v, want ErrEmpty", err)
	}
	if _, err := Analyze([]Holding{{"stock", 0}, {"bond", 0}}, "moderate"); !errors.Is(err, ErrZeroTotal) {
		t.Errorf("Analyze(zeros) error = %v, want ErrZeroTotal", err)
	}
	if _, err := Analyze([]Holding{{"crypto", math.NaN()}}, "moderate"); !errors.Is(err, ErrZeroTotal) {
		t.Errorf("Analyze(NaN only) error = %v, want ErrZeroTotal", err)
	}
	huge := []Holding{{"stock", math.MaxFloat64}, {"bond", math.MaxFloat64}}
	if _, err := Analyze(huge, "moderate"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Analyze(overflowing total) error = %v, want ErrInvalidInput", err)
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	in := []Holding{{"Stock", 50}, {"Bond", 30}, {"Crypto", 20}}
	a, _ := Analyze(in, "moderate")
	b, _ := Analyze(in, "moderate")
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("Analyze not idempotent: %s vs %s", ja, jb)
	}
}

func TestResult_JSON(t *testing.T) {
	r, err := Analyze([]Holding{{"Stock", 60}, {"Bond", 40}}, "aggressive")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"total":100,"breakdown":{"Stock":60,"Bond":40},"diversificationScore":6,"riskAlignment":"Aligned"}`
	if string(got) != want {
		t.Errorf("JSON = %s, want %s", got, want)
	}
}

func TestFormatInsight(t *testing.T) {
	r, _ := Analyze([]Holding{{"Stock", 60}, {"Bond", 40}}, "moderate")
	want := "Portfolio Summary:\n- Allocation: 60% Stock, 40% Bond\n- Diversification Score: 6/10\n- Risk Alignment: Aligned"
	if got := FormatInsight(r); got != want {
		t.Errorf("FormatInsight = %q, want %q", got, want)
	}
}

func TestKnownRisk(t *testing.T) {
	for tag, want := range map[string]bool{
		"Conservative": true, "moderate": true, " aggressive ": true, "": true, "medium": false,
	} {
		if got := KnownRisk(tag); got != want {
			t.Errorf("KnownRisk(%q) = %v, want %v", tag, got, want)
		}
	}
}

func TestStore_ReplaceAndList(t *testing.T) {
	db, err := database.Open(database.DriverPureGo, database.MemoryPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	us, _ := users.NewStore(db)
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	u, _ := us.Create(ctx, "Ada", "ada@example.com", "h")

	if got, _ := s.List(ctx, u.ID); len(got) != 0 {
		t.Fatalf("List before save = %v", got)
	}

	if err := s.Replace(ctx, u.ID, []Holding{{"Stock", 60}, {"Bond", 40}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := s.Replace(ctx, u.ID, []Holding{{"Crypto", 5}, {"Stock", 95}}); err != nil {
		t.Fatalf("Replace again: %v", err)
	}
	got, err := s.List(ctx, u.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Type != "Crypto" || got[1].Value != 95 {
		t.Errorf("List = %v", got)
	}

	if err := s.Replace(ctx, u.ID, []Holding{{"", 10}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Replace blank type error = %v, want ErrInvalidInput", err)
	}
	if err := s.Replace(ctx, u.ID, []Holding{{"Stock", math.Inf(1)}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Replace infinite value error = %v, want ErrInvalidInput", err)
	}
	if got, _ := s.List(ctx, u.ID); len(got) != 2 {
		t.Errorf("failed Replace changed holdings: %v", got)
	}
}
