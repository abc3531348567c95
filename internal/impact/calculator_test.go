package impact

import (
	"errors"
	"testing"

	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/catalog"
	"github.com/rootedhq/rooted/backend/internal/config"
)

func testModel() catalog.Model {
	return catalog.Model{
		Alias:       "gpt-4o-mini",
		PriceInput:  decimal.RequireFromString("0.00015"),
		PriceOutput: decimal.RequireFromString("0.0006"),
		Currency:    "USD",
	}
}

func defaultCalculator() *Calculator {
	return NewCalculator(config.ImpactConfig{DonationRate: 0.4, TreesPerUSD: 2.5})
}

func TestCalculateExactFigures(t *testing.T) {
	calc := defaultCalculator()

	result, err := calc.Calculate(100, 200, testModel())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	tests := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"input cost", result.InputCost, "0.000015"},
		{"output cost", result.OutputCost, "0.00012"},
		{"total cost", result.TotalCost, "0.000135"},
		{"donation", result.Donation, "0.000054"},
		{"trees", result.Trees, "0.000135"},
	}
	for _, tt := range tests {
		if !tt.got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("%s: want %s, got %s", tt.name, tt.want, tt.got)
		}
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	calc := defaultCalculator()
	model := testModel()

	first, err := calc.Calculate(12345, 6789, model)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := calc.Calculate(12345, 6789, model)
		if err != nil {
			t.Fatalf("calculate #%d: %v", i, err)
		}
		if !again.Trees.Equal(first.Trees) || !again.TotalCost.Equal(first.TotalCost) {
			t.Fatalf("iteration %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestCalculateTreesMonotonicInCost(t *testing.T) {
	calc := defaultCalculator()
	model := testModel()

	prevCost := decimal.NewFromInt(-1)
	prevTrees := decimal.NewFromInt(-1)
	for tokens := int64(0); tokens <= 100_000; tokens += 2_500 {
		result, err := calc.Calculate(tokens, tokens*2, model)
		if err != nil {
			t.Fatalf("calculate(%d): %v", tokens, err)
		}
		if result.TotalCost.LessThan(prevCost) {
			t.Fatalf("total cost decreased at %d tokens", tokens)
		}
		if result.Trees.LessThan(prevTrees) {
			t.Fatalf("trees decreased at %d tokens while cost grew", tokens)
		}
		prevCost = result.TotalCost
		prevTrees = result.Trees
	}
}

func TestCalculateShortQueryStillCreditsTrees(t *testing.T) {
	calc := defaultCalculator()

	result, err := calc.Calculate(10, 20, testModel())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !result.Trees.IsPositive() {
		t.Fatalf("expected nonzero tree credit for a short query, got %s", result.Trees)
	}
}

func TestCalculateRejectsNegativeTokens(t *testing.T) {
	calc := defaultCalculator()

	cases := []struct {
		input, output int64
	}{
		{-1, 10},
		{10, -1},
		{-5, -5},
	}
	for _, tc := range cases {
		if _, err := calc.Calculate(tc.input, tc.output, testModel()); !errors.Is(err, ErrNegativeTokens) {
			t.Errorf("input=%d output=%d: want ErrNegativeTokens, got %v", tc.input, tc.output, err)
		}
	}
}

func TestCalculateZeroTokens(t *testing.T) {
	calc := defaultCalculator()

	result, err := calc.Calculate(0, 0, testModel())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !result.TotalCost.IsZero() || !result.Trees.IsZero() {
		t.Fatalf("expected all-zero impact, got %+v", result)
	}
}
