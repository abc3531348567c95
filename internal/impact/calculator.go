package impact

import (
	"errors"
	"fmt"

	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/catalog"
	"github.com/rootedhq/rooted/backend/internal/config"
)

// Precision is the decimal scale for every monetary and tree figure. Six
// places keeps a single short query (a fraction of a cent) representable as
// a nonzero tree credit.
const Precision = 6

var ErrNegativeTokens = errors.New("token counts must be non-negative")

var thousand = decimal.NewFromInt(1000)

// Impact is the computed financial/environmental outcome of one interaction.
type Impact struct {
	InputCost  decimal.Decimal
	OutputCost decimal.Decimal
	TotalCost  decimal.Decimal
	Donation   decimal.Decimal
	Trees      decimal.Decimal
}

// Calculator converts token usage into cost, donation, and tree figures.
// It is pure: no state beyond the two conversion constants, no I/O.
type Calculator struct {
	donationRate decimal.Decimal
	treesPerUSD  decimal.Decimal
}

func NewCalculator(cfg config.ImpactConfig) *Calculator {
	return &Calculator{
		donationRate: decimal.NewFromFloat(cfg.DonationRate),
		treesPerUSD:  decimal.NewFromFloat(cfg.TreesPerUSD),
	}
}

// DonationRate returns the configured donation fraction.
func (c *Calculator) DonationRate() decimal.Decimal { return c.donationRate }

// TreesPerUSD returns the configured currency-to-trees conversion factor.
func (c *Calculator) TreesPerUSD() decimal.Decimal { return c.treesPerUSD }

// Calculate converts token counts into an Impact using the model's per-1K
// pricing. Identical inputs always produce identical outputs.
func (c *Calculator) Calculate(inputTokens, outputTokens int64, model catalog.Model) (Impact, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return Impact{}, fmt.Errorf("%w: input=%d output=%d", ErrNegativeTokens, inputTokens, outputTokens)
	}

	input := decimal.NewFromInt(inputTokens)
	output := decimal.NewFromInt(outputTokens)

	inputCost := model.PriceInput.Mul(input).Div(thousand).Round(Precision)
	outputCost := model.PriceOutput.Mul(output).Div(thousand).Round(Precision)
	totalCost := inputCost.Add(outputCost)
	donation := totalCost.Mul(c.donationRate).Round(Precision)
	trees := donation.Mul(c.treesPerUSD).Round(Precision)

	return Impact{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  totalCost,
		Donation:   donation,
		Trees:      trees,
	}, nil
}
