package metering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingTableCost(t *testing.T) {
	table := NewPricingTable([]ModelPricing{
		{Provider: "openai", Model: "gpt-4o", PricePerPromptToken: 5, PricePerOutputToken: 10},
	})

	// Scenario from spec §8: prompt 400 tokens at in_rate=0.5/1K, response
	// 600 tokens at out_rate=1.0/1K should settle to 0.80 credits. Scaled
	// to this table's per-token fixed point (Scale=10000): 0.5/1K credits
	// per prompt token == 5 units/token, 1.0/1K == 10 units/token.
	cost, err := table.Cost("openai", "gpt-4o", Usage{PromptTokens: 400, OutputTokens: 600})
	require.NoError(t, err)
	assert.EqualValues(t, 400*5+600*10, cost)
	assert.EqualValues(t, 8000, cost) // 0.8000 credits at Scale=10000
}

func TestPricingTableUnknownModel(t *testing.T) {
	table := NewPricingTable(nil)
	_, err := table.Cost("openai", "gpt-4o", Usage{PromptTokens: 1})
	require.Error(t, err)

	var unknown *ErrUnknownModel
	assert.ErrorAs(t, err, &unknown)
}

func TestPricingTableCachedTokensDiscounted(t *testing.T) {
	table := NewPricingTable([]ModelPricing{
		{Provider: "openai", Model: "gpt-4o", PricePerPromptToken: 10, PricePerOutputToken: 10, PricePerCachedToken: 1},
	})

	cost, err := table.Cost("openai", "gpt-4o", Usage{PromptTokens: 100, CachedTokens: 40, OutputTokens: 0})
	require.NoError(t, err)
	// Only the 60 non-cached prompt tokens bill at the full prompt rate;
	// the 40 cached ones bill at the separate, cheaper cached rate.
	assert.EqualValues(t, 60*10+40*1, cost)
}

func TestPricingTableMinimumCharge(t *testing.T) {
	table := NewPricingTable([]ModelPricing{
		{Provider: "openai", Model: "gpt-4o", PricePerPromptToken: 1, PricePerOutputToken: 1, MinimumChargeUnits: 50},
	})

	cost, err := table.Cost("openai", "gpt-4o", Usage{PromptTokens: 1, OutputTokens: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 50, cost)
}

func TestPricingTableReplaceIsAtomic(t *testing.T) {
	table := NewPricingTable([]ModelPricing{
		{Provider: "openai", Model: "gpt-4o", PricePerPromptToken: 1, PricePerOutputToken: 1},
	})

	_, ok := table.Lookup("openai", "gpt-4o")
	require.True(t, ok)

	table.Replace([]ModelPricing{
		{Provider: "anthropic", Model: "claude", PricePerPromptToken: 2, PricePerOutputToken: 2},
	})

	_, ok = table.Lookup("openai", "gpt-4o")
	assert.False(t, ok, "Replace swaps the whole snapshot, stale entries disappear")
	_, ok = table.Lookup("anthropic", "claude")
	assert.True(t, ok)
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		n, d, want int64
	}{
		{5, 2, 3},   // 2.5 -> 3
		{-5, 2, -3}, // -2.5 -> -3
		{4, 2, 2},
		{1, 3, 0},  // 0.33 -> 0
		{2, 3, 1},  // 0.67 -> 1
		{0, 5, 0},
		{7, 0, 0}, // division by zero guarded
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundHalfAwayFromZero(tc.n, tc.d))
	}
}
