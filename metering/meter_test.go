package metering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/llm/tokenizer"
)

func testMeter() *Meter {
	return NewMeter(NewPricingTable([]ModelPricing{
		{Provider: "openai", Model: "gpt-4o-test", PricePerPromptToken: 5, PricePerOutputToken: 10},
	}))
}

func TestMeterEstimateUsesRequestedMaxTokens(t *testing.T) {
	m := testMeter()
	messages := []tokenizer.Message{{Role: "user", Content: "hello there"}}

	cost, err := m.Estimate("openai", "gpt-4o-test", messages, 100)
	require.NoError(t, err)
	assert.Greater(t, cost, int64(0))
}

func TestMeterEstimateFallsBackWhenNoMaxTokensGiven(t *testing.T) {
	m := testMeter()
	messages := []tokenizer.Message{{Role: "user", Content: "hello"}}

	withCap, err := m.Estimate("openai", "gpt-4o-test", messages, 40)
	require.NoError(t, err)
	withoutCap, err := m.Estimate("openai", "gpt-4o-test", messages, 0)
	require.NoError(t, err)

	assert.NotEqual(t, withCap, withoutCap, "an absent max_output_tokens must fall back to a policy-derived cap, not zero")
}

func TestAccumulatorAddsAcrossMultipleChunks(t *testing.T) {
	m := testMeter()
	acc := m.NewAccumulator("openai", "gpt-4o-test")

	acc.Add(Usage{PromptTokens: 100})
	acc.Add(Usage{OutputTokens: 10})
	acc.Add(Usage{OutputTokens: 10})
	acc.Add(Usage{OutputTokens: 10})

	usage := acc.Usage()
	assert.Equal(t, 100, usage.PromptTokens)
	assert.Equal(t, 30, usage.OutputTokens)

	cost, err := acc.Cost()
	require.NoError(t, err)
	assert.EqualValues(t, 100*5+30*10, cost)
}

func TestAccumulatorUnknownModelErrorsOnCost(t *testing.T) {
	m := testMeter()
	acc := m.NewAccumulator("openai", "model-without-pricing")
	acc.Add(Usage{PromptTokens: 10})

	_, err := acc.Cost()
	assert.Error(t, err)
}

func TestAccumulatorAddOutputTextTokenizesEachDelta(t *testing.T) {
	m := testMeter()
	acc := m.NewAccumulator("openai", "gpt-4o-test")

	n1, err := acc.AddOutputText("hello there")
	require.NoError(t, err)
	assert.Greater(t, n1, 0)

	n2, err := acc.AddOutputText("general kenobi")
	require.NoError(t, err)
	assert.Greater(t, n2, 0)

	usage := acc.Usage()
	assert.Equal(t, n1+n2, usage.OutputTokens, "repeated deltas accumulate rather than overwrite")
}

func TestAccumulatorAddOutputTextIgnoresEmptyDelta(t *testing.T) {
	m := testMeter()
	acc := m.NewAccumulator("openai", "gpt-4o-test")

	n, err := acc.AddOutputText("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, acc.Usage().OutputTokens)
}

func TestSetFinalUsageOverridesLocalCount(t *testing.T) {
	m := testMeter()
	acc := m.NewAccumulator("openai", "gpt-4o-test")

	_, err := acc.AddOutputText("this local estimate should be discarded entirely")
	require.NoError(t, err)
	require.NotZero(t, acc.Usage().OutputTokens)

	acc.SetFinalUsage(Usage{PromptTokens: 50, OutputTokens: 75})

	usage := acc.Usage()
	assert.Equal(t, 50, usage.PromptTokens)
	assert.Equal(t, 75, usage.OutputTokens, "a provider-reported final usage replaces the local tokenizer count, it does not add to it")

	cost, err := acc.Cost()
	require.NoError(t, err)
	assert.EqualValues(t, 50*5+75*10, cost)
}
