package metering

import (
	"sync"

	"github.com/AlfredDev/alfred/llm/tokenizer"
)

// Meter estimates token usage before a call and accumulates actual usage
// as a stream progresses, converting both into fixed-point credit costs
// via a PricingTable.
type Meter struct {
	pricing *PricingTable
}

// NewMeter creates a Meter backed by the given pricing table.
func NewMeter(pricing *PricingTable) *Meter {
	return &Meter{pricing: pricing}
}

// Estimate computes a pre-call worst-case credit cost for admission control:
// prompt tokens are counted exactly via the model's registered tokenizer
// (or the character-based estimator as a fallback), and output tokens are
// assumed to run to the request's MaxTokens ceiling.
func (m *Meter) Estimate(provider, model string, messages []tokenizer.Message, maxOutputTokens int) (int64, error) {
	tok := tokenizer.GetTokenizerOrEstimator(model)
	promptTokens, err := tok.CountMessages(messages)
	if err != nil {
		return 0, err
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = tok.MaxTokens() / 4
	}
	return m.pricing.Cost(provider, model, Usage{PromptTokens: promptTokens, OutputTokens: maxOutputTokens})
}

// Accumulator tracks running token usage across a single request or
// stream and converts it to a final credit cost via Cost. One Accumulator
// is created per in-flight request; it is not safe to share across
// requests, only across the goroutines that stream chunks for the same one.
type Accumulator struct {
	mu       sync.Mutex
	provider string
	model    string
	usage    Usage
	pricing  *PricingTable
}

// NewAccumulator starts tracking usage for a single provider/model call.
func (m *Meter) NewAccumulator(provider, model string) *Accumulator {
	return &Accumulator{provider: provider, model: model, pricing: m.pricing}
}

// Add folds in usage reported by a streaming chunk or the final
// non-streaming response. Safe for concurrent use by a single writer and
// concurrent readers of Usage/Cost.
func (a *Accumulator) Add(u Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.PromptTokens += u.PromptTokens
	a.usage.OutputTokens += u.OutputTokens
	a.usage.CachedTokens += u.CachedTokens
}

// AddOutputText tokenizes delta with the tokenizer registered for this
// Accumulator's model (the provider is not consulted) and folds the resulting count into
// OutputTokens. This is the local half of spec's Accumulate contract: "the
// same tokenizer on streamed text", so a stream that never reports a
// final usage still settles on a real per-chunk token count rather than a
// flat one-token-per-chunk approximation. Returns the token delta added.
func (a *Accumulator) AddOutputText(delta string) (int, error) {
	if delta == "" {
		return 0, nil
	}
	tok := tokenizer.GetTokenizerOrEstimator(a.model)
	n, err := tok.CountTokens(delta)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.usage.OutputTokens += n
	a.mu.Unlock()
	return n, nil
}

// SetFinalUsage replaces the accumulated usage outright with a
// provider-reported final usage. Per spec, when a provider supplies its
// own usage at the end of a stream, that count overrides the locally
// tokenized running total rather than being added on top of it.
func (a *Accumulator) SetFinalUsage(u Usage) {
	a.mu.Lock()
	a.usage = u
	a.mu.Unlock()
}

// Usage returns the accumulated usage so far.
func (a *Accumulator) Usage() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Cost converts the accumulated usage into a final fixed-point credit
// charge against the pricing table.
func (a *Accumulator) Cost() (int64, error) {
	a.mu.Lock()
	u := a.usage
	a.mu.Unlock()
	return a.pricing.Cost(a.provider, a.model, u)
}
