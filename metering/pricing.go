// Package metering turns raw token usage into fixed-point credit costs.
//
// Credits are represented as int64 scaled by Scale (10^4): a price of
// "$0.0001 per prompt token" becomes an integer PricePerPromptToken of 1.
// All arithmetic stays in integers so repeated Add/Cost calls never
// accumulate floating-point drift across a long-running stream.
package metering

import (
	"fmt"
	"sync/atomic"
)

// Scale is the fixed-point denominator: 1 credit unit == 1/Scale of a
// whole credit. Every Cost and stored ledger amount is an integer number
// of these units.
const Scale = 10000

// ModelPricing holds the per-token price of a single model, in credit
// units (not whole credits) per token.
type ModelPricing struct {
	Provider             string `json:"provider" yaml:"provider"`
	Model                string `json:"model" yaml:"model"`
	PricePerPromptToken  int64  `json:"price_per_prompt_token" yaml:"price_per_prompt_token"`
	PricePerOutputToken  int64  `json:"price_per_output_token" yaml:"price_per_output_token"`
	PricePerCachedToken  int64  `json:"price_per_cached_token,omitempty" yaml:"price_per_cached_token,omitempty"`
	MinimumChargeUnits   int64  `json:"minimum_charge_units,omitempty" yaml:"minimum_charge_units,omitempty"`
}

// PricingTable is an atomically-swappable snapshot of all known model
// prices, keyed "provider/model". Swapping the pointer on reload means
// in-flight Cost() calls never observe a half-updated table.
type PricingTable struct {
	snapshot atomic.Pointer[map[string]ModelPricing]
}

// NewPricingTable builds a PricingTable from a slice of entries.
func NewPricingTable(entries []ModelPricing) *PricingTable {
	t := &PricingTable{}
	t.Replace(entries)
	return t
}

// Replace atomically swaps in a new pricing snapshot, e.g. after a
// hot-reloaded config change.
func (t *PricingTable) Replace(entries []ModelPricing) {
	m := make(map[string]ModelPricing, len(entries))
	for _, e := range entries {
		m[key(e.Provider, e.Model)] = e
	}
	t.snapshot.Store(&m)
}

// Lookup returns the pricing for provider/model, or false if unknown.
func (t *PricingTable) Lookup(provider, model string) (ModelPricing, bool) {
	m := t.snapshot.Load()
	if m == nil {
		return ModelPricing{}, false
	}
	p, ok := (*m)[key(provider, model)]
	return p, ok
}

func key(provider, model string) string { return provider + "/" + model }

// Usage is a token usage breakdown fed into Cost.
type Usage struct {
	PromptTokens int
	OutputTokens int
	CachedTokens int
}

// ErrUnknownModel is returned by Cost when no pricing entry exists for a
// provider/model pair. Callers should treat this as a routing bug, not a
// reason to charge zero credits.
type ErrUnknownModel struct {
	Provider, Model string
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("metering: no pricing entry for %s/%s", e.Provider, e.Model)
}

// Cost computes the credit cost, in fixed-point units, of the given usage
// against the provider/model's price table entry. Every term is an integer
// product, so no rounding happens here; a total below MinimumChargeUnits
// is raised to it.
func (t *PricingTable) Cost(provider, model string, u Usage) (int64, error) {
	price, ok := t.Lookup(provider, model)
	if !ok {
		return 0, &ErrUnknownModel{Provider: provider, Model: model}
	}

	billablePrompt := u.PromptTokens - u.CachedTokens
	if billablePrompt < 0 {
		billablePrompt = 0
	}

	total := int64(billablePrompt)*price.PricePerPromptToken +
		int64(u.OutputTokens)*price.PricePerOutputToken +
		int64(u.CachedTokens)*price.PricePerCachedToken

	if total < price.MinimumChargeUnits {
		total = price.MinimumChargeUnits
	}
	return total, nil
}

// RoundHalfAwayFromZero rounds a ratio n/d to the nearest integer, ties
// rounding away from zero (so -5/2 gives -3); d == 0 gives 0. Used when a cost must be
// derived from a fractional rate (e.g. per-1K-token list prices converted
// to per-token fixed point at config load time).
func RoundHalfAwayFromZero(n, d int64) int64 {
	if d == 0 {
		return 0
	}
	neg := (n < 0) != (d < 0)
	if n < 0 {
		n = -n
	}
	if d < 0 {
		d = -d
	}
	q := n / d
	r := n % d
	if 2*r >= d {
		q++
	}
	if neg {
		q = -q
	}
	return q
}
