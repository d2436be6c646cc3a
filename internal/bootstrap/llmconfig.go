// Package bootstrap assembles the gateway's runtime dependency graph from
// config.Config: the router's candidate set, the pricing table, the
// provider adapters, and the persistence layers. It exists so
// cmd/alfred-gateway stays a thin entrypoint and every other package stays
// ignorant of how the others are constructed.
package bootstrap

import (
	"time"

	"github.com/AlfredDev/alfred/config"
	llmconfig "github.com/AlfredDev/alfred/llm/config"
	"github.com/AlfredDev/alfred/metering"
)

// BuildRouterConfig converts the YAML-facing config.LLMConfig into the
// internal llm/config.LLMConfig shape the router consumes. The two types
// look alike but diverge enough (pointer-free value types, task-keyed
// routing weights) that a field-by-field translation is
// clearer than trying to unify them.
func BuildRouterConfig(cfg config.LLMConfig) *llmconfig.LLMConfig {
	out := &llmconfig.LLMConfig{
		Version:        1,
		UpdatedAt:      time.Time{},
		Providers:      make(map[string]llmconfig.ProviderConfig, len(cfg.Providers)),
		RoutingWeights: make(map[string][]llmconfig.RoutingWeight, len(cfg.RoutingWeights)),
	}

	for code, p := range cfg.Providers {
		models := make([]llmconfig.ModelConfig, 0, len(p.Models))
		for _, m := range p.Models {
			models = append(models, llmconfig.ModelConfig{
				ID:          m.ID,
				Name:        m.ID,
				MaxTokens:   m.MaxTokens,
				PriceInput:  m.InRate,
				PriceOutput: m.OutRate,
				Tags:        m.Tags,
				Enabled:     true,
				FallbackIDs: m.FallbackIDs,
			})
		}
		out.Providers[code] = llmconfig.ProviderConfig{
			Code:    code,
			Name:    p.Name,
			BaseURL: p.BaseURL,
			Region:  p.Region,
			Enabled: p.Enabled,
			Models:  models,
		}
	}

	for taskType, weights := range cfg.RoutingWeights {
		converted := make([]llmconfig.RoutingWeight, 0, len(weights))
		for _, w := range weights {
			converted = append(converted, llmconfig.RoutingWeight{
				ModelID:        w.ModelID,
				TaskType:       taskType,
				Weight:         w.Weight,
				CostWeight:     w.CostWeight,
				LatencyWeight:  w.LatencyWeight,
				QualityWeight:  w.QualityWeight,
				MaxCostPerReq:  w.MaxCostPerReq,
				MaxLatencyMs:   w.MaxLatencyMs,
				MinSuccessRate: w.MinSuccessRate,
				Enabled:        w.Enabled,
			})
		}
		out.RoutingWeights[taskType] = converted
	}

	return out
}

// BuildPricingTable derives a metering.PricingTable from the same
// config.LLMConfig section the router reads. Rates in config are expressed
// as credits per 1,000 tokens (a human-friendly list-price unit); the
// pricing table wants fixed-point credit units per single token, so each
// rate is converted through metering.Scale before division by 1000.
func BuildPricingTable(cfg config.LLMConfig) *metering.PricingTable {
	var entries []metering.ModelPricing
	for code, p := range cfg.Providers {
		for _, m := range p.Models {
			entries = append(entries, metering.ModelPricing{
				Provider:            code,
				Model:               m.ID,
				PricePerPromptToken: metering.RoundHalfAwayFromZero(int64(m.InRate*float64(metering.Scale)), 1000),
				PricePerOutputToken: metering.RoundHalfAwayFromZero(int64(m.OutRate*float64(metering.Scale)), 1000),
				PricePerCachedToken: metering.RoundHalfAwayFromZero(int64(m.CachedRate*float64(metering.Scale)), 1000),
			})
		}
	}
	return metering.NewPricingTable(entries)
}
