package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AlfredDev/alfred/config"
	"github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/providers"
	"github.com/AlfredDev/alfred/llm/providers/anthropic"
	"github.com/AlfredDev/alfred/llm/providers/azureopenai"
	"github.com/AlfredDev/alfred/llm/providers/bedrock"
	"github.com/AlfredDev/alfred/llm/providers/cohere"
	"github.com/AlfredDev/alfred/llm/providers/gemini"
	"github.com/AlfredDev/alfred/llm/providers/openai"
	"github.com/AlfredDev/alfred/llm/providers/selfhosted"
)

// BuildProviders constructs one llm.Provider per enabled entry in
// cfg.Providers, keyed by provider code. Unknown provider "name" values are
// skipped with a warning rather than failing startup, so a gateway with a
// partially-misconfigured provider list still serves the providers it
// understands.
func BuildProviders(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (map[string]llm.Provider, error) {
	out := make(map[string]llm.Provider, len(cfg.Providers))

	for code, entry := range cfg.Providers {
		if !entry.Enabled {
			continue
		}
		base := providers.BaseProviderConfig{
			APIKey:  entry.APIKey,
			BaseURL: entry.BaseURL,
		}

		var p llm.Provider
		switch entry.Name {
		case "openai":
			p = openai.NewOpenAIProvider(providers.OpenAIConfig{BaseProviderConfig: base}, logger)
		case "azureopenai", "azure_openai", "azure":
			p = azureopenai.New(providers.AzureOpenAIConfig{
				BaseProviderConfig: base,
				Region:             entry.Region,
			}, logger)
		case "anthropic", "claude":
			p = anthropic.NewClaudeProvider(providers.ClaudeConfig{BaseProviderConfig: base}, logger)
		case "gemini", "google":
			p = gemini.NewGeminiProvider(providers.GeminiConfig{BaseProviderConfig: base, Region: entry.Region}, logger)
		case "bedrock":
			bp, err := bedrock.New(ctx, providers.BedrockConfig{BaseProviderConfig: base, Region: entry.Region}, logger)
			if err != nil {
				logger.Warn("skipping bedrock provider", zap.String("provider", code), zap.Error(err))
				continue
			}
			p = bp
		case "cohere":
			p = cohere.New(providers.CohereConfig{BaseProviderConfig: base}, logger)
		case "vllm", "ollama", "selfhosted", "self_hosted":
			p = selfhosted.New(providers.SelfHostedConfig{BaseProviderConfig: base, Engine: entry.Name}, logger)
		default:
			logger.Warn("unknown provider kind, skipping", zap.String("provider", code), zap.String("name", entry.Name))
			continue
		}

		out[code] = p
	}

	if len(out) == 0 {
		return out, fmt.Errorf("bootstrap: no providers configured or enabled")
	}
	return out, nil
}
