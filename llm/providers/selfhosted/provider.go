// Package selfhosted adapts self-hosted inference engines (vLLM, Ollama)
// that expose an OpenAI-compatible chat-completions surface. Both engines
// need no API key by default and vLLM's OpenAI-compat server mirrors the
// upstream wire format exactly, so this is a thin openaicompat.Provider
// configuration rather than a new implementation.
package selfhosted

import (
	"net/http"

	"github.com/AlfredDev/alfred/llm/providers"
	"github.com/AlfredDev/alfred/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// Provider wraps openaicompat.Provider for direct, unauthenticated
// (or optionally token-gated) self-hosted endpoints.
type Provider struct {
	*openaicompat.Provider
}

// New creates a new self-hosted provider. engine selects cosmetic defaults
// only ("ollama" talks to /api/chat-compatible /v1, vLLM serves /v1 natively);
// both speak the same request/response schema once pointed at BaseURL.
func New(cfg providers.SelfHostedConfig, logger *zap.Logger) *Provider {
	name := "vllm"
	if cfg.Engine == "ollama" {
		name = "ollama"
	}

	p := &Provider{Provider: openaicompat.New(openaicompat.Config{
		ProviderName: name,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
	}, logger)}

	if cfg.APIKey == "" {
		p.SetBuildHeaders(func(req *http.Request, apiKey string) {
			req.Header.Set("Content-Type", "application/json")
		})
	}

	return p
}
