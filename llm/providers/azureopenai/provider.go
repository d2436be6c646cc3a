// Package azureopenai adapts Azure OpenAI Service deployments to the
// llm.Provider interface. Azure speaks the same chat-completions wire
// format as OpenAI but addresses a deployment rather than a model, pins the
// API version as a query parameter, and authenticates with the api-key
// header instead of a bearer token.
package azureopenai

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/AlfredDev/alfred/llm/providers"
	"github.com/AlfredDev/alfred/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// Provider wraps openaicompat.Provider with Azure's header/query
// conventions; no other behavior differs.
type Provider struct {
	*openaicompat.Provider
}

// New creates a new Azure OpenAI provider.
func New(cfg providers.AzureOpenAIConfig, logger *zap.Logger) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" && cfg.Resource != "" {
		baseURL = fmt.Sprintf("https://%s.openai.azure.com", cfg.Resource)
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2025-04-01-preview"
	}
	deployment := cfg.Deployment
	if deployment == "" {
		deployment = cfg.Model
	}

	p := &Provider{Provider: openaicompat.New(openaicompat.Config{
		ProviderName:   "azure-openai",
		APIKey:         cfg.APIKey,
		BaseURL:        baseURL,
		DefaultModel:   cfg.Model,
		EndpointPath:   fmt.Sprintf("/openai/deployments/%s/chat/completions?api-version=%s", deployment, apiVersion),
		ModelsEndpoint: fmt.Sprintf("/openai/models?api-version=%s", apiVersion),
		Timeout:        cfg.Timeout,
	}, logger)}

	p.SetBuildHeaders(func(req *http.Request, apiKey string) {
		req.Header.Set("api-key", apiKey)
		req.Header.Set("Content-Type", "application/json")
	})

	return p
}

// Name returns the embedded provider's name unchanged ("azure-openai").
func (p *Provider) Name() string {
	return strings.TrimSuffix(p.Provider.Name(), "")
}
