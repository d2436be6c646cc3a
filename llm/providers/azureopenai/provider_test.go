package azureopenai

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlfredDev/alfred/llm/providers"
)

func TestNew_BuildsResourceScopedBaseURL(t *testing.T) {
	cfg := providers.AzureOpenAIConfig{Resource: "my-org", Deployment: "gpt-deploy"}
	p := New(cfg, zap.NewNop())
	require.NotNil(t, p)
	assert.Equal(t, "azure-openai", p.Name())
	assert.Equal(t, "https://my-org.openai.azure.com", p.Cfg.BaseURL)
	assert.Contains(t, p.Cfg.EndpointPath, "/openai/deployments/gpt-deploy/chat/completions")
	assert.Contains(t, p.Cfg.EndpointPath, "api-version=2025-04-01-preview")
}

func TestNew_ExplicitBaseURLIsNotOverridden(t *testing.T) {
	cfg := providers.AzureOpenAIConfig{Resource: "my-org"}
	cfg.BaseURL = "https://custom.example.com"
	p := New(cfg, zap.NewNop())
	assert.Equal(t, "https://custom.example.com", p.Cfg.BaseURL)
}

func TestNew_DeploymentFallsBackToModel(t *testing.T) {
	cfg := providers.AzureOpenAIConfig{Resource: "my-org"}
	cfg.Model = "gpt-4o"
	p := New(cfg, zap.NewNop())
	assert.Contains(t, p.Cfg.EndpointPath, "/openai/deployments/gpt-4o/chat/completions")
}

func TestNew_UsesAPIKeyHeaderNotBearer(t *testing.T) {
	p := New(providers.AzureOpenAIConfig{Resource: "my-org"}, zap.NewNop())
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NotNil(t, p.Cfg.BuildHeaders)
	p.Cfg.BuildHeaders(req, "secret-key")

	assert.Equal(t, "secret-key", req.Header.Get("api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestNew_CustomAPIVersionRespected(t *testing.T) {
	cfg := providers.AzureOpenAIConfig{Resource: "my-org", APIVersion: "2024-02-01"}
	p := New(cfg, zap.NewNop())
	assert.Contains(t, p.Cfg.EndpointPath, "api-version=2024-02-01")
	assert.Contains(t, p.Cfg.ModelsEndpoint, "api-version=2024-02-01")
}
