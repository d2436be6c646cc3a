package providers

import "time"

// BaseProviderConfig holds the fields shared by every provider config.
// Embedding it gives each provider's Config the APIKey/BaseURL/Model/Timeout
// quartet without repeating the definitions.
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	APIKeys []string      `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // multiple keys, round-robin
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Models  []string      `json:"models,omitempty" yaml:"models,omitempty"` // allowed model whitelist
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
	UseResponsesAPI    bool   `json:"use_responses_api,omitempty" yaml:"use_responses_api,omitempty"`
}

// AzureOpenAIConfig configures the Azure OpenAI provider, which is wire
// compatible with OpenAI but addresses deployments rather than models and
// authenticates with a resource-scoped api-key header plus an api-version
// query parameter.
type AzureOpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Resource           string `json:"resource,omitempty" yaml:"resource,omitempty"`
	Deployment         string `json:"deployment,omitempty" yaml:"deployment,omitempty"`
	APIVersion         string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
}

// ClaudeConfig configures the Anthropic Claude provider.
type ClaudeConfig struct {
	BaseProviderConfig `yaml:",inline"`
	AuthType           string `json:"auth_type,omitempty" yaml:"auth_type,omitempty"`                 // "api_key"(default) | "bearer"
	AnthropicVersion   string `json:"anthropic_version,omitempty" yaml:"anthropic_version,omitempty"` // default "2023-06-01"
}

// GeminiConfig configures the Google Gemini provider.
type GeminiConfig struct {
	BaseProviderConfig `yaml:",inline"`
	ProjectID          string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Region             string `json:"region,omitempty" yaml:"region,omitempty"`
	AuthType           string `json:"auth_type,omitempty" yaml:"auth_type,omitempty"` // "api_key"(default) | "oauth"
}

// BedrockConfig configures the AWS Bedrock Runtime provider.
type BedrockConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Region             string `json:"region,omitempty" yaml:"region,omitempty"`
	Profile            string `json:"profile,omitempty" yaml:"profile,omitempty"`
	ModelARN           string `json:"model_arn,omitempty" yaml:"model_arn,omitempty"`
}

// CohereConfig configures the Cohere Chat provider.
type CohereConfig struct {
	BaseProviderConfig `yaml:",inline"`
	ConnectorIDs       []string `json:"connector_ids,omitempty" yaml:"connector_ids,omitempty"`
}

// SelfHostedConfig configures an OpenAI-compatible self-hosted endpoint
// (vLLM, Ollama, TGI, etc). These never require an API key.
type SelfHostedConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Engine             string `json:"engine,omitempty" yaml:"engine,omitempty"` // "vllm" | "ollama"
}
