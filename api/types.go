// Package api provides the wire types for the Alfred gateway's HTTP surface.
package api

import (
	"time"

	"github.com/AlfredDev/alfred/types"
)

// Message, ToolCall, ImageContent and ToolSchema are re-exported from the
// types package so the wire format and the provider-facing llm.ChatRequest
// share a single definition — no field-by-field conversion at the HTTP
// boundary.
type (
	Message      = types.Message
	ToolCall     = types.ToolCall
	ImageContent = types.ImageContent
	ToolSchema   = types.ToolSchema
)

// =============================================================================
// Chat Completion Types
// =============================================================================

// ChatRequest represents a chat completion request.
// @Description Chat completion request structure
type ChatRequest struct {
	// Trace ID for request tracking
	TraceID string `json:"trace_id,omitempty" example:"trace-123"`
	// Model name (e.g., gpt-4, claude-3-opus), or a tag resolved by the router
	Model string `json:"model" example:"gpt-4" binding:"required"`
	// Conversation messages
	Messages []Message `json:"messages" binding:"required"`
	// Maximum tokens to generate
	MaxTokens int `json:"max_tokens,omitempty" example:"4096"`
	// Sampling temperature (0-2)
	Temperature float32 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling parameter (0-1)
	TopP float32 `json:"top_p,omitempty" example:"1.0"`
	// Stop sequences
	Stop []string `json:"stop,omitempty"`
	// Available tools for function calling
	Tools []ToolSchema `json:"tools,omitempty"`
	// Tool choice mode (auto, none, or specific tool name)
	ToolChoice string `json:"tool_choice,omitempty" example:"auto"`
	// Whether the caller wants a streamed response
	Stream bool `json:"stream,omitempty"`
	// Request timeout duration
	Timeout string `json:"timeout,omitempty" example:"30s"`
	// Routing tags (matched against model candidate tags)
	Tags []string `json:"tags,omitempty"`
	// Custom metadata
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChatResponse represents a chat completion response.
// @Description Chat completion response structure
type ChatResponse struct {
	// Response ID
	ID string `json:"id,omitempty" example:"chatcmpl-123"`
	// Provider that handled the request
	Provider string `json:"provider,omitempty" example:"openai"`
	// Model used
	Model string `json:"model" example:"gpt-4"`
	// Response choices
	Choices []ChatChoice `json:"choices"`
	// Token usage statistics
	Usage ChatUsage `json:"usage"`
	// Credit-governance usage augmentation, per the ingress contract
	AlfredUsage AlfredUsage `json:"alfred_usage"`
	// Response creation timestamp
	CreatedAt time.Time `json:"created_at"`
}

// AlfredUsage carries the credit-side accounting for a completed request,
// appended to every chat completion response regardless of provider.
type AlfredUsage struct {
	// Credits actually charged (settled amount), as a decimal string in
	// whole credits with four fraction digits (e.g. "0.8000") to avoid
	// float rounding in transit
	CreditsCharged string `json:"credits_charged"`
	// Remaining wallet balance immediately after settlement, same
	// whole-credits decimal encoding as CreditsCharged
	RemainingBalance string `json:"remaining_balance"`
	// Cost in USD, as a decimal string to avoid float rounding in transit
	CostUSD string `json:"cost_usd"`
}

// =============================================================================
// Embeddings Types
// =============================================================================

// EmbeddingsRequest represents an embedding-vector request.
// @Description Embeddings request structure
type EmbeddingsRequest struct {
	// Model name, or a tag resolved by the router
	Model string `json:"model" example:"text-embedding-3-small" binding:"required"`
	// One or more strings to embed
	Input []string `json:"input" binding:"required"`
	// Trace ID for request tracking
	TraceID string `json:"trace_id,omitempty"`
	// Routing tags (matched against model candidate tags)
	Tags []string `json:"tags,omitempty"`
}

// EmbeddingsResponse represents the vectors returned for an
// EmbeddingsRequest, in the same order as EmbeddingsRequest.Input.
type EmbeddingsResponse struct {
	Provider    string              `json:"provider,omitempty"`
	Model       string              `json:"model"`
	Data        []EmbeddingData     `json:"data"`
	Usage       ChatUsage           `json:"usage"`
	AlfredUsage AlfredUsage         `json:"alfred_usage"`
	CreatedAt   time.Time           `json:"created_at"`
}

// EmbeddingData is a single input's vector representation.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// ChatChoice represents a single choice in the response.
// @Description Chat choice structure
type ChatChoice struct {
	// Choice index
	Index int `json:"index" example:"0"`
	// Reason for completion (stop, length, tool_calls, content_filter, guardrail)
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Response message
	Message Message `json:"message"`
}

// ChatUsage represents token usage in a response.
// @Description Token usage statistics
type ChatUsage struct {
	// Tokens in the prompt
	PromptTokens int `json:"prompt_tokens" example:"100"`
	// Tokens in the completion
	CompletionTokens int `json:"completion_tokens" example:"50"`
	// Total tokens used
	TotalTokens int `json:"total_tokens" example:"150"`
	// Tokens served from the semantic cache, a subset of PromptTokens
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// StreamChunk represents a streaming response chunk.
// @Description Streaming response chunk structure
type StreamChunk struct {
	// Chunk ID
	ID string `json:"id,omitempty" example:"chatcmpl-123"`
	// Provider name
	Provider string `json:"provider,omitempty" example:"openai"`
	// Model name
	Model string `json:"model,omitempty" example:"gpt-4"`
	// Choice index
	Index int `json:"index,omitempty" example:"0"`
	// Delta message content
	Delta Message `json:"delta"`
	// Finish reason (only in final chunk)
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Usage statistics (only in final chunk)
	Usage *ChatUsage `json:"usage,omitempty"`
	// Credit usage (only in final chunk)
	AlfredUsage *AlfredUsage `json:"alfred_usage,omitempty"`
	// Error information
	Error *ErrorDetail `json:"error,omitempty"`
}

// =============================================================================
// Wallet Types
// =============================================================================

// WalletView is the read-facing projection of a wallet's state.
// @Description Wallet balance view
type WalletView struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Balance   int64     `json:"balance"`
	Held      int64     `json:"held"`
	Available int64     `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransferRequest represents a request to move credits between wallets.
// @Description Wallet-to-wallet transfer request
type TransferRequest struct {
	FromWalletID string `json:"from_wallet_id" binding:"required"`
	ToWalletID   string `json:"to_wallet_id" binding:"required"`
	Amount       int64  `json:"amount" binding:"required"`
	Reason       string `json:"reason,omitempty"`
}

// =============================================================================
// Provider Types
// =============================================================================

// LLMProvider represents an LLM provider as configured for routing.
// @Description LLM provider structure
type LLMProvider struct {
	// Provider code (e.g., openai, anthropic)
	Code string `json:"code" example:"openai"`
	// Provider display name
	Name string `json:"name" example:"OpenAI"`
	// Whether the provider is currently enabled
	Enabled bool `json:"enabled" example:"true"`
	// Provider priority for routing (lower wins ties)
	Priority int `json:"priority" example:"100"`
}

// LLMModel represents a routable model.
// @Description LLM model structure
type LLMModel struct {
	// Model identifier
	ModelID string `json:"model_id" example:"openai/gpt-4"`
	// Maximum context length
	MaxTokens int `json:"max_tokens" example:"128000"`
	// Price per input token, fixed-point credit units
	InRate float64 `json:"in_rate" example:"0.01"`
	// Price per output token, fixed-point credit units
	OutRate float64 `json:"out_rate" example:"0.03"`
	// Routing tags
	Tags []string `json:"tags,omitempty"`
	// Whether the model is enabled
	Enabled bool `json:"enabled" example:"true"`
}

// =============================================================================
// Error Types
// =============================================================================

// ErrorResponse represents a standalone error response body.
// @Description Error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details.
// @Description Error detail structure
type ErrorDetail struct {
	// Error code
	Code string `json:"code" example:"BUDGET_EXHAUSTED"`
	// Human-readable error message
	Message string `json:"message" example:"wallet balance insufficient to cover estimated cost"`
	// HTTP status code
	HTTPStatus int `json:"http_status,omitempty" example:"429"`
	// Whether the request can be retried
	Retryable bool `json:"retryable,omitempty" example:"false"`
	// Provider that returned the error, if upstream-sourced
	Provider string `json:"provider,omitempty" example:"openai"`
}

// =============================================================================
// Response Envelope
// =============================================================================

// Response is the canonical API envelope wrapping every JSON response body.
// @Description Generic API response envelope
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo is the error payload nested inside a failed Response.
// @Description Error info structure
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// =============================================================================
// List Response Types
// =============================================================================

// ProviderListResponse represents a list of providers.
// @Description Provider list response
type ProviderListResponse struct {
	Providers []LLMProvider `json:"providers"`
}

// ModelListResponse represents a list of models.
// @Description Model list response
type ModelListResponse struct {
	Models []LLMModel `json:"models"`
}
