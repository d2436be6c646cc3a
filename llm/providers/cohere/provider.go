// Package cohere adapts the Cohere Chat API (v2) to the llm.Provider
// interface. Cohere's wire format is close enough to OpenAI-compatible
// chat completions to follow the same pattern, but its message roles
// ("USER"/"CHATBOT"/"SYSTEM") and tool-call envelope diverge enough that it
// is implemented standalone rather than embedding openaicompat.Provider.
package cohere

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AlfredDev/alfred/internal/tlsutil"
	"github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/providers"
	"go.uber.org/zap"
)

// Provider implements llm.Provider against the Cohere Chat API.
type Provider struct {
	cfg    providers.CohereConfig
	client *http.Client
	logger *zap.Logger
}

// New creates a new Cohere provider.
func New(cfg providers.CohereConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: tlsutil.SecureHTTPClient(timeout), logger: logger}
}

func (p *Provider) Name() string { return "cohere" }

func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok {
		if strings.TrimSpace(c.APIKey) != "" {
			return strings.TrimSpace(c.APIKey)
		}
	}
	return p.cfg.APIKey
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/v1/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.cfg.APIKey)
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, fmt.Errorf("cohere health check failed: status=%d", resp.StatusCode)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return providers.ListModelsOpenAICompat(ctx, p.client, p.cfg.BaseURL, p.cfg.APIKey, p.Name(), "/v1/models", p.buildHeaders)
}

type cohereToolCall struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

type cohereMessage struct {
	Role      string           `json:"role"` // USER | CHATBOT | SYSTEM | TOOL
	Content   string           `json:"content,omitempty"`
	ToolCalls []cohereToolCall `json:"tool_calls,omitempty"`
}

type cohereToolDef struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	ParameterDefinitions json.RawMessage `json:"parameter_definitions,omitempty"`
}

type cohereRequest struct {
	Model       string          `json:"model"`
	Messages    []cohereMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	P           float32         `json:"p,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	StopSeqs    []string        `json:"stop_sequences,omitempty"`
	Tools       []cohereToolDef `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type cohereUsage struct {
	BilledUnits struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"billed_units"`
}

type cohereResponse struct {
	ID           string          `json:"id"`
	FinishReason string          `json:"finish_reason"`
	Message      cohereMessage   `json:"message"`
	Usage        cohereUsage     `json:"usage"`
	ToolCalls    []cohereToolCall `json:"tool_calls,omitempty"`
}

func toCohereMessages(msgs []llm.Message) []cohereMessage {
	out := make([]cohereMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "USER"
		switch m.Role {
		case llm.RoleSystem:
			role = "SYSTEM"
		case llm.RoleAssistant:
			role = "CHATBOT"
		case llm.RoleTool:
			role = "TOOL"
		}
		cm := cohereMessage{Role: role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, cohereToolCall{Name: tc.Name, Parameters: tc.Arguments})
		}
		out = append(out, cm)
	}
	return out
}

func toCohereTools(tools []llm.ToolSchema) []cohereToolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]cohereToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, cohereToolDef{Name: t.Name, Description: t.Description, ParameterDefinitions: t.Parameters})
	}
	return out
}

func chooseCohereModel(req *llm.ChatRequest, defaultModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return "command-a-2026"
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) cohereRequest {
	return cohereRequest{
		Model:       chooseCohereModel(req, p.cfg.Model),
		Messages:    toCohereMessages(req.Messages),
		Temperature: req.Temperature,
		P:           req.TopP,
		MaxTokens:   req.MaxTokens,
		StopSeqs:    req.Stop,
		Tools:       toCohereTools(req.Tools),
		Stream:      stream,
	}
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	apiKey := p.resolveAPIKey(ctx)
	body := p.buildRequest(req, false)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v2/chat"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var cr cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	msg := llm.Message{Role: llm.RoleAssistant, Content: cr.Message.Content}
	for _, tc := range cr.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{Name: tc.Name, Arguments: tc.Parameters})
	}

	return &llm.ChatResponse{
		ID:       cr.ID,
		Provider: p.Name(),
		Model:    body.Model,
		Choices:  []llm.ChatChoice{{Index: 0, FinishReason: cr.FinishReason, Message: msg}},
		Usage: llm.ChatUsage{
			PromptTokens:     cr.Usage.BilledUnits.InputTokens,
			CompletionTokens: cr.Usage.BilledUnits.OutputTokens,
			TotalTokens:      cr.Usage.BilledUnits.InputTokens + cr.Usage.BilledUnits.OutputTokens,
		},
	}, nil
}

type cohereEmbedRequest struct {
	Model          string   `json:"model"`
	Texts          []string `json:"texts"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
}

type cohereEmbedResponse struct {
	ID         string `json:"id"`
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
	Meta struct {
		BilledUnits struct {
			InputTokens int `json:"input_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

// Embeddings requests vector representations via Cohere's /v2/embed
// endpoint. Cohere requires an input_type hint (search_document covers the
// semantic-cache/RAG use case this gateway exercises it for).
func (p *Provider) Embeddings(ctx context.Context, req *llm.EmbeddingsRequest) (*llm.EmbeddingsResponse, error) {
	apiKey := p.resolveAPIKey(ctx)
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	if model == "" {
		model = "embed-v4.0"
	}

	body := cohereEmbedRequest{
		Model:          model,
		Texts:          req.Input,
		InputType:      "search_document",
		EmbeddingTypes: []string{"float"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embeddings request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v2/embed"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var er cohereEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	data := make([]llm.Embedding, len(er.Embeddings.Float))
	for i, vec := range er.Embeddings.Float {
		data[i] = llm.Embedding{Index: i, Embedding: vec}
	}
	return &llm.EmbeddingsResponse{
		Provider: p.Name(),
		Model:    model,
		Data:     data,
		Usage:    llm.ChatUsage{PromptTokens: er.Meta.BilledUnits.InputTokens, TotalTokens: er.Meta.BilledUnits.InputTokens},
	}, nil
}

type cohereStreamEvent struct {
	Type  string `json:"type"` // content-delta | tool-call-delta | message-end
	Delta struct {
		Message struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
			ToolCalls *cohereToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
	} `json:"delta"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *cohereUsage `json:"usage,omitempty"`
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	apiKey := p.resolveAPIKey(ctx)
	body := p.buildRequest(req, true)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v2/chat"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		reader := bufio.NewReader(resp.Body)
		model := body.Model

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					ch <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var evt cohereStreamEvent
			if err := json.Unmarshal([]byte(line), &evt); err != nil {
				continue
			}
			switch evt.Type {
			case "content-delta":
				ch <- llm.StreamChunk{Provider: p.Name(), Model: model, Delta: llm.Message{Role: llm.RoleAssistant, Content: evt.Delta.Message.Content.Text}}
			case "tool-call-delta":
				if evt.Delta.Message.ToolCalls != nil {
					ch <- llm.StreamChunk{Provider: p.Name(), Model: model, Delta: llm.Message{
						Role:      llm.RoleAssistant,
						ToolCalls: []llm.ToolCall{{Name: evt.Delta.Message.ToolCalls.Name, Arguments: evt.Delta.Message.ToolCalls.Parameters}},
					}}
				}
			case "message-end":
				chunk := llm.StreamChunk{Provider: p.Name(), Model: model, FinishReason: evt.FinishReason}
				if evt.Usage != nil {
					chunk.Usage = &llm.ChatUsage{
						PromptTokens:     evt.Usage.BilledUnits.InputTokens,
						CompletionTokens: evt.Usage.BilledUnits.OutputTokens,
						TotalTokens:      evt.Usage.BilledUnits.InputTokens + evt.Usage.BilledUnits.OutputTokens,
					}
				}
				ch <- chunk
				return
			}
		}
	}()

	return ch, nil
}
