package claude

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

// ClaudeProvider implements llm.Provider against Anthropic's Messages API.
// It does not embed openaicompat.Provider: Claude's wire format diverges too
// much (x-api-key auth, a top-level system field, array-valued content
// blocks, and its own SSE event taxonomy) to share the OpenAI-compatible base.
type ClaudeProvider struct {
	cfg    providers.ClaudeConfig
	client *http.Client
	logger *zap.Logger
}

// NewClaudeProvider creates a new Anthropic Claude provider.
func NewClaudeProvider(cfg providers.ClaudeConfig, logger *zap.Logger) *ClaudeProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = "2023-06-01"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
	}
}

func (p *ClaudeProvider) Name() string { return "claude" }

func (p *ClaudeProvider) SupportsNativeFunctionCalling() bool { return true }

// Embeddings is unimplemented: Anthropic's Messages API has no embeddings
// surface, so there is no request to translate this into.
func (p *ClaudeProvider) Embeddings(ctx context.Context, req *llm.EmbeddingsRequest) (*llm.EmbeddingsResponse, error) {
	return nil, &llm.Error{
		Code:       llm.ErrModelNotFound,
		Message:    "claude does not offer an embeddings endpoint",
		HTTPStatus: http.StatusNotImplemented,
		Provider:   p.Name(),
	}
}

func (p *ClaudeProvider) resolveAPIKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok {
		if strings.TrimSpace(c.APIKey) != "" {
			return strings.TrimSpace(c.APIKey)
		}
	}
	return p.cfg.APIKey
}

func (p *ClaudeProvider) buildHeaders(req *http.Request, apiKey string) {
	if p.cfg.AuthType == "bearer" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	} else {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("anthropic-version", p.cfg.AnthropicVersion)
	req.Header.Set("Content-Type", "application/json")
}

func (p *ClaudeProvider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *ClaudeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
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
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("claude health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *ClaudeProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return providers.ListModelsOpenAICompat(
		ctx, p.client, p.cfg.BaseURL, p.cfg.APIKey, p.Name(), "/v1/models", p.buildHeaders,
	)
}

// --- wire types ---

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type claudeMessage struct {
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	StopSeqs    []string        `json:"stop_sequences,omitempty"`
	Tools       []claudeTool    `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string               `json:"id"`
	Model      string               `json:"model"`
	StopReason string               `json:"stop_reason"`
	Content    []claudeContentBlock `json:"content"`
	Usage      claudeUsage          `json:"usage"`
}

type claudeErrorResp struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func toClaudeMessages(msgs []llm.Message) (system string, out []claudeMessage) {
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "assistant"
		}

		var blocks []claudeContentBlock
		if m.Role == llm.RoleTool {
			blocks = append(blocks, claudeContentBlock{
				Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content,
			})
			role = "user"
		} else {
			if m.Content != "" {
				blocks = append(blocks, claudeContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, claudeContentBlock{
					Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments,
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		out = append(out, claudeMessage{Role: role, Content: blocks})
	}
	return system, out
}

func toClaudeTools(tools []llm.ToolSchema) []claudeTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]claudeTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, claudeTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func chooseClaudeModel(req *llm.ChatRequest, defaultModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return "claude-opus-4-6" // 2026 flagship
}

func (p *ClaudeProvider) buildRequest(req *llm.ChatRequest, stream bool) claudeRequest {
	system, messages := toClaudeMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return claudeRequest{
		Model:       chooseClaudeModel(req, p.cfg.Model),
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
		Tools:       toClaudeTools(req.Tools),
		Stream:      stream,
	}
}

func mapClaudeError(status int, msg string, provider string) *llm.Error {
	return providers.MapHTTPError(status, msg, provider)
}

func readClaudeErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var e claudeErrorResp
	if err := json.Unmarshal(data, &e); err == nil && e.Error.Message != "" {
		return fmt.Sprintf("%s: %s", e.Error.Type, e.Error.Message)
	}
	return string(data)
}

func (p *ClaudeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	apiKey := p.resolveAPIKey(ctx)
	body := p.buildRequest(req, false)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(payload))
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
		msg := readClaudeErrMsg(resp.Body)
		return nil, mapClaudeError(resp.StatusCode, msg, p.Name())
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	for _, block := range cr.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	return &llm.ChatResponse{
		ID:       cr.ID,
		Provider: p.Name(),
		Model:    cr.Model,
		Choices:  []llm.ChatChoice{{Index: 0, FinishReason: cr.StopReason, Message: msg}},
		Usage: llm.ChatUsage{
			PromptTokens:     cr.Usage.InputTokens,
			CompletionTokens: cr.Usage.OutputTokens,
			TotalTokens:      cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
	}, nil
}

// claudeSSEEvent is the envelope Anthropic wraps every server-sent event in.
type claudeSSEEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string          `json:"type"`
		Text        string          `json:"text,omitempty"`
		PartialJSON string          `json:"partial_json,omitempty"`
		StopReason  string          `json:"stop_reason,omitempty"`
	} `json:"delta"`
	ContentBlock *claudeContentBlock `json:"content_block,omitempty"`
	Message      *claudeResponse     `json:"message,omitempty"`
	Usage        *claudeUsage        `json:"usage,omitempty"`
}

func (p *ClaudeProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	apiKey := p.resolveAPIKey(ctx)
	body := p.buildRequest(req, true)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(payload))
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
		msg := readClaudeErrMsg(resp.Body)
		return nil, mapClaudeError(resp.StatusCode, msg, p.Name())
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		reader := bufio.NewReader(resp.Body)
		model := body.Model
		toolName := ""
		toolID := ""

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					ch <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var evt claudeSSEEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}

			switch evt.Type {
			case "message_start":
				if evt.Message != nil {
					model = evt.Message.Model
				}
			case "content_block_start":
				if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
					toolName = evt.ContentBlock.Name
					toolID = evt.ContentBlock.ID
				}
			case "content_block_delta":
				chunk := llm.StreamChunk{Provider: p.Name(), Model: model, Index: evt.Index, Delta: llm.Message{Role: llm.RoleAssistant}}
				switch evt.Delta.Type {
				case "text_delta":
					chunk.Delta.Content = evt.Delta.Text
				case "input_json_delta":
					chunk.Delta.ToolCalls = []llm.ToolCall{{ID: toolID, Name: toolName, Arguments: json.RawMessage(evt.Delta.PartialJSON)}}
				default:
					continue
				}
				ch <- chunk
			case "message_delta":
				if evt.Usage != nil {
					ch <- llm.StreamChunk{
						Provider: p.Name(), Model: model,
						FinishReason: evt.Delta.StopReason,
						Usage: &llm.ChatUsage{
							CompletionTokens: evt.Usage.OutputTokens,
							TotalTokens:      evt.Usage.OutputTokens,
						},
					}
				}
			case "message_stop":
				return
			}
		}
	}()

	return ch, nil
}
