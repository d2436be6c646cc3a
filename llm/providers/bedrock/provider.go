// Package bedrock adapts AWS Bedrock Runtime (InvokeModel /
// InvokeModelWithResponseStream) to the llm.Provider interface. Unlike the
// OpenAI-compatible adapters this one is SDK-based: Bedrock has no HTTP
// chat-completions surface of its own, only a signed runtime API per model
// family. This adapter targets Anthropic-on-Bedrock request/response bodies,
// the most common Bedrock deployment for chat workloads.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/providers"
	"go.uber.org/zap"
)

// Provider implements llm.Provider against AWS Bedrock Runtime.
type Provider struct {
	cfg    providers.BedrockConfig
	client *bedrockruntime.Client
	logger *zap.Logger
}

// New creates a new Bedrock provider. It builds its own AWS SDK config
// rather than accepting a pre-built one, since provider construction here
// happens alongside every other llm.Provider in config-driven registration.
func New(ctx context.Context, cfg providers.BedrockConfig, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.APIKey != "" {
		// Static secret access key packed as "accessKeyID:secretAccessKey".
		parts := strings.SplitN(cfg.APIKey, ":", 2)
		if len(parts) == 2 {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(parts[0], parts[1], ""),
			))
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Provider{
		cfg:    cfg,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (p *Provider) Name() string { return "bedrock" }

func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

// Embeddings is unimplemented: this adapter targets Anthropic-on-Bedrock
// chat invocation bodies only (see package doc); Titan/Cohere embedding
// models on Bedrock use a distinct InvokeModel request schema this
// adapter does not build.
func (p *Provider) Embeddings(ctx context.Context, req *llm.EmbeddingsRequest) (*llm.EmbeddingsResponse, error) {
	return nil, &llm.Error{
		Code:       llm.ErrModelNotFound,
		Message:    "bedrock adapter does not support embedding models",
		HTTPStatus: http.StatusNotImplemented,
		Provider:   p.Name(),
	}
}

func (p *Provider) modelID(req *llm.ChatRequest) string {
	if p.cfg.ModelARN != "" {
		return p.cfg.ModelARN
	}
	if req != nil && req.Model != "" {
		return req.Model
	}
	if p.cfg.Model != "" {
		return p.cfg.Model
	}
	return "anthropic.claude-opus-4-6-v1:0"
}

// --- Anthropic-on-Bedrock body shapes ---

type bedrockContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float32          `json:"temperature,omitempty"`
	TopP             float32          `json:"top_p,omitempty"`
	StopSequences    []string         `json:"stop_sequences,omitempty"`
}

type bedrockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type bedrockResponse struct {
	ID         string                `json:"id"`
	StopReason string                `json:"stop_reason"`
	Content    []bedrockContentBlock `json:"content"`
	Usage      bedrockUsage          `json:"usage"`
}

func buildBedrockBody(req *llm.ChatRequest) bedrockRequest {
	var system string
	var messages []bedrockMessage
	for _, m := range req.Messages {
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
		var blocks []bedrockContentBlock
		if m.Content != "" {
			blocks = append(blocks, bedrockContentBlock{Type: "text", Text: m.Content})
		}
		if len(blocks) == 0 {
			continue
		}
		messages = append(messages, bedrockMessage{Role: role, Content: blocks})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		System:           system,
		Messages:         messages,
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		StopSequences:    req.Stop,
	}
}

func mapBedrockError(err error, provider string) *llm.Error {
	msg := err.Error()
	retryable := strings.Contains(msg, "ThrottlingException") || strings.Contains(msg, "ServiceUnavailableException")
	code := llm.ErrUpstreamError
	switch {
	case strings.Contains(msg, "AccessDeniedException"):
		code = llm.ErrForbidden
	case strings.Contains(msg, "ThrottlingException"):
		code = llm.ErrRateLimited
		retryable = true
	case strings.Contains(msg, "ValidationException"):
		code = llm.ErrInvalidRequest
	case strings.Contains(msg, "ModelTimeoutException"):
		code = llm.ErrUpstreamTimeout
		retryable = true
	}
	return &llm.Error{Code: code, Message: msg, Retryable: retryable, Provider: provider}
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body := buildBedrockBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	model := p.modelID(req)
	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, mapBedrockError(err, p.Name())
	}

	var br bedrockResponse
	if err := json.Unmarshal(out.Body, &br); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name()}
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	for _, block := range br.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	return &llm.ChatResponse{
		ID:       br.ID,
		Provider: p.Name(),
		Model:    model,
		Choices:  []llm.ChatChoice{{Index: 0, FinishReason: br.StopReason, Message: msg}},
		Usage: llm.ChatUsage{
			PromptTokens:     br.Usage.InputTokens,
			CompletionTokens: br.Usage.OutputTokens,
			TotalTokens:      br.Usage.InputTokens + br.Usage.OutputTokens,
		},
	}, nil
}

// bedrockStreamEvent mirrors the Anthropic-on-Bedrock chunk envelope
// delivered inside each EventStream PayloadPart.
type bedrockStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	ContentBlock *bedrockContentBlock `json:"content_block,omitempty"`
	Usage        *bedrockUsage        `json:"usage,omitempty"`
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	body := buildBedrockBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	model := p.modelID(req)
	out, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, mapBedrockError(err, p.Name())
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()

		toolName, toolID := "", ""
		for event := range stream.Events() {
			chunkEvt, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var evt bedrockStreamEvent
			if err := json.Unmarshal(chunkEvt.Value.Bytes, &evt); err != nil {
				continue
			}
			switch evt.Type {
			case "content_block_start":
				if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
					toolName, toolID = evt.ContentBlock.Name, evt.ContentBlock.ID
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
					ch <- llm.StreamChunk{Provider: p.Name(), Model: model, FinishReason: evt.Delta.StopReason, Usage: &llm.ChatUsage{CompletionTokens: evt.Usage.OutputTokens, TotalTokens: evt.Usage.OutputTokens}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- llm.StreamChunk{Err: mapBedrockError(err, p.Name())}
		}
	}()

	return ch, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req := &llm.ChatRequest{
		Model:     p.modelID(nil),
		Messages:  []llm.Message{llm.NewUserMessage("ping")},
		MaxTokens: 1,
	}
	_, err := p.Completion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels is unsupported: Bedrock's model catalog lives in the separate
// "bedrock" (not "bedrock-runtime") control-plane API, out of scope for a
// runtime adapter whose job is invocation, not discovery.
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return nil, nil
}
