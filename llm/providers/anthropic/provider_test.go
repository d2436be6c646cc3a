package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/providers"
)

func TestNewClaudeProvider_Defaults(t *testing.T) {
	p := NewClaudeProvider(providers.ClaudeConfig{}, nil)
	assert.Equal(t, "claude", p.Name())
	assert.True(t, p.SupportsNativeFunctionCalling())
	assert.Equal(t, "https://api.anthropic.com", p.cfg.BaseURL)
	assert.Equal(t, "2023-06-01", p.cfg.AnthropicVersion)
	assert.NotNil(t, p.logger)
}

func TestClaudeProvider_BuildHeaders(t *testing.T) {
	p := NewClaudeProvider(providers.ClaudeConfig{}, zap.NewNop())
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	p.buildHeaders(req, "sk-test")

	assert.Equal(t, "sk-test", req.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestClaudeProvider_BuildHeadersBearerAuth(t *testing.T) {
	cfg := providers.ClaudeConfig{}
	cfg.AuthType = "bearer"
	p := NewClaudeProvider(cfg, zap.NewNop())
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	p.buildHeaders(req, "sk-test")

	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("x-api-key"))
}

func TestToClaudeMessages_SplitsSystemFromTurns(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "be terse"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}

	system, out := toClaudeMessages(msgs)
	assert.Equal(t, "be terse", system)
	require.Len(t, out, 2)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "assistant", out[1].Role)
}

func TestToClaudeMessages_MultipleSystemMessagesJoinWithNewline(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "first"},
		{Role: llm.RoleSystem, Content: "second"},
	}
	system, out := toClaudeMessages(msgs)
	assert.Equal(t, "first\nsecond", system)
	assert.Empty(t, out)
}

func TestToClaudeMessages_ToolResultBecomesUserTurn(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleTool, ToolCallID: "call-1", Content: "42"},
	}
	_, out := toClaudeMessages(msgs)
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)
	require.Len(t, out[0].Content, 1)
	assert.Equal(t, "tool_result", out[0].Content[0].Type)
	assert.Equal(t, "call-1", out[0].Content[0].ToolUseID)
}

func TestToClaudeMessages_AssistantToolCallBecomesToolUseBlock(t *testing.T) {
	msgs := []llm.Message{
		{
			Role:    llm.RoleAssistant,
			Content: "let me check",
			ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)},
			},
		},
	}
	_, out := toClaudeMessages(msgs)
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 2)
	assert.Equal(t, "text", out[0].Content[0].Type)
	assert.Equal(t, "tool_use", out[0].Content[1].Type)
	assert.Equal(t, "lookup", out[0].Content[1].Name)
}

func TestToClaudeMessages_EmptyTurnIsDropped(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleAssistant, Content: ""},
		{Role: llm.RoleUser, Content: "hi"},
	}
	_, out := toClaudeMessages(msgs)
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)
}

func TestChooseClaudeModel(t *testing.T) {
	assert.Equal(t, "explicit", chooseClaudeModel(&llm.ChatRequest{Model: "explicit"}, "default"))
	assert.Equal(t, "default", chooseClaudeModel(&llm.ChatRequest{}, "default"))
	assert.Equal(t, "claude-opus-4-6", chooseClaudeModel(&llm.ChatRequest{}, ""))
}

func TestToClaudeTools_EmptyIsNil(t *testing.T) {
	assert.Nil(t, toClaudeTools(nil))
}

func TestToClaudeTools_MapsNameDescriptionSchema(t *testing.T) {
	tools := toClaudeTools([]llm.ToolSchema{
		{Name: "search", Description: "web search", Parameters: json.RawMessage(`{"type":"object"}`)},
	})
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, "web search", tools[0].Description)
}

func TestClaudeProvider_Completion_ParsesTextAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		_ = json.NewEncoder(w).Encode(claudeResponse{
			ID:         "msg_1",
			Model:      "claude-opus-4-6",
			StopReason: "end_turn",
			Content:    []claudeContentBlock{{Type: "text", Text: "hello there"}},
			Usage:      claudeUsage{InputTokens: 12, OutputTokens: 4},
		})
	}))
	defer server.Close()

	cfg := providers.ClaudeConfig{}
	cfg.BaseURL = server.URL
	cfg.APIKey = "test-key"
	p := NewClaudeProvider(cfg, zap.NewNop())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello there", resp.Choices[0].Message.Content)
	assert.Equal(t, "end_turn", resp.Choices[0].FinishReason)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 4, resp.Usage.CompletionTokens)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
}

func TestClaudeProvider_Completion_MapsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(claudeErrorResp{Error: struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{Type: "rate_limit_error", Message: "slow down"}})
	}))
	defer server.Close()

	cfg := providers.ClaudeConfig{}
	cfg.BaseURL = server.URL
	cfg.APIKey = "test-key"
	p := NewClaudeProvider(cfg, zap.NewNop())

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.True(t, lerr.Retryable, "a 429 from Anthropic must be classified as retryable")
}
