package cohere

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

func TestNewProvider_Defaults(t *testing.T) {
	p := New(providers.CohereConfig{}, nil)
	assert.Equal(t, "cohere", p.Name())
	assert.True(t, p.SupportsNativeFunctionCalling())
	assert.Equal(t, "https://api.cohere.com", p.cfg.BaseURL)
}

func TestToCohereMessages_MapsRolesToCohereConvention(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleTool, Content: "result"},
	}
	out := toCohereMessages(msgs)
	require.Len(t, out, 4)
	assert.Equal(t, "SYSTEM", out[0].Role)
	assert.Equal(t, "USER", out[1].Role)
	assert.Equal(t, "CHATBOT", out[2].Role)
	assert.Equal(t, "TOOL", out[3].Role)
}

func TestToCohereMessages_CarriesToolCalls(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{Name: "search", Arguments: json.RawMessage(`{}`)}}},
	}
	out := toCohereMessages(msgs)
	require.Len(t, out, 1)
	require.Len(t, out[0].ToolCalls, 1)
	assert.Equal(t, "search", out[0].ToolCalls[0].Name)
}

func TestChooseCohereModel(t *testing.T) {
	assert.Equal(t, "explicit", chooseCohereModel(&llm.ChatRequest{Model: "explicit"}, "default"))
	assert.Equal(t, "default", chooseCohereModel(&llm.ChatRequest{}, "default"))
	assert.Equal(t, "command-a-2026", chooseCohereModel(&llm.ChatRequest{}, ""))
}

func TestToCohereTools_EmptyIsNil(t *testing.T) {
	assert.Nil(t, toCohereTools(nil))
}

func TestProvider_Completion_ParsesBilledUnits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/chat", r.URL.Path)
		var cr cohereResponse
		cr.ID = "chat_1"
		cr.FinishReason = "COMPLETE"
		cr.Message = cohereMessage{Role: "CHATBOT", Content: "hi there"}
		cr.Usage.BilledUnits.InputTokens = 7
		cr.Usage.BilledUnits.OutputTokens = 3
		_ = json.NewEncoder(w).Encode(cr)
	}))
	defer server.Close()

	cfg := providers.CohereConfig{}
	cfg.BaseURL = server.URL
	cfg.APIKey = "test-key"
	p := New(cfg, zap.NewNop())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "chat_1", resp.ID)
	assert.Equal(t, 7, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}
