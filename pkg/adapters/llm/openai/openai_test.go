package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
)

func fakeAPI(t *testing.T, reply string, seen *map[string]any) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(b, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

func TestGenerate_ToolCalls(t *testing.T) {
	var seen map[string]any
	base := fakeAPI(t, `{
		"id":"x","object":"chat.completion","created":1,"model":"gpt-5-nano",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"getCustomer","arguments":"{\"id\":\"123\"}"}}]}}],
		"usage":{"prompt_tokens":20,"completion_tokens":5,"total_tokens":25}
	}`, &seen)

	m, err := Factory(t.Context(), map[string]any{"api_key": "k", "base_url": base})
	require.NoError(t, err)
	resp, err := m.Generate(t.Context(), llm.Request{
		System:   "system text",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Execute the workflow using the available tools."}},
		Tools:    []llm.ToolSpec{{Name: "getCustomer", Description: "Fetch", Parameters: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}}}`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "getCustomer", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"id":"123"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, 25, resp.TotalTokens)

	assert.Equal(t, "gpt-5-nano", seen["model"])
	msgs, _ := seen["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	toolsSent, _ := seen["tools"].([]any)
	require.Len(t, toolsSent, 1)
	fn := toolsSent[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "getCustomer", fn["name"])
}

func TestGenerate_FinalText(t *testing.T) {
	base := fakeAPI(t, `{
		"id":"x","object":"chat.completion","created":1,"model":"m",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"All done."}}]
	}`, nil)
	m, err := Factory(t.Context(), map[string]any{"api_key": "k", "base_url": base, "model": "m"})
	require.NoError(t, err)
	resp, err := m.Generate(t.Context(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "All done.", resp.Text)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, llm.StopEndTurn, resp.StopReason)
}

func TestGenerate_MalformedArgumentsArePermanent(t *testing.T) {
	base := fakeAPI(t, `{
		"id":"x","object":"chat.completion","created":1,"model":"m",
		"choices":[{"index":0,"finish_reason":"length","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"getCustomer","arguments":"{\"id\":"}}]}}]
	}`, nil)
	m, err := Factory(t.Context(), map[string]any{"api_key": "k", "base_url": base})
	require.NoError(t, err)
	_, err = m.Generate(t.Context(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrPermanent)
	assert.Contains(t, err.Error(), "getCustomer")
}

func TestConvertMessages_ToolRoundTrip(t *testing.T) {
	mm := ConvertMessages("", []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "getCustomer", Arguments: json.RawMessage(`{"id":"1"}`)}}},
		{Role: llm.RoleTool, ToolCallID: "c1", Content: "Status: 200"},
	})
	require.Len(t, mm, 2)
	require.NotNil(t, mm[0].OfAssistant)
	require.Len(t, mm[0].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "c1", mm[0].OfAssistant.ToolCalls[0].OfFunction.ID)
	require.NotNil(t, mm[1].OfTool)
	assert.Equal(t, "c1", mm[1].OfTool.ToolCallID)
}

func TestFactory_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Factory(t.Context(), nil)
	assert.Error(t, err)
}
