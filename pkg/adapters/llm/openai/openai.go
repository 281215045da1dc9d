package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
)

const (
	defaultModel = "gpt-5-nano"
)

type clientWrapper struct {
	client oa.Client
	model  string
}

var _ llm.LLM = (*clientWrapper)(nil)

func (c *clientWrapper) Name() string { return "openai" }

func (c *clientWrapper) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := oa.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: ConvertMessages(req.System, req.Messages),
		Tools:    ConvertTools(req.Tools),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oa.Int(int64(req.MaxTokens))
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openai: no choices in response: %w", llm.ErrPermanent)
	}
	choice := resp.Choices[0]
	out := llm.Response{
		Text:         choice.Message.Content,
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
		Model:        model,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if !json.Valid(args) {
			return llm.Response{}, fmt.Errorf("openai: tool call %s has malformed arguments (finish_reason %s): %w", tc.Function.Name, choice.FinishReason, llm.ErrPermanent)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = llm.StopToolUse
	case choice.FinishReason == "length":
		out.StopReason = llm.StopMaxTokens
	case choice.FinishReason == "stop" || choice.FinishReason == "":
		out.StopReason = llm.StopEndTurn
	default:
		out.StopReason = llm.StopOther
	}
	return out, nil
}

// ConvertMessages maps the transcript to chat completion messages, with the
// system instruction first.
func ConvertMessages(system string, messages []llm.Message) []oa.ChatCompletionMessageParamUnion {
	mm := make([]oa.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		mm = append(mm, oa.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				mm = append(mm, oa.AssistantMessage(m.Content))
				continue
			}
			asst := oa.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = oa.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, oa.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &oa.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: oa.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					},
				})
			}
			mm = append(mm, oa.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case llm.RoleTool:
			mm = append(mm, oa.ToolMessage(m.Content, m.ToolCallID))
		case "system":
			mm = append(mm, oa.SystemMessage(m.Content))
		default:
			mm = append(mm, oa.UserMessage(m.Content))
		}
	}
	return mm
}

// ConvertTools maps tool specs to function tools.
func ConvertTools(specs []llm.ToolSpec) []oa.ChatCompletionToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]oa.ChatCompletionToolUnionParam, 0, len(specs))
	for _, t := range specs {
		var params map[string]any
		_ = json.Unmarshal(t.Parameters, &params)
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, oa.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: oa.String(t.Description),
			Parameters:  shared.FunctionParameters(params),
		}))
	}
	return out
}

// Factory registers the OpenAI LLM provider: cfg keys: api_key, model, base_url.
func Factory(ctx context.Context, cfg map[string]any) (llm.LLM, error) { // nolint: revive
	_ = ctx
	apiKey := os.Getenv("OPENAI_API_KEY")
	if v := llm.ConfigString(cfg, "api_key"); v != "" {
		apiKey = v
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing API key; set OPENAI_API_KEY or cfg.api_key")
	}
	model := defaultModel
	if v := llm.ConfigString(cfg, "model"); v != "" {
		model = v
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if v := llm.ConfigString(cfg, "base_url"); v != "" {
		opts = append(opts, option.WithBaseURL(v))
	}
	// Retries are handled by llm.Retrying.
	opts = append(opts, option.WithMaxRetries(0))

	c := oa.NewClient(opts...)
	return &clientWrapper{client: c, model: model}, nil
}

func init() {
	_ = llm.Register("openai", Factory)
}
