package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	genai "google.golang.org/genai"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
)

const (
	defaultModel     = "gemini-2.5-flash-lite"
	defaultMaxTokens = 8192
)

type clientWrapper struct {
	client *genai.Client
	model  string
}

var _ llm.LLM = (*clientWrapper)(nil)

func (c *clientWrapper) Name() string { return "gemini" }

func (c *clientWrapper) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	res, err := c.client.Models.GenerateContent(ctx, model, ConvertMessages(req.Messages), BuildConfig(req))
	if err != nil {
		return llm.Response{}, err
	}
	out, err := ConvertResponse(res)
	if err != nil {
		return llm.Response{}, err
	}
	out.Model = model
	return out, nil
}

// BuildConfig maps a request to the generation config.
func BuildConfig(req llm.Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           ConvertTools(req.Tools),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	return config
}

// ConvertMessages maps the transcript to genai contents. Tool results become
// function responses keyed "output", or "error" when the call failed.
func ConvertMessages(msgs []llm.Message) []*genai.Content {
	var result []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			result = append(result, &genai.Content{Role: "model", Parts: parts})
		case llm.RoleTool:
			key := "output"
			if m.IsError {
				key = "error"
			}
			result = append(result, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.ToolName,
						Response: map[string]any{key: m.Content},
					},
				}},
			})
		default:
			result = append(result, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return result
}

// ConvertTools maps tool specs to a single genai tool of function declarations.
func ConvertTools(specs []llm.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(specs))
	for i, t := range specs {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// ConvertResponse extracts text, function calls and usage. Calls without an
// ID get a generated one.
func ConvertResponse(res *genai.GenerateContentResponse) (llm.Response, error) {
	if res == nil || len(res.Candidates) == 0 {
		return llm.Response{}, fmt.Errorf("gemini: empty response: %w", llm.ErrPermanent)
	}
	var out llm.Response
	cand := res.Candidates[0]
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				args, err := json.Marshal(p.FunctionCall.Args)
				if err != nil {
					return llm.Response{}, fmt.Errorf("gemini: encode args: %w", err)
				}
				id := p.FunctionCall.ID
				if id == "" {
					id = uuid.NewString()
				}
				out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: id, Name: p.FunctionCall.Name, Arguments: args})
			case p.Text != "" && !p.Thought:
				out.Text += p.Text
			}
		}
	}
	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = llm.StopToolUse
	case cand.FinishReason == genai.FinishReasonMaxTokens:
		out.StopReason = llm.StopMaxTokens
	case cand.FinishReason == genai.FinishReasonStop || cand.FinishReason == "":
		out.StopReason = llm.StopEndTurn
	default:
		out.StopReason = llm.StopOther
	}
	if u := res.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	return out, nil
}

// Factory creates a Gemini LLM client using GOOGLE_API_KEY by default.
// cfg keys: api_key, model, base_url.
func Factory(ctx context.Context, cfg map[string]any) (llm.LLM, error) { // nolint: revive
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if v := llm.ConfigString(cfg, "api_key"); v != "" {
		apiKey = v
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key; set GOOGLE_API_KEY or cfg.api_key")
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if v := llm.ConfigString(cfg, "base_url"); v != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: v}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	model := defaultModel
	if v := llm.ConfigString(cfg, "model"); v != "" {
		model = v
	}
	return &clientWrapper{client: client, model: model}, nil
}

func init() {
	_ = llm.Register("gemini", Factory)
}
