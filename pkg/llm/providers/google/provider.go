// Package google provides the Google Gemini provider implementation
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/gliderlab/coagent/pkg/llm"
)

// Provider implements llm.Provider for Google Gemini via the genai SDK
type Provider struct {
	config llm.Config
	client *genai.Client
}

// New creates a new Google provider
func New(ctx context.Context, cfg llm.Config) (*Provider, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Provider{config: cfg, client: client}, nil
}

// NewFromEnv creates a new Google provider from environment variables
func NewFromEnv(ctx context.Context) (*Provider, error) {
	key := os.Getenv("GOOGLE_API_KEY")
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	return New(ctx, llm.Config{
		Type:   llm.ProviderGoogle,
		APIKey: key,
		Model:  os.Getenv("GOOGLE_MODEL"),
	})
}

// Name returns the provider name
func (p *Provider) Name() string { return "google" }

// Type returns the provider type
func (p *Provider) Type() llm.ProviderType { return llm.ProviderGoogle }

// GetConfig returns the provider config
func (p *Provider) GetConfig() llm.Config { return p.config }

// Chat implements llm.Provider.Chat
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	contents, system := convertMessages(req.Messages)

	genCfg := &genai.GenerateContentConfig{}
	if system != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.Temperature > 0 {
		genCfg.Temperature = genai.Ptr[float32](float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  convertToSchema(t.Function.Parameters),
			}
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from API")
	}

	return convertResponse(model, resp), nil
}

// Embeddings is not wired for Google; embeddings go through the OpenAI path
func (p *Provider) Embeddings(ctx context.Context, req *llm.EmbedRequest) (*llm.EmbedResponse, error) {
	return nil, llm.ErrCapabilityNotSupported
}

// convertMessages maps chat messages onto genai contents. System messages
// are pulled out for SystemInstruction; tool results become function
// responses attached to a user turn.
func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system string

	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "assistant":
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				if tc.Function == nil {
					continue
				}
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]interface{}{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case "tool":
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     m.Name,
						Response: map[string]interface{}{"output": m.Content},
					},
				}},
			})
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, system
}

func convertResponse(model string, resp *genai.GenerateContentResponse) *llm.ChatResponse {
	msg := llm.Message{Role: "assistant"}
	finish := "stop"

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			msg.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:   part.FunctionCall.ID,
				Type: "function",
				Function: &llm.ToolFunction{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
	}
	if len(msg.ToolCalls) > 0 {
		finish = "tool_calls"
	}

	out := &llm.ChatResponse{
		Model:   model,
		Choices: []llm.Choice{{Message: msg, FinishReason: finish}},
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out
}

// convertToSchema converts tool parameters to *genai.Schema
func convertToSchema(params interface{}) *genai.Schema {
	if params == nil {
		return nil
	}
	if m, ok := params.(map[string]interface{}); ok {
		return mapToSchema(m)
	}
	if s, ok := params.(string); ok {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return mapToSchema(m)
		}
	}
	return nil
}

func mapToSchema(m map[string]interface{}) *genai.Schema {
	if m == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		schema.Type = genai.Type(t)
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for k, v := range props {
			if propMap, ok := v.(map[string]interface{}); ok {
				schema.Properties[k] = mapToSchema(propMap)
			}
		}
	}
	switch required := m["required"].(type) {
	case []string:
		schema.Required = append(schema.Required, required...)
	case []interface{}:
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	return schema
}
