// Package llm provides the LLM provider abstraction layer
package llm

import (
	"context"
	"fmt"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderGoogle ProviderType = "google"
)

// Message represents a chat message
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a function tool call requested by the model
type ToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *ToolFunction `json:"function"`
}

// ToolFunction carries a function name plus parameters. In a tool
// definition Parameters is a JSON schema; in a tool call Arguments is
// the model-produced JSON argument string.
type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
	Arguments   string      `json:"arguments,omitempty"`
}

// Tool represents a function tool definition
type Tool struct {
	Type     string        `json:"type"`
	Function *ToolFunction `json:"function,omitempty"`
}

// ChatRequest represents a chat completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EmbedRequest represents an embedding request
type EmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbedResponse represents an embedding response
type EmbedResponse struct {
	Data []Embedding `json:"data"`
}

type Embedding struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// Provider is the interface all LLM providers implement
type Provider interface {
	Name() string
	Type() ProviderType
	GetConfig() Config
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Embeddings - return nil, ErrCapabilityNotSupported if not supported
	Embeddings(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)
}

// ErrCapabilityNotSupported is returned when a capability is not supported
var ErrCapabilityNotSupported = fmt.Errorf("capability not supported")

// Config holds provider configuration
type Config struct {
	Type    ProviderType `json:"type"`
	APIKey  string       `json:"apiKey,omitempty"`
	BaseURL string       `json:"baseUrl,omitempty"`
	Model   string       `json:"model,omitempty"`
	Timeout int          `json:"timeout,omitempty"`
}
