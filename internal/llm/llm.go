// Package llm defines the provider-agnostic chat completion types.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Roles understood by chat completion APIs.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-agnostic message payload for chat completions.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatChoice captures one response alternative from a completion API.
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage contains token consumption metrics from the LLM API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the shared representation of provider responses.
type ChatResponse struct {
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("no choices returned")

// Text returns the first choice's content.
func (r ChatResponse) Text() (string, error) {
	if len(r.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(r.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Client represents an LLM provider capable of servicing chat completions.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
