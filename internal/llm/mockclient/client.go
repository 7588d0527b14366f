package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gptterm/internal/llm"
)

// Client is a deterministic llm.Client used for tests and offline runs.
type Client struct {
	prefix string

	mu       sync.Mutex
	replies  []string
	requests []llm.ChatRequest
}

// New returns a mock client that echoes the last user message.
func New() *Client {
	return &Client{prefix: "MOCK"}
}

// Script queues canned replies returned before falling back to echo.
func (c *Client) Script(replies ...string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, replies...)
	return c
}

// Requests returns every request seen so far.
func (c *Client) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.ChatRequest(nil), c.requests...)
}

// Chat satisfies the llm.Client interface.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	var scripted string
	if len(c.replies) > 0 {
		scripted = c.replies[0]
		c.replies = c.replies[1:]
	}
	c.mu.Unlock()

	response := llm.Message{Role: llm.RoleAssistant, Content: scripted}
	if scripted == "" {
		response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
		if n := len(req.Messages); n > 0 {
			if last := strings.TrimSpace(req.Messages[n-1].Content); last != "" {
				response.Content = fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
			}
		}
	}

	return llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				Message:      response,
				FinishReason: "stop",
			},
		},
		Usage: &llm.Usage{
			PromptTokens:     42,
			CompletionTokens: 7,
			TotalTokens:      49,
		},
	}, nil
}
