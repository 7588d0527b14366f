// Package openai is a client for OpenAI-compatible chat completion APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"gptterm/internal/llm"
	"gptterm/internal/logging"
)

const providerName = "openai"

// maxErrorBody caps how much of an error page ends up in a message.
const maxErrorBody = 300

// Client is a minimal HTTP wrapper around the chat completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

// NewClient wires together the dependencies for API access.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger,
	}
}

// Chat executes a single completion request.
func (c *Client) Chat(ctx context.Context, reqPayload llm.ChatRequest) (llm.ChatResponse, error) {
	var respPayload llm.ChatResponse

	if strings.TrimSpace(c.apiKey) == "" {
		return respPayload, llm.NewProviderError(providerName, llm.ErrorTypeAuth, "no_key", "no API key configured (set GPTTERM_API_KEY or OPENAI_API_KEY)")
	}

	payload, err := json.Marshal(reqPayload)
	if err != nil {
		return respPayload, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return respPayload, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Printf("sending %d messages to model %s", len(reqPayload.Messages), reqPayload.Model)
	logging.DevLog("openai: sending request to %s with %d messages", reqPayload.Model, len(reqPayload.Messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return respPayload, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return respPayload, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		code, msg := errorDetails(resp.Header.Get("Content-Type"), body)
		logging.ErrorLog("openai API error: %d - %s", resp.StatusCode, msg)
		return respPayload, llm.ClassifyStatus(providerName, resp.StatusCode, code, msg, resp.Header.Get("Retry-After"))
	}

	if err := json.Unmarshal(body, &respPayload); err != nil {
		logging.ErrorLog("openai response parse error: %v", err)
		return respPayload, fmt.Errorf("parse response: %w", err)
	}
	if len(respPayload.Choices) == 0 {
		return respPayload, llm.ErrEmptyResponse
	}
	logging.DevLog("openai: received response with %d choices", len(respPayload.Choices))
	return respPayload, nil
}

type apiError struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// errorDetails pulls a code and a readable message out of an error body.
// Gateways in front of the API often answer with an HTML page.
func errorDetails(contentType string, body []byte) (string, string) {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		code := strings.Trim(string(ae.Error.Code), `"`)
		if code == "null" {
			code = ""
		}
		if code == "" && ae.Error.Type == "insufficient_quota" {
			code = ae.Error.Type
		}
		return code, ae.Error.Message
	}
	if strings.Contains(contentType, "html") || bytes.HasPrefix(bytes.TrimSpace(body), []byte("<")) {
		if msg, err := htmlText(body); err == nil && msg != "" {
			return "", msg
		}
	}
	return "", truncate(strings.TrimSpace(string(body)))
}

func htmlText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	heading := strings.TrimSpace(doc.Find("h1").First().Text())
	switch {
	case title != "" && heading != "" && heading != title:
		return truncate(title + ": " + heading), nil
	case title != "":
		return truncate(title), nil
	case heading != "":
		return truncate(heading), nil
	}
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if text == "" {
		return "", errors.New("empty html body")
	}
	return truncate(text), nil
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
