package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the OpenRouter API endpoint. Any OpenAI-compatible
// chat/completions endpoint works.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey  string
	Model   string // e.g. "nvidia/nemotron-3-nano-30b-a3b:free"
	BaseURL string
	HTTP    *http.Client
}

// OpenRouterClient implements Extractor against the OpenRouter chat API.
// It also serves as the answer builder's completion collaborator.
type OpenRouterClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// NewOpenRouterClient creates a client. An empty APIKey or Model produces a
// client whose calls fail with ErrUnavailable.
func NewOpenRouterClient(config OpenRouterConfig) *OpenRouterClient {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := config.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenRouterClient{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: baseURL,
		http:    httpClient,
	}
}

// Model returns the configured model identifier, recorded on extraction runs.
func (c *OpenRouterClient) Model() string {
	return c.model
}

// IsConfigured reports whether the client has credentials and a model.
func (c *OpenRouterClient) IsConfigured() bool {
	return c.apiKey != "" && c.model != ""
}

// openRouterRequest is the chat/completions request body.
type openRouterRequest struct {
	Model          string          `json:"model"`
	Messages       []openRouterMsg `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// openRouterResponse is the chat/completions response body.
type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Extract asks the model for candidate atomic facts from one source version.
// No fallback: unavailability is a hard failure so degraded extractions can
// never silently erase prior knowledge downstream.
func (c *OpenRouterClient) Extract(ctx context.Context, req Request) (*Result, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("extractor: no API key or model configured: %w", ErrUnavailable)
	}

	raw, err := c.complete(ctx, systemPrompt, BuildUserPrompt(req), 0.3, true)
	if err != nil {
		return nil, err
	}

	result, err := ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("extractor: parse failed: %w", err)
	}

	return result, nil
}

// Complete performs a generic non-streaming completion. Used by the answer
// builder for cited answers and context briefs.
func (c *OpenRouterClient) Complete(ctx context.Context, system, user string) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("extractor: no API key or model configured: %w", ErrUnavailable)
	}
	return c.complete(ctx, system, user, 0.7, false)
}

func (c *OpenRouterClient) complete(ctx context.Context, system, user string, temperature float64, jsonMode bool) (string, error) {
	body := openRouterRequest{
		Model: c.model,
		Messages: []openRouterMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   4096,
		Stream:      false,
	}
	if jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("extractor: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("extractor: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", "mnemos")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("extractor: API request failed: %w: %w", err, ErrUnavailable)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("extractor: failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extractor: HTTP %d: %s", httpResp.StatusCode, truncateForError(respBody))
	}

	var resp openRouterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("extractor: failed to parse response: %w", err)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("extractor: API error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("extractor: empty response from model")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("extractor: empty content in response")
	}

	return content, nil
}

func truncateForError(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// Compile-time interface check
var _ Extractor = (*OpenRouterClient)(nil)
