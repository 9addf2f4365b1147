package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIConfig configures the OpenAI-compatible embeddings client.
type OpenAIConfig struct {
	APIKey  string
	Model   string // e.g. "text-embedding-3-small"
	BaseURL string // e.g. "https://api.openai.com/v1"
	HTTP    *http.Client
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. Vectors are
// truncated or zero-padded to Dim so the storage width never varies with the
// upstream model.
type OpenAIEmbedder struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

func NewOpenAIEmbedder(config OpenAIConfig) *OpenAIEmbedder {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	httpClient := config.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIEmbedder{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: baseURL,
		http:    httpClient,
	}
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" || e.model == "" {
		return nil, fmt.Errorf("embed: no API key or model configured")
	}

	reqBody, err := json.Marshal(embeddingsRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embed: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	httpResp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed: API request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed: failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: HTTP %d", httpResp.StatusCode)
	}

	var resp embeddingsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("embed: failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embed: API error: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}

	return fitDim(resp.Data[0].Embedding), nil
}

// fitDim truncates or zero-pads a vector to Dim.
func fitDim(vec []float32) []float32 {
	if len(vec) == Dim {
		return vec
	}
	out := make([]float32, Dim)
	copy(out, vec)
	return out
}

var _ Embedder = (*OpenAIEmbedder)(nil)
