// Package llm is the language-model capability port. The engine never sees
// raw model text; higher layers parse the completion into typed results.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plouffe/rdv/internal/config"
	"github.com/plouffe/rdv/internal/core"
)

const (
	defaultMaxTokens = 1024
	apiVersion       = "2023-06-01"
)

// Model is the capability contract consumed by the classifier and composer.
type Model interface {
	Infer(ctx context.Context, system, prompt string) (string, error)
}

// Client calls a messages-style completion API over HTTP.
type Client struct {
	apiURL    string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

func NewClient(cfg config.ModelConfig) *Client {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		apiURL:    cfg.APIURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Name,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiResponse struct {
	Content []apiContentBlock `json:"content"`
	Error   *apiError         `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Infer sends one completion request and returns the concatenated text
// blocks. All failures are wrapped in *core.ModelError so callers can fall
// back without inspecting transport details.
func (c *Client) Infer(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []apiMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", &core.ModelError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", &core.ModelError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &core.ModelError{Err: fmt.Errorf("call model: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &core.ModelError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &core.ModelError{Err: fmt.Errorf("model returned %d: %s", resp.StatusCode, truncate(data))}
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &core.ModelError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &core.ModelError{Err: fmt.Errorf("model error %s: %s", parsed.Error.Type, parsed.Error.Message)}
	}

	var out bytes.Buffer
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", &core.ModelError{Err: fmt.Errorf("empty completion")}
	}
	return out.String(), nil
}

func truncate(data []byte) string {
	const max = 300
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
