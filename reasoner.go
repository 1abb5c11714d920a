package engram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Reasoner turns an extraction prompt into model output. The extractor only
// needs this one call, so test doubles are trivial.
type Reasoner interface {
	Reason(ctx context.Context, prompt string) (string, error)
}

type OpenAICompatOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// OpenAICompatClient speaks the /v1/chat/completions subset shared by
// OpenAI-compatible providers.
type OpenAICompatClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAICompatClient(opts OpenAICompatOptions) *OpenAICompatClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	c := opts.HTTPClient
	if c == nil {
		c = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAICompatClient{
		baseURL:    base,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: c,
	}
}

const defaultExtractionModel = "gpt-4o-mini"

// applyDefaultModel fills the model for clients built without one; an
// explicit Model option always wins.
func (c *OpenAICompatClient) applyDefaultModel(model string) {
	if c.model != "" {
		return
	}
	if model == "" {
		model = defaultExtractionModel
	}
	c.model = model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// OpenAI-compatible (subset) response
type chatCompletionsResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAICompatClient) Reason(ctx context.Context, prompt string) (string, error) {
	model := c.model
	if model == "" {
		model = defaultExtractionModel
	}
	req := chatCompletionsRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai_compat http %d: %s", resp.StatusCode, string(b))
	}

	var out chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai_compat: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}
