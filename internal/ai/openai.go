package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/retry"
)

const (
	openAIDefaultURL   = "https://api.openai.com/v1/chat/completions"
	openAIDefaultModel = "gpt-4o"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string

	HTTPClient *http.Client
}

// OpenAIProvider calls an OpenAI-compatible chat completion API.
type OpenAIProvider struct {
	base
	cfg OpenAIConfig
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig, policy retry.Policy, log zerolog.Logger) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIDefaultURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}

	p := &OpenAIProvider{cfg: cfg}
	p.base = base{
		name:  "OpenAI",
		model: cfg.Model,
		costs: map[string]float64{
			"gpt-4o":        0.01,
			"gpt-4":         0.03,
			"gpt-3.5-turbo": 0.0015,
		},
		defaultCost: 0.01,
		style:       openAIStyle,
		policy:      policy,
		log:         log,
		complete:    p.complete,
	}
	return p
}

func (p *OpenAIProvider) complete(ctx context.Context, system, prompt string) (completion, error) {
	if p.cfg.APIKey == "" {
		return completion{}, retry.Permanent(fmt.Errorf("openai: API key not set"))
	}

	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return completion{}, retry.Permanent(fmt.Errorf("openai: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return completion{}, retry.Permanent(fmt.Errorf("openai: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	respBody, err := doHTTP(p.cfg.HTTPClient, req, "openai")
	if err != nil {
		return completion{}, err
	}

	var payload chatResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return completion{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if payload.Error != nil {
		return completion{}, fmt.Errorf("openai: %s", payload.Error.Message)
	}
	if len(payload.Choices) == 0 {
		return completion{}, fmt.Errorf("openai: empty response")
	}
	return completion{Text: payload.Choices[0].Message.Content, Tokens: payload.Usage.TotalTokens}, nil
}

// doHTTP sends req and returns the body of a 2xx response. Rate limits and
// server errors are retryable; other statuses are permanent.
func doHTTP(client *http.Client, req *http.Request, name string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: HTTP request failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response body: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := fmt.Errorf("%s: API error (%d): %s", name, resp.StatusCode, apiErrorMessage(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return nil, retry.Permanent(apiErr)
	}
	return body, nil
}

func apiErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}

var _ Provider = (*OpenAIProvider)(nil)
