package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/retry"
)

const (
	claudeDefaultURL   = "https://api.anthropic.com/v1/messages"
	claudeDefaultModel = "claude-3-opus-20240229"
	claudeAPIVersion   = "2023-06-01"
)

// ClaudeConfig configures the Anthropic messages API.
type ClaudeConfig struct {
	APIKey  string
	Model   string
	BaseURL string

	HTTPClient *http.Client
}

// ClaudeProvider calls the Anthropic messages API.
type ClaudeProvider struct {
	base
	cfg ClaudeConfig
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeProvider creates a Claude provider.
func NewClaudeProvider(cfg ClaudeConfig, policy retry.Policy, log zerolog.Logger) *ClaudeProvider {
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = claudeDefaultURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}

	p := &ClaudeProvider{cfg: cfg}
	p.base = base{
		name:  "Claude",
		model: cfg.Model,
		costs: map[string]float64{
			"claude-3-opus-20240229":   0.015,
			"claude-3-sonnet-20240229": 0.003,
			"claude-3-haiku-20240307":  0.00025,
		},
		defaultCost: 0.015,
		style:       claudeStyle,
		policy:      policy,
		log:         log,
		complete:    p.complete,
	}
	return p
}

func (p *ClaudeProvider) complete(ctx context.Context, system, prompt string) (completion, error) {
	if p.cfg.APIKey == "" {
		return completion{}, retry.Permanent(fmt.Errorf("claude: API key not set"))
	}

	body, err := json.Marshal(claudeRequest{
		Model:     p.cfg.Model,
		MaxTokens: defaultMaxTokens,
		System:    system,
		Messages:  []claudeMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return completion{}, retry.Permanent(fmt.Errorf("claude: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return completion{}, retry.Permanent(fmt.Errorf("claude: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", claudeAPIVersion)

	respBody, err := doHTTP(p.cfg.HTTPClient, req, "claude")
	if err != nil {
		return completion{}, err
	}

	var payload claudeResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return completion{}, fmt.Errorf("claude: decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range payload.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return completion{}, fmt.Errorf("claude: empty response")
	}
	return completion{
		Text:   text.String(),
		Tokens: payload.Usage.InputTokens + payload.Usage.OutputTokens,
	}, nil
}

var _ Provider = (*ClaudeProvider)(nil)
