package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/finance-doc-processor/internal/retry"
)

// DefaultGeminiModel is used when no Gemini model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

const transcriptionPrompt = "Transcribe the attached financial document to plain text.\n" +
	"- Keep every transaction line, one per line, with its date, description and amount.\n" +
	"- Keep column order as printed.\n" +
	"- Do not summarize, translate or add commentary.\n" +
	"Return only the transcribed text."

// contentGenerator is the part of the genai client used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini provider. With an empty APIKey the
// client falls back to the environment (GOOGLE_API_KEY or Vertex AI
// project settings).
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiProvider calls Gemini through the genai SDK. It also transcribes
// PDFs and images to text.
type GeminiProvider struct {
	base
	models contentGenerator
}

// NewGeminiProvider creates a genai client and wraps it.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, policy retry.Policy, log zerolog.Logger) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiProvider: create genai client: %w", err)
	}
	return newGeminiProvider(client.Models, cfg.Model, policy, log), nil
}

func newGeminiProvider(models contentGenerator, model string, policy retry.Policy, log zerolog.Logger) *GeminiProvider {
	if model == "" {
		model = DefaultGeminiModel
	}
	p := &GeminiProvider{models: models}
	p.base = base{
		name:  "Gemini",
		model: model,
		costs: map[string]float64{
			"gemini-2.5-pro":   0.0035,
			"gemini-2.5-flash": 0.0006,
			"gemini-2.0-flash": 0.0002,
			"gemini-1.5-pro":   0.007,
			"gemini-1.5-flash": 0.0035,
			"gemini-1.0-pro":   0.005,
		},
		defaultCost: 0.007,
		style:       geminiStyle,
		policy:      policy,
		log:         log,
		complete:    p.complete,
	}
	return p
}

func (p *GeminiProvider) complete(ctx context.Context, system, prompt string) (completion, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	out, err := p.generate(ctx, contents, system)
	if err != nil {
		return completion{}, err
	}
	if strings.TrimSpace(out.Text) == "" {
		return completion{}, fmt.Errorf("gemini: empty response from model")
	}
	return out, nil
}

func (p *GeminiProvider) generate(ctx context.Context, contents []*genai.Content, system string) (completion, error) {
	temperature := float32(0)
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := p.models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return completion{}, fmt.Errorf("gemini: generate content: %w", err)
	}

	text := resp.Text()
	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return completion{Text: text, Tokens: tokens}, nil
}

// Transcribe returns the text content of a PDF or image. A document with
// no readable text yields an empty string.
func (p *GeminiProvider) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: transcriptionPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     data,
					},
				},
			},
		},
	}

	var out completion
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.generate(ctx, contents, "")
		return err
	})
	if err != nil {
		return "", fmt.Errorf("GeminiProvider.Transcribe: %w", err)
	}
	return out.Text, nil
}

var _ Provider = (*GeminiProvider)(nil)
