package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"
)

type GeminiCompleter struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiCompleter(ctx context.Context, cfg config.LLMConfig) (*GeminiCompleter, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: gemini requires an api key", models.ErrConfiguration)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %w", models.ErrConfiguration, err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	if cfg.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(cfg.SystemPrompt)}}
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

func (g *GeminiCompleter) Name() string { return "gemini" }

func (g *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("no response generated")
	}

	var content strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				content.WriteString(string(text))
			}
		}
	}
	return content.String(), nil
}

func (g *GeminiCompleter) Close() error {
	return g.client.Close()
}
