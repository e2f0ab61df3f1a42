package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"
)

// Completer produces an answer for a fully rendered prompt.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

var thinkRe = regexp.MustCompile(models.ThinkTag)

// StripThinking removes <think> blocks some local models emit before the answer.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

// New returns the completer selected by cfg.Backend. The context is only
// used while constructing clients that dial at creation.
func New(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	switch cfg.Backend {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: ollama client: %w", models.ErrConfiguration, err)
		}
		return NewLangchainCompleter("ollama", llm, cfg), nil
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: openai client: %w", models.ErrConfiguration, err)
		}
		return NewLangchainCompleter("openai", llm, cfg), nil
	case "gemini":
		return NewGeminiCompleter(ctx, cfg)
	case "echo":
		return EchoCompleter{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm backend %q", models.ErrConfiguration, cfg.Backend)
	}
}

// LangchainCompleter wraps any langchaingo model.
type LangchainCompleter struct {
	name         string
	llm          llms.Model
	systemPrompt string
	temperature  float64
}

func NewLangchainCompleter(name string, llm llms.Model, cfg config.LLMConfig) *LangchainCompleter {
	return &LangchainCompleter{
		name:         name,
		llm:          llm,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
	}
}

func (c *LangchainCompleter) Name() string { return c.name }

func (c *LangchainCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var messages []llms.MessageContent
	if c.systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, c.systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	res, err := GenerateContent(ctx, c.llm, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", err
	}
	return res.Choices[0].Content, nil
}

// GenerateContent calls llm and fails when it returns no choices.
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	log.Debug().Int("messages", len(messages)).Msg("Generating content")
	res, err := llm.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Choices) == 0 {
		return nil, errors.New("llm returned no choices")
	}
	return res, nil
}
