package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shenbaosift/internal/config"
	"shenbaosift/internal/domain"

	"github.com/rs/zerolog/log"
)

// Classifier returns the subset of titles that belong to the target genres.
// Order of the result is irrelevant.
type Classifier interface {
	Classify(ctx context.Context, titles []string) ([]string, error)
}

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// completeFunc sends one system+user prompt pair and returns the raw reply.
type completeFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)

// Client is a Classifier backed by a generative-language provider. Every
// failure, transport or response shape, comes back as a
// *domain.ClassificationError. Nothing is retried.
type Client struct {
	provider     string
	model        string
	systemPrompt string
	complete     completeFunc

	mu    sync.Mutex
	usage Usage
	calls int
}

// New builds the classifier selected by cfg.LLMProvider.
func New(ctx context.Context, cfg Config) (Classifier, error) {
	if cfg.LLMProvider == config.ProviderKeyword {
		return KeywordClassifier{}, nil
	}

	systemPrompt, err := loadSystemPrompt(cfg.LLMPromptPath)
	if err != nil {
		return nil, err
	}
	model := cfg.LLMModel
	if model == "" {
		model = config.DefaultModel(cfg.LLMProvider)
	}

	var complete completeFunc
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		complete, err = newGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL, model)
	case config.ProviderAnthropic:
		complete = newAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, model)
		systemPrompt += jsonOnlySuffix
	case config.ProviderOpenAI:
		complete, err = newOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model)
		systemPrompt += openAIJSONSuffix
	default:
		return nil, fmt.Errorf("unsupported llm_provider %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, err
	}
	return newClient(cfg.LLMProvider, model, systemPrompt, complete), nil
}

func newClient(provider, model, systemPrompt string, complete completeFunc) *Client {
	return &Client{
		provider:     provider,
		model:        model,
		systemPrompt: systemPrompt,
		complete:     complete,
	}
}

func (c *Client) Provider() string { return c.provider }
func (c *Client) Model() string    { return c.model }

// Usage returns token usage accumulated over every call made by c.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *Client) Classify(ctx context.Context, titles []string) ([]string, error) {
	userPrompt, err := buildUserPrompt(titles)
	if err != nil {
		return nil, domain.NewClassificationError(c.provider, err)
	}

	start := time.Now()
	responseText, usage, err := c.complete(ctx, c.systemPrompt, userPrompt)
	c.mu.Lock()
	c.usage.Add(usage)
	c.calls++
	call := c.calls
	c.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("provider", c.provider).Str("model", c.model).Int("titles", len(titles)).Msg("llm classify failed")
		return nil, domain.NewClassificationError(c.provider, err)
	}

	matched, err := ParseTitles(responseText)
	if err != nil {
		log.Error().Err(err).Str("provider", c.provider).Str("model", c.model).Msg("llm response rejected")
		return nil, domain.NewClassificationError(c.provider, err)
	}

	log.Info().
		Str("provider", c.provider).
		Str("model", c.model).
		Int("call", call).
		Int("titles", len(titles)).
		Int("matched", len(matched)).
		Int64("tokens_in", usage.InputTokens).
		Int64("tokens_out", usage.OutputTokens).
		Dur("elapsed", time.Since(start)).
		Msg("llm classify")
	return matched, nil
}
