package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// titlesResponseFormat is strict structured output. OpenAI requires an object
// at the root, so the array travels inside a "titles" field.
var titlesResponseFormat = &openai.ResponseFormat{
	Type: "json_schema",
	JSONSchema: &openai.ResponseFormatJSONSchema{
		Name:   "matching_titles",
		Strict: true,
		Schema: &openai.ResponseFormatJSONSchemaProperty{
			Type: "object",
			Properties: map[string]*openai.ResponseFormatJSONSchemaProperty{
				"titles": {
					Type:  "array",
					Items: &openai.ResponseFormatJSONSchemaProperty{Type: "string"},
				},
			},
			AdditionalProperties: false,
			Required:             []string{"titles"},
		},
	},
}

func newOpenAICompleter(apiKey, baseURL, model string) (completeFunc, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithModel(model),
		openai.WithHTTPClient(externalHTTPClient),
		openai.WithResponseFormat(titlesResponseFormat),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
		resp, err := llm.GenerateContent(ctx, []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
		}, llms.WithTemperature(0))
		if err != nil {
			return "", Usage{}, fmt.Errorf("OpenAI API error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", Usage{}, fmt.Errorf("no choices in OpenAI response")
		}
		choice := resp.Choices[0]
		usage := Usage{
			InputTokens:  generationInfoInt(choice.GenerationInfo, "PromptTokens"),
			OutputTokens: generationInfoInt(choice.GenerationInfo, "CompletionTokens"),
		}
		titles, err := unwrapTitles(choice.Content)
		if err != nil {
			return "", usage, err
		}
		return titles, usage, nil
	}, nil
}

// unwrapTitles returns the raw "titles" value of a structured reply so it goes
// through the same array check as every other provider.
func unwrapTitles(content string) (string, error) {
	var envelope struct {
		Titles json.RawMessage `json:"titles"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &envelope); err != nil {
		return "", fmt.Errorf("parsing OpenAI structured reply: %w", err)
	}
	if envelope.Titles == nil {
		return "", fmt.Errorf("OpenAI reply has no titles field")
	}
	return string(envelope.Titles), nil
}

func generationInfoInt(info map[string]any, key string) int64 {
	switch v := info[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
