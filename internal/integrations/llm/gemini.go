package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// titlesSchema constrains Gemini to reply with an array of strings.
var titlesSchema = &genai.Schema{
	Type:  genai.TypeArray,
	Items: &genai.Schema{Type: genai.TypeString},
}

func newGeminiCompleter(ctx context.Context, apiKey, baseURL, model string) (completeFunc, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  externalHTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
		resp, err := client.Models.GenerateContent(ctx, model, genai.Text(userPrompt), &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    titlesSchema,
		})
		if err != nil {
			return "", Usage{}, fmt.Errorf("Gemini API error: %w", err)
		}

		var usage Usage
		if resp.UsageMetadata != nil {
			usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
			usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
			usage.CacheReadInputTokens = int64(resp.UsageMetadata.CachedContentTokenCount)
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", usage, fmt.Errorf("no text content in Gemini response")
		}
		return text, usage, nil
	}, nil
}
