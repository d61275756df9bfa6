package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseTitles validates a classifier reply. The reply must be a JSON array
// whose every element is a string; markdown code fences are tolerated.
func ParseTitles(responseText string) ([]string, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var raw any
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		return nil, fmt.Errorf("parsing classifier response: %w (response: %s)", err, truncate(responseText))
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("classifier response is not a JSON array (response: %s)", truncate(responseText))
	}
	titles := make([]string, 0, len(items))
	for i, item := range items {
		title, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("classifier response element %d is %s, want string", i, jsonKind(item))
		}
		titles = append(titles, title)
	}
	return titles, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func truncate(s string) string {
	if len(s) <= 512 {
		return s
	}
	return s[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
}
